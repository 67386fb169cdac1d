package savings

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/savings-ledger/ledger"
)

// Policy holds the contribution cycle constants.
type Policy struct {
	// CycleSize is the number of units in one charge cycle.
	CycleSize int
	// UnitCeiling rejects single contributions of this many units or more.
	UnitCeiling int
}

func DefaultPolicy() Policy {
	return Policy{CycleSize: 31, UnitCeiling: 30}
}

// ExpectedDeductions is the number of charges owed once count units have been
// paid: one per started cycle, so the first unit of every cycle triggers it.
func (p Policy) ExpectedDeductions(count int) int {
	if count <= 0 {
		return 0
	}
	return (count + p.CycleSize - 1) / p.CycleSize
}

// Units validates amount against the package's cycle unit and returns how
// many units it buys. Runs before any write.
func (p Policy) Units(amount, unit decimal.Decimal) (int, error) {
	if err := ledger.ValidateAmount(amount); err != nil {
		return 0, err
	}
	if !unit.IsPositive() {
		return 0, fmt.Errorf("%w: package cycle unit is %s", ledger.ErrInvalidAmount, unit)
	}
	if amount.LessThan(unit) {
		return 0, fmt.Errorf("%w: %s is below the cycle unit %s", ledger.ErrInvalidAmount, amount, unit)
	}
	if !amount.Mod(unit).IsZero() {
		return 0, fmt.Errorf("%w: %s is not a multiple of %s", ledger.ErrInvalidAmount, amount, unit)
	}
	units := amount.Div(unit).IntPart()
	if units >= int64(p.UnitCeiling) {
		return 0, fmt.Errorf("%w: %d units exceeds the ceiling of %d", ledger.ErrInvalidAmount, units, p.UnitCeiling-1)
	}
	return int(units), nil
}
