/*
Package notify dispatches customer alerts after committed movements.

PURPOSE:
  Engines call Dispatch once their atomic scope has committed. Dispatch
  returns immediately; delivery happens on its own goroutine and can never
  turn a successful financial operation into a failure. Errors and panics
  are logged and swallowed.

FLOW:
  Dispatch(userID, template, vars)
    └─▶ goroutine: Directory.GetCustomer ─▶ Sender.Send (bounded by timeout)

SENDERS:
  AMQPSender: publishes to a RabbitMQ topic exchange (amqp.go)
  LogSender:  logs the message; used when no broker is configured
*/
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/savings-ledger/ledger"
)

type Template string

const (
	TemplateDepositAlert      Template = "deposit_alert"
	TemplateWithdrawalAlert   Template = "withdrawal_alert"
	TemplatePackageWelcome    Template = "package_welcome"
	TemplateContributionAlert Template = "contribution_alert"
	TemplatePackageWithdrawal Template = "package_withdrawal"
)

// Message is the payload handed to a Sender.
type Message struct {
	UserID    ledger.UserID     `json:"user_id"`
	Phone     string            `json:"phone"`
	Email     string            `json:"email,omitempty"`
	Template  Template          `json:"template"`
	Vars      map[string]string `json:"vars"`
	Timestamp time.Time         `json:"timestamp"`
}

// Sender delivers a resolved message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Directory resolves a user's contact details.
type Directory interface {
	GetCustomer(ctx context.Context, id ledger.UserID) (*ledger.Customer, error)
}

// Notifier is the hook the engines depend on.
type Notifier interface {
	Dispatch(userID ledger.UserID, template Template, vars map[string]string)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Dispatch(ledger.UserID, Template, map[string]string) {}

// Dispatcher is the default Notifier.
type Dispatcher struct {
	dir     Directory
	sender  Sender
	timeout time.Duration
	log     *zap.Logger
	now     func() time.Time
	wg      sync.WaitGroup
}

var _ Notifier = (*Dispatcher)(nil)

func NewDispatcher(dir Directory, sender Sender, timeout time.Duration, log *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		dir:     dir,
		sender:  sender,
		timeout: timeout,
		log:     log.Named("notify"),
		now:     time.Now,
	}
}

// Dispatch schedules delivery and returns without waiting for it.
func (d *Dispatcher) Dispatch(userID ledger.UserID, template Template, vars map[string]string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.log.Error("notification panicked",
					zap.String("user_id", string(userID)),
					zap.String("template", string(template)),
					zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.deliver(ctx, userID, template, vars); err != nil {
			d.log.Warn("notification not delivered",
				zap.String("user_id", string(userID)),
				zap.String("template", string(template)),
				zap.Error(err))
		}
	}()
}

func (d *Dispatcher) deliver(ctx context.Context, userID ledger.UserID, template Template, vars map[string]string) error {
	customer, err := d.dir.GetCustomer(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolve contact: %w", err)
	}
	if customer.Phone == "" {
		return fmt.Errorf("customer %s has no phone number", userID)
	}

	return d.sender.Send(ctx, Message{
		UserID:    userID,
		Phone:     customer.Phone,
		Email:     customer.Email,
		Template:  template,
		Vars:      vars,
		Timestamp: d.now().UTC(),
	})
}

// Wait blocks until every dispatched notification has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// LogSender writes messages to the log instead of a broker.
type LogSender struct {
	Log *zap.Logger
}

func (s LogSender) Send(_ context.Context, msg Message) error {
	s.Log.Info("notification",
		zap.String("user_id", string(msg.UserID)),
		zap.String("phone", msg.Phone),
		zap.String("template", string(msg.Template)),
		zap.Any("vars", msg.Vars))
	return nil
}
