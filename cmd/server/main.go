/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the savings ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (optional) and configuration
  2. Build the zap logger
  3. Open the store (SQLite or Postgres, by DATABASE_DRIVER)
  4. Connect the notification publisher (RabbitMQ, or log-only fallback)
  5. Build the account and savings engines
  6. Configure HTTP router and start the server

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Drain in-flight notifications
  4. Close broker and database connections

ENVIRONMENT:
  See config/config.go for every key and its default.

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration keys
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/warp/savings-ledger/account"
	"github.com/warp/savings-ledger/api"
	"github.com/warp/savings-ledger/config"
	"github.com/warp/savings-ledger/ledger"
	"github.com/warp/savings-ledger/logger"
	"github.com/warp/savings-ledger/notify"
	"github.com/warp/savings-ledger/savings"
	"github.com/warp/savings-ledger/store/postgres"
	"github.com/warp/savings-ledger/store/sqlite"
)

// backend is what both store implementations provide.
type backend interface {
	api.Store
	ledger.TxStore
	Close() error
}

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "no .env file found, using environment")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx := context.Background()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Info("store ready", zap.String("driver", cfg.DatabaseDriver))

	sender, closeSender := openSender(cfg, log)
	defer closeSender()

	dispatcher := notify.NewDispatcher(store, sender, cfg.NotificationTimeout(), log)
	journal := ledger.NewGeneralLedger()
	accounts := account.NewEngine(store, journal, dispatcher, log)
	policy := savings.Policy{CycleSize: cfg.ContributionCircle, UnitCeiling: cfg.ContributionUnitCeiling}
	sv := savings.NewEngine(store, accounts, journal, dispatcher, policy, log)

	handler := api.NewHandler(accounts, sv, store, log)
	router := api.NewRouter(handler, cfg.AllowedOrigins())

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return fmt.Errorf("listen: %w", err)
	case sig := <-quit:
		log.Info("shutting down server", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	dispatcher.Wait()
	log.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.Config) (backend, error) {
	switch cfg.DatabaseDriver {
	case config.DriverPostgres:
		return postgres.New(ctx, cfg.DatabaseURL)
	default:
		return sqlite.New(cfg.SQLitePath)
	}
}

// openSender connects to RabbitMQ when configured. Without a broker, or when
// it is unreachable at startup, notifications are only logged.
func openSender(cfg config.Config, log *zap.Logger) (notify.Sender, func()) {
	fallback := notify.LogSender{Log: log.Named("notify")}
	if cfg.RabbitMQURL == "" {
		log.Warn("RABBITMQ_URL not set, notifications will only be logged")
		return fallback, func() {}
	}
	sender, err := notify.NewAMQPSender(cfg.RabbitMQURL, cfg.NotificationExchange)
	if err != nil {
		log.Error("cannot connect to RabbitMQ, notifications will only be logged", zap.Error(err))
		return fallback, func() {}
	}
	log.Info("notification publisher ready", zap.String("exchange", cfg.NotificationExchange))
	return sender, sender.Close
}
