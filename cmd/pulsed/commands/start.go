package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teranos/pulsed/agent"
	"github.com/teranos/pulsed/alert"
	"github.com/teranos/pulsed/am"
	"github.com/teranos/pulsed/cred"
	"github.com/teranos/pulsed/heartbeat"
	"github.com/teranos/pulsed/internal/version"
	"github.com/teranos/pulsed/logger"
	"github.com/teranos/pulsed/pulse"
	"github.com/teranos/pulsed/server"
)

// StartCmd runs the daemon in foreground
var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the pulsed daemon",
	Long: `Start the pulsed daemon in foreground mode.

The daemon will:
- Reconcile pulses orphaned by a prior crash (running -> pending)
- Tick every second, executing due pulses one at a time
- Serve the HTTP API for producers and inspectors
- Fire the heartbeat producer if enabled
- Run until interrupted (Ctrl+C) with graceful shutdown`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log := logger.Logger

	database, err := openDatabase(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	policy := pulse.Policy{
		BaseInterval: cfg.Retry.BaseInterval(),
		MaxInterval:  cfg.Retry.MaxInterval(),
	}
	store := pulse.NewStore(database, policy)
	ingestor := pulse.NewIngestor(store, cfg.Retry.DefaultMax)

	runner := agent.NewRunner(agent.Config{
		Binary:     cfg.Executor.Binary,
		Args:       cfg.Executor.Args,
		Timeout:    cfg.Executor.Timeout(),
		WorkingDir: cfg.Executor.WorkingDir,
	}, log)

	alertRegistry, err := alert.DefaultRegistry(version.Version)
	if err != nil {
		return err
	}
	notifier, err := alertRegistry.Create(cfg.Alerts.Backend, cfg.Alerts, log)
	if err != nil {
		return err
	}
	cooldown := time.Duration(cfg.Alerts.CooldownSeconds) * time.Second
	alerter := alert.NewAlerter(notifier, alert.NewCooldownStore(database), cooldown, log)

	// Credential check up front: executions will fail anyway without
	// working credentials, better to refuse to start. A failed check gets
	// one refresh attempt before the daemon gives up.
	credRegistry, err := cred.DefaultRegistry(version.Version)
	if err != nil {
		return err
	}
	provider, err := credRegistry.Create(cfg.Cred.Provider, cfg.Cred)
	if err != nil {
		return err
	}
	if err := checkCredentials(provider, alerter, log); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticker := pulse.NewTickerWithContext(ctx, store, runner, alerter, pulse.TickerConfig{
		Interval:      cfg.Ticker.Interval(),
		AlertCooldown: cooldown,
	}, log)
	if err := ticker.Start(); err != nil {
		return fmt.Errorf("failed to start ticker: %w", err)
	}

	var producer *heartbeat.Producer
	if cfg.Heartbeat.Enabled {
		producer, err = heartbeat.NewProducer(cfg.Heartbeat, ingestor, log)
		if err != nil {
			ticker.Stop()
			return err
		}
		producer.Start()
	}

	api := server.New(cfg.Server, ingestor, ticker, log)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- api.Start()
	}()

	fmt.Println("pulsed daemon started")
	fmt.Printf("  Database: %s\n", cfg.Database.Path)
	fmt.Printf("  Tick interval: %v\n", cfg.Ticker.Interval())
	fmt.Printf("  Executor: %s (timeout %v)\n", cfg.Executor.Binary, cfg.Executor.Timeout())
	fmt.Printf("  API: http://localhost:%d\n", cfg.Server.Port)
	fmt.Printf("  Alert backend: %s\n", notifier.Name())
	if cfg.Heartbeat.Enabled {
		fmt.Printf("  Heartbeat: %s\n", cfg.Heartbeat.Schedule)
	}
	fmt.Println("\nPress Ctrl+C for graceful shutdown")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		fmt.Println("\nShutting down...")
	case err := <-serverErr:
		if err != nil {
			log.Errorw("HTTP server failed", "error", err)
		}
	}

	// Stop components in reverse order of startup
	if producer != nil {
		producer.Stop()
	}
	if err := api.Shutdown(context.Background()); err != nil {
		log.Warnw("HTTP shutdown error", "error", err)
	}
	ticker.Stop()

	fmt.Println("pulsed daemon stopped")
	return nil
}

func checkCredentials(provider cred.Provider, alerter *alert.Alerter, log *zap.SugaredLogger) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	err := provider.Check(ctx)
	if err == nil {
		return nil
	}

	log.Warnw("Credential check failed, attempting refresh",
		"provider", provider.Name(), "error", err)
	if refreshErr := provider.Refresh(ctx); refreshErr != nil {
		return credFailure(ctx, alerter, provider, log,
			fmt.Sprintf("credential check failed and refresh did not recover: %v", refreshErr))
	}
	// A refresh that ran is not a refresh that worked: verify before
	// letting the daemon start
	if err := provider.Check(ctx); err != nil {
		return credFailure(ctx, alerter, provider, log,
			fmt.Sprintf("credentials still failing after refresh: %v", err))
	}
	log.Infow("Credentials recovered by refresh", "provider", provider.Name())
	return nil
}

func credFailure(ctx context.Context, alerter *alert.Alerter, provider cred.Provider, log *zap.SugaredLogger, message string) error {
	if alertErr := alerter.Alert(ctx, message, "cred-check:"+provider.Name(), 0); alertErr != nil {
		log.Warnw("Failed to send credential alert", "error", alertErr)
	}
	return fmt.Errorf("%s", message)
}
