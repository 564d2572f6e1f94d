package pulse

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ExecutionResult is what an Executor reports back for one attempt.
// Executors never fail across their boundary: spawn errors, non-zero exits
// and timeouts all come back as Success=false with Error set.
type ExecutionResult struct {
	Success    bool
	Output     string
	DurationMs int64
	Error      string
}

// Executor runs one pulse's instruction against the agent process
type Executor interface {
	Run(ctx context.Context, p *Pulse) ExecutionResult
}

// Alerter is the collaborator hook invoked on terminal failures. Repeated
// identical alerts are suppressed within the cooldown window keyed by
// dedupKey; the cooldown state lives outside the pulse store.
type Alerter interface {
	Alert(ctx context.Context, message, dedupKey string, cooldown time.Duration) error
}

// TickerConfig contains configuration for the pulse ticker
type TickerConfig struct {
	Interval      time.Duration // How often to check for due pulses (default: 1 second)
	AlertCooldown time.Duration // Dedup window for terminal-failure alerts
}

// DefaultTickerConfig returns sensible defaults
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{
		Interval:      1 * time.Second,
		AlertCooldown: time.Hour,
	}
}

// Ticker is the cooperative scheduler loop. Each tick it claims at most one
// due pulse and hands it to the executor; execution concurrency is capped
// at 1 because the underlying agent session cannot be shared. The loop
// itself never terminates from a single pulse's failure.
type Ticker struct {
	store    *Store
	executor Executor
	alerter  Alerter // optional
	interval time.Duration
	cooldown time.Duration

	ctx    context.Context // cancelled by Stop; governs the loop only
	// execCtx governs in-flight executions. Deliberately not cancelled by
	// Stop: an execution ends only via the executor's own timeout, so a
	// clean restart never costs a pulse a retry.
	execCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *zap.SugaredLogger

	mu              sync.Mutex
	inFlight        bool
	lastTickAt      time.Time
	ticksSinceStart int64
	started         bool
}

// NewTicker creates a pulse ticker
func NewTicker(store *Store, executor Executor, alerter Alerter, cfg TickerConfig, logger *zap.SugaredLogger) *Ticker {
	return NewTickerWithContext(context.Background(), store, executor, alerter, cfg, logger)
}

// NewTickerWithContext creates a ticker with a parent context
func NewTickerWithContext(ctx context.Context, store *Store, executor Executor, alerter Alerter, cfg TickerConfig, logger *zap.SugaredLogger) *Ticker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	tickerCtx, cancel := context.WithCancel(ctx)

	return &Ticker{
		store:    store,
		executor: executor,
		alerter:  alerter,
		interval: cfg.Interval,
		cooldown: cfg.AlertCooldown,
		ctx:      tickerCtx,
		execCtx:  ctx,
		cancel:   cancel,
		logger:   logger,
	}
}

// Start reconciles orphaned pulses and begins the loop. Reconciliation runs
// exactly once, before the first tick: a pulse still marked running from a
// prior process lifetime goes back to pending with its retry_count intact.
func (t *Ticker) Start() error {
	released, err := t.store.ReleaseOrphaned()
	if err != nil {
		return err
	}
	if released > 0 {
		t.logger.Warnw("Released orphaned pulses from prior run",
			"count", released)
	}

	t.mu.Lock()
	t.started = true
	t.lastTickAt = time.Now()
	t.mu.Unlock()

	t.wg.Add(1)
	go t.run()
	t.logger.Infow("Pulse ticker started", "interval", t.interval)
	return nil
}

// Stop gracefully stops the ticker. An in-flight execution keeps running
// until its own timeout; its result is still routed before Stop returns.
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.logger.Infow("Pulse ticker stopped")
}

// run is the main ticker loop
func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case tickTime := <-ticker.C:
			t.mu.Lock()
			t.lastTickAt = tickTime
			t.ticksSinceStart++
			tick := t.ticksSinceStart
			t.mu.Unlock()

			if err := t.tick(tickTime); err != nil {
				// A bad tick never kills the loop
				t.logger.Warnw("Pulse tick error", "error", err, "tick", tick)
			}
		}
	}
}

// tick claims at most one due pulse and dispatches it. Skipped entirely
// while an execution is in flight - the claim itself is the permit.
func (t *Ticker) tick(now time.Time) error {
	t.mu.Lock()
	busy := t.inFlight
	t.mu.Unlock()
	if busy {
		return nil
	}

	p, err := t.store.ClaimNext(now)
	if err != nil {
		return err
	}
	if p == nil {
		return nil
	}

	t.logger.Infow("Pulse claimed",
		"pulse_id", p.ID,
		"priority", p.Priority.String(),
		"created_by", p.CreatedBy,
		"retry_count", p.RetryCount)

	t.mu.Lock()
	t.inFlight = true
	t.mu.Unlock()

	// Execute off the loop goroutine so tick bookkeeping continues; the
	// inFlight gate keeps executions strictly serial.
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			t.mu.Lock()
			t.inFlight = false
			t.mu.Unlock()
		}()
		t.execute(p)
	}()

	return nil
}

// execute runs one pulse and routes the result back into the store
func (t *Ticker) execute(p *Pulse) {
	result := t.executor.Run(t.execCtx, p)

	if result.Success {
		if err := t.store.Complete(p.ID, result.DurationMs); err != nil {
			t.logger.Errorw("Failed to record pulse completion",
				"pulse_id", p.ID, "error", err)
			return
		}
		t.logger.Infow("Pulse OK",
			"pulse_id", p.ID,
			"duration_ms", result.DurationMs)
		return
	}

	updated, err := t.store.FailOrRetry(p.ID, result.Error, result.DurationMs, time.Now())
	if err != nil {
		t.logger.Errorw("Failed to record pulse failure",
			"pulse_id", p.ID, "error", err)
		return
	}

	if updated.Status == StatusFailed {
		t.logger.Errorw("Pulse FAILED (retries exhausted)",
			"pulse_id", p.ID,
			"retry_count", updated.RetryCount,
			"error", result.Error)
		t.alertTerminalFailure(updated)
		return
	}

	t.logger.Warnw("Pulse failed, rescheduled",
		"pulse_id", p.ID,
		"retry_count", updated.RetryCount,
		"next_run_at", updated.ScheduledAt.Format(time.RFC3339),
		"error", result.Error)
}

// alertTerminalFailure fires the alert hook for a terminally failed pulse.
// Keyed by producer so a flapping source collapses into one alert per
// cooldown window.
func (t *Ticker) alertTerminalFailure(p *Pulse) {
	if t.alerter == nil {
		return
	}

	message := fmt.Sprintf("pulse %d failed after %d retries: %s", p.ID, p.RetryCount, p.ErrorMessage)
	dedupKey := "pulse-failed:" + p.CreatedBy

	if err := t.alerter.Alert(t.execCtx, message, dedupKey, t.cooldown); err != nil {
		t.logger.Warnw("Failed to send terminal-failure alert",
			"pulse_id", p.ID, "error", err)
	}
}

// Healthy reports whether the loop is alive: started and ticked recently.
// Used by the external health probes via the HTTP facade.
func (t *Ticker) Healthy(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return false
	}
	return now.Sub(t.lastTickAt) <= 3*t.interval
}

// GetStats returns ticker statistics
func (t *Ticker) GetStats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	return map[string]interface{}{
		"last_tick_at":      t.lastTickAt,
		"ticks_since_start": t.ticksSinceStart,
		"interval":          t.interval,
		"in_flight":         t.inFlight,
	}
}
