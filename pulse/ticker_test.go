package pulse

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/pulsed/logger"
)

// fakeExecutor returns canned results and records the pulses it ran
type fakeExecutor struct {
	mu      sync.Mutex
	results []ExecutionResult
	ran     []int64
	delay   time.Duration
}

func (f *fakeExecutor) Run(ctx context.Context, p *Pulse) ExecutionResult {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, p.ID)
	if len(f.results) == 0 {
		return ExecutionResult{Success: true, DurationMs: 1}
	}
	r := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return r
}

func (f *fakeExecutor) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ran)
}

// fakeAlerter records alert invocations
type fakeAlerter struct {
	mu    sync.Mutex
	calls []struct {
		Message  string
		DedupKey string
	}
}

func (f *fakeAlerter) Alert(ctx context.Context, message, dedupKey string, cooldown time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, struct {
		Message  string
		DedupKey string
	}{message, dedupKey})
	return nil
}

func (f *fakeAlerter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testTickerConfig() TickerConfig {
	return TickerConfig{Interval: 10 * time.Millisecond, AlertCooldown: time.Hour}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestTickerExecutesDuePulse(t *testing.T) {
	store := newTestStore(t)
	exec := &fakeExecutor{}
	ticker := NewTicker(store, exec, nil, testTickerConfig(), logger.NewTestLogger())

	id := mustEnqueue(t, store, EnqueueRequest{Prompt: "check mail", Priority: PriorityHigh})

	require.NoError(t, ticker.Start())
	defer ticker.Stop()

	waitFor(t, 2*time.Second, func() bool {
		p, err := store.Get(id)
		return err == nil && p.Status == StatusCompleted
	})

	p, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, p.Status)
	require.NotNil(t, p.ExecutedAt)
	assert.Equal(t, 1, exec.runCount())
}

func TestTickerSerialExecution(t *testing.T) {
	store := newTestStore(t)
	// Slow executor: the second pulse must wait for the first
	exec := &fakeExecutor{delay: 50 * time.Millisecond}
	ticker := NewTicker(store, exec, nil, testTickerConfig(), logger.NewTestLogger())

	mustEnqueue(t, store, EnqueueRequest{Prompt: "one"})
	mustEnqueue(t, store, EnqueueRequest{Prompt: "two"})

	require.NoError(t, ticker.Start())
	defer ticker.Stop()

	waitFor(t, 2*time.Second, func() bool { return exec.runCount() == 2 })

	// At no point did both run together: a claim while one is running
	// returns nothing, so both completed strictly in sequence
	stats, err := store.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Completed)
}

func TestTickerRoutesFailureThroughRetryPolicy(t *testing.T) {
	store := newTestStore(t)
	exec := &fakeExecutor{results: []ExecutionResult{{Success: false, Error: "exit status 1", DurationMs: 2}}}
	ticker := NewTicker(store, exec, nil, testTickerConfig(), logger.NewTestLogger())

	id := mustEnqueue(t, store, EnqueueRequest{Prompt: "p", MaxRetries: 2})

	require.NoError(t, ticker.Start())
	defer ticker.Stop()

	waitFor(t, 2*time.Second, func() bool {
		p, err := store.Get(id)
		return err == nil && p.Status == StatusPending && p.RetryCount == 1
	})

	p, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "exit status 1", p.ErrorMessage)
	// Rescheduled into the future; not claimable again yet
	assert.True(t, p.ScheduledAt.After(time.Now()))
}

func TestTickerTerminalFailureFiresAlert(t *testing.T) {
	store := newTestStore(t)
	exec := &fakeExecutor{results: []ExecutionResult{{Success: false, Error: "broken"}}}
	alerter := &fakeAlerter{}
	ticker := NewTicker(store, exec, alerter, testTickerConfig(), logger.NewTestLogger())

	id := mustEnqueue(t, store, EnqueueRequest{Prompt: "p", MaxRetries: 0, CreatedBy: SourceHeartbeat})

	require.NoError(t, ticker.Start())
	defer ticker.Stop()

	waitFor(t, 2*time.Second, func() bool {
		p, err := store.Get(id)
		return err == nil && p.Status == StatusFailed
	})
	waitFor(t, 2*time.Second, func() bool { return alerter.callCount() == 1 })

	alerter.mu.Lock()
	defer alerter.mu.Unlock()
	assert.Equal(t, "pulse-failed:"+SourceHeartbeat, alerter.calls[0].DedupKey)
	assert.Contains(t, alerter.calls[0].Message, "broken")
}

func TestTickerStopLetsInFlightExecutionFinish(t *testing.T) {
	store := newTestStore(t)
	exec := &fakeExecutor{delay: 200 * time.Millisecond}
	ticker := NewTicker(store, exec, nil, testTickerConfig(), logger.NewTestLogger())

	id := mustEnqueue(t, store, EnqueueRequest{Prompt: "p", MaxRetries: 3})

	require.NoError(t, ticker.Start())

	waitFor(t, 2*time.Second, func() bool {
		p, err := store.Get(id)
		return err == nil && p.Status == StatusRunning
	})

	// Stopping mid-flight must not kill the execution: the pulse finishes
	// and its result is recorded, costing it no retry
	ticker.Stop()

	p, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, p.Status)
	assert.Equal(t, 0, p.RetryCount)
	assert.Empty(t, p.ErrorMessage)
}

func TestTickerStartReconcilesOrphans(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	// A pulse left running by a prior process lifetime
	id := mustEnqueue(t, store, EnqueueRequest{Prompt: "p", ScheduledAt: now.Add(-time.Minute)})
	_, err := store.ClaimNext(now)
	require.NoError(t, err)

	exec := &fakeExecutor{}
	ticker := NewTicker(store, exec, nil, testTickerConfig(), logger.NewTestLogger())
	require.NoError(t, ticker.Start())
	defer ticker.Stop()

	// Reconciled to pending and then re-executed normally
	waitFor(t, 2*time.Second, func() bool {
		p, err := store.Get(id)
		return err == nil && p.Status == StatusCompleted
	})
}

func TestTickerSurvivesStoreErrors(t *testing.T) {
	store, database := newTestStoreWithDB(t)
	exec := &fakeExecutor{}
	ticker := NewTicker(store, exec, nil, testTickerConfig(), logger.NewTestLogger())

	require.NoError(t, ticker.Start())
	defer ticker.Stop()

	// Break the store mid-flight; ticks must keep coming
	_, err := database.Exec("DROP TABLE pulses")
	require.NoError(t, err)

	before := ticker.GetStats()["ticks_since_start"].(int64)
	waitFor(t, 2*time.Second, func() bool {
		return ticker.GetStats()["ticks_since_start"].(int64) > before+3
	})
}

func TestTickerHealthy(t *testing.T) {
	store := newTestStore(t)
	ticker := NewTicker(store, &fakeExecutor{}, nil, testTickerConfig(), logger.NewTestLogger())

	assert.False(t, ticker.Healthy(time.Now()), "not healthy before start")

	require.NoError(t, ticker.Start())
	defer ticker.Stop()

	waitFor(t, 2*time.Second, func() bool {
		return ticker.GetStats()["ticks_since_start"].(int64) > 0
	})
	assert.True(t, ticker.Healthy(time.Now()))
	assert.False(t, ticker.Healthy(time.Now().Add(time.Minute)), "stale ticks are unhealthy")
}
