package pulse

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/pulsed/db"
)

func mustEnqueue(t *testing.T, s *Store, req EnqueueRequest) int64 {
	t.Helper()
	id, err := s.Enqueue(req)
	require.NoError(t, err)
	return id
}

func TestEnqueueAndGet(t *testing.T) {
	store := newTestStore(t)
	scheduledAt := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	id := mustEnqueue(t, store, EnqueueRequest{
		Prompt:      "check mail",
		ScheduledAt: scheduledAt,
		Priority:    PriorityHigh,
		MaxRetries:  2,
		CreatedBy:   SourceAPI,
		Tags:        []string{"mail", "inbox"},
		SessionID:   "sess-42",
		StickyNotes: "reply in German",
	})
	assert.Greater(t, id, int64(0))

	p, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, PriorityHigh, p.Priority)
	assert.True(t, p.ScheduledAt.Equal(scheduledAt))
	assert.Nil(t, p.ExecutedAt)
	assert.Equal(t, "check mail", p.Prompt)
	assert.Equal(t, "sess-42", p.SessionID)
	assert.Equal(t, "reply in German", p.StickyNotes)
	assert.Equal(t, []string{"mail", "inbox"}, p.Tags)
	assert.Equal(t, SourceAPI, p.CreatedBy)
	assert.Equal(t, 0, p.RetryCount)
	assert.Equal(t, 2, p.MaxRetries)
}

func TestEnqueueIDsAreMonotonic(t *testing.T) {
	store := newTestStore(t)

	var last int64
	for i := 0; i < 5; i++ {
		id := mustEnqueue(t, store, EnqueueRequest{Prompt: "p"})
		assert.Greater(t, id, last)
		last = id
	}
}

func TestEnqueueValidation(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Enqueue(EnqueueRequest{Prompt: ""})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = store.Enqueue(EnqueueRequest{Prompt: "p", MaxRetries: -1})
	assert.ErrorIs(t, err, ErrValidation)

	// Nothing was persisted
	stats, err := store.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
}

func TestGetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClaimNextOrdering(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	due := now.Add(-time.Minute)

	b := mustEnqueue(t, store, EnqueueRequest{Prompt: "B", ScheduledAt: due, Priority: PriorityNormal})
	a := mustEnqueue(t, store, EnqueueRequest{Prompt: "A", ScheduledAt: due, Priority: PriorityHigh})

	// A dispatches before B despite being enqueued later
	p, err := store.ClaimNext(now)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, a, p.ID)
	assert.Equal(t, StatusRunning, p.Status)

	// No second claim while A is running
	p2, err := store.ClaimNext(now)
	require.NoError(t, err)
	assert.Nil(t, p2)

	require.NoError(t, store.Complete(a, 10))

	p3, err := store.ClaimNext(now)
	require.NoError(t, err)
	require.NotNil(t, p3)
	assert.Equal(t, b, p3.ID)
}

func TestClaimNextFIFOAmongEqualPulses(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	due := now.Add(-time.Minute)

	first := mustEnqueue(t, store, EnqueueRequest{Prompt: "first", ScheduledAt: due})
	mustEnqueue(t, store, EnqueueRequest{Prompt: "second", ScheduledAt: due})

	p, err := store.ClaimNext(now)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, first, p.ID)
}

func TestClaimNextEarlierScheduleWins(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	mustEnqueue(t, store, EnqueueRequest{Prompt: "later", ScheduledAt: now.Add(-time.Minute)})
	earlier := mustEnqueue(t, store, EnqueueRequest{Prompt: "earlier", ScheduledAt: now.Add(-time.Hour)})

	p, err := store.ClaimNext(now)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, earlier, p.ID)
}

func TestClaimNextSkipsFuturePulses(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	mustEnqueue(t, store, EnqueueRequest{Prompt: "future", ScheduledAt: now.Add(time.Hour)})

	p, err := store.ClaimNext(now)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestAtMostOneRunning(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	due := now.Add(-time.Minute)

	for i := 0; i < 5; i++ {
		mustEnqueue(t, store, EnqueueRequest{Prompt: "p", ScheduledAt: due})
	}

	p, err := store.ClaimNext(now)
	require.NoError(t, err)
	require.NotNil(t, p)

	// Repeated claims while one is running all come back empty
	for i := 0; i < 3; i++ {
		p2, err := store.ClaimNext(now)
		require.NoError(t, err)
		assert.Nil(t, p2)
	}

	stats, err := store.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Running)
}

func TestConcurrentClaimantsGetOnePulse(t *testing.T) {
	// File-backed database: claimants contend on separate pooled
	// connections instead of serializing on a single in-memory one.
	// Losers must come back empty, not with a lock upgrade error
	path := filepath.Join(t.TempDir(), "pulses.db")
	database, err := db.Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.Migrate(database, nil))

	store := NewStore(database, testPolicy)
	now := time.Now()
	mustEnqueue(t, store, EnqueueRequest{Prompt: "p", ScheduledAt: now.Add(-time.Minute)})

	var claimed int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := store.ClaimNext(now)
			assert.NoError(t, err)
			if p != nil {
				atomic.AddInt32(&claimed, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), claimed)
}

func TestComplete(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	id := mustEnqueue(t, store, EnqueueRequest{Prompt: "p", ScheduledAt: now.Add(-time.Minute)})
	_, err := store.ClaimNext(now)
	require.NoError(t, err)

	require.NoError(t, store.Complete(id, 1234))

	p, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, p.Status)
	require.NotNil(t, p.ExecutedAt)
	require.NotNil(t, p.ExecutionDurationMs)
	assert.Equal(t, int64(1234), *p.ExecutionDurationMs)
}

func TestCompleteRequiresRunning(t *testing.T) {
	store := newTestStore(t)

	id := mustEnqueue(t, store, EnqueueRequest{Prompt: "p"})
	err := store.Complete(id, 10)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestFailOrRetryReschedules(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	id := mustEnqueue(t, store, EnqueueRequest{
		Prompt: "p", ScheduledAt: now.Add(-time.Minute), MaxRetries: 2,
	})
	_, err := store.ClaimNext(now)
	require.NoError(t, err)

	failedAt := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	p, err := store.FailOrRetry(id, "agent exited 1", 500, failedAt)
	require.NoError(t, err)

	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, 1, p.RetryCount)
	assert.Equal(t, "agent exited 1", p.ErrorMessage)
	require.NotNil(t, p.ExecutedAt)
	// First retry backs off by the base interval
	assert.True(t, p.ScheduledAt.Equal(failedAt.Add(60*time.Second)))
}

func TestFailOrRetryBackoffSequence(t *testing.T) {
	store := newTestStore(t)
	start := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	id := mustEnqueue(t, store, EnqueueRequest{
		Prompt: "p", ScheduledAt: start.Add(-time.Minute), MaxRetries: 5,
	})

	// Successive reschedule delays: 60s, 120s, 240s
	expected := []time.Duration{60 * time.Second, 120 * time.Second, 240 * time.Second}
	claimAt := start
	for attempt, delay := range expected {
		p, err := store.ClaimNext(claimAt)
		require.NoError(t, err)
		require.NotNil(t, p, "attempt %d", attempt)

		updated, err := store.FailOrRetry(id, "boom", 100, claimAt)
		require.NoError(t, err)
		assert.True(t, updated.ScheduledAt.Equal(claimAt.Add(delay)), "attempt %d", attempt)
		assert.Equal(t, attempt+1, updated.RetryCount)

		claimAt = updated.ScheduledAt
	}
}

func TestFailOrRetryExhaustsToFailed(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	id := mustEnqueue(t, store, EnqueueRequest{
		Prompt: "p", ScheduledAt: now.Add(-time.Hour), MaxRetries: 2,
	})

	// Fail 3 times: two reschedules, then terminal
	claimAt := now
	for attempt := 0; attempt < 3; attempt++ {
		p, err := store.ClaimNext(claimAt)
		require.NoError(t, err)
		require.NotNil(t, p, "attempt %d", attempt)

		updated, err := store.FailOrRetry(id, "still broken", 100, claimAt)
		require.NoError(t, err)

		// Invariant holds at every observed state
		assert.LessOrEqual(t, updated.RetryCount, updated.MaxRetries)

		if attempt < 2 {
			assert.Equal(t, StatusPending, updated.Status)
			claimAt = updated.ScheduledAt
		} else {
			assert.Equal(t, StatusFailed, updated.Status)
			assert.Equal(t, 2, updated.RetryCount)
			assert.Equal(t, "still broken", updated.ErrorMessage)
			require.NotNil(t, updated.ExecutedAt)
		}
	}

	// No further scheduling occurs
	p, err := store.ClaimNext(claimAt.Add(24 * time.Hour))
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestFailOrRetryRequiresRunning(t *testing.T) {
	store := newTestStore(t)

	id := mustEnqueue(t, store, EnqueueRequest{Prompt: "p"})
	_, err := store.FailOrRetry(id, "x", 0, time.Now())
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCancelPending(t *testing.T) {
	store := newTestStore(t)

	id := mustEnqueue(t, store, EnqueueRequest{Prompt: "p", ScheduledAt: time.Now().Add(time.Hour)})
	require.NoError(t, store.Cancel(id))

	p, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, p.Status)
}

func TestCancelRunningRejected(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	id := mustEnqueue(t, store, EnqueueRequest{Prompt: "p", ScheduledAt: now.Add(-time.Minute)})
	_, err := store.ClaimNext(now)
	require.NoError(t, err)

	err = store.Cancel(id)
	assert.ErrorIs(t, err, ErrInvalidState)

	// No state change
	p, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, p.Status)
}

func TestCancelNotFound(t *testing.T) {
	store := newTestStore(t)
	assert.ErrorIs(t, store.Cancel(404), ErrNotFound)
}

func TestTerminalStatesNeverChange(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	id := mustEnqueue(t, store, EnqueueRequest{Prompt: "p", ScheduledAt: now.Add(-time.Minute)})
	_, err := store.ClaimNext(now)
	require.NoError(t, err)
	require.NoError(t, store.Complete(id, 10))

	// Completed pulses cannot be cancelled, completed again, or failed
	assert.ErrorIs(t, store.Cancel(id), ErrInvalidState)
	assert.ErrorIs(t, store.Complete(id, 20), ErrInvalidState)
	_, err = store.FailOrRetry(id, "x", 0, now)
	assert.ErrorIs(t, err, ErrInvalidState)

	p, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, p.Status)
}

func TestQueryOverdue(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	late2 := mustEnqueue(t, store, EnqueueRequest{Prompt: "late2", ScheduledAt: now.Add(-time.Minute)})
	late1 := mustEnqueue(t, store, EnqueueRequest{Prompt: "late1", ScheduledAt: now.Add(-time.Hour)})
	mustEnqueue(t, store, EnqueueRequest{Prompt: "future", ScheduledAt: now.Add(time.Hour)})
	cancelled := mustEnqueue(t, store, EnqueueRequest{Prompt: "cancelled", ScheduledAt: now.Add(-time.Hour)})
	require.NoError(t, store.Cancel(cancelled))

	pulses, err := store.Query(FilterOverdue, 10)
	require.NoError(t, err)
	require.Len(t, pulses, 2)

	// Exactly the pending ∧ scheduled_at < now pulses, ascending by schedule
	assert.Equal(t, late1, pulses[0].ID)
	assert.Equal(t, late2, pulses[1].ID)
}

func TestQueryByStatus(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	id := mustEnqueue(t, store, EnqueueRequest{Prompt: "done", ScheduledAt: now.Add(-time.Minute)})
	_, err := store.ClaimNext(now)
	require.NoError(t, err)
	require.NoError(t, store.Complete(id, 5))

	mustEnqueue(t, store, EnqueueRequest{Prompt: "waiting", ScheduledAt: now.Add(time.Hour)})

	completed, err := store.Query(FilterCompleted, 10)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, id, completed[0].ID)

	pending, err := store.Query(FilterPending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	all, err := store.Query(FilterAll, 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestQueryLimit(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 5; i++ {
		mustEnqueue(t, store, EnqueueRequest{Prompt: "p"})
	}

	pulses, err := store.Query(FilterAll, 3)
	require.NoError(t, err)
	assert.Len(t, pulses, 3)
}

func TestReleaseOrphaned(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	id := mustEnqueue(t, store, EnqueueRequest{Prompt: "p", ScheduledAt: now.Add(-time.Minute), MaxRetries: 3})
	_, err := store.ClaimNext(now)
	require.NoError(t, err)

	// Simulate a failed attempt history before the crash
	_, err = store.FailOrRetry(id, "flaky", 100, now)
	require.NoError(t, err)
	_, err = store.ClaimNext(now.Add(2 * time.Minute))
	require.NoError(t, err)

	// Daemon restarts with the pulse still marked running
	released, err := store.ReleaseOrphaned()
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	p, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, 1, p.RetryCount, "retry_count unchanged by reconciliation")
}

func TestReleaseOrphanedNoRunning(t *testing.T) {
	store := newTestStore(t)

	released, err := store.ReleaseOrphaned()
	require.NoError(t, err)
	assert.Equal(t, 0, released)
}

func TestGetStats(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	id := mustEnqueue(t, store, EnqueueRequest{Prompt: "a", ScheduledAt: now.Add(-time.Minute)})
	mustEnqueue(t, store, EnqueueRequest{Prompt: "b", ScheduledAt: now.Add(time.Hour)})
	_, err := store.ClaimNext(now)
	require.NoError(t, err)
	require.NoError(t, store.Complete(id, 5))

	stats, err := store.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 2, stats.Total)
}
