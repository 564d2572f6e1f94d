package pulse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIngestor(t *testing.T) *Ingestor {
	t.Helper()
	return NewIngestor(newTestStore(t), 3)
}

func TestScheduleMinimalRequest(t *testing.T) {
	ing := newTestIngestor(t)

	id, err := ing.Schedule(ScheduleRequest{Prompt: "check mail"})
	require.NoError(t, err)

	p, err := ing.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, PriorityNormal, p.Priority)
	assert.Equal(t, SourceAPI, p.CreatedBy)
	assert.Equal(t, 3, p.MaxRetries, "default max_retries applies")
	assert.WithinDuration(t, time.Now(), p.ScheduledAt, 5*time.Second)
}

func TestScheduleFullRequest(t *testing.T) {
	ing := newTestIngestor(t)
	maxRetries := 1

	id, err := ing.Schedule(ScheduleRequest{
		Prompt:      "rotate credentials",
		ScheduledAt: "2026-09-01T06:00:00Z",
		Priority:    "urgent",
		Source:      SourceWatchdog,
		Tags:        []string{"ops"},
		SessionID:   "sess-7",
		StickyNotes: "use the staging account",
		MaxRetries:  &maxRetries,
	})
	require.NoError(t, err)

	p, err := ing.Get(id)
	require.NoError(t, err)
	assert.Equal(t, PriorityUrgent, p.Priority)
	assert.Equal(t, SourceWatchdog, p.CreatedBy)
	assert.Equal(t, []string{"ops"}, p.Tags)
	assert.Equal(t, "sess-7", p.SessionID)
	assert.Equal(t, 1, p.MaxRetries)
	assert.Equal(t, time.Date(2026, 9, 1, 6, 0, 0, 0, time.UTC).Unix(), p.ScheduledAt.Unix())
}

func TestScheduleValidation(t *testing.T) {
	ing := newTestIngestor(t)
	negative := -1

	tests := []struct {
		name string
		req  ScheduleRequest
	}{
		{"empty prompt", ScheduleRequest{}},
		{"bad timestamp", ScheduleRequest{Prompt: "p", ScheduledAt: "tomorrow-ish"}},
		{"bad priority", ScheduleRequest{Prompt: "p", Priority: "asap"}},
		{"negative max_retries", ScheduleRequest{Prompt: "p", MaxRetries: &negative}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ing.Schedule(tt.req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	// Rejected synchronously: nothing persisted
	stats, err := ing.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
}

func TestListFilterValidation(t *testing.T) {
	ing := newTestIngestor(t)

	_, err := ing.List("recent", 10)
	assert.ErrorIs(t, err, ErrValidation)

	// Empty filter means all
	pulses, err := ing.List("", 10)
	require.NoError(t, err)
	assert.Empty(t, pulses)
}

func TestIngestorCancel(t *testing.T) {
	ing := newTestIngestor(t)

	id, err := ing.Schedule(ScheduleRequest{Prompt: "p", ScheduledAt: time.Now().Add(time.Hour).Format(time.RFC3339)})
	require.NoError(t, err)

	require.NoError(t, ing.Cancel(id))
	p, err := ing.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, p.Status)
}
