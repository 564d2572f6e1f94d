package pulse

import (
	"time"

	"github.com/teranos/pulsed/errors"
)

// Ingestor is the thin ingest/query facade consumed by producers and
// inspectors (HTTP API, CLI, heartbeat cron, watchdog). It validates and
// deserializes input; all business logic stays in the Store.
type Ingestor struct {
	store             *Store
	defaultMaxRetries int
}

// NewIngestor creates the facade. defaultMaxRetries applies when a
// producer does not specify max_retries.
func NewIngestor(store *Store, defaultMaxRetries int) *Ingestor {
	return &Ingestor{store: store, defaultMaxRetries: defaultMaxRetries}
}

// ScheduleRequest is producer input, pre-deserialization. ScheduledAt is a
// RFC3339 string ("" schedules immediately); Priority is a wire name.
type ScheduleRequest struct {
	Prompt      string   `json:"prompt"`
	ScheduledAt string   `json:"scheduled_at,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	Source      string   `json:"source,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	SessionID   string   `json:"session_id,omitempty"`
	StickyNotes string   `json:"sticky_notes,omitempty"`
	MaxRetries  *int     `json:"max_retries,omitempty"`
}

// Schedule validates the request and enqueues a pulse, returning its id.
// Rejects synchronously with ErrValidation on bad input; nothing is
// persisted in that case.
func (i *Ingestor) Schedule(req ScheduleRequest) (int64, error) {
	if req.Prompt == "" {
		return 0, errors.Wrap(ErrValidation, "prompt must not be empty")
	}

	scheduledAt := time.Now()
	if req.ScheduledAt != "" {
		t, err := time.Parse(time.RFC3339, req.ScheduledAt)
		if err != nil {
			return 0, errors.Wrapf(ErrValidation, "unparsable scheduled_at %q", req.ScheduledAt)
		}
		scheduledAt = t
	}

	priority, err := ParsePriority(req.Priority)
	if err != nil {
		return 0, err
	}

	maxRetries := i.defaultMaxRetries
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 {
			return 0, errors.Wrapf(ErrValidation, "max_retries must be >= 0, got %d", *req.MaxRetries)
		}
		maxRetries = *req.MaxRetries
	}

	return i.store.Enqueue(EnqueueRequest{
		Prompt:      req.Prompt,
		ScheduledAt: scheduledAt,
		Priority:    priority,
		MaxRetries:  maxRetries,
		CreatedBy:   req.Source,
		Tags:        req.Tags,
		SessionID:   req.SessionID,
		StickyNotes: req.StickyNotes,
	})
}

// List returns pulses by status filter, for inspectors
func (i *Ingestor) List(filter string, limit int) ([]*Pulse, error) {
	f, err := ParseFilter(filter)
	if err != nil {
		return nil, err
	}
	return i.store.Query(f, limit)
}

// Get returns one pulse by id
func (i *Ingestor) Get(id int64) (*Pulse, error) {
	return i.store.Get(id)
}

// Cancel cancels a pending pulse
func (i *Ingestor) Cancel(id int64) error {
	return i.store.Cancel(id)
}

// Stats returns per-status pulse counts
func (i *Ingestor) Stats() (*Stats, error) {
	return i.store.GetStats()
}

// Ping verifies the underlying store is reachable
func (i *Ingestor) Ping() error {
	return i.store.Ping()
}
