package pulse

import (
	"database/sql"
	"time"

	"github.com/teranos/pulsed/errors"
)

// timeLayout is the column format for timestamps. Fixed-width UTC
// milliseconds so that SQL string comparison orders the same as time order.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "bad timestamp %q", s)
	}
	return t, nil
}

// pulseColumns is the select list matching scanPulse
const pulseColumns = `id, status, priority, scheduled_at, executed_at, prompt,
	session_id, sticky_notes, tags, created_by, created_at,
	execution_duration_ms, error_message, retry_count, max_retries`

// Store handles persistence of pulses. All state transitions go through
// here; the claim operation is the single synchronization point.
type Store struct {
	db     *sql.DB
	policy Policy
}

// NewStore creates a pulse store with the given retry policy
func NewStore(db *sql.DB, policy Policy) *Store {
	return &Store{db: db, policy: policy}
}

// EnqueueRequest carries validated-at-the-edge input for a new pulse
type EnqueueRequest struct {
	Prompt      string
	ScheduledAt time.Time
	Priority    Priority
	MaxRetries  int
	CreatedBy   string
	Tags        []string
	SessionID   string
	StickyNotes string
}

// Enqueue inserts a new pending pulse and returns its id.
// Fails with ErrValidation if the prompt is empty.
func (s *Store) Enqueue(req EnqueueRequest) (int64, error) {
	if req.Prompt == "" {
		return 0, errors.Wrap(ErrValidation, "prompt must not be empty")
	}
	if req.MaxRetries < 0 {
		return 0, errors.Wrapf(ErrValidation, "max_retries must be >= 0, got %d", req.MaxRetries)
	}
	if req.CreatedBy == "" {
		req.CreatedBy = SourceAPI
	}
	if req.ScheduledAt.IsZero() {
		req.ScheduledAt = time.Now()
	}

	tagsJSON, err := MarshalTags(req.Tags)
	if err != nil {
		return 0, err
	}

	sessionID := sql.NullString{String: req.SessionID, Valid: req.SessionID != ""}

	result, err := s.db.Exec(`
		INSERT INTO pulses (
			status, priority, scheduled_at, prompt, session_id,
			sticky_notes, tags, created_by, created_at,
			retry_count, max_retries
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		StatusPending,
		int(req.Priority),
		formatTime(req.ScheduledAt),
		req.Prompt,
		sessionID,
		req.StickyNotes,
		tagsJSON,
		req.CreatedBy,
		formatTime(time.Now()),
		req.MaxRetries,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to enqueue pulse")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get pulse id")
	}
	return id, nil
}

// ClaimNext atomically selects the due pending pulse with the highest
// dispatch rank (priority desc, scheduled_at asc, id asc) and transitions
// it to running. Returns nil when nothing is claimable.
//
// The select-and-update runs in one transaction with a conditional update;
// a losing claimant's update matches zero rows and it simply walks away
// empty-handed, so the protocol stays correct even with two claimants.
// The NOT EXISTS guard keeps the system-wide single-running invariant in
// the store itself rather than in a process-local flag.
func (s *Store) ClaimNext(now time.Time) (*Pulse, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin claim transaction")
	}
	defer tx.Rollback()

	row := tx.QueryRow(`
		SELECT `+pulseColumns+`
		FROM pulses
		WHERE status = ?
		  AND scheduled_at <= ?
		  AND NOT EXISTS (SELECT 1 FROM pulses WHERE status = ?)
		ORDER BY priority DESC, scheduled_at ASC, id ASC
		LIMIT 1`,
		StatusPending, formatTime(now), StatusRunning)

	p, err := scanPulse(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to select claimable pulse")
	}

	result, err := tx.Exec(
		`UPDATE pulses SET status = ? WHERE id = ? AND status = ?`,
		StatusRunning, p.ID, StatusPending)
	if err != nil {
		return nil, errors.Wrap(err, "failed to mark pulse running")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		// Lost the claim race; nothing to do
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit claim")
	}

	p.Status = StatusRunning
	return p, nil
}

// Complete marks a running pulse as completed and records its duration.
// executed_at is set on the first completed attempt and kept thereafter.
func (s *Store) Complete(id int64, durationMs int64) error {
	result, err := s.db.Exec(`
		UPDATE pulses
		SET status = ?,
		    executed_at = COALESCE(executed_at, ?),
		    execution_duration_ms = ?,
		    error_message = NULL
		WHERE id = ? AND status = ?`,
		StatusCompleted, formatTime(time.Now()), durationMs, id, StatusRunning)
	if err != nil {
		return errors.Wrap(err, "failed to complete pulse")
	}
	return s.requireOneRow(result, id, "complete")
}

// FailOrRetry routes a failed execution through the retry policy: either
// reschedules the pulse (pending, backed-off scheduled_at, retry_count+1)
// or terminates it (failed). Returns the updated pulse so the caller can
// see which way it went.
func (s *Store) FailOrRetry(id int64, errorMessage string, durationMs int64, now time.Time) (*Pulse, error) {
	p, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusRunning {
		return nil, errors.Wrapf(ErrInvalidState, "pulse %d is %s, not running", id, p.Status)
	}

	decision := s.policy.Decide(p.RetryCount, p.MaxRetries, now)

	if decision.Retry {
		result, err := s.db.Exec(`
			UPDATE pulses
			SET status = ?,
			    scheduled_at = ?,
			    retry_count = ?,
			    executed_at = COALESCE(executed_at, ?),
			    execution_duration_ms = ?,
			    error_message = ?
			WHERE id = ? AND status = ?`,
			StatusPending, formatTime(decision.NextRunAt), decision.RetryCount,
			formatTime(now), durationMs, errorMessage, id, StatusRunning)
		if err != nil {
			return nil, errors.Wrap(err, "failed to reschedule pulse")
		}
		if err := s.requireOneRow(result, id, "reschedule"); err != nil {
			return nil, err
		}
	} else {
		result, err := s.db.Exec(`
			UPDATE pulses
			SET status = ?,
			    executed_at = COALESCE(executed_at, ?),
			    execution_duration_ms = ?,
			    error_message = ?
			WHERE id = ? AND status = ?`,
			StatusFailed, formatTime(now), durationMs, errorMessage, id, StatusRunning)
		if err != nil {
			return nil, errors.Wrap(err, "failed to mark pulse failed")
		}
		if err := s.requireOneRow(result, id, "fail"); err != nil {
			return nil, err
		}
	}

	return s.Get(id)
}

// Cancel cancels a pulse. Allowed only while pending; returns
// ErrInvalidState otherwise, with no state change.
func (s *Store) Cancel(id int64) error {
	result, err := s.db.Exec(
		`UPDATE pulses SET status = ? WHERE id = ? AND status = ?`,
		StatusCancelled, id, StatusPending)
	if err != nil {
		return errors.Wrap(err, "failed to cancel pulse")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 1 {
		return nil
	}

	// Distinguish missing from non-pending
	p, err := s.Get(id)
	if err != nil {
		return err
	}
	return errors.Wrapf(ErrInvalidState, "cannot cancel pulse %d in state %s", id, p.Status)
}

// Get retrieves a pulse by id
func (s *Store) Get(id int64) (*Pulse, error) {
	row := s.db.QueryRow(`SELECT `+pulseColumns+` FROM pulses WHERE id = ?`, id)
	p, err := scanPulse(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "pulse %d", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get pulse")
	}
	return p, nil
}

// Filter selects which pulses Query returns
type Filter string

const (
	FilterPending   Filter = "pending"
	FilterFailed    Filter = "failed"
	FilterCompleted Filter = "completed"
	FilterOverdue   Filter = "overdue" // pending and scheduled_at < now
	FilterAll       Filter = "all"
)

// ParseFilter converts a wire name to a Filter
func ParseFilter(s string) (Filter, error) {
	switch Filter(s) {
	case FilterPending, FilterFailed, FilterCompleted, FilterOverdue, FilterAll:
		return Filter(s), nil
	case "":
		return FilterAll, nil
	default:
		return FilterAll, errors.Wrapf(ErrValidation, "unknown filter %q", s)
	}
}

// Query returns a finite snapshot of pulses matching the filter.
// Ordering: pending follows dispatch order, overdue is scheduled_at
// ascending, everything else is newest-first.
func (s *Store) Query(filter Filter, limit int) ([]*Pulse, error) {
	if limit <= 0 {
		limit = 50
	}

	var query string
	var args []interface{}

	base := `SELECT ` + pulseColumns + ` FROM pulses`
	switch filter {
	case FilterPending:
		query = base + ` WHERE status = ? ORDER BY priority DESC, scheduled_at ASC, id ASC LIMIT ?`
		args = []interface{}{StatusPending, limit}
	case FilterOverdue:
		query = base + ` WHERE status = ? AND scheduled_at < ? ORDER BY scheduled_at ASC, id ASC LIMIT ?`
		args = []interface{}{StatusPending, formatTime(time.Now()), limit}
	case FilterFailed:
		query = base + ` WHERE status = ? ORDER BY created_at DESC, id DESC LIMIT ?`
		args = []interface{}{StatusFailed, limit}
	case FilterCompleted:
		query = base + ` WHERE status = ? ORDER BY created_at DESC, id DESC LIMIT ?`
		args = []interface{}{StatusCompleted, limit}
	case FilterAll:
		query = base + ` ORDER BY created_at DESC, id DESC LIMIT ?`
		args = []interface{}{limit}
	default:
		return nil, errors.Wrapf(ErrValidation, "unknown filter %q", filter)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query pulses")
	}
	defer rows.Close()

	return scanPulses(rows)
}

// ReleaseOrphaned resets pulses left running by a prior process lifetime
// back to pending, retry_count unchanged. No execution can legitimately be
// in flight across a restart. Runs once at startup, before the first tick.
func (s *Store) ReleaseOrphaned() (int, error) {
	result, err := s.db.Exec(
		`UPDATE pulses SET status = ? WHERE status = ?`,
		StatusPending, StatusRunning)
	if err != nil {
		return 0, errors.Wrap(err, "failed to release orphaned pulses")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(rows), nil
}

// Stats holds per-status pulse counts
type Stats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Total     int `json:"total"`
}

// GetStats returns pulse counts by status
func (s *Store) GetStats() (*Stats, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM pulses GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count pulses")
	}
	defer rows.Close()

	stats := &Stats{}
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan status count")
		}
		switch status {
		case StatusPending:
			stats.Pending = count
		case StatusRunning:
			stats.Running = count
		case StatusCompleted:
			stats.Completed = count
		case StatusFailed:
			stats.Failed = count
		case StatusCancelled:
			stats.Cancelled = count
		}
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating status counts")
	}
	return stats, nil
}

// Ping verifies the store is reachable
func (s *Store) Ping() error {
	return s.db.Ping()
}

func (s *Store) requireOneRow(result sql.Result, id int64, op string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(ErrInvalidState, "cannot %s pulse %d: not running", op, id)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanPulse
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPulse(row scanner) (*Pulse, error) {
	var p Pulse
	var priority int
	var scheduledAt, createdAt string
	var executedAt, sessionID, errorMessage sql.NullString
	var tagsJSON string
	var durationMs sql.NullInt64

	err := row.Scan(
		&p.ID, &p.Status, &priority, &scheduledAt, &executedAt, &p.Prompt,
		&sessionID, &p.StickyNotes, &tagsJSON, &p.CreatedBy, &createdAt,
		&durationMs, &errorMessage, &p.RetryCount, &p.MaxRetries,
	)
	if err != nil {
		return nil, err
	}

	p.Priority = Priority(priority)

	if p.ScheduledAt, err = parseTime(scheduledAt); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if executedAt.Valid {
		t, err := parseTime(executedAt.String)
		if err != nil {
			return nil, err
		}
		p.ExecutedAt = &t
	}
	if sessionID.Valid {
		p.SessionID = sessionID.String
	}
	if errorMessage.Valid {
		p.ErrorMessage = errorMessage.String
	}
	if durationMs.Valid {
		p.ExecutionDurationMs = &durationMs.Int64
	}
	if p.Tags, err = UnmarshalTags(tagsJSON); err != nil {
		return nil, err
	}

	return &p, nil
}

func scanPulses(rows *sql.Rows) ([]*Pulse, error) {
	var pulses []*Pulse
	for rows.Next() {
		p, err := scanPulse(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan pulse")
		}
		pulses = append(pulses, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating pulses")
	}
	return pulses, nil
}
