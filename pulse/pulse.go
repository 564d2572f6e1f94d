// Package pulse implements the durable pulse queue and its execution loop.
//
// A pulse is a single time-scheduled instruction dispatched to the
// automation session. Pulses are created by producers (API, heartbeat cron,
// watchdog), claimed one at a time by the Ticker, executed against the
// agent process, and routed through the retry policy back into the store.
package pulse

import (
	"encoding/json"
	"time"

	"github.com/teranos/pulsed/errors"
)

// Status represents the current state of a pulse
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsValidStatus returns true if the status string is a valid Status
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true for states a pulse can never leave
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Priority orders pending pulses for dispatch. Higher values dispatch first;
// ties break by scheduled_at, then id (FIFO among equals).
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
	PriorityUrgent Priority = 3
)

var priorityNames = map[Priority]string{
	PriorityLow:    "low",
	PriorityNormal: "normal",
	PriorityHigh:   "high",
	PriorityUrgent: "urgent",
}

// String returns the priority's wire name
func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return "normal"
}

// ParsePriority converts a wire name to a Priority
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "normal", "":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "urgent":
		return PriorityUrgent, nil
	default:
		return PriorityNormal, errors.Wrapf(ErrValidation, "unknown priority %q", s)
	}
}

// MarshalJSON serializes the priority as its wire name
func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON parses the priority from its wire name
func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Well-known created_by source tags. The column is an open set; these are
// the producers the daemon itself knows about.
const (
	SourceAPI       = "api"
	SourceCLI       = "cli"
	SourceHeartbeat = "heartbeat_cron"
	SourceWatchdog  = "watchdog"
	SourceTelegram  = "telegram"
)

// Pulse is the unit of schedulable work
type Pulse struct {
	ID                  int64      `json:"id"`
	Status              Status     `json:"status"`
	Priority            Priority   `json:"priority"`
	ScheduledAt         time.Time  `json:"scheduled_at"`
	ExecutedAt          *time.Time `json:"executed_at,omitempty"`
	Prompt              string     `json:"prompt"`
	SessionID           string     `json:"session_id,omitempty"`
	StickyNotes         string     `json:"sticky_notes,omitempty"`
	Tags                []string   `json:"tags,omitempty"`
	CreatedBy           string     `json:"created_by"`
	CreatedAt           time.Time  `json:"created_at"`
	ExecutionDurationMs *int64     `json:"execution_duration_ms,omitempty"`
	ErrorMessage        string     `json:"error_message,omitempty"`
	RetryCount          int        `json:"retry_count"`
	MaxRetries          int        `json:"max_retries"`
}

// Overdue reports whether a pending pulse has slipped past its schedule
func (p *Pulse) Overdue(now time.Time) bool {
	return p.Status == StatusPending && p.ScheduledAt.Before(now)
}

// MarshalTags converts a tag list to its JSON column form
func MarshalTags(tags []string) (string, error) {
	if len(tags) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal tags")
	}
	return string(data), nil
}

// UnmarshalTags converts the JSON column form back to a tag list
func UnmarshalTags(data string) ([]string, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(data), &tags); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal tags")
	}
	return tags, nil
}
