package alert

import (
	"database/sql"
	"time"

	"github.com/teranos/pulsed/errors"
)

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// CooldownStore persists the last-sent timestamp per dedup key. TTL
// semantics are applied on read: an entry older than the window counts as
// expired. Kept in its own table, not in the pulse store.
type CooldownStore struct {
	db *sql.DB
}

// NewCooldownStore creates a cooldown store over the shared database
func NewCooldownStore(db *sql.DB) *CooldownStore {
	return &CooldownStore{db: db}
}

// ShouldSend reports whether an alert keyed by key may fire now, and if so
// records now as the last-sent timestamp in the same transaction.
func (c *CooldownStore) ShouldSend(key string, cooldown time.Duration, now time.Time) (bool, error) {
	tx, err := c.db.Begin()
	if err != nil {
		return false, errors.Wrap(err, "failed to begin cooldown transaction")
	}
	defer tx.Rollback()

	var lastSentAt string
	err = tx.QueryRow(`SELECT last_sent_at FROM alert_cooldowns WHERE key = ?`, key).Scan(&lastSentAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// First alert for this key
	case err != nil:
		return false, errors.Wrap(err, "failed to read cooldown")
	default:
		lastSent, err := time.Parse(time.RFC3339, lastSentAt)
		if err != nil {
			return false, errors.Wrapf(err, "bad cooldown timestamp %q", lastSentAt)
		}
		if now.Sub(lastSent) < cooldown {
			return false, nil
		}
	}

	_, err = tx.Exec(`
		INSERT INTO alert_cooldowns (key, last_sent_at) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET last_sent_at = excluded.last_sent_at`,
		key, now.UTC().Format(timeLayout))
	if err != nil {
		return false, errors.Wrap(err, "failed to record cooldown")
	}

	if err := tx.Commit(); err != nil {
		return false, errors.Wrap(err, "failed to commit cooldown")
	}
	return true, nil
}

// Purge removes cooldown entries older than the given age
func (c *CooldownStore) Purge(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)

	result, err := c.db.Exec(
		`DELETE FROM alert_cooldowns WHERE last_sent_at < ?`,
		cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, errors.Wrap(err, "failed to purge cooldowns")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(rows), nil
}
