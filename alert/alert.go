// Package alert implements the terminal-failure alert hook: pluggable
// notification backends behind a registry, with cooldown-keyed dedup so
// repeated identical alerts are suppressed within a window.
package alert

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/pulsed/errors"
)

// Notifier is the fixed contract every alert backend implements
type Notifier interface {
	// Name is the backend identifier used in configuration
	Name() string

	// Send delivers one alert message
	Send(ctx context.Context, message string) error
}

// Alerter routes alerts through a backend, suppressing repeats per dedup
// key within the cooldown window. Cooldown state persists across restarts.
type Alerter struct {
	notifier        Notifier
	cooldowns       *CooldownStore
	defaultCooldown time.Duration
	logger          *zap.SugaredLogger
}

// NewAlerter wires a backend to the cooldown store
func NewAlerter(notifier Notifier, cooldowns *CooldownStore, defaultCooldown time.Duration, logger *zap.SugaredLogger) *Alerter {
	if defaultCooldown <= 0 {
		defaultCooldown = time.Hour
	}
	return &Alerter{
		notifier:        notifier,
		cooldowns:       cooldowns,
		defaultCooldown: defaultCooldown,
		logger:          logger,
	}
}

// Alert sends message through the backend unless an alert with the same
// dedup key already fired within the cooldown window. A suppressed alert
// is not an error.
func (a *Alerter) Alert(ctx context.Context, message, dedupKey string, cooldown time.Duration) error {
	if dedupKey == "" {
		return errors.New("dedup key must not be empty")
	}
	if cooldown <= 0 {
		cooldown = a.defaultCooldown
	}

	send, err := a.cooldowns.ShouldSend(dedupKey, cooldown, time.Now())
	if err != nil {
		return errors.Wrap(err, "failed to check alert cooldown")
	}
	if !send {
		a.logger.Debugw("Alert suppressed by cooldown",
			"dedup_key", dedupKey,
			"cooldown", cooldown)
		return nil
	}

	if err := a.notifier.Send(ctx, message); err != nil {
		return errors.Wrapf(err, "backend %s failed to send alert", a.notifier.Name())
	}

	a.logger.Infow("Alert sent",
		"backend", a.notifier.Name(),
		"dedup_key", dedupKey)
	return nil
}
