// Package heartbeat enqueues a recurring pulse on a cron schedule. The
// heartbeat is an ordinary pulse: it flows through the same queue, the
// same executor, and the same retry policy as everything else.
package heartbeat

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/teranos/pulsed/am"
	"github.com/teranos/pulsed/errors"
	"github.com/teranos/pulsed/pulse"
)

const defaultPrompt = "Heartbeat check-in. Review pending work and report status."

// Producer schedules heartbeat pulses via cron
type Producer struct {
	cron     *cron.Cron
	ingestor *pulse.Ingestor
	prompt   string
	logger   *zap.SugaredLogger
}

// NewProducer builds a heartbeat producer from configuration. The cron
// expression is validated up front so a bad schedule fails at startup,
// not at first fire.
func NewProducer(cfg am.HeartbeatConfig, ingestor *pulse.Ingestor, logger *zap.SugaredLogger) (*Producer, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(cfg.Schedule); err != nil {
		return nil, errors.Wrapf(err, "bad heartbeat schedule %q", cfg.Schedule)
	}

	prompt := cfg.Prompt
	if prompt == "" {
		prompt = defaultPrompt
	}

	p := &Producer{
		cron:     cron.New(cron.WithParser(parser)),
		ingestor: ingestor,
		prompt:   prompt,
		logger:   logger,
	}

	if _, err := p.cron.AddFunc(cfg.Schedule, p.fire); err != nil {
		return nil, errors.Wrap(err, "failed to register heartbeat job")
	}
	return p, nil
}

// Start begins firing on schedule
func (p *Producer) Start() {
	p.cron.Start()
	p.logger.Infow("Heartbeat producer started")
}

// Stop halts the schedule. Does not wait for an in-flight fire.
func (p *Producer) Stop() {
	p.cron.Stop()
	p.logger.Debugw("Heartbeat producer stopped")
}

func (p *Producer) fire() {
	id, err := p.ingestor.Schedule(pulse.ScheduleRequest{
		Prompt: p.prompt,
		Source: pulse.SourceHeartbeat,
		Tags:   []string{"heartbeat"},
	})
	if err != nil {
		p.logger.Warnw("Failed to enqueue heartbeat pulse", "error", err)
		return
	}
	p.logger.Debugw("Heartbeat pulse enqueued", "pulse_id", id)
}
