package alert

import (
	"context"

	"go.uber.org/zap"

	"github.com/teranos/pulsed/am"
)

// logNotifier writes alerts to the daemon log. The default backend; also
// the fallback when no delivery channel is configured.
type logNotifier struct {
	logger *zap.SugaredLogger
}

func newLogNotifier(_ am.AlertConfig, logger *zap.SugaredLogger) (Notifier, error) {
	return &logNotifier{logger: logger}, nil
}

func (n *logNotifier) Name() string { return "log" }

func (n *logNotifier) Send(_ context.Context, message string) error {
	n.logger.Errorw("ALERT", "message", message)
	return nil
}
