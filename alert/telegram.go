package alert

import (
	"context"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v4"

	"github.com/teranos/pulsed/am"
	"github.com/teranos/pulsed/errors"
)

// telegramNotifier delivers alerts to a Telegram chat. Send-only: no
// poller, no command handling.
type telegramNotifier struct {
	bot    *tele.Bot
	chatID int64
	logger *zap.SugaredLogger
}

func newTelegramNotifier(cfg am.AlertConfig, logger *zap.SugaredLogger) (Notifier, error) {
	if cfg.Telegram.Token == "" {
		return nil, errors.New("telegram alert backend requires alerts.telegram.token")
	}
	if cfg.Telegram.ChatID == 0 {
		return nil, errors.New("telegram alert backend requires alerts.telegram.chat_id")
	}

	bot, err := tele.NewBot(tele.Settings{
		Token: cfg.Telegram.Token,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create telegram bot")
	}

	return &telegramNotifier{
		bot:    bot,
		chatID: cfg.Telegram.ChatID,
		logger: logger,
	}, nil
}

func (n *telegramNotifier) Name() string { return "telegram" }

func (n *telegramNotifier) Send(ctx context.Context, message string) error {
	// telebot's API calls don't take a context; honor cancellation before
	// the blocking send.
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	chat := &tele.Chat{ID: n.chatID}
	_, err := n.bot.Send(chat, message, &tele.SendOptions{DisableWebPagePreview: true})
	if err != nil {
		return errors.Wrap(err, "telegram send failed")
	}

	n.logger.Debugw("Telegram alert delivered", "chat_id", n.chatID)
	return nil
}
