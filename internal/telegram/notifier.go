// Package telegram delivers operator alerts to a single chat.
package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/camuig/sigtrader/internal/config"
	"github.com/camuig/sigtrader/internal/logger"
)

// sender is the part of tgbotapi.BotAPI the notifier uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Notifier struct {
	bot     sender
	chatID  int64
	enabled bool
	logger  *logger.Logger
}

func NewNotifier(cfg config.TelegramConfig, log *logger.Logger) *Notifier {
	if !cfg.Enabled {
		return &Notifier{enabled: false, logger: log}
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Error("failed to create telegram bot", "error", err)
		return &Notifier{enabled: false, logger: log}
	}

	log.Info("telegram bot connected", "username", bot.Self.UserName)

	return &Notifier{
		bot:     bot,
		chatID:  cfg.ChatID,
		enabled: true,
		logger:  log,
	}
}

// Send posts a Markdown message and reports whether it was delivered. Delivery failures are
// logged, never returned: alerting must not fail the caller.
func (n *Notifier) Send(text string) bool {
	if !n.enabled {
		return false
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Error("send telegram message", "error", err)
		return false
	}
	return true
}

func (n *Notifier) NotifyStatus(message string) {
	n.Send(message)
}
