package telegram

import (
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/camuig/sigtrader/internal/config"
	"github.com/camuig/sigtrader/internal/logger"
)

type fakeBot struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if b.err != nil {
		return tgbotapi.Message{}, b.err
	}
	b.sent = append(b.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func TestDisabledNotifierDropsMessages(t *testing.T) {
	n := NewNotifier(config.TelegramConfig{}, logger.Nop())
	if n.Send("hello") {
		t.Error("disabled notifier reported delivery")
	}
}

func TestSend(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"delivered", nil, true},
		{"api error", errors.New("Bad Request: chat not found"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bot := &fakeBot{err: tt.err}
			n := &Notifier{bot: bot, chatID: 42, enabled: true, logger: logger.Nop()}

			if got := n.Send("🚨 *Order failed*"); got != tt.want {
				t.Fatalf("Send = %v, want %v", got, tt.want)
			}
			if tt.want {
				if len(bot.sent) != 1 || bot.sent[0].ChatID != 42 || bot.sent[0].ParseMode != tgbotapi.ModeMarkdown {
					t.Errorf("sent = %+v", bot.sent)
				}
			}
		})
	}
}
