package notifier

import (
	"context"
	"net/http"

	tele "gopkg.in/telebot.v4"
)

// Sender delivers one alert text.
type Sender interface {
	Send(ctx context.Context, text string) error
}

type telegramSender struct {
	bot  *tele.Bot
	chat *tele.Chat
}

// NewTelegramSender builds a send-only bot. No poller is attached; the bot
// never consumes updates. Construction verifies the token against the API.
func NewTelegramSender(token string, chatID int64) (Sender, error) {
	bot, err := tele.NewBot(tele.Settings{
		Token:  token,
		Client: &http.Client{Timeout: sendTimeout},
	})
	if err != nil {
		return nil, err
	}
	return &telegramSender{bot: bot, chat: &tele.Chat{ID: chatID}}, nil
}

// Send posts the text. telebot carries no context; the client timeout
// bounds the call, ctx covers future transports.
func (t *telegramSender) Send(_ context.Context, text string) error {
	_, err := t.bot.Send(t.chat, text, &tele.SendOptions{})
	return err
}
