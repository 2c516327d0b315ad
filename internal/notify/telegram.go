package notify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram sends notifications to a single chat through the Bot API.
type Telegram struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

func NewTelegram(botToken, chatID string, maxRetries int) (*Telegram, error) {
	return newTelegram(botToken, chatID, maxRetries, tgbotapi.APIEndpoint)
}

func newTelegram(botToken, chatID string, maxRetries int, endpoint string) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(botToken, endpoint)
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat id: %w", err)
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Telegram{bot: bot, chatID: id, maxRetries: maxRetries, retryDelayBase: time.Second}, nil
}

func (t *Telegram) Send(ctx context.Context, text string) error {
	return t.send(ctx, tgbotapi.NewMessage(t.chatID, text))
}

// SendReport posts the body as a message, then the CSV as a document.
func (t *Telegram) SendReport(ctx context.Context, r Report) error {
	text := r.Title
	if r.Body != "" {
		text += "\n\n" + r.Body
	}
	if err := t.send(ctx, tgbotapi.NewMessage(t.chatID, text)); err != nil {
		return err
	}
	if len(r.CSV) == 0 {
		return nil
	}
	doc := tgbotapi.NewDocument(t.chatID, tgbotapi.FileBytes{Name: r.Filename, Bytes: r.CSV})
	return t.send(ctx, doc)
}

func (t *Telegram) send(ctx context.Context, c tgbotapi.Chattable) error {
	var lastErr error
	for i := 0; i < t.maxRetries; i++ {
		_, err := t.bot.Send(c)
		if err == nil {
			return nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.retryDelayBase * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("telegram send failed after %d attempts: %w", t.maxRetries, lastErr)
}
