package telegram

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/mroshb/trivia_bot/internal/quizzer"
	"github.com/mroshb/trivia_bot/pkg/logger"
)

// API is the part of the Bot API client the messenger needs.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Messenger delivers quizzer messages through the Bot API.
type Messenger struct {
	api        API
	maxRetries uint64
	retryDelay time.Duration
}

var _ quizzer.Messenger = (*Messenger)(nil)

func NewMessenger(api API) *Messenger {
	return &Messenger{api: api, maxRetries: 2, retryDelay: time.Second}
}

func (m *Messenger) Send(ctx context.Context, chatID int64, text string, opts *SendOptions) (*quizzer.SentMessage, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	if opts != nil {
		if opts.ParseHTML {
			msg.ParseMode = tgbotapi.ModeHTML
		}
		msg.ReplyToMessageID = opts.ReplyTo
		if kb := InlineKeyboard(opts.Keyboard); kb != nil {
			msg.ReplyMarkup = *kb
		}
	}

	var sent tgbotapi.Message
	err := m.retry(ctx, func() error {
		var err error
		sent, err = m.api.Send(msg)
		return err
	})
	if err != nil {
		logger.Error("Failed to send message", "chat_id", chatID, "error", err)
		return nil, err
	}
	return &quizzer.SentMessage{
		ChatID:    sent.Chat.ID,
		MessageID: sent.MessageID,
		Date:      sent.Time(),
	}, nil
}

func (m *Messenger) Edit(ctx context.Context, chatID int64, messageID int, text string, opts *SendOptions) error {
	msg := tgbotapi.NewEditMessageText(chatID, messageID, text)
	if opts != nil {
		if opts.ParseHTML {
			msg.ParseMode = tgbotapi.ModeHTML
		}
		msg.ReplyMarkup = InlineKeyboard(opts.Keyboard)
	}

	err := m.retry(ctx, func() error {
		_, err := m.api.Request(msg)
		return err
	})
	if err != nil {
		logger.Error("Failed to edit message", "chat_id", chatID, "message_id", messageID, "error", err)
	}
	return err
}

func (m *Messenger) AnswerCallback(ctx context.Context, callbackQueryID, text string) error {
	callback := tgbotapi.NewCallback(callbackQueryID, text)
	err := m.retry(ctx, func() error {
		_, err := m.api.Request(callback)
		return err
	})
	if err != nil {
		logger.Error("Failed to answer callback query", "query_id", callbackQueryID, "error", err)
	}
	return err
}

// retry repeats op on network errors. Errors reported by the Bot API itself
// are returned at once.
func (m *Messenger) retry(ctx context.Context, op func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(m.retryDelay), m.maxRetries), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !isNetworkError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

func isNetworkError(err error) bool {
	var apiErr *tgbotapi.Error
	if stderrors.As(err, &apiErr) {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "network is unreachable")
}

// SendOptions aliases the quizzer send options for callers of this package.
type SendOptions = quizzer.SendOptions

func describe(err error) string {
	var apiErr *tgbotapi.Error
	if stderrors.As(err, &apiErr) {
		return fmt.Sprintf("telegram: %s", apiErr.Message)
	}
	return err.Error()
}
