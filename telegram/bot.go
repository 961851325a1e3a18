package telegram

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/mroshb/trivia_bot/internal/middleware"
	"github.com/mroshb/trivia_bot/internal/models"
	"github.com/mroshb/trivia_bot/internal/quizzer"
	"github.com/mroshb/trivia_bot/internal/security"
	"github.com/mroshb/trivia_bot/pkg/errors"
	"github.com/mroshb/trivia_bot/pkg/logger"
)

const (
	commandStart = "start"
	commandEnd   = "end"
)

// Game is what the bot drives in response to chat updates.
type Game interface {
	Start(ctx context.Context, chatID int64, triggerMessageID int) error
	ForceEnd(ctx context.Context, chatID int64, triggerMessageID int) error
	Attempt(ctx context.Context, a models.Attempt) (*models.AttemptResult, error)
}

type Tokens interface {
	Retrieve(ctx context.Context, chatID int64, token string) (*models.CallbackPayload, error)
}

// Poller is the long polling half of the Bot API client.
type Poller interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Options struct {
	// BotID identifies the bot's own messages, the only ones replies can answer.
	BotID   int64
	Workers int
	Limiter *middleware.RateLimiter
}

type Bot struct {
	messenger quizzer.Messenger
	game      Game
	tokens    Tokens
	limiter   *middleware.RateLimiter
	botID     int64
	now       func() time.Time

	// Worker pool for parallel processing
	workerChans []chan tgbotapi.Update
	wg          sync.WaitGroup
	mu          sync.RWMutex
	stopped     bool
}

func NewBot(messenger quizzer.Messenger, game Game, tokens Tokens, opts Options) *Bot {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	b := &Bot{
		messenger:   messenger,
		game:        game,
		tokens:      tokens,
		limiter:     opts.Limiter,
		botID:       opts.BotID,
		now:         func() time.Time { return time.Now().UTC() },
		workerChans: make([]chan tgbotapi.Update, opts.Workers),
	}
	for i := range b.workerChans {
		b.workerChans[i] = make(chan tgbotapi.Update, 100)
	}
	return b
}

// Start launches the workers. Updates are handled with ctx.
func (b *Bot) Start(ctx context.Context) {
	for _, ch := range b.workerChans {
		b.wg.Add(1)
		go b.startWorker(ctx, ch)
	}
}

// Stop drains the queued updates and waits for the workers to exit.
func (b *Bot) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	for _, ch := range b.workerChans {
		close(ch)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

// Dispatch queues an update on the worker owning its chat, so the updates of
// one chat are handled in arrival order.
func (b *Bot) Dispatch(update tgbotapi.Update) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		logger.Warn("Dropping update after shutdown", "update_id", update.UpdateID)
		return
	}

	chatID := updateChatID(update)
	workerIdx := chatID % int64(len(b.workerChans))
	if workerIdx < 0 {
		workerIdx = -workerIdx
	}
	b.workerChans[workerIdx] <- update
}

// Poll feeds long-polled updates to the workers until ctx is done.
func (b *Bot) Poll(ctx context.Context, poller Poller) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	for {
		logger.Info("Starting update listener...")
		updates := poller.GetUpdatesChan(u)

	receive:
		for {
			select {
			case <-ctx.Done():
				poller.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					break receive
				}
				b.Dispatch(update)
			}
		}

		logger.Warn("Update channel closed. Restarting in 5 seconds...")
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

// WebhookHandler accepts updates pushed by Telegram.
func (b *Bot) WebhookHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			logger.Warn("Invalid webhook payload", "error", err)
			http.Error(w, "invalid update", http.StatusBadRequest)
			return
		}
		b.Dispatch(update)
		w.WriteHeader(http.StatusOK)
	})
}

func (b *Bot) startWorker(ctx context.Context, ch <-chan tgbotapi.Update) {
	defer b.wg.Done()
	for update := range ch {
		b.handleUpdate(ctx, update)
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in handleUpdate", "error", r)
		}
	}()

	if update.Message != nil {
		b.handleMessage(ctx, update.Message)
	} else if update.CallbackQuery != nil {
		b.handleCallbackQuery(ctx, update.CallbackQuery)
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.From == nil || message.Chat == nil {
		return
	}
	chatID := message.Chat.ID

	logger.Debug("Received message",
		"chat_id", chatID,
		"user_id", message.From.ID,
		"message_id", message.MessageID,
	)

	if message.IsCommand() {
		var err error
		switch message.Command() {
		case commandStart:
			err = b.game.Start(ctx, chatID, message.MessageID)
		case commandEnd:
			err = b.game.ForceEnd(ctx, chatID, message.MessageID)
		default:
			return
		}
		b.reportError(ctx, chatID, err)
		return
	}

	if !b.isAnswerReply(message) {
		return
	}
	if !b.allow(message.From.ID) {
		logger.Debug("Reply attempt rate limited", "chat_id", chatID, "user_id", message.From.ID)
		return
	}

	_, err := b.game.Attempt(ctx, models.Attempt{
		ChatID:         chatID,
		MessageID:      message.ReplyToMessage.MessageID,
		Answer:         security.SanitizeString(message.Text),
		SubmittedAt:    message.Time().UTC(),
		UserID:         message.From.ID,
		User:           userData(message.From),
		ReplyMessageID: message.MessageID,
	})
	if stderrors.Is(err, errors.ErrRoundNotFound) {
		return
	}
	b.reportError(ctx, chatID, err)
}

func (b *Bot) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	if query.From == nil || query.Message == nil || query.Message.Chat == nil {
		return
	}
	chatID := query.Message.Chat.ID
	submittedAt := b.now()

	if !b.allow(query.From.ID) {
		_ = b.messenger.AnswerCallback(ctx, query.ID, "")
		return
	}

	payload, err := b.tokens.Retrieve(ctx, chatID, query.Data)
	if err != nil {
		b.reportError(ctx, chatID, err)
		return
	}
	if payload == nil {
		_ = b.messenger.AnswerCallback(ctx, query.ID, quizzer.TextExpired)
		return
	}

	_, err = b.game.Attempt(ctx, models.Attempt{
		ChatID:          chatID,
		MessageID:       query.Message.MessageID,
		Answer:          payload.Answer,
		SubmittedAt:     submittedAt,
		UserID:          query.From.ID,
		User:            userData(query.From),
		CallbackQueryID: query.ID,
	})
	if stderrors.Is(err, errors.ErrRoundNotFound) {
		_ = b.messenger.AnswerCallback(ctx, query.ID, quizzer.TextExpired)
		return
	}
	b.reportError(ctx, chatID, err)
}

// isAnswerReply reports whether message is a text reply, in a group, to one
// of the bot's own messages.
func (b *Bot) isAnswerReply(message *tgbotapi.Message) bool {
	if message.Text == "" || message.ReplyToMessage == nil {
		return false
	}
	if !message.Chat.IsGroup() && !message.Chat.IsSuperGroup() {
		return false
	}
	replied := message.ReplyToMessage.From
	return replied != nil && replied.ID == b.botID
}

func (b *Bot) allow(userID int64) bool {
	if b.limiter == nil {
		return true
	}
	return b.limiter.CheckUserLimit(userID)
}

func (b *Bot) reportError(ctx context.Context, chatID int64, err error) {
	if err == nil {
		return
	}
	logger.Error("Failed to handle update", "chat_id", chatID, "error", err)
	if _, sendErr := b.messenger.Send(ctx, chatID, "An error occurred: "+describe(err), nil); sendErr != nil {
		logger.Error("Failed to report error", "chat_id", chatID, "error", sendErr)
	}
}

func updateChatID(update tgbotapi.Update) int64 {
	if update.Message != nil && update.Message.Chat != nil {
		return update.Message.Chat.ID
	}
	if update.CallbackQuery != nil && update.CallbackQuery.Message != nil && update.CallbackQuery.Message.Chat != nil {
		return update.CallbackQuery.Message.Chat.ID
	}
	return 0
}

func userData(u *tgbotapi.User) models.UserData {
	return models.UserData{
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Username:  u.UserName,
	}
}
