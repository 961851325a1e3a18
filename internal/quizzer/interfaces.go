package quizzer

import (
	"context"
	"time"

	"github.com/mroshb/trivia_bot/internal/models"
	"github.com/mroshb/trivia_bot/internal/repositories"
)

// Button is one inline keyboard button.
type Button struct {
	Text string
	Data string
}

type SendOptions struct {
	ParseHTML bool
	ReplyTo   int
	Keyboard  [][]Button
}

// SentMessage identifies a delivered message.
type SentMessage struct {
	ChatID    int64
	MessageID int
	Date      time.Time
}

// Messenger delivers chat messages.
type Messenger interface {
	Send(ctx context.Context, chatID int64, text string, opts *SendOptions) (*SentMessage, error)
	Edit(ctx context.Context, chatID int64, messageID int, text string, opts *SendOptions) error
	AnswerCallback(ctx context.Context, callbackQueryID, text string) error
}

type StopReason string

const (
	StopAnswered  StopReason = "Answered"
	StopGameEnded StopReason = "GameEnded"
)

type RunInput struct {
	ChatID    int64
	Questions int
}

// Orchestrator sequences the steps of a game and owns question timeouts.
// Stop must be idempotent: stopping a finished or unknown handle is not an error.
type Orchestrator interface {
	Start(ctx context.Context, input RunInput) (string, error)
	Stop(ctx context.Context, handle string, reason StopReason) error
}

// Locker runs fn under a named distributed lock.
type Locker interface {
	WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

type RoundLedger interface {
	Create(ctx context.Context, round *models.QuestionRound) error
	RecordAttempt(ctx context.Context, in repositories.AttemptInput) (*models.AttemptResult, error)
	MarkInactive(ctx context.Context, chatID int64, messageID int) error
	Find(ctx context.Context, chatID int64, messageID int) (*models.QuestionRound, error)
	GetCurrentlyOpen(ctx context.Context, chatID int64) (*models.QuestionRound, error)
	Cleanup(ctx context.Context, chatID int64) (int64, error)
}

type ScoreLedger interface {
	Award(ctx context.Context, chatID, userID, points int64, user models.UserData) (int64, error)
	Top(ctx context.Context, chatID int64, limit int) ([]models.Player, error)
	TopGlobal(ctx context.Context, limit int) ([]models.Player, error)
	PromoteToGlobal(ctx context.Context, chatID int64) (int64, error)
}

type TokenStore interface {
	Create(ctx context.Context, payload models.CallbackPayload) (string, error)
	Retrieve(ctx context.Context, chatID int64, token string) (*models.CallbackPayload, error)
	DeleteForQuestion(ctx context.Context, chatID int64, questionID string) (int64, error)
	DeleteAll(ctx context.Context, chatID int64) (int64, error)
}

type SessionStore interface {
	Get(ctx context.Context, chatID int64) (*models.GameSession, error)
	Put(ctx context.Context, session *models.GameSession) error
}

type QuestionBank interface {
	Find(ctx context.Context, id string) (*models.Question, error)
	ListIDs(ctx context.Context) ([]string, error)
}
