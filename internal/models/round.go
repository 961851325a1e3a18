package models

import (
	"fmt"
	"time"
)

// AnswerOption is one rendered button of a multiple choice round.
type AnswerOption struct {
	Answer     string `json:"answer"`
	CallbackID string `json:"callback_id"`
}

// WrongUser is an entry of a round's disqualified list.
type WrongUser struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
}

// QuestionRound is the lifecycle of one asked question message. TimeoutHandle
// is non-nil only while the round is open; a unique partial index on
// (chat_id) WHERE timeout_handle IS NOT NULL keeps one open round per chat.
type QuestionRound struct {
	ChatID        int64          `gorm:"primaryKey;autoIncrement:false"`
	MessageID     int            `gorm:"primaryKey;autoIncrement:false"`
	QuestionID    string         `gorm:"type:varchar(64);not null;index"`
	QuestionData  Question       `gorm:"serializer:json;type:jsonb;not null"`
	Options       []AnswerOption `gorm:"serializer:json;type:jsonb;not null;default:'[]'"`
	WrongUsers    []WrongUser    `gorm:"serializer:json;type:jsonb;not null;default:'[]'"`
	SentAt        time.Time      `gorm:"not null"`
	SolvedAt      *time.Time
	TimeoutHandle *string   `gorm:"type:varchar(128)"`
	RunHandle     string    `gorm:"type:varchar(64);index"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

func (QuestionRound) TableName() string {
	return "question_rounds"
}

// IsSolved reports whether a winning attempt was recorded.
func (r *QuestionRound) IsSolved() bool {
	return r.SolvedAt != nil
}

// IsOpen reports whether the round still waits for an answer or a timeout.
func (r *QuestionRound) IsOpen() bool {
	return r.TimeoutHandle != nil
}

// HasWrongUser reports whether userID is in the disqualified list.
func (r *QuestionRound) HasWrongUser(userID int64) bool {
	for _, w := range r.WrongUsers {
		if w.UserID == userID {
			return true
		}
	}
	return false
}

// WrongNames returns the display names of the disqualified users in order.
func (r *QuestionRound) WrongNames() []string {
	names := make([]string, 0, len(r.WrongUsers))
	for _, w := range r.WrongUsers {
		names = append(names, w.Name)
	}
	return names
}

// QuestionLockName is the lock that serializes attempts on one round.
func QuestionLockName(chatID int64, messageID int) string {
	return fmt.Sprintf("chat.%d.message.%d", chatID, messageID)
}
