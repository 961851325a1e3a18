package models

import "time"

// CallbackToken binds an opaque button token to the answer it stands for.
type CallbackToken struct {
	ChatID     int64     `gorm:"primaryKey;autoIncrement:false"`
	Token      string    `gorm:"primaryKey;type:varchar(64)"`
	QuestionID string    `gorm:"type:varchar(64);not null;index"`
	Answer     string    `gorm:"type:text;not null"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

func (CallbackToken) TableName() string {
	return "callback_tokens"
}

// CallbackPayload is what a pressed button resolves to.
type CallbackPayload struct {
	ChatID     int64  `json:"chat_id"`
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
}

func (t *CallbackToken) Payload() CallbackPayload {
	return CallbackPayload{ChatID: t.ChatID, QuestionID: t.QuestionID, Answer: t.Answer}
}
