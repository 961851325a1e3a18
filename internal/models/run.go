package models

import "time"

// QuizRun is one orchestration run of a game. Steps of a stopped run are dropped.
type QuizRun struct {
	Handle    string `gorm:"primaryKey;type:varchar(64)"`
	ChatID    int64  `gorm:"not null;index"`
	Questions int    `gorm:"not null"`
	Stopped   bool   `gorm:"not null;default:false"`
	StoppedAt *time.Time
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (QuizRun) TableName() string {
	return "quiz_runs"
}
