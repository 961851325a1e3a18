package models

import "time"

// ChatScore is a player's running total inside one chat's session.
type ChatScore struct {
	ChatID    int64     `gorm:"primaryKey;autoIncrement:false"`
	UserID    int64     `gorm:"primaryKey;autoIncrement:false"`
	Score     int64     `gorm:"not null;default:0;index:idx_chat_scores_board,sort:desc"`
	UserData  UserData  `gorm:"serializer:json;type:jsonb;not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (ChatScore) TableName() string {
	return "chat_scores"
}

// GlobalScore is a player's all-time total across chats.
type GlobalScore struct {
	UserID    int64     `gorm:"primaryKey;autoIncrement:false"`
	Score     int64     `gorm:"not null;default:0;index:idx_global_scores_board,sort:desc"`
	UserData  UserData  `gorm:"serializer:json;type:jsonb;not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (GlobalScore) TableName() string {
	return "global_scores"
}

// Player is a leaderboard row.
type Player struct {
	UserID   int64    `json:"user_id"`
	Score    int64    `json:"score"`
	UserData UserData `json:"user_data"`
}

// DisplayName of the player.
func (p Player) DisplayName() string {
	return p.UserData.DisplayName()
}
