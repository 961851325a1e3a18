package models

import (
	"fmt"
	"time"
)

type GameState string

const (
	GameStateIdle       GameState = "IDLE"
	GameStateRunning    GameState = "RUNNING"
	GameStateCleaningUp GameState = "CLEANING_UP"
)

// GameSession is the per-chat game record. A missing row reads as IDLE.
type GameSession struct {
	ChatID    int64     `gorm:"primaryKey;autoIncrement:false"`
	State     GameState `gorm:"type:varchar(20);not null;default:'IDLE'"`
	RunHandle *string   `gorm:"type:varchar(64)"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (GameSession) TableName() string {
	return "game_sessions"
}

var validTransitions = map[GameState][]GameState{
	GameStateIdle:       {GameStateRunning},
	GameStateRunning:    {GameStateCleaningUp},
	GameStateCleaningUp: {GameStateIdle},
}

// CanTransition reports whether from -> to is an edge of the session state machine.
func CanTransition(from, to GameState) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the session to the next state or fails without changing it.
func (s *GameSession) Transition(to GameState) error {
	if !CanTransition(s.State, to) {
		return fmt.Errorf("chat %d: %s -> %s", s.ChatID, s.State, to)
	}
	s.State = to
	return nil
}

// GameStateLockName is the lock that serializes session transitions of a chat.
func GameStateLockName(chatID int64) string {
	return fmt.Sprintf("chat.%d.gamestate", chatID)
}
