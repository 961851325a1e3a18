package repositories

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/mroshb/trivia_bot/internal/models"
	"github.com/mroshb/trivia_bot/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Get returns the chat's session, or a fresh IDLE one if none was stored.
func (r *SessionRepository) Get(ctx context.Context, chatID int64) (*models.GameSession, error) {
	var session models.GameSession
	err := r.db.WithContext(ctx).Where("chat_id = ?", chatID).First(&session).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return &models.GameSession{ChatID: chatID, State: models.GameStateIdle}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to get game session")
	}
	return &session, nil
}

// Put writes the whole session record.
func (r *SessionRepository) Put(ctx context.Context, session *models.GameSession) error {
	session.UpdatedAt = time.Now().UTC()
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chat_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "run_handle", "updated_at"}),
	}).Create(session).Error
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to save game session")
	}
	return nil
}
