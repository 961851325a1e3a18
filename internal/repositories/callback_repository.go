package repositories

import (
	"context"
	stderrors "errors"

	"github.com/mroshb/trivia_bot/internal/models"
	"github.com/mroshb/trivia_bot/pkg/errors"
	"github.com/mroshb/trivia_bot/pkg/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxTokenAttempts = 5

type CallbackRepository struct {
	db  *gorm.DB
	rnd utils.Random
}

func NewCallbackRepository(db *gorm.DB, rnd utils.Random) *CallbackRepository {
	return &CallbackRepository{db: db, rnd: rnd}
}

// Create stores payload under a fresh random token. A token collision is
// retried with a new token.
func (r *CallbackRepository) Create(ctx context.Context, payload models.CallbackPayload) (string, error) {
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		token := &models.CallbackToken{
			ChatID:     payload.ChatID,
			Token:      utils.GenerateToken(r.rnd, utils.TokenLength),
			QuestionID: payload.QuestionID,
			Answer:     payload.Answer,
		}

		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(token)
		if result.Error != nil {
			return "", errors.Wrap(result.Error, errors.ErrCodeInternalError, "failed to create callback token")
		}
		if result.RowsAffected == 1 {
			return token.Token, nil
		}
	}
	return "", errors.New(errors.ErrCodeTokenExhausted, "could not generate a unique callback token")
}

// Retrieve returns the payload behind token, or nil if it is unknown or expired.
func (r *CallbackRepository) Retrieve(ctx context.Context, chatID int64, token string) (*models.CallbackPayload, error) {
	var cb models.CallbackToken
	err := r.db.WithContext(ctx).
		Where("chat_id = ? AND token = ?", chatID, token).
		First(&cb).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to retrieve callback token")
	}
	payload := cb.Payload()
	return &payload, nil
}

func (r *CallbackRepository) DeleteForQuestion(ctx context.Context, chatID int64, questionID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("chat_id = ? AND question_id = ?", chatID, questionID).
		Delete(&models.CallbackToken{})
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, errors.ErrCodeInternalError, "failed to delete question callbacks")
	}
	return result.RowsAffected, nil
}

func (r *CallbackRepository) DeleteAll(ctx context.Context, chatID int64) (int64, error) {
	result := r.db.WithContext(ctx).Where("chat_id = ?", chatID).Delete(&models.CallbackToken{})
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, errors.ErrCodeInternalError, "failed to delete chat callbacks")
	}
	return result.RowsAffected, nil
}
