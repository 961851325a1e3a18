package repositories

import (
	"context"
	"encoding/json"

	"github.com/mroshb/trivia_bot/internal/models"
	"github.com/mroshb/trivia_bot/pkg/errors"
	"gorm.io/gorm"
)

type ScoreRepository struct {
	db *gorm.DB
}

func NewScoreRepository(db *gorm.DB) *ScoreRepository {
	return &ScoreRepository{db: db}
}

const awardSQL = `
INSERT INTO chat_scores (chat_id, user_id, score, user_data, updated_at)
VALUES (?, ?, ?, ?::jsonb, now())
ON CONFLICT (chat_id, user_id) DO UPDATE
SET score = chat_scores.score + EXCLUDED.score,
	user_data = EXCLUDED.user_data,
	updated_at = EXCLUDED.updated_at
RETURNING score`

// Award adds points to the player's chat score, creating it if absent, and
// returns the new total.
func (r *ScoreRepository) Award(ctx context.Context, chatID, userID, points int64, user models.UserData) (int64, error) {
	if points < 0 {
		return 0, errors.New(errors.ErrCodeValidation, "award points must not be negative")
	}

	data, err := json.Marshal(user)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternalError, "failed to encode user data")
	}

	var total int64
	if err := r.db.WithContext(ctx).Raw(awardSQL, chatID, userID, points, string(data)).Scan(&total).Error; err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternalError, "failed to award points")
	}
	return total, nil
}

// Top returns the chat's players by descending score.
func (r *ScoreRepository) Top(ctx context.Context, chatID int64, limit int) ([]models.Player, error) {
	var scores []models.ChatScore
	err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("score DESC").
		Limit(limit).
		Find(&scores).Error
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to get chat leaderboard")
	}

	players := make([]models.Player, 0, len(scores))
	for _, s := range scores {
		players = append(players, models.Player{UserID: s.UserID, Score: s.Score, UserData: s.UserData})
	}
	return players, nil
}

// TopGlobal returns the all-time players by descending score.
func (r *ScoreRepository) TopGlobal(ctx context.Context, limit int) ([]models.Player, error) {
	var scores []models.GlobalScore
	err := r.db.WithContext(ctx).
		Order("score DESC").
		Limit(limit).
		Find(&scores).Error
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to get global leaderboard")
	}

	players := make([]models.Player, 0, len(scores))
	for _, s := range scores {
		players = append(players, models.Player{UserID: s.UserID, Score: s.Score, UserData: s.UserData})
	}
	return players, nil
}

const promoteSQL = `
INSERT INTO global_scores (user_id, score, user_data, updated_at)
SELECT user_id, score, user_data, now() FROM chat_scores WHERE chat_id = ?
ON CONFLICT (user_id) DO UPDATE
SET score = global_scores.score + EXCLUDED.score,
	user_data = EXCLUDED.user_data,
	updated_at = EXCLUDED.updated_at`

// PromoteToGlobal adds every chat score into the global board and then
// deletes the chat scores. Calling it twice adds twice if new chat scores
// were awarded in between; on an empty chat it does nothing.
func (r *ScoreRepository) PromoteToGlobal(ctx context.Context, chatID int64) (int64, error) {
	var promoted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Exec(promoteSQL, chatID)
		if result.Error != nil {
			return result.Error
		}
		promoted = result.RowsAffected

		return tx.Where("chat_id = ?", chatID).Delete(&models.ChatScore{}).Error
	})
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternalError, "failed to promote scores")
	}
	return promoted, nil
}
