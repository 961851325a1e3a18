package repositories

import (
	"context"
	stderrors "errors"

	"github.com/mroshb/trivia_bot/internal/models"
	"github.com/mroshb/trivia_bot/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type QuestionRepository struct {
	db *gorm.DB
}

func NewQuestionRepository(db *gorm.DB) *QuestionRepository {
	return &QuestionRepository{db: db}
}

// Create inserts or overwrites a question.
func (r *QuestionRepository) Create(ctx context.Context, q *models.Question) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(q).Error
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to create question")
	}
	return nil
}

func (r *QuestionRepository) Find(ctx context.Context, id string) (*models.Question, error) {
	var q models.Question
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&q).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.New(errors.ErrCodeNotFound, "question not found: "+id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to find question")
	}
	return &q, nil
}

func (r *QuestionRepository) ListIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&models.Question{}).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to list question ids")
	}
	return ids, nil
}

func (r *QuestionRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Question{}).Count(&count).Error; err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternalError, "failed to count questions")
	}
	return count, nil
}

func (r *QuestionRepository) Truncate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).Where("1 = 1").Delete(&models.Question{}).Error; err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to truncate questions")
	}
	return nil
}

// Replace swaps the whole bank for questions in one transaction.
func (r *QuestionRepository) Replace(ctx context.Context, questions []models.Question) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.Question{}).Error; err != nil {
			return err
		}
		if len(questions) == 0 {
			return nil
		}
		return tx.CreateInBatches(questions, 100).Error
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to replace questions")
	}
	return nil
}
