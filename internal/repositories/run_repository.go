package repositories

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/mroshb/trivia_bot/internal/models"
	"github.com/mroshb/trivia_bot/pkg/errors"
	"gorm.io/gorm"
)

type RunRepository struct {
	db *gorm.DB
}

func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) Create(ctx context.Context, run *models.QuizRun) error {
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to create quiz run")
	}
	return nil
}

// Get returns the run, or nil if the handle is unknown.
func (r *RunRepository) Get(ctx context.Context, handle string) (*models.QuizRun, error) {
	var run models.QuizRun
	err := r.db.WithContext(ctx).Where("handle = ?", handle).First(&run).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to get quiz run")
	}
	return &run, nil
}

// Stop marks the run stopped and reports whether this call stopped it.
func (r *RunRepository) Stop(ctx context.Context, handle string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.QuizRun{}).
		Where("handle = ? AND stopped = ?", handle, false).
		Updates(map[string]interface{}{
			"stopped":    true,
			"stopped_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return false, errors.Wrap(result.Error, errors.ErrCodeInternalError, "failed to stop quiz run")
	}
	return result.RowsAffected > 0, nil
}
