package repositories

import (
	"context"
	"time"

	"github.com/mroshb/trivia_bot/internal/models"
	"github.com/mroshb/trivia_bot/pkg/errors"
	"gorm.io/gorm"
)

// LockRepository stores leases in the locks table. Expiry is judged on the
// database clock so that bot instances need not agree on time.
type LockRepository struct {
	db *gorm.DB
}

func NewLockRepository(db *gorm.DB) *LockRepository {
	return &LockRepository{db: db}
}

const acquireSQL = `
INSERT INTO locks (name, owner, expires_at, updated_at)
VALUES (?, ?, now() + ? * interval '1 millisecond', now())
ON CONFLICT (name) DO UPDATE
SET owner = EXCLUDED.owner,
	expires_at = EXCLUDED.expires_at,
	updated_at = EXCLUDED.updated_at
WHERE locks.expires_at < now()`

// TryAcquire takes the lease if it is free or expired.
func (r *LockRepository) TryAcquire(ctx context.Context, name, owner string, lease time.Duration) (bool, error) {
	result := r.db.WithContext(ctx).Exec(acquireSQL, name, owner, lease.Milliseconds())
	if result.Error != nil {
		return false, errors.Wrap(result.Error, errors.ErrCodeInternalError, "failed to acquire lock")
	}
	return result.RowsAffected == 1, nil
}

// Extend pushes out the expiry of a lease still held by owner.
func (r *LockRepository) Extend(ctx context.Context, name, owner string, lease time.Duration) (bool, error) {
	result := r.db.WithContext(ctx).Exec(
		"UPDATE locks SET expires_at = now() + ? * interval '1 millisecond', updated_at = now() WHERE name = ? AND owner = ?",
		lease.Milliseconds(), name, owner,
	)
	if result.Error != nil {
		return false, errors.Wrap(result.Error, errors.ErrCodeInternalError, "failed to extend lock")
	}
	return result.RowsAffected == 1, nil
}

// Release drops the lease if owner still holds it.
func (r *LockRepository) Release(ctx context.Context, name, owner string) error {
	result := r.db.WithContext(ctx).
		Where("name = ? AND owner = ?", name, owner).
		Delete(&models.Lock{})
	if result.Error != nil {
		return errors.Wrap(result.Error, errors.ErrCodeInternalError, "failed to release lock")
	}
	return nil
}
