package repositories

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/mroshb/trivia_bot/internal/models"
	"github.com/mroshb/trivia_bot/pkg/errors"
	"gorm.io/gorm"
)

// OpenRoundIndex mirrors database.OpenRoundIndex; repositories must not
// import the migration package.
const OpenRoundIndex = "idx_question_rounds_open_per_chat"

// RoundRepository is the question round ledger. The conditional UPDATE
// statements below are the arbitration boundary; callers may hold a lock
// but correctness does not depend on it.
type RoundRepository struct {
	db *gorm.DB
}

func NewRoundRepository(db *gorm.DB) *RoundRepository {
	return &RoundRepository{db: db}
}

// Create persists a new round. A second round for the same message fails with
// ErrDuplicateRound; a second open round in the chat with ErrActiveRoundExists.
func (r *RoundRepository) Create(ctx context.Context, round *models.QuestionRound) error {
	if round.WrongUsers == nil {
		round.WrongUsers = []models.WrongUser{}
	}
	if round.Options == nil {
		round.Options = []models.AnswerOption{}
	}

	if err := r.db.WithContext(ctx).Create(round).Error; err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			if constraint == OpenRoundIndex {
				return errors.Wrap(err, errors.ErrCodeActiveRoundExists, "another round is still open in this chat")
			}
			return errors.Wrap(err, errors.ErrCodeDuplicateRound, "round already exists for this message")
		}
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to create round")
	}
	return nil
}

// AttemptInput is one answer as the ledger sees it.
type AttemptInput struct {
	ChatID      int64
	MessageID   int
	Answer      string
	SubmittedAt time.Time
	UserID      int64
	DisplayName string
	// RejectRepeatWrong stops a user already in the wrong set from winning.
	RejectRepeatWrong bool
}

const winSQL = `
UPDATE question_rounds AS r
SET solved_at = ?, timeout_handle = NULL
FROM (
	SELECT chat_id, message_id, timeout_handle
	FROM question_rounds
	WHERE chat_id = ? AND message_id = ?
	FOR UPDATE
) AS old
WHERE r.chat_id = old.chat_id
	AND r.message_id = old.message_id
	AND r.solved_at IS NULL
	AND r.timeout_handle IS NOT NULL
	AND lower(r.question_data->>'correct_answer') = lower(?)`

const notInWrongSetSQL = `
	AND NOT (COALESCE(NULLIF(r.wrong_users, 'null'::jsonb), '[]'::jsonb)
		@> jsonb_build_array(jsonb_build_object('user_id', ?::bigint)))`

const winReturningSQL = `
RETURNING r.sent_at, old.timeout_handle`

const wrongSQL = `
UPDATE question_rounds AS r
SET wrong_users = CASE
	WHEN r.solved_at IS NULL AND r.timeout_handle IS NULL THEN r.wrong_users
	WHEN COALESCE(NULLIF(r.wrong_users, 'null'::jsonb), '[]'::jsonb)
		@> jsonb_build_array(jsonb_build_object('user_id', ?::bigint))
	THEN r.wrong_users
	ELSE COALESCE(NULLIF(r.wrong_users, 'null'::jsonb), '[]'::jsonb)
		|| jsonb_build_array(jsonb_build_object('user_id', ?::bigint, 'name', ?::text))
	END
FROM (
	SELECT chat_id, message_id, wrong_users
	FROM question_rounds
	WHERE chat_id = ? AND message_id = ?
	FOR UPDATE
) AS old
WHERE r.chat_id = old.chat_id AND r.message_id = old.message_id
RETURNING
	COALESCE(NULLIF(old.wrong_users, 'null'::jsonb), '[]'::jsonb)
		@> jsonb_build_array(jsonb_build_object('user_id', ?::bigint)) AS rejected_before,
	r.solved_at IS NOT NULL AS already_solved,
	r.solved_at IS NULL AND r.timeout_handle IS NULL AS expired,
	COALESCE(NULLIF(r.wrong_users, 'null'::jsonb), '[]'::jsonb)::text AS wrong_users`

type winRow struct {
	SentAt        time.Time
	TimeoutHandle *string
}

type wrongRow struct {
	RejectedBefore bool
	AlreadySolved  bool
	Expired        bool
	WrongUsers     string
}

// RecordAttempt runs the win-or-disqualify conditional write for one attempt.
// Anticipated races come back as outcomes; only a missing round or an
// infrastructure failure is an error.
func (r *RoundRepository) RecordAttempt(ctx context.Context, in AttemptInput) (*models.AttemptResult, error) {
	db := r.db.WithContext(ctx)

	query := winSQL
	args := []interface{}{in.SubmittedAt, in.ChatID, in.MessageID, in.Answer}
	if in.RejectRepeatWrong {
		query += notInWrongSetSQL
		args = append(args, in.UserID)
	}
	query += winReturningSQL

	var won []winRow
	if err := db.Raw(query, args...).Scan(&won).Error; err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to record winning attempt")
	}
	if len(won) == 1 {
		round, err := r.Find(ctx, in.ChatID, in.MessageID)
		if err != nil {
			return nil, err
		}
		return &models.AttemptResult{
			Outcome:              models.OutcomeWin,
			Round:                round,
			ElapsedSeconds:       in.SubmittedAt.Sub(won[0].SentAt).Seconds(),
			ClearedTimeoutHandle: won[0].TimeoutHandle,
			WrongUsers:           round.WrongUsers,
		}, nil
	}

	var wrong []wrongRow
	err := db.Raw(wrongSQL,
		in.UserID, in.UserID, in.DisplayName,
		in.ChatID, in.MessageID,
		in.UserID,
	).Scan(&wrong).Error
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to record wrong attempt")
	}
	if len(wrong) == 0 {
		return nil, errors.ErrRoundNotFound
	}

	var wrongUsers []models.WrongUser
	if err := json.Unmarshal([]byte(wrong[0].WrongUsers), &wrongUsers); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to decode wrong users")
	}

	round, err := r.Find(ctx, in.ChatID, in.MessageID)
	if err != nil {
		return nil, err
	}

	result := &models.AttemptResult{
		Round:      round,
		WrongUsers: wrongUsers,
	}
	switch {
	case wrong[0].AlreadySolved:
		result.Outcome = models.OutcomeAlreadySolved
	case wrong[0].Expired:
		result.Outcome = models.OutcomeExpired
	case wrong[0].RejectedBefore:
		result.Outcome = models.OutcomeWrongRepeat
	default:
		result.Outcome = models.OutcomeWrongNew
	}
	return result, nil
}

// MarkInactive clears the pending timeout of an unsolved round. It returns
// ErrAlreadySolvedRace when a winning attempt got there first.
func (r *RoundRepository) MarkInactive(ctx context.Context, chatID int64, messageID int) error {
	result := r.db.WithContext(ctx).Model(&models.QuestionRound{}).
		Where("chat_id = ? AND message_id = ? AND solved_at IS NULL", chatID, messageID).
		Update("timeout_handle", nil)
	if result.Error != nil {
		return errors.Wrap(result.Error, errors.ErrCodeInternalError, "failed to mark round inactive")
	}
	if result.RowsAffected > 0 {
		return nil
	}

	if _, err := r.Find(ctx, chatID, messageID); err != nil {
		return err
	}
	return errors.ErrAlreadySolvedRace
}

// Find returns the round or ErrRoundNotFound.
func (r *RoundRepository) Find(ctx context.Context, chatID int64, messageID int) (*models.QuestionRound, error) {
	var round models.QuestionRound
	err := r.db.WithContext(ctx).
		Where("chat_id = ? AND message_id = ?", chatID, messageID).
		First(&round).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.ErrRoundNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to find round")
	}
	return &round, nil
}

// ListActiveForChat returns the rounds of the chat's current session, oldest first.
func (r *RoundRepository) ListActiveForChat(ctx context.Context, chatID int64) ([]models.QuestionRound, error) {
	var rounds []models.QuestionRound
	err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("sent_at ASC").
		Find(&rounds).Error
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to list rounds")
	}
	return rounds, nil
}

// GetCurrentlyOpen returns the round still waiting on its timeout, or nil.
func (r *RoundRepository) GetCurrentlyOpen(ctx context.Context, chatID int64) (*models.QuestionRound, error) {
	var round models.QuestionRound
	err := r.db.WithContext(ctx).
		Where("chat_id = ? AND timeout_handle IS NOT NULL", chatID).
		First(&round).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to get open round")
	}
	return &round, nil
}

// Cleanup deletes every round of the chat.
func (r *RoundRepository) Cleanup(ctx context.Context, chatID int64) (int64, error) {
	result := r.db.WithContext(ctx).Where("chat_id = ?", chatID).Delete(&models.QuestionRound{})
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, errors.ErrCodeInternalError, "failed to clean up rounds")
	}
	return result.RowsAffected, nil
}
