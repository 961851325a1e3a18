package repositories

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/mroshb/trivia_bot/internal/models"
	"github.com/mroshb/trivia_bot/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRound(chatID int64, messageID int, handle string) *models.QuestionRound {
	h := handle
	return &models.QuestionRound{
		ChatID:     chatID,
		MessageID:  messageID,
		QuestionID: "mcq_0",
		QuestionData: models.Question{
			ID:            "mcq_0",
			Type:          models.QuestionTypeMCQ,
			Text:          "Which pet meows?",
			CorrectAnswer: "cat",
			OtherAnswers:  []string{"dog", "fish"},
		},
		SentAt:        time.Now().UTC().Truncate(time.Second),
		TimeoutHandle: &h,
		RunHandle:     "run-1",
	}
}

func attemptInput(chatID int64, messageID int, userID int64, name, answer string) AttemptInput {
	return AttemptInput{
		ChatID:      chatID,
		MessageID:   messageID,
		Answer:      answer,
		SubmittedAt: time.Now().UTC(),
		UserID:      userID,
		DisplayName: name,
	}
}

func TestRoundRepository_Create(t *testing.T) {
	pg := requireDB(t)
	ctx := context.Background()
	repo := NewRoundRepository(pg.DB)

	require.NoError(t, repo.Create(ctx, newTestRound(1, 10, "question-timeout:1")))

	err := repo.Create(ctx, newTestRound(1, 10, "question-timeout:2"))
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrDuplicateRound), "got %v", err)

	err = repo.Create(ctx, newTestRound(1, 11, "question-timeout:3"))
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrActiveRoundExists), "got %v", err)

	// A different chat is independent.
	require.NoError(t, repo.Create(ctx, newTestRound(2, 10, "question-timeout:4")))
}

func TestRoundRepository_ConcurrentWinners(t *testing.T) {
	pg := requireDB(t)
	ctx := context.Background()
	repo := NewRoundRepository(pg.DB)
	require.NoError(t, repo.Create(ctx, newTestRound(1, 10, "question-timeout:1")))

	const players = 8
	outcomes := make([]models.AttemptOutcome, players)
	var wg sync.WaitGroup
	for i := 0; i < players; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := repo.RecordAttempt(ctx, attemptInput(1, 10, int64(100+i), "p", "CAT"))
			if assert.NoError(t, err) {
				outcomes[i] = res.Outcome
			}
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, o := range outcomes {
		if o == models.OutcomeWin {
			wins++
		} else {
			assert.Equal(t, models.OutcomeAlreadySolved, o)
		}
	}
	assert.Equal(t, 1, wins)

	round, err := repo.Find(ctx, 1, 10)
	require.NoError(t, err)
	assert.True(t, round.IsSolved())
	assert.False(t, round.IsOpen())
}

func TestRoundRepository_WinReturnsClearedHandle(t *testing.T) {
	pg := requireDB(t)
	ctx := context.Background()
	repo := NewRoundRepository(pg.DB)
	round := newTestRound(1, 10, "question-timeout:77")
	require.NoError(t, repo.Create(ctx, round))

	in := attemptInput(1, 10, 5, "Ann", "cat")
	in.SubmittedAt = round.SentAt.Add(4 * time.Second)
	res, err := repo.RecordAttempt(ctx, in)
	require.NoError(t, err)
	require.Equal(t, models.OutcomeWin, res.Outcome)
	require.NotNil(t, res.ClearedTimeoutHandle)
	assert.Equal(t, "question-timeout:77", *res.ClearedTimeoutHandle)
	assert.InDelta(t, 4.0, res.ElapsedSeconds, 0.001)

	open, err := repo.GetCurrentlyOpen(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, open)
}

func TestRoundRepository_WrongSet(t *testing.T) {
	pg := requireDB(t)
	ctx := context.Background()
	repo := NewRoundRepository(pg.DB)
	require.NoError(t, repo.Create(ctx, newTestRound(1, 10, "question-timeout:1")))

	res, err := repo.RecordAttempt(ctx, attemptInput(1, 10, 1, "Ann", "dog"))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeWrongNew, res.Outcome)
	assert.Equal(t, []models.WrongUser{{UserID: 1, Name: "Ann"}}, res.WrongUsers)

	// Re-adding is a no-op on membership.
	res, err = repo.RecordAttempt(ctx, attemptInput(1, 10, 1, "Ann", "fish"))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeWrongRepeat, res.Outcome)
	assert.Len(t, res.WrongUsers, 1)

	res, err = repo.RecordAttempt(ctx, attemptInput(1, 10, 2, "Bob", "dog"))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeWrongNew, res.Outcome)
	assert.Equal(t, []string{"Ann", "Bob"}, res.Round.WrongNames())
}

func TestRoundRepository_RejectRepeatWrong(t *testing.T) {
	pg := requireDB(t)
	ctx := context.Background()
	repo := NewRoundRepository(pg.DB)
	require.NoError(t, repo.Create(ctx, newTestRound(1, 10, "question-timeout:1")))

	_, err := repo.RecordAttempt(ctx, attemptInput(1, 10, 1, "Ann", "dog"))
	require.NoError(t, err)

	in := attemptInput(1, 10, 1, "Ann", "cat")
	in.RejectRepeatWrong = true
	res, err := repo.RecordAttempt(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeWrongRepeat, res.Outcome)

	round, err := repo.Find(ctx, 1, 10)
	require.NoError(t, err)
	assert.False(t, round.IsSolved())

	// Without the restriction the same user can still win.
	res, err = repo.RecordAttempt(ctx, attemptInput(1, 10, 1, "Ann", "cat"))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeWin, res.Outcome)
}

func TestRoundRepository_MarkInactive(t *testing.T) {
	pg := requireDB(t)
	ctx := context.Background()
	repo := NewRoundRepository(pg.DB)

	require.NoError(t, repo.Create(ctx, newTestRound(1, 10, "question-timeout:1")))
	require.NoError(t, repo.MarkInactive(ctx, 1, 10))
	open, err := repo.GetCurrentlyOpen(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, open)

	// Once inactive, the next round of the chat may open.
	require.NoError(t, repo.Create(ctx, newTestRound(1, 11, "question-timeout:2")))
	_, err = repo.RecordAttempt(ctx, attemptInput(1, 11, 1, "Ann", "cat"))
	require.NoError(t, err)

	err = repo.MarkInactive(ctx, 1, 11)
	assert.True(t, stderrors.Is(err, errors.ErrAlreadySolvedRace), "got %v", err)

	err = repo.MarkInactive(ctx, 1, 99)
	assert.True(t, stderrors.Is(err, errors.ErrRoundNotFound), "got %v", err)
}

func TestRoundRepository_NoWinAfterTimeout(t *testing.T) {
	pg := requireDB(t)
	ctx := context.Background()
	repo := NewRoundRepository(pg.DB)

	require.NoError(t, repo.Create(ctx, newTestRound(1, 10, "question-timeout:1")))
	require.NoError(t, repo.MarkInactive(ctx, 1, 10))

	for _, answer := range []string{"cat", "dog"} {
		res, err := repo.RecordAttempt(ctx, attemptInput(1, 10, 1, "Ann", answer))
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeExpired, res.Outcome, "answer %q", answer)
		assert.Empty(t, res.WrongUsers)
	}

	round, err := repo.Find(ctx, 1, 10)
	require.NoError(t, err)
	assert.False(t, round.IsSolved())
	assert.Empty(t, round.WrongUsers)
}

func TestRoundRepository_AttemptOnMissingRound(t *testing.T) {
	pg := requireDB(t)
	repo := NewRoundRepository(pg.DB)

	_, err := repo.RecordAttempt(context.Background(), attemptInput(1, 404, 1, "Ann", "cat"))
	assert.True(t, stderrors.Is(err, errors.ErrRoundNotFound), "got %v", err)
}

func TestRoundRepository_Cleanup(t *testing.T) {
	pg := requireDB(t)
	ctx := context.Background()
	repo := NewRoundRepository(pg.DB)

	require.NoError(t, repo.Create(ctx, newTestRound(1, 10, "question-timeout:1")))
	require.NoError(t, repo.MarkInactive(ctx, 1, 10))
	require.NoError(t, repo.Create(ctx, newTestRound(1, 11, "question-timeout:2")))
	require.NoError(t, repo.Create(ctx, newTestRound(2, 10, "question-timeout:3")))

	rounds, err := repo.ListActiveForChat(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, rounds, 2)

	deleted, err := repo.Cleanup(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	deleted, err = repo.Cleanup(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	rounds, err = repo.ListActiveForChat(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, rounds, 1)
}
