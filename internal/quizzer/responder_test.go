package quizzer

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mroshb/trivia_bot/internal/models"
	"github.com/mroshb/trivia_bot/pkg/errors"
	"github.com/mroshb/trivia_bot/pkg/logger"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const testChat int64 = -1001

func askQuestion(t *testing.T, h *harness, q *models.Question) *models.QuestionRound {
	t.Helper()
	round, err := NewAsker(h.deps).Ask(context.Background(), testChat, "run-1", "question-timeout:7", q)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	return round
}

func buttonAttempt(round *models.QuestionRound, userID int64, name, answer string) models.Attempt {
	return models.Attempt{
		ChatID:          round.ChatID,
		MessageID:       round.MessageID,
		Answer:          answer,
		SubmittedAt:     round.SentAt.Add(2 * time.Second),
		UserID:          userID,
		User:            user(name),
		CallbackQueryID: fmt.Sprintf("cb-%d", userID),
	}
}

func replyAttempt(round *models.QuestionRound, userID int64, name, answer string, elapsed time.Duration) models.Attempt {
	return models.Attempt{
		ChatID:         round.ChatID,
		MessageID:      round.MessageID,
		Answer:         answer,
		SubmittedAt:    round.SentAt.Add(elapsed),
		UserID:         userID,
		User:           user(name),
		ReplyMessageID: 500 + int(userID),
	}
}

func TestAsk_ChoiceQuestionCreatesTokensAndRound(t *testing.T) {
	h := newHarness()
	round := askQuestion(t, h, mcqQuestion())

	if len(round.Options) != 3 {
		t.Fatalf("options = %d, want 3", len(round.Options))
	}
	if h.tokens.count() != 3 {
		t.Errorf("tokens = %d, want 3", h.tokens.count())
	}
	if round.TimeoutHandle == nil || *round.TimeoutHandle != "question-timeout:7" {
		t.Errorf("timeout handle = %v", round.TimeoutHandle)
	}
	if !round.SentAt.Equal(sentAt) {
		t.Errorf("sent at = %v, want %v", round.SentAt, sentAt)
	}

	payload, err := h.tokens.Retrieve(context.Background(), testChat, round.Options[0].CallbackID)
	if err != nil || payload == nil {
		t.Fatalf("Retrieve() = %v, %v", payload, err)
	}
	if payload.Answer != round.Options[0].Answer || payload.QuestionID != "mcq_0" {
		t.Errorf("payload = %+v", payload)
	}

	sent := h.messenger.sent[0]
	if !sent.Opts.ParseHTML || len(sent.Opts.Keyboard) != 3 {
		t.Errorf("send options = %+v", sent.Opts)
	}
}

func TestAsk_SecondOpenRoundRejected(t *testing.T) {
	h := newHarness()
	askQuestion(t, h, openQuestion())

	_, err := NewAsker(h.deps).Ask(context.Background(), testChat, "run-1", "question-timeout:8", openQuestion())
	if !stderrors.Is(err, errors.ErrActiveRoundExists) {
		t.Fatalf("Ask() error = %v, want ErrActiveRoundExists", err)
	}
}

func TestAttempt_AtMostOneWinner(t *testing.T) {
	h := newHarness()
	round := askQuestion(t, h, mcqQuestion())
	responder := NewResponder(h.deps)

	const players = 16
	outcomes := make([]models.AttemptOutcome, players)
	var wg sync.WaitGroup
	for i := 0; i < players; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := responder.Attempt(context.Background(), buttonAttempt(round, int64(i+1), fmt.Sprintf("p%d", i), "Cat"))
			if err != nil {
				t.Errorf("Attempt() error = %v", err)
				return
			}
			outcomes[i] = res.Outcome
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, o := range outcomes {
		switch o {
		case models.OutcomeWin:
			wins++
		case models.OutcomeAlreadySolved:
		default:
			t.Errorf("unexpected outcome %s", o)
		}
	}
	if wins != 1 {
		t.Fatalf("wins = %d, want 1", wins)
	}

	stops := h.orch.stopCalls()
	if len(stops) != 1 || stops[0] != (stopCall{Handle: "question-timeout:7", Reason: StopAnswered}) {
		t.Errorf("stops = %+v", stops)
	}
	if n := h.messenger.countContaining("has been awarded 100 points"); n != 1 {
		t.Errorf("win messages = %d, want 1", n)
	}
	if h.tokens.count() != 0 {
		t.Errorf("tokens left = %d, want 0", h.tokens.count())
	}
}

func TestAttempt_ChoiceRace(t *testing.T) {
	h := newHarness()
	round := askQuestion(t, h, mcqQuestion())
	responder := NewResponder(h.deps)
	ctx := context.Background()

	tests := []struct {
		userID int64
		name   string
		answer string
		want   models.AttemptOutcome
		reply  string
	}{
		{1, "Alice", "dog", models.OutcomeWrongNew, textWrong},
		{2, "Bob", "cat", models.OutcomeWin, textCorrect},
		{3, "Carol", "cat", models.OutcomeAlreadySolved, textBeaten},
	}
	for _, tt := range tests {
		res, err := responder.Attempt(ctx, buttonAttempt(round, tt.userID, tt.name, tt.answer))
		if err != nil {
			t.Fatalf("%s: Attempt() error = %v", tt.name, err)
		}
		if res.Outcome != tt.want {
			t.Errorf("%s: outcome = %s, want %s", tt.name, res.Outcome, tt.want)
		}
	}

	for i, tt := range tests {
		got := h.messenger.answers[i]
		if got.ID != fmt.Sprintf("cb-%d", tt.userID) || got.Text != tt.reply {
			t.Errorf("callback answer %d = %+v, want %q", i, got, tt.reply)
		}
	}

	if len(h.messenger.edits) != 1 {
		t.Fatalf("edits = %d, want 1", len(h.messenger.edits))
	}
	edit := h.messenger.edits[0]
	if edit.MessageID != round.MessageID || len(edit.Opts.Keyboard) != 3 {
		t.Errorf("edit = %+v", edit)
	}
	wantEdit := "<b>Question:</b> Which animal says meow?\n\nPress one of the buttons below!\n\n❌ Disqualified:\nAlice"
	if edit.Text != wantEdit {
		t.Errorf("edit text = %q, want %q", edit.Text, wantEdit)
	}

	wantWin := "🎉 Correct! The answer is cat. Bob has been awarded 100 points."
	if h.messenger.countContaining(wantWin) != 1 {
		t.Errorf("messages = %q, want one %q", h.messenger.texts(), wantWin)
	}
	if got := h.scores.score(testChat, 2); got != 100 {
		t.Errorf("Bob score = %d, want 100", got)
	}
	if got := h.scores.score(testChat, 3); got != 0 {
		t.Errorf("Carol score = %d, want 0", got)
	}
}

func TestAttempt_ReplyScoring(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		want    int64
	}{
		{"instant", 0, 100},
		{"midpoint", 15 * time.Second, 10},
		{"three seconds", 3 * time.Second, 80},
		{"late", 29 * time.Second, 93},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			round := askQuestion(t, h, openQuestion())

			res, err := NewResponder(h.deps).Attempt(context.Background(), replyAttempt(round, 1, "Alice", "  PARIS ", tt.elapsed))
			if err != nil {
				t.Fatalf("Attempt() error = %v", err)
			}
			if res.Outcome != models.OutcomeWin {
				t.Fatalf("outcome = %s, want win", res.Outcome)
			}
			if got := h.scores.score(testChat, 1); got != tt.want {
				t.Errorf("score = %d, want %d", got, tt.want)
			}

			last := h.messenger.sent[len(h.messenger.sent)-1]
			want := fmt.Sprintf("🎉 Correct! Alice has been awarded %d points.", tt.want)
			if last.Text != want || last.Opts == nil || last.Opts.ReplyTo != 501 {
				t.Errorf("reply = %+v, want %q to 501", last, want)
			}
			if len(h.messenger.answers) != 0 {
				t.Errorf("callback answers = %d, want 0", len(h.messenger.answers))
			}
		})
	}
}

func TestAttempt_ReplyWrongSetIsFinal(t *testing.T) {
	h := newHarness()
	round := askQuestion(t, h, openQuestion())
	responder := NewResponder(h.deps)
	ctx := context.Background()

	steps := []struct {
		userID int64
		name   string
		answer string
		want   models.AttemptOutcome
	}{
		{1, "Alice", "lyon", models.OutcomeWrongNew},
		{2, "Bob", "nice", models.OutcomeWrongNew},
		{1, "Alice", "paris", models.OutcomeWrongRepeat},
		{1, "Alice", "lyon", models.OutcomeWrongRepeat},
	}
	for i, s := range steps {
		res, err := responder.Attempt(ctx, replyAttempt(round, s.userID, s.name, s.answer, time.Second))
		if err != nil {
			t.Fatalf("step %d: Attempt() error = %v", i, err)
		}
		if res.Outcome != s.want {
			t.Errorf("step %d: outcome = %s, want %s", i, res.Outcome, s.want)
		}
		if i >= 1 && len(res.WrongUsers) != 2 {
			t.Errorf("step %d: wrong users = %+v, want 2", i, res.WrongUsers)
		}
	}

	stored, _ := h.rounds.Find(ctx, round.ChatID, round.MessageID)
	if stored.IsSolved() {
		t.Error("round solved by a disqualified user")
	}
	names := stored.WrongNames()
	if len(names) != 2 || names[0] != "Alice" || names[1] != "Bob" {
		t.Errorf("wrong names = %v, want [Alice Bob]", names)
	}
	if h.messenger.countContaining(textAlreadyWrong) != 2 {
		t.Errorf("repeat notices = %d, want 2", h.messenger.countContaining(textAlreadyWrong))
	}
	if len(h.messenger.edits) != 2 {
		t.Errorf("edits = %d, want 2", len(h.messenger.edits))
	}
}

func TestAttempt_LockFailureIsNotRetried(t *testing.T) {
	h := newHarness()
	round := askQuestion(t, h, openQuestion())
	h.locks.err = errors.Wrap(stderrors.New("busy"), errors.ErrCodeLockNotAcquired, "could not acquire lock")

	_, err := NewResponder(h.deps).Attempt(context.Background(), replyAttempt(round, 1, "Alice", "paris", time.Second))
	if !stderrors.Is(err, errors.ErrLockNotAcquired) {
		t.Fatalf("Attempt() error = %v, want ErrLockNotAcquired", err)
	}
	if h.rounds.attempts != 0 {
		t.Errorf("ledger writes = %d, want 0", h.rounds.attempts)
	}
	if len(h.locks.names) != 1 || h.locks.names[0] != models.QuestionLockName(testChat, round.MessageID) {
		t.Errorf("lock names = %v", h.locks.names)
	}
}

func TestAttempt_MissingRound(t *testing.T) {
	h := newHarness()
	round := &models.QuestionRound{ChatID: testChat, MessageID: 999, SentAt: sentAt}

	_, err := NewResponder(h.deps).Attempt(context.Background(), replyAttempt(round, 1, "Alice", "paris", time.Second))
	if !stderrors.Is(err, errors.ErrRoundNotFound) {
		t.Fatalf("Attempt() error = %v, want ErrRoundNotFound", err)
	}
}

func TestAttempt_InvalidChannel(t *testing.T) {
	h := newHarness()
	_, err := NewResponder(h.deps).Attempt(context.Background(), models.Attempt{ChatID: testChat, MessageID: 1, Answer: "x"})
	if !errors.HasCode(err, errors.ErrCodeValidation) {
		t.Fatalf("Attempt() error = %v, want validation error", err)
	}
}

func TestAttempt_AfterTimeoutDoesNotWin(t *testing.T) {
	tests := []struct {
		name   string
		q      *models.Question
		answer func(*models.QuestionRound) models.Attempt
	}{
		{"late reply", openQuestion(), func(r *models.QuestionRound) models.Attempt {
			return replyAttempt(r, 1, "Late", "paris", 40*time.Second)
		}},
		{"late button", mcqQuestion(), func(r *models.QuestionRound) models.Attempt {
			return buttonAttempt(r, 1, "Late", "cat")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			round := askQuestion(t, h, tt.q)
			responder := NewResponder(h.deps)
			ctx := context.Background()
			core, logs := observer.New(zapcore.InfoLevel)
			defer logger.Replace(core)()

			if expired, err := responder.Fail(ctx, testChat, round.MessageID); err != nil || !expired {
				t.Fatalf("Fail() = %v, %v, want true", expired, err)
			}

			res, err := responder.Attempt(ctx, tt.answer(round))
			if err != nil {
				t.Fatalf("Attempt() error = %v", err)
			}
			if res.Outcome != models.OutcomeExpired {
				t.Fatalf("outcome = %s, want expired", res.Outcome)
			}
			if got := h.scores.score(testChat, 1); got != 0 {
				t.Errorf("score = %d, want 0", got)
			}
			if h.messenger.countContaining("Correct!") != 0 {
				t.Errorf("late attempt congratulated: %q", h.messenger.texts())
			}
			if len(res.WrongUsers) != 0 {
				t.Errorf("wrong users = %+v, want none", res.WrongUsers)
			}
			recorded := logs.FilterMessage("Attempt recorded").All()
			if len(recorded) != 1 || recorded[0].ContextMap()["outcome"] != "expired" {
				t.Errorf("attempt log = %+v", recorded)
			}

			a := tt.answer(round)
			if a.Channel() == models.ChannelReply {
				last := h.messenger.sent[len(h.messenger.sent)-1]
				if last.Text != TextExpired || last.Opts == nil || last.Opts.ReplyTo != a.ReplyMessageID {
					t.Errorf("reply = %+v, want %q", last, TextExpired)
				}
			} else if n := len(h.messenger.answers); n == 0 || h.messenger.answers[n-1].Text != TextExpired {
				t.Errorf("callback answers = %+v, want %q", h.messenger.answers, TextExpired)
			}
		})
	}
}

func TestFail(t *testing.T) {
	t.Run("expires open round", func(t *testing.T) {
		h := newHarness()
		round := askQuestion(t, h, mcqQuestion())

		expired, err := NewResponder(h.deps).Fail(context.Background(), testChat, round.MessageID)
		if err != nil || !expired {
			t.Fatalf("Fail() = %v, %v, want true", expired, err)
		}
		if h.messenger.countContaining("Too slow! The answer is cat") != 1 {
			t.Errorf("messages = %q", h.messenger.texts())
		}
		if h.tokens.count() != 0 {
			t.Errorf("tokens left = %d", h.tokens.count())
		}
		open, _ := h.rounds.GetCurrentlyOpen(context.Background(), testChat)
		if open != nil {
			t.Errorf("round still open: %+v", open)
		}
	})

	t.Run("loses to winner", func(t *testing.T) {
		h := newHarness()
		round := askQuestion(t, h, mcqQuestion())
		responder := NewResponder(h.deps)

		if _, err := responder.Attempt(context.Background(), buttonAttempt(round, 1, "Alice", "cat")); err != nil {
			t.Fatalf("Attempt() error = %v", err)
		}
		expired, err := responder.Fail(context.Background(), testChat, round.MessageID)
		if err != nil || expired {
			t.Fatalf("Fail() = %v, %v, want false", expired, err)
		}
		if h.messenger.countContaining("Too slow!") != 0 {
			t.Errorf("timeout message sent after a win: %q", h.messenger.texts())
		}
	})

	t.Run("missing round", func(t *testing.T) {
		h := newHarness()
		_, err := NewResponder(h.deps).Fail(context.Background(), testChat, 42)
		if !stderrors.Is(err, errors.ErrRoundNotFound) {
			t.Fatalf("Fail() error = %v, want ErrRoundNotFound", err)
		}
	})
}
