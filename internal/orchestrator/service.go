package orchestrator

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mroshb/trivia_bot/internal/models"
	"github.com/mroshb/trivia_bot/internal/quizzer"
	"github.com/mroshb/trivia_bot/pkg/errors"
	"github.com/mroshb/trivia_bot/pkg/logger"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivertype"
)

const QueueName = "trivia"

// Steps are the game operations the run jobs invoke.
type Steps interface {
	SampleQuestions(ctx context.Context, count int) ([]string, error)
	ChooseNext(ctx context.Context, sample, alreadyAsked []string) (*quizzer.Choice, error)
	Ask(ctx context.Context, chatID int64, runHandle, timeoutHandle string, q *models.Question) (*models.QuestionRound, error)
	Fail(ctx context.Context, chatID int64, messageID int) (bool, error)
	Intermission(ctx context.Context, chatID int64) error
	End(ctx context.Context, chatID int64) error
}

type RunStore interface {
	Create(ctx context.Context, run *models.QuizRun) error
	Get(ctx context.Context, handle string) (*models.QuizRun, error)
	Stop(ctx context.Context, handle string) (bool, error)
}

// jobQueue is the part of the River client the service uses.
type jobQueue interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
	JobCancel(ctx context.Context, jobID int64) (*rivertype.JobRow, error)
}

type Options struct {
	QuestionTimeout time.Duration
	Intermission    time.Duration
	MaxWorkers      int
}

// Service runs games as chains of River jobs and implements
// quizzer.Orchestrator.
type Service struct {
	client   *river.Client[pgx.Tx]
	queue    jobQueue
	runs     RunStore
	sessions quizzer.SessionStore
	rounds   quizzer.RoundLedger
	locks    quizzer.Locker
	opts     Options
	now      func() time.Time

	mu    sync.RWMutex
	steps Steps
}

var _ quizzer.Orchestrator = (*Service)(nil)

// New builds the service and its River client. Bind must be called before
// StartWorkers.
func New(pool *pgxpool.Pool, runs RunStore, sessions quizzer.SessionStore, rounds quizzer.RoundLedger, locks quizzer.Locker, opts Options) (*Service, error) {
	s := newService(runs, sessions, rounds, locks, opts)

	workers := river.NewWorkers()
	s.registerWorkers(workers)

	maxWorkers := opts.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 50
	}
	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			QueueName: {MaxWorkers: maxWorkers},
		},
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}
	s.client = client
	s.queue = client
	return s, nil
}

func newService(runs RunStore, sessions quizzer.SessionStore, rounds quizzer.RoundLedger, locks quizzer.Locker, opts Options) *Service {
	return &Service{
		runs:     runs,
		sessions: sessions,
		rounds:   rounds,
		locks:    locks,
		opts:     opts,
		now:      time.Now,
	}
}

func (s *Service) registerWorkers(workers *river.Workers) {
	river.AddWorker(workers, &sampleWorker{s: s})
	river.AddWorker(workers, &chooseWorker{s: s})
	river.AddWorker(workers, &timeoutWorker{s: s})
	river.AddWorker(workers, &intermissionWorker{s: s})
	river.AddWorker(workers, &endWorker{s: s})
}

// Bind attaches the game steps. The steps depend on the service as their
// orchestrator, so they are wired after construction.
func (s *Service) Bind(steps Steps) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = steps
}

func (s *Service) boundSteps() (Steps, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.steps == nil {
		return nil, stderrors.New("orchestrator: steps not bound")
	}
	return s.steps, nil
}

// StartWorkers starts working jobs.
func (s *Service) StartWorkers(ctx context.Context) error {
	if _, err := s.boundSteps(); err != nil {
		return err
	}
	logger.Info("Starting trivia job workers")
	if err := s.client.Start(ctx); err != nil {
		return fmt.Errorf("failed to start River client: %w", err)
	}
	return nil
}

// StopWorkers waits for running jobs to finish.
func (s *Service) StopWorkers(ctx context.Context) error {
	logger.Info("Stopping trivia job workers")
	if err := s.client.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop River client: %w", err)
	}
	return nil
}

// Start records a run and enqueues its first step.
func (s *Service) Start(ctx context.Context, input quizzer.RunInput) (string, error) {
	handle := uuid.NewString()
	run := &models.QuizRun{Handle: handle, ChatID: input.ChatID, Questions: input.Questions}
	if err := s.runs.Create(ctx, run); err != nil {
		return "", err
	}

	if err := s.enqueue(ctx, SampleQuestionsArgs{ChatID: input.ChatID, RunHandle: handle, Questions: input.Questions}, time.Time{}); err != nil {
		if _, stopErr := s.runs.Stop(context.WithoutCancel(ctx), handle); stopErr != nil {
			logger.Error("Failed to stop run after enqueue failure", "handle", handle, "error", stopErr)
		}
		return "", err
	}

	logger.Info("Run started", "chat_id", input.ChatID, "handle", handle, "questions", input.Questions)
	return handle, nil
}

// Stop ends a run or a pending question timeout. Unknown or finished handles
// are ignored. An answered timeout that was still scheduled is replaced by
// the intermission step; a timeout job already running continues the run
// itself.
func (s *Service) Stop(ctx context.Context, handle string, reason quizzer.StopReason) error {
	jobID, isTimeout, err := ParseTimeoutHandle(handle)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeValidation, "invalid handle")
	}

	if !isTimeout {
		stopped, err := s.runs.Stop(ctx, handle)
		if err != nil {
			return err
		}
		logger.Info("Run stopped", "handle", handle, "reason", reason, "changed", stopped)
		return nil
	}

	row, err := s.queue.JobCancel(ctx, jobID)
	if stderrors.Is(err, rivertype.ErrNotFound) {
		logger.Debug("Timeout job already gone", "handle", handle)
		return nil
	}
	if err != nil {
		return fmt.Errorf("cancel timeout job %d: %w", jobID, err)
	}

	if row.State != rivertype.JobStateCancelled || reason != quizzer.StopAnswered {
		logger.Debug("Timeout stopped", "handle", handle, "state", row.State, "reason", reason)
		return nil
	}

	var args QuestionTimeoutArgs
	if err := json.Unmarshal(row.EncodedArgs, &args); err != nil {
		return fmt.Errorf("decode timeout job %d: %w", jobID, err)
	}
	return s.enqueue(ctx, args.intermission(), s.now().Add(s.opts.Intermission))
}

func (s *Service) enqueue(ctx context.Context, args river.JobArgs, at time.Time) error {
	opts := &river.InsertOpts{Queue: QueueName, MaxAttempts: 1}
	if !at.IsZero() {
		opts.ScheduledAt = at
	}
	if _, err := s.insert(ctx, args, opts); err != nil {
		return err
	}
	return nil
}

func (s *Service) insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error) {
	res, err := s.queue.Insert(ctx, args, opts)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", args.Kind(), err)
	}
	return res, nil
}

// active reports whether steps of the run may still execute. The check runs
// under the gamestate lock so a run's first step waits for the session write
// of the start that created it.
func (s *Service) active(ctx context.Context, chatID int64, handle string) (bool, error) {
	ok := false
	err := s.locks.WithLock(ctx, models.GameStateLockName(chatID), func(ctx context.Context) error {
		run, err := s.runs.Get(ctx, handle)
		if err != nil {
			return err
		}
		if run == nil || run.Stopped {
			return nil
		}
		session, err := s.sessions.Get(ctx, chatID)
		if err != nil {
			return err
		}
		ok = session.State == models.GameStateRunning &&
			session.RunHandle != nil && *session.RunHandle == handle
		return nil
	})
	return ok, err
}

// continueAfter schedules the step that follows a finished question.
func (s *Service) continueAfter(ctx context.Context, args IntermissionArgs) error {
	return s.enqueue(ctx, args, s.now().Add(s.opts.Intermission))
}

// abort ends a game whose step failed.
func (s *Service) abort(ctx context.Context, chatID int64, handle string, cause error) {
	logger.Error("Run step failed, ending game", "chat_id", chatID, "handle", handle, "error", cause)
	steps, err := s.boundSteps()
	if err != nil {
		return
	}
	if err := steps.End(ctx, chatID); err != nil {
		logger.Error("Failed to end game after step failure", "chat_id", chatID, "handle", handle, "error", err)
	}
}
