package orchestrator

import (
	"context"
	"time"

	"github.com/mroshb/trivia_bot/pkg/logger"
	"github.com/riverqueue/river"
)

type sampleWorker struct {
	river.WorkerDefaults[SampleQuestionsArgs]
	s *Service
}

func (w *sampleWorker) Work(ctx context.Context, job *river.Job[SampleQuestionsArgs]) error {
	args := job.Args
	steps, ok, err := w.s.begin(ctx, job.Kind, args.ChatID, args.RunHandle)
	if !ok {
		return err
	}

	sample, err := steps.SampleQuestions(ctx, args.Questions)
	if err != nil {
		w.s.abort(ctx, args.ChatID, args.RunHandle, err)
		return err
	}
	logger.Debug("Questions sampled", "chat_id", args.ChatID, "handle", args.RunHandle, "count", len(sample))
	return w.s.enqueue(ctx, ChooseQuestionArgs{ChatID: args.ChatID, RunHandle: args.RunHandle, Sample: sample}, time.Time{})
}

type chooseWorker struct {
	river.WorkerDefaults[ChooseQuestionArgs]
	s *Service
}

func (w *chooseWorker) Work(ctx context.Context, job *river.Job[ChooseQuestionArgs]) error {
	args := job.Args
	steps, ok, err := w.s.begin(ctx, job.Kind, args.ChatID, args.RunHandle)
	if !ok {
		return err
	}

	choice, err := steps.ChooseNext(ctx, args.Sample, args.Asked)
	if err != nil {
		w.s.abort(ctx, args.ChatID, args.RunHandle, err)
		return err
	}

	// The timeout exists before the question is visible, so an answer can
	// always cancel it.
	res, err := w.s.insert(ctx, QuestionTimeoutArgs{
		ChatID:    args.ChatID,
		RunHandle: args.RunHandle,
		Sample:    args.Sample,
		Asked:     choice.AlreadyAsked,
		Remaining: choice.Remaining,
	}, &river.InsertOpts{
		Queue:       QueueName,
		MaxAttempts: 1,
		ScheduledAt: w.s.now().Add(w.s.opts.QuestionTimeout),
	})
	if err != nil {
		w.s.abort(ctx, args.ChatID, args.RunHandle, err)
		return err
	}
	handle := TimeoutHandle(res.Job.ID)

	if _, err := steps.Ask(ctx, args.ChatID, args.RunHandle, handle, choice.Question); err != nil {
		if _, cancelErr := w.s.queue.JobCancel(context.WithoutCancel(ctx), res.Job.ID); cancelErr != nil {
			logger.Warn("Failed to cancel timeout of unasked question", "handle", handle, "error", cancelErr)
		}
		w.s.abort(ctx, args.ChatID, args.RunHandle, err)
		return err
	}
	return nil
}

type timeoutWorker struct {
	river.WorkerDefaults[QuestionTimeoutArgs]
	s *Service
}

// Work expires the open round if this job is still its timeout. Cancelling
// the job once it runs must not interrupt the continuation.
func (w *timeoutWorker) Work(ctx context.Context, job *river.Job[QuestionTimeoutArgs]) error {
	ctx = context.WithoutCancel(ctx)
	args := job.Args
	steps, ok, err := w.s.begin(ctx, job.Kind, args.ChatID, args.RunHandle)
	if !ok {
		return err
	}

	handle := TimeoutHandle(job.ID)
	open, err := w.s.rounds.GetCurrentlyOpen(ctx, args.ChatID)
	if err != nil {
		w.s.abort(ctx, args.ChatID, args.RunHandle, err)
		return err
	}
	if open != nil && open.TimeoutHandle != nil && *open.TimeoutHandle == handle {
		if _, err := steps.Fail(ctx, open.ChatID, open.MessageID); err != nil {
			w.s.abort(ctx, args.ChatID, args.RunHandle, err)
			return err
		}
	} else {
		logger.Debug("Timeout found no round of its own", "chat_id", args.ChatID, "handle", handle)
	}

	return w.s.continueAfter(ctx, args.intermission())
}

type intermissionWorker struct {
	river.WorkerDefaults[IntermissionArgs]
	s *Service
}

func (w *intermissionWorker) Work(ctx context.Context, job *river.Job[IntermissionArgs]) error {
	args := job.Args
	steps, ok, err := w.s.begin(ctx, job.Kind, args.ChatID, args.RunHandle)
	if !ok {
		return err
	}

	if args.Remaining <= 0 {
		return w.s.enqueue(ctx, EndGameArgs{ChatID: args.ChatID, RunHandle: args.RunHandle}, time.Time{})
	}
	if err := steps.Intermission(ctx, args.ChatID); err != nil {
		logger.Warn("Intermission failed", "chat_id", args.ChatID, "handle", args.RunHandle, "error", err)
	}
	return w.s.enqueue(ctx, ChooseQuestionArgs{
		ChatID:    args.ChatID,
		RunHandle: args.RunHandle,
		Sample:    args.Sample,
		Asked:     args.Asked,
	}, time.Time{})
}

type endWorker struct {
	river.WorkerDefaults[EndGameArgs]
	s *Service
}

func (w *endWorker) Work(ctx context.Context, job *river.Job[EndGameArgs]) error {
	args := job.Args
	steps, ok, err := w.s.begin(ctx, job.Kind, args.ChatID, args.RunHandle)
	if !ok {
		return err
	}
	return steps.End(ctx, args.ChatID)
}

// begin resolves the steps and drops the job when its run went stale. ok is
// false when the job must not proceed; err is then the reason to report.
func (s *Service) begin(ctx context.Context, kind string, chatID int64, handle string) (Steps, bool, error) {
	steps, err := s.boundSteps()
	if err != nil {
		return nil, false, err
	}
	active, err := s.active(ctx, chatID, handle)
	if err != nil {
		return nil, false, err
	}
	if !active {
		logger.Info("Dropping stale run step", "kind", kind, "chat_id", chatID, "handle", handle)
		return nil, false, nil
	}
	return steps, true, nil
}
