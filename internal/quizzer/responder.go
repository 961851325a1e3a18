package quizzer

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/mroshb/trivia_bot/internal/models"
	"github.com/mroshb/trivia_bot/internal/repositories"
	"github.com/mroshb/trivia_bot/pkg/errors"
	"github.com/mroshb/trivia_bot/pkg/logger"
	"github.com/mroshb/trivia_bot/pkg/utils"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Responder arbitrates answers to open rounds.
type Responder struct {
	deps Deps
}

func NewResponder(deps Deps) *Responder {
	return &Responder{deps: deps}
}

// Attempt records one answer under the round's lock and sends the single
// notification its outcome calls for. Failing to get the lock is an error.
func (r *Responder) Attempt(ctx context.Context, a models.Attempt) (*models.AttemptResult, error) {
	if err := a.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeValidation, "invalid attempt")
	}

	ctx, span := tracer.Start(ctx, "quizzer.Attempt", trace.WithAttributes(
		attribute.Int64("chat_id", a.ChatID),
		attribute.Int("message_id", a.MessageID),
		attribute.Int64("user_id", a.UserID),
		attribute.String("channel", string(a.Channel())),
	))
	defer span.End()

	var result *models.AttemptResult
	err := r.deps.Locks.WithLock(ctx, models.QuestionLockName(a.ChatID, a.MessageID), func(ctx context.Context) error {
		res, err := r.deps.Rounds.RecordAttempt(ctx, repositories.AttemptInput{
			ChatID:            a.ChatID,
			MessageID:         a.MessageID,
			Answer:            utils.NormalizeAnswer(a.Answer),
			SubmittedAt:       a.SubmittedAt,
			UserID:            a.UserID,
			DisplayName:       a.User.DisplayName(),
			RejectRepeatWrong: a.Channel() == models.ChannelReply,
		})
		if err != nil {
			return err
		}
		result = res

		if res.Outcome == models.OutcomeWin {
			return r.onWin(ctx, a, res)
		}
		return r.onLoss(ctx, a, res)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("outcome", result.Outcome.String()))
	r.deps.Metrics.Attempt(string(a.Channel()), result.Outcome.String())
	logger.Info("Attempt recorded",
		"chat_id", a.ChatID,
		"message_id", a.MessageID,
		"user_id", a.UserID,
		"channel", a.Channel(),
		"outcome", result.Outcome.String(),
	)
	return result, nil
}

func (r *Responder) onWin(ctx context.Context, a models.Attempt, res *models.AttemptResult) error {
	name := a.User.DisplayName()
	award := AwardFor(a.Channel(), res.ElapsedSeconds)

	total, err := r.deps.Scores.Award(ctx, a.ChatID, a.UserID, award, a.User)
	if err != nil {
		return err
	}
	r.deps.Metrics.PointsAwarded(award)

	if res.ClearedTimeoutHandle != nil {
		if err := r.deps.Orchestrator.Stop(ctx, *res.ClearedTimeoutHandle, StopAnswered); err != nil {
			logger.Error("Failed to cancel question timeout",
				"chat_id", a.ChatID, "message_id", a.MessageID, "handle", *res.ClearedTimeoutHandle, "error", err)
		}
	}

	logger.Debug("Points awarded", "chat_id", a.ChatID, "user_id", a.UserID, "award", award, "total", total)

	switch a.Channel() {
	case models.ChannelButton:
		if _, err := r.deps.Messenger.Send(ctx, a.ChatID, correctChoiceText(res.Round.QuestionData.CorrectAnswer, name, award), nil); err != nil {
			return fmt.Errorf("send win: %w", err)
		}
		if err := r.deps.Messenger.AnswerCallback(ctx, a.CallbackQueryID, textCorrect); err != nil {
			return fmt.Errorf("answer callback: %w", err)
		}
	case models.ChannelReply:
		if _, err := r.deps.Messenger.Send(ctx, a.ChatID, correctReplyText(name, award), &SendOptions{ReplyTo: a.ReplyMessageID}); err != nil {
			return fmt.Errorf("send win: %w", err)
		}
	}

	if len(res.Round.Options) > 0 {
		if _, err := r.deps.Tokens.DeleteForQuestion(ctx, a.ChatID, res.Round.QuestionID); err != nil {
			return err
		}
	}
	return nil
}

func (r *Responder) onLoss(ctx context.Context, a models.Attempt, res *models.AttemptResult) error {
	var reply string
	switch res.Outcome {
	case models.OutcomeAlreadySolved:
		reply = textBeaten
	case models.OutcomeExpired:
		reply = textExpired
	case models.OutcomeWrongRepeat:
		reply = textAlreadyWrong
	case models.OutcomeWrongNew:
		base, err := QuestionText(&res.Round.QuestionData)
		if err != nil {
			return err
		}
		err = r.deps.Messenger.Edit(ctx, a.ChatID, a.MessageID, DisqualifiedText(base, res.WrongUsers), &SendOptions{
			ParseHTML: true,
			Keyboard:  Keyboard(res.Round.Options),
		})
		if err != nil {
			return fmt.Errorf("edit question: %w", err)
		}
		if a.Channel() == models.ChannelReply {
			return nil
		}
		reply = textWrong
	default:
		return fmt.Errorf("unexpected attempt outcome %s", res.Outcome)
	}

	if a.Channel() == models.ChannelButton {
		return r.deps.Messenger.AnswerCallback(ctx, a.CallbackQueryID, reply)
	}
	_, err := r.deps.Messenger.Send(ctx, a.ChatID, reply, &SendOptions{ReplyTo: a.ReplyMessageID})
	return err
}

// Fail expires a round whose timeout fired. It reports false without
// messaging when a winning attempt solved the round first.
func (r *Responder) Fail(ctx context.Context, chatID int64, messageID int) (bool, error) {
	ctx, span := tracer.Start(ctx, "quizzer.Fail", trace.WithAttributes(
		attribute.Int64("chat_id", chatID),
		attribute.Int("message_id", messageID),
	))
	defer span.End()

	expired := false
	err := r.deps.Locks.WithLock(ctx, models.QuestionLockName(chatID, messageID), func(ctx context.Context) error {
		err := r.deps.Rounds.MarkInactive(ctx, chatID, messageID)
		if stderrors.Is(err, errors.ErrAlreadySolvedRace) {
			logger.Info("Timeout lost the race to a winning attempt", "chat_id", chatID, "message_id", messageID)
			return nil
		}
		if err != nil {
			return err
		}

		round, err := r.deps.Rounds.Find(ctx, chatID, messageID)
		if err != nil {
			return err
		}
		expired = true

		if _, err := r.deps.Messenger.Send(ctx, chatID, tooSlowText(round.QuestionData.CorrectAnswer), nil); err != nil {
			return fmt.Errorf("send timeout: %w", err)
		}
		if len(round.Options) > 0 {
			if _, err := r.deps.Tokens.DeleteForQuestion(ctx, chatID, round.QuestionID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}
	span.SetAttributes(attribute.Bool("expired", expired))
	return expired, nil
}
