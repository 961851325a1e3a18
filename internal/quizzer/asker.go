package quizzer

import (
	"context"
	"fmt"

	"github.com/mroshb/trivia_bot/internal/models"
	"github.com/mroshb/trivia_bot/pkg/errors"
	"github.com/mroshb/trivia_bot/pkg/logger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Asker sends questions and opens their rounds.
type Asker struct {
	deps Deps
}

func NewAsker(deps Deps) *Asker {
	return &Asker{deps: deps}
}

// Ask sends q to the chat and records the round with its pending timeout.
// Multiple choice answers are shuffled and each gets its own callback token.
func (a *Asker) Ask(ctx context.Context, chatID int64, runHandle, timeoutHandle string, q *models.Question) (*models.QuestionRound, error) {
	ctx, span := tracer.Start(ctx, "quizzer.Ask", trace.WithAttributes(
		attribute.Int64("chat_id", chatID),
		attribute.String("question_id", q.ID),
	))
	defer span.End()

	text, err := QuestionText(q)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeValidation, "cannot render question")
	}

	format, _ := q.Format()
	var options []models.AnswerOption
	switch f := format.(type) {
	case models.OpenFormat:
	case models.ChoiceFormat:
		answers := append([]string(nil), f.Options...)
		a.deps.Random.Shuffle(len(answers), func(i, j int) { answers[i], answers[j] = answers[j], answers[i] })

		for _, answer := range answers {
			token, err := a.deps.Tokens.Create(ctx, models.CallbackPayload{
				ChatID:     chatID,
				QuestionID: q.ID,
				Answer:     answer,
			})
			if err != nil {
				return nil, err
			}
			options = append(options, models.AnswerOption{Answer: answer, CallbackID: token})
		}
	default:
		return nil, fmt.Errorf("question %s: unhandled format %T", q.ID, format)
	}

	msg, err := a.deps.Messenger.Send(ctx, chatID, text, &SendOptions{ParseHTML: true, Keyboard: Keyboard(options)})
	if err != nil {
		return nil, fmt.Errorf("send question: %w", err)
	}

	handle := timeoutHandle
	round := &models.QuestionRound{
		ChatID:        msg.ChatID,
		MessageID:     msg.MessageID,
		QuestionID:    q.ID,
		QuestionData:  *q,
		Options:       options,
		WrongUsers:    []models.WrongUser{},
		SentAt:        msg.Date,
		TimeoutHandle: &handle,
		RunHandle:     runHandle,
	}
	if err := a.deps.Rounds.Create(ctx, round); err != nil {
		span.RecordError(err)
		return nil, err
	}

	logger.Info("Question asked", "chat_id", chatID, "message_id", msg.MessageID, "question_id", q.ID, "timeout", timeoutHandle)
	return round, nil
}
