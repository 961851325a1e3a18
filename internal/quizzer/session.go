package quizzer

import (
	"context"
	"fmt"
	"time"

	"github.com/mroshb/trivia_bot/internal/models"
	"github.com/mroshb/trivia_bot/pkg/errors"
	"github.com/mroshb/trivia_bot/pkg/logger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StaleCleanupAfter is how old a CLEANING_UP record must be before a start
// request finishes the abandoned cleanup.
const StaleCleanupAfter = time.Minute

// GameMaster drives the per-chat session state machine. Every transition
// runs under the chat's gamestate lock.
type GameMaster struct {
	deps Deps
	now  func() time.Time
}

func NewGameMaster(deps Deps) *GameMaster {
	return &GameMaster{deps: deps, now: time.Now}
}

func (g *GameMaster) withSession(ctx context.Context, op string, chatID int64, fn func(ctx context.Context, s *models.GameSession) (string, error)) error {
	ctx, span := tracer.Start(ctx, "quizzer."+op, trace.WithAttributes(attribute.Int64("chat_id", chatID)))
	defer span.End()

	result := "error"
	err := g.deps.Locks.WithLock(ctx, models.GameStateLockName(chatID), func(ctx context.Context) error {
		session, err := g.deps.Sessions.Get(ctx, chatID)
		if err != nil {
			return err
		}
		result, err = fn(ctx, session)
		return err
	})
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("result", result))
	g.deps.Metrics.Transition(op, result)
	return err
}

// Start begins a game in an IDLE chat. A running or cleaning chat only gets
// an informational reply.
func (g *GameMaster) Start(ctx context.Context, chatID int64, triggerMessageID int) error {
	return g.withSession(ctx, "start", chatID, func(ctx context.Context, s *models.GameSession) (string, error) {
		switch s.State {
		case models.GameStateRunning:
			return "rejected", g.reply(ctx, chatID, textAlreadyActive, triggerMessageID)
		case models.GameStateCleaningUp:
			if err := g.reply(ctx, chatID, textCleaningUp, triggerMessageID); err != nil {
				return "rejected", err
			}
			if g.now().Sub(s.UpdatedAt) > StaleCleanupAfter {
				logger.Warn("Finishing abandoned cleanup", "chat_id", chatID, "since", s.UpdatedAt)
				return "recovered", g.finish(ctx, s, false)
			}
			return "rejected", nil
		}

		if err := s.Transition(models.GameStateRunning); err != nil {
			return "error", errors.Wrap(err, errors.ErrCodeInvalidStateTransition, "cannot start game")
		}
		if _, err := g.deps.Messenger.Send(ctx, chatID, textStarting, nil); err != nil {
			return "error", fmt.Errorf("send start: %w", err)
		}

		handle, err := g.deps.Orchestrator.Start(ctx, RunInput{ChatID: chatID, Questions: g.deps.Settings.QuestionsPerGame})
		if err != nil {
			return "error", fmt.Errorf("start run: %w", err)
		}
		s.RunHandle = &handle
		if err := g.deps.Sessions.Put(ctx, s); err != nil {
			if stopErr := g.deps.Orchestrator.Stop(context.WithoutCancel(ctx), handle, StopGameEnded); stopErr != nil {
				logger.Error("Failed to stop orphaned run", "chat_id", chatID, "handle", handle, "error", stopErr)
			}
			return "error", err
		}

		logger.Info("Game started", "chat_id", chatID, "handle", handle)
		return "ok", nil
	})
}

// End finishes a running game when the run is out of questions. Calling it
// on a chat that is not RUNNING is an error.
func (g *GameMaster) End(ctx context.Context, chatID int64) error {
	return g.withSession(ctx, "end", chatID, func(ctx context.Context, s *models.GameSession) (string, error) {
		if s.State != models.GameStateRunning {
			return "error", errors.Wrap(
				fmt.Errorf("chat %d is %s", chatID, s.State),
				errors.ErrCodeInvalidStateTransition, "game is not running",
			)
		}

		run := s.RunHandle
		if err := g.beginCleanup(ctx, s); err != nil {
			return "error", err
		}
		if run != nil {
			if err := g.deps.Orchestrator.Stop(ctx, *run, StopGameEnded); err != nil {
				logger.Warn("Failed to mark run finished", "chat_id", chatID, "handle", *run, "error", err)
			}
		}
		if err := g.finish(ctx, s, true); err != nil {
			return "error", err
		}

		if _, err := g.deps.Messenger.Send(ctx, chatID, goodbyeText(g.deps.Settings.ContributeURL), nil); err != nil {
			return "error", fmt.Errorf("send goodbye: %w", err)
		}
		logger.Info("Game ended", "chat_id", chatID)
		return "ok", nil
	})
}

// ForceEnd stops a running game early on a user's request.
func (g *GameMaster) ForceEnd(ctx context.Context, chatID int64, triggerMessageID int) error {
	return g.withSession(ctx, "force_end", chatID, func(ctx context.Context, s *models.GameSession) (string, error) {
		if s.State != models.GameStateRunning {
			return "rejected", g.reply(ctx, chatID, textNoGame, triggerMessageID)
		}

		run := s.RunHandle
		if err := g.beginCleanup(ctx, s); err != nil {
			return "error", err
		}

		if run != nil {
			if err := g.deps.Orchestrator.Stop(ctx, *run, StopGameEnded); err != nil {
				return "error", fmt.Errorf("stop run: %w", err)
			}
		}
		open, err := g.deps.Rounds.GetCurrentlyOpen(ctx, chatID)
		if err != nil {
			return "error", err
		}
		if open != nil && open.TimeoutHandle != nil {
			if err := g.deps.Orchestrator.Stop(ctx, *open.TimeoutHandle, StopGameEnded); err != nil {
				return "error", fmt.Errorf("stop question timeout: %w", err)
			}
		}

		if err := g.finish(ctx, s, true); err != nil {
			return "error", err
		}
		logger.Info("Game force ended", "chat_id", chatID)
		return "ok", nil
	})
}

func (g *GameMaster) beginCleanup(ctx context.Context, s *models.GameSession) error {
	if err := s.Transition(models.GameStateCleaningUp); err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidStateTransition, "cannot clean up game")
	}
	return g.deps.Sessions.Put(ctx, s)
}

// finish runs the cleanup sequence of a CLEANING_UP session and resets it to
// IDLE. Every step tolerates having run before.
func (g *GameMaster) finish(ctx context.Context, s *models.GameSession, announce bool) error {
	chatID := s.ChatID
	if announce {
		if err := g.announceWinners(ctx, chatID); err != nil {
			return err
		}
	}
	if _, err := g.deps.Rounds.Cleanup(ctx, chatID); err != nil {
		return err
	}
	promoted, err := g.deps.Scores.PromoteToGlobal(ctx, chatID)
	if err != nil {
		return err
	}
	if _, err := g.deps.Tokens.DeleteAll(ctx, chatID); err != nil {
		return err
	}

	if err := s.Transition(models.GameStateIdle); err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidStateTransition, "cannot reset game")
	}
	s.RunHandle = nil
	if err := g.deps.Sessions.Put(ctx, s); err != nil {
		return err
	}
	logger.Debug("Session cleaned up", "chat_id", chatID, "promoted", promoted)
	return nil
}

func (g *GameMaster) announceWinners(ctx context.Context, chatID int64) error {
	players, err := g.deps.Scores.Top(ctx, chatID, LeaderboardSize)
	if err != nil {
		return err
	}
	text := LeaderboardText("Game has ended. Congratulations to the winners!\n", players)
	if _, err := g.deps.Messenger.Send(ctx, chatID, text, nil); err != nil {
		return fmt.Errorf("announce winners: %w", err)
	}
	return nil
}

func (g *GameMaster) reply(ctx context.Context, chatID int64, text string, replyTo int) error {
	_, err := g.deps.Messenger.Send(ctx, chatID, text, &SendOptions{ReplyTo: replyTo})
	return err
}
