package quizzer

import (
	"context"
	"fmt"

	"github.com/mroshb/trivia_bot/internal/models"
	"github.com/mroshb/trivia_bot/pkg/errors"
	"github.com/mroshb/trivia_bot/pkg/logger"
	"github.com/mroshb/trivia_bot/pkg/utils"
)

type intermissionKind string

const (
	intermissionPR          intermissionKind = "PR"
	intermissionLocalScore  intermissionKind = "LOCAL_SCORE"
	intermissionGlobalScore intermissionKind = "GLOBAL_SCORE"
	intermissionNothing     intermissionKind = "NOTHING"
)

var intermissionWeights = []utils.Weighted[intermissionKind]{
	{Value: intermissionPR, Weight: 2},
	{Value: intermissionLocalScore, Weight: 2},
	{Value: intermissionGlobalScore, Weight: 1},
	{Value: intermissionNothing, Weight: 8},
}

// Choice is the question picked for the next round.
type Choice struct {
	Question     *models.Question
	AlreadyAsked []string
	Remaining    int
}

// Flow holds the steps a run goes through between questions.
type Flow struct {
	deps Deps
}

func NewFlow(deps Deps) *Flow {
	return &Flow{deps: deps}
}

// SampleQuestions picks up to count distinct question ids from the bank.
func (f *Flow) SampleQuestions(ctx context.Context, count int) ([]string, error) {
	ids, err := f.deps.Questions.ListIDs(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, errors.New(errors.ErrCodeNotFound, "question bank is empty")
	}
	return utils.Sample(f.deps.Random, ids, count), nil
}

// ChooseNext returns the first id of sample not yet asked.
func (f *Flow) ChooseNext(ctx context.Context, sample, alreadyAsked []string) (*Choice, error) {
	asked := make(map[string]struct{}, len(alreadyAsked))
	for _, id := range alreadyAsked {
		asked[id] = struct{}{}
	}

	for _, id := range sample {
		if _, ok := asked[id]; ok {
			continue
		}
		q, err := f.deps.Questions.Find(ctx, id)
		if err != nil {
			return nil, err
		}
		next := append(append([]string(nil), alreadyAsked...), id)
		return &Choice{
			Question:     q,
			AlreadyAsked: next,
			Remaining:    len(sample) - len(next),
		}, nil
	}
	return nil, errors.New(errors.ErrCodeValidation, fmt.Sprintf("all %d sampled questions were asked", len(sample)))
}

// Intermission sends the occasional scoreboard or contribution plug between
// questions. The pause itself is scheduled by the orchestrator.
func (f *Flow) Intermission(ctx context.Context, chatID int64) error {
	kind := utils.WeightedChoice(f.deps.Random, intermissionWeights)
	logger.Debug("Intermission", "chat_id", chatID, "kind", kind)

	var text string
	switch kind {
	case intermissionPR:
		text = contributeText(f.deps.Settings.ContributeURL)
	case intermissionLocalScore:
		players, err := f.deps.Scores.Top(ctx, chatID, LeaderboardSize)
		if err != nil {
			return err
		}
		text = LeaderboardText("Current Scoreboard:\n", players)
	case intermissionGlobalScore:
		players, err := f.deps.Scores.TopGlobal(ctx, LeaderboardSize)
		if err != nil {
			return err
		}
		text = LeaderboardText("Top players of all time:\n", players)
	case intermissionNothing:
		return nil
	}

	if _, err := f.deps.Messenger.Send(ctx, chatID, text, nil); err != nil {
		return fmt.Errorf("send intermission: %w", err)
	}
	return nil
}

// Game bundles every quizzer operation behind one value.
type Game struct {
	*Asker
	*Responder
	*GameMaster
	*Flow
}

func NewGame(deps Deps) *Game {
	return &Game{
		Asker:      NewAsker(deps),
		Responder:  NewResponder(deps),
		GameMaster: NewGameMaster(deps),
		Flow:       NewFlow(deps),
	}
}
