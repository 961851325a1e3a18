package quizzer

import (
	"github.com/mroshb/trivia_bot/internal/metrics"
	"github.com/mroshb/trivia_bot/pkg/utils"
	"go.opentelemetry.io/otel"
)

const LeaderboardSize = 10

var tracer = otel.Tracer("github.com/mroshb/trivia_bot/internal/quizzer")

type Settings struct {
	QuestionsPerGame int
	ContributeURL    string
}

// Deps are the collaborators shared by the quizzer components.
type Deps struct {
	Rounds       RoundLedger
	Scores       ScoreLedger
	Tokens       TokenStore
	Sessions     SessionStore
	Questions    QuestionBank
	Locks        Locker
	Orchestrator Orchestrator
	Messenger    Messenger
	Random       utils.Random
	Metrics      *metrics.Metrics
	Settings     Settings
}
