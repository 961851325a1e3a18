package quizzer

import (
	"math"

	"github.com/mroshb/trivia_bot/internal/models"
)

const (
	// MaxResponseTime is the reference window in seconds for open answers.
	MaxResponseTime = 15.0
	ChoiceAward     = 100
	MinOpenAward    = 10
)

// AwardFor returns the points for a winning attempt. Button answers earn a
// flat award; replies earn max(10, round(|15 - elapsed| / 15 * 100)), which
// is symmetric around the 15 second mark.
func AwardFor(channel models.Channel, elapsedSeconds float64) int64 {
	if channel == models.ChannelButton {
		return ChoiceAward
	}
	award := int64(math.Round(math.Abs(MaxResponseTime-elapsedSeconds) / MaxResponseTime * 100))
	if award < MinOpenAward {
		return MinOpenAward
	}
	return award
}
