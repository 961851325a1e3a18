package quizzer

import (
	"fmt"
	"strings"

	"github.com/mroshb/trivia_bot/internal/models"
	"github.com/mroshb/trivia_bot/internal/security"
)

const (
	textCorrect       = "🎉 Correct!"
	textWrong         = "❌ Wrong :("
	textAlreadyWrong  = "You already chose the wrong answer!"
	textBeaten        = "Oops! Someone beat you to it!"
	textExpired       = "This question has expired"
	textAlreadyActive = "A game is already in progress!"
	textCleaningUp    = "Cleaning up the last game session, please wait a few seconds before trying again"
	textStarting      = "Starting game!"
	textNoGame        = "No game in progress!"
	textOnlyTop       = "\nOnly top 10 players shown"
)

// TextExpired is the callback answer for a token that no longer resolves.
const TextExpired = textExpired

// QuestionText renders the question message in Telegram HTML.
func QuestionText(q *models.Question) (string, error) {
	format, err := q.Format()
	if err != nil {
		return "", err
	}

	var instructions string
	switch format.(type) {
	case models.OpenFormat:
		instructions = "Reply to this message to answer!"
	case models.ChoiceFormat:
		instructions = "Press one of the buttons below!"
	}

	return fmt.Sprintf("<b>Question:</b> %s\n\n%s", security.SanitizeHTML(q.Text), instructions), nil
}

// DisqualifiedText appends the wrong users to a rendered question.
func DisqualifiedText(base string, wrong []models.WrongUser) string {
	names := make([]string, 0, len(wrong))
	for _, w := range wrong {
		names = append(names, security.SanitizeHTML(w.Name))
	}
	return base + "\n\n❌ Disqualified:\n" + strings.Join(names, ", ")
}

// Keyboard renders one button per row, in the stored option order.
func Keyboard(options []models.AnswerOption) [][]Button {
	if len(options) == 0 {
		return nil
	}
	rows := make([][]Button, 0, len(options))
	for _, o := range options {
		rows = append(rows, []Button{{Text: o.Answer, Data: o.CallbackID}})
	}
	return rows
}

func correctChoiceText(answer, name string, award int64) string {
	return fmt.Sprintf("%s The answer is %s. %s has been awarded %d points.", textCorrect, answer, name, award)
}

func correctReplyText(name string, award int64) string {
	return fmt.Sprintf("%s %s has been awarded %d points.", textCorrect, name, award)
}

func tooSlowText(answer string) string {
	return "Too slow! The answer is " + answer
}

func goodbyeText(url string) string {
	return "Thank you for playing. Please contribute trivia questions if you can! " + url
}

func contributeText(url string) string {
	return "Did you know? You can contribute your own trivia questions! Just open a pull request here: " + url
}

// LeaderboardText renders a header, one line per player with medals for the
// first three, and the top 10 footer.
func LeaderboardText(header string, players []models.Player) string {
	lines := []string{header}
	for i, p := range players {
		switch i {
		case 0:
			lines = append(lines, fmt.Sprintf("🥇 %d points: %s", p.Score, p.DisplayName()))
		case 1:
			lines = append(lines, fmt.Sprintf("🥈 %d points: %s", p.Score, p.DisplayName()))
		case 2:
			lines = append(lines, fmt.Sprintf("🥉 %d points: %s", p.Score, p.DisplayName()))
		default:
			lines = append(lines, fmt.Sprintf("%d points: %s", p.Score, p.DisplayName()))
		}
	}
	lines = append(lines, textOnlyTop)
	return strings.Join(lines, "\n")
}
