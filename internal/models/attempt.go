package models

import (
	"errors"
	"time"
)

type Channel string

const (
	ChannelButton Channel = "button"
	ChannelReply  Channel = "reply"
)

// Attempt is one answer submission. Exactly one of CallbackQueryID and
// ReplyMessageID is set.
type Attempt struct {
	ChatID          int64
	MessageID       int
	Answer          string
	SubmittedAt     time.Time
	UserID          int64
	User            UserData
	CallbackQueryID string
	ReplyMessageID  int
}

// Channel the attempt arrived on.
func (a *Attempt) Channel() Channel {
	if a.CallbackQueryID != "" {
		return ChannelButton
	}
	return ChannelReply
}

func (a *Attempt) Validate() error {
	if a.CallbackQueryID == "" && a.ReplyMessageID == 0 {
		return errors.New("either a reply message id or a callback query id must be present")
	}
	if a.CallbackQueryID != "" && a.ReplyMessageID != 0 {
		return errors.New("an attempt arrives either by button or by reply, not both")
	}
	return nil
}

type AttemptOutcome int

const (
	OutcomeWin AttemptOutcome = iota
	OutcomeAlreadySolved
	OutcomeWrongNew
	OutcomeWrongRepeat
	// OutcomeExpired is an attempt on a round whose timeout already fired.
	OutcomeExpired
)

func (o AttemptOutcome) String() string {
	switch o {
	case OutcomeWin:
		return "win"
	case OutcomeAlreadySolved:
		return "already_solved"
	case OutcomeWrongNew:
		return "wrong_new"
	case OutcomeWrongRepeat:
		return "wrong_repeat"
	case OutcomeExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// AttemptResult is what the conditional write of one attempt observed.
// On a win, ClearedTimeoutHandle is the pending timeout the write removed.
type AttemptResult struct {
	Outcome              AttemptOutcome
	Round                *QuestionRound
	ElapsedSeconds       float64
	ClearedTimeoutHandle *string
	WrongUsers           []WrongUser
}
