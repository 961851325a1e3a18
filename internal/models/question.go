package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

type QuestionType string

const (
	QuestionTypeOpen QuestionType = "open"
	QuestionTypeMCQ  QuestionType = "mcq"
)

// Question is one entry of the question bank. Answers are stored lower-cased.
type Question struct {
	ID            string       `gorm:"primaryKey;type:varchar(64)" json:"id" yaml:"id"`
	Type          QuestionType `gorm:"type:varchar(10);not null;index" json:"type" yaml:"type"`
	Text          string       `gorm:"column:question;type:text;not null" json:"question" yaml:"question"`
	CorrectAnswer string       `gorm:"type:text;not null" json:"correct_answer" yaml:"correct_answer"`
	OtherAnswers  []string     `gorm:"serializer:json;type:jsonb" json:"other_answers,omitempty" yaml:"other_answers,omitempty"`
	CreatedAt     time.Time    `gorm:"autoCreateTime" json:"-" yaml:"-"`
}

func (Question) TableName() string {
	return "questions"
}

// Format is the answering mode of a question: OpenFormat or ChoiceFormat.
type Format interface {
	isFormat()
}

// OpenFormat questions are answered by replying with free text.
type OpenFormat struct{}

// ChoiceFormat questions are answered by pressing one of the option buttons.
// Options holds the correct answer first, followed by the distractors.
type ChoiceFormat struct {
	Options []string
}

func (OpenFormat) isFormat()   {}
func (ChoiceFormat) isFormat() {}

// Format returns the variant for q's type.
func (q *Question) Format() (Format, error) {
	switch q.Type {
	case QuestionTypeOpen:
		return OpenFormat{}, nil
	case QuestionTypeMCQ:
		options := make([]string, 0, len(q.OtherAnswers)+1)
		options = append(options, q.CorrectAnswer)
		options = append(options, q.OtherAnswers...)
		return ChoiceFormat{Options: options}, nil
	default:
		return nil, fmt.Errorf("question %s: type was neither open nor mcq: %q", q.ID, q.Type)
	}
}

// Validate checks the fields required by the question's format.
func (q *Question) Validate() error {
	if q.ID == "" {
		return fmt.Errorf("question id is required")
	}
	if q.Text == "" {
		return fmt.Errorf("question %s: text is required", q.ID)
	}
	if q.CorrectAnswer == "" {
		return fmt.Errorf("question %s: correct answer is required", q.ID)
	}
	format, err := q.Format()
	if err != nil {
		return err
	}
	if choice, ok := format.(ChoiceFormat); ok && len(choice.Options) < 2 {
		return fmt.Errorf("question %s: multiple choice needs at least one other answer", q.ID)
	}
	return nil
}

// BeforeSave hook for validation
func (q *Question) BeforeSave(tx *gorm.DB) error {
	if err := q.Validate(); err != nil {
		return gorm.ErrInvalidData
	}
	return nil
}
