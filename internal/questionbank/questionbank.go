// Package questionbank reads question bank files. Both formats hold a list of
// multiple choice questions and a list of open questions; ids are assigned
// from a question's position in its list.
package questionbank

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/mroshb/trivia_bot/internal/models"
	"github.com/mroshb/trivia_bot/pkg/logger"
	"github.com/mroshb/trivia_bot/pkg/utils"
	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"
)

const (
	SheetMCQ  = "mcq"
	SheetOpen = "open"
)

type MCQEntry struct {
	Question      string   `yaml:"question"`
	CorrectAnswer string   `yaml:"correct_answer"`
	WrongAnswers  []string `yaml:"wrong_answers"`
}

type OpenEntry struct {
	Question string `yaml:"question"`
	Answer   string `yaml:"answer"`
}

// File is the YAML layout of a question bank.
type File struct {
	MCQ  []MCQEntry  `yaml:"mcq"`
	Open []OpenEntry `yaml:"open"`
}

// Build validates the entries and turns them into questions. Answers are
// lower-cased.
func (f *File) Build() ([]models.Question, error) {
	questions := make([]models.Question, 0, len(f.MCQ)+len(f.Open))

	for i, e := range f.MCQ {
		wrong := make([]string, 0, len(e.WrongAnswers))
		for _, a := range utils.NormalizeAnswers(e.WrongAnswers) {
			if a != "" {
				wrong = append(wrong, a)
			}
		}
		switch {
		case strings.TrimSpace(e.Question) == "":
			return nil, fmt.Errorf("question attribute missing in mcq index %d", i)
		case strings.TrimSpace(e.CorrectAnswer) == "":
			return nil, fmt.Errorf("correct_answer attribute missing in mcq index %d", i)
		case len(wrong) == 0:
			return nil, fmt.Errorf("wrong_answers attribute missing in mcq index %d", i)
		}
		questions = append(questions, models.Question{
			ID:            fmt.Sprintf("mcq_%d", i),
			Type:          models.QuestionTypeMCQ,
			Text:          strings.TrimSpace(e.Question),
			CorrectAnswer: utils.NormalizeAnswer(e.CorrectAnswer),
			OtherAnswers:  wrong,
		})
	}

	for i, e := range f.Open {
		switch {
		case strings.TrimSpace(e.Question) == "":
			return nil, fmt.Errorf("question attribute missing in open index %d", i)
		case strings.TrimSpace(e.Answer) == "":
			return nil, fmt.Errorf("answer attribute missing in open index %d", i)
		}
		questions = append(questions, models.Question{
			ID:            fmt.Sprintf("open_%d", i),
			Type:          models.QuestionTypeOpen,
			Text:          strings.TrimSpace(e.Question),
			CorrectAnswer: utils.NormalizeAnswer(e.Answer),
		})
	}
	return questions, nil
}

// ParseYAML reads a bank in the YAML layout.
func ParseYAML(r io.Reader) ([]models.Question, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode question bank: %w", err)
	}
	return f.Build()
}

// ParseXLSX reads a workbook with an "mcq" sheet (question, correct answer,
// wrong answers...) and an "open" sheet (question, answer). The first row of
// each sheet is a header. Either sheet may be absent.
func ParseXLSX(r io.Reader) ([]models.Question, error) {
	wb, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open XLSX file: %w", err)
	}
	defer wb.Close()

	var f File
	sheets := map[string]bool{}
	for _, name := range wb.GetSheetList() {
		sheets[strings.ToLower(name)] = true
	}

	if sheets[SheetMCQ] {
		rows, err := wb.GetRows(sheetName(wb, SheetMCQ))
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %q: %w", SheetMCQ, err)
		}
		for i, row := range dataRows(rows) {
			row = trimRow(row)
			if len(row) < 3 {
				return nil, fmt.Errorf("sheet %s row %d: need question, correct answer and at least one wrong answer", SheetMCQ, i+2)
			}
			f.MCQ = append(f.MCQ, MCQEntry{Question: row[0], CorrectAnswer: row[1], WrongAnswers: row[2:]})
		}
	}

	if sheets[SheetOpen] {
		rows, err := wb.GetRows(sheetName(wb, SheetOpen))
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %q: %w", SheetOpen, err)
		}
		for i, row := range dataRows(rows) {
			row = trimRow(row)
			if len(row) < 2 {
				return nil, fmt.Errorf("sheet %s row %d: need question and answer", SheetOpen, i+2)
			}
			f.Open = append(f.Open, OpenEntry{Question: row[0], Answer: row[1]})
		}
	}

	if len(f.MCQ) == 0 && len(f.Open) == 0 {
		return nil, fmt.Errorf("workbook has no %q or %q rows", SheetMCQ, SheetOpen)
	}
	return f.Build()
}

func sheetName(wb *excelize.File, want string) string {
	for _, name := range wb.GetSheetList() {
		if strings.EqualFold(name, want) {
			return name
		}
	}
	return want
}

func dataRows(rows [][]string) [][]string {
	if len(rows) <= 1 {
		return nil
	}
	return rows[1:]
}

// trimRow drops empty trailing cells.
func trimRow(row []string) []string {
	end := len(row)
	for end > 0 && strings.TrimSpace(row[end-1]) == "" {
		end--
	}
	return row[:end]
}

// Sheet is a preview of one worksheet.
type Sheet struct {
	Name string
	Rows [][]string
}

// Inspect returns the first limit rows of every sheet in the workbook.
func Inspect(r io.Reader, limit int) ([]Sheet, error) {
	wb, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open XLSX file: %w", err)
	}
	defer wb.Close()

	var out []Sheet
	for _, name := range wb.GetSheetList() {
		rows, err := wb.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %q: %w", name, err)
		}
		if limit > 0 && len(rows) > limit {
			rows = rows[:limit]
		}
		out = append(out, Sheet{Name: name, Rows: rows})
	}
	return out, nil
}

// Store is where imported questions go.
type Store interface {
	Replace(ctx context.Context, questions []models.Question) error
}

// Import replaces the whole bank with questions.
func Import(ctx context.Context, store Store, questions []models.Question) error {
	for i := range questions {
		if err := questions[i].Validate(); err != nil {
			return err
		}
	}
	if err := store.Replace(ctx, questions); err != nil {
		return err
	}
	logger.Info("Question bank imported", "count", len(questions))
	return nil
}
