// Package grading maps a question definition and a raw respondent answer to a
// graded item. Grading is pure: it has no side effects and never fails for a
// question that passed bank validation.
package grading

import (
	"strconv"
	"strings"

	"github.com/monateaches/assessment/internal/model"
)

// Grade grades a single raw answer against its question.
//
// Normalization rules:
//   - An empty or whitespace-only answer is unanswered for every kind.
//   - single-choice: exact, case-sensitive key match; the display value is the
//     option label, or the raw key when no label exists.
//   - free-text: trimmed, case-insensitive match.
//   - numeric: parsed as a float; unparsable input is unanswered; exact equality.
func Grade(q model.Question, raw string) model.GradedItem {
	item := model.GradedItem{
		QuestionID:    q.ID,
		Question:      q.Prompt,
		Topic:         q.Topic,
		UserAnswer:    raw,
		CorrectAnswer: correctDisplay(q),
		Outcome:       model.OutcomeUnanswered,
		MaxScore:      q.MaxPoints(),
		Explanation:   q.Explanation,
	}

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return item
	}

	var correct bool
	switch want := q.Correct.(type) {
	case model.ChoiceKey:
		item.DisplayAnswer = raw
		if label, ok := q.OptionLabel(raw); ok && label != "" {
			item.DisplayAnswer = label
		}
		correct = raw == string(want)
	case model.TextAnswer:
		item.DisplayAnswer = trimmed
		correct = strings.EqualFold(trimmed, strings.TrimSpace(string(want)))
	case model.NumberAnswer:
		n, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			item.DisplayAnswer = trimmed
			return item
		}
		item.DisplayAnswer = model.FormatNumber(n)
		correct = n == float64(want)
	default:
		// Unreachable for validated banks; the answer counts as given but wrong.
		item.DisplayAnswer = trimmed
	}

	if correct {
		item.Outcome = model.OutcomeCorrect
		item.Correct = true
		item.Score = item.MaxScore
	} else {
		item.Outcome = model.OutcomeIncorrect
	}
	return item
}

// GradeAll grades every question in order. Questions absent from answers are
// graded as unanswered.
func GradeAll(questions []model.Question, answers map[string]string) []model.GradedItem {
	items := make([]model.GradedItem, 0, len(questions))
	for _, q := range questions {
		items = append(items, Grade(q, answers[q.ID]))
	}
	return items
}

func correctDisplay(q model.Question) string {
	if q.CorrectDisplay != "" {
		return q.CorrectDisplay
	}
	if q.Correct == nil {
		return ""
	}
	if key, ok := q.Correct.(model.ChoiceKey); ok {
		if label, found := q.OptionLabel(string(key)); found && label != "" {
			return label
		}
	}
	return q.Correct.Display()
}
