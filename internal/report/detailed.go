package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/monateaches/assessment/internal/model"
)

// Envelope is the persisted form of a result's detailed section.
type Envelope struct {
	HTML           string             `json:"html"`
	Plain          string             `json:"plain"`
	OverallScore   string             `json:"overallScore"`
	OverallOutcome string             `json:"overallOutcome"`
	Items          []model.GradedItem `json:"items"`
}

// EncodeDetailed serializes the detailed section of res for storage.
func EncodeDetailed(res model.AssessmentResult) ([]byte, error) {
	return json.Marshal(Envelope{
		HTML:           res.HTML,
		Plain:          res.Plain,
		OverallScore:   fmt.Sprintf("%d/%d", res.Score, res.TotalPossible),
		OverallOutcome: string(res.Tier),
		Items:          res.Items,
	})
}

// DecodeDetailed normalizes stored detailed results into an item list.
// It accepts a JSON array of items, a JSON string holding such an array,
// the Envelope object (with or without items), and the legacy object keyed
// by question that maps each key to either a raw answer or an item object.
func DecodeDetailed(raw []byte) ([]model.GradedItem, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	switch raw[0] {
	case '"':
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("decode detailed results: %w", err)
		}
		if strings.TrimSpace(inner) == "" {
			return nil, nil
		}
		return DecodeDetailed([]byte(inner))
	case '[':
		var items []looseItem
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("decode detailed results: %w", err)
		}
		out := make([]model.GradedItem, len(items))
		for i, it := range items {
			out[i] = it.normalize(fmt.Sprintf("Question %d", i+1))
		}
		return out, nil
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("decode detailed results: %w", err)
		}
		if isEnvelope(obj) {
			return DecodeDetailed(obj["items"])
		}
		return decodeLegacy(obj)
	}
	return nil, fmt.Errorf("decode detailed results: unexpected %q", raw[0])
}

var envelopeKeys = []string{"items", "html", "plain", "overallScore", "overallOutcome"}

// isEnvelope reports whether obj is an Envelope, possibly one written
// without items.
func isEnvelope(obj map[string]json.RawMessage) bool {
	for _, k := range envelopeKeys {
		if _, ok := obj[k]; ok {
			return true
		}
	}
	return false
}

func decodeLegacy(obj map[string]json.RawMessage) ([]model.GradedItem, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeys)

	out := make([]model.GradedItem, 0, len(keys))
	for _, k := range keys {
		v := bytes.TrimSpace(obj[k])
		if len(v) > 0 && v[0] == '{' {
			var it looseItem
			if err := json.Unmarshal(v, &it); err != nil {
				return nil, fmt.Errorf("decode detailed results %s: %w", k, err)
			}
			gi := it.normalize(k)
			if gi.QuestionID == "" {
				gi.QuestionID = k
			}
			out = append(out, gi)
			continue
		}
		gi := looseItem{UserAnswer: v}.normalize(k)
		gi.QuestionID = k
		out = append(out, gi)
	}
	return out, nil
}

// compareKeys orders "q2" before "q10".
func compareKeys(a, b string) int {
	na, erra := strconv.Atoi(strings.TrimLeft(a, "qQ"))
	nb, errb := strconv.Atoi(strings.TrimLeft(b, "qQ"))
	if erra == nil && errb == nil && na != nb {
		if na < nb {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

// looseItem tolerates the field variants older records carry: scores as
// strings or numbers, and "N/A" placeholders.
type looseItem struct {
	QuestionID    string          `json:"question_id"`
	Question      string          `json:"question"`
	Topic         string          `json:"topic"`
	UserAnswer    json.RawMessage `json:"user_answer"`
	DisplayAnswer string          `json:"display_answer"`
	CorrectAnswer json.RawMessage `json:"correct_answer"`
	Outcome       string          `json:"outcome"`
	IsCorrect     *bool           `json:"is_correct"`
	Score         json.RawMessage `json:"score"`
	MaxScore      json.RawMessage `json:"max_score"`
	Explanation   string          `json:"explanation"`
}

func (l looseItem) normalize(fallbackQuestion string) model.GradedItem {
	it := model.GradedItem{
		QuestionID:    l.QuestionID,
		Question:      l.Question,
		Topic:         l.Topic,
		UserAnswer:    scalarString(l.UserAnswer),
		DisplayAnswer: l.DisplayAnswer,
		CorrectAnswer: scalarString(l.CorrectAnswer),
		Outcome:       model.Outcome(l.Outcome),
		Score:         scalarInt(l.Score, 0),
		MaxScore:      scalarInt(l.MaxScore, 1),
		Explanation:   l.Explanation,
	}
	if it.Question == "" {
		it.Question = fallbackQuestion
	}
	switch {
	case l.IsCorrect != nil:
		it.Correct = *l.IsCorrect
	default:
		it.Correct = it.Outcome == model.OutcomeCorrect
	}
	if it.Outcome == "" {
		switch {
		case it.Correct:
			it.Outcome = model.OutcomeCorrect
		case strings.TrimSpace(it.UserAnswer) == "":
			it.Outcome = model.OutcomeUnanswered
		default:
			it.Outcome = model.OutcomeIncorrect
		}
	}
	return it
}

func scalarString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return model.FormatNumber(f)
	}
	return string(raw)
}

func scalarInt(raw json.RawMessage, def int) int {
	s := strings.TrimSpace(scalarString(raw))
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return int(f)
}
