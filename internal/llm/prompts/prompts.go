package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/monateaches/assessment/internal/model"
)

//go:embed templates/*.txt
var templateFS embed.FS

var respondentAnswerRegex = regexp.MustCompile(`(?i)</?\s*respondent-answer\b[^>]*>`)

// PromptVariant represents a commentary prompt variant.
type PromptVariant string

const (
	// PromptEncouraging leads with strengths and suggests playful practice.
	PromptEncouraging PromptVariant = "encouraging"
	// PromptNeutral is a factual summary.
	PromptNeutral PromptVariant = "neutral"
	// PromptBrief is a single sentence about what to practise.
	PromptBrief PromptVariant = "brief"
)

var validVariants = map[PromptVariant]bool{
	PromptEncouraging: true,
	PromptNeutral:     true,
	PromptBrief:       true,
}

var (
	loadOnce            sync.Once
	loadErr             error
	commentaryTemplates map[PromptVariant]*template.Template
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

// CommentaryData holds template data for commentary prompts.
type CommentaryData struct {
	ChildName  string
	KeyStage   string
	Score      int
	Total      int
	Percentage string
	Tier       string
	Rationale  string
	Items      []ItemData
}

// ItemData is one graded question as shown to the model.
type ItemData struct {
	Question string
	Topic    string
	Answer   string
	Correct  string
	Outcome  string
}

// Load parses the commentary templates. A nil fsys uses the embedded
// templates. Templates are loaded only once.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		if fsys == nil {
			fsys = templateFS
		}
		commentaryTemplates = make(map[PromptVariant]*template.Template)
		for _, v := range []PromptVariant{PromptEncouraging, PromptNeutral, PromptBrief} {
			name := "templates/commentary_" + string(v) + ".txt"
			content, err := fs.ReadFile(fsys, name)
			if err != nil {
				loadErr = fmt.Errorf("read prompt file %s: %w", name, err)
				return
			}
			tmpl, err := template.New(string(v)).Parse(string(content))
			if err != nil {
				loadErr = fmt.Errorf("parse prompt template %s: %w", name, err)
				return
			}
			commentaryTemplates[v] = tmpl
		}
	})
	return loadErr
}

// BuildCommentaryPrompt renders the prompt for res using variant.
func BuildCommentaryPrompt(variant PromptVariant, res model.AssessmentResult) (string, error) {
	if commentaryTemplates == nil {
		return "", errors.New("templates not initialized: call Load first")
	}
	tmpl, ok := commentaryTemplates[variant]
	if !ok {
		if loadErr != nil {
			return "", fmt.Errorf("templates load failed: %w", loadErr)
		}
		return "", errors.New("invalid prompt variant: " + string(variant))
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, commentaryData(res)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func commentaryData(res model.AssessmentResult) CommentaryData {
	data := CommentaryData{
		ChildName:  res.Respondent.ChildName,
		KeyStage:   res.Respondent.KeyStage,
		Score:      res.Score,
		Total:      res.TotalPossible,
		Percentage: model.FormatNumber(res.Percentage),
		Tier:       string(res.Tier),
		Rationale:  res.Rationale,
	}
	for _, it := range res.Items {
		answer := it.DisplayAnswer
		if answer == "" {
			answer = it.UserAnswer
		}
		data.Items = append(data.Items, ItemData{
			Question: it.Question,
			Topic:    it.Topic,
			Answer:   sanitizeAnswer(answer),
			Correct:  it.CorrectAnswer,
			Outcome:  string(it.Outcome),
		})
	}
	return data
}

func sanitizeAnswer(answer string) string {
	answer = respondentAnswerRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > 500 {
		runes := []rune(answer)
		answer = string(runes[:500]) + " [truncated]"
	}
	return answer
}
