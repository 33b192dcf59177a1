package report

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/monateaches/assessment/internal/model"
)

//go:generate templ generate

// Render returns the HTML document and plain-text renderings of res.
func Render(res model.AssessmentResult) (html, plain string) {
	var buf bytes.Buffer
	if err := Document(res, "").Render(context.Background(), &buf); err != nil {
		slog.Error("render report", "error", err)
	}
	return buf.String(), Plain(res, "")
}

// RenderWithCommentary renders res with an extra paragraph of commentary
// placed before the sign-off. An empty commentary renders as Render does.
func RenderWithCommentary(res model.AssessmentResult, commentary string) (html, plain string) {
	var buf bytes.Buffer
	if err := Document(res, commentary).Render(context.Background(), &buf); err != nil {
		slog.Error("render report", "error", err)
	}
	return buf.String(), Plain(res, commentary)
}

// Plain renders res as plain text.
func Plain(res model.AssessmentResult, commentary string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\n", res.Respondent.ParentName)
	fmt.Fprintf(&b, "Here are the assessment results for %s:\n\n", res.Respondent.ChildName)
	for i, it := range res.Items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, it.Question)
		fmt.Fprintf(&b, "   Your Answer: %s\n", orNA(displayed(it)))
		fmt.Fprintf(&b, "   Correct Answer: %s\n", orNA(it.CorrectAnswer))
		fmt.Fprintf(&b, "   Score: %d/%d (%s)\n", it.Score, it.MaxScore, it.Outcome)
	}
	fmt.Fprintf(&b, "\nOverall %s\n", Summary(res))
	fmt.Fprintf(&b, "Overall Outcome: %s (%s)\n", res.Tier, res.Rationale)
	if res.Forced {
		b.WriteString("The time limit was reached and the assessment was submitted automatically.\n")
	}
	if commentary != "" {
		fmt.Fprintf(&b, "\n%s\n", commentary)
	}
	return b.String()
}

func title(res model.AssessmentResult) string {
	if res.Respondent.KeyStage != "" {
		return res.Respondent.KeyStage + " Assessment Results"
	}
	return "Assessment Results"
}

func displayed(it model.GradedItem) string {
	if it.DisplayAnswer != "" {
		return it.DisplayAnswer
	}
	return it.UserAnswer
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

func tierClass(t model.Tier) string {
	switch t {
	case model.TierAbove:
		return "expectation-above"
	case model.TierMeets:
		return "expectation-meets"
	}
	return "expectation-below"
}
