// Package report turns graded items into an assessment result and renders it
// for email and persistence.
package report

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/monateaches/assessment/internal/model"
)

// Policy classifies an assessment into a tier.
type Policy interface {
	Name() string
	Tier(items []model.GradedItem, score, total int) model.Tier
}

// PercentagePolicy bands the score as a share of the points available.
type PercentagePolicy struct {
	Above float64 // inclusive lower bound for Above, in percent
	Meets float64 // inclusive lower bound for Meets, in percent
}

// DefaultPolicy is the percentage policy with 90/60 boundaries.
var DefaultPolicy = PercentagePolicy{Above: 90, Meets: 60}

func (p PercentagePolicy) Name() string { return "percentage" }

func (p PercentagePolicy) Tier(_ []model.GradedItem, score, total int) model.Tier {
	pct := Percentage(score, total)
	switch {
	case pct >= p.Above:
		return model.TierAbove
	case pct >= p.Meets:
		return model.TierMeets
	}
	return model.TierBelow
}

// CountPolicy bands the number of correct items against the item count.
type CountPolicy struct {
	Above float64 // fraction of items, e.g. 0.66
	Meets float64
}

func (p CountPolicy) Name() string { return "count" }

func (p CountPolicy) Tier(items []model.GradedItem, _, _ int) model.Tier {
	if len(items) == 0 {
		return model.TierBelow
	}
	correct := 0
	for _, it := range items {
		if it.Correct {
			correct++
		}
	}
	n := float64(len(items))
	switch {
	case float64(correct) >= n*p.Above:
		return model.TierAbove
	case float64(correct) >= n*p.Meets:
		return model.TierMeets
	}
	return model.TierBelow
}

// PolicyByName returns the named policy. An empty name selects the default.
func PolicyByName(name string) (Policy, error) {
	switch strings.ToLower(name) {
	case "", "percentage":
		return DefaultPolicy, nil
	case "count":
		return CountPolicy{Above: 0.66, Meets: 0.33}, nil
	}
	return nil, fmt.Errorf("unknown tier policy %q (want percentage or count)", name)
}

// Percentage returns score/total as a percentage rounded to one decimal.
// A zero total yields 0.
func Percentage(score, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(score)*1000/float64(total)) / 10
}

// Aggregate builds the result of a submitted session. Items are kept in
// question order; the renderings are derived from the stored totals.
func Aggregate(items []model.GradedItem, respondent model.Respondent, policy Policy, at time.Time) model.AssessmentResult {
	if policy == nil {
		policy = DefaultPolicy
	}
	score, total := 0, 0
	for _, it := range items {
		score += it.Score
		total += it.MaxScore
	}
	tier := policy.Tier(items, score, total)

	res := model.AssessmentResult{
		Respondent:    respondent,
		Items:         append([]model.GradedItem(nil), items...),
		Score:         score,
		TotalPossible: total,
		Percentage:    Percentage(score, total),
		Tier:          tier,
		Rationale:     tier.Rationale(),
		SubmittedAt:   at,
	}
	res.HTML, res.Plain = Render(res)
	return res
}

// Summary returns the one-line score statement used at the top of reports.
func Summary(res model.AssessmentResult) string {
	return fmt.Sprintf("Score: %d out of %d (%s%%)", res.Score, res.TotalPossible, model.FormatNumber(res.Percentage))
}
