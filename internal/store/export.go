package store

import (
	"fmt"
	"log/slog"

	"github.com/monateaches/assessment/internal/model"
	"github.com/monateaches/assessment/internal/report"
)

// ExportAllSubmissions returns every submission, newest first, with its
// detailed results normalized into graded items.
func (s *Store) ExportAllSubmissions() ([]model.SubmissionResult, error) {
	subs, err := s.ListSubmissions(model.SubmissionFilter{})
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}

	results := make([]model.SubmissionResult, 0, len(subs))
	for _, sum := range subs {
		sub, err := s.GetSubmission(sum.ID)
		if err != nil {
			return nil, fmt.Errorf("get submission %d: %w", sum.ID, err)
		}
		if sub == nil {
			continue // deleted while exporting
		}
		items, err := report.DecodeDetailed(sub.DetailedResults)
		if err != nil {
			slog.Warn("unreadable detailed results", "id", sub.ID, "error", err)
		}
		results = append(results, model.SubmissionResult{Submission: *sub, Items: items})
	}
	return results, nil
}
