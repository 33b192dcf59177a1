package gateway

import (
	"context"
	"log/slog"

	"github.com/monateaches/assessment/internal/model"
	"github.com/monateaches/assessment/internal/report"
)

// SubmissionWriter persists submission rows.
type SubmissionWriter interface {
	InsertSubmission(sub model.Submission) (int64, error)
}

// StoreSubmitter writes results straight to the submission store.
type StoreSubmitter struct {
	Store SubmissionWriter
}

func (s *StoreSubmitter) Submit(ctx context.Context, res model.AssessmentResult) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, &PersistenceError{Err: err}
	}
	detailed, err := report.EncodeDetailed(res)
	if err != nil {
		return 0, &PersistenceError{Err: err}
	}
	id, err := s.Store.InsertSubmission(SubmissionRecord(res, detailed))
	if err != nil {
		return 0, &PersistenceError{Err: err}
	}
	slog.Info("submission saved", "id", id, "child", res.Respondent.ChildName, "score", res.Score)
	return id, nil
}

// SubmissionRecord converts a result into a store row.
func SubmissionRecord(res model.AssessmentResult, detailed []byte) model.Submission {
	return model.Submission{
		ParentName:      res.Respondent.ParentName,
		ChildName:       res.Respondent.ChildName,
		ParentEmail:     res.Respondent.ParentEmail,
		KeyStage:        res.Respondent.KeyStage,
		Score:           res.Score,
		TotalQuestions:  len(res.Items),
		Expectations:    string(res.Tier),
		DetailedResults: detailed,
		SubmittedAt:     res.SubmittedAt,
	}
}
