// Package gateway holds the outbound boundaries of an assessment session:
// persisting a submission, delivering the results email and verifying the
// bot-check token.
package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/monateaches/assessment/internal/model"
)

// DefaultTimeout bounds every gateway call.
const DefaultTimeout = 20 * time.Second

// DefaultKeyStage is attached to notifications when the respondent has none.
const DefaultKeyStage = "Key Stage 1"

// Submitter persists a submitted result and returns its record id.
type Submitter interface {
	Submit(ctx context.Context, res model.AssessmentResult) (int64, error)
}

// Notifier delivers a results report to the respondent's parent.
type Notifier interface {
	Notify(ctx context.Context, req model.NotificationRequest) error
}

// Verifier checks a bot-verification token.
type Verifier interface {
	Verify(ctx context.Context, token string) (bool, error)
}

// PersistenceError reports a failed submission.
type PersistenceError struct {
	Status int // HTTP status when the failure came from a remote endpoint
	Err    error
}

func (e *PersistenceError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("persist submission: status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("persist submission: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// NotificationError reports a failed results email.
type NotificationError struct {
	Status  int
	Network bool // the request never reached the notification endpoint
	Err     error
}

func (e *NotificationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("send notification: status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("send notification: %v", e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

// Gate selects which session actions require verification.
type Gate string

const (
	GateStart  Gate = "start"
	GateSubmit Gate = "submit"
	GateBoth   Gate = "both"
)

// ParseGate parses a gate name; empty selects GateStart.
func ParseGate(s string) (Gate, error) {
	switch g := Gate(strings.ToLower(s)); g {
	case "":
		return GateStart, nil
	case GateStart, GateSubmit, GateBoth:
		return g, nil
	}
	return "", fmt.Errorf("unknown verify gate %q (want start, submit or both)", s)
}

// OnStart reports whether session start is gated.
func (g Gate) OnStart() bool { return g == GateStart || g == GateBoth }

// OnSubmit reports whether final submission is gated.
func (g Gate) OnSubmit() bool { return g == GateSubmit || g == GateBoth }

// SubmissionFromResult builds the wire request for a result.
func SubmissionFromResult(res model.AssessmentResult) model.SubmissionRequest {
	return model.SubmissionRequest{
		ParentName:      res.Respondent.ParentName,
		ChildName:       res.Respondent.ChildName,
		ParentEmail:     res.Respondent.ParentEmail,
		KeyStage:        res.Respondent.KeyStage,
		Score:           res.Score,
		Expectations:    string(res.Tier),
		DetailedResults: res.Items,
		TotalQuestions:  len(res.Items),
		SubmissionTime:  res.SubmittedAt.UTC().Format(time.RFC3339),
	}
}

// NotificationFromResult builds the notification request for a result using
// the given renderings.
func NotificationFromResult(res model.AssessmentResult, html, plain string) model.NotificationRequest {
	ks := res.Respondent.KeyStage
	if ks == "" {
		ks = DefaultKeyStage
	}
	return model.NotificationRequest{
		ParentName:  res.Respondent.ParentName,
		ChildName:   res.Respondent.ChildName,
		ParentEmail: res.Respondent.ParentEmail,
		ResultsText: plain,
		ResultsHTML: html,
		KeyStage:    ks,
	}
}
