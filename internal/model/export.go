package model

import (
	"strconv"
	"time"
)

// Submission is a persisted assessment record.
type Submission struct {
	ID              int64     `json:"id"`
	ParentName      string    `json:"parent_name"`
	ChildName       string    `json:"child_name"`
	ParentEmail     string    `json:"parent_email"`
	KeyStage        string    `json:"key_stage,omitempty"`
	Score           int       `json:"score"`
	TotalQuestions  int       `json:"total_questions"`
	Expectations    string    `json:"expectations"`
	DetailedResults []byte    `json:"-"`
	SubmittedAt     time.Time `json:"submitted_at"`
}

// SubmissionRequest is the wire shape accepted by the submission gateway.
type SubmissionRequest struct {
	ParentName      string `json:"parentName"`
	ChildName       string `json:"childName"`
	ParentEmail     string `json:"parentEmail"`
	KeyStage        string `json:"keyStage,omitempty"`
	Score           int    `json:"score"`
	Expectations    string `json:"expectations"`
	DetailedResults any    `json:"detailedResults"`
	TotalQuestions  int    `json:"totalQuestions"`
	SubmissionTime  string `json:"submissionTime,omitempty"`
}

// NotificationRequest is the wire shape accepted by the notification gateway.
type NotificationRequest struct {
	ParentName  string `json:"parentName"`
	ChildName   string `json:"childName"`
	ParentEmail string `json:"parentEmail"`
	ResultsText string `json:"resultsText"`
	ResultsHTML string `json:"resultsHtml"`
	KeyStage    string `json:"keyStage"`
}

// SubmissionFilter narrows a submission listing. Empty fields match all rows.
type SubmissionFilter struct {
	ChildName   string
	ParentEmail string
}

// SubmissionExport is the top-level JSON structure for the export command.
type SubmissionExport struct {
	ExportedAt  time.Time          `json:"exported_at"`
	Count       int                `json:"count"`
	Submissions []SubmissionResult `json:"submissions"`
}

// SubmissionResult holds one submission with its normalized items for export.
type SubmissionResult struct {
	Submission
	Items []GradedItem `json:"items"`
}

// FormatNumber renders a float without trailing zeros.
func FormatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
