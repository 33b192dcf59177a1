package model

import (
	"context"
	"time"
)

// QuestionKind identifies how a question is answered and graded.
type QuestionKind string

const (
	KindSingleChoice QuestionKind = "single-choice"
	KindFreeText     QuestionKind = "free-text"
	KindNumeric      QuestionKind = "numeric"
)

// Valid reports whether k is one of the recognized kinds.
func (k QuestionKind) Valid() bool {
	switch k {
	case KindSingleChoice, KindFreeText, KindNumeric:
		return true
	}
	return false
}

// Option is one selectable answer of a single-choice question.
type Option struct {
	Key   string `json:"key" yaml:"key"`
	Label string `json:"label" yaml:"label"`
}

// CorrectAnswer is the canonical answer of a question. Its concrete type
// always matches the question kind: ChoiceKey, TextAnswer or NumberAnswer.
type CorrectAnswer interface {
	// Display renders the answer for reports.
	Display() string
	kind() QuestionKind
}

// ChoiceKey is the correct option key of a single-choice question.
type ChoiceKey string

func (c ChoiceKey) Display() string  { return string(c) }
func (ChoiceKey) kind() QuestionKind { return KindSingleChoice }

// TextAnswer is the canonical string of a free-text question.
type TextAnswer string

func (t TextAnswer) Display() string  { return string(t) }
func (TextAnswer) kind() QuestionKind { return KindFreeText }

// NumberAnswer is the canonical value of a numeric question.
type NumberAnswer float64

func (n NumberAnswer) Display() string  { return FormatNumber(float64(n)) }
func (NumberAnswer) kind() QuestionKind { return KindNumeric }

// KindOf returns the question kind a correct answer belongs to.
func KindOf(c CorrectAnswer) QuestionKind {
	if c == nil {
		return ""
	}
	return c.kind()
}

// Question is an immutable question definition loaded for a session.
type Question struct {
	ID             string        `json:"id"`
	Kind           QuestionKind  `json:"type"`
	Prompt         string        `json:"question"`
	Passage        string        `json:"passage,omitempty"`
	Image          string        `json:"image,omitempty"`
	Options        []Option      `json:"options,omitempty"`
	Correct        CorrectAnswer `json:"-"`
	CorrectDisplay string        `json:"-"`
	Explanation    string        `json:"-"`
	Topic          string        `json:"topic"`
	Points         int           `json:"points"`
}

// MaxPoints returns the question weight, defaulting to 1.
func (q Question) MaxPoints() int {
	if q.Points <= 0 {
		return 1
	}
	return q.Points
}

// OptionLabel returns the label for an option key and whether it exists.
func (q Question) OptionLabel(key string) (string, bool) {
	for _, o := range q.Options {
		if o.Key == key {
			return o.Label, true
		}
	}
	return "", false
}

// Public returns a copy safe to show to a respondent.
func (q Question) Public() Question {
	q.Correct = nil
	q.CorrectDisplay = ""
	q.Explanation = ""
	if q.Options != nil {
		q.Options = append([]Option(nil), q.Options...)
	}
	return q
}

// QuestionImport is the on-disk shape of a question bank item. It accepts the
// legacy bank layout (question, correctAnswer, topic) as well as typed items.
type QuestionImport struct {
	ID             string   `json:"id" yaml:"id"`
	Type           string   `json:"type" yaml:"type"`
	Question       string   `json:"question" yaml:"question"`
	Passage        string   `json:"passage,omitempty" yaml:"passage,omitempty"`
	Image          string   `json:"image,omitempty" yaml:"image,omitempty"`
	Options        []Option `json:"options,omitempty" yaml:"options,omitempty"`
	CorrectAnswer  any      `json:"correctAnswer" yaml:"correctAnswer"`
	CorrectDisplay string   `json:"correctDisplay,omitempty" yaml:"correctDisplay,omitempty"`
	Explanation    string   `json:"explanation,omitempty" yaml:"explanation,omitempty"`
	Topic          string   `json:"topic,omitempty" yaml:"topic,omitempty"`
	Points         int      `json:"points,omitempty" yaml:"points,omitempty"`
}

// Outcome is the tri-state grade of one item.
type Outcome string

const (
	OutcomeCorrect    Outcome = "Correct"
	OutcomeIncorrect  Outcome = "Incorrect"
	OutcomeUnanswered Outcome = "Unanswered"
)

// GradedItem is the grade of one question, derived once at submission.
type GradedItem struct {
	QuestionID    string  `json:"question_id"`
	Question      string  `json:"question"`
	Topic         string  `json:"topic,omitempty"`
	UserAnswer    string  `json:"user_answer"`
	DisplayAnswer string  `json:"display_answer,omitempty"`
	CorrectAnswer string  `json:"correct_answer"`
	Outcome       Outcome `json:"outcome"`
	Correct       bool    `json:"is_correct"`
	Score         int     `json:"score"`
	MaxScore      int     `json:"max_score"`
	Explanation   string  `json:"explanation,omitempty"`
}

// Respondent holds the identity captured at intake.
type Respondent struct {
	ParentName  string `json:"parentName"`
	ChildName   string `json:"childName"`
	ParentEmail string `json:"parentEmail"`
	KeyStage    string `json:"keyStage,omitempty"`
}

// Tier is the three-band outcome classification of a whole assessment.
type Tier string

const (
	TierBelow Tier = "Below Expectations"
	TierMeets Tier = "Meets Expectations"
	TierAbove Tier = "Above Expectations"
)

// Rationale returns the human explanation attached to a tier.
func (t Tier) Rationale() string {
	switch t {
	case TierAbove:
		return "Excellent understanding"
	case TierMeets:
		return "Good understanding"
	default:
		return "Further practice needed"
	}
}

// AssessmentResult is created once per session at submission and never
// mutated afterwards. HTML and Plain are renderings of Items and the totals.
type AssessmentResult struct {
	Respondent    Respondent   `json:"respondent"`
	Items         []GradedItem `json:"items"`
	Score         int          `json:"score"`
	TotalPossible int          `json:"totalPossible"`
	Percentage    float64      `json:"percentage"`
	Tier          Tier         `json:"expectations"`
	Rationale     string       `json:"rationale"`
	SubmittedAt   time.Time    `json:"submittedAt"`
	Forced        bool         `json:"forced"`
	HTML          string       `json:"html"`
	Plain         string       `json:"plain"`
}

// Phase is the lifecycle stage of an assessment session.
type Phase string

const (
	PhaseIntake     Phase = "intake"
	PhaseInProgress Phase = "in_progress"
	PhaseSubmitted  Phase = "submitted"
)

// AssessmentConfig holds runtime assessment parameters set via CLI flags.
type AssessmentConfig struct {
	TimeLimit      time.Duration // countdown budget per session
	NumQuestions   int           // 0 means all available
	Topic          string        // empty means all topics
	Shuffle        bool
	KeyStage       string // default key stage attached to reports
	TierPolicy     string // percentage or count
	VerifyGate     string // start, submit or both
	GatewayTimeout time.Duration
}

// UserRole represents an account's access level.
type UserRole string

const (
	// UserRoleAdmin may list, inspect and delete submissions.
	UserRoleAdmin UserRole = "admin"
)

// User is an account able to authenticate against the admin endpoints.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         UserRole
	CreatedAt    time.Time
}

type adminCtxKey struct{}

// ContextWithAdmin stores the authenticated admin subject in the request context.
func ContextWithAdmin(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, adminCtxKey{}, subject)
}

// AdminFromContext returns the authenticated admin subject, or "".
func AdminFromContext(ctx context.Context) string {
	s, _ := ctx.Value(adminCtxKey{}).(string)
	return s
}
