// Package assessment drives a respondent through one timed assessment:
// intake, sequential questions, and a single submission.
package assessment

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/monateaches/assessment/internal/gateway"
	"github.com/monateaches/assessment/internal/grading"
	"github.com/monateaches/assessment/internal/model"
	"github.com/monateaches/assessment/internal/questionbank"
	"github.com/monateaches/assessment/internal/report"
)

// DefaultTimeLimit is the countdown budget of a session.
const DefaultTimeLimit = 15 * time.Minute

// BankLoader provides the question set of a new session.
type BankLoader interface {
	Load(ctx context.Context) (*questionbank.Bank, error)
}

// Commentator writes an optional paragraph appended to the results email.
type Commentator interface {
	Commentary(ctx context.Context, res model.AssessmentResult) (string, error)
}

// Config holds the collaborators and parameters shared by all sessions.
type Config struct {
	Loader      BankLoader
	Verifier    gateway.Verifier
	Submitter   gateway.Submitter
	Notifier    gateway.Notifier
	Commentator Commentator // optional

	Policy         report.Policy
	Gate           gateway.Gate
	TimeLimit      time.Duration
	GatewayTimeout time.Duration
	KeyStage       string

	// Now is the wall clock; time.Now when nil.
	Now func() time.Time
	// TickInterval is the countdown resolution. A negative value disables
	// the countdown goroutine so callers can drive Tick themselves.
	TickInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.TimeLimit <= 0 {
		c.TimeLimit = DefaultTimeLimit
	}
	if c.GatewayTimeout <= 0 {
		c.GatewayTimeout = gateway.DefaultTimeout
	}
	if c.TickInterval == 0 {
		c.TickInterval = time.Second
	}
	if c.Policy == nil {
		c.Policy = report.DefaultPolicy
	}
	if c.Gate == "" {
		c.Gate = gateway.GateStart
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// NotifyState tracks the results email of a submitted session.
type NotifyState string

const (
	NotifyIdle    NotifyState = "idle"
	NotifySending NotifyState = "sending"
	NotifySent    NotifyState = "sent"
	NotifyFailed  NotifyState = "failed"
)

// Session is one respondent's assessment. All methods are safe for
// concurrent use; state changes are serialized by the session mutex.
type Session struct {
	ID        string
	CreatedAt time.Time

	cfg Config

	mu         sync.Mutex
	phase      model.Phase
	respondent model.Respondent
	bank       *questionbank.Bank
	answers    *AnswerStore
	index      int
	draft      string
	deadline   time.Time
	result     *model.AssessmentResult

	submitOnce sync.Once
	stopOnce   sync.Once
	stop       chan struct{}

	submissionID int64
	persistErr   error
	notify       NotifyState
	notifyErr    error

	wg sync.WaitGroup
}

// NewSession returns a session in the intake phase.
func NewSession(id string, cfg Config) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		ID:        id,
		CreatedAt: cfg.Now(),
		cfg:       cfg,
		phase:     model.PhaseIntake,
		notify:    NotifyIdle,
		stop:      make(chan struct{}),
	}
}

// Start validates the respondent, checks the verification gate, loads the
// question bank and starts the countdown. On any error the session stays in
// intake and Start may be called again.
func (s *Session) Start(ctx context.Context, r model.Respondent, token string) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != model.PhaseIntake {
		return s.viewLocked(), ErrWrongPhase
	}
	r, err := validateRespondent(r)
	if err != nil {
		return s.viewLocked(), err
	}
	if r.KeyStage == "" {
		r.KeyStage = s.cfg.KeyStage
	}
	if s.cfg.Gate.OnStart() {
		if err := s.verify(ctx, token); err != nil {
			return s.viewLocked(), err
		}
	}

	loadCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	bank, err := s.cfg.Loader.Load(loadCtx)
	cancel()
	if err != nil {
		slog.Error("question bank unavailable", "session", s.ID, "error", err)
		return s.viewLocked(), err
	}

	s.respondent = r
	s.bank = bank
	s.answers = NewAnswerStore(bank.IDs())
	s.index = 0
	s.draft = ""
	s.deadline = s.cfg.Now().Add(s.cfg.TimeLimit)
	s.phase = model.PhaseInProgress

	if s.cfg.TickInterval > 0 {
		go s.countdown(s.cfg.TickInterval)
	}
	slog.Info("session started", "session", s.ID, "child", r.ChildName, "questions", bank.Len(), "time_limit", s.cfg.TimeLimit)
	return s.viewLocked(), nil
}

func validateRespondent(r model.Respondent) (model.Respondent, error) {
	r.ParentName = strings.TrimSpace(r.ParentName)
	r.ChildName = strings.TrimSpace(r.ChildName)
	r.ParentEmail = strings.TrimSpace(r.ParentEmail)
	r.KeyStage = strings.TrimSpace(r.KeyStage)

	switch {
	case r.ParentName == "":
		return r, &ValidationError{Field: "parentName", Message: "parent name is required", Missing: true}
	case r.ChildName == "":
		return r, &ValidationError{Field: "childName", Message: "child name is required", Missing: true}
	case r.ParentEmail == "":
		return r, &ValidationError{Field: "parentEmail", Message: "parent email is required", Missing: true}
	}
	if _, err := mail.ParseAddress(r.ParentEmail); err != nil {
		return r, &ValidationError{Field: "parentEmail", Message: "parent email is not a valid address"}
	}
	return r, nil
}

func (s *Session) verify(ctx context.Context, token string) error {
	if s.cfg.Verifier == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()
	ok, err := s.cfg.Verifier.Verify(ctx, token)
	if err != nil {
		slog.Warn("verification error", "session", s.ID, "error", err)
		return &VerificationError{Err: err}
	}
	if !ok {
		return &VerificationError{}
	}
	return nil
}

func (s *Session) countdown(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if s.Tick() {
				return
			}
		case <-s.stop:
			return
		}
	}
}

// Tick checks the deadline and forces submission once it has passed. It
// reports whether the countdown is over.
func (s *Session) Tick() bool {
	s.mu.Lock()
	if s.phase != model.PhaseInProgress {
		s.mu.Unlock()
		return true
	}
	if s.cfg.Now().Before(s.deadline) {
		s.mu.Unlock()
		return false
	}
	fired := s.expireLocked()
	s.mu.Unlock()
	if fired {
		slog.Info("time limit reached, assessment submitted", "session", s.ID)
	}
	return true
}

// expireLocked forces submission with the in-flight answer.
func (s *Session) expireLocked() bool {
	if s.bank != nil && strings.TrimSpace(s.draft) != "" {
		_ = s.answers.Set(s.bank.Question(s.index).ID, s.draft)
	}
	fired := s.finishLocked(true)
	if fired {
		s.dispatchNotification()
	}
	return fired
}

// deadlinePassedLocked forces submission when the deadline has passed but
// the countdown has not fired yet.
func (s *Session) deadlinePassedLocked() bool {
	if s.phase == model.PhaseInProgress && !s.cfg.Now().Before(s.deadline) {
		s.expireLocked()
		return true
	}
	return false
}

// Advance saves a non-empty answer for the current question and moves to
// the next one. On the last question the index stays put.
func (s *Session) Advance(answer string) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deadlinePassedLocked() || s.phase != model.PhaseInProgress {
		return s.viewLocked(), ErrWrongPhase
	}
	if strings.TrimSpace(answer) == "" {
		return s.viewLocked(), &ValidationError{Field: "answer", Message: "please answer the question before continuing", Missing: true}
	}
	if err := s.answers.Set(s.bank.Question(s.index).ID, answer); err != nil {
		return s.viewLocked(), err
	}
	s.draft = ""
	if s.index < s.bank.Len()-1 {
		s.index++
	}
	return s.viewLocked(), nil
}

// Back moves to the previous question without saving anything.
func (s *Session) Back() (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deadlinePassedLocked() || s.phase != model.PhaseInProgress {
		return s.viewLocked(), ErrWrongPhase
	}
	if s.index > 0 {
		s.index--
		s.draft = ""
	}
	return s.viewLocked(), nil
}

// Draft records the answer currently being typed. It is captured into the
// answer store only if the time limit forces submission.
func (s *Session) Draft(answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deadlinePassedLocked() || s.phase != model.PhaseInProgress {
		return ErrWrongPhase
	}
	s.draft = answer
	return nil
}

// Submit performs the explicit final submission from the last question.
// A second call returns the existing result with ErrAlreadySubmitted.
func (s *Session) Submit(ctx context.Context, answer, token string) (model.AssessmentResult, error) {
	s.mu.Lock()
	if err := s.checkSubmitLocked(answer); err != nil {
		res := s.resultLocked()
		s.mu.Unlock()
		return res, err
	}
	s.mu.Unlock()

	if s.cfg.Gate.OnSubmit() {
		if err := s.verify(ctx, token); err != nil {
			return model.AssessmentResult{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkSubmitLocked(answer); err != nil {
		return s.resultLocked(), err
	}
	if err := s.answers.Set(s.bank.Question(s.index).ID, answer); err != nil {
		return model.AssessmentResult{}, err
	}
	s.draft = ""
	s.finishLocked(false)
	return *s.result, nil
}

func (s *Session) checkSubmitLocked(answer string) error {
	s.deadlinePassedLocked()
	switch s.phase {
	case model.PhaseSubmitted:
		return ErrAlreadySubmitted
	case model.PhaseIntake:
		return ErrWrongPhase
	}
	if s.index != s.bank.Len()-1 {
		return ErrNotLastQuestion
	}
	if strings.TrimSpace(answer) == "" {
		return &ValidationError{Field: "answer", Message: "please answer the question before submitting", Missing: true}
	}
	return nil
}

func (s *Session) resultLocked() model.AssessmentResult {
	if s.result == nil {
		return model.AssessmentResult{}
	}
	return *s.result
}

// finishLocked performs the Submitted transition at most once per session.
func (s *Session) finishLocked(forced bool) bool {
	fired := false
	s.submitOnce.Do(func() {
		fired = true
		items := grading.GradeAll(s.bank.Questions(), s.answers.Snapshot())
		res := report.Aggregate(items, s.respondent, s.cfg.Policy, s.cfg.Now())
		if forced {
			res.Forced = true
			res.HTML, res.Plain = report.Render(res)
		}
		s.result = &res
		s.phase = model.PhaseSubmitted
		s.stopTimer()

		slog.Info("assessment submitted", "session", s.ID, "score", res.Score, "total", res.TotalPossible,
			"tier", res.Tier, "forced", forced)

		if s.cfg.Submitter != nil {
			s.wg.Add(1)
			go s.persist(res)
		}
	})
	return fired
}

func (s *Session) stopTimer() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Session) persist(res model.AssessmentResult) {
	defer s.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GatewayTimeout)
	defer cancel()

	id, err := s.cfg.Submitter.Submit(ctx, res)
	if err != nil {
		slog.Error("saving submission failed", "session", s.ID, "error", err)
	}
	s.mu.Lock()
	s.submissionID, s.persistErr = id, err
	s.mu.Unlock()
}

func (s *Session) dispatchNotification() {
	if s.cfg.Notifier == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.Notify(context.Background()); err != nil {
			slog.Error("automatic results email failed", "session", s.ID, "error", err)
		}
	}()
}

// Notify sends the results email. Concurrent calls fail with
// ErrNotifyInFlight; after a successful send further calls do nothing.
func (s *Session) Notify(ctx context.Context) (NotifyState, error) {
	s.mu.Lock()
	if s.phase != model.PhaseSubmitted {
		s.mu.Unlock()
		return s.notifyStateOf(), ErrWrongPhase
	}
	switch s.notify {
	case NotifySent:
		s.mu.Unlock()
		return NotifySent, nil
	case NotifySending:
		s.mu.Unlock()
		return NotifySending, ErrNotifyInFlight
	}
	if s.cfg.Notifier == nil {
		s.mu.Unlock()
		return NotifyIdle, &gateway.NotificationError{Err: errors.New("no notifier configured")}
	}
	s.notify = NotifySending
	res := *s.result
	s.mu.Unlock()

	html, plain := res.HTML, res.Plain
	if text := s.commentary(ctx, res); text != "" {
		html, plain = report.RenderWithCommentary(res, text)
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()
	err := s.cfg.Notifier.Notify(sendCtx, gateway.NotificationFromResult(res, html, plain))
	if err != nil {
		var ne *gateway.NotificationError
		if !errors.As(err, &ne) {
			err = &gateway.NotificationError{Err: err}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifyErr = err
	if err != nil {
		s.notify = NotifyFailed
		return s.notify, err
	}
	s.notify = NotifySent
	slog.Info("results email sent", "session", s.ID)
	return s.notify, nil
}

// commentary asks the commentator for a paragraph within half the gateway
// timeout. Any failure yields "" and the email goes out without it.
func (s *Session) commentary(ctx context.Context, res model.AssessmentResult) string {
	if s.cfg.Commentator == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout/2)
	defer cancel()
	text, err := s.cfg.Commentator.Commentary(ctx, res)
	if err != nil {
		slog.Warn("commentary unavailable", "session", s.ID, "error", err)
		return ""
	}
	return text
}

func (s *Session) notifyStateOf() NotifyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notify
}

// Result returns the submitted result.
func (s *Session) Result() (model.AssessmentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadlinePassedLocked()
	if s.result == nil {
		return model.AssessmentResult{}, ErrWrongPhase
	}
	return *s.result, nil
}

// Wait blocks until all gateway calls started by the session have finished.
func (s *Session) Wait() { s.wg.Wait() }

// abandon stops the countdown of a session nobody will finish.
func (s *Session) abandon() {
	s.stopTimer()
}

// View is a respondent-facing snapshot of a session.
type View struct {
	ID           string                  `json:"id"`
	Phase        model.Phase             `json:"phase"`
	Index        int                     `json:"index"`
	Total        int                     `json:"total"`
	Remaining    int                     `json:"remainingSeconds"`
	Question     *model.Question         `json:"question,omitempty"`
	Answer       string                  `json:"answer,omitempty"`
	Last         bool                    `json:"last"`
	Answered     int                     `json:"answered"`
	Result       *model.AssessmentResult `json:"result,omitempty"`
	SubmissionID int64                   `json:"submissionId,omitempty"`
	Notify       NotifyState             `json:"notify"`
}

// View returns the current snapshot.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadlinePassedLocked()
	return s.viewLocked()
}

func (s *Session) viewLocked() View {
	v := View{ID: s.ID, Phase: s.phase, Notify: s.notify, SubmissionID: s.submissionID}
	if s.bank == nil {
		return v
	}
	v.Total = s.bank.Len()
	v.Answered = s.answers.Len()

	switch s.phase {
	case model.PhaseInProgress:
		left := s.deadline.Sub(s.cfg.Now())
		v.Remaining = max(0, int(math.Ceil(left.Seconds())))
		q := s.bank.Question(s.index).Public()
		v.Question = &q
		v.Index = s.index
		v.Last = s.index == s.bank.Len()-1
		v.Answer, _ = s.answers.Get(q.ID)
	case model.PhaseSubmitted:
		v.Index = s.index
		res := *s.result
		v.Result = &res
	}
	return v
}
