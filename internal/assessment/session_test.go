package assessment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monateaches/assessment/internal/gateway"
	"github.com/monateaches/assessment/internal/model"
	"github.com/monateaches/assessment/internal/questionbank"
)

type harness struct {
	clock    *fakeClock
	sub      *countingSubmitter
	notifier *recordingNotifier
	cfg      Config
}

func newHarness(n int) *harness {
	h := &harness{clock: newFakeClock(), sub: &countingSubmitter{}, notifier: &recordingNotifier{}}
	h.cfg = Config{
		Loader:       staticLoader{questions: numericQuestions(n)},
		Verifier:     gateway.StaticVerifier{},
		Submitter:    h.sub,
		Notifier:     h.notifier,
		Now:          h.clock.Now,
		TickInterval: -1,
	}
	return h
}

func (h *harness) started(t *testing.T) *Session {
	t.Helper()
	s := NewSession("test", h.cfg)
	_, err := s.Start(context.Background(), testRespondent, "token")
	require.NoError(t, err)
	return s
}

func TestStartValidation(t *testing.T) {
	h := newHarness(3)
	tests := []struct {
		name  string
		r     model.Respondent
		field string
	}{
		{"no parent", model.Respondent{ChildName: "Ben", ParentEmail: "a@b.c"}, "parentName"},
		{"blank child", model.Respondent{ParentName: "Ann", ChildName: "  ", ParentEmail: "a@b.c"}, "childName"},
		{"no email", model.Respondent{ParentName: "Ann", ChildName: "Ben"}, "parentEmail"},
		{"bad email", model.Respondent{ParentName: "Ann", ChildName: "Ben", ParentEmail: "not-an-email"}, "parentEmail"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := NewSession("v", h.cfg)
			_, err := s.Start(context.Background(), tc.r, "token")
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tc.field, ve.Field)
			assert.Equal(t, model.PhaseIntake, s.View().Phase)
		})
	}
}

func TestStartVerificationRetry(t *testing.T) {
	h := newHarness(3)
	h.cfg.Verifier = gateway.StaticVerifier{Reject: map[string]bool{"bot": true}}
	s := NewSession("v", h.cfg)

	_, err := s.Start(context.Background(), testRespondent, "bot")
	var ve *VerificationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, model.PhaseIntake, s.View().Phase)

	v, err := s.Start(context.Background(), testRespondent, "human")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseInProgress, v.Phase)
	assert.Equal(t, 900, v.Remaining)
	assert.Equal(t, 0, v.Index)
	assert.Equal(t, 3, v.Total)
	require.NotNil(t, v.Question)
	assert.Nil(t, v.Question.Correct, "view must not leak the correct answer")

	_, err = s.Start(context.Background(), testRespondent, "human")
	assert.ErrorIs(t, err, ErrWrongPhase)
}

func TestStartLoadErrorBlocks(t *testing.T) {
	h := newHarness(0)
	h.cfg.Loader = staticLoader{err: &questionbank.LoadError{Source: "bank.json", Err: errors.New("no valid questions")}}
	s := NewSession("l", h.cfg)
	_, err := s.Start(context.Background(), testRespondent, "token")
	var le *questionbank.LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, model.PhaseIntake, s.View().Phase)
}

func TestStartLoadIsBounded(t *testing.T) {
	h := newHarness(0)
	h.cfg.Loader = stalledLoader{}
	h.cfg.GatewayTimeout = 20 * time.Millisecond
	s := NewSession("slow-bank", h.cfg)

	_, err := s.Start(context.Background(), testRespondent, "token")
	var le *questionbank.LoadError
	require.True(t, errors.As(err, &le))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, model.PhaseIntake, s.View().Phase)
}

func TestAdvanceAndBack(t *testing.T) {
	s := newHarness(3).started(t)

	_, err := s.Advance("   ")
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, 0, s.View().Index)

	v, err := s.Advance("1")
	require.NoError(t, err)
	assert.Equal(t, 1, v.Index)
	assert.Empty(t, v.Answer)

	v, err = s.Back()
	require.NoError(t, err)
	assert.Equal(t, 0, v.Index)
	assert.Equal(t, "1", v.Answer, "saved answer is shown again")
	assert.Equal(t, "q1", v.Question.ID)

	v, err = s.Back()
	require.NoError(t, err)
	assert.Equal(t, 0, v.Index)

	s.Advance("one")
	s.Advance("2")
	v, err = s.Advance("3")
	require.NoError(t, err)
	assert.Equal(t, 2, v.Index, "advance on the last question is a no-op")
	assert.True(t, v.Last)
	assert.Equal(t, 3, v.Answered)
}

func TestSubmitOnlyFromLastQuestion(t *testing.T) {
	h := newHarness(2)
	s := h.started(t)

	_, err := s.Submit(context.Background(), "1", "")
	assert.ErrorIs(t, err, ErrNotLastQuestion)

	s.Advance("1")
	_, err = s.Submit(context.Background(), "", "")
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))

	res, err := s.Submit(context.Background(), "2", "")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Score)
	assert.Equal(t, model.TierAbove, res.Tier)
	assert.False(t, res.Forced)

	s.Wait()
	assert.Equal(t, 1, h.sub.count())
	assert.Zero(t, h.notifier.count(), "manual submission does not email automatically")
	assert.Equal(t, int64(1), s.View().SubmissionID)
}

func TestSubmitIsIdempotent(t *testing.T) {
	h := newHarness(1)
	s := h.started(t)

	first, err := s.Submit(context.Background(), "1", "")
	require.NoError(t, err)
	second, err := s.Submit(context.Background(), "1", "")
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
	assert.Equal(t, first, second)

	s.Wait()
	assert.Equal(t, 1, h.sub.count())
}

func TestTimerAndManualSubmitRace(t *testing.T) {
	for range 20 {
		h := newHarness(1)
		s := h.started(t)
		h.clock.Advance(DefaultTimeLimit)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); s.Tick() }()
		go func() { defer wg.Done(); s.Submit(context.Background(), "1", "") }()
		wg.Wait()
		s.Wait()

		require.Equal(t, 1, h.sub.count())
		assert.Equal(t, model.PhaseSubmitted, s.View().Phase)
	}
}

func TestTimerExpiryMidSession(t *testing.T) {
	h := newHarness(10)
	s := h.started(t)

	// Questions 1-4 answered (q3 wrong), question 5 typed but not saved.
	for _, a := range []string{"1", "2", "0", "4"} {
		_, err := s.Advance(a)
		require.NoError(t, err)
	}
	require.NoError(t, s.Draft("5"))

	h.clock.Advance(DefaultTimeLimit - time.Second)
	assert.False(t, s.Tick())
	assert.Equal(t, 1, s.View().Remaining)

	h.clock.Advance(time.Second)
	assert.True(t, s.Tick())
	assert.True(t, s.Tick(), "further ticks are no-ops")
	s.Wait()

	require.Equal(t, 1, h.sub.count())
	res := h.sub.calls[0]
	assert.True(t, res.Forced)
	assert.Len(t, res.Items, 10)
	assert.Equal(t, 4, res.Score)
	for _, it := range res.Items[5:] {
		assert.Equal(t, model.OutcomeUnanswered, it.Outcome)
		assert.Zero(t, it.Score)
	}
	assert.Equal(t, model.OutcomeCorrect, res.Items[4].Outcome, "in-flight answer is captured")

	require.Equal(t, 1, h.notifier.count(), "forced submission emails automatically")
	assert.Equal(t, NotifySent, s.View().Notify)

	_, err := s.Advance("6")
	assert.ErrorIs(t, err, ErrWrongPhase)
}

func TestDeadlineEnforcedWithoutTick(t *testing.T) {
	h := newHarness(3)
	s := h.started(t)
	h.clock.Advance(DefaultTimeLimit + time.Minute)

	_, err := s.Advance("1")
	assert.ErrorIs(t, err, ErrWrongPhase)
	s.Wait()
	assert.Equal(t, 1, h.sub.count())
	res, err := s.Result()
	require.NoError(t, err)
	assert.True(t, res.Forced)
}

func TestPersistenceFailureDoesNotBlockResult(t *testing.T) {
	h := newHarness(1)
	h.sub.err = errors.New("database down")
	s := h.started(t)

	res, err := s.Submit(context.Background(), "1", "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Score)
	s.Wait()
	assert.Zero(t, s.View().SubmissionID)
}

func TestSubmitVerificationGate(t *testing.T) {
	h := newHarness(1)
	h.cfg.Gate = gateway.GateSubmit
	s := h.started(t)

	_, err := s.Submit(context.Background(), "1", "")
	var ve *VerificationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, model.PhaseInProgress, s.View().Phase)

	_, err = s.Submit(context.Background(), "1", "token")
	require.NoError(t, err)
}

func TestNotify(t *testing.T) {
	h := newHarness(1)
	h.cfg.Commentator = fixedCommentator("Ben did well.")
	h.notifier.fail = errors.New("smtp unavailable")
	s := h.started(t)

	_, err := s.Notify(context.Background())
	assert.ErrorIs(t, err, ErrWrongPhase)

	_, err = s.Submit(context.Background(), "1", "")
	require.NoError(t, err)

	state, err := s.Notify(context.Background())
	var ne *gateway.NotificationError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, NotifyFailed, state)

	h.notifier.mu.Lock()
	h.notifier.fail = nil
	h.notifier.mu.Unlock()

	state, err = s.Notify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, NotifySent, state)

	state, err = s.Notify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, NotifySent, state)
	assert.Equal(t, 2, h.notifier.count(), "no send after success")

	last := h.notifier.calls[1]
	assert.Equal(t, gateway.DefaultKeyStage, last.KeyStage)
	assert.Contains(t, last.ResultsHTML, "Ben did well.")
	assert.True(t, strings.Contains(last.ResultsText, "Dear Ann Smith"))
}

func TestNotifyWithoutCommentaryWhenCommentatorStalls(t *testing.T) {
	h := newHarness(1)
	h.cfg.Commentator = stalledCommentator{}
	h.cfg.GatewayTimeout = 50 * time.Millisecond
	s := h.started(t)
	_, err := s.Submit(context.Background(), "1", "")
	require.NoError(t, err)

	state, err := s.Notify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, NotifySent, state)
	require.Equal(t, 1, h.notifier.count())
	assert.Contains(t, h.notifier.calls[0].ResultsText, "Dear Ann Smith")
}

func TestNotifyInFlightGuard(t *testing.T) {
	h := newHarness(1)
	h.notifier.release = make(chan struct{})
	h.notifier.entered = make(chan struct{}, 1)
	s := h.started(t)
	_, err := s.Submit(context.Background(), "1", "")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.Notify(context.Background())
		done <- err
	}()
	<-h.notifier.entered

	state, err := s.Notify(context.Background())
	assert.ErrorIs(t, err, ErrNotifyInFlight)
	assert.Equal(t, NotifySending, state)

	close(h.notifier.release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, h.notifier.count())
}

func TestCountdownGoroutine(t *testing.T) {
	h := newHarness(1)
	h.cfg.Now = nil
	h.cfg.TimeLimit = 30 * time.Millisecond
	h.cfg.TickInterval = 5 * time.Millisecond
	s := NewSession("real", h.cfg)
	_, err := s.Start(context.Background(), testRespondent, "token")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return s.View().Phase == model.PhaseSubmitted }, time.Second, 5*time.Millisecond)
	s.Wait()
	assert.Equal(t, 1, h.sub.count())
}
