package assessment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/monateaches/assessment/internal/gateway"
	"github.com/monateaches/assessment/internal/model"
	"github.com/monateaches/assessment/internal/questionbank"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type staticLoader struct {
	questions []model.Question
	err       error
}

func (l staticLoader) Load(context.Context) (*questionbank.Bank, error) {
	if l.err != nil {
		return nil, l.err
	}
	return questionbank.NewBank(l.questions), nil
}

// numericQuestions returns n questions "q1".."qn" whose answer is the index.
func numericQuestions(n int) []model.Question {
	qs := make([]model.Question, n)
	for i := range qs {
		qs[i] = model.Question{
			ID:      fmt.Sprintf("q%d", i+1),
			Kind:    model.KindNumeric,
			Prompt:  fmt.Sprintf("What is %d?", i+1),
			Correct: model.NumberAnswer(i + 1),
		}
	}
	return qs
}

type countingSubmitter struct {
	mu    sync.Mutex
	calls []model.AssessmentResult
	err   error
}

func (s *countingSubmitter) Submit(_ context.Context, res model.AssessmentResult) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, res)
	if s.err != nil {
		return 0, &gateway.PersistenceError{Err: s.err}
	}
	return int64(len(s.calls)), nil
}

func (s *countingSubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type recordingNotifier struct {
	mu      sync.Mutex
	calls   []model.NotificationRequest
	fail    error
	release chan struct{} // when set, Notify blocks until it is closed
	entered chan struct{}
}

func (n *recordingNotifier) Notify(ctx context.Context, req model.NotificationRequest) error {
	if n.entered != nil {
		n.entered <- struct{}{}
	}
	if n.release != nil {
		select {
		case <-n.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, req)
	return n.fail
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type fixedCommentator string

func (c fixedCommentator) Commentary(context.Context, model.AssessmentResult) (string, error) {
	return string(c), nil
}

var testRespondent = model.Respondent{ParentName: "Ann Smith", ChildName: "Ben", ParentEmail: "ann@example.com"}

// stalledCommentator never answers before its context ends.
type stalledCommentator struct{}

func (stalledCommentator) Commentary(ctx context.Context, _ model.AssessmentResult) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

// stalledLoader never returns a bank before its context ends.
type stalledLoader struct{}

func (stalledLoader) Load(ctx context.Context) (*questionbank.Bank, error) {
	<-ctx.Done()
	return nil, &questionbank.LoadError{Source: "https://bank.example/questions.json", Err: ctx.Err()}
}
