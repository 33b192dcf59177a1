package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"

	"github.com/monateaches/assessment/internal/model"
)

func sampleResult() model.AssessmentResult {
	return model.AssessmentResult{
		Respondent: model.Respondent{ParentName: "Ann", ChildName: "Ben", ParentEmail: "ann@example.com"},
		Items: []model.GradedItem{
			{QuestionID: "q1", Question: "2+2", UserAnswer: "4", CorrectAnswer: "4", Outcome: model.OutcomeCorrect, Correct: true, Score: 1, MaxScore: 1},
			{QuestionID: "q2", Question: "3+3", CorrectAnswer: "6", Outcome: model.OutcomeUnanswered, MaxScore: 1},
		},
		Score:         1,
		TotalPossible: 2,
		Tier:          model.TierBelow,
		SubmittedAt:   time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC),
	}
}

func TestHTTPSubmitter(t *testing.T) {
	var got model.SubmissionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"message":"Submission saved successfully!","id":42}`))
	}))
	defer srv.Close()

	s := &HTTPSubmitter{URL: srv.URL, Client: srv.Client()}
	id, err := s.Submit(context.Background(), sampleResult())
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, "Ben", got.ChildName)
	assert.Equal(t, 1, got.Score)
	assert.Equal(t, 2, got.TotalQuestions)
	assert.Equal(t, "Below Expectations", got.Expectations)
	assert.Equal(t, "2025-05-01T09:30:00Z", got.SubmissionTime)
}

func TestHTTPSubmitterFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"message":"Failed to save submission to database."}`))
	}))
	defer srv.Close()

	_, err := (&HTTPSubmitter{URL: srv.URL, Client: srv.Client()}).Submit(context.Background(), sampleResult())
	var pe *PersistenceError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusInternalServerError, pe.Status)
	assert.Contains(t, pe.Error(), "Failed to save submission")
}

func TestHTTPSubmitterTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := (&HTTPSubmitter{URL: srv.URL, Client: srv.Client()}).Submit(ctx, sampleResult())
	var pe *PersistenceError
	require.True(t, errors.As(err, &pe))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestHTTPNotifier(t *testing.T) {
	var got model.NotificationRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		if got.ParentEmail == "bounce@example.com" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"message":"Email sent"}`))
	}))
	defer srv.Close()

	n := &HTTPNotifier{URL: srv.URL, Client: srv.Client()}
	req := NotificationFromResult(sampleResult(), "<p>hi</p>", "hi")
	require.NoError(t, n.Notify(context.Background(), req))
	assert.Equal(t, DefaultKeyStage, got.KeyStage)
	assert.Equal(t, "<p>hi</p>", got.ResultsHTML)

	req.ParentEmail = "bounce@example.com"
	err := n.Notify(context.Background(), req)
	var ne *NotificationError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, http.StatusBadGateway, ne.Status)
	assert.False(t, ne.Network)

	srv.Close()
	err = n.Notify(context.Background(), req)
	require.True(t, errors.As(err, &ne))
	assert.True(t, ne.Network)
}

func TestTurnstileVerifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "s3cret", r.PostForm.Get("secret"))
		if r.PostForm.Get("response") == "good" {
			w.Write([]byte(`{"success":true}`))
			return
		}
		w.Write([]byte(`{"success":false,"error-codes":["invalid-input-response"]}`))
	}))
	defer srv.Close()

	v := &TurnstileVerifier{Secret: "s3cret", URL: srv.URL, Client: srv.Client()}
	ok, err := v.Verify(context.Background(), "good")
	require.NoError(t, err)
	assert.True(t, ok)

	res, err := v.Check(context.Background(), "bad")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, []string{"invalid-input-response"}, res.ErrorCodes)

	ok, err = v.Verify(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStaticVerifier(t *testing.T) {
	v := StaticVerifier{Reject: map[string]bool{"bot": true}}
	ok, _ := v.Verify(context.Background(), "human")
	assert.True(t, ok)
	ok, _ = v.Verify(context.Background(), "bot")
	assert.False(t, ok)
	ok, _ = v.Verify(context.Background(), "")
	assert.False(t, ok)
	ok, _ = StaticVerifier{AllowEmpty: true}.Verify(context.Background(), "")
	assert.True(t, ok)
}

func TestParseGate(t *testing.T) {
	g, err := ParseGate("")
	require.NoError(t, err)
	assert.True(t, g.OnStart())
	assert.False(t, g.OnSubmit())

	g, err = ParseGate("BOTH")
	require.NoError(t, err)
	assert.True(t, g.OnStart() && g.OnSubmit())

	_, err = ParseGate("never")
	assert.Error(t, err)
}

func TestMailNotifier(t *testing.T) {
	var sent bytes.Buffer
	m := &MailNotifier{Host: "localhost", Port: 2525, From: "results@example.com",
		send: func(_ context.Context, msg *mail.Msg) error {
			sent.Reset()
			_, err := msg.WriteTo(&sent)
			return err
		}}

	res := sampleResult()
	html := "<p>Dear Ann</p>" + strings.Repeat(`<div class="question-item"><h4>What is 2 + 2?</h4></div>`, 60)
	req := NotificationFromResult(res, html, "Dear Ann")
	require.NoError(t, m.Notify(context.Background(), req))

	out := sent.String()
	assert.Contains(t, out, "multipart/alternative")
	assert.Contains(t, out, "Content-Transfer-Encoding: quoted-printable")
	assert.Contains(t, out, "ann@example.com")
	assert.Contains(t, out, "results@example.com")
	assert.Contains(t, out, "Dear Ann")
	for _, line := range strings.Split(out, "\r\n") {
		assert.LessOrEqual(t, len(line), 998)
	}

	m.send = func(context.Context, *mail.Msg) error { return errors.New("550 mailbox unavailable") }
	err := m.Notify(context.Background(), req)
	var ne *NotificationError
	require.True(t, errors.As(err, &ne))
	assert.False(t, ne.Network)

	m.send = func(ctx context.Context, _ *mail.Msg) error { return context.DeadlineExceeded }
	err = m.Notify(context.Background(), req)
	require.True(t, errors.As(err, &ne))
	assert.True(t, ne.Network)

	req.ParentEmail = ""
	assert.Error(t, m.Notify(context.Background(), req))
}

type fakeWriter struct {
	got model.Submission
	err error
}

func (f *fakeWriter) InsertSubmission(sub model.Submission) (int64, error) {
	f.got = sub
	return 7, f.err
}

func TestStoreSubmitter(t *testing.T) {
	w := &fakeWriter{}
	id, err := (&StoreSubmitter{Store: w}).Submit(context.Background(), sampleResult())
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.Equal(t, 2, w.got.TotalQuestions)
	assert.Equal(t, "Below Expectations", w.got.Expectations)
	assert.Contains(t, string(w.got.DetailedResults), `"items"`)

	w.err = errors.New("disk full")
	_, err = (&StoreSubmitter{Store: w}).Submit(context.Background(), sampleResult())
	var pe *PersistenceError
	assert.True(t, errors.As(err, &pe))
}
