package store

import (
	"testing"
	"time"

	"github.com/monateaches/assessment/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var baseTime = time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)

func insertTestSubmission(t *testing.T, s *Store, child, email string, offset time.Duration) int64 {
	t.Helper()
	id, err := s.InsertSubmission(model.Submission{
		ParentName:      "Parent of " + child,
		ChildName:       child,
		ParentEmail:     email,
		KeyStage:        "Key Stage 1",
		Score:           7,
		TotalQuestions:  10,
		Expectations:    string(model.TierMeets),
		DetailedResults: []byte(`[{"question":"2+2","user_answer":"4","correct_answer":"4","outcome":"Correct","score":1,"max_score":1}]`),
		SubmittedAt:     baseTime.Add(offset),
	})
	if err != nil {
		t.Fatalf("insertTestSubmission: %v", err)
	}
	return id
}

func TestSubmissionCRUD(t *testing.T) {
	s := newTestStore(t)

	// Empty DB should return zero count and empty list.
	count, err := s.SubmissionCount()
	if err != nil {
		t.Fatalf("SubmissionCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 submissions, got %d", count)
	}
	list, err := s.ListSubmissions(model.SubmissionFilter{})
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list, got %d", len(list))
	}

	// Insert and retrieve.
	id := insertTestSubmission(t, s, "Ben", "ann@example.com", 0)
	sub, err := s.GetSubmission(id)
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	if sub == nil {
		t.Fatal("expected submission, got nil")
	}
	if sub.ChildName != "Ben" {
		t.Errorf("expected child 'Ben', got %q", sub.ChildName)
	}
	if sub.Score != 7 || sub.TotalQuestions != 10 {
		t.Errorf("expected score 7/10, got %d/%d", sub.Score, sub.TotalQuestions)
	}
	if !sub.SubmittedAt.Equal(baseTime) {
		t.Errorf("expected submitted_at %v, got %v", baseTime, sub.SubmittedAt)
	}
	if len(sub.DetailedResults) == 0 {
		t.Error("expected detailed results to be stored")
	}

	// Not found.
	missing, err := s.GetSubmission(9999)
	if err != nil {
		t.Fatalf("GetSubmission(9999): %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing submission, got %+v", missing)
	}

	// Delete.
	ok, err := s.DeleteSubmission(id)
	if err != nil {
		t.Fatalf("DeleteSubmission: %v", err)
	}
	if !ok {
		t.Error("expected delete to report an existing row")
	}
	ok, err = s.DeleteSubmission(id)
	if err != nil {
		t.Fatalf("DeleteSubmission again: %v", err)
	}
	if ok {
		t.Error("expected second delete to report no row")
	}
}

func TestListSubmissionsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	old := insertTestSubmission(t, s, "Ben", "ann@example.com", 0)
	newest := insertTestSubmission(t, s, "Cara", "dan@example.com", 2*time.Hour)
	middle := insertTestSubmission(t, s, "Benjamin", "eve@example.org", time.Hour)

	list, err := s.ListSubmissions(model.SubmissionFilter{})
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	want := []int64{newest, middle, old}
	if len(list) != len(want) {
		t.Fatalf("expected %d submissions, got %d", len(want), len(list))
	}
	for i, id := range want {
		if list[i].ID != id {
			t.Errorf("position %d: expected id %d, got %d", i, id, list[i].ID)
		}
		if list[i].DetailedResults != nil {
			t.Errorf("position %d: summaries should not carry detailed results", i)
		}
	}
}

func TestListSubmissionsFiltered(t *testing.T) {
	s := newTestStore(t)
	insertTestSubmission(t, s, "Ben", "ann@example.com", 0)
	insertTestSubmission(t, s, "Benjamin", "eve@example.org", time.Hour)
	insertTestSubmission(t, s, "Cara", "dan@example.com", 2*time.Hour)
	insertTestSubmission(t, s, "100%_kid", "x@example.com", 3*time.Hour)

	tests := []struct {
		name   string
		filter model.SubmissionFilter
		want   int
	}{
		{"no filter", model.SubmissionFilter{}, 4},
		{"child substring", model.SubmissionFilter{ChildName: "ben"}, 2},
		{"child case-insensitive", model.SubmissionFilter{ChildName: "CARA"}, 1},
		{"email domain", model.SubmissionFilter{ParentEmail: "example.com"}, 3},
		{"both", model.SubmissionFilter{ChildName: "ben", ParentEmail: ".org"}, 1},
		{"wildcards are literal", model.SubmissionFilter{ChildName: "%_"}, 1},
		{"no match", model.SubmissionFilter{ChildName: "zed"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := s.ListSubmissions(tt.filter)
			if err != nil {
				t.Fatalf("ListSubmissions: %v", err)
			}
			if len(list) != tt.want {
				t.Errorf("expected %d submissions, got %d", tt.want, len(list))
			}
		})
	}
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)

	u, err := s.GetUserByUsername("admin")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if u != nil {
		t.Fatal("expected no user in empty DB")
	}

	if err := s.SetPasswordHash("admin", "hash-1", model.UserRoleAdmin); err != nil {
		t.Fatalf("SetPasswordHash: %v", err)
	}
	if err := s.SetPasswordHash("admin", "hash-2", model.UserRoleAdmin); err != nil {
		t.Fatalf("SetPasswordHash update: %v", err)
	}

	u, err = s.GetUserByUsername("admin")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if u == nil || u.PasswordHash != "hash-2" {
		t.Fatalf("expected updated hash, got %+v", u)
	}
	if u.Role != model.UserRoleAdmin {
		t.Errorf("expected role admin, got %q", u.Role)
	}

	count, err := s.UserCount()
	if err != nil {
		t.Fatalf("UserCount: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 user, got %d", count)
	}

	if _, err := s.CreateUser(model.User{Username: "admin", PasswordHash: "x", Role: model.UserRoleAdmin}); err == nil {
		t.Error("expected duplicate username to fail")
	}
}

func TestExportAllSubmissions(t *testing.T) {
	s := newTestStore(t)
	insertTestSubmission(t, s, "Ben", "ann@example.com", 0)
	if _, err := s.InsertSubmission(model.Submission{
		ParentName:      "Legacy",
		ChildName:       "Old",
		ParentEmail:     "old@example.com",
		DetailedResults: []byte(`{"q1":"4","q2":"cat"}`),
		SubmittedAt:     baseTime.Add(time.Hour),
	}); err != nil {
		t.Fatalf("InsertSubmission: %v", err)
	}

	results, err := s.ExportAllSubmissions()
	if err != nil {
		t.Fatalf("ExportAllSubmissions: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ChildName != "Old" || len(results[0].Items) != 2 {
		t.Errorf("expected legacy record first with 2 items, got %q with %d", results[0].ChildName, len(results[0].Items))
	}
	if results[1].Items[0].Outcome != model.OutcomeCorrect {
		t.Errorf("expected first item correct, got %q", results[1].Items[0].Outcome)
	}
}

func TestParseDriver(t *testing.T) {
	tests := []struct {
		in      string
		want    Driver
		wantErr bool
	}{
		{"", DriverSQLite, false},
		{"sqlite", DriverSQLite, false},
		{"Postgres", DriverPostgres, false},
		{"pgx", DriverPostgres, false},
		{"mysql", "", true},
	}
	for _, tt := range tests {
		got, err := ParseDriver(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDriver(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseDriver(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: DriverPostgres}
	if got := pg.rebind(`SELECT * FROM t WHERE a = ? AND b = ?`); got != `SELECT * FROM t WHERE a = $1 AND b = $2` {
		t.Errorf("rebind postgres = %q", got)
	}
	lite := &Store{driver: DriverSQLite}
	if got := lite.rebind(`a = ?`); got != `a = ?` {
		t.Errorf("rebind sqlite = %q", got)
	}
}
