package assessment

import (
	"fmt"
	"maps"
)

// AnswerStore holds the latest raw answer per question of one session. It is
// not safe for concurrent use; the owning Session serializes access.
type AnswerStore struct {
	known   map[string]bool
	answers map[string]string
}

// NewAnswerStore returns an empty store accepting answers for ids.
func NewAnswerStore(ids []string) *AnswerStore {
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}
	return &AnswerStore{known: known, answers: make(map[string]string, len(ids))}
}

// Set records answer for question id, replacing any earlier answer.
func (s *AnswerStore) Set(id, answer string) error {
	if !s.known[id] {
		return fmt.Errorf("unknown question %q", id)
	}
	s.answers[id] = answer
	return nil
}

// Get returns the answer recorded for id.
func (s *AnswerStore) Get(id string) (string, bool) {
	a, ok := s.answers[id]
	return a, ok
}

// Len returns the number of answered questions.
func (s *AnswerStore) Len() int { return len(s.answers) }

// Snapshot returns a copy of all recorded answers.
func (s *AnswerStore) Snapshot() map[string]string {
	return maps.Clone(s.answers)
}
