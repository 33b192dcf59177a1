package questionbank

import "github.com/monateaches/assessment/internal/model"

// Bank is the ordered question set of one session. Its order is fixed when
// it is loaded and cannot be changed afterwards.
type Bank struct {
	questions []model.Question
}

// NewBank builds a bank from already validated questions, keeping their order.
func NewBank(questions []model.Question) *Bank {
	return &Bank{questions: append([]model.Question(nil), questions...)}
}

// Len returns the number of questions.
func (b *Bank) Len() int { return len(b.questions) }

// Question returns the question at index i.
func (b *Bank) Question(i int) model.Question { return b.questions[i] }

// Questions returns a copy of the questions in session order.
func (b *Bank) Questions() []model.Question {
	return append([]model.Question(nil), b.questions...)
}

// IDs returns the question identifiers in session order.
func (b *Bank) IDs() []string {
	ids := make([]string, len(b.questions))
	for i, q := range b.questions {
		ids[i] = q.ID
	}
	return ids
}

// Has reports whether id belongs to the bank.
func (b *Bank) Has(id string) bool {
	for _, q := range b.questions {
		if q.ID == id {
			return true
		}
	}
	return false
}
