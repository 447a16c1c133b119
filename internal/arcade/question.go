package arcade

import (
	"errors"
	"fmt"
	"math/rand"
)

// OptionCount is the fixed number of answer options per question.
const OptionCount = 4

// Question is a review question with its answer key. CorrectIndex stays
// server-side; wire payloads copy only the id, text, and options.
type Question struct {
	ID           string   `json:"question_id"`
	Text         string   `json:"text"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correct_index"`
	Category     string   `json:"category,omitempty"`
	Difficulty   string   `json:"difficulty,omitempty"`
}

// Validate checks the fixed shape authored questions must have.
func (q Question) Validate() error {
	if q.ID == "" {
		return errors.New("question id is empty")
	}
	if q.Text == "" {
		return fmt.Errorf("question %s: text is empty", q.ID)
	}
	if len(q.Options) != OptionCount {
		return fmt.Errorf("question %s: got %d options, want %d", q.ID, len(q.Options), OptionCount)
	}
	if q.CorrectIndex < 0 || q.CorrectIndex >= OptionCount {
		return fmt.Errorf("question %s: correct_index %d out of range", q.ID, q.CorrectIndex)
	}
	return nil
}

// History tracks which questions a player has been served, in serve order.
// It belongs to exactly one player and is only touched on that player's
// session actor.
type History struct {
	served map[string]int
	seq    int
}

// NewHistory returns an empty serve history.
func NewHistory() *History {
	return &History{served: make(map[string]int)}
}

// Seen reports whether the question id has been served before.
func (h *History) Seen(id string) bool {
	_, ok := h.served[id]
	return ok
}

// Record marks the question id as served now. Re-recording refreshes its
// recency.
func (h *History) Record(id string) {
	h.seq++
	h.served[id] = h.seq
}

// ServedSeq returns the serve sequence of id, or 0 if never served.
func (h *History) ServedSeq(id string) int {
	return h.served[id]
}

// Len returns how many distinct questions have been served.
func (h *History) Len() int {
	return len(h.served)
}

// Source produces the next question for a player. Implementations never
// mutate the history; the caller records the id once the question is
// actually issued.
type Source interface {
	Next(h *History) (Question, error)
}

// BankSource serves questions from a fixed authored bank: uniformly among
// the ones the player has not seen, then least recently served once the bank
// is exhausted.
type BankSource struct {
	questions []Question
	rng       *rand.Rand
}

// NewBankSource validates the bank and builds a sampler around it.
func NewBankSource(questions []Question, rng *rand.Rand) (*BankSource, error) {
	if len(questions) == 0 {
		return nil, errors.New("question bank is empty")
	}
	ids := make(map[string]struct{}, len(questions))
	for _, q := range questions {
		if err := q.Validate(); err != nil {
			return nil, err
		}
		if _, dup := ids[q.ID]; dup {
			return nil, fmt.Errorf("question %s: duplicate id in bank", q.ID)
		}
		ids[q.ID] = struct{}{}
	}
	return &BankSource{questions: questions, rng: rng}, nil
}

// Size returns the number of questions in the bank.
func (b *BankSource) Size() int {
	return len(b.questions)
}

// Next picks an unseen question uniformly; when every question has been
// served it returns the least recently served one.
func (b *BankSource) Next(h *History) (Question, error) {
	unseen := make([]int, 0, len(b.questions))
	for i, q := range b.questions {
		if h == nil || !h.Seen(q.ID) {
			unseen = append(unseen, i)
		}
	}
	if len(unseen) > 0 {
		return b.questions[unseen[b.rng.Intn(len(unseen))]], nil
	}

	lru := 0
	for i, q := range b.questions {
		if h.ServedSeq(q.ID) < h.ServedSeq(b.questions[lru].ID) {
			lru = i
		}
	}
	return b.questions[lru], nil
}
