package arcade

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bankQuestion(id string) Question {
	return Question{
		ID:           id,
		Text:         "What is " + id + "?",
		Options:      []string{"a", "b", "c", "d"},
		CorrectIndex: 1,
	}
}

func testBank(n int) []Question {
	qs := make([]Question, n)
	for i := range qs {
		qs[i] = bankQuestion(fmt.Sprintf("q%d", i+1))
	}
	return qs
}

func TestQuestionValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Question)
		ok     bool
	}{
		{"valid", func(q *Question) {}, true},
		{"empty id", func(q *Question) { q.ID = "" }, false},
		{"empty text", func(q *Question) { q.Text = "" }, false},
		{"three options", func(q *Question) { q.Options = q.Options[:3] }, false},
		{"index too high", func(q *Question) { q.CorrectIndex = 4 }, false},
		{"index negative", func(q *Question) { q.CorrectIndex = -1 }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := bankQuestion("q1")
			tc.mutate(&q)
			err := q.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestHistory(t *testing.T) {
	h := NewHistory()

	assert.False(t, h.Seen("q1"))
	assert.Equal(t, 0, h.ServedSeq("q1"))

	h.Record("q1")
	h.Record("q2")

	assert.True(t, h.Seen("q1"))
	assert.Equal(t, 1, h.ServedSeq("q1"))
	assert.Equal(t, 2, h.ServedSeq("q2"))
	assert.Equal(t, 2, h.Len())

	// Re-recording refreshes recency without growing the set.
	h.Record("q1")
	assert.Equal(t, 3, h.ServedSeq("q1"))
	assert.Equal(t, 2, h.Len())
}

func TestNewBankSourceRejectsBadBanks(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	_, err := NewBankSource(nil, rng)
	assert.Error(t, err, "empty bank")

	dup := []Question{bankQuestion("q1"), bankQuestion("q1")}
	_, err = NewBankSource(dup, rng)
	assert.Error(t, err, "duplicate ids")

	bad := bankQuestion("q1")
	bad.Options = bad.Options[:2]
	_, err = NewBankSource([]Question{bad}, rng)
	assert.Error(t, err, "invalid question")
}

func TestBankSourceServesEachQuestionOnce(t *testing.T) {
	bank := testBank(6)
	src, err := NewBankSource(bank, rand.New(rand.NewSource(2)))
	require.NoError(t, err)
	require.Equal(t, 6, src.Size())

	h := NewHistory()
	served := map[string]struct{}{}
	for i := 0; i < len(bank); i++ {
		q, err := src.Next(h)
		require.NoError(t, err)
		_, dup := served[q.ID]
		require.False(t, dup, "%s served twice before exhaustion", q.ID)
		served[q.ID] = struct{}{}
		h.Record(q.ID)
	}
	assert.Len(t, served, len(bank))
}

func TestBankSourceFallsBackToLeastRecent(t *testing.T) {
	bank := testBank(3)
	src, err := NewBankSource(bank, rand.New(rand.NewSource(3)))
	require.NoError(t, err)

	h := NewHistory()
	// Exhaust the bank in a known order.
	h.Record("q2")
	h.Record("q3")
	h.Record("q1")

	q, err := src.Next(h)
	require.NoError(t, err)
	assert.Equal(t, "q2", q.ID, "oldest serve comes back first")

	h.Record(q.ID)
	q, err = src.Next(h)
	require.NoError(t, err)
	assert.Equal(t, "q3", q.ID)
}

func TestBankSourceNilHistoryServesAnything(t *testing.T) {
	bank := testBank(4)
	src, err := NewBankSource(bank, rand.New(rand.NewSource(4)))
	require.NoError(t, err)

	q, err := src.Next(nil)
	require.NoError(t, err)
	assert.NoError(t, q.Validate())
}
