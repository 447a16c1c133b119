package arcade

import (
	"math/rand"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMathSource(t *testing.T, cfg MathConfig, seed int64) *MathSource {
	t.Helper()
	src, err := NewMathSource(cfg, rand.New(rand.NewSource(seed)))
	require.NoError(t, err)
	return src
}

// parseMathText splits generated text like "7 × 8 = ?" back into operands.
func parseMathText(t *testing.T, text string) (a, b int, sym string) {
	t.Helper()
	expr, ok := strings.CutSuffix(text, " = ?")
	require.True(t, ok, "text %q", text)
	parts := strings.Split(expr, " ")
	require.Len(t, parts, 3, "text %q", text)
	a, err := strconv.Atoi(parts[0])
	require.NoError(t, err)
	b, err = strconv.Atoi(parts[2])
	require.NoError(t, err)
	return a, b, parts[1]
}

func TestMathConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  MathConfig
		ok   bool
	}{
		{"default", DefaultMathConfig(), true},
		{"no operations", MathConfig{Min: 1, Max: 10}, false},
		{"unknown operation", MathConfig{Operations: []Op{"pow"}, Min: 1, Max: 10}, false},
		{"min above max", MathConfig{Operations: []Op{OpAdd}, Min: 10, Max: 1}, false},
		{"division needs positive max", MathConfig{Operations: []Op{OpDiv}, Min: -5, Max: 0}, false},
		{"range too large", MathConfig{Operations: []Op{OpAdd}, Min: 0, Max: 2_000_000}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestMathSourceDeterministicPerSeed(t *testing.T) {
	cfg := DefaultMathConfig()
	a := newMathSource(t, cfg, 7)
	b := newMathSource(t, cfg, 7)

	for i := 0; i < 20; i++ {
		qa, err := a.Next(nil)
		require.NoError(t, err)
		qb, err := b.Next(nil)
		require.NoError(t, err)
		assert.Equal(t, qa, qb, "draw %d", i)
	}
}

func TestMathQuestionShape(t *testing.T) {
	src := newMathSource(t, DefaultMathConfig(), 1)

	for i := 0; i < 200; i++ {
		q, err := src.Next(nil)
		require.NoError(t, err)
		require.NoError(t, q.Validate())

		seen := map[string]struct{}{}
		for _, opt := range q.Options {
			_, dup := seen[opt]
			assert.False(t, dup, "duplicate option in %v", q.Options)
			seen[opt] = struct{}{}
		}

		a, b, sym := parseMathText(t, q.Text)
		want := 0
		switch sym {
		case "+":
			want = a + b
		case "-":
			want = a - b
		case "×":
			want = a * b
		case "÷":
			require.NotZero(t, b)
			require.Zero(t, a%b, "division must be exact in %q", q.Text)
			want = a / b
		default:
			t.Fatalf("unexpected operator %q in %q", sym, q.Text)
		}
		assert.Equal(t, strconv.Itoa(want), q.Options[q.CorrectIndex], "text %q", q.Text)
	}
}

func TestMathSubtractionStaysNonnegative(t *testing.T) {
	src := newMathSource(t, MathConfig{Operations: []Op{OpSub}, Min: 1, Max: 12}, 3)

	for i := 0; i < 100; i++ {
		q, err := src.Next(nil)
		require.NoError(t, err)
		a, b, sym := parseMathText(t, q.Text)
		require.Equal(t, "-", sym)
		assert.GreaterOrEqual(t, a, b, "text %q", q.Text)
	}
}

func TestMathDivisionDrawsDivisorFirst(t *testing.T) {
	src := newMathSource(t, MathConfig{Operations: []Op{OpDiv}, Min: 2, Max: 9}, 11)

	for i := 0; i < 100; i++ {
		q, err := src.Next(nil)
		require.NoError(t, err)
		a, b, sym := parseMathText(t, q.Text)
		require.Equal(t, "÷", sym)
		assert.GreaterOrEqual(t, b, 2)
		assert.LessOrEqual(t, b, 9)
		assert.Zero(t, a%b)
	}
}

func TestMathSourceAvoidsSeenQuestions(t *testing.T) {
	src := newMathSource(t, MathConfig{Operations: []Op{OpAdd}, Min: 1, Max: 30}, 5)
	h := NewHistory()

	for i := 0; i < 15; i++ {
		q, err := src.Next(h)
		require.NoError(t, err)
		assert.False(t, h.Seen(q.ID), "draw %d repeated %s", i, q.ID)
		h.Record(q.ID)
	}
}

func TestMathSourceServesRepeatWhenSpaceExhausted(t *testing.T) {
	// One possible problem: 1 + 1.
	src := newMathSource(t, MathConfig{Operations: []Op{OpAdd}, Min: 1, Max: 1}, 9)
	h := NewHistory()

	first, err := src.Next(h)
	require.NoError(t, err)
	h.Record(first.ID)

	second, err := src.Next(h)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestMathQuestionIDStable(t *testing.T) {
	src1 := newMathSource(t, DefaultMathConfig(), 21)
	src2 := newMathSource(t, DefaultMathConfig(), 21)

	q1, err := src1.Next(nil)
	require.NoError(t, err)
	q2, err := src2.Next(nil)
	require.NoError(t, err)

	require.Equal(t, q1.Text, q2.Text)
	assert.Equal(t, q1.ID, q2.ID, "same problem must hash to the same id")
	assert.True(t, strings.HasPrefix(q1.ID, "m"), "id %q", q1.ID)
}
