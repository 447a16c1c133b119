package arcade

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strconv"
)

// Op is an arithmetic operation the math generator can produce.
type Op string

const (
	OpAdd Op = "add"
	OpSub Op = "sub"
	OpMul Op = "mul"
	OpDiv Op = "div"
)

var opSymbols = map[Op]string{
	OpAdd: "+",
	OpSub: "-",
	OpMul: "×",
	OpDiv: "÷",
}

// MathConfig selects the operations and operand range for generated
// questions.
type MathConfig struct {
	Operations []Op `json:"operations"`
	Min        int  `json:"min"`
	Max        int  `json:"max"`
}

// DefaultMathConfig returns the baseline configuration: add, sub and mul
// over operands 1..12.
func DefaultMathConfig() MathConfig {
	return MathConfig{
		Operations: []Op{OpAdd, OpSub, OpMul},
		Min:        1,
		Max:        12,
	}
}

// Validate rejects empty or unusable configurations.
func (c MathConfig) Validate() error {
	if len(c.Operations) == 0 {
		return errors.New("math config: no operations enabled")
	}
	for _, op := range c.Operations {
		if _, ok := opSymbols[op]; !ok {
			return fmt.Errorf("math config: unknown operation %q", op)
		}
		if op == OpDiv && c.Max < 1 {
			return errors.New("math config: division requires max >= 1")
		}
	}
	if c.Min > c.Max {
		return fmt.Errorf("math config: min %d greater than max %d", c.Min, c.Max)
	}
	if c.Max-c.Min > 1_000_000 {
		return errors.New("math config: operand range too large")
	}
	return nil
}

// MathSource generates arithmetic questions on demand. Operand and operation
// sampling is uniform; subtraction keeps results nonnegative and division
// only produces integer quotients.
type MathSource struct {
	cfg MathConfig
	rng *rand.Rand
}

// NewMathSource builds a generator from a validated config and the session's
// RNG.
func NewMathSource(cfg MathConfig, rng *rand.Rand) (*MathSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &MathSource{cfg: cfg, rng: rng}, nil
}

// mathQuestionID is a stable hash of (a, op, b) so the same problem gets the
// same id in any session.
func mathQuestionID(a int, op Op, b int) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%s|%d", a, op, b)
	return "m" + strconv.FormatUint(h.Sum64(), 16)
}

// Next generates a question the player has not seen, re-rolling on id
// collisions. Tiny operand ranges can exhaust the problem space, in which
// case the last roll is served anyway.
func (m *MathSource) Next(h *History) (Question, error) {
	var q Question
	for attempt := 0; attempt < 32; attempt++ {
		q = m.generate()
		if h == nil || !h.Seen(q.ID) {
			return q, nil
		}
	}
	return q, nil
}

func (m *MathSource) intn(lo, hi int) int {
	return lo + m.rng.Intn(hi-lo+1)
}

func (m *MathSource) generate() Question {
	op := m.cfg.Operations[m.rng.Intn(len(m.cfg.Operations))]

	var a, b, answer int
	switch op {
	case OpAdd:
		a, b = m.intn(m.cfg.Min, m.cfg.Max), m.intn(m.cfg.Min, m.cfg.Max)
		answer = a + b
	case OpSub:
		a, b = m.intn(m.cfg.Min, m.cfg.Max), m.intn(m.cfg.Min, m.cfg.Max)
		if a < b {
			a, b = b, a
		}
		answer = a - b
	case OpMul:
		a, b = m.intn(m.cfg.Min, m.cfg.Max), m.intn(m.cfg.Min, m.cfg.Max)
		answer = a * b
	case OpDiv:
		// Build the dividend from divisor and quotient so the result is
		// always an integer.
		lo := m.cfg.Min
		if lo < 1 {
			lo = 1
		}
		b = m.intn(lo, m.cfg.Max)
		answer = m.intn(m.cfg.Min, m.cfg.Max)
		a = b * answer
	}

	options, correct := m.buildOptions(a, b, op, answer)
	return Question{
		ID:           mathQuestionID(a, op, b),
		Text:         fmt.Sprintf("%d %s %d = ?", a, opSymbols[op], b),
		Options:      options,
		CorrectIndex: correct,
		Category:     "math",
	}
}

// buildOptions produces the correct answer plus three distractors drawn from
// small perturbations (±1, ±2) and the swapped-operand result, deduplicated
// and shuffled.
func (m *MathSource) buildOptions(a, b int, op Op, answer int) ([]string, int) {
	pool := []int{answer - 2, answer - 1, answer + 1, answer + 2}
	if swapped, ok := swappedResult(a, b, op); ok && swapped != answer {
		pool = append(pool, swapped)
	}

	seen := map[int]struct{}{answer: {}}
	candidates := pool[:0]
	for _, v := range pool {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		candidates = append(candidates, v)
	}

	m.rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	values := append([]int{answer}, candidates[:OptionCount-1]...)
	m.rng.Shuffle(len(values), func(i, j int) {
		values[i], values[j] = values[j], values[i]
	})

	options := make([]string, len(values))
	correct := 0
	for i, v := range values {
		options[i] = strconv.Itoa(v)
		if v == answer {
			correct = i
		}
	}
	return options, correct
}

// swappedResult evaluates b op a where that differs from a op b and stays an
// integer.
func swappedResult(a, b int, op Op) (int, bool) {
	switch op {
	case OpSub:
		return b - a, true
	case OpDiv:
		if a != 0 && b%a == 0 {
			return b / a, true
		}
	}
	return 0, false
}
