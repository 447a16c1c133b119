package arcade

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"plain", "Ada", "Ada", true},
		{"trims whitespace", "  Ada Lovelace  ", "Ada Lovelace", true},
		{"two runes minimum", "Al", "Al", true},
		{"one rune rejected", "A", "", false},
		{"whitespace only", "   ", "", false},
		{"control characters rejected", "Ada\x00", "", false},
		{"newline rejected", "Ada\nB", "", false},
		{"unicode kept", "Zoë", "Zoë", true},
		{"emoji kept", "🎮🎮", "🎮🎮", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeName(tc.in)
			if !tc.ok {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidName)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeNameAppliesNFC(t *testing.T) {
	// e followed by a combining acute accent composes to é.
	decomposed := "Rémy"
	got, err := NormalizeName(decomposed)
	require.NoError(t, err)
	assert.Equal(t, "Rémy", got)
}

func TestNormalizeNameLengthBounds(t *testing.T) {
	fifty := strings.Repeat("é", 50)
	got, err := NormalizeName(fifty)
	require.NoError(t, err)
	assert.Equal(t, fifty, got)

	_, err = NormalizeName(strings.Repeat("é", 51))
	assert.Error(t, err, "51 code points is over the limit")
}

func TestDedupeName(t *testing.T) {
	taken := []string{"Ada", "Grace", "ada#2"}

	assert.Equal(t, "Linus", DedupeName(taken, "Linus"))
	assert.Equal(t, "Ada#3", DedupeName(taken, "Ada"), "case-insensitive collision on Ada and ada#2")
	assert.Equal(t, "grace#2", DedupeName(taken, "grace"))
	assert.Equal(t, "Ada", DedupeName(nil, "Ada"))
}
