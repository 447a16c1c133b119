package session

import (
	"context"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewarcade/server/internal/arcade"
	"github.com/reviewarcade/server/internal/events"
	"github.com/reviewarcade/server/internal/protocol"
	"github.com/reviewarcade/server/internal/store"
)

func newTestRegistry(t *testing.T, maxSessions int) *Registry {
	t.Helper()
	return NewRegistry(6, maxSessions, store.NewMemory(), events.Noop{}, zerolog.Nop())
}

func testParams(t *testing.T) Params {
	t.Helper()
	src, err := arcade.NewMathSource(arcade.DefaultMathConfig(), rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	return Params{
		TeacherID:    "teacher-1",
		GameType:     "snake",
		TeacherMode:  ModeMonitor,
		TimeLimit:    10 * time.Minute,
		MaxPlayers:   8,
		Source:       src,
		SourceKind:   "math",
		AnswerWindow: 2 * time.Minute,
		ReapGrace:    time.Minute,
	}
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session %s was not reaped", s.Code)
	}
}

func TestCreateAssignsCodeAndID(t *testing.T) {
	r := newTestRegistry(t, 4)

	s, err := r.Create(testParams(t))
	require.NoError(t, err)
	defer s.End(EndReasonHostEnded, true)

	assert.Len(t, s.Code, 6)
	for _, c := range s.Code {
		assert.Contains(t, codeAlphabet, string(c))
	}
	assert.True(t, strings.HasPrefix(s.ID, "sess_"))

	byCode, ok := r.ByCode(s.Code)
	require.True(t, ok)
	assert.Same(t, s, byCode)

	byID, ok := r.ByID(s.ID)
	require.True(t, ok)
	assert.Same(t, s, byID)
}

func TestCreateGeneratesDistinctCodes(t *testing.T) {
	r := newTestRegistry(t, 16)

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		s, err := r.Create(testParams(t))
		require.NoError(t, err)
		defer s.End(EndReasonHostEnded, true)
		assert.False(t, seen[s.Code], "code %s issued twice", s.Code)
		seen[s.Code] = true
	}
	assert.Equal(t, 10, r.Len())
}

func TestCreateEnforcesSessionCap(t *testing.T) {
	r := newTestRegistry(t, 2)

	for i := 0; i < 2; i++ {
		s, err := r.Create(testParams(t))
		require.NoError(t, err)
		defer s.End(EndReasonHostEnded, true)
	}

	_, err := r.Create(testParams(t))
	assert.ErrorIs(t, err, ErrTooManySessions)
}

func TestCreatePersistsLobbyRecord(t *testing.T) {
	st := store.NewMemory()
	r := NewRegistry(6, 4, st, events.Noop{}, zerolog.Nop())

	s, err := r.Create(testParams(t))
	require.NoError(t, err)
	defer s.End(EndReasonHostEnded, true)

	recs, err := st.ListSessions(context.Background(), "teacher-1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, s.ID, recs[0].SessionID)
	assert.Equal(t, s.Code, recs[0].Code)
	assert.Equal(t, StatusLobby, recs[0].Status)
	assert.Equal(t, "math", recs[0].QuestionSource)
}

func TestEndReapsSessionImmediately(t *testing.T) {
	r := newTestRegistry(t, 4)

	s, err := r.Create(testParams(t))
	require.NoError(t, err)

	s.End(EndReasonHostEnded, true)
	waitDone(t, s)

	_, ok := r.ByCode(s.Code)
	assert.False(t, ok)
	_, ok = r.ByID(s.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestEndedSessionRefusesJoin(t *testing.T) {
	r := newTestRegistry(t, 4)

	s, err := r.Create(testParams(t))
	require.NoError(t, err)

	s.End(EndReasonHostEnded, true)
	waitDone(t, s)

	_, werr := s.Join("Ada", false, "")
	require.NotNil(t, werr)
	assert.Equal(t, protocol.ErrExpired, werr.Code)
}

func TestShutdownEndsAllSessions(t *testing.T) {
	r := newTestRegistry(t, 4)

	var sessions []*Session
	for i := 0; i < 3; i++ {
		s, err := r.Create(testParams(t))
		require.NoError(t, err)
		sessions = append(sessions, s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r.Shutdown(ctx)

	for _, s := range sessions {
		waitDone(t, s)
	}
	assert.Equal(t, 0, r.Len())
}
