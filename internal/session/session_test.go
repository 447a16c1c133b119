package session

// These tests drive the actor's handlers synchronously, without run() or any
// sockets, so state transitions can be asserted directly. Wire-level behavior
// is covered by the server tests.

import (
	"context"
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

func newActorSession(t *testing.T, mutate ...func(*Params)) (*Session, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	p := testParams(t)
	p.ID = "sess_000000000000000000000001"
	p.Code = "ABCD23"
	for _, m := range mutate {
		m(&p)
	}
	reg := NewRegistry(6, 8, st, events.Noop{}, zerolog.Nop())
	return newSession(p, reg, st, events.Noop{}, zerolog.Nop()), st
}

func joinOne(t *testing.T, s *Session, name string) *Player {
	t.Helper()
	reply := make(chan joinReply, 1)
	s.handleJoin(cmdJoin{name: name, reply: reply})
	r := <-reply
	require.Nil(t, r.err)
	return s.byID[r.player.ID]
}

func joinErr(t *testing.T, s *Session, cmd cmdJoin) *protocol.WireError {
	t.Helper()
	cmd.reply = make(chan joinReply, 1)
	s.handleJoin(cmd)
	r := <-cmd.reply
	require.NotNil(t, r.err)
	return r.err
}

func startActive(t *testing.T, s *Session) {
	t.Helper()
	require.Equal(t, StatusLobby, s.status)
	s.startSession(nil)
	require.Equal(t, StatusActive, s.status)
}

func sendDeath(t *testing.T, s *Session, p *Player, runScore int) arcade.Question {
	t.Helper()
	s.handleDeath(p, &protocol.Death{Score: runScore})
	require.True(t, p.hasPending(), "death should have produced a question")
	return p.pending
}

func wrongIndex(q arcade.Question) int {
	return (q.CorrectIndex + 1) % len(q.Options)
}

func TestJoinAssignsIdentity(t *testing.T) {
	s, _ := newActorSession(t)

	reply := make(chan joinReply, 1)
	s.handleJoin(cmdJoin{name: "  Ada ", reply: reply})
	r := <-reply
	require.Nil(t, r.err)

	assert.Equal(t, "Ada", r.player.Name)
	assert.True(t, strings.HasPrefix(r.player.ID, "plr_"))
	assert.Len(t, r.player.PlayerToken, 32)
	assert.Equal(t, "ABCD23", r.player.SessionCode)
	assert.False(t, r.player.IsTeacher)
	assert.False(t, r.player.JoinedAt.IsZero())

	p := s.byToken[r.player.PlayerToken]
	require.NotNil(t, p)
	assert.Equal(t, r.player.ID, p.ID)
	assert.Equal(t, 0, p.JoinOrder)

	second := joinOne(t, s, "Bob")
	assert.Equal(t, 1, second.JoinOrder)
}

func TestJoinDedupesNames(t *testing.T) {
	s, _ := newActorSession(t)

	first := joinOne(t, s, "Ada")
	second := joinOne(t, s, "Ada")

	assert.Equal(t, "Ada", first.Name)
	assert.Equal(t, "Ada#2", second.Name)
}

func TestJoinRejectsWhenFull(t *testing.T) {
	s, _ := newActorSession(t, func(p *Params) { p.MaxPlayers = 2 })

	joinOne(t, s, "Ada")
	joinOne(t, s, "Bob")

	err := joinErr(t, s, cmdJoin{name: "Eve"})
	assert.Equal(t, protocol.ErrFull, err.Code)
}

func TestJoinRejectsInvalidName(t *testing.T) {
	s, _ := newActorSession(t)

	err := joinErr(t, s, cmdJoin{name: "x"})
	assert.Equal(t, protocol.ErrBadMessage, err.Code)
}

func TestJoinRejectedOutsideLobby(t *testing.T) {
	s, _ := newActorSession(t)
	joinOne(t, s, "Ada")
	startActive(t, s)

	err := joinErr(t, s, cmdJoin{name: "Late"})
	assert.Equal(t, protocol.ErrNotAccepting, err.Code)

	s.end(EndReasonHostEnded, true)
	err = joinErr(t, s, cmdJoin{name: "Later"})
	assert.Equal(t, protocol.ErrExpired, err.Code)
}

func TestTeacherJoinRules(t *testing.T) {
	t.Run("monitor mode has no teacher slot", func(t *testing.T) {
		s, _ := newActorSession(t)
		err := joinErr(t, s, cmdJoin{name: "Teach", isTeacher: true, teacherID: "teacher-1"})
		assert.Equal(t, protocol.ErrNotAccepting, err.Code)
	})

	t.Run("only the owner may join as teacher", func(t *testing.T) {
		s, _ := newActorSession(t, func(p *Params) { p.TeacherMode = ModePlay })
		err := joinErr(t, s, cmdJoin{name: "Teach", isTeacher: true, teacherID: "somebody-else"})
		assert.Equal(t, protocol.ErrForbidden, err.Code)
	})

	t.Run("owner joins a play session once", func(t *testing.T) {
		s, _ := newActorSession(t, func(p *Params) { p.TeacherMode = ModePlay })

		reply := make(chan joinReply, 1)
		s.handleJoin(cmdJoin{name: "Teach", isTeacher: true, teacherID: "teacher-1", reply: reply})
		r := <-reply
		require.Nil(t, r.err)
		assert.True(t, r.player.IsTeacher)

		err := joinErr(t, s, cmdJoin{name: "Again", isTeacher: true, teacherID: "teacher-1"})
		assert.Equal(t, protocol.ErrNotAccepting, err.Code)
	})
}

func TestDeathServesQuestion(t *testing.T) {
	s, _ := newActorSession(t)
	p := joinOne(t, s, "Ada")
	startActive(t, s)

	q := sendDeath(t, s, p, 80)

	assert.Len(t, q.Options, 4)
	assert.True(t, p.history.Seen(q.ID))
	assert.Equal(t, 1, p.Score.GamesPlayed)
	assert.Equal(t, 80, p.Score.LastDeathScore)
	assert.Zero(t, p.Score.TotalScore, "run score is held until the answer")
}

func TestDeathRejectedBeforeStart(t *testing.T) {
	s, _ := newActorSession(t)
	p := joinOne(t, s, "Ada")

	s.handleDeath(p, &protocol.Death{Score: 80})

	assert.False(t, p.hasPending())
	assert.Zero(t, p.Score.GamesPlayed)
}

func TestDeathRejectedWhilePending(t *testing.T) {
	s, _ := newActorSession(t)
	p := joinOne(t, s, "Ada")
	startActive(t, s)

	q := sendDeath(t, s, p, 80)
	s.handleDeath(p, &protocol.Death{Score: 90})

	assert.Equal(t, q.ID, p.pendingID, "second death must not replace a live question")
	assert.Equal(t, 1, p.Score.GamesPlayed)
}

func TestDeathReplacesLapsedQuestion(t *testing.T) {
	s, _ := newActorSession(t)
	p := joinOne(t, s, "Ada")
	startActive(t, s)

	q := sendDeath(t, s, p, 80)
	p.pendingIssued = time.Now().Add(-s.answerWindow - time.Second)

	next := sendDeath(t, s, p, 90)

	assert.NotEqual(t, q.ID, next.ID)
	assert.Equal(t, 2, p.Score.GamesPlayed)
}

func TestAnswerCorrectBanksScore(t *testing.T) {
	s, _ := newActorSession(t)
	p := joinOne(t, s, "Ada")
	startActive(t, s)

	q := sendDeath(t, s, p, 80)
	s.handleAnswer(p, &protocol.Answer{QuestionID: q.ID, AnswerIndex: q.CorrectIndex, TimeMS: 1200})

	assert.False(t, p.hasPending())
	assert.Equal(t, 80, p.Score.TotalScore)
	assert.Equal(t, 1, p.Score.CurrentStreak)
	assert.Equal(t, 1, p.Score.QuestionsCorrect)
	assert.Equal(t, 1, p.Score.ComebackCredits)
}

func TestAnswerWrongForfeitsScore(t *testing.T) {
	s, _ := newActorSession(t)
	p := joinOne(t, s, "Ada")
	startActive(t, s)

	q := sendDeath(t, s, p, 80)
	s.handleAnswer(p, &protocol.Answer{QuestionID: q.ID, AnswerIndex: wrongIndex(q), TimeMS: 900})

	assert.False(t, p.hasPending())
	assert.Zero(t, p.Score.TotalScore)
	assert.Zero(t, p.Score.CurrentStreak)
	assert.Equal(t, 1, p.Score.QuestionsAnswered)
	assert.Zero(t, p.Score.QuestionsCorrect)
}

func TestAnswerWithoutPendingIgnored(t *testing.T) {
	s, _ := newActorSession(t)
	p := joinOne(t, s, "Ada")
	startActive(t, s)

	s.handleAnswer(p, &protocol.Answer{QuestionID: "m0", AnswerIndex: 0, TimeMS: 100})

	assert.Zero(t, p.Score.QuestionsAnswered)
}

func TestAnswerForDifferentQuestionKeepsPending(t *testing.T) {
	s, _ := newActorSession(t)
	p := joinOne(t, s, "Ada")
	startActive(t, s)

	q := sendDeath(t, s, p, 80)
	s.handleAnswer(p, &protocol.Answer{QuestionID: "bogus", AnswerIndex: q.CorrectIndex, TimeMS: 100})

	assert.True(t, p.hasPending())
	assert.Zero(t, p.Score.QuestionsAnswered)
}

func TestAnswerAfterWindowLapsesHasNoVerdict(t *testing.T) {
	s, _ := newActorSession(t)
	p := joinOne(t, s, "Ada")
	startActive(t, s)

	q := sendDeath(t, s, p, 80)
	p.pendingIssued = time.Now().Add(-s.answerWindow - time.Second)

	s.handleAnswer(p, &protocol.Answer{QuestionID: q.ID, AnswerIndex: q.CorrectIndex, TimeMS: 100})

	assert.True(t, p.hasPending(), "lapsed question stays until the next death")
	assert.Zero(t, p.Score.TotalScore)
	assert.Zero(t, p.Score.QuestionsAnswered)

	next := sendDeath(t, s, p, 90)
	assert.NotEqual(t, q.ID, next.ID, "next death replaces the lapsed question")
}

func TestAnswerAcceptedWhilePaused(t *testing.T) {
	s, _ := newActorSession(t)
	p := joinOne(t, s, "Ada")
	startActive(t, s)

	q := sendDeath(t, s, p, 80)
	s.pauseSession(nil)
	require.Equal(t, StatusPaused, s.status)

	s.handleAnswer(p, &protocol.Answer{QuestionID: q.ID, AnswerIndex: q.CorrectIndex, TimeMS: 500})

	assert.Equal(t, 80, p.Score.TotalScore)
	assert.Equal(t, StatusPaused, s.status)
}

func TestDeathRejectedWhilePaused(t *testing.T) {
	s, _ := newActorSession(t)
	p := joinOne(t, s, "Ada")
	startActive(t, s)
	s.pauseSession(nil)

	s.handleDeath(p, &protocol.Death{Score: 80})

	assert.False(t, p.hasPending())
	assert.Zero(t, p.Score.GamesPlayed)
}

func TestPauseAndResumeKeepRemainingTime(t *testing.T) {
	s, _ := newActorSession(t)
	joinOne(t, s, "Ada")
	startActive(t, s)

	s.pauseSession(nil)
	require.Equal(t, StatusPaused, s.status)
	assert.Greater(t, s.remaining, 9*time.Minute)

	s.resumeSession(nil)
	require.Equal(t, StatusActive, s.status)
	assert.True(t, s.timerEnd.After(time.Now().Add(9*time.Minute)))
}

func TestScoreUpdateTracksLiveScore(t *testing.T) {
	s, _ := newActorSession(t)
	p := joinOne(t, s, "Ada")
	startActive(t, s)

	s.handlePlayerMessage(p, &protocol.ScoreUpdate{Score: 42})
	assert.Equal(t, 42, p.LiveScore)

	s.pauseSession(nil)
	s.handlePlayerMessage(p, &protocol.ScoreUpdate{Score: 99})
	assert.Equal(t, 42, p.LiveScore, "live score only moves while active")
}

func TestTimeLimitEndsSession(t *testing.T) {
	s, _ := newActorSession(t, func(p *Params) { p.ReapGrace = 10 * time.Millisecond })
	joinOne(t, s, "Ada")
	startActive(t, s)

	s.timerEnd = time.Now().Add(-time.Second)
	s.tick()

	assert.Equal(t, StatusEnded, s.status)
	assert.Equal(t, EndReasonTimeLimit, s.endReason)
	waitDone(t, s)
}

func TestEndBuildsFinalResults(t *testing.T) {
	s, st := newActorSession(t)
	ada := joinOne(t, s, "Ada")
	bob := joinOne(t, s, "Bob")
	startActive(t, s)

	q := sendDeath(t, s, ada, 100)
	s.handleAnswer(ada, &protocol.Answer{QuestionID: q.ID, AnswerIndex: q.CorrectIndex, TimeMS: 1500})

	q = sendDeath(t, s, bob, 50)
	s.handleAnswer(bob, &protocol.Answer{QuestionID: q.ID, AnswerIndex: wrongIndex(q), TimeMS: 700})

	s.end(EndReasonHostEnded, true)

	require.Equal(t, StatusEnded, s.status)
	require.NotNil(t, s.final)
	assert.True(t, s.final.Final)

	board := s.final.Leaderboard
	require.Len(t, board, 2)
	assert.Equal(t, ada.ID, board[0].PlayerID)
	assert.Equal(t, 1, board[0].Rank)
	assert.Equal(t, 100, board[0].TotalScore)
	assert.Equal(t, bob.ID, board[1].PlayerID)
	assert.Equal(t, 2, board[1].Rank)

	kinds := make(map[string]string)
	for _, a := range s.final.Awards {
		kinds[a.Kind] = a.PlayerID
	}
	assert.Equal(t, ada.ID, kinds[arcade.AwardTopScore])
	assert.Equal(t, ada.ID, kinds[arcade.AwardLongestStreak])
	assert.Len(t, s.final.Awards, 2)

	saved, err := st.GetResults(context.Background(), s.ID)
	require.NoError(t, err)
	assert.True(t, saved.Final)
	assert.Equal(t, StatusEnded, saved.Status)
	require.Len(t, saved.Players, 2)

	waitDone(t, s)
}

func TestEndIsIdempotent(t *testing.T) {
	s, _ := newActorSession(t)
	joinOne(t, s, "Ada")
	startActive(t, s)

	s.end(EndReasonHostEnded, true)
	s.end(EndReasonTimeLimit, true)

	assert.Equal(t, EndReasonHostEnded, s.endReason)
}

func TestSnapshotLiveThenFinal(t *testing.T) {
	s, _ := newActorSession(t)
	joinOne(t, s, "Ada")
	startActive(t, s)

	live := s.snapshot()
	assert.False(t, live.Final)
	assert.Nil(t, live.Awards)
	assert.Len(t, live.Leaderboard, 1)

	s.end(EndReasonHostEnded, true)

	final := s.snapshot()
	assert.True(t, final.Final)
	assert.NotSame(t, s.final, final, "snapshot returns a copy of the final results")
}

func TestPreviewReflectsState(t *testing.T) {
	s, _ := newActorSession(t)
	joinOne(t, s, "Ada")

	pv := s.preview()
	assert.Equal(t, "ABCD23", pv.Code)
	assert.Equal(t, StatusLobby, pv.Status)
	assert.Equal(t, "snake", pv.GameType)
	assert.Equal(t, ModeMonitor, pv.TeacherMode)
	assert.Equal(t, 600, pv.TimeLimitSeconds)
	assert.Equal(t, 1, pv.PlayerCount)
	assert.Equal(t, 8, pv.MaxPlayers)

	startActive(t, s)
	pv = s.preview()
	assert.Equal(t, StatusActive, pv.Status)
}
