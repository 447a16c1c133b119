// Package session holds the live state of running review sessions. Each
// session is a single goroutine owning all of its state; connections and
// HTTP handlers talk to it through a command inbox, so no session field is
// ever touched by two goroutines.
package session

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/reviewarcade/server/internal/arcade"
	"github.com/reviewarcade/server/internal/auth"
	"github.com/reviewarcade/server/internal/events"
	"github.com/reviewarcade/server/internal/monitoring"
	"github.com/reviewarcade/server/internal/protocol"
	"github.com/reviewarcade/server/internal/store"
)

// Session statuses. Draft exists only in stored records; live sessions are
// created straight into the lobby.
const (
	StatusDraft  = "draft"
	StatusLobby  = "lobby"
	StatusActive = "active"
	StatusPaused = "paused"
	StatusEnded  = "ended"
)

// Teacher modes.
const (
	ModeMonitor = "monitor"
	ModePlay    = "play"
)

// Reasons a session ends with. All but internal ride on session_ended
// frames; internal marks a teardown after an actor panic.
const (
	EndReasonTimeLimit      = "time_limit"
	EndReasonHostEnded      = "host_ended"
	EndReasonServerShutdown = "server_shutdown"
	EndReasonInternal       = "internal"
)

const (
	inboxSize      = 256
	leaderboardTop = 5
)

// Params configures a new session.
type Params struct {
	ID          string
	Code        string
	TeacherID   string
	GameType    string
	TeacherMode string
	TimeLimit   time.Duration
	MaxPlayers  int

	Source     arcade.Source
	SourceKind string

	AnswerWindow time.Duration
	ReapGrace    time.Duration
}

// Session is one live review session. All unexported fields belong to the
// run goroutine.
type Session struct {
	ID   string
	Code string

	teacherID   string
	gameType    string
	teacherMode string
	timeLimit   time.Duration
	maxPlayers  int

	source     arcade.Source
	sourceKind string

	answerWindow time.Duration
	reapGrace    time.Duration

	inbox    chan any
	done     chan struct{}
	reapOnce sync.Once

	status    string
	players   []*Player
	byToken   map[string]*Player
	byID      map[string]*Player
	host      *Conn
	createdAt time.Time
	startedAt time.Time
	endedAt   time.Time

	// timerEnd is meaningful while active, remaining while paused.
	timerEnd  time.Time
	remaining time.Duration

	endReason string
	final     *store.SessionResults

	logger   zerolog.Logger
	store    store.Store
	events   events.Publisher
	registry *Registry
}

func newSession(p Params, reg *Registry, st store.Store, pub events.Publisher, logger zerolog.Logger) *Session {
	return &Session{
		ID:           p.ID,
		Code:         p.Code,
		teacherID:    p.TeacherID,
		gameType:     p.GameType,
		teacherMode:  p.TeacherMode,
		timeLimit:    p.TimeLimit,
		maxPlayers:   p.MaxPlayers,
		source:       p.Source,
		sourceKind:   p.SourceKind,
		answerWindow: p.AnswerWindow,
		reapGrace:    p.ReapGrace,
		inbox:        make(chan any, inboxSize),
		done:         make(chan struct{}),
		status:       StatusLobby,
		byToken:      make(map[string]*Player),
		byID:         make(map[string]*Player),
		createdAt:    time.Now(),
		logger:       logger.With().Str("session", p.Code).Logger(),
		store:        st,
		events:       pub,
		registry:     reg,
	}
}

// TeacherID returns the owning teacher. Immutable after creation.
func (s *Session) TeacherID() string {
	return s.teacherID
}

// Done is closed once the session has been reaped from the registry.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// post delivers a command to the actor unless the session is already gone.
func (s *Session) post(cmd any) bool {
	select {
	case s.inbox <- cmd:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) run() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Interface("panic_value", r).
				Str("stack_trace", string(debug.Stack())).
				Msg("session actor panicked")
			s.fail()
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case cmd := <-s.inbox:
			s.handle(cmd)
		case <-ticker.C:
			s.tick()
		case <-s.done:
			return
		}
	}
}

func (s *Session) handle(cmd any) {
	switch cmd := cmd.(type) {
	case cmdJoin:
		s.handleJoin(cmd)
	case cmdPreview:
		cmd.reply <- s.preview()
	case cmdSnapshot:
		cmd.reply <- s.snapshot()
	case cmdAttachHost:
		s.handleAttachHost(cmd)
	case cmdAttachPlayer:
		s.handleAttachPlayer(cmd)
	case cmdClient:
		s.handleClient(cmd)
	case cmdDisconnect:
		s.handleDisconnect(cmd)
	case cmdEnd:
		s.end(cmd.reason, cmd.immediate)
	}
}

func (s *Session) tick() {
	if s.status == StatusActive && !time.Now().Before(s.timerEnd) {
		s.end(EndReasonTimeLimit, false)
	}
}

// --- REST-facing calls. Safe from any goroutine. ---

// Join adds a player and returns their credentials. A teacher joining their
// own play-mode session passes isTeacher with their verified id.
func (s *Session) Join(name string, isTeacher bool, teacherID string) (JoinedPlayer, *protocol.WireError) {
	reply := make(chan joinReply, 1)
	if !s.post(cmdJoin{name: name, isTeacher: isTeacher, teacherID: teacherID, reply: reply}) {
		return JoinedPlayer{}, protocol.NewError(protocol.ErrExpired, "session has ended")
	}
	select {
	case r := <-reply:
		return r.player, r.err
	case <-s.done:
		select {
		case r := <-reply:
			return r.player, r.err
		default:
			return JoinedPlayer{}, protocol.NewError(protocol.ErrExpired, "session has ended")
		}
	}
}

// Preview returns the public view of the session.
func (s *Session) Preview() (Preview, bool) {
	reply := make(chan Preview, 1)
	if !s.post(cmdPreview{reply: reply}) {
		return Preview{}, false
	}
	select {
	case p := <-reply:
		return p, true
	case <-s.done:
		select {
		case p := <-reply:
			return p, true
		default:
			return Preview{}, false
		}
	}
}

// Results returns a live or final results snapshot.
func (s *Session) Results() (*store.SessionResults, bool) {
	reply := make(chan *store.SessionResults, 1)
	if !s.post(cmdSnapshot{reply: reply}) {
		return nil, false
	}
	select {
	case r := <-reply:
		return r, true
	case <-s.done:
		select {
		case r := <-reply:
			return r, true
		default:
			return nil, false
		}
	}
}

// AttachHost binds a connection as the session host.
func (s *Session) AttachHost(conn *Conn, teacherID string) *protocol.WireError {
	reply := make(chan *protocol.WireError, 1)
	if !s.post(cmdAttachHost{conn: conn, teacherID: teacherID, reply: reply}) {
		return protocol.NewError(protocol.ErrExpired, "session has ended")
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		select {
		case err := <-reply:
			return err
		default:
			return protocol.NewError(protocol.ErrExpired, "session has ended")
		}
	}
}

// AttachPlayer binds a connection to a joined player by token.
func (s *Session) AttachPlayer(conn *Conn, token, playerID string) *protocol.WireError {
	reply := make(chan *protocol.WireError, 1)
	if !s.post(cmdAttachPlayer{conn: conn, token: token, playerID: playerID, reply: reply}) {
		return protocol.NewError(protocol.ErrExpired, "session has ended")
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		select {
		case err := <-reply:
			return err
		default:
			return protocol.NewError(protocol.ErrExpired, "session has ended")
		}
	}
}

// End terminates the session. Immediate skips the reap grace period; it is
// used on server shutdown.
func (s *Session) End(reason string, immediate bool) {
	s.post(cmdEnd{reason: reason, immediate: immediate})
}

// --- Actor internals. Only reachable from run(). ---

func (s *Session) handleJoin(cmd cmdJoin) {
	var reply joinReply
	defer func() { cmd.reply <- reply }()

	switch s.status {
	case StatusEnded:
		reply.err = protocol.NewError(protocol.ErrExpired, "session has ended")
		return
	case StatusLobby:
	default:
		reply.err = protocol.NewError(protocol.ErrNotAccepting, "session has already started")
		return
	}

	if cmd.isTeacher {
		if s.teacherMode != ModePlay {
			reply.err = protocol.NewError(protocol.ErrNotAccepting, "teacher play is not enabled for this session")
			return
		}
		if cmd.teacherID != s.teacherID {
			reply.err = protocol.NewError(protocol.ErrForbidden, "not the session owner")
			return
		}
		for _, p := range s.players {
			if p.IsTeacher {
				reply.err = protocol.NewError(protocol.ErrNotAccepting, "teacher has already joined")
				return
			}
		}
	}

	if len(s.players) >= s.maxPlayers {
		reply.err = protocol.NewError(protocol.ErrFull, "session is full")
		return
	}

	name, err := arcade.NormalizeName(cmd.name)
	if err != nil {
		reply.err = protocol.NewError(protocol.ErrBadMessage, err.Error())
		return
	}
	name = arcade.DedupeName(s.playerNames(), name)

	id, err := auth.NewID("plr")
	if err != nil {
		reply.err = protocol.NewError(protocol.ErrInternal, "could not create player")
		return
	}
	token, err := auth.NewPlayerToken()
	if err != nil {
		reply.err = protocol.NewError(protocol.ErrInternal, "could not create player")
		return
	}

	p := &Player{
		ID:        id,
		Name:      name,
		Token:     token,
		IsTeacher: cmd.isTeacher,
		JoinOrder: len(s.players),
		JoinedAt:  time.Now(),
		history:   arcade.NewHistory(),
	}
	s.players = append(s.players, p)
	s.byToken[token] = p
	s.byID[id] = p

	monitoring.PlayersJoined.Inc()
	s.persist()
	s.logger.Info().Str("player", p.ID).Str("name", p.Name).Int("count", len(s.players)).Msg("player joined")

	s.notifyHost(protocol.PlayerConnected{
		Envelope:    protocol.Envelope{Type: protocol.TypePlayerConnected},
		PlayerID:    p.ID,
		DisplayName: p.Name,
		IsTeacher:   p.IsTeacher,
		Connected:   false,
		PlayerCount: len(s.players),
	})

	reply.player = JoinedPlayer{
		ID:          p.ID,
		Name:        p.Name,
		SessionCode: s.Code,
		PlayerToken: p.Token,
		IsTeacher:   p.IsTeacher,
		JoinedAt:    p.JoinedAt,
	}
}

func (s *Session) handleAttachHost(cmd cmdAttachHost) {
	if cmd.teacherID != s.teacherID {
		cmd.reply <- protocol.NewError(protocol.ErrForbidden, "not the session owner")
		return
	}
	if s.status == StatusEnded {
		cmd.reply <- protocol.NewError(protocol.ErrExpired, "session has ended")
		return
	}
	if s.host != nil && s.host != cmd.conn {
		s.host.CloseNormal("superseded")
	}
	s.host = cmd.conn
	cmd.conn.bind(s, protocol.RoleHost, "")
	cmd.reply <- nil

	cmd.conn.Enqueue(protocol.MustEncode(s.hostState()))
	s.logger.Info().Str("remote", cmd.conn.RemoteAddr()).Msg("host attached")
}

func (s *Session) handleAttachPlayer(cmd cmdAttachPlayer) {
	p, ok := s.byToken[cmd.token]
	if !ok || !auth.TokensEqual(cmd.token, p.Token) || (cmd.playerID != "" && cmd.playerID != p.ID) {
		cmd.reply <- protocol.NewError(protocol.ErrAuthInvalid, "unknown player token")
		return
	}
	if s.status == StatusEnded {
		cmd.reply <- protocol.NewError(protocol.ErrExpired, "session has ended")
		return
	}
	if p.conn != nil && p.conn != cmd.conn {
		p.conn.CloseNormal("superseded")
	}
	p.conn = cmd.conn
	p.Connected = true
	cmd.conn.bind(s, protocol.RolePlayer, p.ID)
	cmd.reply <- nil

	cmd.conn.Enqueue(protocol.MustEncode(s.playerState(p)))
	s.notifyHost(protocol.PlayerConnected{
		Envelope:    protocol.Envelope{Type: protocol.TypePlayerConnected},
		PlayerID:    p.ID,
		DisplayName: p.Name,
		IsTeacher:   p.IsTeacher,
		Connected:   true,
		PlayerCount: len(s.players),
	})
	s.logger.Info().Str("player", p.ID).Msg("player connected")
}

func (s *Session) handleDisconnect(cmd cmdDisconnect) {
	if cmd.conn == s.host {
		s.host = nil
		s.logger.Info().Msg("host disconnected")
		return
	}
	p := s.playerByConn(cmd.conn)
	if p == nil {
		return
	}
	p.conn = nil
	p.Connected = false
	s.notifyHost(protocol.PlayerDisconnected{
		Envelope: protocol.Envelope{Type: protocol.TypePlayerDisconnected},
		PlayerID: p.ID,
		Reason:   cmd.reason,
	})
	s.logger.Info().Str("player", p.ID).Str("reason", string(cmd.reason)).Msg("player disconnected")
}

func (s *Session) handleClient(cmd cmdClient) {
	if s.status == StatusEnded {
		return
	}
	if cmd.conn == s.host {
		s.handleHostMessage(cmd.conn, cmd.msg)
		return
	}
	p := s.playerByConn(cmd.conn)
	if p == nil {
		cmd.conn.Enqueue(protocol.MustEncode(protocol.NewError(protocol.ErrForbidden, "connection is not attached").Frame()))
		return
	}
	s.handlePlayerMessage(p, cmd.msg)
}

func (s *Session) handleHostMessage(conn *Conn, msg any) {
	switch msg.(type) {
	case *protocol.StartSession:
		s.startSession(conn)
	case *protocol.PauseSession:
		s.pauseSession(conn)
	case *protocol.ResumeSession:
		s.resumeSession(conn)
	case *protocol.EndSession:
		s.end(EndReasonHostEnded, false)
	case *protocol.Death, *protocol.Answer, *protocol.ScoreUpdate, *protocol.SpecialEvent:
		s.sendTo(conn, protocol.NewError(protocol.ErrForbidden, "host connection cannot play").Frame())
	default:
		s.sendTo(conn, protocol.BadMessage("unexpected message from host").Frame())
	}
}

func (s *Session) handlePlayerMessage(p *Player, msg any) {
	switch msg := msg.(type) {
	case *protocol.Death:
		s.handleDeath(p, msg)
	case *protocol.Answer:
		s.handleAnswer(p, msg)
	case *protocol.ScoreUpdate:
		if s.status == StatusActive {
			p.LiveScore = msg.Score
			s.notifyHost(protocol.PlayerScoreUpdate{
				Envelope: protocol.Envelope{Type: protocol.TypePlayerScoreUpdate},
				PlayerID: p.ID,
				Score:    msg.Score,
			})
		}
	case *protocol.SpecialEvent:
		if s.status == StatusActive {
			s.notifyHost(protocol.LiveEvent{
				Envelope: protocol.Envelope{Type: protocol.TypeLiveEvent},
				PlayerID: p.ID,
				Event:    msg.Event,
			})
		}
	case *protocol.StartSession, *protocol.PauseSession, *protocol.ResumeSession, *protocol.EndSession:
		s.sendErrorTo(p, protocol.ErrForbidden, "host role required")
	default:
		s.sendErrorTo(p, protocol.ErrBadMessage, "unexpected message")
	}
}

func (s *Session) startSession(conn *Conn) {
	if s.status != StatusLobby {
		s.sendTo(conn, protocol.NewError(protocol.ErrNotAccepting, "session has already started").Frame())
		return
	}
	if s.teacherMode == ModePlay && len(s.players) == 0 {
		s.sendTo(conn, protocol.NewError(protocol.ErrNotAccepting, "no players have joined").Frame())
		return
	}
	now := time.Now()
	s.status = StatusActive
	s.startedAt = now
	s.timerEnd = now.Add(s.timeLimit)

	s.broadcast(protocol.SessionStarted{
		Envelope:         protocol.Envelope{Type: protocol.TypeSessionStarted},
		GameType:         s.gameType,
		TimeLimitSeconds: int(s.timeLimit / time.Second),
	})
	s.persist()
	s.events.SessionStarted(s.record())
	s.logger.Info().Int("players", len(s.players)).Msg("session started")
}

func (s *Session) pauseSession(conn *Conn) {
	if s.status != StatusActive {
		s.sendTo(conn, protocol.NewError(protocol.ErrNotAccepting, "session is not active").Frame())
		return
	}
	s.remaining = time.Until(s.timerEnd)
	if s.remaining < 0 {
		s.remaining = 0
	}
	s.status = StatusPaused
	s.broadcast(protocol.SessionPaused{
		Envelope:         protocol.Envelope{Type: protocol.TypeSessionPaused},
		RemainingSeconds: int(s.remaining / time.Second),
	})
	s.persist()
	s.logger.Info().Msg("session paused")
}

func (s *Session) resumeSession(conn *Conn) {
	if s.status != StatusPaused {
		s.sendTo(conn, protocol.NewError(protocol.ErrNotAccepting, "session is not paused").Frame())
		return
	}
	s.status = StatusActive
	s.timerEnd = time.Now().Add(s.remaining)
	s.broadcast(protocol.SessionResumed{
		Envelope:         protocol.Envelope{Type: protocol.TypeSessionResumed},
		RemainingSeconds: int(s.remaining / time.Second),
	})
	s.persist()
	s.logger.Info().Msg("session resumed")
}

func (s *Session) handleDeath(p *Player, msg *protocol.Death) {
	if s.status != StatusActive {
		s.sendErrorTo(p, protocol.ErrNotAccepting, "session is not active")
		return
	}
	now := time.Now()
	if p.hasPending() {
		if !p.pendingExpired(now, s.answerWindow) {
			s.sendErrorTo(p, protocol.ErrPendingQuestion, "a question is already pending")
			return
		}
		// The old question lapsed; this death replaces it.
		p.clearPending()
	}

	p.Score, _ = arcade.ApplyDeath(p.Score, msg.Score)
	monitoring.DeathsTotal.Inc()

	q, err := s.source.Next(p.history)
	if err != nil {
		s.logger.Error().Err(err).Str("player", p.ID).Msg("question source failed")
		s.sendErrorTo(p, protocol.ErrInternal, "no question available")
		return
	}
	p.history.Record(q.ID)
	p.pendingID = q.ID
	p.pending = q
	p.pendingIssued = now
	monitoring.QuestionsServed.WithLabelValues(s.sourceKind).Inc()

	s.sendToPlayer(p, protocol.MustEncode(protocol.QuestionMessage{
		Envelope: protocol.Envelope{Type: protocol.TypeQuestion},
		QuestionPayload: protocol.QuestionPayload{
			QuestionID: q.ID,
			Text:       q.Text,
			Options:    q.Options,
		},
	}))
}

func (s *Session) handleAnswer(p *Player, msg *protocol.Answer) {
	if s.status != StatusActive && s.status != StatusPaused {
		s.sendErrorTo(p, protocol.ErrNotAccepting, "session is not running")
		return
	}
	if !p.hasPending() {
		s.sendErrorTo(p, protocol.ErrBadMessage, "no question is pending")
		return
	}
	if msg.QuestionID != p.pendingID {
		s.sendErrorTo(p, protocol.ErrExpired, "question is no longer pending")
		return
	}
	// A lapsed question stays on the player until the next death replaces it.
	if p.pendingExpired(time.Now(), s.answerWindow) {
		s.sendErrorTo(p, protocol.ErrExpired, "answer window has elapsed")
		return
	}

	q := p.pending
	p.clearPending()

	if msg.AnswerIndex == q.CorrectIndex {
		var res arcade.AnswerResult
		p.Score, res = arcade.ApplyCorrect(p.Score, msg.TimeMS)
		monitoring.AnswersTotal.WithLabelValues("correct").Inc()
		s.sendToPlayer(p, protocol.MustEncode(protocol.AnswerCorrect{
			Envelope:           protocol.Envelope{Type: protocol.TypeAnswerCorrect},
			QuestionID:         q.ID,
			BonusEarned:        res.BonusEarned,
			TotalScore:         res.TotalScore,
			CurrentStreak:      res.CurrentStreak,
			StreakMultiplier:   res.StreakMultiplier,
			ComebackCredits:    res.ComebackCredits,
			ComebackStartScore: res.ComebackStartScore,
			Respawn:            true,
		}))
		s.fanoutLeaderboard()
		return
	}

	var res arcade.AnswerResult
	p.Score, res = arcade.ApplyWrong(p.Score, msg.TimeMS)
	monitoring.AnswersTotal.WithLabelValues("wrong").Inc()
	s.sendToPlayer(p, protocol.MustEncode(protocol.AnswerWrong{
		Envelope:           protocol.Envelope{Type: protocol.TypeAnswerWrong},
		QuestionID:         q.ID,
		CorrectIndex:       q.CorrectIndex,
		TotalScore:         res.TotalScore,
		CurrentStreak:      res.CurrentStreak,
		StreakMultiplier:   res.StreakMultiplier,
		ComebackCredits:    res.ComebackCredits,
		ComebackStartScore: res.ComebackStartScore,
		Respawn:            false,
	}))
}

func (s *Session) end(reason string, immediate bool) {
	if s.status == StatusEnded {
		return
	}
	s.status = StatusEnded
	s.endedAt = time.Now()
	s.endReason = reason
	monitoring.SessionsEnded.WithLabelValues(reason).Inc()

	s.final = s.buildResults()
	s.broadcast(protocol.SessionEnded{
		Envelope:         protocol.Envelope{Type: protocol.TypeSessionEnded},
		Reason:           reason,
		FinalLeaderboard: s.final.Leaderboard,
		Awards:           s.final.Awards,
	})

	if err := s.store.SaveResults(context.Background(), *s.final); err != nil {
		s.logger.Error().Err(err).Msg("save results failed")
	}
	s.events.SessionEnded(*s.final)

	if s.host != nil {
		s.host.CloseNormal("session_ended")
		s.host = nil
	}
	for _, p := range s.players {
		if p.conn != nil {
			p.conn.CloseNormal("session_ended")
			p.conn = nil
			p.Connected = false
		}
	}

	s.logger.Info().Str("reason", reason).Int("players", len(s.players)).Msg("session ended")

	if immediate {
		s.reap()
		return
	}
	time.AfterFunc(s.reapGrace, s.reap)
}

// reap removes the session from the registry and releases everyone waiting
// on Done. Safe to call more than once.
func (s *Session) reap() {
	s.reapOnce.Do(func() {
		s.registry.remove(s)
		close(s.done)
	})
}

// fail tears the session down after a panic on the actor goroutine. State
// may be mid-update, so nothing is persisted or broadcast; every connection
// gets an internal error close and the session is reaped at once.
func (s *Session) fail() {
	if s.status != StatusEnded {
		s.status = StatusEnded
		s.endedAt = time.Now()
		s.endReason = EndReasonInternal
		monitoring.SessionsEnded.WithLabelValues(EndReasonInternal).Inc()
	}
	if s.host != nil {
		s.host.CloseWithError(protocol.ErrInternal, "session failed")
		s.host = nil
	}
	for _, p := range s.players {
		if p.conn != nil {
			p.conn.CloseWithError(protocol.ErrInternal, "session failed")
			p.conn = nil
			p.Connected = false
		}
	}
	s.reap()
}

// --- Views and fanout. ---

func (s *Session) preview() Preview {
	return Preview{
		Code:             s.Code,
		Status:           s.status,
		GameType:         s.gameType,
		TeacherMode:      s.teacherMode,
		TimeLimitSeconds: int(s.timeLimit / time.Second),
		PlayerCount:      len(s.players),
		MaxPlayers:       s.maxPlayers,
	}
}

func (s *Session) snapshot() *store.SessionResults {
	if s.final != nil {
		cp := *s.final
		return &cp
	}
	return s.buildResults()
}

func (s *Session) buildResults() *store.SessionResults {
	standings := make([]arcade.Standing, 0, len(s.players))
	inputs := make([]arcade.AwardInput, 0, len(s.players))
	results := make([]store.PlayerResult, 0, len(s.players))
	for _, p := range s.players {
		standings = append(standings, p.standing())
		inputs = append(inputs, p.awardInput())
		results = append(results, p.result())
	}
	res := &store.SessionResults{
		SessionRecord: s.record(),
		Final:         s.status == StatusEnded,
		Leaderboard:   arcade.Rank(standings),
		Players:       results,
	}
	if res.Final {
		res.Awards = arcade.ComputeAwards(inputs)
	}
	return res
}

func (s *Session) record() store.SessionRecord {
	rec := store.SessionRecord{
		SessionID:        s.ID,
		Code:             s.Code,
		TeacherID:        s.teacherID,
		GameType:         s.gameType,
		TeacherMode:      s.teacherMode,
		Status:           s.status,
		QuestionSource:   s.sourceKind,
		TimeLimitSeconds: int(s.timeLimit / time.Second),
		MaxPlayers:       s.maxPlayers,
		PlayerCount:      len(s.players),
		CreatedAt:        s.createdAt,
	}
	if !s.startedAt.IsZero() {
		t := s.startedAt
		rec.StartedAt = &t
	}
	if !s.endedAt.IsZero() {
		t := s.endedAt
		rec.EndedAt = &t
	}
	return rec
}

func (s *Session) persist() {
	if err := s.store.SaveSession(context.Background(), s.record()); err != nil {
		s.logger.Error().Err(err).Msg("save session failed")
	}
}

func (s *Session) remainingSeconds() int {
	switch s.status {
	case StatusActive:
		r := time.Until(s.timerEnd)
		if r < 0 {
			r = 0
		}
		return int(r / time.Second)
	case StatusPaused:
		return int(s.remaining / time.Second)
	case StatusLobby:
		return int(s.timeLimit / time.Second)
	default:
		return 0
	}
}

func (s *Session) hostState() protocol.HostState {
	players := make([]protocol.PlayerSummary, 0, len(s.players))
	standings := make([]arcade.Standing, 0, len(s.players))
	for _, p := range s.players {
		players = append(players, p.summary())
		standings = append(standings, p.standing())
	}
	return protocol.HostState{
		Envelope:         protocol.Envelope{Type: protocol.TypeHostState},
		Code:             s.Code,
		Status:           s.status,
		GameType:         s.gameType,
		TeacherMode:      s.teacherMode,
		TimeLimitSeconds: int(s.timeLimit / time.Second),
		RemainingSeconds: s.remainingSeconds(),
		MaxPlayers:       s.maxPlayers,
		Players:          players,
		Leaderboard:      arcade.Rank(standings),
	}
}

func (s *Session) playerState(p *Player) protocol.PlayerState {
	ps := protocol.PlayerState{
		Envelope:           protocol.Envelope{Type: protocol.TypePlayerState},
		Status:             s.status,
		GameType:           s.gameType,
		RemainingSeconds:   s.remainingSeconds(),
		Player:             p.summary(),
		ComebackStartScore: p.Score.ComebackStartScore,
	}
	if p.hasPending() && !p.pendingExpired(time.Now(), s.answerWindow) {
		ps.Question = &protocol.QuestionPayload{
			QuestionID: p.pendingID,
			Text:       p.pending.Text,
			Options:    p.pending.Options,
		}
	}
	return ps
}

// fanoutLeaderboard pushes the full board to the host and a trimmed view to
// each player whose visible slice actually changed.
func (s *Session) fanoutLeaderboard() {
	start := time.Now()
	defer func() {
		monitoring.BroadcastDuration.Observe(time.Since(start).Seconds())
	}()

	standings := make([]arcade.Standing, 0, len(s.players))
	for _, p := range s.players {
		standings = append(standings, p.standing())
	}
	entries := arcade.Rank(standings)

	s.notifyHost(protocol.LeaderboardUpdate{
		Envelope: protocol.Envelope{Type: protocol.TypeLeaderboardUpdate},
		Entries:  entries,
	})

	for _, p := range s.players {
		if p.conn == nil {
			continue
		}
		top, rank, score := arcade.TopView(entries, p.ID, leaderboardTop)
		sig := topSignature(top)
		if p.lastTopSig == sig && p.lastRankSent == rank && p.lastScoreSent == score {
			continue
		}
		p.lastTopSig = sig
		p.lastRankSent = rank
		p.lastScoreSent = score
		r, sc := rank, score
		s.sendToPlayer(p, protocol.MustEncode(protocol.LeaderboardUpdate{
			Envelope:  protocol.Envelope{Type: protocol.TypeLeaderboardUpdate},
			Entries:   top,
			YourRank:  &r,
			YourScore: &sc,
		}))
	}
}

func topSignature(top []arcade.LeaderboardEntry) string {
	var b strings.Builder
	for _, e := range top {
		b.WriteString(e.PlayerID)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(e.TotalScore))
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(e.BestStreak))
		b.WriteByte(';')
	}
	return b.String()
}

func (s *Session) broadcast(msg any) {
	start := time.Now()
	defer func() {
		monitoring.BroadcastDuration.Observe(time.Since(start).Seconds())
	}()

	frame, err := protocol.Encode(msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("encode broadcast failed")
		return
	}
	if s.host != nil && !s.host.Enqueue(frame) {
		s.host = nil
	}
	var dropped []*Player
	for _, p := range s.players {
		if p.conn == nil {
			continue
		}
		if !p.conn.Enqueue(frame) {
			dropped = append(dropped, p)
		}
	}
	for _, p := range dropped {
		s.dropPlayerConn(p, protocol.ErrSlowConsumer)
	}
}

func (s *Session) notifyHost(msg any) {
	if s.host == nil {
		return
	}
	frame, err := protocol.Encode(msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("encode host message failed")
		return
	}
	if !s.host.Enqueue(frame) {
		s.host = nil
	}
}

func (s *Session) sendToPlayer(p *Player, frame []byte) {
	if p.conn == nil {
		return
	}
	if !p.conn.Enqueue(frame) {
		s.dropPlayerConn(p, protocol.ErrSlowConsumer)
	}
}

func (s *Session) sendErrorTo(p *Player, code protocol.ErrorCode, message string) {
	s.sendToPlayer(p, protocol.MustEncode(protocol.NewError(code, message).Frame()))
}

func (s *Session) sendTo(conn *Conn, msg protocol.ErrorMessage) {
	conn.Enqueue(protocol.MustEncode(msg))
}

// dropPlayerConn detaches a connection that was already closed for slow
// consumption and tells the host.
func (s *Session) dropPlayerConn(p *Player, reason protocol.ErrorCode) {
	p.conn = nil
	p.Connected = false
	s.notifyHost(protocol.PlayerDisconnected{
		Envelope: protocol.Envelope{Type: protocol.TypePlayerDisconnected},
		PlayerID: p.ID,
		Reason:   reason,
	})
}

func (s *Session) playerByConn(conn *Conn) *Player {
	if conn == nil {
		return nil
	}
	if id := conn.PlayerID(); id != "" {
		if p, ok := s.byID[id]; ok && p.conn == conn {
			return p
		}
	}
	return nil
}

func (s *Session) playerNames() []string {
	names := make([]string, 0, len(s.players))
	for _, p := range s.players {
		names = append(names, p.Name)
	}
	return names
}
