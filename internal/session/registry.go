package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/reviewarcade/server/internal/auth"
	"github.com/reviewarcade/server/internal/events"
	"github.com/reviewarcade/server/internal/monitoring"
	"github.com/reviewarcade/server/internal/store"
)

// codeAlphabet deliberately omits 0, O, 1, and I so codes survive being
// read aloud or copied from a projector.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// ErrTooManySessions is returned when the session cap is reached.
var ErrTooManySessions = errors.New("session cap reached")

// Registry owns the set of live sessions, keyed by join code and id.
type Registry struct {
	mu     sync.Mutex
	byCode map[string]*Session
	byID   map[string]*Session

	codeLen     int
	maxSessions int

	logger zerolog.Logger
	store  store.Store
	events events.Publisher
}

// NewRegistry builds an empty registry.
func NewRegistry(codeLen, maxSessions int, st store.Store, pub events.Publisher, logger zerolog.Logger) *Registry {
	return &Registry{
		byCode:      make(map[string]*Session),
		byID:        make(map[string]*Session),
		codeLen:     codeLen,
		maxSessions: maxSessions,
		logger:      logger,
		store:       st,
		events:      pub,
	}
}

// Create registers a new session in the lobby state and starts its actor.
// The Code and ID fields of params are assigned here.
func (r *Registry) Create(params Params) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.byCode) >= r.maxSessions {
		return nil, ErrTooManySessions
	}

	code, err := r.newCodeLocked()
	if err != nil {
		return nil, err
	}
	params.Code = code

	if params.ID == "" {
		id, err := auth.NewID("sess")
		if err != nil {
			return nil, err
		}
		params.ID = id
	}

	s := newSession(params, r, r.store, r.events, r.logger)
	r.byCode[code] = s
	r.byID[s.ID] = s

	go s.run()

	monitoring.SessionsCreated.Inc()
	monitoring.SessionsActive.Set(float64(len(r.byCode)))

	if err := r.store.SaveSession(context.Background(), s.record()); err != nil {
		r.logger.Error().Err(err).Str("session", code).Msg("save session failed")
	}
	r.events.SessionCreated(s.record())
	r.logger.Info().Str("session", code).Str("teacher", params.TeacherID).Msg("session created")
	return s, nil
}

// newCodeLocked draws join codes until one is free. The code space is large
// enough that more than a few draws means something is wrong.
func (r *Registry) newCodeLocked() (string, error) {
	for attempt := 0; attempt < 16; attempt++ {
		buf := make([]byte, r.codeLen)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate session code: %w", err)
		}
		for i, b := range buf {
			buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
		}
		code := string(buf)
		if _, taken := r.byCode[code]; !taken {
			return code, nil
		}
	}
	return "", errors.New("could not find a free session code")
}

// ByCode finds a live session by its join code.
func (r *Registry) ByCode(code string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byCode[code]
	return s, ok
}

// ByID finds a live session by its id.
func (r *Registry) ByID(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	return s, ok
}

// Sessions snapshots all live sessions.
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.byCode))
	for _, s := range r.byCode {
		out = append(out, s)
	}
	return out
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byCode)
}

// remove is called by a session when its reap grace elapses.
func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byCode[s.Code] == s {
		delete(r.byCode, s.Code)
	}
	if r.byID[s.ID] == s {
		delete(r.byID, s.ID)
	}
	monitoring.SessionsActive.Set(float64(len(r.byCode)))
	r.logger.Info().Str("session", s.Code).Msg("session reaped")
}

// Shutdown ends every live session immediately and waits for them to drain,
// bounded by ctx.
func (r *Registry) Shutdown(ctx context.Context) {
	sessions := r.Sessions()
	for _, s := range sessions {
		s.End(EndReasonServerShutdown, true)
	}
	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return
		}
	}
}
