package server

import (
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/reviewarcade/server/internal/arcade"
	"github.com/reviewarcade/server/internal/auth"
	"github.com/reviewarcade/server/internal/protocol"
	"github.com/reviewarcade/server/internal/session"
	"github.com/reviewarcade/server/internal/store"
)

const defaultListLimit = 50

type createSessionRequest struct {
	GameType         string          `json:"game_type"`
	TeacherMode      string          `json:"teacher_mode"`
	TimeLimitMinutes int             `json:"time_limit_minutes"`
	MaxPlayers       int             `json:"max_players"`
	QuestionSource   string          `json:"question_source"`
	QuestionConfig   json.RawMessage `json:"question_config,omitempty"`
	QuestionBankIDs  []string        `json:"question_bank_ids,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
	session.Preview
}

type joinRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFrom(r.Context())
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "authorization required")
		return
	}

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !arcade.ValidGameType(req.GameType) {
		writeDetail(w, http.StatusBadRequest, "unknown game_type")
		return
	}
	if req.TeacherMode != session.ModeMonitor && req.TeacherMode != session.ModePlay {
		writeDetail(w, http.StatusBadRequest, "teacher_mode must be monitor or play")
		return
	}
	if req.TimeLimitMinutes < 5 || req.TimeLimitMinutes > 60 {
		writeDetail(w, http.StatusBadRequest, "time_limit_minutes must be between 5 and 60")
		return
	}
	if req.MaxPlayers < 5 || req.MaxPlayers > 100 {
		writeDetail(w, http.StatusBadRequest, "max_players must be between 5 and 100")
		return
	}

	source, werr := s.buildSource(r, req)
	if werr != nil {
		writeWireError(w, werr)
		return
	}

	sess, err := s.registry.Create(session.Params{
		TeacherID:    claims.TeacherID(),
		GameType:     req.GameType,
		TeacherMode:  req.TeacherMode,
		TimeLimit:    time.Duration(req.TimeLimitMinutes) * time.Minute,
		MaxPlayers:   req.MaxPlayers,
		Source:       source,
		SourceKind:   req.QuestionSource,
		AnswerWindow: s.cfg.AnswerTimeout,
		ReapGrace:    s.cfg.ReapGrace,
	})
	if err != nil {
		if errors.Is(err, session.ErrTooManySessions) {
			writeDetail(w, http.StatusServiceUnavailable, "session capacity reached")
			return
		}
		s.logger.Error().Err(err).Msg("create session failed")
		writeDetail(w, http.StatusInternalServerError, "could not create session")
		return
	}

	preview, ok := sess.Preview()
	if !ok {
		writeDetail(w, http.StatusInternalServerError, "could not create session")
		return
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{
		SessionID: sess.ID,
		Preview:   preview,
	})
}

// buildSource turns the request's question settings into a Source instance.
func (s *Server) buildSource(r *http.Request, req createSessionRequest) (arcade.Source, *protocol.WireError) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	switch req.QuestionSource {
	case "math":
		cfg := s.mathDefaults()
		if len(req.QuestionConfig) > 0 {
			if err := json.Unmarshal(req.QuestionConfig, &cfg); err != nil {
				return nil, protocol.BadMessage("invalid question_config")
			}
		}
		if err := cfg.Validate(); err != nil {
			return nil, protocol.BadMessage(err.Error())
		}
		src, err := arcade.NewMathSource(cfg, rng)
		if err != nil {
			return nil, protocol.BadMessage(err.Error())
		}
		return src, nil

	case "bank":
		if len(req.QuestionBankIDs) == 0 {
			return nil, protocol.BadMessage("question_bank_ids required for bank source")
		}
		banks, err := s.store.Banks(r.Context(), req.QuestionBankIDs)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, protocol.NewError(protocol.ErrNotFound, err.Error())
			}
			return nil, protocol.NewError(protocol.ErrInternal, "could not load question banks")
		}
		var questions []arcade.Question
		for _, bank := range banks {
			questions = append(questions, bank.Questions...)
		}
		src, err := arcade.NewBankSource(questions, rng)
		if err != nil {
			return nil, protocol.BadMessage(err.Error())
		}
		return src, nil

	default:
		return nil, protocol.BadMessage("question_source must be math or bank")
	}
}

// mathDefaults assembles the generator config sessions start from, per the
// ARCADE_MATH_* environment.
func (s *Server) mathDefaults() arcade.MathConfig {
	ops := make([]arcade.Op, len(s.cfg.MathOps))
	for i, op := range s.cfg.MathOps {
		ops[i] = arcade.Op(op)
	}
	return arcade.MathConfig{Operations: ops, Min: s.cfg.MathMin, Max: s.cfg.MathMax}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFrom(r.Context())
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "authorization required")
		return
	}
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeDetail(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	records, err := s.store.ListSessions(r.Context(), claims.TeacherID(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list sessions failed")
		writeDetail(w, http.StatusInternalServerError, "could not list sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": records})
}

func (s *Server) handlePreviewSession(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(r.PathValue("code"))
	sess, ok := s.registry.ByCode(code)
	if !ok {
		writeDetail(w, http.StatusNotFound, "session not found")
		return
	}
	preview, ok := sess.Preview()
	if !ok {
		writeDetail(w, http.StatusNotFound, "session not found")
		return
	}
	if preview.Status == session.StatusEnded {
		writeDetail(w, http.StatusGone, "session has ended")
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (s *Server) handleJoinSession(w http.ResponseWriter, r *http.Request) {
	s.join(w, r, false, "")
}

func (s *Server) handleJoinTeacher(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFrom(r.Context())
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "authorization required")
		return
	}
	s.join(w, r, true, claims.TeacherID())
}

func (s *Server) join(w http.ResponseWriter, r *http.Request, isTeacher bool, teacherID string) {
	code := strings.ToUpper(r.PathValue("code"))
	sess, ok := s.registry.ByCode(code)
	if !ok {
		writeDetail(w, http.StatusNotFound, "session not found")
		return
	}
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	player, werr := sess.Join(req.Name, isTeacher, teacherID)
	if werr != nil {
		writeWireError(w, werr)
		return
	}
	writeJSON(w, http.StatusOK, player)
}

func (s *Server) handleSessionResults(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFrom(r.Context())
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "authorization required")
		return
	}
	id := r.PathValue("id")

	if sess, ok := s.registry.ByID(id); ok {
		if sess.TeacherID() != claims.TeacherID() {
			writeDetail(w, http.StatusForbidden, "not the session owner")
			return
		}
		if results, ok := sess.Results(); ok {
			writeJSON(w, http.StatusOK, results)
			return
		}
	}

	results, err := s.store.GetResults(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeDetail(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error().Err(err).Msg("get results failed")
		writeDetail(w, http.StatusInternalServerError, "could not load results")
		return
	}
	if results.TeacherID != claims.TeacherID() {
		writeDetail(w, http.StatusForbidden, "not the session owner")
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleListBanks(w http.ResponseWriter, r *http.Request) {
	banks, err := s.store.ListBanks(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("list banks failed")
		writeDetail(w, http.StatusInternalServerError, "could not list banks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"banks": banks})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"sessions":       s.registry.Len(),
		"connections":    atomic.LoadInt64(&s.connCount),
		"cpu_percent":    s.guard.CPUPercent(),
		"memory_percent": s.guard.MemoryPercent(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeWireError(w http.ResponseWriter, werr *protocol.WireError) {
	writeDetail(w, werr.Code.HTTPStatus(), werr.Message)
}
