package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/reviewarcade/server/internal/arcade"
	"github.com/reviewarcade/server/internal/auth"
	"github.com/reviewarcade/server/internal/config"
	"github.com/reviewarcade/server/internal/events"
	"github.com/reviewarcade/server/internal/session"
	"github.com/reviewarcade/server/internal/store"
)

// testEnv is a full server behind an httptest listener, with a memory store
// and a ready teacher token.
type testEnv struct {
	srv   *Server
	ts    *httptest.Server
	st    *store.Memory
	auth  *auth.Manager
	token string
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()

	cfg := &config.Config{
		Addr:              "127.0.0.1:0",
		JWTSecret:         "test-secret",
		JWTIssuer:         "arcade-test",
		SessionCodeLength: 6,
		MaxSessions:       8,
		ReapGrace:         2 * time.Second,
		HeartbeatInterval: 250 * time.Millisecond,
		HeartbeatTimeout:  10 * time.Second,
		InitTimeout:       2 * time.Second,
		AnswerTimeout:     2 * time.Minute,
		SendQueueSize:     64,
		MaxConnections:    64,
		ConnRatePerIP:     1000,
		ConnBurstPerIP:    1000,
		ConnRateGlobal:    1000,
		ConnBurstGlobal:   1000,
		CPUThreshold:      101,
		MemThreshold:      101,
		MaxGoroutines:     1 << 20,
		GuardInterval:     time.Second,
		MathOps:           []string{"add", "sub", "mul"},
		MathMin:           1,
		MathMax:           12,
	}
	for _, m := range mutate {
		m(cfg)
	}

	st := store.NewMemory()
	authMgr, err := auth.NewManager(cfg.JWTSecret, nil, cfg.JWTIssuer)
	require.NoError(t, err)

	srv := New(cfg, zerolog.Nop(), st, events.Noop{}, authMgr)
	ts := httptest.NewServer(srv.Handler())

	token, err := authMgr.Generate("teacher-1", "Ms. Honey", time.Hour)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		srv.registry.Shutdown(ctx)
		srv.limiter.Stop()
		ts.Close()
	})
	return &testEnv{srv: srv, ts: ts, st: st, auth: authMgr, token: token}
}

// do issues a request against the test server. A non-empty token is sent as a
// bearer credential.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decodeBody[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), "body: %s", data)
	return v
}

func detailOf(t *testing.T, data []byte) string {
	t.Helper()
	var d struct {
		Detail string `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(data, &d), "body: %s", data)
	return d.Detail
}

// createSession posts a create request built from defaults plus overrides.
func (e *testEnv) createSession(t *testing.T, overrides map[string]any) createSessionResponse {
	t.Helper()
	body := map[string]any{
		"game_type":          "snake",
		"teacher_mode":       "monitor",
		"time_limit_minutes": 10,
		"max_players":        8,
		"question_source":    "math",
	}
	for k, v := range overrides {
		body[k] = v
	}
	resp, data := e.do(t, http.MethodPost, "/api/reviewarcade/sessions", e.token, body)
	require.Equal(t, http.StatusCreated, resp.StatusCode, "create session: %s", data)
	return decodeBody[createSessionResponse](t, data)
}

func (e *testEnv) joinPlayer(t *testing.T, code, name string) session.JoinedPlayer {
	t.Helper()
	resp, data := e.do(t, http.MethodPost, "/api/reviewarcade/sessions/"+code+"/join", "", map[string]string{"name": name})
	require.Equal(t, http.StatusOK, resp.StatusCode, "join: %s", data)
	return decodeBody[session.JoinedPlayer](t, data)
}

// testBank builds a bank of n four-option questions with known answers.
func testBank(id string, n int) store.QuestionBank {
	qs := make([]arcade.Question, n)
	for i := range qs {
		qs[i] = arcade.Question{
			ID:           fmt.Sprintf("%s-q%d", id, i+1),
			Text:         fmt.Sprintf("Question %d?", i+1),
			Options:      []string{"A", "B", "C", "D"},
			CorrectIndex: i % 4,
		}
	}
	return store.QuestionBank{ID: id, Name: "Bank " + id, Questions: qs}
}

// correctIndexes maps each question id in a bank to its correct option.
func correctIndexes(bank store.QuestionBank) map[string]int {
	m := make(map[string]int, len(bank.Questions))
	for _, q := range bank.Questions {
		m[q.ID] = q.CorrectIndex
	}
	return m
}
