// Package store persists session records, final results, and question banks.
// The server remains authoritative for live state; the store only sees
// snapshots and final outcomes.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/reviewarcade/server/internal/arcade"
)

// ErrNotFound is returned when a session, result, or bank id is unknown.
var ErrNotFound = errors.New("store: not found")

// SessionRecord is the durable summary of a session.
type SessionRecord struct {
	SessionID        string     `json:"session_id"`
	Code             string     `json:"code"`
	TeacherID        string     `json:"teacher_id"`
	GameType         string     `json:"game_type"`
	TeacherMode      string     `json:"teacher_mode"`
	Status           string     `json:"status"`
	QuestionSource   string     `json:"question_source"`
	TimeLimitSeconds int        `json:"time_limit_seconds"`
	MaxPlayers       int        `json:"max_players"`
	PlayerCount      int        `json:"player_count"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
}

// PlayerResult is one player's line in a session's results.
type PlayerResult struct {
	PlayerID          string `json:"player_id"`
	Name              string `json:"name"`
	IsTeacher         bool   `json:"is_teacher,omitempty"`
	TotalScore        int    `json:"total_score"`
	BestStreak        int    `json:"best_streak"`
	GamesPlayed       int    `json:"games_played"`
	QuestionsAnswered int    `json:"questions_answered"`
	QuestionsCorrect  int    `json:"questions_correct"`
	AvgAnswerMS       int64  `json:"avg_answer_ms"`
	CreditsEarned     int    `json:"credits_earned"`
	CreditsUsed       int    `json:"credits_used"`
}

// SessionResults bundles the record with the leaderboard, awards, and
// per-player stats. Final is false while the session is still running.
type SessionResults struct {
	SessionRecord
	Final       bool                      `json:"final"`
	Leaderboard []arcade.LeaderboardEntry `json:"leaderboard"`
	Awards      []arcade.Award            `json:"awards"`
	Players     []PlayerResult            `json:"players"`
}

// QuestionBank is a named set of curated questions.
type QuestionBank struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Questions []arcade.Question `json:"questions"`
}

// BankSummary describes a bank without its questions.
type BankSummary struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	QuestionCount int    `json:"question_count"`
}

// Store is the persistence boundary for sessions and banks.
type Store interface {
	// SaveSession upserts the session record keyed by session id.
	SaveSession(ctx context.Context, rec SessionRecord) error

	// SaveResults stores the final results of an ended session.
	SaveResults(ctx context.Context, res SessionResults) error

	// ListSessions returns a teacher's sessions, newest first.
	// limit <= 0 means no limit.
	ListSessions(ctx context.Context, teacherID string, limit int) ([]SessionRecord, error)

	// GetResults returns stored results for a session.
	GetResults(ctx context.Context, sessionID string) (*SessionResults, error)

	// AddBank registers a question bank.
	AddBank(ctx context.Context, bank QuestionBank) error

	// Banks resolves bank ids, preserving order. Unknown ids fail with
	// ErrNotFound.
	Banks(ctx context.Context, ids []string) ([]QuestionBank, error)

	// ListBanks summarizes all registered banks.
	ListBanks(ctx context.Context) ([]BankSummary, error)
}
