package protocol

import (
	"encoding/json"

	"github.com/reviewarcade/server/internal/arcade"
)

// Type tags every frame on the wire.
type Type string

// Client to server.
const (
	TypeInit          Type = "init"
	TypeDeath         Type = "death"
	TypeAnswer        Type = "answer"
	TypeScoreUpdate   Type = "score_update"
	TypeSpecialEvent  Type = "special_event"
	TypeStartSession  Type = "start_session"
	TypePauseSession  Type = "pause_session"
	TypeResumeSession Type = "resume_session"
	TypeEndSession    Type = "end_session"
	TypePong          Type = "pong"
)

// Server to client.
const (
	TypeHostState          Type = "host_state"
	TypePlayerState        Type = "player_state"
	TypePlayerConnected    Type = "player_connected"
	TypePlayerDisconnected Type = "player_disconnected"
	TypeSessionStarted     Type = "session_started"
	TypeSessionPaused      Type = "session_paused"
	TypeSessionResumed     Type = "session_resumed"
	TypeSessionEnded       Type = "session_ended"
	TypeQuestion           Type = "question"
	TypeAnswerCorrect      Type = "answer_correct"
	TypeAnswerWrong        Type = "answer_wrong"
	TypeLeaderboardUpdate  Type = "leaderboard_update"
	TypePlayerScoreUpdate  Type = "player_score_update"
	TypeLiveEvent          Type = "live_event"
	TypePing               Type = "ping"
	TypeError              Type = "error"
)

// Envelope carries the type tag shared by every message.
type Envelope struct {
	Type Type `json:"type"`
}

// MessageType returns the envelope's type tag.
func (e Envelope) MessageType() Type {
	return e.Type
}

// MessageTypeOf extracts the type tag from any decoded message.
func MessageTypeOf(msg any) Type {
	if m, ok := msg.(interface{ MessageType() Type }); ok {
		return m.MessageType()
	}
	return ""
}

// Roles accepted in an init frame.
const (
	RoleHost   = "host"
	RolePlayer = "player"
)

// --- Client to server ---

// Init must be the first frame after the socket opens: it authenticates the
// connection as the session host or as a joined player.
type Init struct {
	Envelope
	Role     string `json:"role"`
	Token    string `json:"token"`
	PlayerID string `json:"player_id,omitempty"`
}

// Death reports an avatar death with the run score accumulated since the
// last respawn. Metadata is opaque to the server.
type Death struct {
	Envelope
	Score    int             `json:"score"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// Answer responds to the pending question.
type Answer struct {
	Envelope
	QuestionID  string `json:"question_id"`
	AnswerIndex int    `json:"answer_index"`
	TimeMS      int64  `json:"time_ms"`
}

// ScoreUpdate streams the live in-run score for the host view. Informational
// only; it never changes the banked total.
type ScoreUpdate struct {
	Envelope
	Score int `json:"score"`
}

// SpecialEvent is an opaque in-game moment forwarded to the host.
type SpecialEvent struct {
	Envelope
	Event string `json:"event"`
}

// Host lifecycle commands carry no payload beyond the tag.
type StartSession struct{ Envelope }
type PauseSession struct{ Envelope }
type ResumeSession struct{ Envelope }
type EndSession struct{ Envelope }

// Pong answers a server ping; T echoes the ping timestamp.
type Pong struct {
	Envelope
	T int64 `json:"t"`
}

// --- Server to client ---

// PlayerSummary is the per-player block embedded in snapshots.
type PlayerSummary struct {
	PlayerID          string  `json:"player_id"`
	DisplayName       string  `json:"display_name"`
	IsTeacher         bool    `json:"is_teacher,omitempty"`
	Connected         bool    `json:"connected"`
	TotalScore        int     `json:"total_score"`
	CurrentStreak     int     `json:"current_streak"`
	BestStreak        int     `json:"best_streak"`
	StreakMultiplier  float64 `json:"streak_multiplier"`
	ComebackCredits   int     `json:"comeback_credits"`
	QuestionsAnswered int     `json:"questions_answered"`
	QuestionsCorrect  int     `json:"questions_correct"`
}

// HostState is the full snapshot sent to a host on attach.
type HostState struct {
	Envelope
	Code             string                    `json:"code"`
	Status           string                    `json:"status"`
	GameType         string                    `json:"game_type"`
	TeacherMode      string                    `json:"teacher_mode"`
	TimeLimitSeconds int                       `json:"time_limit_seconds"`
	RemainingSeconds int                       `json:"remaining_seconds"`
	MaxPlayers       int                       `json:"max_players"`
	Players          []PlayerSummary           `json:"players"`
	Leaderboard      []arcade.LeaderboardEntry `json:"leaderboard"`
}

// QuestionPayload is a question as players see it. The correct index never
// appears here.
type QuestionPayload struct {
	QuestionID string   `json:"question_id"`
	Text       string   `json:"text"`
	Options    []string `json:"options"`
}

// PlayerState is the full snapshot sent to a player on attach or reconnect.
// Question re-sends the pending question when one is open.
type PlayerState struct {
	Envelope
	Status             string           `json:"status"`
	GameType           string           `json:"game_type"`
	RemainingSeconds   int              `json:"remaining_seconds"`
	Player             PlayerSummary    `json:"player"`
	Question           *QuestionPayload `json:"question,omitempty"`
	ComebackStartScore int              `json:"comeback_start_score"`
}

// PlayerConnected tells the host a player joined or reattached.
type PlayerConnected struct {
	Envelope
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name"`
	IsTeacher   bool   `json:"is_teacher,omitempty"`
	Connected   bool   `json:"connected"`
	PlayerCount int    `json:"player_count"`
}

// PlayerDisconnected tells the host a player's socket dropped. State is
// preserved; the player may reconnect.
type PlayerDisconnected struct {
	Envelope
	PlayerID string    `json:"player_id"`
	Reason   ErrorCode `json:"reason,omitempty"`
}

type SessionStarted struct {
	Envelope
	GameType         string `json:"game_type"`
	TimeLimitSeconds int    `json:"time_limit_seconds"`
}

type SessionPaused struct {
	Envelope
	RemainingSeconds int `json:"remaining_seconds"`
}

type SessionResumed struct {
	Envelope
	RemainingSeconds int `json:"remaining_seconds"`
}

type SessionEnded struct {
	Envelope
	Reason           string                    `json:"reason"`
	FinalLeaderboard []arcade.LeaderboardEntry `json:"final_leaderboard"`
	Awards           []arcade.Award            `json:"awards"`
}

// QuestionMessage serves the question gating a respawn.
type QuestionMessage struct {
	Envelope
	QuestionPayload
}

// AnswerCorrect credits the pending run and reports the new scoring state.
type AnswerCorrect struct {
	Envelope
	QuestionID         string  `json:"question_id"`
	BonusEarned        int     `json:"bonus_earned"`
	TotalScore         int     `json:"total_score"`
	CurrentStreak      int     `json:"current_streak"`
	StreakMultiplier   float64 `json:"streak_multiplier"`
	ComebackCredits    int     `json:"comeback_credits"`
	ComebackStartScore int     `json:"comeback_start_score"`
	Respawn            bool    `json:"respawn"`
}

// AnswerWrong forfeits the pending run and reveals the correct option.
type AnswerWrong struct {
	Envelope
	QuestionID         string  `json:"question_id"`
	CorrectIndex       int     `json:"correct_index"`
	TotalScore         int     `json:"total_score"`
	CurrentStreak      int     `json:"current_streak"`
	StreakMultiplier   float64 `json:"streak_multiplier"`
	ComebackCredits    int     `json:"comeback_credits"`
	ComebackStartScore int     `json:"comeback_start_score"`
	Respawn            bool    `json:"respawn"`
}

// LeaderboardUpdate carries the full board to hosts; players get the top
// five plus their own rank and score. The your_* fields are absent on host
// frames.
type LeaderboardUpdate struct {
	Envelope
	Entries   []arcade.LeaderboardEntry `json:"entries"`
	YourRank  *int                      `json:"your_rank,omitempty"`
	YourScore *int                      `json:"your_score,omitempty"`
}

type PlayerScoreUpdate struct {
	Envelope
	PlayerID string `json:"player_id"`
	Score    int    `json:"score"`
}

type LiveEvent struct {
	Envelope
	PlayerID string `json:"player_id"`
	Event    string `json:"event"`
}

// Ping carries the server's send time in unix milliseconds.
type Ping struct {
	Envelope
	T int64 `json:"t"`
}

type ErrorMessage struct {
	Envelope
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}
