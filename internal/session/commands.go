package session

import (
	"time"

	"github.com/reviewarcade/server/internal/protocol"
	"github.com/reviewarcade/server/internal/store"
)

// Commands posted to a session's inbox. REST-initiated commands carry a
// reply channel sized one so the actor never blocks on a gone caller.

type cmdJoin struct {
	name      string
	isTeacher bool
	teacherID string
	reply     chan joinReply
}

type joinReply struct {
	player JoinedPlayer
	err    *protocol.WireError
}

// JoinedPlayer is the REST join response.
type JoinedPlayer struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	SessionCode string    `json:"session_code"`
	PlayerToken string    `json:"player_token"`
	IsTeacher   bool      `json:"is_teacher"`
	JoinedAt    time.Time `json:"joined_at"`
}

type cmdPreview struct {
	reply chan Preview
}

// Preview is the public, tokenless view of a session.
type Preview struct {
	Code             string `json:"code"`
	Status           string `json:"status"`
	GameType         string `json:"game_type"`
	TeacherMode      string `json:"teacher_mode"`
	TimeLimitSeconds int    `json:"time_limit_seconds"`
	PlayerCount      int    `json:"player_count"`
	MaxPlayers       int    `json:"max_players"`
}

type cmdSnapshot struct {
	reply chan *store.SessionResults
}

type cmdAttachHost struct {
	conn      *Conn
	teacherID string
	reply     chan *protocol.WireError
}

type cmdAttachPlayer struct {
	conn     *Conn
	token    string
	playerID string
	reply    chan *protocol.WireError
}

type cmdClient struct {
	conn *Conn
	msg  any
}

type cmdDisconnect struct {
	conn   *Conn
	reason protocol.ErrorCode
}

type cmdEnd struct {
	reason    string
	immediate bool
}
