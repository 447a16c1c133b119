package protocol

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/reviewarcade/server/internal/arcade"
)

const (
	// MaxFrameBytes bounds a single frame in either direction.
	MaxFrameBytes = 64 * 1024

	// MaxScoreValue bounds run and live scores per message.
	MaxScoreValue = 1_000_000

	// MaxAnswerTimeMS bounds the reported answer time.
	MaxAnswerTimeMS = 600_000

	// MaxEventBytes bounds a special_event payload.
	MaxEventBytes = 64
)

var clientTypes = map[Type]struct{}{
	TypeInit: {}, TypeDeath: {}, TypeAnswer: {}, TypeScoreUpdate: {},
	TypeSpecialEvent: {}, TypeStartSession: {}, TypePauseSession: {},
	TypeResumeSession: {}, TypeEndSession: {}, TypePong: {},
}

var serverTypes = map[Type]struct{}{
	TypeHostState: {}, TypePlayerState: {}, TypePlayerConnected: {},
	TypePlayerDisconnected: {}, TypeSessionStarted: {}, TypeSessionPaused: {},
	TypeSessionResumed: {}, TypeSessionEnded: {}, TypeQuestion: {},
	TypeAnswerCorrect: {}, TypeAnswerWrong: {}, TypeLeaderboardUpdate: {},
	TypePlayerScoreUpdate: {}, TypeLiveEvent: {}, TypePing: {}, TypeError: {},
}

// Encode marshals an outbound message. The message's Envelope must carry its
// type tag.
func Encode(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

// MustEncode is Encode for messages built from static structs, where a
// marshal failure is a programming error.
func MustEncode(msg any) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		panic(fmt.Sprintf("protocol: encode %T: %v", msg, err))
	}
	return data
}

func decodeEnvelope(data []byte) (Envelope, *WireError) {
	if len(data) > MaxFrameBytes {
		return Envelope{}, BadMessage(fmt.Sprintf("frame of %d bytes exceeds %d byte limit", len(data), MaxFrameBytes))
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, BadMessage("malformed JSON")
	}
	if env.Type == "" {
		return Envelope{}, BadMessage("missing type")
	}
	return env, nil
}

func unmarshalInto(data []byte, v any) *WireError {
	if err := json.Unmarshal(data, v); err != nil {
		return BadMessage(fmt.Sprintf("invalid %T payload", v))
	}
	return nil
}

// DecodeClient parses a frame arriving from a client. It enforces direction:
// server-to-client tags are rejected. The result is one of the client message
// pointer types.
func DecodeClient(data []byte) (any, *WireError) {
	env, werr := decodeEnvelope(data)
	if werr != nil {
		return nil, werr
	}

	switch env.Type {
	case TypeInit:
		msg := &Init{}
		if werr := unmarshalInto(data, msg); werr != nil {
			return nil, werr
		}
		if msg.Role != RoleHost && msg.Role != RolePlayer {
			return nil, BadMessage(fmt.Sprintf("init: role must be %q or %q", RoleHost, RolePlayer))
		}
		if msg.Token == "" {
			return nil, BadMessage("init: token is required")
		}
		return msg, nil

	case TypeDeath:
		msg := &Death{}
		if werr := unmarshalInto(data, msg); werr != nil {
			return nil, werr
		}
		if msg.Score < 0 || msg.Score > MaxScoreValue {
			return nil, BadMessage(fmt.Sprintf("death: score %d out of range", msg.Score))
		}
		return msg, nil

	case TypeAnswer:
		var wire struct {
			QuestionID  string `json:"question_id"`
			AnswerIndex *int   `json:"answer_index"`
			TimeMS      *int64 `json:"time_ms"`
		}
		if werr := unmarshalInto(data, &wire); werr != nil {
			return nil, werr
		}
		if wire.QuestionID == "" {
			return nil, BadMessage("answer: question_id is required")
		}
		if wire.AnswerIndex == nil {
			return nil, BadMessage("answer: answer_index is required")
		}
		if *wire.AnswerIndex < 0 || *wire.AnswerIndex >= arcade.OptionCount {
			return nil, BadMessage(fmt.Sprintf("answer: answer_index %d out of range", *wire.AnswerIndex))
		}
		if wire.TimeMS == nil {
			return nil, BadMessage("answer: time_ms is required")
		}
		if *wire.TimeMS < 0 || *wire.TimeMS > MaxAnswerTimeMS {
			return nil, BadMessage(fmt.Sprintf("answer: time_ms %d out of range", *wire.TimeMS))
		}
		return &Answer{
			Envelope:    env,
			QuestionID:  wire.QuestionID,
			AnswerIndex: *wire.AnswerIndex,
			TimeMS:      *wire.TimeMS,
		}, nil

	case TypeScoreUpdate:
		msg := &ScoreUpdate{}
		if werr := unmarshalInto(data, msg); werr != nil {
			return nil, werr
		}
		if msg.Score < 0 || msg.Score > MaxScoreValue {
			return nil, BadMessage(fmt.Sprintf("score_update: score %d out of range", msg.Score))
		}
		return msg, nil

	case TypeSpecialEvent:
		msg := &SpecialEvent{}
		if werr := unmarshalInto(data, msg); werr != nil {
			return nil, werr
		}
		if msg.Event == "" {
			return nil, BadMessage("special_event: event is required")
		}
		if len(msg.Event) > MaxEventBytes {
			return nil, BadMessage("special_event: event too long")
		}
		if !utf8.ValidString(msg.Event) {
			return nil, BadMessage("special_event: event is not valid UTF-8")
		}
		return msg, nil

	case TypeStartSession:
		return &StartSession{Envelope: env}, nil
	case TypePauseSession:
		return &PauseSession{Envelope: env}, nil
	case TypeResumeSession:
		return &ResumeSession{Envelope: env}, nil
	case TypeEndSession:
		return &EndSession{Envelope: env}, nil

	case TypePong:
		msg := &Pong{}
		if werr := unmarshalInto(data, msg); werr != nil {
			return nil, werr
		}
		return msg, nil
	}

	if _, server := serverTypes[env.Type]; server {
		return nil, BadMessage(fmt.Sprintf("type %q is not a client message", env.Type))
	}
	return nil, BadMessage(fmt.Sprintf("unknown type %q", env.Type))
}

// DecodeServer parses a frame arriving from the server. Used by client-side
// tooling and tests; the direction check mirrors DecodeClient.
func DecodeServer(data []byte) (any, *WireError) {
	env, werr := decodeEnvelope(data)
	if werr != nil {
		return nil, werr
	}

	var msg any
	switch env.Type {
	case TypeHostState:
		msg = &HostState{}
	case TypePlayerState:
		msg = &PlayerState{}
	case TypePlayerConnected:
		msg = &PlayerConnected{}
	case TypePlayerDisconnected:
		msg = &PlayerDisconnected{}
	case TypeSessionStarted:
		msg = &SessionStarted{}
	case TypeSessionPaused:
		msg = &SessionPaused{}
	case TypeSessionResumed:
		msg = &SessionResumed{}
	case TypeSessionEnded:
		msg = &SessionEnded{}
	case TypeQuestion:
		msg = &QuestionMessage{}
	case TypeAnswerCorrect:
		msg = &AnswerCorrect{}
	case TypeAnswerWrong:
		msg = &AnswerWrong{}
	case TypeLeaderboardUpdate:
		msg = &LeaderboardUpdate{}
	case TypePlayerScoreUpdate:
		msg = &PlayerScoreUpdate{}
	case TypeLiveEvent:
		msg = &LiveEvent{}
	case TypePing:
		msg = &Ping{}
	case TypeError:
		msg = &ErrorMessage{}
	default:
		if _, client := clientTypes[env.Type]; client {
			return nil, BadMessage(fmt.Sprintf("type %q is not a server message", env.Type))
		}
		return nil, BadMessage(fmt.Sprintf("unknown type %q", env.Type))
	}

	if werr := unmarshalInto(data, msg); werr != nil {
		return nil, werr
	}
	return msg, nil
}
