package protocol

import "net/http"

// ErrorCode is the closed vocabulary of error kinds surfaced to clients,
// on the socket as error{code,message} frames and on REST as HTTP statuses.
type ErrorCode string

const (
	ErrAuthRequired     ErrorCode = "auth_required"
	ErrAuthInvalid      ErrorCode = "auth_invalid"
	ErrNotFound         ErrorCode = "not_found"
	ErrForbidden        ErrorCode = "forbidden"
	ErrFull             ErrorCode = "full"
	ErrNotAccepting     ErrorCode = "not_accepting"
	ErrBadMessage       ErrorCode = "bad_message"
	ErrPendingQuestion  ErrorCode = "pending_question"
	ErrExpired          ErrorCode = "expired"
	ErrSlowConsumer     ErrorCode = "slow_consumer"
	ErrHeartbeatTimeout ErrorCode = "heartbeat_timeout"
	ErrInternal         ErrorCode = "internal"
)

// HTTPStatus maps an error code to the REST status it travels as.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ErrBadMessage:
		return http.StatusBadRequest
	case ErrAuthRequired, ErrAuthInvalid:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrFull, ErrNotAccepting:
		return http.StatusConflict
	case ErrExpired:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// WireError is an error addressed to one client. It renders as an
// error{code,message} frame on a socket or a {detail} body over REST.
type WireError struct {
	Code    ErrorCode
	Message string
}

func (e *WireError) Error() string {
	return string(e.Code) + ": " + e.Message
}

// NewError builds a WireError with an explicit code.
func NewError(code ErrorCode, message string) *WireError {
	return &WireError{Code: code, Message: message}
}

// BadMessage builds the codec's rejection error.
func BadMessage(message string) *WireError {
	return &WireError{Code: ErrBadMessage, Message: message}
}

// Frame renders the error as an outbound error message.
func (e *WireError) Frame() ErrorMessage {
	return ErrorMessage{
		Envelope: Envelope{Type: TypeError},
		Code:     e.Code,
		Message:  e.Message,
	}
}
