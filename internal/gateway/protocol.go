package gateway

import "encoding/json"

// Inbound frame types a session may send.
const (
	TypeJoinRoom  = "join-room"
	TypeLeaveRoom = "leave-room"
)

// Outbound frame types.
const (
	TypeEvent = "event"
	TypeAck   = "ack"
	TypeError = "error"
)

// Error codes carried in error frames.
const (
	CodeBadRequest       = "bad_request"
	CodeNotFound         = "not_found"
	CodeForbidden        = "forbidden"
	CodeUnsupportedEvent = "unsupported_event"
	CodeInternal         = "internal_error"
)

// Inbound is the client to server envelope.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Outbound is the server to client envelope. Event frames carry Event, Room
// and Data. Acks, and errors answering a room request, echo the inbound type
// in Event and the channel in Room.
type Outbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Room  string          `json:"room,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

type RoomPayload struct {
	ChannelID string `json:"channelId"`
}

type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Msg
}

func errorFrame(code, msg string) Outbound {
	return Outbound{Type: TypeError, Error: &Error{Code: code, Msg: msg}}
}
