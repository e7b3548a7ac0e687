package gateway

import "encoding/json"

// FrameType identifies the kind of frame sent over the WebSocket connection.
type FrameType string

const (
	// Client to server.
	FrameTypeConnect FrameType = "connect"
	FrameTypeMessage FrameType = "message"
	FrameTypeClear   FrameType = "clear"

	// Server to client.
	FrameTypeConnected  FrameType = "connected"
	FrameTypeProcessing FrameType = "processing"
	FrameTypeResponse   FrameType = "response"
	FrameTypeEvent      FrameType = "event"
	FrameTypeError      FrameType = "error"
)

// Frame is the envelope exchanged between client and server over WebSocket.
// Every message or clear frame gets exactly one response or error frame
// carrying the same correlation ID.
type Frame struct {
	Type               FrameType       `json:"type"`
	ID                 uint64          `json:"id,omitempty"`      // request/response correlation ID
	Text               string          `json:"text,omitempty"`    // user message or assistant reply
	AgentID            string          `json:"agent,omitempty"`   // responding agent (response only)
	AwaitingParameters bool            `json:"awaiting_parameters,omitempty"`
	Error              string          `json:"error,omitempty"`     // error description (error only)
	Code               string          `json:"code,omitempty"`      // stable error code (error only)
	Payload            json.RawMessage `json:"payload,omitempty"`   // event payload (event only)
	Timestamp          int64           `json:"timestamp,omitempty"` // unix seconds, set by the server
}
