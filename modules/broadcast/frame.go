package broadcast

import "encoding/json"

// Frame types on the socket.
const (
	FrameEvent = "event"
	FrameAck   = "ack"
	FrameError = "error"
)

// Frame is the envelope of every server-to-client socket message.
type Frame struct {
	Type  string      `json:"type"`
	ID    string      `json:"id,omitempty"`
	Event string      `json:"event,omitempty"`
	Data  any         `json:"data,omitempty"`
	Error *FrameIssue `json:"error,omitempty"`
}

// FrameIssue describes a failed request in an ack frame.
type FrameIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EncodeEvent encodes a server-initiated event frame.
func EncodeEvent(event string, payload any) ([]byte, error) {
	return json.Marshal(Frame{Type: FrameEvent, Event: event, Data: payload})
}
