package models

import "encoding/json"

// Frame types exchanged over a relay session. The client sends "auth" once,
// then "chat" frames; the server answers each chat with zero or more "chunk"
// frames followed by exactly one "done" frame, or an "error" frame.
const (
	FrameAuth  = "auth"
	FrameChat  = "chat"
	FrameChunk = "chunk"
	FrameDone  = "done"
	FrameError = "error"
)

// ClientFrame is a message received from a relay client.
type ClientFrame struct {
	Type    string          `json:"type"`
	APIKey  string          `json:"api_key,omitempty"`
	Request json.RawMessage `json:"request,omitempty"`
}

// ServerFrame is a message sent to a relay client.
type ServerFrame struct {
	Type  string       `json:"type"`
	Data  *StreamChunk `json:"data,omitempty"`
	Error *FrameFault  `json:"error,omitempty"`
}

// FrameFault is the error payload of an "error" frame.
type FrameFault struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	RetryAfter int64  `json:"retry_after_seconds,omitempty"`
}
