package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Event names on the wire.
const (
	EventHandshake      = "handshake"
	EventHandshakeAck   = "handshake_ack"
	EventHandshakeError = "handshake_error"
	EventContentChanged = "content_changed"
	EventStoreChanged   = "store_changed"
)

// Scope sentinels carried by content_changed.
const (
	ScopeAll    = "*"
	ScopeColors = "__colors__"
	ScopeImages = "__images__"
)

// Frame is one JSON message: {"event": ..., "data": ...}.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// HandshakePayload proves the client knows the project secret.
// Binary fields are standard base64.
type HandshakePayload struct {
	ProjectID  string `json:"projectId"`
	IV         string `json:"iv"`
	Ciphertext string `json:"ciphertext"`
	AuthTag    string `json:"authTag"`
}

type handshakePlaintext struct {
	ProjectID string `json:"projectId"`
	Timestamp int64  `json:"timestamp"`
}

type contentChanged struct {
	Scope string `json:"scope"`
}

type storeChanged struct {
	APIIdentifier string `json:"apiIdentifier"`
}

type handshakeError struct {
	Message string `json:"message"`
}

// MalformedPayloadError is a frame missing required fields. It is logged
// and dropped; the connection stays up.
type MalformedPayloadError struct {
	Event  string
	Reason string
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("realtime: malformed %s payload: %s", e.Event, e.Reason)
}

func parseContentChanged(f Frame) (string, error) {
	var p contentChanged
	if len(f.Data) == 0 {
		return "", &MalformedPayloadError{Event: f.Event, Reason: "missing data"}
	}
	if err := json.Unmarshal(f.Data, &p); err != nil {
		return "", &MalformedPayloadError{Event: f.Event, Reason: err.Error()}
	}
	scope := strings.TrimSpace(p.Scope)
	if scope == "" {
		return "", &MalformedPayloadError{Event: f.Event, Reason: "missing scope"}
	}
	return scope, nil
}

func parseStoreChanged(f Frame) (string, error) {
	var p storeChanged
	if len(f.Data) == 0 {
		return "", &MalformedPayloadError{Event: f.Event, Reason: "missing data"}
	}
	if err := json.Unmarshal(f.Data, &p); err != nil {
		return "", &MalformedPayloadError{Event: f.Event, Reason: err.Error()}
	}
	id := strings.TrimSpace(p.APIIdentifier)
	if id == "" {
		return "", &MalformedPayloadError{Event: f.Event, Reason: "missing apiIdentifier"}
	}
	return id, nil
}

func handshakeErrorMessage(f Frame) string {
	var p handshakeError
	if len(f.Data) > 0 && json.Unmarshal(f.Data, &p) == nil && p.Message != "" {
		return p.Message
	}
	return "handshake rejected"
}
