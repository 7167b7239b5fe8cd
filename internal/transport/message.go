package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Message is the relayer wire envelope.
type Message struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

var errUntyped = errors.New("message has neither type nor id")

// ParseMessage decodes one inbound frame.
func ParseMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("transport: decode message: %w", err)
	}
	if m.Type == "" && m.ID == "" {
		return Message{}, fmt.Errorf("transport: decode message: %w", errUntyped)
	}
	return m, nil
}

// CorrelationID returns the envelope id, falling back to payload.id.
func (m Message) CorrelationID() string {
	if m.ID != "" {
		return m.ID
	}
	if len(m.Payload) == 0 {
		return ""
	}
	var body struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(m.Payload, &body); err != nil || len(body.ID) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(body.ID, &s); err == nil {
		return s
	}
	raw := strings.TrimSpace(string(body.ID))
	if raw == "null" {
		return ""
	}
	return raw
}

// NewMessage builds an envelope with payload marshaled to JSON.
func NewMessage(msgType string, payload any) (Message, error) {
	m := Message{Type: msgType}
	if payload == nil {
		return m, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("transport: encode %s payload: %w", msgType, err)
	}
	m.Payload = raw
	return m, nil
}

// withPayloadID stamps id into a JSON object payload. Non-object payloads are
// returned unchanged; the envelope id still carries the correlation.
func withPayloadID(payload json.RawMessage, id string) json.RawMessage {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return payload
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return payload
	}
	idRaw, _ := json.Marshal(id)
	fields["id"] = idRaw
	out, err := json.Marshal(fields)
	if err != nil {
		return payload
	}
	return out
}
