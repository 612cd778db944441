// Package realtime implements the broadcast relay: a WebSocket fan-out of
// change notifications to topic subscribers, with a join/leave protocol
// and client heartbeats.
package realtime

import (
	"encoding/json"
	"fmt"
)

// Protocol events.
const (
	EventJoin      = "phx_join"
	EventLeave     = "phx_leave"
	EventReply     = "phx_reply"
	EventHeartbeat = "heartbeat"
	EventError     = "phx_error"
)

// HeartbeatTopic is the reserved topic heartbeats arrive on.
const HeartbeatTopic = "phoenix"

// Message is one protocol frame. On the wire it is a 5-element JSON array
// [join_ref, ref, topic, event, payload]; join_ref and ref are null for
// server-initiated pushes.
type Message struct {
	JoinRef string
	Ref     string
	Topic   string
	Event   string
	Payload json.RawMessage
}

// MarshalJSON encodes the frame as the positional array form.
func (m Message) MarshalJSON() ([]byte, error) {
	payload := m.Payload
	if payload == nil {
		payload = json.RawMessage("{}")
	}
	arr := [5]any{nullableRef(m.JoinRef), nullableRef(m.Ref), m.Topic, m.Event, payload}
	return json.Marshal(arr)
}

// UnmarshalJSON decodes the positional array form.
func (m *Message) UnmarshalJSON(data []byte) error {
	var arr [5]json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("frame is not a 5-element array: %w", err)
	}

	if err := decodeRef(arr[0], &m.JoinRef); err != nil {
		return fmt.Errorf("join_ref: %w", err)
	}
	if err := decodeRef(arr[1], &m.Ref); err != nil {
		return fmt.Errorf("ref: %w", err)
	}
	if err := json.Unmarshal(arr[2], &m.Topic); err != nil {
		return fmt.Errorf("topic: %w", err)
	}
	if err := json.Unmarshal(arr[3], &m.Event); err != nil {
		return fmt.Errorf("event: %w", err)
	}
	m.Payload = arr[4]
	return nil
}

func nullableRef(ref string) any {
	if ref == "" {
		return nil
	}
	return ref
}

func decodeRef(data json.RawMessage, out *string) error {
	if string(data) == "null" {
		*out = ""
		return nil
	}
	return json.Unmarshal(data, out)
}

// ReplyPayload is the payload of a phx_reply frame.
type ReplyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// reply builds a phx_reply for an inbound frame.
func reply(in *Message, status string, response any) (*Message, error) {
	resp, err := json.Marshal(response)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(ReplyPayload{Status: status, Response: resp})
	if err != nil {
		return nil, err
	}
	return &Message{
		JoinRef: in.JoinRef,
		Ref:     in.Ref,
		Topic:   in.Topic,
		Event:   EventReply,
		Payload: payload,
	}, nil
}

func okReply(in *Message) *Message {
	m, _ := reply(in, "ok", map[string]any{})
	return m
}

func errorReply(in *Message, reason string) *Message {
	m, _ := reply(in, "error", map[string]any{"reason": reason})
	return m
}
