// Package listener maintains the persistent LISTEN connection and fans
// change notifications out to function dispatch and the broadcast relay.
package listener

import (
	"encoding/json"
	"strings"
)

// Notification is one decoded change notification.
type Notification struct {
	// Channel is the NOTIFY channel the payload arrived on.
	Channel string `json:"channel"`
	// Event is the row operation, lowercased: insert, update, delete.
	// Empty when the payload could not be decoded.
	Event string `json:"event,omitempty"`
	// Table is the mutated table.
	Table string `json:"table,omitempty"`
	// New is the row snapshot after the change, nil for deletes.
	New map[string]any `json:"new,omitempty"`
	// Old is the row snapshot before the change, nil for inserts.
	Old map[string]any `json:"old,omitempty"`
	// Raw carries the original payload when decoding failed, so a
	// malformed notification is still forwarded rather than dropped.
	Raw string `json:"raw,omitempty"`
}

// changePayload is the JSON document the database-side notify function
// emits.
type changePayload struct {
	Event string         `json:"event"`
	Table string         `json:"table"`
	New   map[string]any `json:"new"`
	Old   map[string]any `json:"old"`
}

// Decode builds a Notification from a raw NOTIFY payload. A payload that
// is not the expected JSON document comes back with only Channel and Raw
// set.
func Decode(channel, payload string) *Notification {
	var p changePayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil || p.Event == "" {
		return &Notification{Channel: channel, Raw: payload}
	}
	return &Notification{
		Channel: channel,
		Event:   strings.ToLower(p.Event),
		Table:   p.Table,
		New:     p.New,
		Old:     p.Old,
	}
}

// Decoded reports whether the payload parsed as a change document.
func (n *Notification) Decoded() bool {
	return n.Event != ""
}

// Payload returns the notification as a broadcast-ready map.
func (n *Notification) Payload() map[string]any {
	if !n.Decoded() {
		return map[string]any{"raw": n.Raw}
	}
	return map[string]any{
		"event": n.Event,
		"table": n.Table,
		"new":   n.New,
		"old":   n.Old,
	}
}
