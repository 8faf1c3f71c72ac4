// Package wsrouter implements the three WebSocket accept paths and the
// per-connection message loop: authentication, registration, and
// dispatch by message type, grounded on device/handlers.go's
// Alice-middleware style and on original_source/app/routers/websocket.py
// for the dispatch table itself.
package wsrouter

import (
	"encoding/json"
	"time"
)

// Frame is one inbound or outbound JSON message. The wire format has no
// fixed schema — messages are discriminated by a "type" field, with
// "event" and "command" as fallback discriminators — so a frame is
// modeled as a tagged variant over a generic map rather than a closed
// set of structs, per SPEC_FULL.md §9's "polymorphism over message
// shape" note.
type Frame map[string]any

// ParseFrame decodes one inbound text frame. A frame that fails to
// decode as a JSON object returns an error; callers log and skip it
// rather than tearing down the connection.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return f, nil
}

// Tag returns the message's discriminator: its "type" field if present,
// else "event", else "command", else "".
func (f Frame) Tag() string {
	if t, ok := f.str("type"); ok {
		return t
	}
	if _, ok := f["event"]; ok {
		return "event"
	}
	if _, ok := f["command"]; ok {
		return "command"
	}
	return ""
}

func (f Frame) str(key string) (string, bool) {
	v, ok := f[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// StringField reads a string field, returning "" if absent or of the
// wrong type.
func (f Frame) StringField(key string) string {
	s, _ := f.str(key)
	return s
}

// HasField reports whether key is present, regardless of its type or
// zero-ness — used for fields like "event"/"command" whose mere
// presence is the discriminator.
func (f Frame) HasField(key string) bool {
	_, ok := f[key]
	return ok
}

// StampDeviceID sets "device_id" if it is absent, never overwriting an
// existing value.
func (f Frame) StampDeviceID(deviceID string) {
	if !f.HasField("device_id") {
		f["device_id"] = deviceID
	}
}

// StampTimestamp sets "timestamp" to the current time (RFC3339 UTC) if
// it is absent. Always-stamp-if-absent resolves the Open Question in
// the original source's inconsistent stamping.
func (f Frame) StampTimestamp(now time.Time) {
	if !f.HasField("timestamp") {
		f["timestamp"] = now.UTC().Format(time.RFC3339)
	}
}

// Strip removes routing fields before forwarding a command to a robot.
func (f Frame) Strip(keys ...string) {
	for _, k := range keys {
		delete(f, k)
	}
}

// Clone returns a shallow copy, used when the same inbound frame must
// be forwarded to a peer without routing fields leaking back into the
// sender's own view of it.
func (f Frame) Clone() Frame {
	out := make(Frame, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// ErrorFrame builds the canonical inline error shape:
// {type: "error", code: <code>, message: <message>}, plus any extra
// fields (e.g. restating count/window on RATE_LIMITED).
func ErrorFrame(code, message string, extra map[string]any) Frame {
	f := Frame{
		"type":    "error",
		"code":    code,
		"message": message,
	}
	for k, v := range extra {
		f[k] = v
	}
	return f
}
