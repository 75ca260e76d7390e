package testutils

import (
	"encoding/json"
	"sync"
)

// Frame is a decoded outbound frame.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Field returns a top-level string field of the frame data.
func (f Frame) Field(name string) string {
	var m map[string]any
	_ = json.Unmarshal(f.Data, &m)
	s, _ := m[name].(string)
	return s
}

// RecordingHandle is a session handle that keeps every pushed frame.
type RecordingHandle struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

// Push records frame. A closed handle refuses it.
func (h *RecordingHandle) Push(frame []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.frames = append(h.frames, append([]byte(nil), frame...))
	return true
}

// Close makes further pushes fail.
func (h *RecordingHandle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
}

// Frames decodes everything pushed so far.
func (h *RecordingHandle) Frames() []Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Frame, 0, len(h.frames))
	for _, raw := range h.frames {
		var f Frame
		if err := json.Unmarshal(raw, &f); err == nil {
			out = append(out, f)
		}
	}
	return out
}

// OfType returns the frames of one type.
func (h *RecordingHandle) OfType(typ string) []Frame {
	var out []Frame
	for _, f := range h.Frames() {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}
