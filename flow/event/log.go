package event

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// LogHandler writes each event as a line to w. Format is either a
// short human-readable text line or one JSON object per line.
//
// Register it on a Bus:
//
//	bus.Subscribe(event.All, event.NewLogHandler(os.Stderr, false).Handle)
type LogHandler struct {
	mu   sync.Mutex
	w    io.Writer
	json bool
}

// NewLogHandler creates a handler writing to w. When jsonLines is true
// every event is emitted as a single JSON object.
func NewLogHandler(w io.Writer, jsonLines bool) *LogHandler {
	return &LogHandler{w: w, json: jsonLines}
}

// Handle writes one event. Write failures are swallowed; a logging
// sink must never disturb the engine.
func (h *LogHandler) Handle(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.json {
		data, err := json.Marshal(e)
		if err != nil {
			return
		}
		_, _ = h.w.Write(append(data, '\n'))
		return
	}

	line := fmt.Sprintf("%s %s", e.Time.Format(time.RFC3339), e.Name)
	if e.ExecutionID != "" {
		line += " execution=" + e.ExecutionID
	}
	if e.NodeID != "" {
		line += " node=" + e.NodeID
	}
	_, _ = fmt.Fprintln(h.w, line)
}
