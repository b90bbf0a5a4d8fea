package server

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/CosmoTheDev/scangate/models"
)

// subscriber is one open GET /events connection. A non-empty runID narrows
// the stream to that run's lifecycle.
type subscriber struct {
	ch    chan []byte
	runID string
}

// Broadcaster fans run lifecycle and gate events out to all active
// GET /events subscribers. Slow clients are skipped (non-blocking channel
// send with per-client buffer).
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

func newBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[*subscriber]struct{})}
}

// subscribe registers a connection, optionally filtered to one run. The
// caller must call unsubscribe when the HTTP connection closes.
func (b *Broadcaster) subscribe(runID string) *subscriber {
	sub := &subscriber{ch: make(chan []byte, 32), runID: runID}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *Broadcaster) unsubscribe(sub *subscriber) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// send stamps the run id onto run-carrying events and fans the frame to
// every subscriber whose filter matches.
func (b *Broadcaster) send(evt SSEEvent) {
	if run, ok := evt.Payload.(*models.SecurityRun); ok && run != nil {
		evt.RunID = run.RunID
	}
	frame, err := sseFrame(evt)
	if err != nil {
		slog.Warn("server: failed to marshal SSE event", "type", evt.Type, "error", err)
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if sub.runID != "" && sub.runID != evt.RunID {
			continue
		}
		select {
		case sub.ch <- frame:
		default:
			// slow subscriber, skip this frame
		}
	}
}

// sseFrame serialises evt into a named SSE frame:
// "event: <type>\ndata: <json>\n\n".
func sseFrame(evt SSEEvent) ([]byte, error) {
	raw, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	frame := []byte("event: ")
	frame = append(frame, evt.Type...)
	frame = append(frame, "\ndata: "...)
	frame = append(frame, raw...)
	frame = append(frame, '\n', '\n')
	return frame, nil
}
