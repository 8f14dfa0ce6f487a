// Package broadcast pushes job-change events to connected websocket
// clients. Delivery is best-effort: a slow or dead client is dropped, and
// notifying never blocks the caller.
package broadcast

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

const writeTimeout = 5 * time.Second

// Hub fans job-change events out to websocket subscribers.
type Hub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[*websocket.Conn]struct{})}
}

// Handler returns the websocket endpoint clients subscribe through.
func (h *Hub) Handler() http.Handler {
	return websocket.Handler(h.serve)
}

func (h *Hub) serve(ws *websocket.Conn) {
	h.mu.Lock()
	h.conns[ws] = struct{}{}
	n := len(h.conns)
	h.mu.Unlock()
	slog.Debug("broadcast: client connected", "clients", n)

	// Drain (and discard) client frames until the connection closes.
	for {
		var discard string
		if err := websocket.Message.Receive(ws, &discard); err != nil {
			break
		}
	}

	h.drop(ws)
}

func (h *Hub) drop(ws *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, ws)
	h.mu.Unlock()
	ws.Close()
}

// NotifyJobChanged announces that a job record changed. It returns
// immediately; sends happen on a separate goroutine and failed clients are
// dropped.
func (h *Hub) NotifyJobChanged(jobID string) {
	payload, err := json.Marshal(map[string]string{
		"type":   "job_changed",
		"job_id": jobID,
	})
	if err != nil {
		slog.Error("broadcast: marshaling event", "error", err)
		return
	}

	h.mu.Lock()
	targets := make([]*websocket.Conn, 0, len(h.conns))
	for ws := range h.conns {
		targets = append(targets, ws)
	}
	h.mu.Unlock()

	go func() {
		for _, ws := range targets {
			ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := websocket.Message.Send(ws, string(payload)); err != nil {
				if err != io.EOF {
					slog.Debug("broadcast: dropping client", "error", err)
				}
				h.drop(ws)
			}
		}
	}()
}

// ClientCount reports the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}
