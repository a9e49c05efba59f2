// Package streamhub implements the Background job streaming component:
// a small loopback WebSocket hub that lets multiple local readers (the
// orchestrator's own `run --stream` flag, a detached job's log tail)
// watch one Interpreter Session's live output without re-running it.
// Grounded on the client registry and broadcast loop in
// spreadsheet/server.go.
package streamhub

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"cellwright/kernelsession"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // loopback only; every reader is local
	},
}

// Chunk is one broadcast unit: a StreamChunk tagged with the notebook
// cell index it came from.
type Chunk struct {
	Cell   int    `json:"cell"`
	Stream string `json:"stream"`
	Text   string `json:"text"`
}

// Hub fans a single Interpreter Session's live output out to every
// connected local reader.
type Hub struct {
	log     *zap.Logger
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// New returns an empty Hub with no connected readers.
func New(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{log: log, clients: make(map[*websocket.Conn]bool)}
}

// HandleWebSocket upgrades the request and registers the connection as
// a reader until it disconnects or the hub fails to write to it.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("stream upgrade failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	// Readers never send anything; block on reads so this goroutine
	// lives exactly as long as the client connection does.
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

// Broadcast sends chunk to every connected reader, dropping any
// connection that errors.
func (h *Hub) Broadcast(chunk Chunk) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteJSON(chunk); err != nil {
			h.log.Warn("stream write failed, dropping client", zap.Error(err))
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

// OnChunk adapts a cell index into a kernelsession.StreamChunk callback
// that broadcasts through this hub — the hook orchestrator.Run wires
// into Session.ExecuteStreaming when a Hub is attached.
func (h *Hub) OnChunk(cell int) func(kernelsession.StreamChunk) {
	return func(sc kernelsession.StreamChunk) {
		h.Broadcast(Chunk{Cell: cell, Stream: sc.Stream, Text: sc.Text})
	}
}

// ClientCount reports how many readers are currently connected.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ListenAndServe starts a loopback HTTP server exposing /stream, for a
// `run --stream` invocation or a detached job's log tail to connect to.
func (h *Hub) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", h.HandleWebSocket)
	srv := &http.Server{Addr: addr, Handler: mux}
	return srv.ListenAndServe()
}
