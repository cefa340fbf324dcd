// Package progress streams sync progress to WebSocket clients.
//
// The daemon plugs Hub.Notify into the orchestrator's notifier so a desktop
// widget or browser can follow runs as they happen. Clients connect to /ws and
// receive JSON events; the last event is replayed to new clients.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/websocket"

	"github.com/gtdsync/gtdsync/internal/logging"
)

// EventType classifies hub events.
type EventType string

const (
	// EventProgress is a notifier milestone.
	EventProgress EventType = "progress"

	// EventResult is sent when a run completes successfully.
	EventResult EventType = "result"

	// EventError is sent when a run fails or is skipped.
	EventError EventType = "error"
)

// Event is one broadcast message.
type Event struct {
	Type      EventType `json:"type"`
	Percent   int       `json:"percent"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type queuedEvent struct {
	Event
	seq uint64
}

// Hub manages WebSocket clients and fans events out to them.
type Hub struct {
	addr     string
	listener net.Listener
	server   *http.Server

	// clients maps each connection to the sequence number of the newest
	// event it has already been sent.
	clients   map[*websocket.Conn]uint64
	clientsMu sync.RWMutex

	last    *Event
	lastSeq uint64
	lastMu  sync.Mutex

	broadcast chan queuedEvent

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewHub creates a hub that will listen on addr (host:port; port 0 picks a
// free port). If logger is nil, a default stderr logger is used.
func NewHub(addr string, logger *log.Logger) *Hub {
	logger = logging.OrDefault(logger, "progress")
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		addr:      addr,
		clients:   make(map[*websocket.Conn]uint64),
		broadcast: make(chan queuedEvent, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
}

// Start listens and serves in the background.
func (h *Hub) Start() error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.addr, err)
	}
	h.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWebSocket)
	mux.HandleFunc("/health", h.handleHealth)

	h.server = &http.Server{
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	h.wg.Add(1)
	go h.broadcastLoop()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.logger.Info("progress hub listening", "addr", ln.Addr().String())
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.logger.Error("progress hub stopped", "err", err)
		}
	}()
	return nil
}

// Stop closes every client and shuts the server down.
func (h *Hub) Stop(ctx context.Context) error {
	h.cancel()

	h.clientsMu.Lock()
	for conn := range h.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(h.clients, conn)
	}
	h.clientsMu.Unlock()

	if h.server != nil {
		if err := h.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("progress hub shutdown: %w", err)
		}
	}
	h.wg.Wait()
	return nil
}

// Notify publishes a progress milestone. It never blocks and never fails,
// so it is safe to use as a sync notifier.
func (h *Hub) Notify(percent int, msg string) error {
	h.Publish(Event{Type: EventProgress, Percent: percent, Message: msg})
	return nil
}

// Finish publishes the outcome of a run.
func (h *Hub) Finish(err error) {
	if err != nil {
		h.Publish(Event{Type: EventError, Percent: 100, Error: err.Error()})
		return
	}
	h.Publish(Event{Type: EventResult, Percent: 100, Message: "Completed"})
}

// Publish queues an event for all clients, dropping it if the queue is full.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	h.lastMu.Lock()
	defer h.lastMu.Unlock()
	h.lastSeq++
	h.last = &ev

	// Queued under lastMu so the channel stays in sequence order.
	select {
	case h.broadcast <- queuedEvent{Event: ev, seq: h.lastSeq}:
	case <-h.ctx.Done():
	default:
		h.logger.Warn("progress queue full, dropping event", "percent", ev.Percent)
	}
}

func (h *Hub) broadcastLoop() {
	defer h.wg.Done()
	for {
		select {
		case <-h.ctx.Done():
			return
		case q := <-h.broadcast:
			data, err := json.Marshal(q.Event)
			if err != nil {
				h.logger.Error("failed to marshal event", "err", err)
				continue
			}

			h.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(h.clients))
			for conn, seen := range h.clients {
				if q.seq > seen {
					clients = append(clients, conn)
				}
			}
			h.clientsMu.RUnlock()

			for _, conn := range clients {
				if err := h.write(conn, data); err != nil {
					h.logger.Debug("dropping client", "err", err)
					h.removeClient(conn)
				}
			}
		}
	}
}

func (h *Hub) write(conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	// Broadcasts are held off while the replay is written. The client then
	// joins with the replayed sequence number, so queued older events are
	// skipped for it.
	h.clientsMu.Lock()
	if h.ctx.Err() != nil {
		h.clientsMu.Unlock()
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	h.lastMu.Lock()
	last, seq := h.last, h.lastSeq
	h.lastMu.Unlock()
	if last != nil {
		if data, err := json.Marshal(last); err == nil {
			if err := h.write(conn, data); err != nil {
				h.clientsMu.Unlock()
				h.logger.Debug("replay failed", "err", err)
				_ = conn.Close(websocket.StatusInternalError, "")
				return
			}
		}
	}
	h.clients[conn] = seq
	n := len(h.clients)
	h.wg.Add(1)
	h.clientsMu.Unlock()
	h.logger.Debug("client connected", "clients", n)

	go h.readLoop(conn)
}

// readLoop detects disconnects; client messages are ignored.
func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.wg.Done()
	defer h.removeClient(conn)
	for {
		if _, _, err := conn.Read(h.ctx); err != nil {
			return
		}
	}
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	n := len(h.clients)
	h.clientsMu.Unlock()

	if ok {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		h.logger.Debug("client disconnected", "clients", n)
	}
}

func (h *Hub) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": h.ClientCount(),
	})
}

// Addr returns the listening address.
func (h *Hub) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}
	return h.addr
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}
