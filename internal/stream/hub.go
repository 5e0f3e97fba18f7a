// Package stream fans run events out to WebSocket subscribers.
package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/testmgmt/internal/domain"
	"github.com/xiaot623/gogo/testmgmt/internal/metrics"
)

// finishedTTL is how long the hub remembers a finished run.
const finishedTTL = 10 * time.Minute

// Message is one encoded event queued for a connection.
type Message struct {
	EventID string
	Data    []byte
}

// Connection represents a single WebSocket subscriber of one run.
type Connection struct {
	ID    string
	RunID string
	Conn  *websocket.Conn
	Send  chan *Message
	mu    sync.Mutex

	// replayed holds the events already written from the run's history.
	// It is filled before the write pump starts and only read by it.
	replayed map[string]bool
}

// Hub manages run subscriptions.
type Hub struct {
	// Connections indexed by connection ID
	connections map[string]*Connection

	// runs maps run_id to set of connection IDs
	runs map[string]map[string]bool

	// finished maps run_id to the time its terminal event was broadcast
	finished map[string]time.Time

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *runMessage
	done       chan struct{}

	metrics *metrics.Metrics
	logger  *zap.Logger
	mu      sync.RWMutex
}

type runMessage struct {
	RunID    string
	Terminal bool
	Msg      *Message
}

// NewHub creates a new Hub.
func NewHub(m *metrics.Metrics, logger *zap.Logger) *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		runs:        make(map[string]map[string]bool),
		finished:    make(map[string]time.Time),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan *runMessage, 256),
		done:        make(chan struct{}),
		metrics:     m,
		logger:      logger.With(zap.String("component", "stream")),
	}
}

// Run starts the hub's main loop. It returns when ctx is done, closing every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, conn := range h.connections {
				h.drop(id, conn)
			}
			h.mu.Unlock()
			return

		case conn := <-h.register:
			h.mu.Lock()
			if _, done := h.finished[conn.RunID]; done {
				h.mu.Unlock()
				close(conn.Send)
				h.logger.Debug("run already finished, closing connection",
					zap.String("conn_id", conn.ID), zap.String("run_id", conn.RunID))
				continue
			}
			h.connections[conn.ID] = conn
			if h.runs[conn.RunID] == nil {
				h.runs[conn.RunID] = make(map[string]bool)
			}
			h.runs[conn.RunID][conn.ID] = true
			h.mu.Unlock()
			h.metrics.StreamClientsDelta(1)
			h.logger.Debug("connection registered", zap.String("conn_id", conn.ID), zap.String("run_id", conn.RunID))

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				h.drop(conn.ID, conn)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			if msg.Terminal {
				h.markFinished(msg.RunID, time.Now())
			}
			for connID := range h.runs[msg.RunID] {
				conn := h.connections[connID]
				select {
				case conn.Send <- msg.Msg:
				default:
					h.logger.Warn("connection buffer full, closing", zap.String("conn_id", connID))
					h.drop(connID, conn)
					continue
				}
				// The writer drains the buffer before it sees the closed channel.
				if msg.Terminal {
					h.drop(connID, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// markFinished remembers runID as finished and forgets runs finished more
// than finishedTTL ago. Caller holds h.mu.
func (h *Hub) markFinished(runID string, now time.Time) {
	for id, at := range h.finished {
		if now.Sub(at) > finishedTTL {
			delete(h.finished, id)
		}
	}
	h.finished[runID] = now
}

// drop removes a connection and closes its send channel. Caller holds h.mu.
func (h *Hub) drop(connID string, conn *Connection) {
	delete(h.connections, connID)
	if set := h.runs[conn.RunID]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(h.runs, conn.RunID)
		}
	}
	close(conn.Send)
	h.metrics.StreamClientsDelta(-1)
}

// NewConnection creates a connection subscribed to runID.
func (h *Hub) NewConnection(ws *websocket.Conn, runID string) *Connection {
	return &Connection{
		ID:    uuid.New().String(),
		RunID: runID,
		Conn:  ws,
		Send:  make(chan *Message, 64),
	}
}

// Register registers a connection with the hub. It reports false once the hub has stopped.
// A connection to a run that already finished has its Send channel closed at once.
func (h *Hub) Register(conn *Connection) bool {
	select {
	case h.register <- conn:
		return true
	case <-h.done:
		return false
	}
}

// Unregister unregisters a connection from the hub.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Publish broadcasts event to the subscribers of its run. When the broadcast
// buffer is full an ordinary event is dropped and logged. A terminal event is
// never dropped: it waits for the hub loop, which requires Run to be running.
func (h *Hub) Publish(event *domain.RunEvent) {
	msg, err := encode(event)
	if err != nil {
		h.logger.Warn("failed to encode event", zap.String("run_id", event.RunID), zap.Error(err))
		return
	}
	rm := &runMessage{RunID: event.RunID, Terminal: isTerminalEvent(event.Type), Msg: msg}
	if rm.Terminal {
		select {
		case h.broadcast <- rm:
		case <-h.done:
		}
		return
	}
	select {
	case h.broadcast <- rm:
	default:
		h.logger.Warn("broadcast buffer full, dropping event",
			zap.String("run_id", event.RunID), zap.String("type", string(event.Type)))
	}
}

// SubscriberCount returns the number of connections subscribed to runID.
func (h *Hub) SubscriberCount(runID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.runs[runID])
}

// Finished reports whether the hub has seen the terminal event of runID.
func (h *Hub) Finished(runID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.finished[runID]
	return ok
}

// GetConnectionCount returns the number of active connections.
func (h *Hub) GetConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

func encode(event *domain.RunEvent) (*Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return &Message{EventID: event.EventID, Data: data}, nil
}

func isTerminalEvent(t domain.EventType) bool {
	switch t {
	case domain.EventTypeRunCompleted, domain.EventTypeRunFailed, domain.EventTypeRunCancelled:
		return true
	}
	return false
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// Close closes the connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}
