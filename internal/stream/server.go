package stream

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/testmgmt/internal/domain"
)

const (
	writeTimeout   = 10 * time.Second
	readTimeout    = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 512
)

// History supplies the events a run has already recorded.
type History interface {
	GetEvents(ctx context.Context, runID string, afterTs int64, types []string) ([]domain.RunEvent, error)
}

// Server upgrades HTTP requests into run subscriptions.
type Server struct {
	hub          *Hub
	history      History
	upgrader     websocket.Upgrader
	logger       *zap.Logger
	pingInterval time.Duration
}

// NewServer creates a new WebSocket server. history may be nil, in which case
// subscribers only see events broadcast after they registered.
func NewServer(h *Hub, history History, logger *zap.Logger) *Server {
	return &Server{
		hub:     h,
		history: history,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger:       logger.With(zap.String("component", "stream")),
		pingInterval: pingInterval,
	}
}

// Serve upgrades the request and subscribes the connection to runID.
// Events recorded at or after since (Unix milliseconds) are replayed from
// the history first; a zero since replays nothing.
// The connection is closed after the run's terminal event.
func (s *Server) Serve(c echo.Context, runID string, since int64) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("failed to upgrade websocket", zap.Error(err))
		return err
	}

	conn := s.hub.NewConnection(ws, runID)
	if !s.hub.Register(conn) {
		ws.Close()
		return nil
	}
	ws.SetReadLimit(maxMessageSize)

	if s.history != nil && since > 0 && s.replay(c.Request().Context(), conn, since) {
		s.hub.Unregister(conn)
		conn.Close()
		return nil
	}

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

// replay writes the events recorded since the given time. It runs before the
// pumps start, so it owns the socket. It reports true when the connection is
// finished: the replay held the terminal event or a write failed.
func (s *Server) replay(ctx context.Context, conn *Connection, since int64) bool {
	events, err := s.history.GetEvents(ctx, conn.RunID, since-1, nil)
	if err != nil {
		s.logger.Warn("failed to load run history", zap.String("run_id", conn.RunID), zap.Error(err))
		return false
	}
	conn.replayed = make(map[string]bool, len(events))
	for i := range events {
		msg, err := encode(&events[i])
		if err != nil {
			s.logger.Warn("failed to encode event", zap.String("run_id", conn.RunID), zap.Error(err))
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, msg.Data); err != nil {
			s.logger.Debug("failed to write message", zap.String("conn_id", conn.ID), zap.Error(err))
			return true
		}
		conn.replayed[msg.EventID] = true
		if isTerminalEvent(events[i].Type) {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"))
			return true
		}
	}
	return false
}

// readPump discards client messages and keeps the read deadline fresh.
func (s *Server) readPump(conn *Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.Conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		if _, _, err := conn.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Debug("websocket read error", zap.String("conn_id", conn.ID), zap.Error(err))
			}
			return
		}
	}
}

// writePump writes messages to the WebSocket connection.
func (s *Server) writePump(conn *Connection) {
	ticker := time.NewTicker(s.pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"))
				return
			}
			if conn.replayed[message.EventID] {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, message.Data); err != nil {
				s.logger.Debug("failed to write message", zap.String("conn_id", conn.ID), zap.Error(err))
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
