package websocket

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zengyi-thinking/Agent-team-dashboard/domain/model"
	"github.com/zengyi-thinking/Agent-team-dashboard/domain/port/outbound"
)

const (
	// DefaultWriteTimeout bounds a single frame write
	DefaultWriteTimeout = 5 * time.Second

	// DefaultSendQueueSize is the per-session outbound buffer
	DefaultSendQueueSize = 16

	// client messages are tiny liveness pings
	maxClientMessageSize = 4096
)

// session is one upgraded websocket connection registered with the hub
type session struct {
	id           string
	conn         *websocket.Conn
	hub          *Hub
	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
	logger       outbound.Logger
}

func newSession(conn *websocket.Conn, hub *Hub, queueSize int, writeTimeout time.Duration, logger outbound.Logger) *session {
	if queueSize <= 0 {
		queueSize = DefaultSendQueueSize
	}
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &session{
		id:           uuid.New().String(),
		conn:         conn,
		hub:          hub,
		send:         make(chan []byte, queueSize),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

func (s *session) ID() string {
	return s.id
}

// Send queues the encoded notification without blocking
func (s *session) Send(notification model.Notification) error {
	data, err := notification.Encode()
	if err != nil {
		return err
	}

	select {
	case <-s.done:
		return model.ErrSubscriberClosed
	default:
	}

	select {
	case s.send <- data:
		return nil
	default:
		return model.ErrSubscriberQueueFull
	}
}

// Close signals both pumps to stop; the writer closes the connection
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	return nil
}

// writePump is the only goroutine writing data frames
func (s *session) writePump() {
	defer s.conn.Close()

	for {
		select {
		case <-s.done:
			deadline := time.Now().Add(s.writeTimeout)
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server shutting down"), deadline)
			return

		case data := <-s.send:
			if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
				s.fail("set write deadline", err)
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.fail("write", err)
				return
			}
		}
	}
}

// readPump drains client frames until the connection fails
func (s *session) readPump() {
	defer s.hub.Unregister(s)

	s.conn.SetReadLimit(maxClientMessageSize)

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("WebSocket read error", "subscriber", s.id, "error", err)
			}
			// unblock the writer if the hub already forgot this session
			s.Close()
			return
		}

		s.handleClientMessage(messageType, data)
	}
}

// clients only ever send liveness pings, anything else is logged and ignored
func (s *session) handleClientMessage(messageType int, data []byte) {
	if messageType != websocket.TextMessage {
		return
	}

	notification, err := model.DecodeNotification(data)
	if err != nil {
		s.logger.Debug("Ignoring malformed client message", "subscriber", s.id, "error", err)
		return
	}
	if notification.Category != model.Heartbeat {
		s.logger.Debug("Ignoring unexpected client message", "subscriber", s.id, "type", notification.Category.String())
	}
}

func (s *session) fail(op string, err error) {
	s.logger.Warn("WebSocket "+op+" failed, closing session", "subscriber", s.id, "error", err)
	s.hub.Unregister(s)
	s.Close()
}
