package ws

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"camrate-server-go/internal/app/services"
	"camrate-server-go/internal/platform/logging"
)

// SessionHandler runs the per-connection loop until the client leaves.
type SessionHandler interface {
	ID() string
	Handle(ctx context.Context) error
}

// Session encapsulates the lifecycle of a single websocket connection.
type Session struct {
	id      string
	handler SessionHandler
	conn    *Connection
	logger  *logging.Logger

	closed atomic.Bool
}

// NewSession constructs a managed websocket session.
func NewSession(handler SessionHandler, conn *Connection, logger *logging.Logger) *Session {
	return &Session{
		id:      handler.ID(),
		handler: handler,
		conn:    conn,
		logger:  logger,
	}
}

// Context returns the session context, which ends with the connection.
func (s *Session) Context() context.Context {
	return s.conn.Context()
}

// ID exposes the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Run starts the reader, executes the handler and invokes onDone once exiting.
func (s *Session) Run(onDone func(error)) {
	var runErr error
	defer func() {
		if r := recover(); r != nil {
			runErr = errors.New("session handler panicked")
			if s.logger != nil {
				s.logger.ErrorTag("WebSocket", "会话 %s panic: %v", s.id, r)
			}
		}
		s.Close(nil)
		if onDone != nil {
			onDone(runErr)
		}
	}()

	s.conn.Start()
	runErr = s.handler.Handle(s.conn.Context())
	if errors.Is(runErr, services.ErrDisconnected) {
		runErr = nil
	}
}

// Close attempts to gracefully terminate the session.
func (s *Session) Close(reason error) {
	if reason == nil {
		reason = ErrSessionShutdown
	}

	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	if s.conn != nil {
		if s.logger != nil {
			s.logger.DebugTag("WebSocket", "会话 %s 关闭, 最后活跃 %s", s.id, s.conn.GetLastActiveTime().Format(time.RFC3339))
		}
		if err := s.conn.Close(); err != nil && s.logger != nil {
			s.logger.DebugTag("WebSocket", "session %s connection close (%v): %v", s.id, reason, err)
		}
	}
}
