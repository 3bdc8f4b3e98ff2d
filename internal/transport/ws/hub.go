package ws

import (
	"sync"
	"sync/atomic"

	"camrate-server-go/internal/platform/logging"
	"camrate-server-go/internal/platform/observability"
)

// Hub tracks the active websocket sessions for a transport instance.
type Hub struct {
	logger   *logging.Logger
	sessions sync.Map // map[string]*Session
	count    atomic.Int64
}

// NewHub builds a fresh session hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger: logger,
	}
}

// Register adds a new session to the hub.
func (h *Hub) Register(session *Session) {
	if session == nil {
		return
	}
	if _, loaded := h.sessions.LoadOrStore(session.ID(), session); !loaded {
		h.count.Add(1)
		observability.WSSessionsActive.Inc()
	}
}

// Unregister removes the session from the hub.
func (h *Hub) Unregister(id string) {
	if id == "" {
		return
	}
	if _, loaded := h.sessions.LoadAndDelete(id); loaded {
		h.count.Add(-1)
		observability.WSSessionsActive.Dec()
	}
}

// CloseAll terminates all active sessions.
func (h *Hub) CloseAll(reason error) {
	if reason == nil {
		reason = ErrSessionShutdown
	}

	closed := 0
	h.sessions.Range(func(key, value any) bool {
		if session, ok := value.(*Session); ok {
			session.Close(reason)
			closed++
		}
		h.Unregister(key.(string))
		return true
	})
	if closed > 0 && h.logger != nil {
		h.logger.InfoTag("WebSocket", "已关闭 %d 个会话: %v", closed, reason)
	}
}

// Count exposes the number of active websocket sessions.
func (h *Hub) Count() int {
	return int(h.count.Load())
}
