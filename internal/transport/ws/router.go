package ws

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"camrate-server-go/internal/platform/logging"
	"camrate-server-go/internal/platform/observability"
)

// HandlerBuilder creates a session handler for an upgraded websocket connection.
type HandlerBuilder func(conn *Connection, req *http.Request) (SessionHandler, error)

// Router is responsible for upgrading HTTP connections to websocket sessions.
type Router struct {
	hub    *Hub
	logger *logging.Logger

	upgrader         *websocket.Upgrader
	handshakeTimeout time.Duration
	baseCtx          context.Context
	connOpts         ConnectionOptions
	builder          atomic.Value // HandlerBuilder
}

// RouterOptions configures the websocket router.
type RouterOptions struct {
	HandshakeTimeout time.Duration
	CheckOrigin      func(r *http.Request) bool
	// BaseContext parents every connection context; cancelling it ends all sessions.
	BaseContext    context.Context
	QueueSize      int
	MaxMessageSize int64
}

// NewRouter constructs a websocket router.
func NewRouter(hub *Hub, logger *logging.Logger, opts RouterOptions) *Router {
	upgrader := &websocket.Upgrader{
		CheckOrigin: opts.CheckOrigin,
	}
	if upgrader.CheckOrigin == nil {
		upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}

	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	upgrader.HandshakeTimeout = timeout

	base := opts.BaseContext
	if base == nil {
		base = context.Background()
	}

	return &Router{
		hub:              hub,
		logger:           logger,
		upgrader:         upgrader,
		handshakeTimeout: timeout,
		baseCtx:          base,
		connOpts: ConnectionOptions{
			QueueSize:      opts.QueueSize,
			MaxMessageSize: opts.MaxMessageSize,
			Logger:         logger,
		},
	}
}

// SetHandlerBuilder registers the handler builder that will be invoked after a successful upgrade.
func (r *Router) SetHandlerBuilder(builder HandlerBuilder) {
	r.builder.Store(builder)
}

// Hub returns the session registry.
func (r *Router) Hub() *Hub {
	return r.hub
}

// Handle upgrades the HTTP connection and launches a new websocket session.
func (r *Router) Handle(w http.ResponseWriter, req *http.Request) {
	value := r.builder.Load()
	if value == nil {
		http.Error(w, "websocket handler not ready", http.StatusServiceUnavailable)
		return
	}
	builder := value.(HandlerBuilder)

	handshakeCtx, cancel := context.WithTimeoutCause(req.Context(), r.handshakeTimeout, ErrHandshakeTimeout)
	defer cancel()

	spanCtx, spanEnd := observability.StartSpan(handshakeCtx, "transport.websocket", "handle")
	var spanErr error
	defer func() {
		spanEnd(spanErr)
	}()

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		spanErr = err
		observability.RecordMetric(
			spanCtx,
			"websocket.upgrade.error",
			1,
			map[string]string{
				"component": "transport.websocket",
			},
		)
		if r.logger != nil {
			r.logger.ErrorTag("WebSocket", "握手失败: %v", err)
		}
		return
	}

	clientID := resolveClientID(req)
	if r.logger != nil {
		r.logger.InfoTag("WebSocket", "建立连接 client=%s remote=%s", clientID, req.RemoteAddr)
	}

	// 连接上下文不能继承请求上下文，请求在 Handle 返回后即结束
	wsConn := NewConnection(r.baseCtx, clientID, conn, r.connOpts)

	handler, err := builder(wsConn, req)
	if err != nil || handler == nil {
		spanErr = err
		observability.RecordMetric(
			spanCtx,
			"websocket.connection.error",
			1,
			map[string]string{
				"component": "transport.websocket",
				"reason":    "handler_creation_failed",
			},
		)
		if r.logger != nil {
			r.logger.ErrorTag("WebSocket", "创建连接处理器失败: %v", err)
		}
		_ = wsConn.Close()
		return
	}

	session := NewSession(handler, wsConn, r.logger)
	r.hub.Register(session)

	observability.RecordMetric(
		spanCtx,
		"websocket.connection.opened",
		1,
		map[string]string{
			"component": "transport.websocket",
			"client_id": clientID,
		},
	)

	go session.Run(func(runErr error) {
		r.hub.Unregister(session.ID())
		if runErr != nil && r.logger != nil {
			r.logger.WarnTag("WebSocket", "会话 %s 异常结束: %v", session.ID(), runErr)
		}
		if r.logger != nil {
			r.logger.InfoTag("WebSocket", "连接关闭 client=%s", clientID)
		}
		observability.RecordMetric(
			context.Background(),
			"websocket.connection.closed",
			1,
			map[string]string{
				"component": "transport.websocket",
				"client_id": clientID,
			},
		)
	})
}

func resolveClientID(req *http.Request) string {
	clientID := req.Header.Get("Client-Id")
	if clientID == "" {
		clientID = req.URL.Query().Get("client-id")
	}
	if clientID == "" {
		clientID = uuid.NewString()
	}
	return clientID
}
