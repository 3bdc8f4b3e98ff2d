package ws

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"camrate-server-go/internal/app/services"
	"camrate-server-go/internal/platform/logging"
)

const (
	defaultQueueSize      = 4
	defaultMaxMessageSize = 16 << 20
	defaultWriteTimeout   = 10 * time.Second
)

// ConnectionOptions tunes the reader queue and socket limits.
type ConnectionOptions struct {
	QueueSize      int
	MaxMessageSize int64
	WriteTimeout   time.Duration
	Logger         *logging.Logger
}

// Connection wraps a gorilla websocket connection. A background reader
// decodes client messages into a bounded queue so that a disconnect is
// noticed while a round is still streaming; writes are serialized.
type Connection struct {
	id           string
	socket       *websocket.Conn
	logger       *logging.Logger
	writeTimeout time.Duration

	mu         sync.Mutex
	closed     atomic.Bool
	lastActive atomic.Int64
	startOnce  sync.Once

	frames chan services.Frame
	ctx    context.Context
	cancel context.CancelCauseFunc
}

// NewConnection creates a tracked websocket connection. The connection
// context is cancelled as soon as the client goes away.
func NewConnection(parent context.Context, id string, socket *websocket.Conn, opts ConnectionOptions) *Connection {
	if parent == nil {
		parent = context.Background()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaultMaxMessageSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}

	socket.SetReadLimit(opts.MaxMessageSize)
	ctx, cancel := context.WithCancelCause(parent)

	conn := &Connection{
		id:           id,
		socket:       socket,
		logger:       opts.Logger,
		writeTimeout: opts.WriteTimeout,
		frames:       make(chan services.Frame, opts.QueueSize),
		ctx:          ctx,
		cancel:       cancel,
	}
	conn.touch()
	return conn
}

// Start launches the background reader. Calling it twice is a no-op.
func (c *Connection) Start() {
	c.startOnce.Do(func() {
		go c.readLoop()
	})
}

// Context is cancelled when the client disconnects or the connection is closed.
func (c *Connection) Context() context.Context {
	return c.ctx
}

func (c *Connection) readLoop() {
	defer close(c.frames)

	for {
		messageType, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.warn("连接 %s 读取失败: %v", c.id, err)
			}
			c.cancel(fmt.Errorf("%w: %v", services.ErrDisconnected, err))
			return
		}
		c.touch()

		frame := decodeFrame(messageType, payload)
		select {
		case c.frames <- frame:
		case <-c.ctx.Done():
			return
		}
	}
}

// decodeFrame recognizes the optional "image" field of a JSON text message.
func decodeFrame(messageType int, payload []byte) services.Frame {
	if messageType != websocket.TextMessage {
		return services.Frame{Malformed: true}
	}

	var msg map[string]interface{}
	if err := sonic.Unmarshal(payload, &msg); err != nil {
		return services.Frame{Malformed: true}
	}

	raw, ok := msg["image"]
	if !ok {
		return services.Frame{}
	}
	text, _ := raw.(string)
	return services.Frame{Image: text, Present: true}
}

// Next blocks until the next client message. Once the reader has stopped it
// returns an error wrapping services.ErrDisconnected.
func (c *Connection) Next(ctx context.Context) (services.Frame, error) {
	select {
	case frame, ok := <-c.frames:
		if !ok {
			return services.Frame{}, c.disconnectErr()
		}
		return frame, nil
	case <-ctx.Done():
		return services.Frame{}, ctx.Err()
	}
}

func (c *Connection) disconnectErr() error {
	cause := context.Cause(c.ctx)
	if cause == nil {
		return services.ErrDisconnected
	}
	return fmt.Errorf("%w: %v", services.ErrDisconnected, cause)
}

// Send encodes one event and writes it as a text message.
func (c *Connection) Send(event services.Event) error {
	data, err := sonic.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Type, err)
	}
	return c.WriteMessage(websocket.TextMessage, data)
}

// WriteMessage sends a message to the client.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("%w: %s", ErrConnectionClosed, c.id)
	}

	_ = c.socket.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.socket.WriteMessage(messageType, data); err != nil {
		c.cancel(fmt.Errorf("%w: %v", services.ErrDisconnected, err))
		return err
	}

	c.touch()
	return nil
}

// Close terminates the underlying websocket connection.
func (c *Connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.cancel(ErrSessionShutdown)

	c.mu.Lock()
	_ = c.socket.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.mu.Unlock()

	return c.socket.Close()
}

// GetID returns the connection identifier.
func (c *Connection) GetID() string {
	return c.id
}

// IsClosed reports whether the connection has already been closed.
func (c *Connection) IsClosed() bool {
	return c.closed.Load()
}

// GetLastActiveTime exposes when the client last interacted with the server.
func (c *Connection) GetLastActiveTime() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

func (c *Connection) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

func (c *Connection) warn(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.WarnTag("WebSocket", format, args...)
	}
}
