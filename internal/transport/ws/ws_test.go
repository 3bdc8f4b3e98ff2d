package ws

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camrate-server-go/internal/app/services"
	"camrate-server-go/internal/platform/logging"
)

type echoHandler struct {
	id    string
	conn  *Connection
	ended chan error
}

func (h *echoHandler) ID() string { return h.id }

func (h *echoHandler) Handle(ctx context.Context) error {
	for {
		frame, err := h.conn.Next(ctx)
		if err != nil {
			h.ended <- err
			return err
		}
		switch {
		case frame.Malformed:
			_ = h.conn.Send(services.Event{Type: services.EventError, Content: "bad"})
		case frame.Present:
			_ = h.conn.Send(services.Event{Type: services.EventStream, Content: frame.Image})
		}
		_ = h.conn.Send(services.Event{Type: services.EventDone})
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *Router, chan *echoHandler) {
	t.Helper()

	logger := logging.NewWriter(io.Discard, "debug")
	t.Cleanup(func() { _ = logger.Close() })

	hub := NewHub(logger)
	router := NewRouter(hub, logger, RouterOptions{QueueSize: 2, MaxMessageSize: 1 << 10})
	handlers := make(chan *echoHandler, 4)
	router.SetHandlerBuilder(func(conn *Connection, req *http.Request) (SessionHandler, error) {
		h := &echoHandler{id: conn.GetID(), conn: conn, ended: make(chan error, 1)}
		handlers <- h
		return h, nil
	})

	srv := httptest.NewServer(http.HandlerFunc(router.Handle))
	t.Cleanup(srv.Close)
	return srv, router, handlers
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return client
}

func readJSON(t *testing.T, client *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg map[string]interface{}
	require.NoError(t, client.ReadJSON(&msg))
	return msg
}

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name        string
		messageType int
		payload     string
		want        services.Frame
	}{
		{"image field", websocket.TextMessage, `{"image":"data:image/jpeg;base64,AAAA"}`, services.Frame{Image: "data:image/jpeg;base64,AAAA", Present: true}},
		{"no image field", websocket.TextMessage, `{"hello":"world"}`, services.Frame{}},
		{"image not a string", websocket.TextMessage, `{"image":42}`, services.Frame{Present: true}},
		{"not json", websocket.TextMessage, `hello`, services.Frame{Malformed: true}},
		{"binary", websocket.BinaryMessage, `{"image":"AAAA"}`, services.Frame{Malformed: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decodeFrame(tt.messageType, []byte(tt.payload)))
		})
	}
}

func TestRouterRelaysFramesInOrder(t *testing.T) {
	srv, router, handlers := newTestServer(t)
	client := dial(t, srv)
	defer client.Close()

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"image":"one"}`)))
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"ignored":true}`)))
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`not json`)))

	assert.Equal(t, map[string]interface{}{"type": "stream", "content": "one"}, readJSON(t, client))
	assert.Equal(t, map[string]interface{}{"type": "done"}, readJSON(t, client))
	assert.Equal(t, map[string]interface{}{"type": "done"}, readJSON(t, client))
	assert.Equal(t, map[string]interface{}{"type": "error", "content": "bad"}, readJSON(t, client))
	assert.Equal(t, map[string]interface{}{"type": "done"}, readJSON(t, client))

	<-handlers
	assert.Equal(t, 1, router.Hub().Count())
}

func TestDisconnectCancelsConnection(t *testing.T) {
	srv, router, handlers := newTestServer(t)
	client := dial(t, srv)

	var h *echoHandler
	select {
	case h = <-handlers:
	case <-time.After(5 * time.Second):
		t.Fatal("handler was not built")
	}

	require.NoError(t, client.Close())

	select {
	case err := <-h.ended:
		assert.ErrorIs(t, err, services.ErrDisconnected)
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not observe disconnect")
	}

	select {
	case <-h.conn.Context().Done():
	case <-time.After(5 * time.Second):
		t.Fatal("connection context not cancelled")
	}

	assert.Eventually(t, func() bool { return router.Hub().Count() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Error(t, h.conn.Send(services.Event{Type: services.EventDone}))
}

func TestHubCloseAll(t *testing.T) {
	srv, router, handlers := newTestServer(t)
	client := dial(t, srv)
	defer client.Close()

	h := <-handlers
	require.Eventually(t, func() bool { return router.Hub().Count() == 1 }, 5*time.Second, 10*time.Millisecond)

	router.Hub().CloseAll(nil)

	select {
	case <-h.ended:
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not stop after CloseAll")
	}
	assert.Equal(t, 0, router.Hub().Count())
	assert.True(t, h.conn.IsClosed())
}

func TestHandleWithoutBuilder(t *testing.T) {
	logger := logging.NewWriter(io.Discard, "info")
	router := NewRouter(NewHub(logger), logger, RouterOptions{})

	rec := httptest.NewRecorder()
	router.Handle(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
