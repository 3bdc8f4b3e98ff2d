package bootstrap

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	platformconfig "camrate-server-go/internal/platform/config"
)

func fakeBackend(t *testing.T, fragments []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/models":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"object":"list","data":[]}`)
		case "/chat/completions":
			w.Header().Set("Content-Type", "text/event-stream")
			flusher := w.(http.Flusher)
			for _, f := range fragments {
				payload, _ := json.Marshal(map[string]interface{}{
					"id":      "chatcmpl-1",
					"object":  "chat.completion.chunk",
					"choices": []map[string]interface{}{{"index": 0, "delta": map[string]string{"content": f}}},
				})
				fmt.Fprintf(w, "data: %s\n\n", payload)
				flusher.Flush()
			}
			fmt.Fprint(w, "data: [DONE]\n\n")
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func testLoader(t *testing.T, backendURL string, port int) *platformconfig.Loader {
	t.Helper()

	root := t.TempDir()
	yaml := fmt.Sprintf(`server:
  ip: 127.0.0.1
  port: %d
  static_dir: %s
  tls:
    cert_file: ""
    key_file: ""
  rate_limit:
    rps: 0
log:
  log_level: INFO
  log_dir: %s
  log_file: server.log
gateway:
  type: openai
  url: %s
  api_key: test
  model_name: vision-test
  read_timeout: 5s
store:
  root: %s
database:
  dsn: %s
gallery:
  cache:
    driver: memory
`, port,
		filepath.Join(root, "web"),
		filepath.Join(root, "logs"),
		backendURL,
		filepath.Join(root, "static"),
		filepath.Join(root, "camrate.db"),
	)
	path := filepath.Join(root, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	return platformconfig.NewLoader().
		WithDotEnv(false).
		WithPath(path).
		WithEnv(func(string) (string, bool) { return "", false })
}

func sampleJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 12))
	for x := 0; x < 16; x++ {
		for y := 0; y < 12; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 15), G: uint8(y * 20), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestInitGraphOrder(t *testing.T) {
	want := []string{
		"config:load",
		"logging:init-provider",
		"observability:setup-hooks",
		"eventbus:init-bus",
		"storage:init-database",
		"gateway:init-client",
		"gallery:init-store",
	}
	steps := InitGraph()
	require.Len(t, steps, len(want))
	for i, step := range steps {
		assert.Equal(t, want[i], step.ID)
	}
}

func TestExecuteInitGraph(t *testing.T) {
	backend := fakeBackend(t, nil)
	state := &appState{loader: testLoader(t, backend.URL, freePort(t))}
	defer state.close()

	require.NoError(t, executeInitSteps(context.Background(), InitGraph(), state))
	assert.NotNil(t, state.config)
	assert.NotNil(t, state.logger)
	assert.NotNil(t, state.observabilityShutdown)
	assert.NotNil(t, state.db)
	assert.NotNil(t, state.gateway)
	assert.NotNil(t, state.store)
	assert.NotNil(t, state.listing)
	assert.NotNil(t, state.pipeline)
	assert.True(t, state.bus.HasCallback("round.completed"))
	assert.True(t, state.bus.HasCallback("evaluation.persisted"))
}

func TestExecuteInitStepsMissingDependency(t *testing.T) {
	steps := []initStep{{
		ID:        "b",
		DependsOn: []string{"a"},
		Execute:   func(context.Context, *appState) error { return nil },
	}}
	err := executeInitSteps(context.Background(), steps, &appState{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dependency a not satisfied")
}

func TestRunServesEvaluationRound(t *testing.T) {
	backend := fakeBackend(t, []string{
		`{"good_picture"`,
		`: true, "rate": 4, "reason": "Clear smile"}`,
	})
	port := freePort(t)
	loader := testLoader(t, backend.URL, port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- run(ctx, loader) }()

	wsURL := fmt.Sprintf("ws://127.0.0.1:%d/ws", port)
	var client *websocket.Conn
	require.Eventually(t, func() bool {
		c, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			return false
		}
		client = c
		return true
	}, 10*time.Second, 50*time.Millisecond)
	defer client.Close()

	picture := sampleJPEG(t)
	frame := map[string]string{"image": "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(picture)}
	require.NoError(t, client.WriteJSON(frame))

	var events []map[string]interface{}
	for {
		require.NoError(t, client.SetReadDeadline(time.Now().Add(10*time.Second)))
		var msg map[string]interface{}
		require.NoError(t, client.ReadJSON(&msg))
		events = append(events, msg)
		if msg["type"] == "done" {
			break
		}
	}

	require.Len(t, events, 4)
	assert.Equal(t, "stream", events[0]["type"])
	assert.Equal(t, `{"good_picture"`, events[0]["content"])
	assert.Equal(t, "stream", events[1]["type"])
	assert.Equal(t, "evaluation", events[2]["type"])

	content := events[2]["content"].(map[string]interface{})
	assert.Equal(t, true, content["good_picture"])
	assert.Equal(t, float64(4), content["rate"])
	assert.Equal(t, "Clear smile", content["reason"])
	imageURL := content["image_url"].(string)
	assert.True(t, strings.HasPrefix(imageURL, fmt.Sprintf("http://127.0.0.1:%d/static/images/", port)), imageURL)

	resp, err := http.Get(imageURL)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, picture, body)

	listURL := fmt.Sprintf("http://127.0.0.1:%d/api/evaluations", port)
	assert.Eventually(t, func() bool {
		resp, err := http.Get(listURL)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var items []map[string]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
			return false
		}
		return len(items) == 1 && items[0]["reason"] == "Clear smile"
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(20 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestRunFailsOnBadConfig(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: -1\n"), 0o644))

	loader := platformconfig.NewLoader().
		WithDotEnv(false).
		WithPath(path).
		WithEnv(func(string) (string, bool) { return "", false })

	err := run(context.Background(), loader)
	assert.Error(t, err)
}
