package testing

import (
	"bytes"
	"path/filepath"
	"testing"

	"camrate-server-go/internal/platform/config"
	"camrate-server-go/internal/platform/logging"
)

// SetupTestConfig returns defaults rooted in a per-test temp directory.
func SetupTestConfig(t *testing.T) *config.Config {
	t.Helper()

	root := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Server.IP = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.PublicHost = "http://127.0.0.1"
	cfg.Log.Level = "DEBUG"
	cfg.Log.Dir = filepath.Join(root, "logs")
	cfg.Log.File = "test.log"
	cfg.Store.Root = filepath.Join(root, "static")
	cfg.Database.DSN = filepath.Join(root, "test.db")
	cfg.Gallery.Cache.Driver = "memory"

	return cfg
}

// SetupTestLogger writes to a buffer the caller can inspect.
func SetupTestLogger(t *testing.T) (*logging.Logger, *bytes.Buffer) {
	t.Helper()

	var buf bytes.Buffer
	logger := logging.NewWriter(&buf, "debug")
	t.Cleanup(func() { _ = logger.Close() })
	return logger, &buf
}
