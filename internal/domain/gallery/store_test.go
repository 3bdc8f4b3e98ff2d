package gallery

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camrate-server-go/internal/domain/evaluation"
	"camrate-server-go/internal/platform/config"
	"camrate-server-go/internal/platform/logging"
)

func testStoreConfig(t *testing.T) config.StoreConfig {
	t.Helper()
	cfg := config.DefaultConfig().Store
	cfg.Root = filepath.Join(t.TempDir(), "static")
	return cfg
}

func newTestStore(t *testing.T) (*Store, config.StoreConfig) {
	t.Helper()
	cfg := testStoreConfig(t)
	return NewStore(cfg, logging.NewWriter(io.Discard, "error")), cfg
}

func TestStore_PersistRoundTrip(t *testing.T) {
	store, cfg := newTestStore(t)
	image := []byte{0xFF, 0xD8, 0x00, 0x01, 0xFF, 0xD9}
	ev := evaluation.Evaluation{GoodPicture: true, Rate: 4, Reason: "Clear smile\n  with trailing spaces  "}

	rec, err := store.Persist(context.Background(), image, ev, "https://cam.example:9443/")
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^\d{8}_\d{6}_\d{6}_[0-9a-f]{8}$`), rec.Key)
	assert.Equal(t, rec.Key+".jpg", rec.Filename)
	assert.Equal(t, "https://cam.example:9443/static/images/"+rec.Filename, rec.ImageURL)
	assert.Equal(t, ev, rec.Evaluation)

	gotImage, err := os.ReadFile(filepath.Join(cfg.Root, cfg.ImagesDir, rec.Key+".jpg"))
	require.NoError(t, err)
	assert.Equal(t, image, gotImage)

	gotRate, err := os.ReadFile(filepath.Join(cfg.Root, cfg.RatesDir, rec.Key+".txt"))
	require.NoError(t, err)
	assert.Equal(t, "4", string(gotRate))

	gotReason, err := os.ReadFile(filepath.Join(cfg.Root, cfg.ReasonsDir, rec.Key+".txt"))
	require.NoError(t, err)
	assert.Equal(t, ev.Reason, string(gotReason))

	leftovers, err := filepath.Glob(filepath.Join(cfg.Root, "*", ".*tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestStore_PersistWithKeyRejectsExisting(t *testing.T) {
	store, cfg := newTestStore(t)
	ev := evaluation.Evaluation{GoodPicture: true, Rate: 3, Reason: "ok"}

	_, err := store.PersistWithKey(context.Background(), "20240101_120000_000001_deadbeef", []byte("first"), ev, "http://h")
	require.NoError(t, err)

	_, err = store.PersistWithKey(context.Background(), "20240101_120000_000001_deadbeef", []byte("second"), ev, "http://h")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorage))
	assert.True(t, errors.Is(err, ErrKeyExists))

	got, err := os.ReadFile(filepath.Join(cfg.Root, cfg.ImagesDir, "20240101_120000_000001_deadbeef.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))
}

func TestStore_NewKeyRetriesOnCollision(t *testing.T) {
	store, cfg := newTestStore(t)
	fixed := time.Date(2024, 5, 6, 7, 8, 9, 123456000, time.Local)
	store.now = func() time.Time { return fixed }

	suffixes := []string{"aaaaaaaa", "aaaaaaaa", "bbbbbbbb"}
	store.suffix = func() string {
		s := suffixes[0]
		suffixes = suffixes[1:]
		return s
	}

	require.NoError(t, os.MkdirAll(filepath.Join(cfg.Root, cfg.ReasonsDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Root, cfg.ReasonsDir, "20240506_070809_123456_aaaaaaaa.txt"), []byte("orphan"), 0o644))

	key, err := store.NewKey()
	require.NoError(t, err)
	assert.Equal(t, "20240506_070809_123456_bbbbbbbb", key)
}

func TestStore_NewKeyGivesUp(t *testing.T) {
	store, cfg := newTestStore(t)
	store.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local) }
	store.suffix = func() string { return "00000000" }

	require.NoError(t, os.MkdirAll(filepath.Join(cfg.Root, cfg.ImagesDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Root, cfg.ImagesDir, "20240101_000000_000000_00000000.jpg"), nil, 0o644))

	_, err := store.NewKey()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorage))
}

func TestStore_FailureLeavesNoPartialRecord(t *testing.T) {
	store, cfg := newTestStore(t)

	store.write = func(path string, data []byte) error {
		if filepath.Ext(path) == ".jpg" {
			return &StorageError{Op: "write", Path: path, Err: errors.New("disk full")}
		}
		return writeFileAtomic(path, data)
	}

	_, err := store.PersistWithKey(context.Background(), "20240101_000000_000000_cafebabe", []byte("img"), evaluation.Evaluation{GoodPicture: true, Rate: 5, Reason: "r"}, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorage))

	_, err = os.Stat(filepath.Join(cfg.Root, cfg.RatesDir, "20240101_000000_000000_cafebabe.txt"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(cfg.Root, cfg.ImagesDir, "20240101_000000_000000_cafebabe.jpg"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(cfg.Root, cfg.ReasonsDir, "20240101_000000_000000_cafebabe.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestStore_ConcurrentPersistDistinctKeys(t *testing.T) {
	store, cfg := newTestStore(t)
	ev := evaluation.Evaluation{GoodPicture: true, Rate: 2, Reason: "fine"}

	const n = 16
	var wg sync.WaitGroup
	keys := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := store.Persist(context.Background(), []byte("img"), ev, "http://h")
			if assert.NoError(t, err) {
				keys <- rec.Key
			}
		}()
	}
	wg.Wait()
	close(keys)

	seen := map[string]bool{}
	for k := range keys {
		assert.False(t, seen[k], "duplicate key %s", k)
		seen[k] = true
	}
	images, err := os.ReadDir(filepath.Join(cfg.Root, cfg.ImagesDir))
	require.NoError(t, err)
	assert.Len(t, images, n)
}
