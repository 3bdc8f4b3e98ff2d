// Package gallery persists accepted photos with their evaluation and serves
// the read model listing them.
package gallery

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"camrate-server-go/internal/domain/evaluation"
	"camrate-server-go/internal/platform/config"
	"camrate-server-go/internal/platform/logging"
)

const (
	keyTimeLayout  = "20060102_150405"
	maxKeyAttempts = 5
	imageExt       = ".jpg"
	textExt        = ".txt"
)

var (
	ErrStorage   = stderrors.New("storage failure")
	ErrKeyExists = stderrors.New("record key already in use")
)

// StorageError carries the failing operation and path.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// Record describes one persisted evaluation.
type Record struct {
	Key        string
	Filename   string
	ImageURL   string
	Evaluation evaluation.Evaluation
	CreatedAt  time.Time
}

// Store writes image, rate and reason files under a shared key.
type Store struct {
	imagesDir  string
	ratesDir   string
	reasonsDir string
	urlPrefix  string
	logger     *logging.Logger

	now    func() time.Time
	suffix func() string
	write  func(path string, data []byte) error
}

func NewStore(cfg config.StoreConfig, logger *logging.Logger) *Store {
	return &Store{
		imagesDir:  filepath.Join(cfg.Root, cfg.ImagesDir),
		ratesDir:   filepath.Join(cfg.Root, cfg.RatesDir),
		reasonsDir: filepath.Join(cfg.Root, cfg.ReasonsDir),
		urlPrefix:  "/" + strings.Trim(cfg.URLPrefix, "/"),
		logger:     logger,
		now:        time.Now,
		suffix:     randomSuffix,
		write:      writeFileAtomic,
	}
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func (s *Store) paths(key string) (image, rate, reason string) {
	return filepath.Join(s.imagesDir, key+imageExt),
		filepath.Join(s.ratesDir, key+textExt),
		filepath.Join(s.reasonsDir, key+textExt)
}

func (s *Store) inUse(key string) (bool, error) {
	image, rate, reason := s.paths(key)
	for _, p := range []string{image, rate, reason} {
		_, err := os.Lstat(p)
		if err == nil {
			return true, nil
		}
		if !stderrors.Is(err, fs.ErrNotExist) {
			return false, &StorageError{Op: "stat", Path: p, Err: err}
		}
	}
	return false, nil
}

// NewKey returns a timestamp key with a random suffix that no record uses yet.
func (s *Store) NewKey() (string, error) {
	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		now := s.now()
		key := fmt.Sprintf("%s_%06d_%s", now.Format(keyTimeLayout), now.Nanosecond()/1000, s.suffix())
		used, err := s.inUse(key)
		if err != nil {
			return "", err
		}
		if !used {
			return key, nil
		}
		s.logger.WarnTag("存储", "记录键冲突，重试: %s", key)
	}
	return "", &StorageError{Op: "new key", Err: fmt.Errorf("%w after %d attempts", ErrKeyExists, maxKeyAttempts)}
}

// Persist stores a record under a freshly generated key.
func (s *Store) Persist(ctx context.Context, image []byte, ev evaluation.Evaluation, baseURL string) (Record, error) {
	key, err := s.NewKey()
	if err != nil {
		return Record{}, err
	}
	return s.PersistWithKey(ctx, key, image, ev, baseURL)
}

// PersistWithKey writes rate, reason and finally the image, each through a
// temp file and rename. If any step fails the files already written are
// removed again so no partial record is left behind.
func (s *Store) PersistWithKey(ctx context.Context, key string, image []byte, ev evaluation.Evaluation, baseURL string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, &StorageError{Op: "persist", Err: err}
	}
	used, err := s.inUse(key)
	if err != nil {
		return Record{}, err
	}
	if used {
		return Record{}, &StorageError{Op: "persist", Path: key, Err: ErrKeyExists}
	}

	imagePath, ratePath, reasonPath := s.paths(key)
	steps := []struct {
		path string
		data []byte
	}{
		{ratePath, []byte(strconv.Itoa(ev.Rate))},
		{reasonPath, []byte(ev.Reason)},
		{imagePath, image},
	}

	written := make([]string, 0, len(steps))
	for _, step := range steps {
		if err := s.write(step.path, step.data); err != nil {
			for _, p := range written {
				_ = os.Remove(p)
			}
			return Record{}, err
		}
		written = append(written, step.path)
	}

	filename := key + imageExt
	record := Record{
		Key:        key,
		Filename:   filename,
		ImageURL:   strings.TrimRight(baseURL, "/") + s.urlPrefix + "/images/" + filename,
		Evaluation: ev,
		CreatedAt:  s.now(),
	}
	s.logger.InfoTag("存储", "记录已保存: key=%s rate=%d size=%d", key, ev.Rate, len(image))
	return record, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &StorageError{Op: "mkdir", Path: dir, Err: err}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return &StorageError{Op: "create temp", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return &StorageError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return &StorageError{Op: "sync", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return &StorageError{Op: "close", Path: path, Err: err}
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return &StorageError{Op: "chmod", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return &StorageError{Op: "rename", Path: path, Err: err}
	}
	return nil
}
