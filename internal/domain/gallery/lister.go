package gallery

import (
	"bytes"
	"context"
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"

	"camrate-server-go/internal/platform/config"
)

const (
	dateLayout    = "2006-01-02 15:04:05"
	defaultRate   = 1
	defaultReason = "none"
)

// Item is one entry of the evaluation listing.
type Item struct {
	URL      string `json:"url"`
	Date     string `json:"date"`
	Filename string `json:"filename"`
	Rate     int    `json:"rate"`
	Reason   string `json:"reason"`
}

// Lister rebuilds the listing from the store directories. Missing or
// unreadable rate and reason files fall back to defaults.
type Lister struct {
	imagesDir  string
	ratesDir   string
	reasonsDir string
	urlPrefix  string
}

func NewLister(cfg config.StoreConfig) *Lister {
	return &Lister{
		imagesDir:  filepath.Join(cfg.Root, cfg.ImagesDir),
		ratesDir:   filepath.Join(cfg.Root, cfg.RatesDir),
		reasonsDir: filepath.Join(cfg.Root, cfg.ReasonsDir),
		urlPrefix:  "/" + strings.Trim(cfg.URLPrefix, "/"),
	}
}

// List returns items sorted by filename, newest first.
func (l *Lister) List(ctx context.Context) ([]Item, error) {
	entries, err := os.ReadDir(l.imagesDir)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return []Item{}, nil
		}
		return nil, &StorageError{Op: "read dir", Path: l.imagesDir, Err: err}
	}

	items := make([]Item, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.EqualFold(filepath.Ext(name), imageExt) {
			continue
		}
		key := strings.TrimSuffix(name, filepath.Ext(name))

		items = append(items, Item{
			URL:      l.urlPrefix + "/images/" + name,
			Date:     l.date(entry, key),
			Filename: name,
			Rate:     l.rate(key),
			Reason:   l.reason(key),
		})
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Filename > items[j].Filename })
	return items, nil
}

func (l *Lister) rate(key string) int {
	raw, err := os.ReadFile(filepath.Join(l.ratesDir, key+textExt))
	if err != nil {
		return defaultRate
	}
	rate, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return defaultRate
	}
	return rate
}

func (l *Lister) reason(key string) string {
	raw, err := os.ReadFile(filepath.Join(l.reasonsDir, key+textExt))
	if err != nil {
		return defaultReason
	}
	return string(raw)
}

// date prefers EXIF capture time, then the key timestamp, then mtime.
func (l *Lister) date(entry fs.DirEntry, key string) string {
	if raw, err := os.ReadFile(filepath.Join(l.imagesDir, entry.Name())); err == nil {
		if x, err := exif.Decode(bytes.NewReader(raw)); err == nil {
			if t, err := x.DateTime(); err == nil {
				return t.Format(dateLayout)
			}
		}
	}

	if len(key) >= len(keyTimeLayout) {
		if t, err := time.ParseInLocation(keyTimeLayout, key[:len(keyTimeLayout)], time.Local); err == nil {
			return t.Format(dateLayout)
		}
	}

	if info, err := entry.Info(); err == nil {
		return info.ModTime().Format(dateLayout)
	}
	return ""
}
