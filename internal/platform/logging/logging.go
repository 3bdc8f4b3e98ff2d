package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

// LogRetentionDays 日志保留天数
const LogRetentionDays = 7

// Config captures logging configuration options.
type Config struct {
	Level    string
	Dir      string
	Filename string
	// Console overrides stdout, mainly for tests.
	Console io.Writer
	NoColor bool
}

// Logger writes every record twice: coloured text on the console and JSON
// lines into a daily rotated file.
type Logger struct {
	cfg   Config
	level slog.Level

	mu          sync.RWMutex
	console     slog.Handler
	file        slog.Handler
	logFile     *os.File
	currentDate string

	ticker *time.Ticker
	stopCh chan struct{}
	once   sync.Once
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a Logger and starts the rotation checker when a log directory
// is configured.
func New(cfg Config) (*Logger, error) {
	level := parseLevel(cfg.Level)
	console := cfg.Console
	if console == nil {
		console = os.Stdout
	}

	l := &Logger{
		cfg:   cfg,
		level: level,
		console: tint.NewHandler(console, &tint.Options{
			Level:      level,
			TimeFormat: "2006-01-02 15:04:05.000",
			NoColor:    cfg.NoColor,
		}),
		currentDate: time.Now().Format("2006-01-02"),
		stopCh:      make(chan struct{}),
	}

	if cfg.Dir != "" {
		if cfg.Filename == "" {
			cfg.Filename = "server.log"
			l.cfg.Filename = cfg.Filename
		}
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建日志目录失败: %w", err)
		}
		if err := l.openFile(); err != nil {
			return nil, err
		}
		l.startRotationChecker()
	}

	return l, nil
}

// NewWriter returns a console-only logger, handy for tests and tools.
func NewWriter(w io.Writer, level string) *Logger {
	l, _ := New(Config{Level: level, Console: w, NoColor: true})
	return l
}

func (l *Logger) openFile() error {
	path := filepath.Join(l.cfg.Dir, l.cfg.Filename)
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("打开日志文件失败: %w", err)
	}
	l.logFile = file
	l.file = slog.NewJSONHandler(file, &slog.HandlerOptions{Level: l.level})
	return nil
}

func (l *Logger) startRotationChecker() {
	l.ticker = time.NewTicker(time.Minute)
	go func() {
		for {
			select {
			case <-l.ticker.C:
				l.checkAndRotate(time.Now())
			case <-l.stopCh:
				return
			}
		}
	}()
}

func (l *Logger) checkAndRotate(now time.Time) {
	today := now.Format("2006-01-02")
	l.mu.RLock()
	same := today == l.currentDate
	l.mu.RUnlock()
	if same {
		return
	}
	l.rotate(today)
	l.cleanOldLogs(now)
}

func (l *Logger) rotate(newDate string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile != nil {
		_ = l.logFile.Close()
	}

	base := strings.TrimSuffix(l.cfg.Filename, filepath.Ext(l.cfg.Filename))
	ext := filepath.Ext(l.cfg.Filename)
	current := filepath.Join(l.cfg.Dir, l.cfg.Filename)
	archived := filepath.Join(l.cfg.Dir, fmt.Sprintf("%s-%s%s", base, l.currentDate, ext))

	if _, err := os.Stat(current); err == nil {
		if err := os.Rename(current, archived); err != nil {
			l.emit(slog.LevelError, "重命名日志文件失败", slog.String("error", err.Error()))
		}
	}

	if err := l.openFile(); err != nil {
		l.file = nil
		l.logFile = nil
		l.emit(slog.LevelError, "创建新日志文件失败", slog.String("error", err.Error()))
		return
	}
	l.currentDate = newDate
}

func (l *Logger) cleanOldLogs(now time.Time) {
	entries, err := os.ReadDir(l.cfg.Dir)
	if err != nil {
		return
	}

	cutoff := now.AddDate(0, 0, -LogRetentionDays)
	base := strings.TrimSuffix(l.cfg.Filename, filepath.Ext(l.cfg.Filename))
	ext := filepath.Ext(l.cfg.Filename)

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, base+"-") || !strings.HasSuffix(name, ext) {
			continue
		}
		dateStr := strings.TrimSuffix(strings.TrimPrefix(name, base+"-"), ext)
		fileDate, err := time.Parse("2006-01-02", dateStr)
		if err != nil || !fileDate.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(l.cfg.Dir, name)); err != nil {
			l.WarnTag("日志", "删除旧日志文件失败 %s: %v", name, err)
		}
	}
}

// Close stops rotation and closes the log file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	var err error
	l.once.Do(func() {
		if l.ticker != nil {
			l.ticker.Stop()
		}
		close(l.stopCh)
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.logFile != nil {
			err = l.logFile.Close()
			l.logFile = nil
			l.file = nil
		}
	})
	return err
}

// emit must be called with l.mu held (read or write).
func (l *Logger) emit(level slog.Level, msg string, attrs ...slog.Attr) {
	ctx := context.Background()
	record := slog.NewRecord(time.Now(), level, msg, 0)
	record.AddAttrs(attrs...)
	if l.console.Enabled(ctx, level) {
		_ = l.console.Handle(ctx, record.Clone())
	}
	if l.file != nil && l.file.Enabled(ctx, level) {
		_ = l.file.Handle(ctx, record)
	}
}

func (l *Logger) logf(level slog.Level, format string, args ...interface{}) {
	if l == nil || level < l.level {
		return
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.emit(level, msg)
}

// FormatLog 构造带单一分类标签的日志消息。例如：FormatLog("引导", "服务已启动") -> "[引导] 服务已启动"
func FormatLog(tag, message string) string {
	tag = strings.TrimSpace(tag)
	message = strings.TrimSpace(message)
	if tag == "" || strings.HasPrefix(message, "[") {
		return message
	}
	return fmt.Sprintf("[%s] %s", tag, message)
}

func (l *Logger) Debug(format string, args ...interface{}) { l.logf(slog.LevelDebug, format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.logf(slog.LevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.logf(slog.LevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.logf(slog.LevelError, format, args...) }

// DebugTag 记录带分类标签的调试日志
func (l *Logger) DebugTag(tag, format string, args ...interface{}) {
	l.logf(slog.LevelDebug, FormatLog(tag, format), args...)
}

// InfoTag 记录带分类标签的信息日志
func (l *Logger) InfoTag(tag, format string, args ...interface{}) {
	l.logf(slog.LevelInfo, FormatLog(tag, format), args...)
}

// WarnTag 记录带分类标签的警告日志
func (l *Logger) WarnTag(tag, format string, args ...interface{}) {
	l.logf(slog.LevelWarn, FormatLog(tag, format), args...)
}

// ErrorTag 记录带分类标签的错误日志
func (l *Logger) ErrorTag(tag, format string, args ...interface{}) {
	l.logf(slog.LevelError, FormatLog(tag, format), args...)
}

// Slog exposes a structured logger that fans out to the same sinks.
func (l *Logger) Slog() *slog.Logger {
	return slog.New(&teeHandler{owner: l})
}

type teeHandler struct {
	owner *Logger
	attrs []slog.Attr
	group string
}

func (h *teeHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.owner.level
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(h.attrs...)
	if h.group != "" {
		r.Message = FormatLog(h.group, r.Message)
	}
	h.owner.mu.RLock()
	defer h.owner.mu.RUnlock()
	_ = h.owner.console.Handle(ctx, r.Clone())
	if h.owner.file != nil {
		return h.owner.file.Handle(ctx, r)
	}
	return nil
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &teeHandler{owner: h.owner, attrs: merged, group: h.group}
}

// WithGroup is rendered as a message tag instead of nesting attributes.
func (h *teeHandler) WithGroup(name string) slog.Handler {
	return &teeHandler{owner: h.owner, attrs: h.attrs, group: name}
}
