package system

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/process"

	"camrate-server-go/internal/platform/errors"
	"camrate-server-go/internal/platform/logging"
	"camrate-server-go/internal/platform/observability"
	httptransport "camrate-server-go/internal/transport/http"
)

const pingTimeout = 5 * time.Second

// Pinger checks the model backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SessionCounter reports open websocket sessions.
type SessionCounter interface {
	Count() int
}

// Health is the /api/health payload.
type Health struct {
	Status     string  `json:"status"`
	Backend    string  `json:"backend"`
	Sessions   int     `json:"sessions"`
	Uptime     string  `json:"uptime"`
	Goroutines int     `json:"goroutines"`
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
}

// Service 健康检查与指标
type Service struct {
	backend  Pinger
	sessions SessionCounter
	logger   *logging.Logger
	started  time.Time
	proc     *process.Process
}

// NewService 创建系统服务实例
func NewService(backend Pinger, sessions SessionCounter, logger *logging.Logger) (*Service, error) {
	if logger == nil {
		return nil, errors.New(errors.KindConfig, "system.new", "logger is required")
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.WarnTag("HTTP", "无法读取进程信息: %v", err)
		proc = nil
	}

	return &Service{
		backend:  backend,
		sessions: sessions,
		logger:   logger,
		started:  time.Now(),
		proc:     proc,
	}, nil
}

// Register 注册健康检查和 prometheus 指标路由
func (s *Service) Register(router *httptransport.Router) {
	router.API.GET("/health", s.handleHealth)
	router.Engine.GET("/metrics", gin.WrapH(observability.Handler()))
}

func (s *Service) handleHealth(c *gin.Context) {
	health := Health{
		Status:     "ok",
		Backend:    "unknown",
		Uptime:     time.Since(s.started).Truncate(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
	}

	if s.sessions != nil {
		health.Sessions = s.sessions.Count()
	}

	if s.backend != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
		defer cancel()
		if err := s.backend.Ping(ctx); err != nil {
			s.logger.WarnTag("HTTP", "模型后端不可达: %v", err)
			health.Status = "degraded"
			health.Backend = "unreachable"
		} else {
			health.Backend = "reachable"
		}
	}

	if s.proc != nil {
		if mem, err := s.proc.MemoryInfoWithContext(c.Request.Context()); err == nil {
			health.RSSBytes = mem.RSS
		}
		if cpu, err := s.proc.CPUPercentWithContext(c.Request.Context()); err == nil {
			health.CPUPercent = cpu
		}
	}

	httptransport.RespondSuccess(c, http.StatusOK, health, health.Status)
}
