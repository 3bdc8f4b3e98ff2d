package evaluations

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"camrate-server-go/internal/domain/gallery"
	"camrate-server-go/internal/domain/history"
	"camrate-server-go/internal/platform/errors"
	"camrate-server-go/internal/platform/logging"
	httptransport "camrate-server-go/internal/transport/http"
)

// Lister produces the gallery read model.
type Lister interface {
	List(ctx context.Context) ([]gallery.Item, error)
}

// Service 评估列表与轮次历史的HTTP传输层实现
type Service struct {
	lister  Lister
	history history.Repository
	logger  *logging.Logger
}

// NewService 创建新的评估服务实例，history 可以为空
func NewService(lister Lister, repo history.Repository, logger *logging.Logger) (*Service, error) {
	if lister == nil {
		return nil, errors.New(errors.KindConfig, "evaluations.new", "lister is required")
	}
	if logger == nil {
		return nil, errors.New(errors.KindConfig, "evaluations.new", "logger is required")
	}
	return &Service{lister: lister, history: repo, logger: logger}, nil
}

// Register 注册评估相关的HTTP路由
func (s *Service) Register(router *httptransport.Router) {
	router.API.GET("/evaluations", gzip.Gzip(gzip.DefaultCompression), s.handleList)
	router.API.GET("/rounds", s.handleRounds)
	router.API.GET("/rounds/stats", s.handleStats)

	s.logger.InfoTag("HTTP", "评估服务路由注册完成")
}

// handleList 返回评估列表，按文件名倒序
func (s *Service) handleList(c *gin.Context) {
	items, err := s.lister.List(c.Request.Context())
	if err != nil {
		s.logger.ErrorTag("HTTP", "读取评估列表失败: %v", err)
		httptransport.RespondError(c, http.StatusInternalServerError, "could not list evaluations", nil)
		return
	}
	if items == nil {
		items = []gallery.Item{}
	}
	c.JSON(http.StatusOK, items)
}

func (s *Service) handleRounds(c *gin.Context) {
	if s.history == nil {
		httptransport.RespondError(c, http.StatusServiceUnavailable, "round history disabled", nil)
		return
	}

	limit := history.DefaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httptransport.RespondError(c, http.StatusBadRequest, "limit must be a positive integer", nil)
			return
		}
		limit = n
	}

	rounds, err := s.history.Recent(c.Request.Context(), limit)
	if err != nil {
		s.logger.ErrorTag("HTTP", "查询轮次历史失败: %v", err)
		httptransport.RespondError(c, http.StatusInternalServerError, "could not load rounds", nil)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, rounds, "")
}

func (s *Service) handleStats(c *gin.Context) {
	if s.history == nil {
		httptransport.RespondError(c, http.StatusServiceUnavailable, "round history disabled", nil)
		return
	}

	stats, err := s.history.Stats(c.Request.Context())
	if err != nil {
		s.logger.ErrorTag("HTTP", "统计轮次失败: %v", err)
		httptransport.RespondError(c, http.StatusInternalServerError, "could not load stats", nil)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, stats, "")
}
