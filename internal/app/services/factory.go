package services

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"camrate-server-go/internal/domain/eventbus"
	"camrate-server-go/internal/domain/image"
	"camrate-server-go/internal/platform/config"
	"camrate-server-go/internal/platform/logging"
)

// SessionFactoryConfig 会话工厂配置，依赖在进程启动时创建一次
type SessionFactoryConfig struct {
	Gateway   Gateway
	Store     RecordStore
	Pipeline  *image.Pipeline
	Publisher eventbus.Publisher
	Logger    *logging.Logger
	Server    config.ServerConfig
	Prompt    string
}

// SessionFactory 为每个连接创建 EvaluationSession，共享网关和存储
type SessionFactory struct {
	cfg SessionFactoryConfig
}

// NewSessionFactory 创建会话工厂
func NewSessionFactory(cfg SessionFactoryConfig) (*SessionFactory, error) {
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("image pipeline is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.Publisher == nil {
		cfg.Publisher = eventbus.Discard{}
	}
	if strings.TrimSpace(cfg.Prompt) == "" {
		cfg.Prompt = config.DefaultPrompt
	}
	return &SessionFactory{cfg: cfg}, nil
}

// New 为一个已升级的连接创建会话。req 为升级请求，用于确定图片URL的主机
func (f *SessionFactory) New(inbox Inbox, outbox Outbox, req *http.Request) *EvaluationSession {
	return &EvaluationSession{
		id:        uuid.NewString(),
		baseURL:   ResolveBaseURL(req, f.cfg.Server),
		prompt:    f.cfg.Prompt,
		inbox:     inbox,
		outbox:    outbox,
		gateway:   f.cfg.Gateway,
		store:     f.cfg.Store,
		pipeline:  f.cfg.Pipeline,
		publisher: f.cfg.Publisher,
		logger:    f.cfg.Logger,
		now:       time.Now,
	}
}

// ResolveBaseURL picks the scheme and host persisted image URLs point at.
// The upgrade request wins (forwarded headers first), public_host is the
// fallback, and force_public_host makes the configured value always win.
func ResolveBaseURL(req *http.Request, server config.ServerConfig) string {
	scheme, host := "", ""
	if req != nil {
		host = firstValue(req.Header.Get("X-Forwarded-Host"))
		scheme = strings.ToLower(firstValue(req.Header.Get("X-Forwarded-Proto")))
		if host == "" {
			host = req.Host
		}
		if scheme == "" {
			if req.TLS != nil {
				scheme = "https"
			} else {
				scheme = "http"
			}
		}
	}

	switch scheme {
	case "ws":
		scheme = "http"
	case "wss":
		scheme = "https"
	}

	if server.ForcePublicHost || host == "" {
		public := strings.TrimRight(strings.TrimSpace(server.PublicHost), "/")
		if public == "" {
			return ""
		}
		if strings.Contains(public, "://") {
			return public
		}
		host = public
		if scheme == "" {
			scheme = "http"
			if server.TLS.CertFile != "" && server.TLS.KeyFile != "" {
				scheme = "https"
			}
		}
	}

	return scheme + "://" + host
}

func firstValue(header string) string {
	if idx := strings.IndexByte(header, ','); idx >= 0 {
		header = header[:idx]
	}
	return strings.TrimSpace(header)
}
