package httptransport

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"

	"camrate-server-go/internal/platform/config"
	"camrate-server-go/internal/platform/logging"
	"camrate-server-go/internal/platform/observability"
)

// Options configures the HTTP router builder.
type Options struct {
	Config *config.Config
	Logger *logging.Logger
}

// Router bundles together the gin engine and common route groups.
type Router struct {
	Engine  *gin.Engine
	API     *gin.RouterGroup
	Limiter *IPRateLimiter
}

// Build constructs a gin engine pre-configured with logging, recovery, CORS and observability middlewares.
func Build(opts Options) (*Router, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("http router requires config")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("http router requires logger")
	}
	cfg := opts.Config
	logger := opts.Logger

	if strings.EqualFold(cfg.Log.Level, "debug") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(loggingMiddleware(logger))
	engine.Use(observabilityMiddleware())

	if err := engine.SetTrustedProxies(nil); err != nil {
		return nil, fmt.Errorf("set trusted proxies: %w", err)
	}

	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Client-Id"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	prefix := cfg.Store.URLPrefix
	if prefix == "" {
		prefix = "/static"
	}
	engine.Use(static.Serve(prefix, static.LocalFile(cfg.Store.Root, false)))

	staticRoot := cfg.Server.StaticDir
	if staticRoot == "" {
		staticRoot = "./web"
	}
	engine.Use(static.Serve("/", static.LocalFile(staticRoot, false)))
	engine.NoRoute(indexFallback(staticRoot))

	limiter := NewIPRateLimiter(cfg.Server.RateLimit.RPS, cfg.Server.RateLimit.Burst)
	api := engine.Group("/api")
	api.Use(limiter.Middleware())

	return &Router{
		Engine:  engine,
		API:     api,
		Limiter: limiter,
	}, nil
}

// MountWebSocket registers the upgrade endpoint behind the rate limiter.
func (r *Router) MountWebSocket(path string, handler http.HandlerFunc) {
	if path == "" {
		path = "/ws"
	}
	r.Engine.GET(path, r.Limiter.Middleware(), gin.WrapF(handler))
}

// indexFallback serves the web root's index.html for unknown GET paths
// outside /api and the store prefix.
func indexFallback(root string) gin.HandlerFunc {
	index := filepath.Join(root, "index.html")
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet || strings.HasPrefix(c.Request.URL.Path, "/api/") {
			RespondError(c, http.StatusNotFound, "not found", nil)
			return
		}
		if _, err := os.Stat(index); err != nil {
			RespondError(c, http.StatusNotFound, "not found", nil)
			return
		}
		c.File(index)
	}
}

func loggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)
		status := c.Writer.Status()

		if logger != nil {
			logger.Info(
				"[HTTP] %s %s -> %d (%s)",
				c.Request.Method,
				c.Request.URL.Path,
				status,
				duration,
			)
		}
	}
}

func observabilityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		reqCtx, spanEnd := observability.StartSpan(c.Request.Context(), "http.server", path)
		var spanErr error
		c.Request = c.Request.WithContext(reqCtx)

		start := time.Now()
		c.Next()
		duration := time.Since(start)
		status := c.Writer.Status()

		if len(c.Errors) > 0 {
			spanErr = c.Errors.Last().Err
		} else if status >= http.StatusInternalServerError {
			spanErr = fmt.Errorf("status %d", status)
		}
		spanEnd(spanErr)

		observability.ObserveHTTP(c.Request.Method, path, status)
		observability.RecordMetric(
			reqCtx,
			"http.request.duration_ms",
			float64(duration.Milliseconds()),
			map[string]string{
				"component": "http.server",
				"method":    c.Request.Method,
				"path":      path,
				"status":    strconv.Itoa(status),
			},
		)
	}
}
