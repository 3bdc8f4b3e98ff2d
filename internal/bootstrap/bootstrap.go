package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"camrate-server-go/internal/app/services"
	"camrate-server-go/internal/core/providers/vlllm"
	"camrate-server-go/internal/domain/eventbus"
	"camrate-server-go/internal/domain/gallery"
	"camrate-server-go/internal/domain/history"
	domainimage "camrate-server-go/internal/domain/image"
	platformconfig "camrate-server-go/internal/platform/config"
	platformerrors "camrate-server-go/internal/platform/errors"
	platformlogging "camrate-server-go/internal/platform/logging"
	platformobservability "camrate-server-go/internal/platform/observability"
	platformstorage "camrate-server-go/internal/platform/storage"
	httptransport "camrate-server-go/internal/transport/http"
	httpevaluations "camrate-server-go/internal/transport/http/evaluations"
	httpsystem "camrate-server-go/internal/transport/http/system"
	"camrate-server-go/internal/transport/ws"
)

const (
	startupPingTimeout = 5 * time.Second
	httpShutdownWait   = 10 * time.Second
	shutdownWait       = 15 * time.Second
	eventWorkers       = 2
	eventQueueSize     = 256
)

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	loader                *platformconfig.Loader
	config                *platformconfig.Config
	configPath            string
	logger                *platformlogging.Logger
	slogger               *slog.Logger
	observabilityShutdown platformobservability.ShutdownFunc
	bus                   *eventbus.AsyncEventBus
	db                    *gorm.DB
	history               history.Repository
	recorder              *history.Recorder
	gateway               *vlllm.Provider
	store                 *gallery.Store
	listing               *gallery.CachedLister
	pipeline              *domainimage.Pipeline
}

// Run 启动整个服务生命周期，负责加载配置、初始化依赖和优雅关停。
func Run(ctx context.Context) error {
	return run(ctx, platformconfig.NewLoader())
}

func run(ctx context.Context, loader *platformconfig.Loader) error {
	state := &appState{loader: loader}
	defer state.close()

	steps := InitGraph()
	if err := executeInitSteps(ctx, steps, state); err != nil {
		return err
	}

	if state.config == nil || state.logger == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"bootstrap state validation",
			"config/logger not initialised",
		)
	}
	logger := state.logger
	logBootstrapGraph(steps, logger)

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(signalCtx)

	if err := startServices(state, group, groupCtx); err != nil {
		cancel()
		_ = group.Wait()
		return err
	}

	logger.InfoTag("引导", "服务已成功启动")
	return waitForShutdown(groupCtx, cancel, logger, group)
}

func logBootstrapGraph(steps []initStep, logger *platformlogging.Logger) {
	if logger == nil {
		return
	}
	logger.InfoTag("引导", "初始化依赖关系概览")
	for _, step := range steps {
		if len(step.DependsOn) == 0 {
			logger.InfoTag("引导", "%s (%s)", step.ID, step.Title)
			continue
		}
		logger.InfoTag("引导", "%s (%s) <- %v", step.ID, step.Title, step.DependsOn)
	}
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"execute init steps",
			"nil bootstrap state",
		)
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(
				platformerrors.KindBootstrap,
				step.ID,
				"missing execute function",
			)
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}

			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "Initialise logging provider",
			DependsOn: []string{"config:load"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initLoggingStep,
		},
		{
			ID:        "observability:setup-hooks",
			Title:     "Setup observability hooks",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   setupObservabilityStep,
		},
		{
			ID:        "eventbus:init-bus",
			Title:     "Start event bus",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initEventBusStep,
		},
		{
			ID:        "storage:init-database",
			Title:     "Initialise database",
			DependsOn: []string{"config:load", "eventbus:init-bus"},
			Kind:      platformerrors.KindStorage,
			Execute:   initDatabaseStep,
		},
		{
			ID:        "gateway:init-client",
			Title:     "Initialise model gateway client",
			DependsOn: []string{"logging:init-provider", "observability:setup-hooks"},
			Kind:      platformerrors.KindGateway,
			Execute:   initGatewayStep,
		},
		{
			ID:        "gallery:init-store",
			Title:     "Initialise evaluation store",
			DependsOn: []string{"logging:init-provider", "eventbus:init-bus"},
			Kind:      platformerrors.KindStorage,
			Execute:   initGalleryStep,
		},
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	loader := state.loader
	if loader == nil {
		loader = platformconfig.NewLoader()
	}
	result, err := loader.Load()
	if err != nil {
		return err
	}
	state.config = result.Config
	state.configPath = result.Path
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	if state == nil || state.config == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"logging:init-provider",
			"config not loaded",
		)
	}

	logger, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "logging:init-provider", "failed to initialize logging provider", err)
	}

	state.logger = logger
	state.slogger = logger.Slog()
	state.logger.InfoTag(
		"引导",
		"日志模块就绪 [%s] %s",
		state.config.Log.Level,
		state.configPath,
	)
	return nil
}

func setupObservabilityStep(ctx context.Context, state *appState) error {
	if state == nil || state.logger == nil || state.config == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"observability:setup-hooks",
			"config/logger not initialised",
		)
	}

	shutdown, err := platformobservability.Setup(ctx, platformobservability.Config{
		Enabled: state.config.Observability.Enabled,
	}, state.slogger)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "observability:setup-hooks", "failed to setup observability hooks", err)
	}
	state.observabilityShutdown = shutdown
	return nil
}

func initEventBusStep(_ context.Context, state *appState) error {
	state.bus = eventbus.NewAsyncEventBus(eventWorkers, eventQueueSize, state.logger)
	state.bus.Start()
	return nil
}

func initDatabaseStep(_ context.Context, state *appState) error {
	db, err := platformstorage.Open(platformstorage.Config{DSN: state.config.Database.DSN})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "storage:init-database", "failed to initialize database", err)
	}
	state.db = db
	state.history = history.NewRepository(db)
	state.recorder = history.NewRecorder(state.history, state.logger, state.config.Database.HistoryRetention)
	if err := state.recorder.Attach(state.bus); err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "storage:init-database", "failed to subscribe round history", err)
	}

	state.logger.InfoTag("引导", "数据库就绪 %s", state.config.Database.DSN)
	return nil
}

func initGatewayStep(_ context.Context, state *appState) error {
	provider, err := vlllm.NewProvider(state.config.Gateway, state.logger)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindGateway, "gateway:init-client", "failed to create gateway client", err)
	}
	state.gateway = provider
	state.logger.InfoTag("引导", "模型网关 %s %s model=%s", provider.Type(), state.config.Gateway.BaseURL, state.config.Gateway.ModelName)
	return nil
}

func initGalleryStep(_ context.Context, state *appState) error {
	cfg := state.config

	for _, dir := range []string{cfg.Store.ImagesDir, cfg.Store.RatesDir, cfg.Store.ReasonsDir} {
		if err := os.MkdirAll(filepath.Join(cfg.Store.Root, dir), 0o755); err != nil {
			return platformerrors.Wrap(platformerrors.KindStorage, "gallery:init-store", "failed to create store directories", err)
		}
	}
	state.store = gallery.NewStore(cfg.Store, state.logger)

	cache, err := gallery.NewCache(cfg.Gallery.Cache)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "gallery:init-store", "failed to create listing cache", err)
	}
	state.listing = gallery.NewCachedLister(gallery.NewLister(cfg.Store), cache, state.logger)

	listing := state.listing
	if err := eventbus.OnEvaluationPersisted(state.bus, func(eventbus.EvaluationPersisted) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		listing.Invalidate(ctx)
	}); err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "gallery:init-store", "failed to subscribe cache invalidation", err)
	}

	pipeline, err := domainimage.NewPipeline(domainimage.Options{
		Security: &cfg.Image,
		Logger:   state.logger,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "gallery:init-store", "failed to create image pipeline", err)
	}
	state.pipeline = pipeline

	state.logger.InfoTag("引导", "评估存储目录 %s (缓存 %s)", cfg.Store.Root, cfg.Gallery.Cache.Driver)
	return nil
}

func startServices(state *appState, g *errgroup.Group, groupCtx context.Context) error {
	if state.recorder != nil {
		g.Go(func() error {
			return state.recorder.Run(groupCtx)
		})
	}

	go checkGateway(groupCtx, state.gateway, state.logger)

	_, err := startHTTPServer(state, g, groupCtx)
	return err
}

// checkGateway only logs; an unreachable backend must not stop the server.
func checkGateway(ctx context.Context, gateway *vlllm.Provider, logger *platformlogging.Logger) {
	if gateway == nil {
		return
	}
	pingCtx, cancel := context.WithTimeout(ctx, startupPingTimeout)
	defer cancel()
	if err := gateway.Ping(pingCtx); err != nil {
		logger.ErrorTag("网关", "模型后端连接失败，请确认服务已启动: %v", err)
		return
	}
	logger.InfoTag("网关", "模型后端连接正常")
}

func startHTTPServer(state *appState, g *errgroup.Group, groupCtx context.Context) (*http.Server, error) {
	config := state.config
	logger := state.logger

	httpRouter, err := httptransport.Build(httptransport.Options{
		Config: config,
		Logger: logger,
	})
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindTransport, "http:build-router", "failed to build router", err)
	}

	publisher := eventbus.Publisher(eventbus.Discard{})
	if state.bus != nil {
		publisher = state.bus
	}

	factory, err := services.NewSessionFactory(services.SessionFactoryConfig{
		Gateway:   state.gateway,
		Store:     state.store,
		Pipeline:  state.pipeline,
		Publisher: publisher,
		Logger:    logger,
		Server:    config.Server,
		Prompt:    config.Evaluation.Prompt,
	})
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindBootstrap, "ws:new-session-factory", "failed to create session factory", err)
	}

	hub := ws.NewHub(logger)
	wsRouter := ws.NewRouter(hub, logger, ws.RouterOptions{
		HandshakeTimeout: config.Server.WebSocket.HandshakeTimeout,
		BaseContext:      groupCtx,
		QueueSize:        config.Server.WebSocket.QueueSize,
		MaxMessageSize:   config.Server.WebSocket.MaxMessageSize,
	})
	wsRouter.SetHandlerBuilder(func(conn *ws.Connection, req *http.Request) (ws.SessionHandler, error) {
		return factory.New(conn, conn, req), nil
	})
	httpRouter.MountWebSocket(config.Server.WebSocket.Path, wsRouter.Handle)

	evaluationsService, err := httpevaluations.NewService(state.listing, state.history, logger)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindTransport, "evaluations:new-service", "failed to create evaluations service", err)
	}
	systemService, err := httpsystem.NewService(state.gateway, hub, logger)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindTransport, "system:new-service", "failed to create system service", err)
	}
	evaluationsService.Register(httpRouter)
	systemService.Register(httpRouter)

	addr := net.JoinHostPort(config.Server.IP, strconv.Itoa(config.Server.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           httpRouter.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	useTLS := fileExists(config.Server.TLS.CertFile) && fileExists(config.Server.TLS.KeyFile)
	if !useTLS {
		logger.WarnTag("HTTP", "未找到TLS证书，使用HTTP启动 (浏览器摄像头需要HTTPS或localhost)")
	}

	g.Go(func() error {
		scheme := "http"
		if useTLS {
			scheme = "https"
		}
		logger.InfoTag("HTTP", "Gin 服务已启动，访问地址 %s://%s", scheme, addr)
		logger.InfoTag("HTTP", "WebSocket 入口: %s://%s%s", scheme, addr, config.Server.WebSocket.Path)

		go func() {
			<-groupCtx.Done()
			hub.CloseAll(ws.ErrSessionShutdown)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownWait)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.ErrorTag("HTTP", "HTTP 服务关闭失败: %v", err)
			} else {
				logger.InfoTag("HTTP", "HTTP 服务已优雅关闭")
			}
		}()

		var serveErr error
		if useTLS {
			serveErr = httpServer.ListenAndServeTLS(config.Server.TLS.CertFile, config.Server.TLS.KeyFile)
		} else {
			serveErr = httpServer.ListenAndServe()
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.ErrorTag("HTTP", "HTTP 服务启动失败: %v", serveErr)
			return platformerrors.Wrap(platformerrors.KindTransport, "http:serve", "http server failed", serveErr)
		}
		return nil
	})

	return httpServer, nil
}

func waitForShutdown(
	ctx context.Context,
	cancel context.CancelFunc,
	logger *platformlogging.Logger,
	g *errgroup.Group,
) error {
	<-ctx.Done()
	logger.InfoTag("引导", "收到关闭信号 %v，正在进行资源清理", context.Cause(ctx))
	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag("引导", "服务关闭过程中出现错误: %v", err)
			return err
		}
		logger.InfoTag("引导", "所有服务已成功关闭")
	case <-time.After(shutdownWait):
		logger.WarnTag("引导", "服务关闭超时，强制退出")
	}
	return nil
}

// close releases everything the init steps created, in reverse order.
func (s *appState) close() {
	if s.bus != nil {
		s.bus.Stop()
	}
	if s.listing != nil {
		if err := s.listing.Close(); err != nil && s.logger != nil {
			s.logger.WarnTag("引导", "列表缓存未正常关闭: %v", err)
		}
	}
	if s.gateway != nil {
		s.gateway.Close()
	}
	if s.db != nil {
		if err := platformstorage.Close(s.db); err != nil && s.logger != nil {
			s.logger.WarnTag("引导", "数据库未正常关闭: %v", err)
		}
	}
	if s.observabilityShutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.observabilityShutdown(shutdownCtx); err != nil && s.logger != nil {
			s.logger.WarnTag("引导", "可观测性未正常关闭: %v", err)
		}
	}
	if s.logger != nil {
		_ = s.logger.Close()
	}
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
