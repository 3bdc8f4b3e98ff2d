// Package vlllm talks to a multimodal chat backend and relays its streamed
// answer fragment by fragment.
package vlllm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"camrate-server-go/internal/platform/config"
	"camrate-server-go/internal/platform/logging"
	"camrate-server-go/internal/platform/observability"
)

const (
	TypeOpenAI = "openai"
	TypeOllama = "ollama"

	chunkBuffer = 16
)

// Request is one image plus the instruction sent alongside it.
type Request struct {
	ImageBase64 string
	MIME        string
	Prompt      string
}

// Chunk is either a text fragment or the terminal error of a stream.
type Chunk struct {
	Text string
	Err  error
}

// Provider VLLLM提供者，直接处理多模态API
type Provider struct {
	config     config.GatewayConfig
	logger     *logging.Logger
	httpClient *http.Client

	openaiClient *openai.Client
}

// NewProvider 创建新的VLLLM提供者，HTTP 连接池在进程内共享
func NewProvider(cfg config.GatewayConfig, logger *logging.Logger) (*Provider, error) {
	cfg.Type = strings.ToLower(strings.TrimSpace(cfg.Type))
	if cfg.Type == "" {
		cfg.Type = TypeOpenAI
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("gateway url is required")
	}

	p := &Provider{
		config: cfg,
		logger: logger,
		httpClient: newHTTPClient(transportOptions{
			ConnectTimeout: cfg.ConnectTimeout,
			ReadTimeout:    cfg.ReadTimeout,
			MaxIdleConns:   cfg.MaxIdleConns,
			MaxConns:       cfg.MaxConns,
			DialRetries:    cfg.DialRetries,
			SkipTLSVerify:  cfg.SkipTLSVerify,
		}),
	}

	switch cfg.Type {
	case TypeOpenAI:
		clientConfig := openai.DefaultConfig(cfg.APIKey)
		clientConfig.BaseURL = cfg.BaseURL
		clientConfig.HTTPClient = p.httpClient
		p.openaiClient = openai.NewClientWithConfig(clientConfig)
	case TypeOllama:
	default:
		return nil, fmt.Errorf("不支持的VLLLM类型: %s", cfg.Type)
	}

	logger.DebugTag("网关", "VLLLM Provider初始化成功: type=%s model_name=%s url=%s", cfg.Type, cfg.ModelName, cfg.BaseURL)
	return p, nil
}

// Type reports the configured backend flavour.
func (p *Provider) Type() string { return p.config.Type }

// Stream starts one streaming completion. The returned channel yields
// fragments in arrival order and is closed after completion or after a
// single Chunk carrying Err. Cancelling ctx aborts the request; nothing is
// sent once ctx is done.
func (p *Provider) Stream(ctx context.Context, req Request) <-chan Chunk {
	out := make(chan Chunk, chunkBuffer)

	go func() {
		defer close(out)
		ctx, end := observability.StartSpan(ctx, "gateway", "stream")

		filter := thinkFilter{active: true}
		emit := func(text string) bool {
			if p.config.StripThink {
				text = filter.apply(text)
			}
			if text == "" {
				return ctx.Err() == nil
			}
			select {
			case out <- Chunk{Text: text}:
				return true
			case <-ctx.Done():
				return false
			}
		}

		start := time.Now()
		var err error
		switch p.config.Type {
		case TypeOllama:
			err = p.streamOllama(ctx, req, emit)
		default:
			err = p.streamOpenAI(ctx, req, emit)
		}
		end(err)

		if ctx.Err() != nil {
			p.logger.DebugTag("网关", "请求已取消: %v", ctx.Err())
			return
		}
		if err != nil {
			p.logger.WarnTag("网关", "流式请求失败 (%s): %v", time.Since(start), err)
			select {
			case out <- Chunk{Err: err}:
			case <-ctx.Done():
			}
			return
		}
		p.logger.DebugTag("网关", "流式回复完成 (%s)", time.Since(start))
	}()

	return out
}

// Ping checks the backend is reachable.
func (p *Provider) Ping(ctx context.Context) error {
	url := p.config.BaseURL + "/models"
	if p.config.Type == TypeOllama {
		url = ollamaBase(p.config.BaseURL) + "/api/tags"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create ping request: %w", err)
	}
	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return classifyRequestError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// Close releases idle pooled connections.
func (p *Provider) Close() {
	p.httpClient.CloseIdleConnections()
}

// thinkFilter drops <think>...</think> sections from streamed text.
type thinkFilter struct {
	active bool
}

func (f *thinkFilter) apply(text string) string {
	var b strings.Builder
	for text != "" {
		if f.active {
			idx := strings.Index(text, "<think>")
			if idx < 0 {
				b.WriteString(text)
				break
			}
			b.WriteString(text[:idx])
			text = text[idx+len("<think>"):]
			f.active = false
			continue
		}
		idx := strings.Index(text, "</think>")
		if idx < 0 {
			break
		}
		text = text[idx+len("</think>"):]
		f.active = true
	}
	return b.String()
}
