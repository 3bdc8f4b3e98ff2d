package vlllm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OllamaRequest Ollama API请求结构
type OllamaRequest struct {
	Model    string                 `json:"model"`
	Messages []OllamaMessage        `json:"messages"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

// OllamaMessage Ollama消息结构
type OllamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"` // 纯base64，不带data URL前缀
}

// OllamaResponse Ollama API响应结构
type OllamaResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Message   struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

// ollamaBase strips an OpenAI-compatible /v1 suffix so one url setting
// serves both backend types.
func ollamaBase(url string) string {
	return strings.TrimSuffix(strings.TrimRight(url, "/"), "/v1")
}

func (p *Provider) streamOllama(ctx context.Context, req Request, emit func(string) bool) error {
	options := map[string]interface{}{
		"temperature": p.config.Temperature,
		"top_p":       p.config.TopP,
	}
	if p.config.MaxTokens > 0 {
		options["num_predict"] = p.config.MaxTokens
	}

	body, err := json.Marshal(OllamaRequest{
		Model: p.config.ModelName,
		Messages: []OllamaMessage{{
			Role:    "user",
			Content: req.Prompt,
			Images:  []string{req.ImageBase64},
		}},
		Stream:  true,
		Options: options,
	})
	if err != nil {
		return fmt.Errorf("%w: encode request: %v", ErrStream, err)
	}

	url := ollamaBase(p.config.BaseURL) + "/api/chat"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	p.logger.InfoTag("网关", "向Ollama发送多模态请求: url=%s model=%s image_b64=%d", url, p.config.ModelName, len(req.ImageBase64))

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return classifyRequestError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		p.logger.DebugTag("网关", "Ollama API返回错误: status=%d body=%s", resp.StatusCode, raw)
		return &StatusError{Code: resp.StatusCode}
	}

	decoder := json.NewDecoder(resp.Body)
	for {
		var chunk OllamaResponse
		if err := decoder.Decode(&chunk); err != nil {
			if errors.Is(err, io.EOF) {
				p.logger.WarnTag("网关", "Ollama 流在 done 之前结束")
				return nil
			}
			return classifyStreamError(err)
		}
		if chunk.Error != "" {
			p.logger.DebugTag("网关", "Ollama 流内错误: %s", chunk.Error)
			return fmt.Errorf("%w: backend reported an error", ErrStream)
		}
		if !emit(chunk.Message.Content) {
			return ctx.Err()
		}
		if chunk.Done {
			return nil
		}
	}
}
