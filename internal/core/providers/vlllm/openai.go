package vlllm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sashabaranov/go-openai"
)

func (p *Provider) streamOpenAI(ctx context.Context, req Request, emit func(string) bool) error {
	mime := req.MIME
	if mime == "" {
		mime = "image/jpeg"
	}

	visionMessage := openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{
				Type: openai.ChatMessagePartTypeText,
				Text: req.Prompt,
			},
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL: fmt.Sprintf("data:%s;base64,%s", mime, req.ImageBase64),
				},
			},
		},
	}

	request := openai.ChatCompletionRequest{
		Model:       p.config.ModelName,
		Messages:    []openai.ChatCompletionMessage{visionMessage},
		Stream:      true,
		Temperature: float32(p.config.Temperature),
		TopP:        float32(p.config.TopP),
	}
	if p.config.MaxTokens > 0 {
		request.MaxTokens = p.config.MaxTokens
	}

	p.logger.InfoTag("网关", "发送多模态请求: model=%s image_b64=%d prompt=%d", p.config.ModelName, len(req.ImageBase64), len(req.Prompt))

	stream, err := p.openaiClient.CreateChatCompletionStream(ctx, request)
	if err != nil {
		p.logger.DebugTag("网关", "OpenAI Vision API调用失败: %v", err)
		return classifyRequestError(err)
	}
	defer stream.Close()

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			p.logger.DebugTag("网关", "读取流失败: %v", err)
			return classifyStreamError(err)
		}
		if len(response.Choices) == 0 {
			continue
		}
		if !emit(response.Choices[0].Delta.Content) {
			return ctx.Err()
		}
	}
}
