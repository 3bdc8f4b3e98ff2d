package services

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"camrate-server-go/internal/core/providers/vlllm"
	"camrate-server-go/internal/domain/evaluation"
	"camrate-server-go/internal/domain/eventbus"
	"camrate-server-go/internal/domain/gallery"
	"camrate-server-go/internal/domain/image"
	"camrate-server-go/internal/platform/logging"
	"camrate-server-go/internal/platform/observability"
)

// Gateway streams the model's answer for one image.
type Gateway interface {
	Stream(ctx context.Context, req vlllm.Request) <-chan vlllm.Chunk
}

// RecordStore persists an accepted evaluation.
type RecordStore interface {
	Persist(ctx context.Context, image []byte, ev evaluation.Evaluation, baseURL string) (gallery.Record, error)
}

// EvaluationSession 处理单个连接上的评估轮次，轮次严格串行
type EvaluationSession struct {
	id        string
	baseURL   string
	prompt    string
	inbox     Inbox
	outbox    Outbox
	gateway   Gateway
	store     RecordStore
	pipeline  *image.Pipeline
	publisher eventbus.Publisher
	logger    *logging.Logger
	now       func() time.Time
}

// ID returns the session identifier.
func (s *EvaluationSession) ID() string {
	return s.id
}

// BaseURL is the scheme and host used for persisted image URLs.
func (s *EvaluationSession) BaseURL() string {
	return s.baseURL
}

// Handle 运行会话循环，直到连接断开或 ctx 被取消
func (s *EvaluationSession) Handle(ctx context.Context) error {
	s.logger.InfoTag("会话", "会话 %s 开始, base=%s", s.id, s.baseURL)
	defer s.logger.InfoTag("会话", "会话 %s 结束", s.id)

	for {
		frame, err := s.inbox.Next(ctx)
		if err != nil {
			if isDisconnect(ctx, err) {
				return nil
			}
			return err
		}

		if frame.Malformed {
			s.logger.WarnTag("会话", "会话 %s 收到无法解析的消息", s.id)
			if err := s.closeRound(MessageInvalidMessage); err != nil {
				return nil
			}
			continue
		}
		if !frame.Present {
			continue
		}

		if err := s.round(ctx, frame); err != nil {
			s.logger.DebugTag("会话", "会话 %s 轮次中断: %v", s.id, err)
			return nil
		}
	}
}

// round runs one frame to done. A non-nil error means the client is gone
// and no done was sent.
func (s *EvaluationSession) round(ctx context.Context, frame Frame) (err error) {
	roundCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	started := s.now()
	acc := &evaluation.Accumulator{}
	summary := eventbus.RoundSummary{SessionID: s.id}

	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorTag("会话", "会话 %s 评估轮次异常: %v\n%s", s.id, r, debug.Stack())
			summary.Outcome = eventbus.OutcomeInternalError
			summary.Detail = map[string]interface{}{"panic": fmt.Sprint(r)}
			err = s.closeRound(MessageInternalError)
		}
		if err != nil {
			summary.Outcome = eventbus.OutcomeCancelled
		}
		s.complete(summary, acc, started)
	}()

	if err = s.evaluate(roundCtx, frame, acc, &summary); err != nil {
		return err
	}
	return s.send(Event{Type: EventDone})
}

// evaluate runs everything up to, but not including, done. It only
// returns an error when the client can no longer be reached.
func (s *EvaluationSession) evaluate(ctx context.Context, frame Frame, acc *evaluation.Accumulator, summary *eventbus.RoundSummary) error {
	out, err := s.decode(ctx, frame)
	if err != nil {
		s.logger.WarnTag("会话", "会话 %s 图片无效: %v", s.id, err)
		summary.Outcome = eventbus.OutcomeInvalidImage
		summary.Detail = map[string]interface{}{"error": err.Error()}
		return s.send(errorEvent(MessageInvalidImage))
	}

	mime, payload, err := s.pipeline.Upstream(out)
	if err != nil {
		s.logger.ErrorTag("会话", "会话 %s 准备上游图片失败: %v", s.id, err)
		summary.Outcome = eventbus.OutcomeInternalError
		summary.Detail = map[string]interface{}{"error": err.Error()}
		return s.send(errorEvent(MessageInternalError))
	}

	s.logger.DebugTag("会话", "会话 %s 请求模型 format=%s %dx%d", s.id, out.Format, out.Width, out.Height)

	var streamErr error
	for chunk := range s.gateway.Stream(ctx, vlllm.Request{ImageBase64: payload, MIME: mime, Prompt: s.prompt}) {
		if chunk.Err != nil {
			streamErr = chunk.Err
			break
		}
		acc.Append(chunk.Text)
		observability.StreamFragmentsTotal.Inc()
		if err := s.send(Event{Type: EventStream, Content: chunk.Text}); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if streamErr != nil {
		s.logger.ErrorTag("会话", "会话 %s 模型流失败: %v", s.id, streamErr)
		summary.Outcome = eventbus.OutcomeGatewayFailed
		summary.Detail = map[string]interface{}{"error": streamErr.Error()}
		return s.send(errorEvent(MessageGatewayFailed))
	}

	ev, err := evaluation.Extract(acc.String())
	if err != nil {
		s.logger.WarnTag("会话", "会话 %s 解析评估失败: %v", s.id, err)
		s.logger.DebugTag("会话", "会话 %s 原始响应: %s", s.id, acc.String())
		summary.Outcome = eventbus.OutcomeParseFailed
		summary.Detail = map[string]interface{}{"error": err.Error()}
		return s.send(errorEvent(MessageParseFailed))
	}
	summary.Rate = ev.Rate

	if !ev.GoodPicture {
		s.logger.InfoTag("会话", "会话 %s 照片未通过 rate=%d", s.id, ev.Rate)
		summary.Outcome = eventbus.OutcomeRejected
		return nil
	}

	record, err := s.store.Persist(ctx, out.Bytes, ev, s.baseURL)
	if err != nil {
		s.logger.ErrorTag("会话", "会话 %s 保存评估失败: %v", s.id, err)
		summary.Outcome = eventbus.OutcomeStorageFailed
		summary.Detail = map[string]interface{}{"error": err.Error()}
		return s.send(errorEvent(MessageStorageFailed))
	}

	summary.Outcome = eventbus.OutcomeAccepted
	summary.RecordKey = record.Key
	s.logger.InfoTag("会话", "会话 %s 已保存 %s rate=%d", s.id, record.ImageURL, ev.Rate)
	s.publisher.PublishAsync(eventbus.TopicEvaluationPersisted, eventbus.EvaluationPersisted{
		SessionID: s.id,
		Key:       record.Key,
		Filename:  record.Filename,
		ImageURL:  record.ImageURL,
		Rate:      ev.Rate,
		CreatedAt: record.CreatedAt,
	})

	return s.send(Event{Type: EventEvaluation, Content: EvaluationContent{
		GoodPicture: ev.GoodPicture,
		Rate:        ev.Rate,
		Reason:      ev.Reason,
		ImageURL:    record.ImageURL,
	}})
}

func (s *EvaluationSession) decode(ctx context.Context, frame Frame) (*image.Output, error) {
	raw, err := image.DecodeFrame(frame.Image)
	if err != nil {
		return nil, err
	}
	return s.pipeline.Process(ctx, image.Input{Bytes: raw, Source: "websocket"})
}

func (s *EvaluationSession) complete(summary eventbus.RoundSummary, acc *evaluation.Accumulator, started time.Time) {
	completed := s.now()
	summary.Fragments = acc.Fragments()
	summary.ResponseBytes = acc.Len()
	summary.Duration = completed.Sub(started)
	summary.CompletedAt = completed

	observability.ObserveRound(summary.Outcome, summary.Duration)
	s.publisher.PublishAsync(eventbus.TopicRoundCompleted, summary)
}

// closeRound reports a generic failure and ends the round.
func (s *EvaluationSession) closeRound(message string) error {
	if err := s.send(errorEvent(message)); err != nil {
		return err
	}
	return s.send(Event{Type: EventDone})
}

func (s *EvaluationSession) send(event Event) error {
	if err := s.outbox.Send(event); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return nil
}

func errorEvent(message string) Event {
	return Event{Type: EventError, Content: message}
}
