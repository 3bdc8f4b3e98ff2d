package eventbus

import "time"

// 事件主题
const (
	TopicRoundCompleted      = "round.completed"
	TopicEvaluationPersisted = "evaluation.persisted"
)

// 轮次结果
const (
	OutcomeAccepted      = "accepted"
	OutcomeRejected      = "rejected"
	OutcomeParseFailed   = "parse_failed"
	OutcomeGatewayFailed = "gateway_failed"
	OutcomeStorageFailed = "storage_failed"
	OutcomeInvalidImage  = "invalid_image"
	OutcomeInternalError = "internal_error"
	OutcomeCancelled     = "cancelled"
)

// RoundSummary 一个评估轮次结束后的摘要
type RoundSummary struct {
	SessionID     string                 `json:"session_id"`
	Outcome       string                 `json:"outcome"`
	RecordKey     string                 `json:"record_key,omitempty"`
	Rate          int                    `json:"rate,omitempty"`
	Fragments     int                    `json:"fragments"`
	ResponseBytes int                    `json:"response_bytes"`
	Duration      time.Duration          `json:"duration"`
	Detail        map[string]interface{} `json:"detail,omitempty"`
	CompletedAt   time.Time              `json:"completed_at"`
}

// EvaluationPersisted 评估记录落盘事件
type EvaluationPersisted struct {
	SessionID string    `json:"session_id"`
	Key       string    `json:"key"`
	Filename  string    `json:"filename"`
	ImageURL  string    `json:"image_url"`
	Rate      int       `json:"rate"`
	CreatedAt time.Time `json:"created_at"`
}
