package services

import (
	"context"
	"errors"
)

// 出站事件类型
const (
	EventStream     = "stream"
	EventEvaluation = "evaluation"
	EventError      = "error"
	EventDone       = "done"
)

// 发给客户端的错误提示，不携带内部细节
const (
	MessageInvalidMessage = "invalid message"
	MessageInvalidImage   = "invalid image"
	MessageGatewayFailed  = "model backend unavailable"
	MessageParseFailed    = "could not parse evaluation"
	MessageStorageFailed  = "could not save evaluation"
	MessageInternalError  = "internal error"
)

// ErrDisconnected 连接已关闭，会话循环应安静退出
var ErrDisconnected = errors.New("connection closed")

// Event is one server to client message.
type Event struct {
	Type    string      `json:"type"`
	Content interface{} `json:"content,omitempty"`
}

// EvaluationContent is the payload of an evaluation event.
type EvaluationContent struct {
	GoodPicture bool   `json:"good_picture"`
	Rate        int    `json:"rate"`
	Reason      string `json:"reason"`
	ImageURL    string `json:"image_url"`
}

// Frame is one inbound client message. Present is false when the message
// carried no image field; Malformed is set when it could not be decoded.
type Frame struct {
	Image     string
	Present   bool
	Malformed bool
}

// Outbox delivers events to the client in call order.
type Outbox interface {
	Send(Event) error
}

// Inbox blocks until the next client message or until the connection ends.
type Inbox interface {
	Next(ctx context.Context) (Frame, error)
}

func isDisconnect(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrDisconnected) ||
		errors.Is(err, context.Canceled) ||
		ctx.Err() != nil
}
