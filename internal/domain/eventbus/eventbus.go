package eventbus

import (
	evbus "github.com/asaskevich/EventBus"
)

// Publisher 事件发布接口，会话层只依赖它
type Publisher interface {
	PublishAsync(topic string, args ...interface{})
}

// Subscriber 事件订阅接口
type Subscriber interface {
	Subscribe(topic string, fn interface{}) error
	Unsubscribe(topic string, fn interface{}) error
}

// New 创建新的同步事件总线
func New() evbus.Bus {
	return evbus.New()
}

// Discard 丢弃所有事件的发布者
type Discard struct{}

func (Discard) PublishAsync(string, ...interface{}) {}
