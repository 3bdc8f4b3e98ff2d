package eventbus

import (
	"sync"
	"sync/atomic"

	evbus "github.com/asaskevich/EventBus"

	"camrate-server-go/internal/platform/logging"
	"camrate-server-go/internal/platform/observability"
)

// AsyncEventBus 异步事件总线，固定数量的 worker 消费有界队列
type AsyncEventBus struct {
	bus       evbus.Bus
	workerNum int
	workChan  chan asyncEvent
	stopChan  chan struct{}
	wg        sync.WaitGroup
	inflight  sync.WaitGroup
	stopOnce  sync.Once
	stopped   atomic.Bool
	dropped   atomic.Int64
	logger    *logging.Logger
}

type asyncEvent struct {
	topic string
	args  []interface{}
}

// NewAsyncEventBus 创建异步事件总线
func NewAsyncEventBus(workerNum, queueSize int, logger *logging.Logger) *AsyncEventBus {
	if workerNum <= 0 {
		workerNum = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}

	return &AsyncEventBus{
		bus:       New(),
		workerNum: workerNum,
		workChan:  make(chan asyncEvent, queueSize),
		stopChan:  make(chan struct{}),
		logger:    logger,
	}
}

// Start 启动异步处理
func (aeb *AsyncEventBus) Start() {
	for i := 0; i < aeb.workerNum; i++ {
		aeb.wg.Add(1)
		go aeb.worker()
	}
}

// Stop 停止 worker，并同步处理队列中剩余的事件
func (aeb *AsyncEventBus) Stop() {
	aeb.stopOnce.Do(func() {
		aeb.stopped.Store(true)
		close(aeb.stopChan)
		aeb.wg.Wait()
		for {
			select {
			case event := <-aeb.workChan:
				aeb.dispatch(event)
			default:
				return
			}
		}
	})
}

func (aeb *AsyncEventBus) worker() {
	defer aeb.wg.Done()

	for {
		select {
		case <-aeb.stopChan:
			return
		case event := <-aeb.workChan:
			aeb.dispatch(event)
		}
	}
}

func (aeb *AsyncEventBus) dispatch(event asyncEvent) {
	defer aeb.inflight.Done()
	defer func() {
		if r := recover(); r != nil && aeb.logger != nil {
			aeb.logger.ErrorTag("事件", "处理 %s 时发生 panic: %v", event.topic, r)
		}
	}()
	aeb.bus.Publish(event.topic, event.args...)
}

// Publish 发布事件（同步）
func (aeb *AsyncEventBus) Publish(topic string, args ...interface{}) {
	aeb.bus.Publish(topic, args...)
}

// PublishAsync 异步发布事件，队列满或已停止时丢弃
func (aeb *AsyncEventBus) PublishAsync(topic string, args ...interface{}) {
	if aeb.stopped.Load() {
		aeb.drop(topic)
		return
	}

	aeb.inflight.Add(1)
	select {
	case aeb.workChan <- asyncEvent{topic: topic, args: args}:
	default:
		aeb.inflight.Done()
		aeb.drop(topic)
	}
}

func (aeb *AsyncEventBus) drop(topic string) {
	aeb.dropped.Add(1)
	observability.EventsDroppedTotal.Inc()
	if aeb.logger != nil {
		aeb.logger.WarnTag("事件", "队列已满，丢弃事件: %s", topic)
	}
}

// Subscribe 订阅事件
func (aeb *AsyncEventBus) Subscribe(topic string, fn interface{}) error {
	return aeb.bus.Subscribe(topic, fn)
}

// Unsubscribe 取消订阅
func (aeb *AsyncEventBus) Unsubscribe(topic string, handler interface{}) error {
	return aeb.bus.Unsubscribe(topic, handler)
}

// HasCallback 检查是否有订阅者
func (aeb *AsyncEventBus) HasCallback(topic string) bool {
	return aeb.bus.HasCallback(topic)
}

// Dropped 返回被丢弃的事件数
func (aeb *AsyncEventBus) Dropped() int64 {
	return aeb.dropped.Load()
}

// WaitAsync 等待已入队的事件处理完成
func (aeb *AsyncEventBus) WaitAsync() {
	aeb.inflight.Wait()
}
