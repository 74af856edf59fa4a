// Package event 提供按事件类型分发的同步发布/订阅总线。
//
// 同一事件类型的发布是串行的：某类型正在分发时（处理器内部再次发布，或其他goroutine并发发布），
// 新的事件进入该类型的队列，由当前分发者在本轮处理完成后依次投递，因此处理器不会被嵌套调用。
package event

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/wfunc/serial-scope/internal/errors"
	"go.uber.org/zap"
)

// Kind 事件类型
type Kind int

const (
	// KindRawMessage 原始消息事件，载荷为 string
	KindRawMessage Kind = iota + 1
	// KindNumericFrame 数值帧事件，载荷为 []float64
	KindNumericFrame
)

// String 返回事件类型名称
func (k Kind) String() string {
	switch k {
	case KindRawMessage:
		return "raw-message"
	case KindNumericFrame:
		return "numeric-frame"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Handler 事件处理函数
type Handler func(payload interface{}) error

// Subscription 订阅凭证，用于取消订阅
type Subscription struct {
	Kind Kind
	ID   uint64
}

type entry struct {
	id      uint64
	handler Handler
}

// topic 单个事件类型的订阅表和待投递队列
type topic struct {
	entries     []entry
	queue       []interface{}
	dispatching bool
}

// Bus 事件总线
type Bus struct {
	mu     sync.Mutex
	topics map[Kind]*topic
	nextID uint64
	logger *zap.Logger
}

// NewBus 创建事件总线
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		topics: make(map[Kind]*topic),
		logger: logger,
	}
}

func (b *Bus) topicLocked(kind Kind) *topic {
	t, ok := b.topics[kind]
	if !ok {
		t = &topic{}
		b.topics[kind] = t
	}
	return t
}

// Subscribe 注册处理器，同一处理器可重复注册，每次注册各调用一次
func (b *Bus) Subscribe(kind Kind, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	t := b.topicLocked(kind)
	t.entries = append(t.entries, entry{id: b.nextID, handler: handler})

	return Subscription{Kind: kind, ID: b.nextID}
}

// Unsubscribe 取消订阅，返回是否找到该订阅。正在进行的分发不受影响
func (b *Bus) Unsubscribe(sub Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[sub.Kind]
	if !ok {
		return false
	}
	for i, e := range t.entries {
		if e.id == sub.ID {
			// 复制而不是原地修改，分发中的快照保持不变
			entries := make([]entry, 0, len(t.entries)-1)
			entries = append(entries, t.entries[:i]...)
			t.entries = append(entries, t.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Count 返回某事件类型的订阅数
func (b *Bus) Count(kind Kind) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.topics[kind]; ok {
		return len(t.entries)
	}
	return 0
}

// Publish 按注册顺序同步调用该类型的所有处理器。没有订阅者时不做任何事
func (b *Bus) Publish(kind Kind, payload interface{}) {
	b.mu.Lock()
	t, ok := b.topics[kind]
	if !ok || len(t.entries) == 0 {
		b.mu.Unlock()
		return
	}

	t.queue = append(t.queue, payload)
	if t.dispatching {
		// 当前分发者会投递该事件
		b.mu.Unlock()
		return
	}
	t.dispatching = true

	for len(t.queue) > 0 {
		next := t.queue[0]
		t.queue[0] = nil
		t.queue = t.queue[1:]
		entries := t.entries
		b.mu.Unlock()

		for _, e := range entries {
			b.invoke(kind, e, next)
		}

		b.mu.Lock()
	}

	t.queue = nil
	t.dispatching = false
	b.mu.Unlock()
}

// invoke 调用单个处理器，错误和panic只记录日志，不影响后续处理器
func (b *Bus) invoke(kind Kind, e entry, payload interface{}) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.Newf(errors.ErrHandlerPanic, "%v", r)
			b.logger.Error("事件处理器panic",
				zap.Stringer("kind", kind),
				zap.Uint64("subscription", e.id),
				zap.Error(err),
				zap.ByteString("stack", debug.Stack()))
		}
	}()

	if err := e.handler(payload); err != nil {
		b.logger.Warn("事件处理器返回错误",
			zap.Stringer("kind", kind),
			zap.Uint64("subscription", e.id),
			zap.Error(errors.Wrap(err, errors.ErrHandlerFailed)))
	}
}

// SubscribeRaw 订阅原始消息事件
func (b *Bus) SubscribeRaw(fn func(msg string) error) Subscription {
	return b.Subscribe(KindRawMessage, func(payload interface{}) error {
		msg, ok := payload.(string)
		if !ok {
			return errors.Newf(errors.ErrMessageFormat, "raw-message 载荷类型为 %T", payload)
		}
		return fn(msg)
	})
}

// SubscribeFrame 订阅数值帧事件
func (b *Bus) SubscribeFrame(fn func(values []float64) error) Subscription {
	return b.Subscribe(KindNumericFrame, func(payload interface{}) error {
		values, ok := payload.([]float64)
		if !ok {
			return errors.Newf(errors.ErrMessageFormat, "numeric-frame 载荷类型为 %T", payload)
		}
		return fn(values)
	})
}

// PublishRaw 发布原始消息事件
func (b *Bus) PublishRaw(msg string) {
	b.Publish(KindRawMessage, msg)
}

// PublishFrame 发布数值帧事件
func (b *Bus) PublishFrame(values []float64) {
	b.Publish(KindNumericFrame, values)
}
