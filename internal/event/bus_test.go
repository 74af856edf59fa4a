package event

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestPublishWithoutSubscribers(t *testing.T) {
	bus := NewBus(nil)

	assert.NotPanics(t, func() {
		bus.Publish(KindRawMessage, "hello")
		bus.PublishFrame([]float64{1, 2})
	})
	assert.Equal(t, 0, bus.Count(KindRawMessage))
}

func TestPublishOrder(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var calls []string

	bus.SubscribeRaw(func(msg string) error {
		calls = append(calls, "first:"+msg)
		return nil
	})
	bus.SubscribeRaw(func(msg string) error {
		calls = append(calls, "second:"+msg)
		return nil
	})
	bus.SubscribeFrame(func(values []float64) error {
		calls = append(calls, "frame")
		return nil
	})

	bus.PublishRaw("a")
	bus.PublishRaw("b")

	assert.Equal(t, []string{"first:a", "second:a", "first:b", "second:b"}, calls)
}

func TestDuplicateSubscription(t *testing.T) {
	bus := NewBus(zap.NewNop())
	count := 0
	handler := func(payload interface{}) error {
		count++
		return nil
	}

	bus.Subscribe(KindNumericFrame, handler)
	bus.Subscribe(KindNumericFrame, handler)
	bus.PublishFrame([]float64{1})

	assert.Equal(t, 2, count)
	assert.Equal(t, 2, bus.Count(KindNumericFrame))
}

func TestHandlerFailureIsolation(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	bus := NewBus(zap.New(core))
	var reached []int

	bus.SubscribeRaw(func(msg string) error {
		reached = append(reached, 1)
		return errors.New("display failed")
	})
	bus.SubscribeRaw(func(msg string) error {
		reached = append(reached, 2)
		panic("boom")
	})
	bus.SubscribeRaw(func(msg string) error {
		reached = append(reached, 3)
		return nil
	})

	assert.NotPanics(t, func() { bus.PublishRaw("x") })
	assert.Equal(t, []int{1, 2, 3}, reached)
	assert.Equal(t, 1, logs.FilterMessage("事件处理器返回错误").Len())
	assert.Equal(t, 1, logs.FilterMessage("事件处理器panic").Len())
}

func TestWrongPayloadType(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	bus := NewBus(zap.New(core))
	called := false

	bus.SubscribeFrame(func(values []float64) error {
		called = true
		return nil
	})
	bus.Publish(KindNumericFrame, "not a frame")

	assert.False(t, called)
	assert.Equal(t, 1, logs.Len())
}

func TestReentrantPublishIsQueued(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var calls []string

	bus.SubscribeRaw(func(msg string) error {
		calls = append(calls, "h1:"+msg)
		if msg == "outer" {
			bus.PublishRaw("inner")
			// 嵌套发布在当前分发结束后才投递
			calls = append(calls, "h1:after-publish")
		}
		return nil
	})
	bus.SubscribeRaw(func(msg string) error {
		calls = append(calls, "h2:"+msg)
		return nil
	})

	bus.PublishRaw("outer")

	assert.Equal(t, []string{
		"h1:outer", "h1:after-publish", "h2:outer",
		"h1:inner", "h2:inner",
	}, calls)
}

func TestCrossKindPublishFromHandler(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var got []float64

	bus.SubscribeRaw(func(msg string) error {
		bus.PublishFrame([]float64{float64(len(msg))})
		return nil
	})
	bus.SubscribeFrame(func(values []float64) error {
		got = append(got, values...)
		return nil
	})

	bus.PublishRaw("abc")
	assert.Equal(t, []float64{3}, got)
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var calls []string

	first := bus.SubscribeRaw(func(msg string) error {
		calls = append(calls, "first")
		return nil
	})
	bus.SubscribeRaw(func(msg string) error {
		calls = append(calls, "second")
		return nil
	})

	require.True(t, bus.Unsubscribe(first))
	assert.False(t, bus.Unsubscribe(first))
	assert.False(t, bus.Unsubscribe(Subscription{Kind: KindNumericFrame, ID: 99}))

	bus.PublishRaw("x")
	assert.Equal(t, []string{"second"}, calls)
}

func TestUnsubscribeDuringDispatch(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var calls []string
	var second Subscription

	bus.SubscribeRaw(func(msg string) error {
		calls = append(calls, "first:"+msg)
		bus.Unsubscribe(second)
		return nil
	})
	second = bus.SubscribeRaw(func(msg string) error {
		calls = append(calls, "second:"+msg)
		return nil
	})

	bus.PublishRaw("a")
	bus.PublishRaw("b")

	// 当前分发使用快照，取消订阅从下一次发布开始生效
	assert.Equal(t, []string{"first:a", "second:a", "first:b"}, calls)
}

func TestConcurrentPublishSerialized(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var mu sync.Mutex
	active := 0
	maxActive := 0
	total := 0

	bus.SubscribeRaw(func(msg string) error {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()

		mu.Lock()
		active--
		total++
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.PublishRaw("x")
		}()
	}
	wg.Wait()

	// 最后一个分发者返回前会清空队列
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 50, total)
	assert.Equal(t, 1, maxActive)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "raw-message", KindRawMessage.String())
	assert.Equal(t, "numeric-frame", KindNumericFrame.String())
	assert.Equal(t, "kind(7)", Kind(7).String())
}
