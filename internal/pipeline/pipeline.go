package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/wfunc/serial-scope/internal/errors"
	"github.com/wfunc/serial-scope/internal/event"
	"github.com/wfunc/serial-scope/internal/hardware"
	"github.com/wfunc/serial-scope/internal/parser"
	"go.uber.org/zap"
)

// DefaultInterval 默认采集周期
const DefaultInterval = 20 * time.Millisecond

// Application 采集流程：接收端 -> 原始消息 -> 解析器 -> 数值帧
type Application struct {
	bus      *event.Bus
	parser   *parser.Parser
	receiver hardware.Receiver
	logger   *zap.Logger
}

// NewApplication 创建采集流程，解析器订阅到总线的原始消息
func NewApplication(bus *event.Bus, p *parser.Parser, receiver hardware.Receiver, logger *zap.Logger) *Application {
	if logger == nil {
		logger = zap.NewNop()
	}
	if p != nil {
		p.Attach(bus)
	}

	return &Application{
		bus:      bus,
		parser:   p,
		receiver: receiver,
		logger:   logger,
	}
}

// Connect 打开接收端
func (a *Application) Connect(port string, baudRate int, timeout time.Duration) bool {
	ok := a.receiver.Connect(port, baudRate, timeout)
	if !ok {
		a.logger.Warn("连接失败",
			zap.String("port", port),
			zap.Int("baud_rate", baudRate),
			zap.Error(a.receiver.LastError()))
	}
	return ok
}

// Disconnect 关闭接收端，返回关闭后的连接状态
func (a *Application) Disconnect() bool {
	return a.receiver.Disconnect()
}

// Tick 取走接收端已有的数据，非空时发布原始消息。未连接时什么都不做
func (a *Application) Tick() {
	msg := a.receiver.ReceiveMessage()
	if msg == "" {
		return
	}
	a.bus.PublishRaw(msg)
}

// Bus 事件总线
func (a *Application) Bus() *event.Bus {
	return a.bus
}

// Parser 帧解析器
func (a *Application) Parser() *parser.Parser {
	return a.parser
}

// Receiver 当前接收端
func (a *Application) Receiver() hardware.Receiver {
	return a.receiver
}

// Run 按固定周期调用tick，直到ctx取消
func Run(ctx context.Context, tick func(), interval time.Duration) error {
	if interval <= 0 {
		return errors.Newf(errors.ErrInvalidParam, "采集周期必须为正数: %s", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			tick()
		}
	}
}

// StatusListener 接收端状态变化回调
type StatusListener func(hardware.Status)

// Session 连接成功后启动采集循环，断开时先停止循环
type Session struct {
	mu       sync.Mutex
	app      *Application
	interval time.Duration
	logger   *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}

	// 采集协程也会读取，单独加锁避免与 stopLocked 死锁
	listenerMu sync.RWMutex
	listener   StatusListener
}

// NewSession 创建采集会话
func NewSession(app *Application, interval time.Duration, logger *zap.Logger) *Session {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		app:      app,
		interval: interval,
		logger:   logger,
	}
}

// OnStatus 设置状态回调，连接、断开以及读取中途断开时调用
func (s *Session) OnStatus(listener StatusListener) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.listener = listener
}

func (s *Session) notify() {
	s.listenerMu.RLock()
	listener := s.listener
	s.listenerMu.RUnlock()

	if listener != nil {
		listener(s.app.Receiver().Status())
	}
}

// Connect 连接并启动采集循环
func (s *Session) Connect(port string, baudRate int, timeout time.Duration) bool {
	s.mu.Lock()
	if !s.app.Connect(port, baudRate, timeout) {
		s.mu.Unlock()
		return false
	}
	if s.cancel == nil {
		s.startLocked()
	}
	s.mu.Unlock()

	s.notify()
	return true
}

// Disconnect 停止采集循环并断开，返回关闭后的连接状态
func (s *Session) Disconnect() bool {
	s.mu.Lock()
	wasRunning := s.cancel != nil
	s.stopLocked()
	connected := s.app.Disconnect()
	s.mu.Unlock()

	if wasRunning {
		s.notify()
	}
	return connected
}

// Running 采集循环是否在运行
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Interval 采集周期
func (s *Session) Interval() time.Duration {
	return s.interval
}

// App 采集流程
func (s *Session) App() *Application {
	return s.app
}

func (s *Session) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		if err := Run(ctx, s.tick(), s.interval); err != nil {
			s.logger.Error("采集循环退出", zap.Error(err))
		}
	}()

	s.logger.Info("采集循环已启动", zap.Duration("interval", s.interval))
}

// tick 采集并检测读取中途断开，断开只通知一次。
// 采集循环保持运行，直到调用 Disconnect
func (s *Session) tick() func() {
	lost := false
	receiver := s.app.Receiver()

	return func() {
		s.app.Tick()

		if receiver.IsConnected() {
			lost = false
			return
		}
		if lost {
			return
		}
		lost = true
		s.logger.Warn("连接已中断", zap.Error(receiver.LastError()))
		s.notify()
	}
}

func (s *Session) stopLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("采集循环已停止")
}
