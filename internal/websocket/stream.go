package websocket

import (
	"github.com/wfunc/serial-scope/internal/event"
	"github.com/wfunc/serial-scope/internal/hardware"
	"go.uber.org/zap"
)

// RawPayload 原始消息推送内容
type RawPayload struct {
	Text string `json:"text"`
}

// FramePayload 数值帧推送内容
type FramePayload struct {
	Values []float64 `json:"values"`
}

// StreamSink 把总线上的事件推送给WebSocket客户端
type StreamSink struct {
	hub    *Hub
	raw    bool
	logger *zap.Logger
}

// NewStreamSink 创建推送端，includeRaw 为 false 时只推送数值帧
func NewStreamSink(hub *Hub, includeRaw bool, logger *zap.Logger) *StreamSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamSink{hub: hub, raw: includeRaw, logger: logger}
}

// Attach 订阅总线事件
func (s *StreamSink) Attach(bus *event.Bus) []event.Subscription {
	subs := []event.Subscription{bus.SubscribeFrame(s.OnFrame)}
	if s.raw {
		subs = append(subs, bus.SubscribeRaw(s.OnRaw))
	}
	return subs
}

// OnRaw 推送原始消息，没有客户端时跳过
func (s *StreamSink) OnRaw(msg string) error {
	return s.publish(MessageTypeRaw, RawPayload{Text: msg})
}

// OnFrame 推送数值帧，没有客户端时跳过
func (s *StreamSink) OnFrame(values []float64) error {
	return s.publish(MessageTypeFrame, FramePayload{Values: values})
}

// OnStatus 推送接收端状态，推送失败只记录日志
func (s *StreamSink) OnStatus(status hardware.Status) {
	if err := s.publish(MessageTypeStatus, status); err != nil {
		s.logger.Warn("推送状态失败", zap.Error(err))
	}
}

func (s *StreamSink) publish(msgType string, data interface{}) error {
	if s.hub.ClientCount() == 0 {
		return nil
	}

	msg, err := NewMessage(msgType, data)
	if err != nil {
		return err
	}
	return s.hub.Broadcast(msg)
}
