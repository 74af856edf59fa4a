package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wfunc/serial-scope/internal/errors"
	"go.uber.org/zap"
)

// Hub WebSocket连接管理中心，把采集数据推送给所有客户端
type Hub struct {
	// 客户端连接池
	clients   map[string]*Client
	clientsMu sync.RWMutex

	// 消息广播通道
	broadcast chan []byte

	// 注册/注销通道
	register   chan *Client
	unregister chan *Client

	// Run 退出后关闭
	done     chan struct{}
	doneOnce sync.Once

	dropped uint64
	logger  *zap.Logger
}

// Message WebSocket消息
type Message struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"` // 毫秒
}

// MessageType 消息类型
const (
	// 系统消息
	MessageTypeConnected = "connected"
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"
	MessageTypeError     = "error"

	// 数据消息
	MessageTypeRaw    = "raw"
	MessageTypeFrame  = "frame"
	MessageTypeStatus = "status"
)

// 广播队列长度
const broadcastQueueSize = 256

// NewHub 创建Hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan []byte, broadcastQueueSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// NewMessage 构造消息，data 序列化为JSON
func NewMessage(msgType string, data interface{}) (*Message, error) {
	msg := &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrMessageFormat, "消息类型: %s", msgType)
		}
		msg.Data = raw
	}
	return msg, nil
}

// Run 运行Hub，ctx取消后关闭所有客户端
func (h *Hub) Run(ctx context.Context) {
	defer h.doneOnce.Do(func() { close(h.done) })

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case data := <-h.broadcast:
			h.broadcastMessage(data)

		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

// registerClient 注册客户端
func (h *Hub) registerClient(client *Client) {
	h.clientsMu.Lock()
	h.clients[client.ID] = client
	h.clientsMu.Unlock()

	h.logger.Info("WebSocket客户端连接", zap.String("client_id", client.ID))

	// 发送连接成功消息
	msg, _ := NewMessage(MessageTypeConnected, map[string]string{"client_id": client.ID})
	if err := h.SendToClient(client.ID, msg); err != nil {
		h.logger.Warn("发送连接消息失败", zap.String("client_id", client.ID), zap.Error(err))
	}
}

// unregisterClient 注销客户端
func (h *Hub) unregisterClient(client *Client) {
	h.clientsMu.Lock()
	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		close(client.Send)
	}
	h.clientsMu.Unlock()

	h.logger.Info("WebSocket客户端断开", zap.String("client_id", client.ID))
}

// closeAll 关闭所有客户端的发送通道
func (h *Hub) closeAll() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	for id, client := range h.clients {
		delete(h.clients, id)
		close(client.Send)
	}
}

// broadcastMessage 发送给每个客户端，缓冲区满的客户端丢弃本条
func (h *Hub) broadcastMessage(data []byte) {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	for _, client := range h.clients {
		select {
		case client.Send <- data:
		default:
			atomic.AddUint64(&h.dropped, 1)
			h.logger.Debug("客户端发送缓冲区满", zap.String("client_id", client.ID))
		}
	}
}

// Broadcast 广播消息，不阻塞。队列满或Hub已停止时丢弃
func (h *Hub) Broadcast(message *Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, errors.ErrMessageFormat)
	}

	select {
	case <-h.done:
		return errors.New(errors.ErrStreamSendFull, "Hub已停止")
	default:
	}

	select {
	case h.broadcast <- data:
		return nil
	default:
		atomic.AddUint64(&h.dropped, 1)
		return errors.New(errors.ErrStreamSendFull, "广播队列已满")
	}
}

// SendToClient 发送消息给指定客户端
func (h *Hub) SendToClient(clientID string, message *Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, errors.ErrMessageFormat)
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	client, ok := h.clients[clientID]
	if !ok {
		return errors.Newf(errors.ErrNotFound, "客户端: %s", clientID)
	}

	select {
	case client.Send <- data:
		return nil
	default:
		return errors.Newf(errors.ErrStreamSendFull, "客户端: %s", clientID)
	}
}

// ClientCount 获取在线客户端数
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Dropped 因缓冲区满丢弃的消息数
func (h *Hub) Dropped() uint64 {
	return atomic.LoadUint64(&h.dropped)
}

// Register 注册客户端，Hub已停止时返回false
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister 注销客户端
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}
