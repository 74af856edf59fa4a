package parser

import (
	"strconv"
	"strings"
	"sync"

	"github.com/wfunc/serial-scope/internal/event"
	"go.uber.org/zap"
)

// FrameConfig 数据帧格式：起始标记、结束标记和字段分隔符
type FrameConfig struct {
	Start     string `json:"start"`
	End       string `json:"end"`
	Delimiter string `json:"delimiter"`
}

// Parser 数据帧解析器
type Parser struct {
	mu     sync.RWMutex
	config FrameConfig
	logger *zap.Logger
}

// New 创建解析器
func New(config FrameConfig, logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{
		config: config,
		logger: logger,
	}
}

// Configure 替换帧格式，只影响之后处理的消息
func (p *Parser) Configure(start, end, delimiter string) {
	p.mu.Lock()
	p.config = FrameConfig{Start: start, End: end, Delimiter: delimiter}
	p.mu.Unlock()

	p.logger.Info("帧格式已更新",
		zap.String("start", start),
		zap.String("end", end),
		zap.String("delimiter", delimiter))
}

// Config 返回当前帧格式
func (p *Parser) Config() FrameConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.config
}

// ExtractPayload 使用当前帧格式提取载荷
func (p *Parser) ExtractPayload(raw string) string {
	return ExtractPayload(p.Config(), raw)
}

// ParseNumeric 使用当前帧格式解析数值帧
func (p *Parser) ParseNumeric(raw string) []float64 {
	return ParseNumeric(p.Config(), raw)
}

// Attach 订阅原始消息，解析成功的帧发布为数值帧事件
func (p *Parser) Attach(bus *event.Bus) event.Subscription {
	return bus.SubscribeRaw(func(msg string) error {
		values := p.ParseNumeric(msg)
		if len(values) == 0 {
			p.logger.Debug("丢弃无效帧", zap.Int("length", len(msg)))
			return nil
		}
		bus.PublishFrame(values)
		return nil
	})
}

// ExtractPayload 返回第一个起始标记与其后第一个结束标记之间去除首尾空白的子串。
// 任一标记缺失时返回空串
func ExtractPayload(cfg FrameConfig, raw string) string {
	startIdx := strings.Index(raw, cfg.Start)
	if startIdx < 0 {
		return ""
	}
	rest := raw[startIdx+len(cfg.Start):]

	endIdx := strings.Index(rest, cfg.End)
	if endIdx < 0 {
		return ""
	}

	return strings.TrimSpace(rest[:endIdx])
}

// ParseNumeric 提取载荷并按分隔符转换为浮点数。
// 载荷为空或任一字段无法转换时整帧丢弃，返回nil
func ParseNumeric(cfg FrameConfig, raw string) []float64 {
	payload := ExtractPayload(cfg, raw)
	if payload == "" || cfg.Delimiter == "" {
		return nil
	}

	fields := strings.Split(payload, cfg.Delimiter)
	values := make([]float64, 0, len(fields))
	for _, field := range fields {
		v, ok := parseField(field)
		if !ok {
			return nil
		}
		values = append(values, v)
	}

	return values
}

// parseField 转换单个字段，超出范围的值按 ±Inf 接受
func parseField(field string) (float64, bool) {
	field = strings.TrimSpace(field)
	if field == "" {
		return 0, false
	}

	v, err := strconv.ParseFloat(field, 64)
	if err != nil {
		if numErr, ok := err.(*strconv.NumError); ok && numErr.Err == strconv.ErrRange {
			return v, true
		}
		return 0, false
	}
	return v, true
}

// FormatFrame 将数值按帧格式编码为 <start>v1<delim>v2...<end>
func FormatFrame(cfg FrameConfig, values []float64) string {
	var b strings.Builder
	b.WriteString(cfg.Start)
	for i, v := range values {
		if i > 0 {
			b.WriteString(cfg.Delimiter)
		}
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	b.WriteString(cfg.End)
	return b.String()
}
