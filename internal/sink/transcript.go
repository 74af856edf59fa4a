package sink

import (
	"sync"
	"time"
	"unicode/utf8"

	"github.com/wfunc/serial-scope/internal/event"
	"github.com/wfunc/serial-scope/internal/storage"
	"go.uber.org/zap"
)

const defaultTranscriptBytes = 1 << 20

// TranscriptOptions 文本记录配置
type TranscriptOptions struct {
	MaxBytes int
	Dir      string
	Prefix   string
	Now      func() time.Time
}

// Transcript 原始消息的内存文本记录，超过上限时丢弃最早的内容
type Transcript struct {
	mu        sync.Mutex
	buf       []byte
	opts      TranscriptOptions
	truncated uint64
	logger    *zap.Logger
}

// TranscriptInfo 文本记录概况
type TranscriptInfo struct {
	Bytes     int    `json:"bytes"`
	MaxBytes  int    `json:"max_bytes"`
	Truncated uint64 `json:"truncated"`
}

// NewTranscript 创建文本记录
func NewTranscript(opts TranscriptOptions, logger *zap.Logger) *Transcript {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaultTranscriptBytes
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transcript{opts: opts, logger: logger}
}

// Attach 订阅原始消息
func (t *Transcript) Attach(bus *event.Bus) event.Subscription {
	return bus.SubscribeRaw(t.OnRaw)
}

// OnRaw 追加原始消息
func (t *Transcript) OnRaw(msg string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, msg...)

	if overflow := len(t.buf) - t.opts.MaxBytes; overflow > 0 {
		// 从字符边界开始保留
		for overflow < len(t.buf) && !utf8.RuneStart(t.buf[overflow]) {
			overflow++
		}
		t.buf = append(t.buf[:0], t.buf[overflow:]...)
		t.truncated += uint64(overflow)
	}
	return nil
}

// Text 当前记录的全部文本
func (t *Transcript) Text() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// Info 记录概况
func (t *Transcript) Info() TranscriptInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TranscriptInfo{
		Bytes:     len(t.buf),
		MaxBytes:  t.opts.MaxBytes,
		Truncated: t.truncated,
	}
}

// Clear 清空记录
func (t *Transcript) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = t.buf[:0]
	t.truncated = 0
}

// Save 把当前文本写入 <dir>/<prefix>_YYYYMMDD_HHMMSS.txt，返回文件路径
func (t *Transcript) Save() (string, error) {
	t.mu.Lock()
	text := string(t.buf)
	name := storage.TimestampedName(t.opts.Prefix, t.opts.Now())
	dir := t.opts.Dir
	t.mu.Unlock()

	path, err := storage.SaveText(dir, name, text)
	if err != nil {
		t.logger.Error("保存文本记录失败", zap.String("dir", dir), zap.Error(err))
		return "", err
	}

	t.logger.Info("文本记录已保存", zap.String("path", path), zap.Int("bytes", len(text)))
	return path, nil
}
