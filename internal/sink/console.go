// Package sink 事件总线的显示端：控制台、文本记录和曲线数据
package sink

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/wfunc/serial-scope/internal/errors"
	"github.com/wfunc/serial-scope/internal/event"
)

// Console 控制台输出，原始消息按原样写出，不追加换行
type Console struct {
	mu     sync.Mutex
	w      io.Writer
	frames bool
}

// NewConsole 创建控制台输出，showFrames 为 true 时每个数值帧额外输出一行
func NewConsole(w io.Writer, showFrames bool) *Console {
	return &Console{w: w, frames: showFrames}
}

// Attach 订阅原始消息和数值帧
func (c *Console) Attach(bus *event.Bus) []event.Subscription {
	subs := []event.Subscription{bus.SubscribeRaw(c.OnRaw)}
	if c.frames {
		subs = append(subs, bus.SubscribeFrame(c.OnFrame))
	}
	return subs
}

// OnRaw 写出原始消息
func (c *Console) OnRaw(msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := io.WriteString(c.w, msg); err != nil {
		return errors.Wrap(err, errors.ErrSinkWrite, "控制台输出失败")
	}
	return nil
}

// OnFrame 写出一行 "frame: v1, v2, ..."
func (c *Console) OnFrame(values []float64) error {
	fields := make([]string, len(values))
	for i, v := range values {
		fields[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := fmt.Fprintf(c.w, "frame: %s\n", strings.Join(fields, ", ")); err != nil {
		return errors.Wrap(err, errors.ErrSinkWrite, "控制台输出失败")
	}
	return nil
}
