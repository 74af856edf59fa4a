package sink

import (
	"math"
	"sync"

	"github.com/wfunc/serial-scope/internal/errors"
	"github.com/wfunc/serial-scope/internal/event"
)

// 绘图模式
const (
	PlotModeStem = "stem" // 只显示最新一帧，横轴为通道序号
	PlotModePlot = "plot" // 每个通道显示最近 SampleNum 个采样
)

// PlotSettings 绘图设置。坐标范围和网格只作为显示参数传给客户端
type PlotSettings struct {
	Mode      string  `json:"mode"`
	SampleNum int     `json:"sample_num"`
	XMin      float64 `json:"x_min"`
	XMax      float64 `json:"x_max"`
	YMin      float64 `json:"y_min"`
	YMax      float64 `json:"y_max"`
	Auto      bool    `json:"auto"`
	Grid      bool    `json:"grid"`
}

// Validate 校验绘图设置
func (s PlotSettings) Validate() error {
	if s.Mode != PlotModeStem && s.Mode != PlotModePlot {
		return errors.Newf(errors.ErrInvalidParam, "未知的绘图模式: %s", s.Mode)
	}
	if s.SampleNum <= 0 {
		return errors.Newf(errors.ErrInvalidParam, "采样数必须为正数: %d", s.SampleNum)
	}
	if s.XMin > s.XMax {
		return errors.Newf(errors.ErrInvalidParam, "x_min(%g) 大于 x_max(%g)", s.XMin, s.XMax)
	}
	if !s.Auto && s.YMin > s.YMax {
		return errors.Newf(errors.ErrInvalidParam, "y_min(%g) 大于 y_max(%g)", s.YMin, s.YMax)
	}
	return nil
}

// PlotSnapshot 绘图数据快照
type PlotSnapshot struct {
	Settings PlotSettings `json:"settings"`
	Latest   []float64    `json:"latest"`
	Series   [][]float64  `json:"series,omitempty"`
	YRange   [2]float64   `json:"y_range"`
	Frames   uint64       `json:"frames"`
}

// Plot 曲线数据模型，订阅数值帧
type Plot struct {
	mu       sync.Mutex
	settings PlotSettings
	latest   []float64
	series   [][]float64
	frames   uint64
}

// NewPlot 创建曲线数据模型
func NewPlot(settings PlotSettings) (*Plot, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &Plot{settings: settings}, nil
}

// Attach 订阅数值帧
func (p *Plot) Attach(bus *event.Bus) event.Subscription {
	return bus.SubscribeFrame(p.OnFrame)
}

// OnFrame 记录一帧。通道数变化时重新开始序列，包含 NaN 或 Inf 的帧不记录
func (p *Plot) OnFrame(values []float64) error {
	for ch, v := range values {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return errors.Newf(errors.ErrMessageFormat, "通道%d的值无法绘制: %g", ch, v)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.latest = append(p.latest[:0], values...)
	p.frames++

	if len(p.series) != len(values) {
		p.series = make([][]float64, len(values))
	}
	for ch, v := range values {
		p.series[ch] = trimSeries(append(p.series[ch], v), p.settings.SampleNum)
	}
	return nil
}

// trimSeries 只保留最后 n 个采样
func trimSeries(s []float64, n int) []float64 {
	if len(s) <= n {
		return s
	}
	return append(s[:0], s[len(s)-n:]...)
}

// Settings 当前绘图设置
func (p *Plot) Settings() PlotSettings {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settings
}

// Configure 替换绘图设置，采样数变小时截断已有序列
func (p *Plot) Configure(settings PlotSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.settings = settings
	for ch := range p.series {
		p.series[ch] = trimSeries(p.series[ch], settings.SampleNum)
	}
	return nil
}

// Reset 清空数据
func (p *Plot) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latest = nil
	p.series = nil
	p.frames = 0
}

// Snapshot 当前数据的副本。stem 模式不包含序列
func (p *Plot) Snapshot() PlotSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := PlotSnapshot{
		Settings: p.settings,
		Latest:   append([]float64{}, p.latest...),
		Frames:   p.frames,
	}

	var visible [][]float64
	if p.settings.Mode == PlotModePlot {
		snap.Series = make([][]float64, len(p.series))
		for ch, s := range p.series {
			snap.Series[ch] = append([]float64{}, s...)
		}
		visible = snap.Series
	} else {
		visible = [][]float64{snap.Latest}
	}

	snap.YRange = [2]float64{p.settings.YMin, p.settings.YMax}
	if p.settings.Auto {
		if lo, hi, ok := bounds(visible); ok {
			snap.YRange = [2]float64{lo, hi}
		}
	}
	return snap
}

// bounds 最小和最大值，值全部相同时上下各扩展1
func bounds(series [][]float64) (float64, float64, bool) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range series {
		for _, v := range s {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	if lo > hi {
		return 0, 0, false
	}
	if lo == hi {
		return lo - 1, hi + 1, true
	}
	return lo, hi, true
}
