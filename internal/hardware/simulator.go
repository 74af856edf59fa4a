package hardware

import (
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/wfunc/serial-scope/internal/errors"
	"github.com/wfunc/serial-scope/internal/parser"
	"go.uber.org/zap"
)

// 模拟波形
const (
	WaveformSine   = "sine"
	WaveformRamp   = "ramp"
	WaveformRandom = "random"
)

const (
	// simulatorPeriod 正弦和锯齿波一个周期的帧数
	simulatorPeriod = 20
	// maxBurstFrames 单次读取最多生成的帧数
	maxBurstFrames = 50
)

// SimulatorOptions 模拟数据源配置
type SimulatorOptions struct {
	Channels  int
	Waveform  string
	Interval  time.Duration // 帧间隔，0表示每次读取生成一帧
	Amplitude float64
	Seed      int64
	Format    func() parser.FrameConfig // 当前帧格式
	Now       func() time.Time
}

// Simulator 模拟接收端，按当前帧格式生成数值帧，用于无硬件时的测试和演示
type Simulator struct {
	mu     sync.Mutex
	opts   SimulatorOptions
	rng    *rand.Rand
	logger *zap.Logger

	connected   bool
	portName    string
	baudRate    int
	readTimeout time.Duration
	connectedAt time.Time
	lastEmit    time.Time
	seq         int
	received    uint64
	lastErr     error
}

// NewSimulator 创建模拟接收端
func NewSimulator(opts SimulatorOptions, logger *zap.Logger) *Simulator {
	if opts.Channels <= 0 {
		opts.Channels = 1
	}
	if opts.Amplitude == 0 {
		opts.Amplitude = 1
	}
	switch opts.Waveform {
	case WaveformSine, WaveformRamp, WaveformRandom:
	default:
		opts.Waveform = WaveformSine
	}
	if opts.Format == nil {
		opts.Format = func() parser.FrameConfig {
			return parser.FrameConfig{Start: "$$$", End: "###", Delimiter: ","}
		}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Simulator{
		opts:   opts,
		rng:    rand.New(rand.NewSource(opts.Seed)),
		logger: logger,
	}
}

// Connect 模拟打开端口，参数无效或已连接时失败
func (m *Simulator) Connect(port string, baudRate int, timeout time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		m.lastErr = errors.Newf(errors.ErrSerialAlreadyOpen, "当前端口: %s", m.portName)
		return false
	}
	if port == "" {
		port = "SIM"
	}
	if appErr := validateParams(port, baudRate, timeout); appErr != nil {
		m.lastErr = appErr
		return false
	}

	now := m.opts.Now()
	m.connected = true
	m.portName = port
	m.baudRate = baudRate
	m.readTimeout = timeout
	m.connectedAt = now
	m.lastEmit = now
	m.seq = 0
	m.lastErr = nil
	m.rng = rand.New(rand.NewSource(m.opts.Seed))

	m.logger.Info("模拟数据源已连接",
		zap.String("port", port),
		zap.String("waveform", m.opts.Waveform),
		zap.Int("channels", m.opts.Channels))

	return true
}

// Disconnect 模拟断开
func (m *Simulator) Disconnect() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		m.connected = false
		m.logger.Info("模拟数据源已断开", zap.String("port", m.portName))
	}
	return false
}

// ReceiveMessage 返回自上次读取以来到期的帧，每帧一行
func (m *Simulator) ReceiveMessage() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return ""
	}

	frames := 1
	if m.opts.Interval > 0 {
		now := m.opts.Now()
		frames = int(now.Sub(m.lastEmit) / m.opts.Interval)
		if frames > maxBurstFrames {
			frames = maxBurstFrames
			m.lastEmit = now
		} else {
			m.lastEmit = m.lastEmit.Add(time.Duration(frames) * m.opts.Interval)
		}
	}
	if frames <= 0 {
		return ""
	}

	format := m.opts.Format()
	var b strings.Builder
	for i := 0; i < frames; i++ {
		b.WriteString(parser.FormatFrame(format, m.nextValues()))
		b.WriteString("\r\n")
	}

	m.received += uint64(b.Len())
	return b.String()
}

// nextValues 生成下一帧各通道的值
func (m *Simulator) nextValues() []float64 {
	values := make([]float64, m.opts.Channels)
	a := m.opts.Amplitude

	for ch := range values {
		var v float64
		switch m.opts.Waveform {
		case WaveformRamp:
			v = a * float64((m.seq+ch*simulatorPeriod/m.opts.Channels)%simulatorPeriod) / simulatorPeriod
		case WaveformRandom:
			v = a * m.rng.Float64()
		default:
			phase := 2 * math.Pi * float64(m.seq) / simulatorPeriod
			v = a * math.Sin(phase+float64(ch)*math.Pi/4)
		}
		values[ch] = math.Round(v*1000) / 1000
	}

	m.seq++
	return values
}

// IsConnected 检查连接状态
func (m *Simulator) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// LastError 返回最近一次失败的原因
func (m *Simulator) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Status 获取模拟接收端状态
func (m *Simulator) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		Backend:       BackendSimulated,
		Connected:     m.connected,
		BytesReceived: m.received,
	}
	if m.connected {
		st.Port = m.portName
		st.BaudRate = m.baudRate
		st.ReadTimeout = m.readTimeout
		connectedAt := m.connectedAt
		st.ConnectedAt = &connectedAt
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}
