package hardware

import (
	"time"

	"github.com/wfunc/serial-scope/internal/config"
	"github.com/wfunc/serial-scope/internal/errors"
	"github.com/wfunc/serial-scope/internal/parser"
	"go.uber.org/zap"
)

// Receiver 串口接收端。Connect失败返回false而不是错误，原因通过LastError获取；
// ReceiveMessage从不阻塞，未连接或没有数据时返回空串
type Receiver interface {
	Connect(port string, baudRate int, timeout time.Duration) bool
	// Disconnect 关闭连接并返回关闭后的连接状态（总是false），重复调用安全
	Disconnect() bool
	ReceiveMessage() string
	IsConnected() bool
	LastError() error
	Status() Status
}

// Status 接收端状态
type Status struct {
	Backend       string        `json:"backend"`
	Connected     bool          `json:"connected"`
	Port          string        `json:"port,omitempty"`
	BaudRate      int           `json:"baud_rate,omitempty"`
	ReadTimeout   time.Duration `json:"read_timeout,omitempty"`
	Encoding      string        `json:"encoding,omitempty"`
	ConnectedAt   *time.Time    `json:"connected_at,omitempty"`
	BytesReceived uint64        `json:"bytes_received"`
	BytesDropped  uint64        `json:"bytes_dropped"`
	LastError     string        `json:"last_error,omitempty"`
}

// 后端名称
const (
	BackendSerial    = "serial"
	BackendSimulated = "simulated"
)

// validateParams 校验连接参数
func validateParams(port string, baudRate int, timeout time.Duration) *errors.AppError {
	if port == "" {
		return errors.New(errors.ErrInvalidParam, "端口不能为空")
	}
	if baudRate <= 0 {
		return errors.Newf(errors.ErrInvalidParam, "波特率必须为正数: %d", baudRate)
	}
	if timeout < 0 {
		return errors.Newf(errors.ErrInvalidParam, "读取超时不能为负数: %s", timeout)
	}
	return nil
}

// NewReceiver 按配置创建硬件或模拟接收端
func NewReceiver(serialCfg config.SerialConfig, simCfg config.SimulatorConfig,
	format func() parser.FrameConfig, logger *zap.Logger) (Receiver, error) {
	switch serialCfg.Mode {
	case config.ModeSimulated:
		return NewSimulator(SimulatorOptions{
			Channels:  simCfg.Channels,
			Waveform:  simCfg.Waveform,
			Interval:  simCfg.Interval,
			Amplitude: simCfg.Amplitude,
			Seed:      simCfg.Seed,
			Format:    format,
		}, logger), nil
	case config.ModeHardware, "":
		return NewSerialReceiver(SerialOptions{
			Encoding:   serialCfg.Encoding,
			BufferSize: serialCfg.BufferSize,
		}, logger)
	default:
		return nil, errors.Newf(errors.ErrConfigValidate, "未知的串口模式: %s", serialCfg.Mode)
	}
}
