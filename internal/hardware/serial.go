package hardware

import (
	"bytes"
	"io"
	"os"
	"sync"
	"time"

	"github.com/tarm/serial"
	"github.com/wfunc/serial-scope/internal/errors"
	"go.uber.org/zap"
)

const (
	// minReadTimeout 读协程的最小读超时。tarm/serial 在 POSIX 上以100ms为单位，
	// 超时为0时读会一直阻塞，断开后读协程无法退出
	minReadTimeout = 100 * time.Millisecond

	defaultBufferSize = 64 * 1024
	readChunkSize     = 4096

	// hangupReads 连续多少次远早于超时返回的空读视为设备已挂断
	hangupReads = 3
)

// SerialOptions 硬件接收端配置
type SerialOptions struct {
	Encoding   string
	BufferSize int
	Opener     PortOpener
}

// SerialReceiver 基于 tarm/serial 的接收端。
// 后台读协程把数据写入有界缓冲区，ReceiveMessage 只取走已缓冲的数据
type SerialReceiver struct {
	mu      sync.Mutex
	open    PortOpener
	port    SerialPort
	done    chan struct{}
	buf     bytes.Buffer
	maxBuf  int
	decoder *TextDecoder
	logger  *zap.Logger

	connected   bool
	portName    string
	baudRate    int
	readTimeout time.Duration
	connectedAt time.Time
	received    uint64
	dropped     uint64
	lastErr     error
}

// NewSerialReceiver 创建硬件接收端
func NewSerialReceiver(opts SerialOptions, logger *zap.Logger) (*SerialReceiver, error) {
	decoder, err := NewTextDecoder(opts.Encoding)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.Opener == nil {
		opts.Opener = openTarmPort
	}

	return &SerialReceiver{
		open:    opts.Opener,
		maxBuf:  opts.BufferSize,
		decoder: decoder,
		logger:  logger,
	}, nil
}

// Connect 打开串口
func (s *SerialReceiver) Connect(port string, baudRate int, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		s.lastErr = errors.Newf(errors.ErrSerialAlreadyOpen, "当前端口: %s", s.portName)
		s.logger.Warn("串口已经打开", zap.String("port", s.portName), zap.String("requested", port))
		return false
	}

	if appErr := validateParams(port, baudRate, timeout); appErr != nil {
		s.lastErr = appErr
		s.logger.Warn("串口参数无效", zap.Error(appErr))
		return false
	}

	readTimeout := timeout
	if readTimeout < minReadTimeout {
		readTimeout = minReadTimeout
	}

	p, err := s.open(&serial.Config{
		Name:        port,
		Baud:        baudRate,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: readTimeout,
	})
	if err != nil {
		s.lastErr = classifyOpenError(err, port)
		s.logger.Error("打开串口失败",
			zap.String("port", port),
			zap.Int("baud_rate", baudRate),
			zap.Error(s.lastErr))
		return false
	}

	// 丢弃打开前残留在驱动里的数据
	if err := p.Flush(); err != nil {
		s.logger.Debug("清空串口缓冲失败", zap.String("port", port), zap.Error(err))
	}

	s.port = p
	s.done = make(chan struct{})
	s.connected = true
	s.portName = port
	s.baudRate = baudRate
	s.readTimeout = timeout
	s.connectedAt = time.Now()
	s.lastErr = nil
	s.buf.Reset()
	s.decoder.Reset()

	go s.readLoop(p, s.done, readTimeout)

	s.logger.Info("串口连接成功",
		zap.String("port", port),
		zap.Int("baud_rate", baudRate),
		zap.Duration("read_timeout", timeout))

	return true
}

// classifyOpenError 将打开错误归类为错误码
func classifyOpenError(err error, port string) *errors.AppError {
	switch {
	case os.IsNotExist(err):
		return errors.Wrapf(err, errors.ErrSerialPortNotFound, "端口: %s", port)
	case os.IsPermission(err):
		return errors.Wrapf(err, errors.ErrSerialPermission, "端口: %s", port)
	default:
		return errors.Wrapf(err, errors.ErrSerialPortOpen, "端口: %s", port)
	}
}

// Disconnect 断开连接
func (s *SerialReceiver) Disconnect() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return false
	}

	portName := s.portName
	if err := s.closeLocked(); err != nil {
		s.lastErr = errors.Wrap(err, errors.ErrSerialPortClose)
		s.logger.Warn("关闭串口失败", zap.String("port", portName), zap.Error(err))
	}

	s.logger.Info("串口已断开", zap.String("port", portName))
	return false
}

// closeLocked 关闭端口并清空缓冲区，调用方持有锁
func (s *SerialReceiver) closeLocked() error {
	close(s.done)
	err := s.port.Close()

	s.port = nil
	s.done = nil
	s.connected = false
	s.buf.Reset()
	s.decoder.Reset()

	return err
}

// ReceiveMessage 取走已缓冲的数据并解码，不阻塞
func (s *SerialReceiver) ReceiveMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected || s.buf.Len() == 0 {
		return ""
	}

	text := s.decoder.Decode(s.buf.Bytes())
	s.buf.Reset()
	return text
}

// IsConnected 检查连接状态
func (s *SerialReceiver) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// LastError 返回最近一次失败的原因
func (s *SerialReceiver) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Status 获取接收端状态
func (s *SerialReceiver) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Backend:       BackendSerial,
		Connected:     s.connected,
		Encoding:      s.decoder.Name(),
		BytesReceived: s.received,
		BytesDropped:  s.dropped,
	}
	if s.connected {
		st.Port = s.portName
		st.BaudRate = s.baudRate
		st.ReadTimeout = s.readTimeout
		connectedAt := s.connectedAt
		st.ConnectedAt = &connectedAt
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// readLoop 读协程，端口被替换或关闭后退出。
// 挂断的 tty 每次读都立即返回0字节，与读超时区分靠耗时
func (s *SerialReceiver) readLoop(p SerialPort, done chan struct{}, timeout time.Duration) {
	chunk := make([]byte, readChunkSize)
	fastEmpty := 0

	for {
		start := time.Now()
		n, err := p.Read(chunk)
		elapsed := time.Since(start)
		if n > 0 {
			fastEmpty = 0
			s.mu.Lock()
			if s.port == p {
				s.appendLocked(chunk[:n])
			}
			s.mu.Unlock()
		}

		select {
		case <-done:
			return
		default:
		}

		if err != nil && err != io.EOF {
			s.handleReadError(p, err)
			return
		}
		if n > 0 {
			continue
		}

		// 读超时没有数据
		if elapsed >= timeout/2 {
			fastEmpty = 0
			continue
		}
		fastEmpty++
		if fastEmpty >= hangupReads {
			s.handleReadError(p, errors.New(errors.ErrSerialPortRead, "设备可读但没有返回数据"))
			return
		}
	}
}

// appendLocked 写入缓冲区，超过上限时丢弃最旧的数据
func (s *SerialReceiver) appendLocked(data []byte) {
	s.received += uint64(len(data))
	s.buf.Write(data)

	if overflow := s.buf.Len() - s.maxBuf; overflow > 0 {
		s.buf.Next(overflow)
		s.dropped += uint64(overflow)
		s.logger.Warn("接收缓冲区溢出，丢弃旧数据",
			zap.Int("dropped", overflow),
			zap.Int("buffer_size", s.maxBuf))
	}
}

// handleReadError 读取中途断开，按未连接处理
func (s *SerialReceiver) handleReadError(p SerialPort, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port != p {
		return
	}

	s.lastErr = errors.Wrapf(err, errors.ErrSerialPortRead, "端口: %s", s.portName)
	s.logger.Warn("串口读取失败，连接已关闭",
		zap.String("port", s.portName),
		zap.Error(err))

	if closeErr := s.closeLocked(); closeErr != nil {
		s.logger.Debug("关闭串口失败", zap.Error(closeErr))
	}
}
