package hardware

import (
	"io"

	"github.com/tarm/serial"
)

// SerialPort 串口接口（用于测试替换）
type SerialPort interface {
	io.ReadWriteCloser
	Flush() error
}

// PortOpener 打开串口的函数
type PortOpener func(cfg *serial.Config) (SerialPort, error)

// openTarmPort 使用 tarm/serial 打开串口
func openTarmPort(cfg *serial.Config) (SerialPort, error) {
	port, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, err
	}
	return port, nil
}
