package hardware

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/serial-scope/internal/config"
	"github.com/wfunc/serial-scope/internal/errors"
	"github.com/wfunc/serial-scope/internal/parser"
	"go.bug.st/serial/enumerator"
)

func withPortsList(t *testing.T, fn func() ([]*enumerator.PortDetails, error)) {
	t.Helper()
	orig := detailedPortsList
	detailedPortsList = fn
	t.Cleanup(func() { detailedPortsList = orig })
}

func TestListPorts(t *testing.T) {
	withPortsList(t, func() ([]*enumerator.PortDetails, error) {
		return []*enumerator.PortDetails{
			{Name: "/dev/ttyUSB0", IsUSB: true, VID: "1a86", PID: "7523"},
			nil,
			{Name: "/dev/ttyACM0", IsUSB: true, VID: "2341", PID: "0043", SerialNumber: "8573", Product: "Arduino Uno"},
			{Name: "/dev/ttyS0"},
		}, nil
	})

	ports, err := ListPorts()
	require.NoError(t, err)
	require.Len(t, ports, 3)

	assert.Equal(t, "/dev/ttyACM0", ports[0].Name)
	assert.Equal(t, "Arduino Uno", ports[0].Description)
	assert.Equal(t, "8573", ports[0].SerialNumber)
	assert.Equal(t, "/dev/ttyACM0 - Arduino Uno", ports[0].String())

	assert.Equal(t, "/dev/ttyS0", ports[1].Name)
	assert.False(t, ports[1].IsUSB)
	assert.Equal(t, "/dev/ttyS0", ports[1].String())

	assert.Equal(t, "USB VID:PID=1a86:7523", ports[2].Description)
	assert.Equal(t, "1a86", ports[2].VID)
}

func TestListPortsEmpty(t *testing.T) {
	withPortsList(t, func() ([]*enumerator.PortDetails, error) { return nil, nil })

	ports, err := ListPorts()
	require.NoError(t, err)
	assert.Empty(t, ports)
	assert.NotNil(t, ports)
}

func TestListPortsError(t *testing.T) {
	withPortsList(t, func() ([]*enumerator.PortDetails, error) {
		return nil, stderrors.New("udev unavailable")
	})

	_, err := ListPorts()
	assert.True(t, errors.Is(err, errors.ErrSerialEnumerate))
}

func TestNewReceiver(t *testing.T) {
	format := func() parser.FrameConfig { return parser.FrameConfig{Start: "<", End: ">", Delimiter: ","} }
	simCfg := config.SimulatorConfig{Channels: 2, Waveform: WaveformRamp}

	t.Run("硬件模式", func(t *testing.T) {
		r, err := NewReceiver(config.SerialConfig{Mode: config.ModeHardware, Encoding: "utf-8"}, simCfg, format, nil)
		require.NoError(t, err)
		assert.IsType(t, &SerialReceiver{}, r)
		assert.Equal(t, BackendSerial, r.Status().Backend)
	})

	t.Run("模拟模式", func(t *testing.T) {
		r, err := NewReceiver(config.SerialConfig{Mode: config.ModeSimulated}, simCfg, format, nil)
		require.NoError(t, err)
		require.True(t, r.Connect("SIM", 9600, 0))
		assert.Equal(t, []float64{0, 0.5}, parser.ParseNumeric(format(), r.ReceiveMessage()))
	})

	t.Run("未知编码", func(t *testing.T) {
		_, err := NewReceiver(config.SerialConfig{Mode: config.ModeHardware, Encoding: "nope"}, simCfg, format, nil)
		assert.True(t, errors.Is(err, errors.ErrUnknownEncoding))
	})

	t.Run("未知模式", func(t *testing.T) {
		_, err := NewReceiver(config.SerialConfig{Mode: "bluetooth"}, simCfg, format, nil)
		assert.True(t, errors.Is(err, errors.ErrConfigValidate))
	})
}
