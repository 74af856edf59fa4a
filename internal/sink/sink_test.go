package sink

import (
	"bytes"
	stderrors "errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/wfunc/serial-scope/internal/errors"
	"github.com/wfunc/serial-scope/internal/event"
)

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, stderrors.New("broken pipe") }

func TestConsole(t *testing.T) {
	t.Run("原样输出", func(t *testing.T) {
		var out bytes.Buffer
		bus := event.NewBus(nil)
		NewConsole(&out, false).Attach(bus)

		bus.PublishRaw("Distance = 1")
		bus.PublishRaw(",2mm\n")
		bus.PublishFrame([]float64{1, 2})

		assert.Equal(t, "Distance = 1,2mm\n", out.String())
	})

	t.Run("输出数值帧", func(t *testing.T) {
		var out bytes.Buffer
		bus := event.NewBus(nil)
		subs := NewConsole(&out, true).Attach(bus)
		assert.Len(t, subs, 2)

		bus.PublishFrame([]float64{12.5, -7, 0.001})
		assert.Equal(t, "frame: 12.5, -7, 0.001\n", out.String())
	})

	t.Run("写入失败", func(t *testing.T) {
		c := NewConsole(failingWriter{}, true)
		assert.True(t, errors.Is(c.OnRaw("x"), errors.ErrSinkWrite))
		assert.Error(t, c.OnFrame([]float64{1}))
	})
}

// TranscriptTestSuite 文本记录测试套件
type TranscriptTestSuite struct {
	suite.Suite
	dir string
	now time.Time
}

func (s *TranscriptTestSuite) SetupTest() {
	s.dir = filepath.Join(s.T().TempDir(), "logs")
	s.now = time.Date(2024, 5, 6, 13, 14, 15, 0, time.Local)
}

func (s *TranscriptTestSuite) newTranscript(maxBytes int) *Transcript {
	return NewTranscript(TranscriptOptions{
		MaxBytes: maxBytes,
		Dir:      s.dir,
		Prefix:   "saved_log",
		Now:      func() time.Time { return s.now },
	}, nil)
}

func (s *TranscriptTestSuite) TestAppendAndClear() {
	tr := s.newTranscript(0)
	bus := event.NewBus(nil)
	tr.Attach(bus)

	bus.PublishRaw("Distance = 1mm\n")
	bus.PublishRaw("Distance = 2mm\n")
	s.Equal("Distance = 1mm\nDistance = 2mm\n", tr.Text())
	s.Equal(defaultTranscriptBytes, tr.Info().MaxBytes)

	tr.Clear()
	s.Equal("", tr.Text())
	s.Zero(tr.Info().Bytes)
}

func (s *TranscriptTestSuite) TestBounded() {
	tr := s.newTranscript(10)

	s.NoError(tr.OnRaw("0123456789"))
	s.NoError(tr.OnRaw("ABCD"))

	s.Equal("456789ABCD", tr.Text())
	s.Equal(uint64(4), tr.Info().Truncated)
}

func (s *TranscriptTestSuite) TestBoundedRuneBoundary() {
	tr := s.newTranscript(4)

	// "温" 占3字节，截断时不能留下半个字符
	s.NoError(tr.OnRaw("a温b"))
	s.NoError(tr.OnRaw("c"))

	s.Equal("bc", tr.Text())
	s.Equal(uint64(4), tr.Info().Truncated)
}

func (s *TranscriptTestSuite) TestSave() {
	tr := s.newTranscript(0)
	s.NoError(tr.OnRaw("Distance = 12.5mm\n"))

	path, err := tr.Save()
	s.Require().NoError(err)
	s.Equal(filepath.Join(s.dir, "saved_log_20240506_131415.txt"), path)

	data, err := os.ReadFile(path)
	s.Require().NoError(err)
	s.Equal("Distance = 12.5mm\n", string(data))

	// 同一秒内再次保存会追加
	_, err = tr.Save()
	s.Require().NoError(err)
	data, err = os.ReadFile(path)
	s.Require().NoError(err)
	s.Equal(strings.Repeat("Distance = 12.5mm\n", 2), string(data))
}

func (s *TranscriptTestSuite) TestSaveFailure() {
	blocker := filepath.Join(s.T().TempDir(), "file")
	s.Require().NoError(os.WriteFile(blocker, nil, 0o644))

	tr := NewTranscript(TranscriptOptions{Dir: filepath.Join(blocker, "logs")}, nil)
	_, err := tr.Save()
	s.True(errors.Is(err, errors.ErrStorageMkdir))
}

func TestTranscriptSuite(t *testing.T) {
	suite.Run(t, new(TranscriptTestSuite))
}

func stemSettings() PlotSettings {
	return PlotSettings{Mode: PlotModeStem, SampleNum: 3, XMin: 0, XMax: 10, YMin: 0, YMax: 100, Grid: true}
}

func TestPlotStem(t *testing.T) {
	p, err := NewPlot(stemSettings())
	require.NoError(t, err)

	bus := event.NewBus(nil)
	p.Attach(bus)
	bus.PublishFrame([]float64{1, 2, 3})
	bus.PublishFrame([]float64{4, 5, 6})

	snap := p.Snapshot()
	assert.Equal(t, []float64{4, 5, 6}, snap.Latest)
	assert.Nil(t, snap.Series)
	assert.Equal(t, uint64(2), snap.Frames)
	assert.Equal(t, [2]float64{0, 100}, snap.YRange)
	assert.True(t, snap.Settings.Grid)
}

func TestPlotRollingWindow(t *testing.T) {
	settings := stemSettings()
	settings.Mode = PlotModePlot
	p, err := NewPlot(settings)
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		require.NoError(t, p.OnFrame([]float64{float64(i), float64(-i)}))
	}

	snap := p.Snapshot()
	assert.Equal(t, [][]float64{{3, 4, 5}, {-3, -4, -5}}, snap.Series)
	assert.Equal(t, []float64{5, -5}, snap.Latest)

	// 快照是副本
	snap.Series[0][0] = 99
	assert.Equal(t, 3.0, p.Snapshot().Series[0][0])

	// 通道数变化时重新开始
	require.NoError(t, p.OnFrame([]float64{7}))
	assert.Equal(t, [][]float64{{7}}, p.Snapshot().Series)
}

func TestPlotAutoRange(t *testing.T) {
	settings := stemSettings()
	settings.Auto = true
	p, err := NewPlot(settings)
	require.NoError(t, err)

	// 没有数据时使用配置的范围
	assert.Equal(t, [2]float64{0, 100}, p.Snapshot().YRange)

	require.NoError(t, p.OnFrame([]float64{-2, 8, 3}))
	assert.Equal(t, [2]float64{-2, 8}, p.Snapshot().YRange)

	require.NoError(t, p.OnFrame([]float64{5}))
	assert.Equal(t, [2]float64{4, 6}, p.Snapshot().YRange)
}

func TestPlotRejectsNonFinite(t *testing.T) {
	p, err := NewPlot(stemSettings())
	require.NoError(t, err)

	err = p.OnFrame([]float64{1, math.Inf(1)})
	assert.True(t, errors.Is(err, errors.ErrMessageFormat))
	assert.Zero(t, p.Snapshot().Frames)
}

func TestPlotConfigure(t *testing.T) {
	settings := stemSettings()
	settings.Mode = PlotModePlot
	settings.SampleNum = 5
	p, err := NewPlot(settings)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, p.OnFrame([]float64{float64(i)}))
	}

	settings.SampleNum = 2
	require.NoError(t, p.Configure(settings))
	assert.Equal(t, [][]float64{{3, 4}}, p.Snapshot().Series)

	invalid := []struct {
		name  string
		apply func(*PlotSettings)
	}{
		{"未知模式", func(s *PlotSettings) { s.Mode = "bar" }},
		{"零采样数", func(s *PlotSettings) { s.SampleNum = 0 }},
		{"横轴范围颠倒", func(s *PlotSettings) { s.XMin, s.XMax = 5, 1 }},
		{"纵轴范围颠倒", func(s *PlotSettings) { s.YMin, s.YMax = 5, 1 }},
	}
	for _, tc := range invalid {
		t.Run(tc.name, func(t *testing.T) {
			s := stemSettings()
			tc.apply(&s)
			assert.True(t, errors.Is(p.Configure(s), errors.ErrInvalidParam))
		})
	}
	assert.Equal(t, 2, p.Settings().SampleNum)

	p.Reset()
	assert.Empty(t, p.Snapshot().Latest)
	assert.Zero(t, p.Snapshot().Frames)
}
