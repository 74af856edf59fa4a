package parser

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/serial-scope/internal/event"
	"go.uber.org/zap"
)

var distanceConfig = FrameConfig{Start: "Distance = ", End: "mm", Delimiter: ","}

func TestExtractPayload(t *testing.T) {
	cfg := FrameConfig{Start: "$$$", End: "###", Delimiter: ","}

	testCases := []struct {
		name     string
		raw      string
		expected string
	}{
		{"完整帧", "$$$1.0,2.0,3.0###\n", "1.0,2.0,3.0"},
		{"前后有噪声", "noise$$$4,5###tail", "4,5"},
		{"去除空白", "$$$  7.5 \t###", "7.5"},
		{"缺少起始标记", "1.0,2.0###", ""},
		{"缺少结束标记", "$$$1.0,2.0", ""},
		{"结束标记只在起始标记之前", "###$$$1.0", ""},
		{"结束标记在前后都有", "###$$$1.0###", "1.0"},
		{"多个帧只取第一个", "$$$1###$$$2###", "1"},
		{"空串", "", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ExtractPayload(cfg, tc.raw))
		})
	}
}

func TestParseNumeric(t *testing.T) {
	testCases := []struct {
		name     string
		raw      string
		expected []float64
	}{
		{"距离帧", "Distance = 12.5,7.0mm\n", []float64{12.5, 7.0}},
		{"单个字段", "Distance = 42mm", []float64{42}},
		{"字段带空白", "Distance = 1 , 2 ,3mm", []float64{1, 2, 3}},
		{"负数与科学计数法", "Distance = -1.5,2e3mm", []float64{-1.5, 2000}},
		{"空载荷", "Distance = mm\n", nil},
		{"非数字字段丢弃整帧", "Distance = 1.0,abc,3.0mm", nil},
		{"空字段丢弃整帧", "Distance = 1.0,,3.0mm", nil},
		{"缺少标记", "12.5,7.0\n", nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseNumeric(distanceConfig, tc.raw)
			if tc.expected == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestParseNumericOutOfRange(t *testing.T) {
	got := ParseNumeric(distanceConfig, "Distance = 1e400,-1e400mm")
	require.Len(t, got, 2)
	assert.True(t, math.IsInf(got[0], 1))
	assert.True(t, math.IsInf(got[1], -1))
}

func TestParseNumericEmptyDelimiter(t *testing.T) {
	cfg := FrameConfig{Start: "<", End: ">", Delimiter: ""}
	assert.Empty(t, ParseNumeric(cfg, "<12>"))
}

func TestParseNumericIdempotent(t *testing.T) {
	p := New(distanceConfig, zap.NewNop())
	first := p.ParseNumeric("Distance = 3,4,5mm")
	second := p.ParseNumeric("Distance = 3,4,5mm")
	assert.Equal(t, []float64{3, 4, 5}, first)
	assert.Equal(t, first, second)
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	configs := []FrameConfig{
		{Start: "$$$", End: "###", Delimiter: ","},
		{Start: "Distance = ", End: "mm", Delimiter: ";"},
		{Start: "<", End: ">", Delimiter: " | "},
	}

	for _, cfg := range configs {
		for i := 0; i < 100; i++ {
			values := make([]float64, 1+rng.Intn(8))
			for j := range values {
				values[j] = (rng.Float64() - 0.5) * math.Pow(10, float64(rng.Intn(8)))
			}

			got := ParseNumeric(cfg, FormatFrame(cfg, values)+"\r\n")
			require.Len(t, got, len(values))
			for j := range values {
				assert.InDelta(t, values[j], got[j], 1e-9*math.Max(1, math.Abs(values[j])))
			}
		}
	}
}

func TestConfigureAffectsNextMessage(t *testing.T) {
	p := New(distanceConfig, zap.NewNop())
	assert.Equal(t, []float64{1, 2}, p.ParseNumeric("Distance = 1,2mm"))

	p.Configure("$$$", "###", ";")
	assert.Equal(t, FrameConfig{Start: "$$$", End: "###", Delimiter: ";"}, p.Config())
	assert.Empty(t, p.ParseNumeric("Distance = 1,2mm"))
	assert.Equal(t, []float64{1, 2}, p.ParseNumeric("$$$1;2###"))
	assert.Equal(t, "1;2", p.ExtractPayload("$$$ 1;2 ###"))
}

func TestAttach(t *testing.T) {
	bus := event.NewBus(zap.NewNop())
	p := New(distanceConfig, zap.NewNop())
	p.Attach(bus)

	var frames [][]float64
	bus.SubscribeFrame(func(values []float64) error {
		frames = append(frames, values)
		return nil
	})

	t.Run("有效帧发布数值帧事件", func(t *testing.T) {
		frames = nil
		bus.PublishRaw("Distance = 12.5,7.0mm\n")
		assert.Equal(t, [][]float64{{12.5, 7.0}}, frames)
	})

	t.Run("空载荷不发布事件", func(t *testing.T) {
		frames = nil
		bus.PublishRaw("Distance = mm\n")
		assert.Empty(t, frames)
	})

	t.Run("坏字段不发布事件", func(t *testing.T) {
		frames = nil
		bus.PublishRaw("Distance = 1,x,3mm\n")
		assert.Empty(t, frames)
	})
}

func TestFormatFrame(t *testing.T) {
	cfg := FrameConfig{Start: "$$$", End: "###", Delimiter: ","}
	assert.Equal(t, "$$$1,2.5,-3###", FormatFrame(cfg, []float64{1, 2.5, -3}))
	assert.Equal(t, "$$$###", FormatFrame(cfg, nil))
}
