package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/wfunc/serial-scope/internal/errors"
)

// 串口后端模式
const (
	ModeHardware  = "hardware"
	ModeSimulated = "simulated"
)

// Config 全局配置结构体
type Config struct {
	Serial     SerialConfig     `mapstructure:"serial"`
	Simulator  SimulatorConfig  `mapstructure:"simulator"`
	Frame      FrameConfig      `mapstructure:"frame"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Transcript TranscriptConfig `mapstructure:"transcript"`
	Plot       PlotConfig       `mapstructure:"plot"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
}

// SerialConfig 串口配置
type SerialConfig struct {
	Mode        string        `mapstructure:"mode"` // hardware 或 simulated
	Port        string        `mapstructure:"port"`
	BaudRate    int           `mapstructure:"baud_rate"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	Encoding    string        `mapstructure:"encoding"`
	BufferSize  int           `mapstructure:"buffer_size"` // 接收缓冲区上限（字节）
	AutoConnect bool          `mapstructure:"auto_connect"`
}

// SimulatorConfig 模拟数据源配置
type SimulatorConfig struct {
	Channels  int           `mapstructure:"channels"`
	Waveform  string        `mapstructure:"waveform"` // sine / ramp / random
	Interval  time.Duration `mapstructure:"interval"` // 帧间隔，0表示每次读取一帧
	Amplitude float64       `mapstructure:"amplitude"`
	Seed      int64         `mapstructure:"seed"`
}

// FrameConfig 数据帧格式配置
type FrameConfig struct {
	Start     string `mapstructure:"start"`
	End       string `mapstructure:"end"`
	Delimiter string `mapstructure:"delimiter"`
}

// IngestConfig 采集循环配置
type IngestConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// TranscriptConfig 文本日志配置
type TranscriptConfig struct {
	MaxBytes int    `mapstructure:"max_bytes"`
	Dir      string `mapstructure:"dir"`
	Prefix   string `mapstructure:"prefix"`
	Echo     bool   `mapstructure:"echo"` // 是否同时输出到控制台
}

// PlotConfig 绘图数据配置
type PlotConfig struct {
	Mode      string  `mapstructure:"mode"` // stem 或 plot
	SampleNum int     `mapstructure:"sample_num"`
	XMin      float64 `mapstructure:"x_min"`
	XMax      float64 `mapstructure:"x_max"`
	YMin      float64 `mapstructure:"y_min"`
	YMax      float64 `mapstructure:"y_max"`
	Auto      bool    `mapstructure:"auto"`
	Grid      bool    `mapstructure:"grid"`
}

// ServerConfig 控制接口服务器配置
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	APIToken        string        `mapstructure:"api_token"` // 为空时不校验
	StreamRaw       bool          `mapstructure:"stream_raw"` // WebSocket 是否推送原始消息
}

// LogConfig 日志配置
type LogConfig struct {
	Level   string            `mapstructure:"level"`
	Format  string            `mapstructure:"format"`
	Output  string            `mapstructure:"output"`
	File    LogFileConfig     `mapstructure:"file"`
	Modules map[string]string `mapstructure:"modules"`
}

// LogFileConfig 日志文件配置
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
	v    *viper.Viper
)

// Init 初始化配置
func Init(configPath string) error {
	var err error
	once.Do(func() {
		var loaded *Config
		v, loaded, err = load(configPath)
		if err != nil {
			return
		}

		mu.Lock()
		cfg = loaded
		mu.Unlock()
	})

	return err
}

// Load 读取配置但不修改全局实例（用于测试和工具命令）
func Load(configPath string) (*Config, error) {
	_, c, err := load(configPath)
	return c, err
}

func load(configPath string) (*viper.Viper, *Config, error) {
	vp := viper.New()

	if configPath != "" {
		vp.SetConfigFile(configPath)
	} else {
		vp.SetConfigName("config")
		vp.SetConfigType("yaml")
		vp.AddConfigPath("./config")
		vp.AddConfigPath(".")
	}

	// 设置环境变量前缀
	vp.SetEnvPrefix("SERIAL_SCOPE")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	setDefaults(vp)

	if err := vp.ReadInConfig(); err != nil {
		// 配置文件不存在时使用默认配置
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if configPath != "" && os.IsNotExist(err) {
				return nil, nil, errors.Wrapf(err, errors.ErrConfigMissing, "配置文件: %s", configPath)
			}
			return nil, nil, errors.Wrap(err, errors.ErrConfigLoad)
		}
	}

	c := &Config{}
	if err := vp.Unmarshal(c); err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrConfigParse)
	}

	if err := c.Validate(); err != nil {
		return nil, nil, err
	}

	return vp, c, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// 串口默认配置
	v.SetDefault("serial.mode", ModeHardware)
	v.SetDefault("serial.port", "")
	v.SetDefault("serial.baud_rate", 115200)
	v.SetDefault("serial.read_timeout", "500ms")
	v.SetDefault("serial.encoding", "utf-8")
	v.SetDefault("serial.buffer_size", 64*1024)
	v.SetDefault("serial.auto_connect", false)

	// 模拟数据源默认配置
	v.SetDefault("simulator.channels", 3)
	v.SetDefault("simulator.waveform", "sine")
	v.SetDefault("simulator.interval", "100ms")
	v.SetDefault("simulator.amplitude", 10.0)
	v.SetDefault("simulator.seed", 1)

	// 数据帧默认配置
	v.SetDefault("frame.start", "Distance = ")
	v.SetDefault("frame.end", "mm")
	v.SetDefault("frame.delimiter", ",")

	v.SetDefault("ingest.interval", "20ms")

	v.SetDefault("transcript.max_bytes", 1<<20)
	v.SetDefault("transcript.dir", "logs")
	v.SetDefault("transcript.prefix", "saved_log")
	v.SetDefault("transcript.echo", true)

	v.SetDefault("plot.mode", "stem")
	v.SetDefault("plot.sample_num", 100)
	v.SetDefault("plot.x_min", 0.0)
	v.SetDefault("plot.x_max", 10.0)
	v.SetDefault("plot.y_min", 0.0)
	v.SetDefault("plot.y_max", 100.0)
	v.SetDefault("plot.auto", true)
	v.SetDefault("plot.grid", true)

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout", "5s")
	v.SetDefault("server.api_token", "")
	v.SetDefault("server.stream_raw", true)

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "both")
	v.SetDefault("log.file.path", "./logs")
	v.SetDefault("log.file.filename", "serial-scope.log")
	v.SetDefault("log.file.max_size", 20)
	v.SetDefault("log.file.max_age", 30)
	v.SetDefault("log.file.max_backups", 7)
	v.SetDefault("log.file.compress", true)
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Serial.Mode {
	case ModeHardware, ModeSimulated:
	default:
		return errors.Newf(errors.ErrConfigValidate, "serial.mode 必须是 %s 或 %s，当前为 %q",
			ModeHardware, ModeSimulated, c.Serial.Mode)
	}
	if c.Serial.BaudRate <= 0 {
		return errors.Newf(errors.ErrConfigValidate, "serial.baud_rate 必须为正数，当前为 %d", c.Serial.BaudRate)
	}
	if c.Serial.ReadTimeout < 0 {
		return errors.New(errors.ErrConfigValidate, "serial.read_timeout 不能为负数")
	}
	if c.Ingest.Interval <= 0 {
		return errors.New(errors.ErrConfigValidate, "ingest.interval 必须大于0")
	}
	if c.Simulator.Channels <= 0 {
		return errors.New(errors.ErrConfigValidate, "simulator.channels 必须大于0")
	}
	if c.Plot.Mode != "stem" && c.Plot.Mode != "plot" {
		return errors.Newf(errors.ErrConfigValidate, "plot.mode 必须是 stem 或 plot，当前为 %q", c.Plot.Mode)
	}
	if c.Plot.SampleNum <= 0 {
		return errors.New(errors.ErrConfigValidate, "plot.sample_num 必须大于0")
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return errors.Newf(errors.ErrConfigValidate, "server.port 超出范围: %d", c.Server.Port)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return errors.Newf(errors.ErrConfigValidate, "server.mode 必须是 debug、release 或 test，当前为 %q", c.Server.Mode)
	}
	return nil
}

// Get 获取配置实例
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Watch 监听配置文件变化，校验通过后替换全局配置并回调
func Watch(callback func(*Config)) {
	if v == nil {
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		newCfg := &Config{}
		if err := v.Unmarshal(newCfg); err != nil {
			fmt.Printf("配置重载失败: %v\n", err)
			return
		}
		if err := newCfg.Validate(); err != nil {
			fmt.Printf("配置重载校验失败: %v\n", err)
			return
		}

		mu.Lock()
		cfg = newCfg
		mu.Unlock()

		if callback != nil {
			callback(newCfg)
		}
	})
	v.WatchConfig()
}

// ConfigFile 返回当前使用的配置文件路径
func ConfigFile() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}
