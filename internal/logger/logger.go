package logger

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/wfunc/serial-scope/internal/config"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// 模块名称
const (
	ModuleSerial   = "serial"
	ModuleParser   = "parser"
	ModuleEvent    = "event"
	ModulePipeline = "pipeline"
	ModuleSink     = "sink"
	ModuleAPI      = "api"
	ModuleStream   = "stream"
)

var (
	logger *zap.Logger
	once   sync.Once
	mu     sync.RWMutex

	// 模块日志器
	moduleLoggers map[string]*zap.Logger
)

// sink 编码器输出目标
type sink struct {
	ws    zapcore.WriteSyncer
	level zapcore.LevelEnabler
}

// Init 初始化日志系统
func Init(cfg *config.LogConfig) error {
	var err error
	once.Do(func() {
		var l *zap.Logger
		var modules map[string]*zap.Logger
		l, modules, err = build(cfg)
		if err != nil {
			return
		}

		mu.Lock()
		logger = l
		moduleLoggers = modules
		mu.Unlock()
	})

	return err
}

// build 根据配置创建主日志器和模块日志器
func build(cfg *config.LogConfig) (*zap.Logger, map[string]*zap.Logger, error) {
	level := parseLevel(cfg.Level)

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	var sinks []sink

	// 控制台输出，数据流占用stdout时日志走stderr
	if cfg.Output == "stdout" || cfg.Output == "both" {
		sinks = append(sinks, sink{ws: zapcore.AddSync(os.Stderr)})
	}

	// 文件输出（支持日志轮转）
	if cfg.Output == "file" || cfg.Output == "both" {
		logDir := cfg.File.Path
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}

		sinks = append(sinks, sink{ws: zapcore.AddSync(&lumberjack.Logger{
			Filename:   filepath.Join(logDir, cfg.File.Filename),
			MaxSize:    cfg.File.MaxSize,
			MaxAge:     cfg.File.MaxAge,
			MaxBackups: cfg.File.MaxBackups,
			Compress:   cfg.File.Compress,
		})})

		// 错误日志单独存放
		sinks = append(sinks, sink{
			ws: zapcore.AddSync(&lumberjack.Logger{
				Filename:   filepath.Join(logDir, "error.log"),
				MaxSize:    cfg.File.MaxSize,
				MaxAge:     cfg.File.MaxAge,
				MaxBackups: cfg.File.MaxBackups,
				Compress:   cfg.File.Compress,
			}),
			level: zapcore.ErrorLevel,
		})
	}

	newCore := func(lvl zapcore.Level) zapcore.Core {
		cores := make([]zapcore.Core, 0, len(sinks))
		for _, s := range sinks {
			enabler := zapcore.LevelEnabler(lvl)
			if s.level != nil {
				enabler = s.level
			}
			cores = append(cores, zapcore.NewCore(encoder, s.ws, enabler))
		}
		return zapcore.NewTee(cores...)
	}

	opts := []zap.Option{
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	}

	l := zap.New(newCore(level), opts...)

	modules := make(map[string]*zap.Logger, len(cfg.Modules))
	for module, levelStr := range cfg.Modules {
		modules[module] = zap.New(newCore(parseLevel(levelStr)), opts...).Named(module)
	}

	return l, modules, nil
}

// parseLevel 解析日志级别
func parseLevel(levelStr string) zapcore.Level {
	switch levelStr {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// GetLogger 获取日志器
func GetLogger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if logger == nil {
		// 未初始化时使用开发配置
		defaultLogger, _ := zap.NewDevelopment()
		return defaultLogger
	}
	return logger
}

// WithModule 获取模块日志器，未单独配置级别的模块使用主日志器
func WithModule(module string) *zap.Logger {
	mu.RLock()
	moduleLogger, ok := moduleLoggers[module]
	mu.RUnlock()

	if ok {
		return moduleLogger
	}
	return GetLogger().Named(module)
}

// Sync 同步日志缓冲区
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()

	if logger != nil {
		return dropConsoleSyncErrors(logger.Sync())
	}
	return nil
}

// dropConsoleSyncErrors 终端和管道不支持 fsync，忽略这类错误
func dropConsoleSyncErrors(err error) error {
	var kept error
	for _, e := range multierr.Errors(err) {
		if stderrors.Is(e, syscall.EINVAL) || stderrors.Is(e, syscall.ENOTTY) {
			continue
		}
		kept = multierr.Append(kept, e)
	}
	return kept
}

// Info 输出信息日志
func Info(msg string, fields ...zap.Field) {
	GetLogger().WithOptions(zap.AddCallerSkip(1)).Info(msg, fields...)
}

// Warn 输出警告日志
func Warn(msg string, fields ...zap.Field) {
	GetLogger().WithOptions(zap.AddCallerSkip(1)).Warn(msg, fields...)
}

// Error 输出错误日志
func Error(msg string, fields ...zap.Field) {
	GetLogger().WithOptions(zap.AddCallerSkip(1)).Error(msg, fields...)
}

// Fatal 输出致命错误日志并退出程序
func Fatal(msg string, fields ...zap.Field) {
	GetLogger().WithOptions(zap.AddCallerSkip(1)).Fatal(msg, fields...)
}

// Cleanup 清理日志资源
func Cleanup() {
	if err := Sync(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to sync logger: %v\n", err)
	}
}
