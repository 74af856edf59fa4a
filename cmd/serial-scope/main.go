package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/serial-scope/internal/api"
	"github.com/wfunc/serial-scope/internal/config"
	"github.com/wfunc/serial-scope/internal/errors"
	"github.com/wfunc/serial-scope/internal/event"
	"github.com/wfunc/serial-scope/internal/hardware"
	"github.com/wfunc/serial-scope/internal/logger"
	"github.com/wfunc/serial-scope/internal/parser"
	"github.com/wfunc/serial-scope/internal/pipeline"
	"github.com/wfunc/serial-scope/internal/sink"
	ws "github.com/wfunc/serial-scope/internal/websocket"
	"go.uber.org/zap"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Server 进程实例
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	parser     *parser.Parser
	session    *pipeline.Session
	transcript *sink.Transcript
	plot       *sink.Plot
	hub        *ws.Hub
	httpServer *http.Server

	// 关闭控制
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func main() {
	// 命令行参数
	var (
		configPath  = flag.String("config", "", "配置文件路径")
		showVersion = flag.Bool("version", false, "显示版本信息")
		showHelp    = flag.Bool("help", false, "显示帮助信息")
		listPorts   = flag.Bool("list", false, "列出可用串口后退出")
		port        = flag.String("port", "", "串口名称，指定后启动时自动连接")
		baudRate    = flag.Int("baud", 0, "波特率")
		simulate    = flag.Bool("simulate", false, "使用模拟数据源")
		noServer    = flag.Bool("no-server", false, "不启动控制接口")
	)

	flag.Parse()

	// 显示版本信息
	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	// 显示帮助信息
	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	if *listPorts {
		if err := printPorts(); err != nil {
			fmt.Printf("枚举串口失败: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	// 加载配置
	if err := config.Init(*configPath); err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	cfg := *config.Get()
	applyFlags(&cfg, *port, *baudRate, *simulate, *noServer)
	if err := cfg.Validate(); err != nil {
		fmt.Printf("配置无效: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志系统
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Cleanup()

	gin.SetMode(cfg.Server.Mode)

	// 打印启动信息
	printStartInfo(&cfg)

	// 创建服务器实例
	server := NewServer(&cfg)

	// 启动服务器
	if err := server.Start(); err != nil {
		logger.Fatal("启动失败", zap.Error(err))
	}

	// 等待退出信号
	server.WaitForShutdown()

	// 优雅关闭
	if err := server.Shutdown(); err != nil {
		logger.Error("关闭失败", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("已安全退出")
}

// applyFlags 命令行参数覆盖配置
func applyFlags(cfg *config.Config, port string, baudRate int, simulate, noServer bool) {
	if port != "" {
		cfg.Serial.Port = port
		cfg.Serial.AutoConnect = true
	}
	if baudRate > 0 {
		cfg.Serial.BaudRate = baudRate
	}
	if simulate {
		cfg.Serial.Mode = config.ModeSimulated
		cfg.Serial.AutoConnect = true
	}
	if noServer {
		cfg.Server.Enabled = false
	}
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		cfg:        cfg,
		logger:     logger.GetLogger(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start 启动服务器
func (s *Server) Start() error {
	s.logger.Info("正在启动串口采集...",
		zap.String("version", Version),
		zap.String("mode", s.cfg.Serial.Mode),
	)

	// 初始化各个组件
	if err := s.initComponents(); err != nil {
		return errors.Wrap(err, errors.ErrUnknown, "初始化组件失败")
	}

	// 启动各个服务
	if err := s.startServices(); err != nil {
		return errors.Wrap(err, errors.ErrUnknown, "启动服务失败")
	}

	// 监听配置变化
	config.Watch(func(newCfg *config.Config) {
		s.logger.Info("配置已更新，正在重新加载...")
		s.reloadConfig(newCfg)
	})

	if s.cfg.Serial.AutoConnect {
		s.autoConnect()
	}

	return nil
}

// initComponents 初始化组件
func (s *Server) initComponents() error {
	s.logger.Info("初始化组件...")

	bus := event.NewBus(logger.WithModule(logger.ModuleEvent))

	frame := s.cfg.Frame
	s.parser = parser.New(parser.FrameConfig{
		Start:     frame.Start,
		End:       frame.End,
		Delimiter: frame.Delimiter,
	}, logger.WithModule(logger.ModuleParser))

	receiver, err := hardware.NewReceiver(s.cfg.Serial, s.cfg.Simulator, s.parser.Config,
		logger.WithModule(logger.ModuleSerial))
	if err != nil {
		return err
	}

	app := pipeline.NewApplication(bus, s.parser, receiver, logger.WithModule(logger.ModulePipeline))
	s.session = pipeline.NewSession(app, s.cfg.Ingest.Interval, logger.WithModule(logger.ModulePipeline))

	// 显示端
	sinkLog := logger.WithModule(logger.ModuleSink)
	if s.cfg.Transcript.Echo {
		sink.NewConsole(os.Stdout, false).Attach(bus)
	}

	s.transcript = sink.NewTranscript(sink.TranscriptOptions{
		MaxBytes: s.cfg.Transcript.MaxBytes,
		Dir:      s.cfg.Transcript.Dir,
		Prefix:   s.cfg.Transcript.Prefix,
	}, sinkLog)
	s.transcript.Attach(bus)

	s.plot, err = sink.NewPlot(plotSettings(s.cfg.Plot))
	if err != nil {
		return err
	}
	s.plot.Attach(bus)

	if s.cfg.Server.Enabled {
		s.hub = ws.NewHub(logger.WithModule(logger.ModuleStream))
		stream := ws.NewStreamSink(s.hub, s.cfg.Server.StreamRaw, logger.WithModule(logger.ModuleStream))
		stream.Attach(bus)
		s.session.OnStatus(stream.OnStatus)

		router := api.NewRouter(api.Options{
			Session:         s.session,
			Transcript:      s.transcript,
			Plot:            s.plot,
			Hub:             s.hub,
			DefaultPort:     s.cfg.Serial.Port,
			DefaultBaudRate: s.cfg.Serial.BaudRate,
			DefaultTimeout:  s.cfg.Serial.ReadTimeout,
			APIToken:        s.cfg.Server.APIToken,
			Version:         Version,
		}, logger.WithModule(logger.ModuleAPI))

		s.httpServer = &http.Server{
			Addr:    net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.Port)),
			Handler: router.Handler(),
		}
	}

	s.logger.Info("所有组件初始化完成")
	return nil
}

// plotSettings 配置转换为绘图设置
func plotSettings(cfg config.PlotConfig) sink.PlotSettings {
	return sink.PlotSettings{
		Mode:      cfg.Mode,
		SampleNum: cfg.SampleNum,
		XMin:      cfg.XMin,
		XMax:      cfg.XMax,
		YMin:      cfg.YMin,
		YMax:      cfg.YMax,
		Auto:      cfg.Auto,
		Grid:      cfg.Grid,
	}
}

// startServices 启动服务
func (s *Server) startServices() error {
	s.logger.Info("启动服务...")

	if s.httpServer == nil {
		s.logger.Info("控制接口未启用")
		return nil
	}

	// 先监听端口，端口被占用时直接返回错误
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return errors.Wrapf(err, errors.ErrConfigValidate, "监听地址: %s", s.httpServer.Addr)
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.hub.Run(s.ctx)
	}()
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("控制接口异常退出", zap.Error(err))
		}
	}()

	s.logger.Info("控制接口已启动", zap.String("http", "http://"+s.httpServer.Addr))
	return nil
}

// autoConnect 启动时按配置连接
func (s *Server) autoConnect() {
	serial := s.cfg.Serial
	if !s.session.Connect(serial.Port, serial.BaudRate, serial.ReadTimeout) {
		err := s.session.App().Receiver().LastError()
		fields := []zap.Field{
			zap.String("port", serial.Port),
			zap.Int("baud_rate", serial.BaudRate),
			zap.Error(err),
		}
		// 设备未插入等可重试的错误，可以稍后通过接口重新连接
		if errors.IsRetryable(err) {
			s.logger.Warn("自动连接失败，可稍后重试", fields...)
		} else {
			s.logger.Error("自动连接失败", fields...)
		}
		return
	}
	s.logger.Info("已自动连接", zap.String("port", serial.Port), zap.Int("baud_rate", serial.BaudRate))
}

// WaitForShutdown 等待关闭信号
func (s *Server) WaitForShutdown() {
	// 创建信号通道
	sigCh := make(chan os.Signal, 1)

	// 监听系统信号
	signal.Notify(sigCh,
		syscall.SIGINT,  // Ctrl+C
		syscall.SIGTERM, // kill命令
	)

	// 等待信号
	sig := <-sigCh
	signal.Stop(sigCh)
	s.logger.Info("收到退出信号", zap.String("signal", sig.String()))
}

// Shutdown 优雅关闭
func (s *Server) Shutdown() error {
	s.logger.Info("正在关闭...")

	// 创建超时上下文
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	// 先停止采集，断开串口
	s.session.Disconnect()

	// 停止接收新请求
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("关闭控制接口失败", zap.Error(err))
		}
	}

	// 取消主上下文，触发所有goroutine退出
	s.cancel()

	// 等待所有服务关闭
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	// 等待关闭完成或超时
	select {
	case <-done:
		s.logger.Info("所有服务已正常关闭")
	case <-shutdownCtx.Done():
		s.logger.Warn("关闭超时，强制退出")
		return errors.New(errors.ErrTimeout, "关闭超时")
	}

	// 同步日志
	if err := logger.Sync(); err != nil {
		fmt.Printf("同步日志失败: %v\n", err)
	}

	return nil
}

// reloadConfig 应用新配置中可以热更新的部分
func (s *Server) reloadConfig(newCfg *config.Config) {
	if newCfg.Frame != s.cfg.Frame {
		s.parser.Configure(newCfg.Frame.Start, newCfg.Frame.End, newCfg.Frame.Delimiter)
	}

	if newCfg.Plot != s.cfg.Plot {
		if err := s.plot.Configure(plotSettings(newCfg.Plot)); err != nil {
			s.logger.Warn("绘图配置无效，保持原设置", zap.Error(err))
		}
	}

	// 串口、服务器等配置需要重启后生效
	s.cfg.Frame = newCfg.Frame
	s.cfg.Plot = newCfg.Plot

	s.logger.Info("配置重新加载完成")
}

// printPorts 打印串口列表
func printPorts() error {
	ports, err := hardware.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("未发现串口")
		return nil
	}
	for _, p := range ports {
		fmt.Println(p.String())
	}
	return nil
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("serial-scope 串口数据采集\n")
	fmt.Printf("版本: %s\n", Version)
	fmt.Printf("构建时间: %s\n", BuildTime)
	fmt.Printf("Git提交: %s\n", GitCommit)
	fmt.Printf("Go版本: %s\n", runtime.Version())
	fmt.Printf("操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// printHelp 打印帮助信息
func printHelp() {
	fmt.Println("serial-scope 串口数据采集")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  serial-scope [选项]")
	fmt.Println()
	fmt.Println("选项:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("环境变量:")
	fmt.Println("  SERIAL_SCOPE_SERIAL_PORT       串口名称")
	fmt.Println("  SERIAL_SCOPE_SERIAL_BAUD_RATE  波特率")
	fmt.Println("  SERIAL_SCOPE_SERVER_API_TOKEN  控制接口令牌")
	fmt.Println()
	fmt.Println("示例:")
	fmt.Println("  serial-scope -list")
	fmt.Println("  serial-scope -port=/dev/ttyUSB0 -baud=115200")
	fmt.Println("  serial-scope -simulate -config=/path/to/config.yaml")
}

// printStartInfo 打印启动信息
func printStartInfo(cfg *config.Config) {
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Printf("serial-scope %s | 模式: %s | PID: %d\n", Version, cfg.Serial.Mode, os.Getpid())
	fmt.Printf("配置文件: %s\n", config.ConfigFile())
	fmt.Printf("帧格式: start=%q end=%q delimiter=%q\n", cfg.Frame.Start, cfg.Frame.End, cfg.Frame.Delimiter)
	if cfg.Server.Enabled {
		fmt.Printf("控制接口: http://%s\n", net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)))
	}
	fmt.Println("═══════════════════════════════════════════════════════════════")
}
