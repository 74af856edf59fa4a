package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/serial-scope/internal/hardware"
	"github.com/wfunc/serial-scope/internal/middleware"
	"github.com/wfunc/serial-scope/internal/pipeline"
	"github.com/wfunc/serial-scope/internal/sink"
	ws "github.com/wfunc/serial-scope/internal/websocket"
	"go.uber.org/zap"
)

// Options 路由依赖
type Options struct {
	Session    *pipeline.Session
	Transcript *sink.Transcript
	Plot       *sink.Plot
	Hub        *ws.Hub // 为空时不注册 /ws

	// ListPorts 枚举串口，为空时使用 hardware.ListPorts
	ListPorts func() ([]hardware.PortInfo, error)

	// 连接请求未指定时使用的参数
	DefaultPort     string
	DefaultBaudRate int
	DefaultTimeout  time.Duration

	APIToken string
	Version  string
}

// Router API路由器
type Router struct {
	engine *gin.Engine
	opts   Options
	auth   *middleware.TokenAuth
	log    *zap.Logger
}

// NewRouter 创建路由器
func NewRouter(opts Options, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.ListPorts == nil {
		opts.ListPorts = hardware.ListPorts
	}

	// 创建Gin引擎
	engine := gin.New()

	// 全局中间件
	engine.Use(middleware.Recovery(log))
	engine.Use(middleware.RequestLogger(log))

	router := &Router{
		engine: engine,
		opts:   opts,
		auth:   middleware.NewTokenAuth(opts.APIToken),
		log:    log,
	}

	// 设置路由
	router.setupRoutes()

	return router
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	// 健康检查
	r.engine.GET("/health", r.healthCheck)

	// API v1路由组
	v1 := r.engine.Group("/api/v1")
	v1.Use(r.auth.RequireToken())
	{
		v1.GET("/ports", r.listPorts)
		v1.GET("/status", r.getStatus)

		// 连接管理
		v1.POST("/connect", r.connect)
		v1.POST("/disconnect", r.disconnect)

		// 帧格式
		v1.GET("/frame", r.getFrame)
		v1.PUT("/frame", r.updateFrame)

		// 文本记录
		transcript := v1.Group("/transcript")
		{
			transcript.GET("", r.getTranscript)
			transcript.DELETE("", r.clearTranscript)
			transcript.POST("/save", r.saveTranscript)
		}

		// 绘图数据
		v1.GET("/plot", r.getPlot)
		v1.PUT("/plot", r.updatePlot)
		v1.DELETE("/plot", r.resetPlot)
	}

	// WebSocket路由
	if r.opts.Hub != nil {
		r.engine.GET("/ws", r.auth.RequireToken(), r.serveWS)
	}

	// 404处理
	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "NOT_FOUND",
			"message": "接口不存在",
		})
	})
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"message":   "服务运行正常",
		"version":   r.opts.Version,
		"connected": r.opts.Session.App().Receiver().IsConnected(),
	})
}

// serveWS 升级为WebSocket连接
func (r *Router) serveWS(c *gin.Context) {
	r.opts.Hub.ServeWS(c.Writer, c.Request)
}

// Handler 返回HTTP处理器
func (r *Router) Handler() http.Handler {
	return r.engine
}

// GetEngine 获取Gin引擎（用于测试）
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
