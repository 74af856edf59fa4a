package api

import (
	stderrors "errors"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/serial-scope/internal/errors"
	"github.com/wfunc/serial-scope/internal/sink"
	"go.uber.org/zap"
)

// maxConnectTimeout 连接请求允许的最大读超时
const maxConnectTimeout = time.Hour

// ConnectRequest 连接请求
type ConnectRequest struct {
	Port     string   `json:"port"`
	BaudRate int      `json:"baud_rate"`
	Timeout  *float64 `json:"timeout"` // 秒，可为小数
}

// FrameRequest 帧格式更新请求
type FrameRequest struct {
	Start     *string `json:"start" binding:"required"`
	End       *string `json:"end" binding:"required"`
	Delimiter *string `json:"delimiter" binding:"required"`
}

// respondError 按错误码返回错误响应，严重错误带调用栈记录日志
func (r *Router) respondError(c *gin.Context, err error) {
	var appErr *errors.AppError
	if !stderrors.As(err, &appErr) {
		appErr = errors.Wrap(err, errors.ErrUnknown)
	}

	if errors.IsCritical(appErr) {
		r.log.Error("请求处理失败",
			zap.String("path", c.Request.URL.Path),
			zap.Error(appErr),
			zap.String("stack", appErr.GetStack()))
	}

	c.JSON(appErr.HTTPStatus(), gin.H{
		"code":    appErr.Code,
		"message": appErr.Message,
		"details": appErr.Details,
	})
}

// bindJSON 解析请求体，失败时返回400
func (r *Router) bindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		r.respondError(c, errors.Wrap(err, errors.ErrInvalidParam))
		return false
	}
	return true
}

// listPorts 列出串口
func (r *Router) listPorts(c *gin.Context) {
	ports, err := r.opts.ListPorts()
	if err != nil {
		r.log.Warn("枚举串口失败", zap.Error(err))
		r.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ports": ports,
		"total": len(ports),
	})
}

// getStatus 获取运行状态
func (r *Router) getStatus(c *gin.Context) {
	app := r.opts.Session.App()
	resp := gin.H{
		"receiver": app.Receiver().Status(),
		"ingest": gin.H{
			"running":     r.opts.Session.Running(),
			"interval_ms": r.opts.Session.Interval().Milliseconds(),
		},
		"frame": app.Parser().Config(),
	}
	if r.opts.Transcript != nil {
		resp["transcript"] = r.opts.Transcript.Info()
	}
	if r.opts.Hub != nil {
		resp["stream"] = gin.H{
			"clients": r.opts.Hub.ClientCount(),
			"dropped": r.opts.Hub.Dropped(),
		}
	}

	c.JSON(http.StatusOK, resp)
}

// connect 打开串口并启动采集
func (r *Router) connect(c *gin.Context) {
	var req ConnectRequest
	if c.Request.ContentLength != 0 && !r.bindJSON(c, &req) {
		return
	}

	if req.Port == "" {
		req.Port = r.opts.DefaultPort
	}
	if req.BaudRate == 0 {
		req.BaudRate = r.opts.DefaultBaudRate
	}
	timeout := r.opts.DefaultTimeout
	if req.Timeout != nil {
		seconds := *req.Timeout
		if math.IsNaN(seconds) || seconds < 0 || seconds > maxConnectTimeout.Seconds() {
			r.respondError(c, errors.Newf(errors.ErrInvalidParam,
				"timeout 必须在 0 到 %.0f 秒之间: %g", maxConnectTimeout.Seconds(), seconds))
			return
		}
		timeout = time.Duration(seconds * float64(time.Second))
	}

	receiver := r.opts.Session.App().Receiver()
	if !r.opts.Session.Connect(req.Port, req.BaudRate, timeout) {
		err := receiver.LastError()
		if err == nil {
			err = errors.New(errors.ErrSerialPortOpen)
		}
		if errors.IsRetryable(err) {
			r.log.Info("连接失败，可重试", zap.String("port", req.Port), zap.Error(err))
		} else {
			r.log.Warn("连接失败", zap.String("port", req.Port), zap.Error(err))
		}
		r.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"connected": true,
		"status":    receiver.Status(),
	})
}

// disconnect 停止采集并断开
func (r *Router) disconnect(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected": r.opts.Session.Disconnect(),
	})
}

// getFrame 获取帧格式
func (r *Router) getFrame(c *gin.Context) {
	c.JSON(http.StatusOK, r.opts.Session.App().Parser().Config())
}

// updateFrame 更新帧格式，下一条消息生效
func (r *Router) updateFrame(c *gin.Context) {
	var req FrameRequest
	if !r.bindJSON(c, &req) {
		return
	}

	p := r.opts.Session.App().Parser()
	p.Configure(*req.Start, *req.End, *req.Delimiter)
	c.JSON(http.StatusOK, p.Config())
}

// getTranscript 获取文本记录
func (r *Router) getTranscript(c *gin.Context) {
	if r.opts.Transcript == nil {
		r.respondError(c, errors.New(errors.ErrNotImplemented, "文本记录未启用"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"text": r.opts.Transcript.Text(),
		"info": r.opts.Transcript.Info(),
	})
}

// clearTranscript 清空文本记录
func (r *Router) clearTranscript(c *gin.Context) {
	if r.opts.Transcript == nil {
		r.respondError(c, errors.New(errors.ErrNotImplemented, "文本记录未启用"))
		return
	}

	r.opts.Transcript.Clear()
	c.JSON(http.StatusOK, gin.H{"message": "文本记录已清空"})
}

// saveTranscript 保存文本记录到文件
func (r *Router) saveTranscript(c *gin.Context) {
	if r.opts.Transcript == nil {
		r.respondError(c, errors.New(errors.ErrNotImplemented, "文本记录未启用"))
		return
	}

	path, err := r.opts.Transcript.Save()
	if err != nil {
		r.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"path":    path,
		"message": "文本记录已保存",
	})
}

// getPlot 获取绘图数据
func (r *Router) getPlot(c *gin.Context) {
	if r.opts.Plot == nil {
		r.respondError(c, errors.New(errors.ErrNotImplemented, "绘图未启用"))
		return
	}
	c.JSON(http.StatusOK, r.opts.Plot.Snapshot())
}

// updatePlot 更新绘图设置
func (r *Router) updatePlot(c *gin.Context) {
	if r.opts.Plot == nil {
		r.respondError(c, errors.New(errors.ErrNotImplemented, "绘图未启用"))
		return
	}

	var settings sink.PlotSettings
	if !r.bindJSON(c, &settings) {
		return
	}
	if err := r.opts.Plot.Configure(settings); err != nil {
		r.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, r.opts.Plot.Settings())
}

// resetPlot 清空绘图数据
func (r *Router) resetPlot(c *gin.Context) {
	if r.opts.Plot == nil {
		r.respondError(c, errors.New(errors.ErrNotImplemented, "绘图未启用"))
		return
	}

	r.opts.Plot.Reset()
	c.JSON(http.StatusOK, gin.H{"message": "绘图数据已清空"})
}
