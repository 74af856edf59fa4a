package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// ErrorCode 错误码类型
type ErrorCode int

// 错误码定义（按模块分组）
const (
	// 通用错误 (1000-1999)
	ErrUnknown        ErrorCode = 1000
	ErrInvalidParam   ErrorCode = 1001
	ErrNotFound       ErrorCode = 1002
	ErrTimeout        ErrorCode = 1003
	ErrNotImplemented ErrorCode = 1004
	ErrUnauthorized   ErrorCode = 1005

	// 串口错误 (3000-3999)
	ErrSerialPortOpen     ErrorCode = 3000
	ErrSerialPortRead     ErrorCode = 3001
	ErrSerialPortClose    ErrorCode = 3002
	ErrSerialNotConnected ErrorCode = 3003
	ErrSerialAlreadyOpen  ErrorCode = 3004
	ErrSerialPortNotFound ErrorCode = 3005
	ErrSerialPermission   ErrorCode = 3006
	ErrSerialEnumerate    ErrorCode = 3007
	ErrUnknownEncoding    ErrorCode = 3008

	// 事件与推送错误 (4000-4999)
	ErrHandlerFailed  ErrorCode = 4001
	ErrHandlerPanic   ErrorCode = 4002
	ErrMessageFormat  ErrorCode = 4003
	ErrStreamSendFull ErrorCode = 4004
	ErrSinkWrite      ErrorCode = 4005

	// 存储错误 (5000-5999)
	ErrStorageMkdir ErrorCode = 5000
	ErrStorageWrite ErrorCode = 5001

	// 配置错误 (6000-6999)
	ErrConfigLoad     ErrorCode = 6000
	ErrConfigParse    ErrorCode = 6001
	ErrConfigValidate ErrorCode = 6002
	ErrConfigMissing  ErrorCode = 6003
)

// 错误码消息映射
var errorMessages = map[ErrorCode]string{
	ErrUnknown:        "未知错误",
	ErrInvalidParam:   "无效的参数",
	ErrNotFound:       "资源未找到",
	ErrTimeout:        "操作超时",
	ErrNotImplemented: "功能未实现",
	ErrUnauthorized:   "未授权",

	ErrSerialPortOpen:     "串口打开失败",
	ErrSerialPortRead:     "串口读取失败",
	ErrSerialPortClose:    "串口关闭失败",
	ErrSerialNotConnected: "串口未连接",
	ErrSerialAlreadyOpen:  "串口已经打开",
	ErrSerialPortNotFound: "串口设备不存在",
	ErrSerialPermission:   "串口访问权限不足",
	ErrSerialEnumerate:    "串口枚举失败",
	ErrUnknownEncoding:    "不支持的文本编码",

	ErrHandlerFailed:  "事件处理失败",
	ErrHandlerPanic:   "事件处理发生panic",
	ErrMessageFormat:  "消息格式错误",
	ErrStreamSendFull: "推送缓冲区已满",
	ErrSinkWrite:      "显示输出失败",

	ErrStorageMkdir: "创建目录失败",
	ErrStorageWrite: "写入文件失败",

	ErrConfigLoad:     "配置加载失败",
	ErrConfigParse:    "配置解析失败",
	ErrConfigValidate: "配置验证失败",
	ErrConfigMissing:  "配置项缺失",
}

// AppError 应用错误结构
type AppError struct {
	Code    ErrorCode    `json:"code"`            // 错误码
	Message string       `json:"message"`         // 错误消息
	Details string       `json:"details"`         // 详细信息
	Cause   error        `json:"-"`               // 原始错误
	Stack   []StackFrame `json:"stack,omitempty"` // 调用栈
}

// StackFrame 调用栈帧
type StackFrame struct {
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%d] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 返回原始错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails 添加详细信息
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithCause 添加原因错误
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	if cause != nil && e.Details == "" {
		e.Details = cause.Error()
	}
	return e
}

// New 创建新的应用错误
func New(code ErrorCode, details ...string) *AppError {
	message, ok := errorMessages[code]
	if !ok {
		message = errorMessages[ErrUnknown]
	}

	err := &AppError{
		Code:    code,
		Message: message,
	}

	if len(details) > 0 {
		err.Details = strings.Join(details, "; ")
	}

	err.captureStack(2)

	return err
}

// Newf 创建格式化的应用错误
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap 包装错误，已经是AppError时保留原始错误码
func Wrap(err error, code ErrorCode, details ...string) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		if len(details) == 0 {
			return appErr
		}
		// 复制一份，不修改调用方持有的错误
		wrapped := *appErr
		parts := append([]string{}, details...)
		if appErr.Details != "" {
			parts = append(parts, appErr.Details)
		}
		wrapped.Details = strings.Join(parts, "; ")
		return &wrapped
	}

	appErr = New(code, details...)
	appErr.Cause = err
	if appErr.Details == "" {
		appErr.Details = err.Error()
	}

	return appErr
}

// Wrapf 包装格式化错误
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *AppError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// Is 判断错误是否为指定错误码
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Code == code
}

// GetCode 获取错误码
func GetCode(err error) ErrorCode {
	if err == nil {
		return 0
	}

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}

	return ErrUnknown
}

// captureStack 捕获调用栈
func (e *AppError) captureStack(skip int) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	if n == 0 {
		return
	}

	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()

		// 跳过runtime和本包的调用
		if !strings.Contains(frame.Function, "runtime.") &&
			!strings.Contains(frame.Function, "github.com/wfunc/serial-scope/internal/errors.") {
			e.Stack = append(e.Stack, StackFrame{
				Function: frame.Function,
				File:     frame.File,
				Line:     frame.Line,
			})
		}

		// 只保留前10个栈帧
		if !more || len(e.Stack) >= 10 {
			break
		}
	}
}

// GetStack 获取格式化的调用栈
func (e *AppError) GetStack() string {
	if len(e.Stack) == 0 {
		return ""
	}

	var builder strings.Builder
	for i, frame := range e.Stack {
		builder.WriteString(fmt.Sprintf("%d. %s\n   %s:%d\n",
			i+1, frame.Function, frame.File, frame.Line))
	}

	return builder.String()
}

// HTTPStatus 返回对应的HTTP状态码
func (e *AppError) HTTPStatus() int {
	switch {
	case e.Code == ErrInvalidParam, e.Code == ErrUnknownEncoding, e.Code == ErrMessageFormat:
		return http.StatusBadRequest
	case e.Code == ErrNotFound, e.Code == ErrSerialPortNotFound:
		return http.StatusNotFound
	case e.Code == ErrUnauthorized:
		return http.StatusUnauthorized
	case e.Code == ErrSerialPermission:
		return http.StatusForbidden
	case e.Code == ErrTimeout:
		return http.StatusRequestTimeout
	case e.Code == ErrSerialAlreadyOpen, e.Code == ErrSerialNotConnected:
		return http.StatusConflict
	case e.Code >= 3000 && e.Code <= 3999:
		return http.StatusServiceUnavailable
	case e.Code == ErrNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// IsRetryable 判断错误是否可重试
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case ErrTimeout,
		ErrSerialPortOpen,
		ErrSerialPortRead,
		ErrSerialPortNotFound,
		ErrStreamSendFull:
		return true
	default:
		return false
	}
}

// IsCritical 判断是否为严重错误
func IsCritical(err error) bool {
	switch GetCode(err) {
	case ErrConfigLoad,
		ErrConfigParse,
		ErrConfigMissing,
		ErrStorageMkdir:
		return true
	default:
		return false
	}
}
