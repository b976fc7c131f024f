package multicast

import "errors"

// DiscoveryError 定义组播角色生命周期操作可能返回的错误类型
type DiscoveryError struct {
	Code    int
	Message string
}

// Error 实现error接口
func (e *DiscoveryError) Error() string {
	return e.Message
}

// 定义错误代码
const (
	// ErrAlreadyRunning 角色已在运行中再次调用Start
	ErrAlreadyRunning = iota + 1
	// ErrShutdownTimeout 停止操作超出等待时限
	ErrShutdownTimeout
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig
	// ErrSocketClosed 套接字已不可用
	ErrSocketClosed
)

// NewAlreadyRunningError 创建重复启动错误
func NewAlreadyRunningError(message string) *DiscoveryError {
	return &DiscoveryError{
		Code:    ErrAlreadyRunning,
		Message: message,
	}
}

// NewShutdownTimeoutError 创建停止超时错误
func NewShutdownTimeoutError(message string) *DiscoveryError {
	return &DiscoveryError{
		Code:    ErrShutdownTimeout,
		Message: message,
	}
}

// NewInvalidConfigError 创建配置无效错误
func NewInvalidConfigError(message string) *DiscoveryError {
	return &DiscoveryError{
		Code:    ErrInvalidConfig,
		Message: message,
	}
}

// IsAlreadyRunning 判断错误是否为重复启动
func IsAlreadyRunning(err error) bool {
	var de *DiscoveryError
	return errors.As(err, &de) && de.Code == ErrAlreadyRunning
}

// IsShutdownTimeout 判断错误是否为停止超时
func IsShutdownTimeout(err error) bool {
	var de *DiscoveryError
	return errors.As(err, &de) && de.Code == ErrShutdownTimeout
}
