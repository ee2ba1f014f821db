package types

import "fmt"

// RPCError JSON-RPC错误
type RPCError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

// 标准JSON-RPC 2.0错误码
const (
	// CodeParseError 解析错误
	CodeParseError = -32700
	// CodeInvalidRequest 无效请求
	CodeInvalidRequest = -32600
	// CodeMethodNotFound 方法不存在
	CodeMethodNotFound = -32601
	// CodeInvalidParams 无效参数
	CodeInvalidParams = -32602
	// CodeInternalError 内部错误
	CodeInternalError = -32603
)

// 自定义错误码（-32000至-32099）
const (
	// CodeServerError 方法处理失败
	CodeServerError = -32000
	// CodeSubscriptionUnsupported 当前传输不支持订阅
	CodeSubscriptionUnsupported = -32001
	// CodeRateLimited 请求频率超限
	CodeRateLimited = -32005
)

// NewRPCError 创建RPC错误
func NewRPCError(code int, message string, data interface{}) *RPCError {
	return &RPCError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// ErrParseError 创建解析错误
func ErrParseError(data interface{}) *RPCError {
	return NewRPCError(CodeParseError, "Parse error", data)
}

// ErrInvalidRequest 创建无效请求错误
func ErrInvalidRequest(data interface{}) *RPCError {
	return NewRPCError(CodeInvalidRequest, "Invalid Request", data)
}

// ErrMethodNotFound 创建方法未找到错误
func ErrMethodNotFound(method string) *RPCError {
	return NewRPCError(CodeMethodNotFound, "Method not found", method)
}

// ErrInvalidParams 创建无效参数错误
func ErrInvalidParams(data interface{}) *RPCError {
	return NewRPCError(CodeInvalidParams, "Invalid params", data)
}

// ErrSubscriptionUnsupported 订阅仅在 WebSocket 上可用
func ErrSubscriptionUnsupported() *RPCError {
	return NewRPCError(CodeSubscriptionUnsupported, "Subscriptions are only available over WebSocket", nil)
}
