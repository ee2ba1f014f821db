package jsonrpc

import "context"

// Notifier 向当前连接推送通知；仅长连接传输提供
type Notifier interface {
	// Notify 发送 JSON-RPC 通知
	Notify(method string, params interface{}) error
	// OnClose 注册连接关闭时的清理函数
	OnClose(fn func())
	// Done 连接关闭时关闭
	Done() <-chan struct{}
}

type notifierKey struct{}

// WithNotifier 将通知通道放入上下文
func WithNotifier(ctx context.Context, n Notifier) context.Context {
	return context.WithValue(ctx, notifierKey{}, n)
}

// NotifierFromContext 取出通知通道，HTTP 请求中不存在
func NotifierFromContext(ctx context.Context) (Notifier, bool) {
	n, ok := ctx.Value(notifierKey{}).(Notifier)
	return n, ok && n != nil
}
