package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/weisyn/ledgernode/internal/api/jsonrpc/types"
)

// writeWait 单条消息写超时
const writeWait = 10 * time.Second

// ErrSessionClosed 连接已关闭
var ErrSessionClosed = errors.New("websocket session closed")

// session 一条 WebSocket 连接：串行化写入，连接关闭时执行清理
type session struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu       sync.Mutex
	closed   bool
	cleanups []func()
	done     chan struct{}
}

func newSession(conn *websocket.Conn) *session {
	return &session{conn: conn, done: make(chan struct{})}
}

// writeJSON 写一条文本消息
func (s *session) writeJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Notify 实现 jsonrpc.Notifier
func (s *session) Notify(method string, params interface{}) error {
	return s.writeJSON(types.Notification{JSONRPC: "2.0", Method: method, Params: params})
}

// OnClose 实现 jsonrpc.Notifier；已关闭时立即执行
func (s *session) OnClose(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn()
		return
	}
	s.cleanups = append(s.cleanups, fn)
	s.mu.Unlock()
}

// Done 实现 jsonrpc.Notifier
func (s *session) Done() <-chan struct{} { return s.done }

// close 关闭连接并执行所有清理函数
func (s *session) close() int {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	s.closed = true
	cleanups := s.cleanups
	s.cleanups = nil
	close(s.done)
	s.mu.Unlock()

	for _, fn := range cleanups {
		fn()
	}
	_ = s.conn.Close()
	return len(cleanups)
}
