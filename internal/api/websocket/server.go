// Package websocket 提供 JSON-RPC over WebSocket 传输，支持服务端推送
package websocket

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/weisyn/ledgernode/internal/api/jsonrpc"
)

// maxMessageBytes 单条请求上限
const maxMessageBytes = 1 << 20

// Server WebSocket服务器
type Server struct {
	logger   *zap.Logger
	rpc      *jsonrpc.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[*session]struct{}
}

// NewServer 创建WebSocket服务器，请求交给 rpc 分发
func NewServer(rpc *jsonrpc.Server, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		logger: logger,
		rpc:    rpc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		sessions: make(map[*session]struct{}),
	}
}

// HandleWebSocket 处理WebSocket连接（Gin Handler）
func (s *Server) HandleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}
	conn.SetReadLimit(maxMessageBytes)

	sess := newSession(conn)
	s.track(sess, true)
	remote := conn.RemoteAddr().String()
	s.logger.Info("WebSocket connection established", zap.String("remote_addr", remote))

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		s.track(sess, false)
		n := sess.close()
		s.logger.Info("WebSocket connection closed",
			zap.String("remote_addr", remote),
			zap.Int("released_subscriptions", n))
	}()
	ctx = jsonrpc.WithNotifier(ctx, sess)

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.logger.Warn("WebSocket connection closed unexpectedly", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		resp := s.rpc.Handle(ctx, message)
		if resp == nil {
			continue
		}
		if err := sess.writeJSON(resp); err != nil {
			s.logger.Warn("Failed to send response", zap.Error(err))
			return
		}
	}
}

// RegisterRoutes 注册WebSocket路由到Gin
func (s *Server) RegisterRoutes(router gin.IRoutes) {
	router.GET("/", s.HandleWebSocket)
	router.GET("/ws", s.HandleWebSocket)
}

// SessionCount 当前连接数
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// CloseAll 关闭所有连接
func (s *Server) CloseAll() {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.close()
	}
}

func (s *Server) track(sess *session, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.sessions[sess] = struct{}{}
	} else {
		delete(s.sessions, sess)
	}
}
