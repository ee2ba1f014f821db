// Package api 组装 JSON-RPC 服务器：HTTP 查询网关与 WebSocket 订阅服务器
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/weisyn/ledgernode/internal/api/jsonrpc"
	"github.com/weisyn/ledgernode/internal/api/middleware"
	"github.com/weisyn/ledgernode/internal/api/websocket"
)

// shutdownTimeout Stop 的最长等待
const shutdownTimeout = 5 * time.Second

// ErrAlreadyStarted 同一个 builder 只能启动一次
var ErrAlreadyStarted = errors.New("jsonrpc server already started")

// ServerBuilder 注册模块后在给定地址启动服务器
type ServerBuilder struct {
	websocket bool
	registry  prometheus.Registerer
	logger    *zap.Logger
	rateLimit int

	rpc     *jsonrpc.Server
	started bool
}

// NewServerBuilder 创建服务器构建器；websocket 为 true 时以 WebSocket 提供服务
func NewServerBuilder(websocket bool, registry prometheus.Registerer, logger *zap.Logger) *ServerBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ServerBuilder{
		websocket: websocket,
		registry:  registry,
		logger:    logger,
		rpc:       jsonrpc.NewServer(logger),
	}
}

// WithRateLimit 每个客户端IP每秒请求上限，0 表示不限
func (b *ServerBuilder) WithRateLimit(perSecond int) *ServerBuilder {
	b.rateLimit = perSecond
	return b
}

// RegisterModule 注册 JSON-RPC 模块，方法重名时返回错误
func (b *ServerBuilder) RegisterModule(m jsonrpc.Module) error {
	if err := b.rpc.RegisterModule(m); err != nil {
		return err
	}
	b.logger.Debug("JSON-RPC module registered", zap.String("rpc_module", m.Name()))
	return nil
}

// Modules 已注册模块名
func (b *ServerBuilder) Modules() []string {
	return b.rpc.Modules()
}

func (b *ServerBuilder) transport() string {
	if b.websocket {
		return "ws"
	}
	return "http"
}

// Start 绑定地址并在后台提供服务；绑定失败直接返回错误
func (b *ServerBuilder) Start(ctx context.Context, addr string) (*ServerHandle, error) {
	if b.started {
		return nil, ErrAlreadyStarted
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	b.started = true

	logger := b.logger.With(zap.String("transport", b.transport()))

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.Logger(logger),
		middleware.NewMetrics(b.registry, b.transport()).Middleware(),
	)
	if b.rateLimit > 0 {
		router.Use(middleware.NewRateLimit(b.rateLimit).Middleware())
	}

	var ws *websocket.Server
	if b.websocket {
		ws = websocket.NewServer(b.rpc, logger)
		ws.RegisterRoutes(router)
	} else {
		router.POST("/", gin.WrapH(b.rpc))
	}

	h := &ServerHandle{
		addr:    ln.Addr(),
		modules: b.rpc.Modules(),
		methods: b.rpc.Methods(),
		server: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		ws:     ws,
		logger: logger,
		done:   make(chan struct{}),
	}
	go h.serve(ln)

	logger.Info("JSON-RPC server started",
		zap.String("addr", h.addr.String()),
		zap.Strings("rpc_modules", h.modules))
	return h, nil
}

// ServerHandle 运行中的服务器
type ServerHandle struct {
	addr    net.Addr
	modules []string
	methods []string
	server  *http.Server
	ws      *websocket.Server
	logger  *zap.Logger

	done     chan struct{}
	err      error
	stopOnce sync.Once
}

func (h *ServerHandle) serve(ln net.Listener) {
	defer close(h.done)
	if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		h.err = err
		h.logger.Error("JSON-RPC server failed", zap.Error(err))
		return
	}
	h.logger.Info("JSON-RPC server stopped", zap.String("addr", h.addr.String()))
}

// LocalAddr 实际监听地址
func (h *ServerHandle) LocalAddr() net.Addr { return h.addr }

// Modules 已装载模块
func (h *ServerHandle) Modules() []string { return h.modules }

// Methods 已装载方法
func (h *ServerHandle) Methods() []string { return h.methods }

// Done 服务结束时关闭
func (h *ServerHandle) Done() <-chan struct{} { return h.done }

// Err 服务错误，正常停止为 nil；仅在 Done 关闭后有意义
func (h *ServerHandle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait 阻塞直到服务结束；ctx 结束时停止服务
func (h *ServerHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = h.Stop(stopCtx)
		<-h.done
		return h.err
	}
}

// Stop 优雅关闭，超时后强制关闭
func (h *ServerHandle) Stop(ctx context.Context) error {
	var err error
	h.stopOnce.Do(func() {
		if h.ws != nil {
			h.ws.CloseAll()
		}
		if err = h.server.Shutdown(ctx); err != nil {
			h.logger.Warn("JSON-RPC server shutdown timed out, forcing close", zap.Error(err))
			err = h.server.Close()
		}
	})
	return err
}
