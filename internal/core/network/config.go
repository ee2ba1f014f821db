package network

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	nodeconfig "github.com/weisyn/ledgernode/internal/config/node"
)

// 默认客户端超时
const (
	DefaultConnectTimeout    = 5 * time.Second
	DefaultRequestTimeout    = 5 * time.Second
	DefaultKeepAliveInterval = 5 * time.Second
)

// Config 节点间连接参数
type Config struct {
	ConnectTimeout    time.Duration
	RequestTimeout    time.Duration
	KeepAliveInterval time.Duration
}

// DefaultConfig 默认连接参数
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    DefaultConnectTimeout,
		RequestTimeout:    DefaultRequestTimeout,
		KeepAliveInterval: DefaultKeepAliveInterval,
	}
}

// FromOptions 由节点配置构造连接参数，未设置的字段取默认值
func FromOptions(o nodeconfig.PeerClientOptions) Config {
	cfg := DefaultConfig()
	if o.ConnectTimeout > 0 {
		cfg.ConnectTimeout = o.ConnectTimeout
	}
	if o.RequestTimeout > 0 {
		cfg.RequestTimeout = o.RequestTimeout
	}
	if o.KeepAliveInterval > 0 {
		cfg.KeepAliveInterval = o.KeepAliveInterval
	}
	return cfg
}

// ConnectLazy 创建惰性连接：不拨号，首次调用时才建立连接
func (c Config) ConnectLazy(addr string) (*grpc.ClientConn, error) {
	target, err := DialTarget(addr)
	if err != nil {
		return nil, err
	}
	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff:           backoff.DefaultConfig,
			MinConnectTimeout: c.ConnectTimeout,
		}),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                c.KeepAliveInterval,
			Timeout:             c.RequestTimeout,
			PermitWithoutStream: true,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create client for %s: %w", addr, err)
	}
	return conn, nil
}

// 默认服务端保活参数，与客户端配置相互独立
const (
	DefaultServerKeepAliveMinTime = 5 * time.Second
	DefaultServerKeepAliveTime    = 5 * time.Second
	DefaultServerKeepAliveTimeout = 5 * time.Second
)

// ServerConfig 节点间 RPC 服务端参数
type ServerConfig struct {
	// KeepAliveMinTime 允许客户端发送保活探测的最短间隔
	KeepAliveMinTime time.Duration
	// KeepAliveTime 服务端对空闲连接发起保活探测的间隔
	KeepAliveTime time.Duration
	// KeepAliveTimeout 保活探测的应答超时
	KeepAliveTimeout time.Duration

	Logger *zap.Logger
}

// DefaultServerConfig 默认服务端参数
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		KeepAliveMinTime: DefaultServerKeepAliveMinTime,
		KeepAliveTime:    DefaultServerKeepAliveTime,
		KeepAliveTimeout: DefaultServerKeepAliveTimeout,
	}
}

// WithLogger 返回带日志记录器的副本
func (c ServerConfig) WithLogger(logger *zap.Logger) ServerConfig {
	c.Logger = logger
	return c
}

func (c ServerConfig) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// NewServerBuilder 创建服务端构建器
func NewServerBuilder(cfg ServerConfig) *ServerBuilder {
	return &ServerBuilder{cfg: cfg}
}
