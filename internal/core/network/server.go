package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
)

// stopGrace 优雅停止的最长等待，超时后强制停止
const stopGrace = 5 * time.Second

type registration struct {
	desc *grpc.ServiceDesc
	impl interface{}
}

// ServerBuilder 收集服务后绑定监听地址
type ServerBuilder struct {
	cfg      ServerConfig
	services []registration
}

// AddService 注册服务，Bind 时统一挂载
func (b *ServerBuilder) AddService(desc *grpc.ServiceDesc, impl interface{}) *ServerBuilder {
	b.services = append(b.services, registration{desc: desc, impl: impl})
	return b
}

// Bind 在 multiaddr 上监听并挂载服务、健康检查与反射；不开始处理请求
func (b *ServerBuilder) Bind(ctx context.Context, addr string) (*Server, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	maddr, err := ma.NewMultiaddr(addr)
	if err != nil {
		return nil, fmt.Errorf("parse listen address %q: %w", addr, err)
	}
	listener, err := manet.Listen(maddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	grpcServer := grpc.NewServer(
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             b.cfg.KeepAliveMinTime,
			PermitWithoutStream: true,
		}),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    b.cfg.KeepAliveTime,
			Timeout: b.cfg.KeepAliveTimeout,
		}),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)

	names := make([]string, 0, len(b.services))
	for _, svc := range b.services {
		grpcServer.RegisterService(svc.desc, svc.impl)
		hs.SetServingStatus(svc.desc.ServiceName, healthpb.HealthCheckResponse_SERVING)
		names = append(names, svc.desc.ServiceName)
	}
	reflection.Register(grpcServer)

	logger := b.cfg.logger()
	logger.Info("peer listener bound",
		zap.String("address", listener.Multiaddr().String()),
		zap.Strings("services", names))

	return &Server{
		server:    grpcServer,
		listener:  manet.NetListener(listener),
		localAddr: listener.Multiaddr(),
		health:    hs,
		services:  names,
		logger:    logger,
	}, nil
}

// Server 已绑定的节点间 RPC 服务端
type Server struct {
	server    *grpc.Server
	listener  net.Listener
	localAddr ma.Multiaddr
	health    *health.Server
	services  []string
	logger    *zap.Logger

	stopOnce sync.Once
}

// Listener 底层监听器
func (s *Server) Listener() net.Listener { return s.listener }

// LocalAddr 实际监听地址（端口为 0 时为分配后的端口）
func (s *Server) LocalAddr() ma.Multiaddr { return s.localAddr }

// ServiceNames 已挂载的业务服务
func (s *Server) ServiceNames() []string {
	out := make([]string, len(s.services))
	copy(out, s.services)
	return out
}

// Serve 处理请求直到 ctx 取消或 Stop；正常停止返回 nil
func (s *Server) Serve(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-done:
		}
	}()

	err := s.server.Serve(s.listener)
	if err == nil || errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return fmt.Errorf("peer listener on %s: %w", s.localAddr, err)
}

// Stop 优雅停止，超时后强制关闭连接
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.health.Shutdown()
		stopped := make(chan struct{})
		go func() {
			s.server.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(stopGrace):
			s.logger.Warn("peer listener graceful stop timed out, forcing")
			s.server.Stop()
		}
		// 未进入 Serve 时监听器不归 grpc 管理
		_ = s.listener.Close()
		s.logger.Info("peer listener stopped", zap.String("address", s.localAddr.String()))
	})
}
