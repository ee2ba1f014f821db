package node

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/weisyn/ledgernode/internal/api"
	"github.com/weisyn/ledgernode/internal/api/jsonrpc"
	"github.com/weisyn/ledgernode/internal/api/jsonrpc/methods"
	nodeconfig "github.com/weisyn/ledgernode/internal/config/node"
	"github.com/weisyn/ledgernode/internal/core/authority"
)

// NodeServers 全节点对外的 JSON-RPC 服务器
type NodeServers struct {
	Query        *api.ServerHandle
	Subscription *api.ServerHandle // 未配置订阅地址或无事件处理器时为 nil
}

// Stop 停止全部服务器
func (s *NodeServers) Stop(ctx context.Context) error {
	var errs []error
	for _, h := range []*api.ServerHandle{s.Query, s.Subscription} {
		if h == nil {
			continue
		}
		if err := h.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BuildNodeServer 验证者返回 nil；全节点启动查询网关，并在配置了订阅地址且存在事件处理器时启动订阅服务器
func BuildNodeServer(
	ctx context.Context,
	cfg *nodeconfig.NodeOptions,
	state *authority.AuthorityState,
	registry prometheus.Registerer,
	logger *zap.Logger,
) (*NodeServers, error) {
	if cfg.IsValidator() {
		return nil, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	events := state.EventHandler()

	query := api.NewServerBuilder(false, registry, logger).WithRateLimit(cfg.RPCRateLimit)
	modules := []jsonrpc.Module{
		methods.NewReadAPI(state),
		methods.NewFullNodeAPI(state.IndexStore()),
		methods.NewBinaryAPI(state),
	}
	if events != nil {
		modules = append(modules, methods.NewEventReadAPI(events))
	}
	if err := registerAll(query, modules); err != nil {
		return nil, err
	}
	queryHandle, err := query.Start(ctx, cfg.JSONRPCAddress)
	if err != nil {
		return nil, fmt.Errorf("start json-rpc server: %w", err)
	}
	servers := &NodeServers{Query: queryHandle}

	if cfg.WebsocketAddress == "" || events == nil {
		if cfg.WebsocketAddress != "" {
			logger.Info("websocket address configured without event processing, subscription server not started",
				zap.String("websocket_address", cfg.WebsocketAddress))
		}
		return servers, nil
	}

	sub := api.NewServerBuilder(true, registry, logger)
	if err := sub.RegisterModule(methods.NewEventStreamingAPI(events, logger)); err != nil {
		_ = servers.Stop(ctx)
		return nil, err
	}
	servers.Subscription, err = sub.Start(ctx, cfg.WebsocketAddress)
	if err != nil {
		_ = servers.Stop(ctx)
		return nil, fmt.Errorf("start websocket server: %w", err)
	}
	return servers, nil
}

func registerAll(b *api.ServerBuilder, modules []jsonrpc.Module) error {
	for _, m := range modules {
		if err := b.RegisterModule(m); err != nil {
			return fmt.Errorf("register %s module: %w", m.Name(), err)
		}
	}
	return nil
}
