// Package node 编排账本节点的启动与生命周期
//
// 启动顺序固定：存储、账本状态、模式、复制子系统、周期任务、网络服务。
// 任一步骤失败即中止启动并释放已创建的资源；启动成功后各子系统在独立 goroutine 中运行，
// 由任务集合按监督策略管理。
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	nodeconfig "github.com/weisyn/ledgernode/internal/config/node"
	badgerconfig "github.com/weisyn/ledgernode/internal/config/storage/badger"
	"github.com/weisyn/ledgernode/internal/core/authority"
	"github.com/weisyn/ledgernode/internal/core/genesis"
	"github.com/weisyn/ledgernode/internal/core/infrastructure/crypto/key"
	logpkg "github.com/weisyn/ledgernode/internal/core/infrastructure/log"
	"github.com/weisyn/ledgernode/internal/core/infrastructure/metrics"
	"github.com/weisyn/ledgernode/internal/core/network"
	"github.com/weisyn/ledgernode/internal/core/replication"
	"github.com/weisyn/ledgernode/internal/core/storage"
	"github.com/weisyn/ledgernode/internal/node/task"
	"github.com/weisyn/ledgernode/pkg/types"
)

// 任务名称
const (
	TaskPeerListener   = "peer_listener"
	TaskBatch          = "batch"
	TaskPostProcessing = "post_processing"
	TaskGossip         = "gossip"
	TaskNodeSync       = "node_sync"
	TaskQueryServer    = "json_rpc"
	TaskSubscription   = "websocket"
)

// closeTimeout 启动失败回滚时等待任务退出的上限
const closeTimeout = 10 * time.Second

// Option 启动选项
type Option func(*startOptions)

type startOptions struct {
	logger  *zap.Logger
	storage *badgerconfig.BadgerOptions
}

// WithLogger 节点日志
func WithLogger(logger *zap.Logger) Option {
	return func(o *startOptions) { o.logger = logger }
}

// WithStorageOptions 各存储命名空间共用的 badger 选项；Path 会被替换
func WithStorageOptions(opts *badgerconfig.BadgerOptions) Option {
	return func(o *startOptions) { o.storage = opts }
}

// Node 运行中的节点
type Node struct {
	cfg    *nodeconfig.NodeOptions
	mode   Mode
	logger *zap.Logger

	state   *authority.AuthorityState
	tasks   *task.Set
	metrics *metrics.Server
	stores  *storeSet
	pending *storage.NodeSyncStore
	clients map[types.AuthorityName]*network.AuthorityClient
	peer    *network.Server
	servers *NodeServers

	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

// Start 按配置启动节点；ctx 只约束启动过程，子系统运行在节点自有的上下文中
func Start(ctx context.Context, cfg *nodeconfig.NodeOptions, opts ...Option) (_ *Node, err error) {
	if cfg == nil {
		return nil, errors.New("node options are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid node options: %w", err)
	}
	o := &startOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.storage == nil {
		o.storage = badgerconfig.New(nil).GetOptions()
	}
	logger := logpkg.NewModuleZapLogger(o.logger, "node")

	kp, err := key.Load(cfg.KeyPairPath)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	gen, err := genesis.Load(cfg.GenesisPath)
	if err != nil {
		return nil, fmt.Errorf("load genesis: %w", err)
	}
	committee := gen.Committee()
	mode := ResolveMode(cfg)

	metricsServer, err := metrics.Start(cfg.MetricsAddress, logpkg.NewModuleZapLogger(o.logger, "metrics"))
	if err != nil {
		return nil, err
	}

	nodeCtx, cancel := context.WithCancel(context.Background())
	n := &Node{
		cfg:     cfg,
		mode:    mode,
		logger:  logger,
		tasks:   &task.Set{},
		metrics: metricsServer,
		cancel:  cancel,
	}
	defer func() {
		if err != nil {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), closeTimeout)
			defer closeCancel()
			_ = n.Close(closeCtx)
		}
	}()
	registry := metricsServer.Registry()

	logger.Info("starting node",
		zap.String("name", string(kp.Name())),
		zap.Stringer("role", mode.Role),
		zap.Uint64("epoch", committee.Epoch()),
		zap.Int("committee_size", committee.Size()),
		zap.Bool("gossip", mode.Gossip),
		zap.Bool("event_processing", mode.EventProcessing))

	// 1. 存储
	opener := storeOpener{
		root:   cfg.DBPath,
		base:   badgerconfig.NewFromOptions(o.storage),
		logger: logpkg.NewModuleZapLogger(o.logger, "storage"),
	}
	n.stores, err = openStores(opener, mode, checkpointIdentity{
		epoch:   committee.Epoch(),
		name:    kp.Name(),
		keyPair: kp,
	})
	if err != nil {
		return nil, fmt.Errorf("open stores: %w", err)
	}

	// 2. 账本状态
	n.state, err = authority.New(ctx, authority.Params{
		Committee:   committee,
		Name:        kp.Name(),
		KeyPair:     kp,
		Store:       n.stores.authority,
		IndexStore:  n.stores.index,
		EventStore:  n.stores.events,
		Checkpoints: n.stores.checkpoints,
		Genesis:     gen,
		Registry:    registry,
		Logger:      logpkg.NewModuleZapLogger(o.logger, "authority"),
	})
	if err != nil {
		return nil, fmt.Errorf("build authority state: %w", err)
	}

	// 3. 复制子系统
	netCfg := network.FromOptions(cfg.PeerClient)
	if mode.ShouldReplicate() {
		if err := n.startReplication(nodeCtx, netCfg, gen, opener, registry, o.logger); err != nil {
			return nil, err
		}
	}

	// 4. 周期任务
	taskLogger := logpkg.NewModuleZapLogger(o.logger, "task")
	n.tasks.Add(task.Spawn(nodeCtx, TaskBatch, task.Detached, taskLogger, func(ctx context.Context) error {
		return n.state.RunBatchService(ctx, cfg.BatchSize, cfg.BatchInterval)
	}))
	if mode.ShouldPostProcess() {
		n.tasks.Add(task.Spawn(nodeCtx, TaskPostProcessing, task.Detached, taskLogger, n.state.RunPostProcessing))
	}

	// 5. 网络服务
	// 服务端保活参数独立于 peer_client 的客户端超时
	builder := network.NewServerBuilder(network.DefaultServerConfig().WithLogger(logpkg.NewModuleZapLogger(o.logger, "network")))
	if mode.IsValidator() {
		builder.AddService(&network.ValidatorServiceDesc, authority.NewValidatorService(n.state))
	}
	n.peer, err = builder.Bind(ctx, cfg.NetworkAddress)
	if err != nil {
		return nil, fmt.Errorf("bind peer listener: %w", err)
	}
	n.tasks.Add(task.Spawn(nodeCtx, TaskPeerListener, task.Joined, taskLogger, n.peer.Serve))

	n.servers, err = BuildNodeServer(ctx, cfg, n.state, registry, logpkg.NewModuleZapLogger(o.logger, "api"))
	if err != nil {
		return nil, err
	}
	if n.servers != nil {
		if q := n.servers.Query; q != nil {
			n.tasks.Add(task.Spawn(nodeCtx, TaskQueryServer, task.Detached, taskLogger, q.Wait))
		}
		if s := n.servers.Subscription; s != nil {
			n.tasks.Add(task.Spawn(nodeCtx, TaskSubscription, task.Detached, taskLogger, s.Wait))
		}
	}

	names := make([]string, 0, len(n.tasks.Handles()))
	for _, h := range n.tasks.Handles() {
		names = append(names, h.Name())
	}
	logger.Info("node started",
		zap.String("peer_address", n.peer.LocalAddr().String()),
		zap.Strings("tasks", names),
		zap.String("supervision", cfg.Supervision))
	return n, nil
}

// startReplication 为每个创世验证者建立惰性客户端并派生复制任务
func (n *Node) startReplication(
	ctx context.Context,
	netCfg network.Config,
	gen *genesis.Genesis,
	opener storeOpener,
	registry prometheus.Registerer,
	base *zap.Logger,
) error {
	validators := gen.ValidatorSet()
	addrs := make([]network.ValidatorAddress, 0, len(validators))
	for _, v := range validators {
		addrs = append(addrs, network.ValidatorAddress{Name: v.Name, Address: v.NetworkAddress})
	}
	clients, err := network.NewAuthorityClients(netCfg, addrs)
	if err != nil {
		return fmt.Errorf("build authority clients: %w", err)
	}
	n.clients = clients

	apis := make([]replication.AuthorityAPI, 0, len(clients))
	for _, c := range clients {
		apis = append(apis, c)
	}
	sort.Slice(apis, func(i, j int) bool { return apis[i].Name() < apis[j].Name() })

	active, err := replication.New(replication.Params{
		State:     n.state,
		Followers: n.stores.follower,
		Clients:   apis,
		Registry:  registry,
		Logger:    logpkg.NewModuleZapLogger(base, "replication"),
	})
	if err != nil {
		return fmt.Errorf("build active authority: %w", err)
	}

	if n.mode.IsValidator() {
		n.tasks.Add(active.SpawnGossip(ctx, n.cfg.GossipDegree))
		return nil
	}
	n.pending, err = openNodeSync(opener)
	if err != nil {
		return fmt.Errorf("open node sync store: %w", err)
	}
	n.tasks.Add(active.SpawnNodeSync(ctx, n.pending))
	return nil
}

// State 共享的账本状态
func (n *Node) State() *authority.AuthorityState { return n.state }

// Mode 运行模式
func (n *Node) Mode() Mode { return n.mode }

// PeerAddress 节点间 RPC 实际监听地址
func (n *Node) PeerAddress() ma.Multiaddr { return n.peer.LocalAddr() }

// PeerServices 节点间 RPC 已注册的服务
func (n *Node) PeerServices() []string { return n.peer.ServiceNames() }

// QueryAddress JSON 查询网关地址，未启动时为 nil
func (n *Node) QueryAddress() net.Addr {
	if n.servers == nil || n.servers.Query == nil {
		return nil
	}
	return n.servers.Query.LocalAddr()
}

// SubscriptionAddress 事件订阅服务器地址，未启动时为 nil
func (n *Node) SubscriptionAddress() net.Addr {
	if n.servers == nil || n.servers.Subscription == nil {
		return nil
	}
	return n.servers.Subscription.LocalAddr()
}

// Servers 查询与订阅服务器，验证者为 nil
func (n *Node) Servers() *NodeServers { return n.servers }

// MetricsAddress 指标服务地址，未启动时为 nil
func (n *Node) MetricsAddress() net.Addr { return n.metrics.Addr() }

// Registry 节点指标注册表
func (n *Node) Registry() *prometheus.Registry { return n.metrics.Registry() }

// Task 按名称查找任务句柄
func (n *Node) Task(name string) *task.Handle { return n.tasks.Get(name) }

// Tasks 全部任务句柄
func (n *Node) Tasks() []*task.Handle { return n.tasks.Handles() }

// Wait 默认只等待节点间 RPC 监听任务并返回其错误；supervision 为 all 时等待全部任务
func (n *Node) Wait(ctx context.Context) error {
	return n.tasks.Wait(ctx, n.cfg.Supervision == nodeconfig.SupervisionAll)
}

// Close 停止全部任务与服务并关闭存储，重复调用返回首次结果
func (n *Node) Close(ctx context.Context) error {
	n.closeOnce.Do(func() {
		n.closeErr = n.shutdown(ctx)
	})
	return n.closeErr
}

func (n *Node) shutdown(ctx context.Context) error {
	var errs []error
	n.cancel()

	if n.servers != nil {
		if err := n.servers.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if n.peer != nil {
		n.peer.Stop()
	}
	if err := n.tasks.WaitAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("wait for tasks: %w", err))
	}

	for _, c := range n.clients {
		_ = c.Close()
	}
	if n.state != nil {
		if err := n.state.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if n.pending != nil {
		if err := n.pending.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if n.stores != nil {
		if err := n.stores.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := n.metrics.Stop(ctx); err != nil {
		errs = append(errs, err)
	}

	n.logger.Info("node stopped")
	return errors.Join(errs...)
}
