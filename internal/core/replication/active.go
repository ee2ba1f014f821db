// Package replication 从验证者拉取已封装批次并在本地重放：验证者之间 gossip，全节点顺序同步
package replication

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/weisyn/ledgernode/internal/core/storage"
	"github.com/weisyn/ledgernode/internal/node/task"
	"github.com/weisyn/ledgernode/pkg/types"
)

const (
	// DefaultSyncInterval 两轮同步之间的间隔
	DefaultSyncInterval = time.Second
	// batchPage 单次拉取的批次数
	batchPage = 64
)

// ErrNoAuthorities 没有可同步的验证者
var ErrNoAuthorities = errors.New("no authority clients configured")

// AuthorityAPI 对端验证者的只读接口
type AuthorityAPI interface {
	Name() types.AuthorityName
	BatchInfo(ctx context.Context, start uint64, limit int) ([]*types.Batch, error)
	TransactionInfo(ctx context.Context, digest types.Digest) (*types.ExecutedTransaction, error)
}

// State 本地账本状态
type State interface {
	Name() types.AuthorityName
	Transaction(digest types.Digest) (*types.ExecutedTransaction, error)
	HandleTransaction(ctx context.Context, tx *types.Transaction) (*types.ExecutedTransaction, error)
}

// Params 构造参数
type Params struct {
	State     State
	Followers *storage.FollowerStore
	Clients   []AuthorityAPI
	Registry  prometheus.Registerer
	Logger    *zap.Logger
	// Interval 为 0 时取 DefaultSyncInterval
	Interval time.Duration
}

// ActiveAuthority 主动复制控制器
type ActiveAuthority struct {
	state     State
	followers *storage.FollowerStore
	clients   map[types.AuthorityName]AuthorityAPI
	names     []types.AuthorityName
	interval  time.Duration
	metrics   *replicationMetrics
	logger    *zap.Logger
}

// New 构造复制控制器，客户端集合为空时失败
func New(p Params) (*ActiveAuthority, error) {
	if len(p.Clients) == 0 {
		return nil, ErrNoAuthorities
	}
	if p.State == nil || p.Followers == nil {
		return nil, errors.New("replication requires ledger state and follower store")
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics, err := newReplicationMetrics(p.Registry)
	if err != nil {
		return nil, err
	}
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultSyncInterval
	}

	a := &ActiveAuthority{
		state:     p.State,
		followers: p.Followers,
		clients:   make(map[types.AuthorityName]AuthorityAPI, len(p.Clients)),
		interval:  interval,
		metrics:   metrics,
		logger:    logger,
	}
	for _, c := range p.Clients {
		a.clients[c.Name()] = c
		a.names = append(a.names, c.Name())
	}
	sort.Slice(a.names, func(i, j int) bool { return a.names[i] < a.names[j] })
	return a, nil
}

// Peers 除本节点外的对端，按名称排序
func (a *ActiveAuthority) Peers() []types.AuthorityName {
	self := a.state.Name()
	out := make([]types.AuthorityName, 0, len(a.names))
	for _, n := range a.names {
		if n != self {
			out = append(out, n)
		}
	}
	return out
}

// SpawnGossip 启动 gossip：每轮随机选取 min(degree, 对端数) 个对端并发拉取
func (a *ActiveAuthority) SpawnGossip(ctx context.Context, degree int) *task.Handle {
	logger := a.logger.With(zap.String("mode", "gossip"))
	return task.Spawn(ctx, "gossip", task.Detached, logger, func(ctx context.Context) error {
		if degree < 1 {
			return fmt.Errorf("gossip degree must be positive, got %d", degree)
		}
		logger.Info("gossip started", zap.Int("degree", degree), zap.Int("peers", len(a.Peers())))
		return a.loop(ctx, func(ctx context.Context) {
			a.gossipRound(ctx, degree, logger)
		})
	})
}

// SpawnNodeSync 启动全节点同步：依次遍历验证者，摘要先持久化到待处理存储再拉取执行
func (a *ActiveAuthority) SpawnNodeSync(ctx context.Context, pending *storage.NodeSyncStore) *task.Handle {
	logger := a.logger.With(zap.String("mode", "node_sync"))
	return task.Spawn(ctx, "node_sync", task.Detached, logger, func(ctx context.Context) error {
		if pending == nil {
			return errors.New("node sync requires a pending store")
		}
		logger.Info("node sync started", zap.Int("validators", len(a.names)))
		return a.loop(ctx, func(ctx context.Context) {
			a.nodeSyncRound(ctx, pending, logger)
		})
	})
}

func (a *ActiveAuthority) loop(ctx context.Context, round func(ctx context.Context)) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		round(ctx)
		timer.Reset(a.interval)
	}
}

func (a *ActiveAuthority) gossipRound(ctx context.Context, degree int, logger *zap.Logger) {
	peers := a.Peers()
	rand.Shuffle(len(peers), func(i, j int) { peers[i], peers[j] = peers[j], peers[i] })
	if len(peers) > degree {
		peers = peers[:degree]
	}

	var g errgroup.Group
	for _, peer := range peers {
		g.Go(func() error {
			if err := a.followPeer(ctx, peer, modeGossip, nil); err != nil && ctx.Err() == nil {
				a.metrics.errors.WithLabelValues(string(peer), modeGossip).Inc()
				logger.Warn("gossip with peer failed", zap.String("peer", string(peer)), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (a *ActiveAuthority) nodeSyncRound(ctx context.Context, pending *storage.NodeSyncStore, logger *zap.Logger) {
	for _, peer := range a.Peers() {
		if ctx.Err() != nil {
			return
		}
		if err := a.followPeer(ctx, peer, modeNodeSync, pending); err != nil && ctx.Err() == nil {
			a.metrics.errors.WithLabelValues(string(peer), modeNodeSync).Inc()
			logger.Warn("node sync with validator failed", zap.String("peer", string(peer)), zap.Error(err))
		}
	}
}

// followPeer 拉取对端游标之后的批次；pending 非空时摘要先入待处理存储
func (a *ActiveAuthority) followPeer(ctx context.Context, peer types.AuthorityName, mode string, pending *storage.NodeSyncStore) error {
	client := a.clients[peer]

	if pending != nil {
		// 上一轮（或上次运行）遗留的待处理摘要
		if err := a.drainPending(ctx, client, pending, mode); err != nil {
			return err
		}
	}

	cursor, err := a.followers.Cursor(peer)
	if err != nil {
		return fmt.Errorf("read cursor: %w", err)
	}
	for ctx.Err() == nil {
		batches, err := client.BatchInfo(ctx, cursor, batchPage)
		if err != nil {
			return fmt.Errorf("fetch batches from %d: %w", cursor, err)
		}
		for _, batch := range batches {
			if batch.Sequence < cursor {
				continue
			}
			if pending != nil {
				for _, d := range batch.Transactions {
					if err := pending.Enqueue(peer, batch.Sequence, d); err != nil {
						return fmt.Errorf("enqueue pending digest: %w", err)
					}
				}
			} else {
				for _, d := range batch.Transactions {
					if err := a.apply(ctx, client, d, mode); err != nil {
						return err
					}
				}
			}
			cursor = batch.Sequence + 1
			if err := a.followers.SetCursor(peer, cursor); err != nil {
				return fmt.Errorf("advance cursor: %w", err)
			}
			a.metrics.batches.WithLabelValues(string(peer), mode).Inc()
		}
		if pending != nil {
			if err := a.drainPending(ctx, client, pending, mode); err != nil {
				return err
			}
		}
		if len(batches) < batchPage {
			return nil
		}
	}
	return nil
}

func (a *ActiveAuthority) drainPending(ctx context.Context, client AuthorityAPI, pending *storage.NodeSyncStore, mode string) error {
	entries, err := pending.Pending(client.Name())
	if err != nil {
		return fmt.Errorf("read pending digests: %w", err)
	}
	for _, entry := range entries {
		if err := a.apply(ctx, client, entry.Digest, mode); err != nil {
			return err
		}
		if err := pending.Done(client.Name(), entry); err != nil {
			return fmt.Errorf("remove pending digest: %w", err)
		}
	}
	return nil
}

// apply 本地未知的交易从对端拉取后执行
func (a *ActiveAuthority) apply(ctx context.Context, client AuthorityAPI, digest types.Digest, mode string) error {
	if _, err := a.state.Transaction(digest); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	exec, err := client.TransactionInfo(ctx, digest)
	if err != nil {
		return fmt.Errorf("fetch transaction %s: %w", digest, err)
	}
	if exec == nil {
		return fmt.Errorf("fetch transaction %s: %w", digest, storage.ErrNotFound)
	}
	if exec.Transaction.Digest() != digest {
		return fmt.Errorf("peer %s returned mismatched transaction for %s", client.Name(), digest)
	}
	if _, err := a.state.HandleTransaction(ctx, &exec.Transaction); err != nil {
		return fmt.Errorf("apply transaction %s: %w", digest, err)
	}
	a.metrics.transactions.WithLabelValues(string(client.Name()), mode).Inc()
	return nil
}
