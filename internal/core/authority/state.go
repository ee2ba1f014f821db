// Package authority 实现账本状态：交易执行、批次封装、后处理与事件分发
//
// 每个进程只有一个 AuthorityState，所有子系统共享同一指针，内部自行同步。
package authority

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/weisyn/ledgernode/internal/core/genesis"
	"github.com/weisyn/ledgernode/internal/core/infrastructure/crypto/key"
	"github.com/weisyn/ledgernode/internal/core/storage"
	"github.com/weisyn/ledgernode/pkg/types"
)

// 账本状态错误
var (
	ErrConflictingStores = errors.New("checkpoint store and index store are mutually exclusive")
	ErrMissingStore      = errors.New("primary store is required")
	ErrInvalidSignature  = errors.New("invalid transaction signature")
	ErrEmptyTransaction  = errors.New("transaction writes nothing")
)

// Params 构造账本状态所需的依赖
type Params struct {
	Committee   *genesis.Committee
	Name        types.AuthorityName
	KeyPair     *key.KeyPair
	Store       *storage.AuthorityStore
	IndexStore  *storage.IndexStore      // 仅全节点
	EventStore  *storage.EventStore      // 事件处理开启时
	Checkpoints *storage.CheckpointGuard // 仅验证者
	Genesis     *genesis.Genesis
	Registry    prometheus.Registerer
	Logger      *zap.Logger
}

// AuthorityState 账本状态
type AuthorityState struct {
	committee   *genesis.Committee
	name        types.AuthorityName
	keyPair     *key.KeyPair
	store       *storage.AuthorityStore
	indexStore  *storage.IndexStore
	checkpoints *storage.CheckpointGuard
	events      *EventHandler
	cache       *objectCache
	metrics     *stateMetrics
	logger      *zap.Logger

	// execMu 串行化序号分配与对象版本推进
	execMu sync.Mutex

	batchSignal   chan struct{}
	processSignal chan struct{}

	now func() time.Time
}

// New 构造账本状态；主存储为空时写入创世对象
func New(ctx context.Context, p Params) (*AuthorityState, error) {
	if p.Store == nil {
		return nil, ErrMissingStore
	}
	if p.IndexStore != nil && p.Checkpoints != nil {
		return nil, ErrConflictingStores
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	empty, err := p.Store.IsEmpty()
	if err != nil {
		return nil, fmt.Errorf("inspect primary store: %w", err)
	}
	if empty && p.Genesis != nil {
		if err := p.Store.InsertGenesis(p.Genesis.Objects); err != nil {
			return nil, fmt.Errorf("insert genesis: %w", err)
		}
		logger.Info("genesis objects written", zap.Int("objects", len(p.Genesis.Objects)))
	}

	cache, err := newObjectCache()
	if err != nil {
		return nil, fmt.Errorf("create object cache: %w", err)
	}

	metrics, err := newStateMetrics(p.Registry)
	if err != nil {
		_ = cache.Close()
		return nil, err
	}

	s := &AuthorityState{
		committee:     p.Committee,
		name:          p.Name,
		keyPair:       p.KeyPair,
		store:         p.Store,
		indexStore:    p.IndexStore,
		checkpoints:   p.Checkpoints,
		cache:         cache,
		metrics:       metrics,
		logger:        logger,
		batchSignal:   make(chan struct{}, 1),
		processSignal: make(chan struct{}, 1),
		now:           time.Now,
	}
	if p.EventStore != nil {
		s.events = NewEventHandler(p.EventStore, logger)
	}

	next, err := p.Store.NextSequence()
	if err != nil {
		_ = cache.Close()
		return nil, fmt.Errorf("read next sequence: %w", err)
	}
	s.metrics.nextSequence.Set(float64(next))

	logger.Info("authority state ready",
		zap.String("name", string(p.Name)),
		zap.Bool("validator", p.Checkpoints != nil),
		zap.Bool("index_store", p.IndexStore != nil),
		zap.Bool("event_handler", s.events != nil),
		zap.Uint64("next_sequence", next))
	return s, nil
}

// HandleTransaction 校验签名并执行交易；已执行的交易直接返回既有结果
func (s *AuthorityState) HandleTransaction(ctx context.Context, tx *types.Transaction) (*types.ExecutedTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(tx.Writes) == 0 && len(tx.Events) == 0 {
		return nil, ErrEmptyTransaction
	}
	if err := key.VerifyTransaction(tx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	digest := tx.Digest()

	s.execMu.Lock()
	defer s.execMu.Unlock()

	if known, err := s.store.HasTransaction(digest); err != nil {
		return nil, err
	} else if known {
		return s.store.Transaction(digest)
	}

	seq, err := s.store.NextSequence()
	if err != nil {
		return nil, err
	}
	ts := s.now().UnixMilli()

	objects := make([]types.Object, 0, len(tx.Writes))
	for _, w := range tx.Writes {
		current, err := s.object(w.ID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			current = nil
		case err != nil:
			return nil, err
		}
		obj := types.Object{ID: w.ID, Owner: w.Owner, Data: w.Data, Version: 1}
		if obj.Owner == "" {
			obj.Owner = string(tx.Sender)
		}
		if current != nil {
			obj.Version = current.Version + 1
		}
		objects = append(objects, obj)
	}

	events := make([]types.Event, 0, len(tx.Events))
	for i, spec := range tx.Events {
		events = append(events, types.Event{
			TxDigest:  digest,
			Sequence:  seq,
			Index:     i,
			Module:    tx.Module,
			Sender:    tx.Sender,
			Type:      spec.Type,
			Fields:    spec.Fields,
			Timestamp: ts,
		})
	}

	exec := &types.ExecutedTransaction{
		Sequence:    seq,
		Digest:      digest,
		Transaction: *tx,
		Objects:     objects,
		Events:      events,
		Timestamp:   ts,
	}
	if err := s.store.InsertTransaction(exec); err != nil {
		return nil, fmt.Errorf("persist transaction %s: %w", digest, err)
	}
	for i := range objects {
		s.cache.Put(&objects[i])
	}

	s.metrics.txExecuted.Inc()
	s.metrics.nextSequence.Set(float64(seq + 1))
	notify(s.batchSignal)
	notify(s.processSignal)

	s.logger.Debug("transaction executed",
		zap.String("digest", digest.String()),
		zap.Uint64("sequence", seq))
	return exec, nil
}

// notify 非阻塞地唤醒后台服务
func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (s *AuthorityState) object(id string) (*types.Object, error) {
	if obj, ok := s.cache.Get(id); ok {
		return obj, nil
	}
	obj, err := s.store.Object(id)
	if err != nil {
		return nil, err
	}
	s.cache.Put(obj)
	return obj, nil
}

// Object 读取对象当前版本
func (s *AuthorityState) Object(id string) (*types.Object, error) {
	return s.object(id)
}

// Transaction 按摘要读取已执行交易
func (s *AuthorityState) Transaction(digest types.Digest) (*types.ExecutedTransaction, error) {
	return s.store.Transaction(digest)
}

// TransactionsFrom 按执行顺序读取交易
func (s *AuthorityState) TransactionsFrom(seq uint64, limit int) ([]*types.ExecutedTransaction, error) {
	return s.store.TransactionsFrom(seq, limit)
}

// TransactionCount 已执行交易总数
func (s *AuthorityState) TransactionCount() (uint64, error) {
	return s.store.NextSequence()
}

// BatchesFrom 读取从 seq 起的批次
func (s *AuthorityState) BatchesFrom(seq uint64, limit int) ([]*types.Batch, error) {
	return s.store.BatchesFrom(seq, limit)
}

// LatestBatch 最新批次
func (s *AuthorityState) LatestBatch() (*types.Batch, error) {
	return s.store.LatestBatch()
}

// Committee 委员会
func (s *AuthorityState) Committee() *genesis.Committee { return s.committee }

// Name 本节点名称
func (s *AuthorityState) Name() types.AuthorityName { return s.name }

// IsValidator 是否持有检查点存储
func (s *AuthorityState) IsValidator() bool { return s.checkpoints != nil }

// EventHandler 事件处理能力，未开启事件处理时为 nil
func (s *AuthorityState) EventHandler() *EventHandler { return s.events }

// IndexStore 二级索引能力，验证者为 nil
func (s *AuthorityState) IndexStore() *storage.IndexStore { return s.indexStore }

// LatestCheckpoint 最新签名检查点，仅验证者可用
func (s *AuthorityState) LatestCheckpoint() (*types.Checkpoint, error) {
	if s.checkpoints == nil {
		return nil, fmt.Errorf("checkpoint: %w", storage.ErrNotFound)
	}
	var cp *types.Checkpoint
	err := s.checkpoints.WithLock(func(cs *storage.CheckpointStore) error {
		var err error
		cp, err = cs.Latest()
		return err
	})
	return cp, err
}

// Close 释放缓存与订阅；存储由打开者关闭
func (s *AuthorityState) Close() error {
	if s.events != nil {
		s.events.Close()
	}
	return s.cache.Close()
}
