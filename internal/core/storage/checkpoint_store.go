package storage

import (
	"fmt"
	"sync"

	"github.com/weisyn/ledgernode/internal/core/infrastructure/crypto/key"
	"github.com/weisyn/ledgernode/internal/core/infrastructure/storage/badger"
	"github.com/weisyn/ledgernode/pkg/types"
)

var prefixCheckpoint = []byte("cp:")

// CheckpointStore 验证者检查点存储，持有纪元、节点名称与签名密钥
type CheckpointStore struct {
	db     *badger.Store
	epoch  uint64
	name   types.AuthorityName
	signer *key.KeyPair
}

// NewCheckpointStore 包装检查点命名空间
func NewCheckpointStore(db *badger.Store, epoch uint64, name types.AuthorityName, kp *key.KeyPair) *CheckpointStore {
	return &CheckpointStore{db: db, epoch: epoch, name: name, signer: kp}
}

// Close 关闭底层存储
func (s *CheckpointStore) Close() error { return s.db.Close() }

// Epoch 纪元
func (s *CheckpointStore) Epoch() uint64 { return s.epoch }

// Name 签名节点名称
func (s *CheckpointStore) Name() types.AuthorityName { return s.name }

// Sign 为批次生成并持久化签名检查点片段
func (s *CheckpointStore) Sign(batch *types.Batch) (*types.Checkpoint, error) {
	cp := &types.Checkpoint{
		Sequence:    batch.Sequence,
		Epoch:       s.epoch,
		Authority:   s.name,
		BatchDigest: batch.Digest,
	}
	cp.Signature = s.signer.Sign(cp.SigningDigest())

	value, err := encode(cp)
	if err != nil {
		return nil, err
	}
	if err := s.db.Set(makeKey(prefixCheckpoint, u64(cp.Sequence)), value); err != nil {
		return nil, fmt.Errorf("persist checkpoint %d: %w", cp.Sequence, err)
	}
	return cp, nil
}

// Get 按序号读取检查点
func (s *CheckpointStore) Get(seq uint64) (*types.Checkpoint, error) {
	raw, err := s.db.Get(makeKey(prefixCheckpoint, u64(seq)))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("checkpoint %d: %w", seq, ErrNotFound)
	}
	cp := &types.Checkpoint{}
	return cp, decode(raw, cp)
}

// Latest 最新检查点
func (s *CheckpointStore) Latest() (*types.Checkpoint, error) {
	var latest *types.Checkpoint
	err := s.db.IterateReverse(prefixCheckpoint, func(_, value []byte) (bool, error) {
		latest = &types.Checkpoint{}
		return false, decode(value, latest)
	})
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, fmt.Errorf("latest checkpoint: %w", ErrNotFound)
	}
	return latest, nil
}

// CheckpointGuard 互斥访问检查点存储
type CheckpointGuard struct {
	mu    sync.Mutex
	store *CheckpointStore
}

// NewCheckpointGuard 用互斥锁包装检查点存储
func NewCheckpointGuard(store *CheckpointStore) *CheckpointGuard {
	return &CheckpointGuard{store: store}
}

// WithLock 持锁执行 fn
func (g *CheckpointGuard) WithLock(fn func(*CheckpointStore) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(g.store)
}

// Close 持锁关闭底层存储
func (g *CheckpointGuard) Close() error {
	return g.WithLock(func(s *CheckpointStore) error { return s.Close() })
}
