package node

import (
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	badgerconfig "github.com/weisyn/ledgernode/internal/config/storage/badger"
	"github.com/weisyn/ledgernode/internal/core/infrastructure/crypto/key"
	"github.com/weisyn/ledgernode/internal/core/infrastructure/storage/badger"
	"github.com/weisyn/ledgernode/internal/core/storage"
	"github.com/weisyn/ledgernode/pkg/types"
)

// 数据库根目录下的存储命名空间
const (
	StoreDir       = "store"
	CheckpointsDir = "checkpoints"
	IndexesDir     = "indexes"
	FollowerDir    = "follower_db"
	EventsDir      = "events.db"
	NodeSyncDir    = "node_sync_db"
)

// checkpointIdentity 检查点存储需要的委员会纪元与签名身份
type checkpointIdentity struct {
	epoch   uint64
	name    types.AuthorityName
	keyPair *key.KeyPair
}

// storeSet 已打开的存储集合；检查点存储与索引存储互斥
type storeSet struct {
	authority   *storage.AuthorityStore
	checkpoints *storage.CheckpointGuard
	index       *storage.IndexStore
	follower    *storage.FollowerStore
	events      *storage.EventStore

	closers []func() error
}

// storeOpener 在同一组 badger 选项下打开各命名空间
type storeOpener struct {
	root   string
	base   *badgerconfig.Config
	logger *zap.Logger
}

func (o storeOpener) open(dir string) (*badger.Store, error) {
	path := filepath.Join(o.root, dir)
	db, err := badger.New(o.base.WithPath(path), o.logger.With(zap.String("store", dir)))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return db, nil
}

// openStores 按模式打开存储；任一失败时关闭已打开的存储并返回错误
func openStores(o storeOpener, mode Mode, id checkpointIdentity) (_ *storeSet, err error) {
	s := &storeSet{}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	db, err := o.open(StoreDir)
	if err != nil {
		return nil, err
	}
	s.authority = storage.NewAuthorityStore(db)
	s.closers = append(s.closers, s.authority.Close)

	if mode.IsValidator() {
		db, err := o.open(CheckpointsDir)
		if err != nil {
			return nil, err
		}
		s.checkpoints = storage.NewCheckpointGuard(storage.NewCheckpointStore(db, id.epoch, id.name, id.keyPair))
		s.closers = append(s.closers, s.checkpoints.Close)
	} else {
		db, err := o.open(IndexesDir)
		if err != nil {
			return nil, err
		}
		s.index = storage.NewIndexStore(db)
		s.closers = append(s.closers, s.index.Close)
	}

	db, err = o.open(FollowerDir)
	if err != nil {
		return nil, err
	}
	s.follower = storage.NewFollowerStore(db)
	s.closers = append(s.closers, s.follower.Close)

	if mode.EventProcessing {
		db, err := o.open(EventsDir)
		if err != nil {
			return nil, err
		}
		events := storage.NewEventStore(db)
		s.closers = append(s.closers, events.Close)
		if err := events.Initialize(); err != nil {
			return nil, fmt.Errorf("initialize event store: %w", err)
		}
		s.events = events
	}
	return s, nil
}

// openNodeSync 打开全节点同步的待处理存储
func openNodeSync(o storeOpener) (*storage.NodeSyncStore, error) {
	db, err := o.open(NodeSyncDir)
	if err != nil {
		return nil, err
	}
	return storage.NewNodeSyncStore(db), nil
}

// Close 逆序关闭全部存储
func (s *storeSet) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
