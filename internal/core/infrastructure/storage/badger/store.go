// Package badger 提供基于BadgerDB的键值存储，每个命名空间对应一个独立目录
package badger

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	badgerdb "github.com/dgraph-io/badger/v3"
	badgerconfig "github.com/weisyn/ledgernode/internal/config/storage/badger"
	"go.uber.org/zap"
)

// ErrClosed 存储已关闭或正在关闭
var ErrClosed = errors.New("badger store is closed")

// Store BadgerDB 存储
type Store struct {
	db     *badgerdb.DB
	config *badgerconfig.Config
	logger *zap.Logger

	// 关闭过程中拒绝写入，等待 in-flight 写事务退出后再关闭 db
	closing int32
	writeWg sync.WaitGroup
}

// New 打开（必要时创建）BadgerDB 存储
func New(config *badgerconfig.Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dataDir := config.GetPath()
	var opts badgerdb.Options
	if config.IsInMemory() {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	} else {
		if dataDir == "" {
			return nil, errors.New("badger data path is empty")
		}
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return nil, fmt.Errorf("create badger dir %s: %w", dataDir, err)
		}
		opts = badgerdb.DefaultOptions(dataDir)
		opts.SyncWrites = config.IsSyncWritesEnabled()
	}

	options := config.GetOptions()
	opts.MemTableSize = options.MemTableSize
	opts.BlockCacheSize = options.BlockCacheSize
	opts.IndexCacheSize = options.IndexCacheSize
	opts.ValueThreshold = config.GetValueThreshold()
	opts.NumMemtables = 2
	opts.NumCompactors = 2
	opts.ValueLogFileSize = 512 << 20
	opts.CompactL0OnClose = config.IsAutoCompactionEnabled()
	opts.Logger = newBadgerLogger(logger)

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger %s: %w", dataDir, err)
	}

	logger.Debug("badger store opened", zap.String("path", dataDir), zap.Bool("in_memory", config.IsInMemory()))
	return &Store{db: db, config: config, logger: logger}, nil
}

// Path 数据目录
func (s *Store) Path() string {
	return s.config.GetPath()
}

// Close 关闭存储并释放资源，重复调用安全
func (s *Store) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closing, 0, 1) {
		return nil
	}
	s.writeWg.Wait()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close badger %s: %w", s.config.GetPath(), err)
	}
	s.logger.Debug("badger store closed", zap.String("path", s.config.GetPath()))
	return nil
}

func (s *Store) beginWrite() (func(), error) {
	if atomic.LoadInt32(&s.closing) == 1 {
		return nil, ErrClosed
	}
	s.writeWg.Add(1)
	// double-check，避免在 Add 之后进入 closing
	if atomic.LoadInt32(&s.closing) == 1 {
		s.writeWg.Done()
		return nil, ErrClosed
	}
	return s.writeWg.Done, nil
}

// Get 获取指定键的值，键不存在时返回 nil, nil
func (s *Store) Get(key []byte) ([]byte, error) {
	var valCopy []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if errors.Is(err, badgerdb.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		valCopy, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("badger get: %w", err)
	}
	return valCopy, nil
}

// Set 设置键值对
func (s *Store) Set(key, value []byte) error {
	return s.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(key, value)
	})
}

// Delete 删除指定键
func (s *Store) Delete(key []byte) error {
	return s.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete(key)
	})
}

// Exists 检查键是否存在
func (s *Store) Exists(key []byte) (bool, error) {
	var exists bool
	err := s.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(key)
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("badger exists: %w", err)
	}
	return exists, nil
}

// Update 在读写事务中执行 fn
func (s *Store) Update(fn func(txn *badgerdb.Txn) error) error {
	done, err := s.beginWrite()
	if err != nil {
		return err
	}
	defer done()
	return s.db.Update(fn)
}

// View 在只读事务中执行 fn
func (s *Store) View(fn func(txn *badgerdb.Txn) error) error {
	return s.db.View(fn)
}

// Iterate 按键序遍历前缀下 >= start 的条目，fn 返回 false 时停止
func (s *Store) Iterate(prefix, start []byte, fn func(key, value []byte) (bool, error)) error {
	return s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := prefix
		if start != nil && bytes.Compare(start, prefix) > 0 {
			seek = start
		}
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			more, err := fn(item.KeyCopy(nil), value)
			if err != nil {
				return err
			}
			if !more {
				return nil
			}
		}
		return nil
	})
}

// IterateReverse 按键逆序遍历前缀下的条目，fn 返回 false 时停止
func (s *Store) IterateReverse(prefix []byte, fn func(key, value []byte) (bool, error)) error {
	return s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// 逆序时从前缀的上界开始
		seek := append(append([]byte{}, prefix...), 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			more, err := fn(item.KeyCopy(nil), value)
			if err != nil {
				return err
			}
			if !more {
				return nil
			}
		}
		return nil
	})
}

// PrefixScan 返回前缀下的全部键值
func (s *Store) PrefixScan(prefix []byte) (map[string][]byte, error) {
	result := make(map[string][]byte)
	err := s.Iterate(prefix, nil, func(key, value []byte) (bool, error) {
		result[string(key)] = value
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger prefix scan: %w", err)
	}
	return result, nil
}
