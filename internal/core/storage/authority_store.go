package storage

import (
	"errors"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v3"

	"github.com/weisyn/ledgernode/internal/core/infrastructure/storage/badger"
	"github.com/weisyn/ledgernode/pkg/types"
)

var (
	prefixObject      = []byte("obj:")
	prefixTransaction = []byte("tx:")
	prefixSequence    = []byte("seq:")
	prefixBatch       = []byte("batch:")
	keyNextSequence   = []byte("meta:next_seq")
	keyGenesis        = []byte("meta:genesis")
)

// AuthorityStore 主存储：对象、已执行交易、执行序号与批次
type AuthorityStore struct {
	db *badger.Store
}

// NewAuthorityStore 包装主存储命名空间
func NewAuthorityStore(db *badger.Store) *AuthorityStore {
	return &AuthorityStore{db: db}
}

// Close 关闭底层存储
func (s *AuthorityStore) Close() error { return s.db.Close() }

// IsEmpty 是否尚未写入创世
func (s *AuthorityStore) IsEmpty() (bool, error) {
	exists, err := s.db.Exists(keyGenesis)
	if err != nil {
		return false, err
	}
	return !exists, nil
}

// InsertGenesis 写入创世对象并打标记，已有标记时不做任何事
func (s *AuthorityStore) InsertGenesis(objects []types.Object) error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		if _, err := txn.Get(keyGenesis); err == nil {
			return nil
		} else if !errors.Is(err, badgerdb.ErrKeyNotFound) {
			return err
		}
		for _, obj := range objects {
			value, err := encode(obj)
			if err != nil {
				return err
			}
			if err := txn.Set(makeKey(prefixObject, []byte(obj.ID)), value); err != nil {
				return err
			}
		}
		return txn.Set(keyGenesis, u64(uint64(len(objects))))
	})
}

// NextSequence 下一个执行序号（即已执行交易数）
func (s *AuthorityStore) NextSequence() (uint64, error) {
	raw, err := s.db.Get(keyNextSequence)
	if err != nil {
		return 0, err
	}
	return readU64(raw), nil
}

// InsertTransaction 原子写入已执行交易、其序号索引与对象效果
func (s *AuthorityStore) InsertTransaction(exec *types.ExecutedTransaction) error {
	value, err := encode(exec)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badgerdb.Txn) error {
		raw, err := getOrNil(txn, keyNextSequence)
		if err != nil {
			return err
		}
		if next := readU64(raw); next != exec.Sequence {
			return fmt.Errorf("sequence mismatch: store at %d, transaction %d", next, exec.Sequence)
		}
		if err := txn.Set(makeKey(prefixTransaction, exec.Digest[:]), value); err != nil {
			return err
		}
		if err := txn.Set(makeKey(prefixSequence, u64(exec.Sequence)), exec.Digest[:]); err != nil {
			return err
		}
		for _, obj := range exec.Objects {
			objValue, err := encode(obj)
			if err != nil {
				return err
			}
			if err := txn.Set(makeKey(prefixObject, []byte(obj.ID)), objValue); err != nil {
				return err
			}
		}
		return txn.Set(keyNextSequence, u64(exec.Sequence+1))
	})
}

// HasTransaction 交易是否已执行
func (s *AuthorityStore) HasTransaction(digest types.Digest) (bool, error) {
	return s.db.Exists(makeKey(prefixTransaction, digest[:]))
}

// Transaction 按摘要读取已执行交易
func (s *AuthorityStore) Transaction(digest types.Digest) (*types.ExecutedTransaction, error) {
	raw, err := s.db.Get(makeKey(prefixTransaction, digest[:]))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("transaction %s: %w", digest, ErrNotFound)
	}
	exec := &types.ExecutedTransaction{}
	if err := decode(raw, exec); err != nil {
		return nil, err
	}
	return exec, nil
}

// TransactionsFrom 按执行顺序读取从 seq 起最多 limit 笔交易
func (s *AuthorityStore) TransactionsFrom(seq uint64, limit int) ([]*types.ExecutedTransaction, error) {
	var digests []types.Digest
	err := s.db.Iterate(prefixSequence, makeKey(prefixSequence, u64(seq)), func(_, value []byte) (bool, error) {
		var d types.Digest
		copy(d[:], value)
		digests = append(digests, d)
		return limit <= 0 || len(digests) < limit, nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]*types.ExecutedTransaction, 0, len(digests))
	for _, d := range digests {
		exec, err := s.Transaction(d)
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, nil
}

// Object 读取对象当前版本
func (s *AuthorityStore) Object(id string) (*types.Object, error) {
	raw, err := s.db.Get(makeKey(prefixObject, []byte(id)))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("object %s: %w", id, ErrNotFound)
	}
	obj := &types.Object{}
	if err := decode(raw, obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// InsertBatch 持久化已封装批次
func (s *AuthorityStore) InsertBatch(batch *types.Batch) error {
	value, err := encode(batch)
	if err != nil {
		return err
	}
	return s.db.Set(makeKey(prefixBatch, u64(batch.Sequence)), value)
}

// Batch 按序号读取批次
func (s *AuthorityStore) Batch(seq uint64) (*types.Batch, error) {
	raw, err := s.db.Get(makeKey(prefixBatch, u64(seq)))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("batch %d: %w", seq, ErrNotFound)
	}
	batch := &types.Batch{}
	if err := decode(raw, batch); err != nil {
		return nil, err
	}
	return batch, nil
}

// BatchesFrom 读取从 seq 起最多 limit 个批次
func (s *AuthorityStore) BatchesFrom(seq uint64, limit int) ([]*types.Batch, error) {
	var out []*types.Batch
	err := s.db.Iterate(prefixBatch, makeKey(prefixBatch, u64(seq)), func(_, value []byte) (bool, error) {
		batch := &types.Batch{}
		if err := decode(value, batch); err != nil {
			return false, err
		}
		out = append(out, batch)
		return limit <= 0 || len(out) < limit, nil
	})
	return out, err
}

// LatestBatch 最新批次，尚无批次时返回 ErrNotFound
func (s *AuthorityStore) LatestBatch() (*types.Batch, error) {
	var latest *types.Batch
	err := s.db.IterateReverse(prefixBatch, func(_, value []byte) (bool, error) {
		latest = &types.Batch{}
		return false, decode(value, latest)
	})
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, fmt.Errorf("latest batch: %w", ErrNotFound)
	}
	return latest, nil
}

func getOrNil(txn *badgerdb.Txn, k []byte) ([]byte, error) {
	item, err := txn.Get(k)
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}
