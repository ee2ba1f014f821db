package storage

import (
	badgerdb "github.com/dgraph-io/badger/v3"

	"github.com/weisyn/ledgernode/internal/core/infrastructure/storage/badger"
	"github.com/weisyn/ledgernode/pkg/types"
)

var (
	prefixIndexSeq    = []byte("idx:seq:")
	prefixIndexSender = []byte("idx:sender:")
	prefixIndexObject = []byte("idx:obj:")
	keyIndexCursor    = []byte("meta:indexed")
)

// IndexStore 全节点二级索引：按序号、发送方与对象查询交易
type IndexStore struct {
	db *badger.Store
}

// NewIndexStore 包装索引命名空间
func NewIndexStore(db *badger.Store) *IndexStore {
	return &IndexStore{db: db}
}

// Close 关闭底层存储
func (s *IndexStore) Close() error { return s.db.Close() }

// Cursor 下一个待索引的执行序号
func (s *IndexStore) Cursor() (uint64, error) {
	raw, err := s.db.Get(keyIndexCursor)
	if err != nil {
		return 0, err
	}
	return readU64(raw), nil
}

// Index 写入一笔交易的全部索引并推进游标
func (s *IndexStore) Index(exec *types.ExecutedTransaction) error {
	seq := u64(exec.Sequence)
	return s.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Set(makeKey(prefixIndexSeq, seq), exec.Digest[:]); err != nil {
			return err
		}
		if err := txn.Set(makeKey(prefixIndexSender, []byte(exec.Transaction.Sender), []byte{0}, seq), exec.Digest[:]); err != nil {
			return err
		}
		for _, obj := range exec.Objects {
			if err := txn.Set(makeKey(prefixIndexObject, []byte(obj.ID), []byte{0}, seq), exec.Digest[:]); err != nil {
				return err
			}
		}
		return txn.Set(keyIndexCursor, u64(exec.Sequence+1))
	})
}

// TransactionsInRange 序号区间 [start, end) 内的交易摘要
func (s *IndexStore) TransactionsInRange(start, end uint64) ([]types.Digest, error) {
	var out []types.Digest
	err := s.db.Iterate(prefixIndexSeq, makeKey(prefixIndexSeq, u64(start)), func(k, value []byte) (bool, error) {
		if readU64(k) >= end {
			return false, nil
		}
		out = append(out, toDigest(value))
		return true, nil
	})
	return out, err
}

// TransactionsBySender 发送方的交易摘要（执行顺序）
func (s *IndexStore) TransactionsBySender(sender types.AuthorityName, limit int) ([]types.Digest, error) {
	return s.scanDigests(makeKey(prefixIndexSender, []byte(sender), []byte{0}), limit)
}

// TransactionsByObject 写过某对象的交易摘要（执行顺序）
func (s *IndexStore) TransactionsByObject(id string, limit int) ([]types.Digest, error) {
	return s.scanDigests(makeKey(prefixIndexObject, []byte(id), []byte{0}), limit)
}

func (s *IndexStore) scanDigests(prefix []byte, limit int) ([]types.Digest, error) {
	var out []types.Digest
	err := s.db.Iterate(prefix, nil, func(_, value []byte) (bool, error) {
		out = append(out, toDigest(value))
		return limit <= 0 || len(out) < limit, nil
	})
	return out, err
}

func toDigest(b []byte) types.Digest {
	var d types.Digest
	copy(d[:], b)
	return d
}
