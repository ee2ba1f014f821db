package storage

import (
	badgerdb "github.com/dgraph-io/badger/v3"

	"github.com/weisyn/ledgernode/internal/core/infrastructure/storage/badger"
	"github.com/weisyn/ledgernode/pkg/types"
)

var prefixPending = []byte("pending:")

// NodeSyncStore 全节点同步的待处理摘要，重启后继续处理
type NodeSyncStore struct {
	db *badger.Store
}

// NewNodeSyncStore 包装节点同步命名空间
func NewNodeSyncStore(db *badger.Store) *NodeSyncStore {
	return &NodeSyncStore{db: db}
}

// Close 关闭底层存储
func (s *NodeSyncStore) Close() error { return s.db.Close() }

func pendingPrefix(peer types.AuthorityName) []byte {
	return makeKey(prefixPending, []byte(peer), []byte{0})
}

// Enqueue 记录从对端得知、待拉取的交易摘要，value 为其执行序号
func (s *NodeSyncStore) Enqueue(peer types.AuthorityName, seq uint64, digest types.Digest) error {
	return s.db.Set(makeKey(pendingPrefix(peer), u64(seq), digest[:]), u64(seq))
}

// PendingEntry 待处理条目
type PendingEntry struct {
	Sequence uint64
	Digest   types.Digest
}

// Pending 对端的待处理摘要（按序号）
func (s *NodeSyncStore) Pending(peer types.AuthorityName) ([]PendingEntry, error) {
	prefix := pendingPrefix(peer)
	var out []PendingEntry
	err := s.db.Iterate(prefix, nil, func(k, value []byte) (bool, error) {
		var d types.Digest
		copy(d[:], k[len(prefix)+8:])
		out = append(out, PendingEntry{Sequence: readU64(value), Digest: d})
		return true, nil
	})
	return out, err
}

// Done 移除已处理的摘要
func (s *NodeSyncStore) Done(peer types.AuthorityName, entry PendingEntry) error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete(makeKey(pendingPrefix(peer), u64(entry.Sequence), entry.Digest[:]))
	})
}
