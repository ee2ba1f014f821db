package storage

import (
	"github.com/weisyn/ledgernode/internal/core/infrastructure/storage/badger"
	"github.com/weisyn/ledgernode/pkg/types"
)

var prefixFollowerCursor = []byte("cursor:")

// FollowerStore 记录每个对端下一个待拉取的批次序号
type FollowerStore struct {
	db *badger.Store
}

// NewFollowerStore 包装跟随游标命名空间
func NewFollowerStore(db *badger.Store) *FollowerStore {
	return &FollowerStore{db: db}
}

// Close 关闭底层存储
func (s *FollowerStore) Close() error { return s.db.Close() }

// Cursor 对端的下一个批次序号，未记录时为 0
func (s *FollowerStore) Cursor(peer types.AuthorityName) (uint64, error) {
	raw, err := s.db.Get(makeKey(prefixFollowerCursor, []byte(peer)))
	if err != nil {
		return 0, err
	}
	return readU64(raw), nil
}

// SetCursor 更新对端游标
func (s *FollowerStore) SetCursor(peer types.AuthorityName, next uint64) error {
	return s.db.Set(makeKey(prefixFollowerCursor, []byte(peer)), u64(next))
}
