package storage

import (
	"errors"
	"fmt"
	"sync/atomic"

	badgerdb "github.com/dgraph-io/badger/v3"

	"github.com/weisyn/ledgernode/internal/core/infrastructure/storage/badger"
	"github.com/weisyn/ledgernode/pkg/types"
)

// EventSchemaVersion 事件存储格式版本
const EventSchemaVersion = 1

// 事件存储错误
var (
	ErrNotInitialized = errors.New("event store is not initialized")
	ErrSchemaMismatch = errors.New("event store schema mismatch")
)

var (
	prefixEvent       = []byte("ev:")
	prefixEventTx     = []byte("evtx:")
	prefixEventModule = []byte("evmod:")
	keyEventSchema    = []byte("meta:schema")
	keyEventCursor    = []byte("meta:processed")
)

// EventStore 事件存储，首次使用前必须调用 Initialize
type EventStore struct {
	db          *badger.Store
	initialized atomic.Bool
}

// NewEventStore 包装事件命名空间
func NewEventStore(db *badger.Store) *EventStore {
	return &EventStore{db: db}
}

// Close 关闭底层存储
func (s *EventStore) Close() error { return s.db.Close() }

// Initialize 写入或校验格式版本
func (s *EventStore) Initialize() error {
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		raw, err := getOrNil(txn, keyEventSchema)
		if err != nil {
			return err
		}
		if raw == nil {
			return txn.Set(keyEventSchema, u64(EventSchemaVersion))
		}
		if v := readU64(raw); v != EventSchemaVersion {
			return fmt.Errorf("%w: found %d, want %d", ErrSchemaMismatch, v, EventSchemaVersion)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.initialized.Store(true)
	return nil
}

func (s *EventStore) ready() error {
	if !s.initialized.Load() {
		return ErrNotInitialized
	}
	return nil
}

// Cursor 下一个待处理的执行序号
func (s *EventStore) Cursor() (uint64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	raw, err := s.db.Get(keyEventCursor)
	if err != nil {
		return 0, err
	}
	return readU64(raw), nil
}

// Insert 写入一笔交易产生的事件并把游标推进到 next
func (s *EventStore) Insert(events []types.Event, next uint64) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badgerdb.Txn) error {
		for _, ev := range events {
			value, err := encode(ev)
			if err != nil {
				return err
			}
			id := makeKey(u64(ev.Sequence), u64(uint64(ev.Index)))
			evKey := makeKey(prefixEvent, id)
			if err := txn.Set(evKey, value); err != nil {
				return err
			}
			if err := txn.Set(makeKey(prefixEventTx, ev.TxDigest[:], u64(uint64(ev.Index))), evKey); err != nil {
				return err
			}
			if err := txn.Set(makeKey(prefixEventModule, []byte(ev.Module), []byte{0}, id), evKey); err != nil {
				return err
			}
		}
		return txn.Set(keyEventCursor, u64(next))
	})
}

// ByTransaction 交易产生的事件
func (s *EventStore) ByTransaction(digest types.Digest) ([]types.Event, error) {
	return s.resolve(makeKey(prefixEventTx, digest[:]), 0)
}

// ByModule 模块产生的事件（执行顺序）
func (s *EventStore) ByModule(module string, limit int) ([]types.Event, error) {
	return s.resolve(makeKey(prefixEventModule, []byte(module), []byte{0}), limit)
}

// Recent 最近的事件（新到旧）
func (s *EventStore) Recent(limit int) ([]types.Event, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var out []types.Event
	err := s.db.IterateReverse(prefixEvent, func(_, value []byte) (bool, error) {
		var ev types.Event
		if err := decode(value, &ev); err != nil {
			return false, err
		}
		out = append(out, ev)
		return limit <= 0 || len(out) < limit, nil
	})
	return out, err
}

// resolve 遍历二级索引并读取事件本体
func (s *EventStore) resolve(prefix []byte, limit int) ([]types.Event, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var keys [][]byte
	err := s.db.Iterate(prefix, nil, func(_, value []byte) (bool, error) {
		keys = append(keys, value)
		return limit <= 0 || len(keys) < limit, nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]types.Event, 0, len(keys))
	for _, k := range keys {
		raw, err := s.db.Get(k)
		if err != nil {
			return nil, err
		}
		if raw == nil {
			continue
		}
		var ev types.Event
		if err := decode(raw, &ev); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}
