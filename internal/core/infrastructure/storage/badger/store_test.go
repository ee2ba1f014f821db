package badger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	badgerconfig "github.com/weisyn/ledgernode/internal/config/storage/badger"
	"github.com/weisyn/ledgernode/pkg/types"
)

// 初始化测试环境
func setupTestStore(t *testing.T) (*Store, string) {
	tempDir := filepath.Join(t.TempDir(), "store")
	cfg := badgerconfig.NewFromOptions(&badgerconfig.BadgerOptions{
		Path:           tempDir,
		SyncWrites:     false,
		MemTableSize:   1 << 20,
		BlockCacheSize: 1 << 20,
		IndexCacheSize: 1 << 20,
	})

	store, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, tempDir
}

func TestStoreBasicOperations(t *testing.T) {
	store, dir := setupTestStore(t)
	assert.Equal(t, dir, store.Path())

	// 不存在的键
	value, err := store.Get([]byte("missing"))
	require.NoError(t, err)
	assert.Nil(t, value)

	require.NoError(t, store.Set([]byte("k1"), []byte("v1")))
	value, err = store.Get([]byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), value)

	exists, err := store.Exists([]byte("k1"))
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.Delete([]byte("k1")))
	exists, err = store.Exists([]byte("k1"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStoreIterate(t *testing.T) {
	store, _ := setupTestStore(t)

	for _, k := range []string{"a:1", "a:2", "a:3", "b:1"} {
		require.NoError(t, store.Set([]byte(k), []byte(k)))
	}

	var keys []string
	err := store.Iterate([]byte("a:"), []byte("a:2"), func(key, _ []byte) (bool, error) {
		keys = append(keys, string(key))
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a:2", "a:3"}, keys)

	// 提前停止
	keys = nil
	err = store.Iterate([]byte("a:"), nil, func(key, _ []byte) (bool, error) {
		keys = append(keys, string(key))
		return false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a:1"}, keys)

	keys = nil
	err = store.IterateReverse([]byte("a:"), func(key, _ []byte) (bool, error) {
		keys = append(keys, string(key))
		return len(keys) < 2, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a:3", "a:2"}, keys)

	all, err := store.PrefixScan([]byte("a:"))
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStoreCloseRejectsWrites(t *testing.T) {
	store, _ := setupTestStore(t)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
	assert.ErrorIs(t, store.Set([]byte("k"), []byte("v")), ErrClosed)
}

func TestStoreReopenKeepsData(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reopen")
	cfg := badgerconfig.New(nil).WithPath(dir)

	store, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, store.Set([]byte("persisted"), []byte("yes")))
	require.NoError(t, store.Close())

	store, err = New(cfg, nil)
	require.NoError(t, err)
	defer store.Close()
	value, err := store.Get([]byte("persisted"))
	require.NoError(t, err)
	assert.Equal(t, []byte("yes"), value)
}

func TestStoreInMemory(t *testing.T) {
	cfg := badgerconfig.NewFromOptions(&badgerconfig.BadgerOptions{
		InMemory:       true,
		MemTableSize:   1 << 20,
		BlockCacheSize: 1 << 20,
		IndexCacheSize: 1 << 20,
	})
	store, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Set([]byte("k"), []byte("v")))
}

func TestStoreOpensWithSmallMemTable(t *testing.T) {
	// 默认 1MB 的 badger 值阈值超过 4MB 内存表允许的单批上限
	cfg := badgerconfig.New(&types.UserStorageConfig{
		MemTableSize:   types.Int64Ptr(4 << 20),
		ValueThreshold: types.Int64Ptr(1 << 20),
		SyncWrites:     types.BoolPtr(false),
	}).WithPath(filepath.Join(t.TempDir(), "small"))
	assert.Equal(t, int64(4<<20*15/100), cfg.GetValueThreshold())

	store, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	large := make([]byte, 64<<10)
	require.NoError(t, store.Set([]byte("large"), large))
	got, err := store.Get([]byte("large"))
	require.NoError(t, err)
	assert.Len(t, got, len(large))
}
