package authority

import (
	"context"
	"encoding/json"
	"time"

	"github.com/allegro/bigcache/v3"

	"github.com/weisyn/ledgernode/pkg/types"
)

const (
	cacheLifeWindow  = 10 * time.Minute
	cacheCleanWindow = 5 * time.Minute
)

// objectCache 对象读缓存，值为 JSON 编码的对象
type objectCache struct {
	cache *bigcache.BigCache
}

func newObjectCache() (*objectCache, error) {
	cfg := bigcache.DefaultConfig(cacheLifeWindow)
	cfg.Shards = 64
	cfg.MaxEntriesInWindow = 4096
	cfg.MaxEntrySize = 512
	cfg.HardMaxCacheSize = 64
	cfg.CleanWindow = cacheCleanWindow

	cache, err := bigcache.New(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	return &objectCache{cache: cache}, nil
}

// Get 命中时返回对象副本
func (c *objectCache) Get(id string) (*types.Object, bool) {
	raw, err := c.cache.Get(id)
	if err != nil {
		// bigcache.ErrEntryNotFound 或已过期
		return nil, false
	}
	obj := &types.Object{}
	if err := json.Unmarshal(raw, obj); err != nil {
		_ = c.cache.Delete(id)
		return nil, false
	}
	return obj, true
}

// Put 写入缓存，编码失败时跳过
func (c *objectCache) Put(obj *types.Object) {
	raw, err := json.Marshal(obj)
	if err != nil {
		return
	}
	_ = c.cache.Set(obj.ID, raw)
}

// Len 缓存条目数
func (c *objectCache) Len() int { return c.cache.Len() }

func (c *objectCache) Close() error { return c.cache.Close() }
