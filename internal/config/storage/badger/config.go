package badger

import (
	"github.com/pbnjay/memory"

	configtypes "github.com/weisyn/ledgernode/pkg/types"
)

// BadgerOptions BadgerDB存储配置选项
type BadgerOptions struct {
	// === 基础配置 ===
	Path       string `json:"path"`        // 数据库存储路径
	SyncWrites bool   `json:"sync_writes"` // 是否同步写入
	InMemory   bool   `json:"in_memory"`   // 纯内存模式（测试用）

	// === 性能配置 ===
	MemTableSize   int64 `json:"mem_table_size"`   // 内存表大小
	BlockCacheSize int64 `json:"block_cache_size"` // 块缓存大小
	IndexCacheSize int64 `json:"index_cache_size"` // 索引缓存大小
	ValueThreshold int64 `json:"value_threshold"`  // 值日志阈值，<=0 使用默认值

	// === 维护配置 ===
	EnableAutoCompaction bool `json:"enable_auto_compaction"` // 关闭时是否压缩 L0
}

// Config BadgerDB配置实现
type Config struct {
	options *BadgerOptions
}

// New 创建BadgerDB配置实现
func New(userConfig *configtypes.UserStorageConfig) *Config {
	options := createDefaultBadgerOptions()

	// 如果有用户配置，应用用户配置覆盖默认值
	if userConfig != nil {
		applyUserConfig(options, userConfig)
	}

	return &Config{options: options}
}

// NewFromOptions 从BadgerOptions创建配置实现
func NewFromOptions(options *BadgerOptions) *Config {
	return &Config{options: options}
}

// createDefaultBadgerOptions 创建默认BadgerDB配置
func createDefaultBadgerOptions() *BadgerOptions {
	cacheSize := int64(defaultLargeCacheSize)
	if total := memory.TotalMemory(); total > 0 && total <= lowMemoryThreshold {
		cacheSize = defaultSmallCacheSize
	}

	return &BadgerOptions{
		Path:                 defaultPath,
		SyncWrites:           defaultSyncWrites,
		InMemory:             defaultInMemory,
		MemTableSize:         defaultMemTableSize,
		BlockCacheSize:       cacheSize,
		IndexCacheSize:       cacheSize,
		ValueThreshold:       defaultValueThreshold,
		EnableAutoCompaction: defaultEnableAutoCompaction,
	}
}

// applyUserConfig 应用用户配置覆盖默认值
func applyUserConfig(options *BadgerOptions, storageConfig *configtypes.UserStorageConfig) {
	if storageConfig.SyncWrites != nil {
		options.SyncWrites = *storageConfig.SyncWrites
	}
	if storageConfig.MemTableSize != nil && *storageConfig.MemTableSize > 0 {
		options.MemTableSize = *storageConfig.MemTableSize
	}
	if storageConfig.ValueThreshold != nil && *storageConfig.ValueThreshold > 0 {
		options.ValueThreshold = *storageConfig.ValueThreshold
	}
	if storageConfig.InMemory != nil {
		options.InMemory = *storageConfig.InMemory
	}
}

// GetOptions 获取完整的BadgerDB配置选项
func (c *Config) GetOptions() *BadgerOptions {
	return c.options
}

// WithPath 返回指向另一路径的配置副本，其余选项保持不变
func (c *Config) WithPath(path string) *Config {
	cp := *c.options
	cp.Path = path
	return &Config{options: &cp}
}

// GetPath 获取数据库路径
func (c *Config) GetPath() string {
	return c.options.Path
}

// IsSyncWritesEnabled 是否启用同步写入
func (c *Config) IsSyncWritesEnabled() bool {
	return c.options.SyncWrites
}

// IsInMemory 是否为纯内存模式
func (c *Config) IsInMemory() bool {
	return c.options.InMemory
}

// GetMemTableSize 获取内存表大小
func (c *Config) GetMemTableSize() int64 {
	return c.options.MemTableSize
}

// GetValueThreshold 获取值日志阈值，按内存表大小收紧到 badger 允许的上限
func (c *Config) GetValueThreshold() int64 {
	threshold := c.options.ValueThreshold
	if threshold <= 0 {
		threshold = defaultValueThreshold
	}
	if c.options.MemTableSize > 0 {
		if limit := c.options.MemTableSize * maxValueThresholdPercent / 100; threshold > limit {
			threshold = limit
		}
	}
	return threshold
}

// IsAutoCompactionEnabled 是否在关闭时压缩
func (c *Config) IsAutoCompactionEnabled() bool {
	return c.options.EnableAutoCompaction
}
