package badger

// BadgerDB存储默认配置值

const (
	// === 基础配置 ===

	// defaultPath 默认数据库路径，节点启动时按命名空间替换
	defaultPath = "./data/store"

	// defaultSyncWrites 默认启用同步写入
	defaultSyncWrites = true

	// defaultInMemory 默认落盘
	defaultInMemory = false

	// === 性能配置 ===

	// defaultMemTableSize 默认内存表大小为64MB
	defaultMemTableSize = 64 << 20

	// defaultSmallCacheSize 系统内存不超过 lowMemoryThreshold 时的块/索引缓存
	defaultSmallCacheSize = 32 << 20

	// defaultLargeCacheSize 其余情况下的块/索引缓存
	defaultLargeCacheSize = 64 << 20

	// defaultValueThreshold 超过该大小的值写入值日志（1KB）
	defaultValueThreshold = 1 << 10

	// maxValueThresholdPercent 值阈值不得超过内存表的该百分比（badger 的单批上限）
	maxValueThresholdPercent = 15

	// lowMemoryThreshold 低内存主机阈值（4GB）
	lowMemoryThreshold = 4 << 30

	// === 维护配置 ===

	// defaultEnableAutoCompaction 默认启用关闭时压缩
	defaultEnableAutoCompaction = true
)
