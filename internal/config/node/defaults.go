package node

import "time"

// 节点配置默认值
const (
	// === 网络地址 ===

	// defaultNetworkAddress 节点间 RPC 默认监听地址
	defaultNetworkAddress = "/ip4/127.0.0.1/tcp/9000"

	// defaultMetricsAddress 指标服务默认地址
	defaultMetricsAddress = "127.0.0.1:9184"

	// defaultJSONRPCAddress JSON 查询网关默认地址（仅全节点使用）
	defaultJSONRPCAddress = "127.0.0.1:9000"

	// === 数据与身份 ===

	defaultDBPath      = "./data"
	defaultKeyPairPath = "./data/node.key"
	defaultGenesisPath = "./genesis.json"

	// === 功能开关 ===

	defaultEnableGossip          = false
	defaultEnableEventProcessing = false

	// === 子系统参数 ===

	// defaultGossipDegree 每轮 gossip 同步的对端数量
	defaultGossipDegree = 4

	// defaultBatchSize 累积多少笔已执行交易即封装批次
	defaultBatchSize = 1000

	// defaultBatchInterval 有待封装交易时的最长等待
	defaultBatchInterval = time.Second

	// === 对等节点客户端 ===

	defaultConnectTimeout    = 5 * time.Second
	defaultRequestTimeout    = 5 * time.Second
	defaultKeepAliveInterval = 5 * time.Second

	// defaultSupervision 默认只等待节点间 RPC 监听任务
	defaultSupervision = SupervisionPrimary
)
