package types

// AppConfig 应用配置根结构，对应用户配置文件（JSON 或 TOML）
//
// 零值陷阱处理：所有字段使用指针类型
// - nil: 用户未设置，使用系统默认值
// - &value: 用户明确设置，即使是零值（0、false、""）也会被采用
type AppConfig struct {
	// 节点配置
	Node *UserNodeConfig `json:"node,omitempty" toml:"node"`

	// 日志配置
	Log *UserLogConfig `json:"log,omitempty" toml:"log"`

	// 存储引擎配置
	Storage *UserStorageConfig `json:"storage,omitempty" toml:"storage"`
}

// UserNodeConfig 用户节点配置
type UserNodeConfig struct {
	// === 网络地址 ===
	NetworkAddress   *string `json:"network_address,omitempty" toml:"network_address"`     // 节点间 RPC 监听地址（multiaddr）
	MetricsAddress   *string `json:"metrics_address,omitempty" toml:"metrics_address"`     // Prometheus 指标地址（host:port）
	JSONRPCAddress   *string `json:"json_rpc_address,omitempty" toml:"json_rpc_address"`   // JSON 查询网关地址（host:port）
	WebsocketAddress *string `json:"websocket_address,omitempty" toml:"websocket_address"` // 事件订阅地址（host:port，可选）

	// === 数据与身份 ===
	DBPath      *string `json:"db_path,omitempty" toml:"db_path"`             // 数据库根目录
	KeyPairPath *string `json:"key_pair_path,omitempty" toml:"key_pair_path"` // 节点密钥文件
	GenesisPath *string `json:"genesis_path,omitempty" toml:"genesis_path"`   // 创世文件

	// 共识配置：存在即为验证者节点
	Consensus *UserConsensusConfig `json:"consensus_config,omitempty" toml:"consensus_config"`

	// === 功能开关 ===
	EnableGossip          *bool `json:"enable_gossip,omitempty" toml:"enable_gossip"`
	EnableEventProcessing *bool `json:"enable_event_processing,omitempty" toml:"enable_event_processing"`

	// === 子系统参数 ===
	GossipDegree  *int    `json:"gossip_degree,omitempty" toml:"gossip_degree"`
	BatchSize     *int    `json:"batch_size,omitempty" toml:"batch_size"`
	BatchInterval *string `json:"batch_interval,omitempty" toml:"batch_interval"` // 时间字符串，例如 "1s"

	// 对等节点客户端参数
	PeerClient *UserPeerClientConfig `json:"peer_client,omitempty" toml:"peer_client"`

	// RPCRateLimit JSON 查询网关每个客户端IP每秒请求上限，0 表示不限
	RPCRateLimit *int `json:"rpc_rate_limit,omitempty" toml:"rpc_rate_limit"`

	// Supervision 子系统监督策略：primary（默认，仅等待节点间 RPC 监听）| all
	Supervision *string `json:"supervision,omitempty" toml:"supervision"`
}

// UserConsensusConfig 用户共识配置
type UserConsensusConfig struct {
	ConsensusAddress *string `json:"consensus_address,omitempty" toml:"consensus_address"`
	ConsensusDBPath  *string `json:"consensus_db_path,omitempty" toml:"consensus_db_path"`
}

// UserPeerClientConfig 对等节点客户端超时配置（时间字符串）
type UserPeerClientConfig struct {
	ConnectTimeout    *string `json:"connect_timeout,omitempty" toml:"connect_timeout"`
	RequestTimeout    *string `json:"request_timeout,omitempty" toml:"request_timeout"`
	KeepAliveInterval *string `json:"keep_alive_interval,omitempty" toml:"keep_alive_interval"`
}

// UserLogConfig 用户日志配置
type UserLogConfig struct {
	Level     *string `json:"level,omitempty" toml:"level"`
	FilePath  *string `json:"file_path,omitempty" toml:"file_path"`
	ToConsole *bool   `json:"to_console,omitempty" toml:"to_console"`
}

// UserStorageConfig 用户存储配置
type UserStorageConfig struct {
	SyncWrites     *bool  `json:"sync_writes,omitempty" toml:"sync_writes"`
	MemTableSize   *int64 `json:"mem_table_size,omitempty" toml:"mem_table_size"`
	ValueThreshold *int64 `json:"value_threshold,omitempty" toml:"value_threshold"`
	InMemory       *bool  `json:"in_memory,omitempty" toml:"in_memory"`
}

// StringPtr 返回字符串指针，便于构造用户配置
func StringPtr(s string) *string { return &s }

// BoolPtr 返回布尔指针
func BoolPtr(b bool) *bool { return &b }

// IntPtr 返回整数指针
func IntPtr(i int) *int { return &i }

// Int64Ptr 返回 int64 指针
func Int64Ptr(i int64) *int64 { return &i }
