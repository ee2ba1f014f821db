package node

import (
	"errors"
	"fmt"
	"net"
	"time"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/weisyn/ledgernode/pkg/types"
)

// 监督策略
const (
	// SupervisionPrimary 仅等待节点间 RPC 监听任务，其余任务失败只记录日志
	SupervisionPrimary = "primary"
	// SupervisionAll 等待全部后台任务，任一失败即返回
	SupervisionAll = "all"
)

// 配置校验错误
var (
	ErrMissingDBPath         = errors.New("db_path is required")
	ErrMissingGenesis        = errors.New("genesis_path is required")
	ErrMissingKeyPair        = errors.New("key_pair_path is required")
	ErrMissingJSONRPCAddress = errors.New("json_rpc_address is required on a full node")
	ErrInvalidGossipDegree   = errors.New("gossip_degree must be at least 1")
	ErrInvalidBatchSize      = errors.New("batch_size must be at least 1")
	ErrInvalidBatchInterval  = errors.New("batch_interval must be positive")
	ErrInvalidRateLimit      = errors.New("rpc_rate_limit must not be negative")
	ErrInvalidSupervision    = errors.New("supervision must be \"primary\" or \"all\"")
)

// NodeOptions 节点配置选项（启动后只读）
type NodeOptions struct {
	// === 网络地址 ===
	NetworkAddress   string `json:"network_address"`   // 节点间 RPC 监听地址（multiaddr）
	MetricsAddress   string `json:"metrics_address"`   // 指标地址，为空则不启动指标服务
	JSONRPCAddress   string `json:"json_rpc_address"`  // JSON 查询网关地址
	WebsocketAddress string `json:"websocket_address"` // 事件订阅地址，为空则不启动

	// === 数据与身份 ===
	DBPath      string `json:"db_path"`
	KeyPairPath string `json:"key_pair_path"`
	GenesisPath string `json:"genesis_path"`

	// Consensus 共识配置，非空即为验证者
	Consensus *ConsensusOptions `json:"consensus_config,omitempty"`

	// === 功能开关 ===
	EnableGossip          bool `json:"enable_gossip"`
	EnableEventProcessing bool `json:"enable_event_processing"`

	// === 子系统参数 ===
	GossipDegree  int           `json:"gossip_degree"`
	BatchSize     int           `json:"batch_size"`
	BatchInterval time.Duration `json:"batch_interval"`

	PeerClient PeerClientOptions `json:"peer_client"`

	RPCRateLimit int `json:"rpc_rate_limit"`

	Supervision string `json:"supervision"`
}

// ConsensusOptions 共识配置
type ConsensusOptions struct {
	ConsensusAddress string `json:"consensus_address"`
	ConsensusDBPath  string `json:"consensus_db_path"`
}

// PeerClientOptions 对等节点客户端超时
type PeerClientOptions struct {
	ConnectTimeout    time.Duration `json:"connect_timeout"`
	RequestTimeout    time.Duration `json:"request_timeout"`
	KeepAliveInterval time.Duration `json:"keep_alive_interval"`
}

// Config 节点配置实现
type Config struct {
	options *NodeOptions
}

// New 创建节点配置实现
func New(userConfig *types.UserNodeConfig) *Config {
	options := createDefaultNodeOptions()
	if userConfig != nil {
		applyUserNodeConfig(options, userConfig)
	}
	return &Config{options: options}
}

// GetOptions 获取完整的节点配置选项
func (c *Config) GetOptions() *NodeOptions {
	return c.options
}

// createDefaultNodeOptions 创建默认节点配置
func createDefaultNodeOptions() *NodeOptions {
	return &NodeOptions{
		NetworkAddress: defaultNetworkAddress,
		MetricsAddress: defaultMetricsAddress,
		JSONRPCAddress: defaultJSONRPCAddress,

		DBPath:      defaultDBPath,
		KeyPairPath: defaultKeyPairPath,
		GenesisPath: defaultGenesisPath,

		EnableGossip:          defaultEnableGossip,
		EnableEventProcessing: defaultEnableEventProcessing,

		GossipDegree:  defaultGossipDegree,
		BatchSize:     defaultBatchSize,
		BatchInterval: defaultBatchInterval,

		PeerClient: PeerClientOptions{
			ConnectTimeout:    defaultConnectTimeout,
			RequestTimeout:    defaultRequestTimeout,
			KeepAliveInterval: defaultKeepAliveInterval,
		},

		Supervision: defaultSupervision,
	}
}

// applyUserNodeConfig 应用用户节点配置覆盖默认值
func applyUserNodeConfig(options *NodeOptions, cfg *types.UserNodeConfig) {
	// 网络地址
	if cfg.NetworkAddress != nil {
		options.NetworkAddress = *cfg.NetworkAddress
	}
	if cfg.MetricsAddress != nil {
		options.MetricsAddress = *cfg.MetricsAddress
	}
	if cfg.JSONRPCAddress != nil {
		options.JSONRPCAddress = *cfg.JSONRPCAddress
	}
	if cfg.WebsocketAddress != nil {
		options.WebsocketAddress = *cfg.WebsocketAddress
	}

	// 数据与身份
	if cfg.DBPath != nil {
		options.DBPath = *cfg.DBPath
	}
	if cfg.KeyPairPath != nil {
		options.KeyPairPath = *cfg.KeyPairPath
	}
	if cfg.GenesisPath != nil {
		options.GenesisPath = *cfg.GenesisPath
	}

	// 共识配置：出现即为验证者
	if cfg.Consensus != nil {
		consensus := &ConsensusOptions{}
		if cfg.Consensus.ConsensusAddress != nil {
			consensus.ConsensusAddress = *cfg.Consensus.ConsensusAddress
		}
		if cfg.Consensus.ConsensusDBPath != nil {
			consensus.ConsensusDBPath = *cfg.Consensus.ConsensusDBPath
		}
		options.Consensus = consensus
	}

	// 功能开关
	if cfg.EnableGossip != nil {
		options.EnableGossip = *cfg.EnableGossip
	}
	if cfg.EnableEventProcessing != nil {
		options.EnableEventProcessing = *cfg.EnableEventProcessing
	}

	// 子系统参数
	if cfg.GossipDegree != nil {
		options.GossipDegree = *cfg.GossipDegree
	}
	if cfg.BatchSize != nil {
		options.BatchSize = *cfg.BatchSize
	}
	if cfg.BatchInterval != nil {
		options.BatchInterval = parseDurationOr(*cfg.BatchInterval, options.BatchInterval)
	}

	if pc := cfg.PeerClient; pc != nil {
		if pc.ConnectTimeout != nil {
			options.PeerClient.ConnectTimeout = parseDurationOr(*pc.ConnectTimeout, options.PeerClient.ConnectTimeout)
		}
		if pc.RequestTimeout != nil {
			options.PeerClient.RequestTimeout = parseDurationOr(*pc.RequestTimeout, options.PeerClient.RequestTimeout)
		}
		if pc.KeepAliveInterval != nil {
			options.PeerClient.KeepAliveInterval = parseDurationOr(*pc.KeepAliveInterval, options.PeerClient.KeepAliveInterval)
		}
	}

	if cfg.RPCRateLimit != nil {
		options.RPCRateLimit = *cfg.RPCRateLimit
	}
	if cfg.Supervision != nil {
		options.Supervision = *cfg.Supervision
	}
}

// parseDurationOr 解析时间字符串，失败时返回负值交给 Validate 报错
func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return -1
	}
	return d
}

// IsValidator 是否配置了共识（验证者角色）
func (o *NodeOptions) IsValidator() bool {
	return o.Consensus != nil
}

// Validate 校验配置
func (o *NodeOptions) Validate() error {
	if o.DBPath == "" {
		return ErrMissingDBPath
	}
	if o.GenesisPath == "" {
		return ErrMissingGenesis
	}
	if o.KeyPairPath == "" {
		return ErrMissingKeyPair
	}
	if _, err := ma.NewMultiaddr(o.NetworkAddress); err != nil {
		return fmt.Errorf("network_address %q: %w", o.NetworkAddress, err)
	}
	if o.MetricsAddress != "" {
		if _, _, err := net.SplitHostPort(o.MetricsAddress); err != nil {
			return fmt.Errorf("metrics_address %q: %w", o.MetricsAddress, err)
		}
	}
	if !o.IsValidator() && o.JSONRPCAddress == "" {
		return ErrMissingJSONRPCAddress
	}
	if o.GossipDegree < 1 {
		return ErrInvalidGossipDegree
	}
	if o.BatchSize < 1 {
		return ErrInvalidBatchSize
	}
	if o.BatchInterval <= 0 {
		return ErrInvalidBatchInterval
	}
	if o.PeerClient.ConnectTimeout <= 0 || o.PeerClient.RequestTimeout <= 0 || o.PeerClient.KeepAliveInterval <= 0 {
		return errors.New("peer_client timeouts must be positive")
	}
	if o.RPCRateLimit < 0 {
		return ErrInvalidRateLimit
	}
	if o.Supervision != SupervisionPrimary && o.Supervision != SupervisionAll {
		return ErrInvalidSupervision
	}
	return nil
}
