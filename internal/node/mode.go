package node

import (
	nodeconfig "github.com/weisyn/ledgernode/internal/config/node"
)

// Role 节点角色
type Role int

const (
	// RoleFullNode 全节点：复制已验证状态并提供查询
	RoleFullNode Role = iota
	// RoleValidator 验证者：参与共识并签署检查点
	RoleValidator
)

func (r Role) String() string {
	if r == RoleValidator {
		return "validator"
	}
	return "full_node"
}

// Mode 由配置推导出的运行模式，启动后不变
type Mode struct {
	Role            Role
	Gossip          bool
	EventProcessing bool
}

// ResolveMode 纯函数：共识配置存在与否是角色的唯一依据
func ResolveMode(cfg *nodeconfig.NodeOptions) Mode {
	m := Mode{
		Role:            RoleFullNode,
		Gossip:          cfg.EnableGossip,
		EventProcessing: cfg.EnableEventProcessing,
	}
	if cfg.Consensus != nil {
		m.Role = RoleValidator
	}
	return m
}

// IsValidator 是否为验证者
func (m Mode) IsValidator() bool { return m.Role == RoleValidator }

// IsFullNode 是否为全节点
func (m Mode) IsFullNode() bool { return m.Role == RoleFullNode }

// ShouldReplicate 全节点总是复制；验证者仅在开启 gossip 时复制
func (m Mode) ShouldReplicate() bool { return m.IsFullNode() || m.Gossip }

// ShouldPostProcess 存在索引存储（全节点）或开启事件处理时运行后处理任务
func (m Mode) ShouldPostProcess() bool { return m.IsFullNode() || m.EventProcessing }
