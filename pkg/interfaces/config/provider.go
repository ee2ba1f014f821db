// Package config provides configuration provider interfaces.
package config

import (
	logconfig "github.com/weisyn/ledgernode/internal/config/log"
	nodeconfig "github.com/weisyn/ledgernode/internal/config/node"
	badgerconfig "github.com/weisyn/ledgernode/internal/config/storage/badger"
)

// Provider 配置提供者接口
type Provider interface {
	// GetNode 获取节点配置
	GetNode() *nodeconfig.NodeOptions

	// GetLog 获取日志配置
	GetLog() *logconfig.LogOptions

	// GetBadger 获取存储引擎配置
	GetBadger() *badgerconfig.BadgerOptions
}
