package config

import (
	logconfig "github.com/weisyn/ledgernode/internal/config/log"
	nodeconfig "github.com/weisyn/ledgernode/internal/config/node"
	badgerconfig "github.com/weisyn/ledgernode/internal/config/storage/badger"
	"github.com/weisyn/ledgernode/pkg/interfaces/config"
	"github.com/weisyn/ledgernode/pkg/types"
)

// Provider 实现配置提供者接口
type Provider struct {
	appConfig *types.AppConfig
}

// NewProvider 创建配置提供者
func NewProvider(appConfig *types.AppConfig) config.Provider {
	return &Provider{appConfig: appConfig}
}

// GetNode 获取节点配置
func (p *Provider) GetNode() *nodeconfig.NodeOptions {
	var userNodeConfig *types.UserNodeConfig
	if p.appConfig != nil {
		userNodeConfig = p.appConfig.Node
	}
	return nodeconfig.New(userNodeConfig).GetOptions()
}

// GetLog 获取日志配置
func (p *Provider) GetLog() *logconfig.LogOptions {
	var userLogConfig *types.UserLogConfig
	if p.appConfig != nil {
		userLogConfig = p.appConfig.Log
	}
	return logconfig.New(userLogConfig).GetOptions()
}

// GetBadger 获取存储引擎配置
func (p *Provider) GetBadger() *badgerconfig.BadgerOptions {
	var userStorageConfig *types.UserStorageConfig
	if p.appConfig != nil {
		userStorageConfig = p.appConfig.Storage
	}
	return badgerconfig.New(userStorageConfig).GetOptions()
}
