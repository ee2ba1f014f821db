// Package config 提供应用配置管理功能
package config

import (
	logconfig "github.com/weisyn/ledgernode/internal/config/log"
	nodeconfig "github.com/weisyn/ledgernode/internal/config/node"
	badgerconfig "github.com/weisyn/ledgernode/internal/config/storage/badger"
	"github.com/weisyn/ledgernode/pkg/interfaces/config"
	"github.com/weisyn/ledgernode/pkg/types"
	"go.uber.org/fx"
)

// ConfigParams 定义配置模块的依赖参数
type ConfigParams struct {
	fx.In

	// 应用配置选项
	AppOptions config.AppOptions `optional:"true"`
}

// ConfigOutput 定义配置模块的输出结构
type ConfigOutput struct {
	fx.Out

	// 配置提供者
	Provider config.Provider
}

// Module 返回配置模块
func Module() fx.Option {
	return fx.Module("config",
		fx.Provide(
			ProvideConfigServices,
			func(provider config.Provider) *nodeconfig.NodeOptions {
				return provider.GetNode()
			},
			func(provider config.Provider) *logconfig.LogOptions {
				return provider.GetLog()
			},
			func(provider config.Provider) *badgerconfig.BadgerOptions {
				return provider.GetBadger()
			},
		),
	)
}

// ProvideConfigServices 提供配置服务
func ProvideConfigServices(params ConfigParams) (ConfigOutput, error) {
	var appConfig *types.AppConfig
	if params.AppOptions != nil {
		appConfig = params.AppOptions.GetAppConfig()
	}

	// 提前校验，配置错误在 fx 构建阶段暴露
	if err := NewProvider(appConfig).GetNode().Validate(); err != nil {
		return ConfigOutput{}, err
	}

	return ConfigOutput{Provider: NewProvider(appConfig)}, nil
}
