package app

import (
	"fmt"

	config "github.com/weisyn/ledgernode/internal/config"
	ifconfig "github.com/weisyn/ledgernode/pkg/interfaces/config"
	"github.com/weisyn/ledgernode/pkg/types"
)

// Option 应用程序选项函数类型
type Option func(*options)

// options 应用程序选项
// 实现config.AppOptions接口
type options struct {
	// 配置文件路径
	configFilePath string

	// 用户配置，文件中的配置先加载，其余选项在其上覆盖
	appConfig *types.AppConfig

	// 覆盖项，在配置文件加载后应用
	overrides []func(*types.AppConfig)
}

// 编译时校验options是否实现了config.AppOptions接口
var _ ifconfig.AppOptions = (*options)(nil)

// WithConfigFile 设置配置文件路径（.json 或 .toml）
func WithConfigFile(configPath string) Option {
	return func(o *options) {
		o.configFilePath = configPath
	}
}

// WithConfig 直接使用已构造的用户配置
func WithConfig(cfg *types.AppConfig) Option {
	return func(o *options) {
		o.appConfig = cfg
	}
}

// WithNode 覆盖节点配置
func WithNode(userNodeConfig *types.UserNodeConfig) Option {
	return func(o *options) {
		o.overrides = append(o.overrides, func(c *types.AppConfig) {
			c.Node = userNodeConfig
		})
	}
}

// WithLog 覆盖日志配置
func WithLog(userLogConfig *types.UserLogConfig) Option {
	return func(o *options) {
		o.overrides = append(o.overrides, func(c *types.AppConfig) {
			c.Log = userLogConfig
		})
	}
}

// newOptions 创建选项并加载配置文件
func newOptions(opts ...Option) (*options, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if o.configFilePath != "" {
		cfg, err := config.LoadFile(o.configFilePath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		o.appConfig = cfg
	}
	if o.appConfig == nil {
		o.appConfig = &types.AppConfig{}
	}
	for _, apply := range o.overrides {
		apply(o.appConfig)
	}
	return o, nil
}

// GetAppConfig 返回应用程序配置
func (o *options) GetAppConfig() *types.AppConfig {
	return o.appConfig
}
