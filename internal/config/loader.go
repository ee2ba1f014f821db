package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/weisyn/ledgernode/pkg/types"
)

// LoadFile 读取用户配置文件，.toml 后缀按 TOML 解析，其余按 JSON 解析
func LoadFile(path string) (*types.AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := &types.AppConfig{}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode toml config %s: %w", path, err)
		}
		return cfg, nil
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode json config %s: %w", path, err)
	}
	return cfg, nil
}

// SaveFile 以 JSON 写出用户配置
func SaveFile(path string, cfg *types.AppConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// appOptions AppOptions 的简单实现
type appOptions struct {
	cfg *types.AppConfig
}

// NewAppOptions 包装已加载的用户配置
func NewAppOptions(cfg *types.AppConfig) *appOptions {
	return &appOptions{cfg: cfg}
}

// GetAppConfig 实现 config.AppOptions
func (o *appOptions) GetAppConfig() *types.AppConfig {
	return o.cfg
}
