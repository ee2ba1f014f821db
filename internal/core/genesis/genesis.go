// Package genesis 定义创世配置与由其派生的验证者委员会
package genesis

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/weisyn/ledgernode/internal/core/infrastructure/crypto/key"
	"github.com/weisyn/ledgernode/pkg/types"
)

// 错误定义
var (
	ErrNoValidators       = errors.New("genesis has no validators")
	ErrDuplicateValidator = errors.New("duplicate validator in genesis")
	ErrZeroStake          = errors.New("validator stake must be positive")
	ErrDuplicateObject    = errors.New("duplicate genesis object")
)

// ValidatorInfo 创世验证者
type ValidatorInfo struct {
	Name           types.AuthorityName `json:"name"`
	NetworkAddress string              `json:"network_address"`
	Stake          uint64              `json:"stake"`
}

// Genesis 创世配置
type Genesis struct {
	Epoch      uint64          `json:"epoch"`
	Validators []ValidatorInfo `json:"validators"`
	Objects    []types.Object  `json:"objects,omitempty"`
}

// Load 读取并校验创世文件
func Load(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis %s: %w", path, err)
	}
	g := &Genesis{}
	if err := json.Unmarshal(data, g); err != nil {
		return nil, fmt.Errorf("decode genesis %s: %w", path, err)
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis %s: %w", path, err)
	}
	return g, nil
}

// Save 写出创世文件
func (g *Genesis) Save(path string) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("encode genesis: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create genesis dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate 校验验证者集合与初始对象
func (g *Genesis) Validate() error {
	if len(g.Validators) == 0 {
		return ErrNoValidators
	}
	seen := make(map[types.AuthorityName]struct{}, len(g.Validators))
	for _, v := range g.Validators {
		if _, err := key.PublicKeyFromName(v.Name); err != nil {
			return fmt.Errorf("validator %q: %w", v.Name, err)
		}
		if _, dup := seen[v.Name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateValidator, v.Name)
		}
		seen[v.Name] = struct{}{}
		if v.Stake == 0 {
			return fmt.Errorf("%w: %s", ErrZeroStake, v.Name)
		}
		if _, err := ma.NewMultiaddr(v.NetworkAddress); err != nil {
			return fmt.Errorf("validator %s network address %q: %w", v.Name, v.NetworkAddress, err)
		}
	}
	ids := make(map[string]struct{}, len(g.Objects))
	for _, obj := range g.Objects {
		if _, dup := ids[obj.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateObject, obj.ID)
		}
		ids[obj.ID] = struct{}{}
	}
	return nil
}

// Committee 由创世派生的委员会
func (g *Genesis) Committee() *Committee {
	return NewCommittee(g.Epoch, g.Validators)
}

// ValidatorSet 验证者列表副本
func (g *Genesis) ValidatorSet() []ValidatorInfo {
	out := make([]ValidatorInfo, len(g.Validators))
	copy(out, g.Validators)
	return out
}

// Builder 创世构建器
type Builder struct {
	genesis Genesis
}

// NewBuilder 创建创世构建器
func NewBuilder() *Builder {
	return &Builder{}
}

// WithEpoch 设置纪元
func (b *Builder) WithEpoch(epoch uint64) *Builder {
	b.genesis.Epoch = epoch
	return b
}

// AddValidator 添加验证者
func (b *Builder) AddValidator(name types.AuthorityName, networkAddress string, stake uint64) *Builder {
	b.genesis.Validators = append(b.genesis.Validators, ValidatorInfo{
		Name:           name,
		NetworkAddress: networkAddress,
		Stake:          stake,
	})
	return b
}

// AddObject 添加初始对象
func (b *Builder) AddObject(obj types.Object) *Builder {
	b.genesis.Objects = append(b.genesis.Objects, obj)
	return b
}

// Build 校验并返回创世配置
func (b *Builder) Build() (*Genesis, error) {
	g := b.genesis
	g.Validators = append([]ValidatorInfo(nil), b.genesis.Validators...)
	g.Objects = append([]types.Object(nil), b.genesis.Objects...)
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}
