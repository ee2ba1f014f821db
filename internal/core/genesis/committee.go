package genesis

import (
	"github.com/weisyn/ledgernode/pkg/types"
)

// Committee 一个纪元内不可变的验证者委员会
type Committee struct {
	epoch      uint64
	names      []types.AuthorityName
	stakes     map[types.AuthorityName]uint64
	addresses  map[types.AuthorityName]string
	totalStake uint64
}

// NewCommittee 创建委员会，保留验证者顺序
func NewCommittee(epoch uint64, validators []ValidatorInfo) *Committee {
	c := &Committee{
		epoch:     epoch,
		names:     make([]types.AuthorityName, 0, len(validators)),
		stakes:    make(map[types.AuthorityName]uint64, len(validators)),
		addresses: make(map[types.AuthorityName]string, len(validators)),
	}
	for _, v := range validators {
		c.names = append(c.names, v.Name)
		c.stakes[v.Name] = v.Stake
		c.addresses[v.Name] = v.NetworkAddress
		c.totalStake += v.Stake
	}
	return c
}

// Epoch 纪元
func (c *Committee) Epoch() uint64 { return c.epoch }

// Names 验证者名称（创世顺序）
func (c *Committee) Names() []types.AuthorityName {
	return append([]types.AuthorityName(nil), c.names...)
}

// Size 验证者数量
func (c *Committee) Size() int { return len(c.names) }

// Contains 是否为委员会成员
func (c *Committee) Contains(name types.AuthorityName) bool {
	_, ok := c.stakes[name]
	return ok
}

// Stake 成员权重，非成员为 0
func (c *Committee) Stake(name types.AuthorityName) uint64 { return c.stakes[name] }

// NetworkAddress 成员网络地址
func (c *Committee) NetworkAddress(name types.AuthorityName) string { return c.addresses[name] }

// TotalStake 总权重
func (c *Committee) TotalStake() uint64 { return c.totalStake }

// QuorumThreshold 法定人数阈值（2f+1）
func (c *Committee) QuorumThreshold() uint64 { return 2*c.totalStake/3 + 1 }

// ValidityThreshold 有效性阈值（f+1）
func (c *Committee) ValidityThreshold() uint64 { return (c.totalStake + 2) / 3 }
