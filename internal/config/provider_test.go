package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nodeconfig "github.com/weisyn/ledgernode/internal/config/node"
	"github.com/weisyn/ledgernode/pkg/types"
)

// TestGetNode 测试节点配置默认值与覆盖
func TestGetNode(t *testing.T) {
	t.Run("未配置时使用默认值", func(t *testing.T) {
		opts := NewProvider(nil).GetNode()
		assert.Nil(t, opts.Consensus)
		assert.False(t, opts.IsValidator())
		assert.Equal(t, 4, opts.GossipDegree)
		assert.Equal(t, 1000, opts.BatchSize)
		assert.Equal(t, time.Second, opts.BatchInterval)
		assert.Equal(t, 5*time.Second, opts.PeerClient.ConnectTimeout)
		assert.Equal(t, 5*time.Second, opts.PeerClient.RequestTimeout)
		assert.Equal(t, 5*time.Second, opts.PeerClient.KeepAliveInterval)
		assert.Equal(t, nodeconfig.SupervisionPrimary, opts.Supervision)
		require.NoError(t, opts.Validate())
	})

	t.Run("共识配置出现即为验证者", func(t *testing.T) {
		cfg := &types.AppConfig{Node: &types.UserNodeConfig{
			Consensus: &types.UserConsensusConfig{},
		}}
		opts := NewProvider(cfg).GetNode()
		require.NotNil(t, opts.Consensus)
		assert.True(t, opts.IsValidator())
	})

	t.Run("零值覆盖也被采用", func(t *testing.T) {
		cfg := &types.AppConfig{Node: &types.UserNodeConfig{
			MetricsAddress: types.StringPtr(""),
			EnableGossip:   types.BoolPtr(true),
			BatchInterval:  types.StringPtr("250ms"),
			PeerClient: &types.UserPeerClientConfig{
				RequestTimeout: types.StringPtr("2s"),
			},
		}}
		opts := NewProvider(cfg).GetNode()
		assert.Equal(t, "", opts.MetricsAddress)
		assert.True(t, opts.EnableGossip)
		assert.Equal(t, 250*time.Millisecond, opts.BatchInterval)
		assert.Equal(t, 2*time.Second, opts.PeerClient.RequestTimeout)
		assert.Equal(t, 5*time.Second, opts.PeerClient.ConnectTimeout)
	})
}

// TestValidate 测试节点配置校验
func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(o *nodeconfig.NodeOptions)
		want   error
	}{
		{"缺少数据库路径", func(o *nodeconfig.NodeOptions) { o.DBPath = "" }, nodeconfig.ErrMissingDBPath},
		{"缺少创世文件", func(o *nodeconfig.NodeOptions) { o.GenesisPath = "" }, nodeconfig.ErrMissingGenesis},
		{"全节点缺少查询地址", func(o *nodeconfig.NodeOptions) { o.JSONRPCAddress = "" }, nodeconfig.ErrMissingJSONRPCAddress},
		{"gossip 度数非法", func(o *nodeconfig.NodeOptions) { o.GossipDegree = 0 }, nodeconfig.ErrInvalidGossipDegree},
		{"批次大小非法", func(o *nodeconfig.NodeOptions) { o.BatchSize = 0 }, nodeconfig.ErrInvalidBatchSize},
		{"批次间隔非法", func(o *nodeconfig.NodeOptions) { o.BatchInterval = -1 }, nodeconfig.ErrInvalidBatchInterval},
		{"监督策略非法", func(o *nodeconfig.NodeOptions) { o.Supervision = "some" }, nodeconfig.ErrInvalidSupervision},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := NewProvider(nil).GetNode()
			tc.mutate(opts)
			assert.ErrorIs(t, opts.Validate(), tc.want)
		})
	}

	t.Run("验证者无需查询地址", func(t *testing.T) {
		opts := NewProvider(nil).GetNode()
		opts.JSONRPCAddress = ""
		opts.Consensus = &nodeconfig.ConsensusOptions{}
		assert.NoError(t, opts.Validate())
	})

	t.Run("非法 multiaddr", func(t *testing.T) {
		opts := NewProvider(nil).GetNode()
		opts.NetworkAddress = "127.0.0.1:9000"
		assert.Error(t, opts.Validate())
	})
}

// TestLoadFile 测试 JSON 与 TOML 配置加载
func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("JSON", func(t *testing.T) {
		path := filepath.Join(dir, "node.json")
		require.NoError(t, os.WriteFile(path, []byte(`{
			"node": {"db_path": "/tmp/x", "consensus_config": {}, "gossip_degree": 2},
			"log": {"level": "debug"}
		}`), 0o644))

		cfg, err := LoadFile(path)
		require.NoError(t, err)
		require.NotNil(t, cfg.Node)
		assert.Equal(t, "/tmp/x", *cfg.Node.DBPath)
		assert.NotNil(t, cfg.Node.Consensus)
		assert.Equal(t, 2, *cfg.Node.GossipDegree)
		assert.Equal(t, "debug", *cfg.Log.Level)
	})

	t.Run("TOML", func(t *testing.T) {
		path := filepath.Join(dir, "node.toml")
		require.NoError(t, os.WriteFile(path, []byte(`
[node]
db_path = "/tmp/y"
enable_event_processing = true
websocket_address = "127.0.0.1:0"

[storage]
in_memory = true
`), 0o644))

		cfg, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "/tmp/y", *cfg.Node.DBPath)
		assert.True(t, *cfg.Node.EnableEventProcessing)
		assert.Nil(t, cfg.Node.Consensus)
		assert.True(t, *cfg.Storage.InMemory)
	})

	t.Run("保存后可重新加载", func(t *testing.T) {
		path := filepath.Join(dir, "out", "saved.json")
		in := &types.AppConfig{Node: &types.UserNodeConfig{DBPath: types.StringPtr("/tmp/z")}}
		require.NoError(t, SaveFile(path, in))

		out, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "/tmp/z", *out.Node.DBPath)
	})

	t.Run("文件不存在", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(dir, "missing.json"))
		assert.Error(t, err)
	})
}
