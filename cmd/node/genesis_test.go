package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/weisyn/ledgernode/internal/config"
	nodeconfig "github.com/weisyn/ledgernode/internal/config/node"
	"github.com/weisyn/ledgernode/internal/core/genesis"
	"github.com/weisyn/ledgernode/internal/core/infrastructure/crypto/key"
)

func TestBuildNetwork(t *testing.T) {
	dir := t.TempDir()
	files, err := buildNetwork(dir, 3, 9100, 9000, 2)
	require.NoError(t, err)
	require.Len(t, files.Validators, 3)

	g, err := genesis.Load(files.Genesis)
	require.NoError(t, err)
	committee := g.Committee()
	assert.Equal(t, 3, committee.Size())
	assert.Equal(t, uint64(6), committee.TotalStake())
	assert.Len(t, g.Objects, 3)

	for i, v := range files.Validators {
		assert.True(t, committee.Contains(v.Name))
		assert.Equal(t, tcpAddr(9100+i), committee.NetworkAddress(v.Name))

		cfg, err := config.LoadFile(v.Config)
		require.NoError(t, err)
		opts := nodeconfig.New(cfg.Node).GetOptions()
		require.NoError(t, opts.Validate())
		assert.True(t, opts.IsValidator())

		kp, err := key.Load(v.Key)
		require.NoError(t, err)
		assert.Equal(t, v.Name, kp.Name())
	}

	cfg, err := config.LoadFile(files.FullNode.Config)
	require.NoError(t, err)
	opts := nodeconfig.New(cfg.Node).GetOptions()
	require.NoError(t, opts.Validate())
	assert.False(t, opts.IsValidator())
	assert.True(t, opts.EnableEventProcessing)
	assert.Equal(t, "127.0.0.1:9000", opts.JSONRPCAddress)
	assert.Equal(t, "127.0.0.1:9001", opts.WebsocketAddress)
	assert.False(t, committee.Contains(files.FullNode.Name))
}

func TestBuildNetworkRequiresValidator(t *testing.T) {
	_, err := buildNetwork(t.TempDir(), 0, 9100, 9000, 1)
	require.Error(t, err)
}
