package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logconfig "github.com/weisyn/ledgernode/internal/config/log"
	"github.com/weisyn/ledgernode/pkg/types"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "node.log")
	opts := logconfig.New(&types.UserLogConfig{
		Level:    types.StringPtr("debug"),
		FilePath: types.StringPtr(path),
	}).GetOptions()
	require.False(t, opts.ToConsole)

	logger, err := New(opts)
	require.NoError(t, err)

	NewModuleZapLogger(logger, "storage").Info("opened store")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"module":"storage"`)
	assert.Contains(t, string(data), "opened store")
}

func TestNewWithoutOutputsIsNop(t *testing.T) {
	opts := logconfig.New(&types.UserLogConfig{ToConsole: types.BoolPtr(false)}).GetOptions()
	logger, err := New(opts)
	require.NoError(t, err)
	assert.NotNil(t, logger)
	logger.Info("discarded")
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	opts := logconfig.New(&types.UserLogConfig{Level: types.StringPtr("loud")}).GetOptions()
	assert.Equal(t, "info", opts.ZapLevel().String())
}

func TestNewModuleZapLoggerNil(t *testing.T) {
	assert.NotNil(t, NewModuleZapLogger(nil, "x"))
}
