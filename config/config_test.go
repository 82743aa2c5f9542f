package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	assert := assert.New(t)

	cfg := DefaultConfig()
	assert.NotNil(cfg.RPC)
	assert.NotNil(cfg.Ledger)
	assert.NotNil(cfg.Instrumentation)

	// check the root dir stays set properly
	cfg.SetRoot("/foo")
	assert.Equal("/foo", cfg.RootDir)
	assert.Equal(filepath.Join("/foo", "config", "config.toml"), cfg.ConfigFilePath())
}

func TestConfigValidateBasic(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.ValidateBasic())

	// tamper with commit_timeout
	cfg.Ledger.CommitTimeout = -10 * time.Second
	require.Error(t, cfg.ValidateBasic())
}

func TestBaseConfigValidateBasic(t *testing.T) {
	cfg := DefaultBaseConfig()
	require.NoError(t, cfg.ValidateBasic())

	cfg.Host = "not a hostname"
	require.Error(t, cfg.ValidateBasic())

	cfg = DefaultBaseConfig()
	cfg.LogFormat = "xml"
	require.Error(t, cfg.ValidateBasic())
}

func TestRPCConfigValidateBasic(t *testing.T) {
	cfg := TestRPCConfig()
	require.NoError(t, cfg.ValidateBasic())

	fieldsToTest := []func(){
		func() { cfg.ListenAddress = "" },
		func() { cfg.WebSocketReadWait = -1 },
		func() { cfg.WebSocketWriteWait = -1 },
	}

	for _, tamper := range fieldsToTest {
		cfg = TestRPCConfig()
		tamper()
		require.Error(t, cfg.ValidateBasic())
	}
}

func TestLedgerConfigValidateBasic(t *testing.T) {
	cfg := DefaultLedgerConfig()
	require.NoError(t, cfg.ValidateBasic())

	fieldsToTest := []func(){
		func() { cfg.PeerAddress = "" },
		func() { cfg.OrdererAddress = "" },
		func() { cfg.EventHubAddress = "" },
		func() { cfg.Channel = "" },
		func() { cfg.Identity = "" },
		func() { cfg.CommitTimeout = 0 },
	}

	for _, tamper := range fieldsToTest {
		cfg = DefaultLedgerConfig()
		tamper()
		require.Error(t, cfg.ValidateBasic())
	}
}

// The written config file must round-trip through viper back into an
// equivalent Config.
func TestWriteConfigFileRoundTrip(t *testing.T) {
	rootDir := t.TempDir()
	require.NoError(t, EnsureRoot(rootDir))

	cfg := DefaultConfig()
	cfg.Host = "books.example.com"
	cfg.Ledger.Channel = "testchannel"
	require.NoError(t, WriteConfigFile(rootDir, cfg))

	v := viper.New()
	v.SetConfigFile(filepath.Join(rootDir, "config", "config.toml"))
	require.NoError(t, v.ReadInConfig())

	loaded := DefaultConfig()
	require.NoError(t, v.Unmarshal(loaded))

	assert.Equal(t, "books.example.com", loaded.Host)
	assert.Equal(t, "testchannel", loaded.Ledger.Channel)
	assert.Equal(t, cfg.RPC.ListenAddress, loaded.RPC.ListenAddress)
	assert.Equal(t, cfg.Ledger.CommitTimeout, loaded.Ledger.CommitTimeout)
	require.NoError(t, loaded.ValidateBasic())
}
