package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bookchain/bookchain/libs/log"
	"github.com/bookchain/bookchain/types"
)

var (
	// DefaultBookchainDir is the default home directory, relative to $HOME.
	DefaultBookchainDir = ".bookchain"

	defaultConfigDir      = "config"
	defaultConfigFileName = "config.toml"

	defaultConfigFilePath = filepath.Join(defaultConfigDir, defaultConfigFileName)
)

// Config defines the top level configuration for a bookchain node.
type Config struct {
	// Top level options use an anonymous struct
	BaseConfig `mapstructure:",squash"`

	// Options for services
	RPC             *RPCConfig             `mapstructure:"rpc"`
	Ledger          *LedgerConfig          `mapstructure:"ledger"`
	Instrumentation *InstrumentationConfig `mapstructure:"instrumentation"`
}

// DefaultConfig returns a default configuration for a bookchain node.
func DefaultConfig() *Config {
	return &Config{
		BaseConfig:      DefaultBaseConfig(),
		RPC:             DefaultRPCConfig(),
		Ledger:          DefaultLedgerConfig(),
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// TestConfig returns a configuration that can be used for testing.
func TestConfig() *Config {
	return &Config{
		BaseConfig:      TestBaseConfig(),
		RPC:             TestRPCConfig(),
		Ledger:          DefaultLedgerConfig(),
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// SetRoot sets the RootDir for all config structs.
func (cfg *Config) SetRoot(root string) *Config {
	cfg.BaseConfig.RootDir = root
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.RPC.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [rpc] section: %w", err)
	}
	if err := cfg.Ledger.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [ledger] section: %w", err)
	}
	return nil
}

//-----------------------------------------------------------------------------
// BaseConfig

// BaseConfig defines the base configuration for a bookchain node.
type BaseConfig struct {
	// The root directory for all data.
	RootDir string `mapstructure:"home"`

	// The fully qualified domain name this node serves rooms under. It is
	// recorded on the ledger as the room host and reported to guests.
	Host string `mapstructure:"host"`

	// Output level for logging
	LogLevel string `mapstructure:"log_level"`

	// Output format: 'plain' (colored text) or 'json'
	LogFormat string `mapstructure:"log_format"`
}

// DefaultBaseConfig returns a default base configuration for a bookchain node.
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		Host:      "localhost",
		LogLevel:  "info",
		LogFormat: log.LogFormatPlain,
	}
}

// TestBaseConfig returns a base configuration for testing a bookchain node.
func TestBaseConfig() BaseConfig {
	cfg := DefaultBaseConfig()
	cfg.Host = "localhost"
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg BaseConfig) ValidateBasic() error {
	if !types.IsFQDN(cfg.Host) {
		return fmt.Errorf("host must be a FQDN or localhost, got %q", cfg.Host)
	}

	switch cfg.LogFormat {
	case log.LogFormatPlain, log.LogFormatJSON:
	default:
		return errors.New("unknown log format (must be 'plain' or 'json')")
	}

	return nil
}

// ConfigFilePath returns the path to this node's config file.
func (cfg BaseConfig) ConfigFilePath() string {
	return rootify(defaultConfigFilePath, cfg.RootDir)
}

//-----------------------------------------------------------------------------
// RPCConfig

// RPCConfig defines the configuration for the node's HTTP and websocket
// server.
type RPCConfig struct {
	RootDir string `mapstructure:"home"`

	// TCP or UNIX socket address for the server to listen on
	ListenAddress string `mapstructure:"laddr"`

	// A list of origins a cross-domain request can be executed from.
	// If the special '*' value is present in the list, all origins will be
	// allowed.
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`

	// A list of methods the client is allowed to use with cross-domain
	// requests.
	CORSAllowedMethods []string `mapstructure:"cors_allowed_methods"`

	// A list of non simple headers the client is allowed to use with
	// cross-domain requests.
	CORSAllowedHeaders []string `mapstructure:"cors_allowed_headers"`

	// How long to wait for a websocket negotiation message before the
	// connection is dropped. 0 means block indefinitely.
	WebSocketReadWait time.Duration `mapstructure:"ws_read_wait"`

	// Time allowed to write a message to a negotiation websocket.
	WebSocketWriteWait time.Duration `mapstructure:"ws_write_wait"`
}

// DefaultRPCConfig returns a default configuration for the RPC server.
func DefaultRPCConfig() *RPCConfig {
	return &RPCConfig{
		ListenAddress:      "tcp://127.0.0.1:26658",
		CORSAllowedOrigins: []string{},
		CORSAllowedMethods: []string{"HEAD", "GET", "POST", "DELETE"},
		CORSAllowedHeaders: []string{"Origin", "Accept", "Content-Type"},
		WebSocketReadWait:  0,
		WebSocketWriteWait: 10 * time.Second,
	}
}

// TestRPCConfig returns a configuration for testing the RPC server.
func TestRPCConfig() *RPCConfig {
	cfg := DefaultRPCConfig()
	cfg.ListenAddress = "tcp://127.0.0.1:0"
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *RPCConfig) ValidateBasic() error {
	if cfg.ListenAddress == "" {
		return errors.New("laddr can't be empty")
	}
	if cfg.WebSocketReadWait < 0 {
		return errors.New("ws_read_wait can't be negative")
	}
	if cfg.WebSocketWriteWait < 0 {
		return errors.New("ws_write_wait can't be negative")
	}
	return nil
}

// IsCorsEnabled returns true if cross-origin resource sharing is enabled.
func (cfg *RPCConfig) IsCorsEnabled() bool {
	return len(cfg.CORSAllowedOrigins) != 0
}

//-----------------------------------------------------------------------------
// LedgerConfig

// LedgerConfig defines how the node reaches the ledger network: one peer for
// endorsement and queries, one orderer, and one commit-event hub, all bound
// to a channel and an enrolled identity.
type LedgerConfig struct {
	RootDir string `mapstructure:"home"`

	// Address of the endorsing peer (host:port).
	PeerAddress string `mapstructure:"peer_laddr"`

	// Address of the ordering service (host:port).
	OrdererAddress string `mapstructure:"orderer_laddr"`

	// Address of the commit-event hub (host:port).
	EventHubAddress string `mapstructure:"event_hub_laddr"`

	// Channel the chaincodes are deployed on.
	Channel string `mapstructure:"channel"`

	// Name of the enrolled network identity to act as.
	Identity string `mapstructure:"identity"`

	// How long an invoke waits for the commit event before giving up.
	CommitTimeout time.Duration `mapstructure:"commit_timeout"`
}

// DefaultLedgerConfig returns a default configuration for the ledger client.
func DefaultLedgerConfig() *LedgerConfig {
	return &LedgerConfig{
		PeerAddress:     "localhost:7051",
		OrdererAddress:  "localhost:7050",
		EventHubAddress: "localhost:7053",
		Channel:         "bookchain",
		Identity:        "bookchain_app",
		CommitTimeout:   30 * time.Second,
	}
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *LedgerConfig) ValidateBasic() error {
	if cfg.PeerAddress == "" {
		return errors.New("peer_laddr can't be empty")
	}
	if cfg.OrdererAddress == "" {
		return errors.New("orderer_laddr can't be empty")
	}
	if cfg.EventHubAddress == "" {
		return errors.New("event_hub_laddr can't be empty")
	}
	if cfg.Channel == "" {
		return errors.New("channel can't be empty")
	}
	if cfg.Identity == "" {
		return errors.New("identity can't be empty")
	}
	if cfg.CommitTimeout <= 0 {
		return errors.New("commit_timeout must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------
// InstrumentationConfig

// InstrumentationConfig defines the configuration for metrics reporting.
type InstrumentationConfig struct {
	// When true, Prometheus metrics are served under /metrics on
	// PrometheusListenAddr.
	Prometheus bool `mapstructure:"prometheus"`

	// Address to listen for Prometheus collector(s) connections.
	PrometheusListenAddr string `mapstructure:"prometheus_listen_addr"`

	// Instrumentation namespace.
	Namespace string `mapstructure:"namespace"`
}

// DefaultInstrumentationConfig returns a default configuration for metrics
// reporting.
func DefaultInstrumentationConfig() *InstrumentationConfig {
	return &InstrumentationConfig{
		Prometheus:           false,
		PrometheusListenAddr: ":26660",
		Namespace:            "bookchain",
	}
}

//-----------------------------------------------------------------------------
// Utils

// helper function to make config creation independent of root dir
func rootify(path, root string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

// EnsureRoot creates the root, config, and data directories if they don't
// exist.
func EnsureRoot(rootDir string) error {
	if err := os.MkdirAll(rootDir, 0700); err != nil {
		return err
	}
	return os.MkdirAll(filepath.Join(rootDir, defaultConfigDir), 0700)
}
