package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bookchain/bookchain/config"
	"github.com/bookchain/bookchain/libs/cli"
	"github.com/bookchain/bookchain/libs/log"
)

var (
	conf   = config.DefaultConfig()
	logger = log.MustNewDefaultLogger(log.LogFormatPlain, log.LogLevelInfo)
)

// ParseConfig unmarshals the viper state into a fresh configuration, roots
// it at the configured home directory, and validates it.
func ParseConfig() (*config.Config, error) {
	c := config.DefaultConfig()
	if err := viper.Unmarshal(c); err != nil {
		return nil, err
	}

	c.SetRoot(viper.GetString(cli.HomeFlag))

	if err := c.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("error in config file: %w", err)
	}
	return c, nil
}

// RootCmd is the root command for the bookchain node.
var RootCmd = &cobra.Command{
	Use:   "bookchaind",
	Short: "Book lending and trading on a permissioned ledger",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == VersionCmd.Name() {
			return nil
		}

		var err error
		conf, err = ParseConfig()
		if err != nil {
			return err
		}

		logger, err = log.NewDefaultLogger(conf.LogFormat, conf.LogLevel)
		if err != nil {
			return err
		}
		return nil
	},
}

func init() {
	RootCmd.PersistentFlags().String("log-level", conf.LogLevel, "log level")
	RootCmd.PersistentFlags().String("log-format", conf.LogFormat, "log format (plain or json)")
}
