package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bookchain/bookchain/config"
)

// InitFilesCmd creates the root directory and writes a default config file.
var InitFilesCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the bookchain root directory",
	RunE:  initFiles,
}

func initFiles(cmd *cobra.Command, args []string) error {
	if err := config.EnsureRoot(conf.RootDir); err != nil {
		return err
	}

	configFile := conf.ConfigFilePath()
	if _, err := os.Stat(configFile); err == nil {
		logger.Info("found config file, skipping", "path", configFile)
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	if err := config.WriteConfigFile(conf.RootDir, conf); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	logger.Info("generated config file", "path", configFile)
	return nil
}
