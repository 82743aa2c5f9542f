package main

import (
	"os"
	"path/filepath"

	"github.com/bookchain/bookchain/cmd/bookchaind/commands"
	"github.com/bookchain/bookchain/config"
	"github.com/bookchain/bookchain/libs/cli"
)

func main() {
	rootCmd := commands.RootCmd
	rootCmd.AddCommand(
		commands.InitFilesCmd,
		commands.NewStartCmd(),
		commands.VersionCmd,
	)

	baseCmd := cli.PrepareBaseCmd(rootCmd, "BC",
		os.ExpandEnv(filepath.Join("$HOME", config.DefaultBookchainDir)))
	if err := baseCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
