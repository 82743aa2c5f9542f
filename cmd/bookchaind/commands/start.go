package commands

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bookchain/bookchain/node"
)

// NewStartCmd returns the command that runs the bookchain node.
func NewStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the bookchain node",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := node.New(conf, logger)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return n.Run(ctx)
		},
	}
}
