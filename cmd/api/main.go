package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"labeller/api/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Load()

	cmd := &cobra.Command{
		Use:           "labeller-api",
		Short:         "Label taxonomy service for the class editor",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.AddCommand(newServeCmd(&cfg), newMigrateCmd(&cfg), newTokenCmd(&cfg))
	return cmd
}
