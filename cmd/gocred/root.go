package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "gocred",
		Short:         "Credential service: tokens, API keys, passwords and lockouts",
		Long:          "gocred is configured through GOCRED_* environment variables. Nested keys use a double underscore, e.g. GOCRED_REDIS__ADDR.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newSweepCommand())
	cmd.AddCommand(newMigrateCommand())
	return cmd
}
