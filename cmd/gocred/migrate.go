package main

import (
	"errors"

	"github.com/MrEthical07/goCred/store/postgres"
	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the PostgreSQL schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dsn == "" {
				s, err := loadSettings()
				if err != nil {
					return err
				}
				dsn = s.Postgres.DSN
			}
			if dsn == "" {
				return errors.New("postgres dsn required: pass --dsn or set GOCRED_POSTGRES__DSN")
			}
			return postgres.Migrate(cmd.Context(), dsn)
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "PostgreSQL connection string")
	return cmd
}
