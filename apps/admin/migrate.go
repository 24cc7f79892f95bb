package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/trezcool/masomo-portal/storage/database"
)

var errNoDatabase = errors.New("migrations need the postgres storage (set <ENV>_DBSTORAGE=postgres)")

func (cli *commandLine) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate COMMAND [ARGS...]",
		Short: "Run a goose migration command (up, down, status, version, redo, ...)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cli.db == nil {
				return errNoDatabase
			}
			return database.Migrate(cmd.Context(), cli.db, args[0], args[1:]...)
		},
	}
}
