package main

import (
	"database/sql"
	"io"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/profile"
	"github.com/trezcool/masomo-portal/services/auth/jwtauth"
)

type commandLine struct {
	conf     *core.Config
	db       *sql.DB // nil with the in-memory storage
	repo     profile.Repository
	provider *jwtauth.Provider
	validate *validator.Validate
	out      io.Writer
}

func (cli *commandLine) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		Short:         cli.conf.AppName + " portal administration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(cli.out)
	root.SetErr(cli.out)
	root.AddCommand(cli.migrateCmd(), cli.lookupCmd(), cli.tokenCmd())
	return root
}

// run executes the command line, args[0] being the program name.
func (cli *commandLine) run(args []string) error {
	root := cli.rootCmd()
	if len(args) > 0 {
		args = args[1:]
	}
	root.SetArgs(args)
	return root.Execute()
}
