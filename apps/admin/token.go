package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trezcool/masomo-portal/core/profile"
)

// tokenCmd mints an ID token, to sign in against a development server.
func (cli *commandLine) tokenCmd() *cobra.Command {
	var pr profile.Principal

	cmd := &cobra.Command{
		Use:   "token --id ID [--email EMAIL]",
		Short: "Issue a signed ID token for a principal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cli.validate.Struct(pr); err != nil {
				return err
			}
			token, err := cli.provider.IssueToken(pr)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&pr.ID, "id", "", "principal ID")
	cmd.Flags().StringVar(&pr.Email, "email", "", "principal email")
	return cmd
}
