package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/profile"
)

// lookupCmd shows how each strategy answers for an email, then what the resolver settles on.
func (cli *commandLine) lookupCmd() *cobra.Command {
	var principalID string

	cmd := &cobra.Command{
		Use:   "lookup EMAIL",
		Short: "Resolve the profile and role of a principal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			email := core.CleanString(args[0])
			strategies := profile.DefaultStrategies(cli.repo)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "STRATEGY\tRESULT")
			for _, s := range strategies {
				p, err := s.Lookup(ctx, email, principalID)
				switch {
				case err != nil:
					_, _ = fmt.Fprintf(w, "%s\terror: %v\n", s.Name(), err)
				case p == nil:
					_, _ = fmt.Fprintf(w, "%s\t-\n", s.Name())
				default:
					_, _ = fmt.Fprintf(w, "%s\t%s/%s\n", s.Name(), p.Collection, p.ID)
				}
			}
			if err := w.Flush(); err != nil {
				return err
			}

			cache, err := profile.NewCache(1, cli.conf.Session.ProfileCacheTTL)
			if err != nil {
				return err
			}
			p, err := profile.NewResolver(cache, strategies).Resolve(ctx, profile.Principal{ID: principalID, Email: email})
			if err != nil {
				return err
			}
			if p == nil {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "\nprofile: none")
			} else {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\nprofile: %s/%s\n", p.Collection, p.ID)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "role: %s\n", profile.RoleOf(p))
			return nil
		},
	}
	cmd.Flags().StringVar(&principalID, "id", "", "principal ID (used by the by-key strategy)")
	return cmd
}
