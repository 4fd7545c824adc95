package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func purgeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete expired and used password reset tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *configPath, "pg")
			if err != nil {
				return err
			}
			defer a.close()
			n, err := a.svc.PurgeExpiredResets(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d reset tokens\n", n)
			return nil
		},
	}
}
