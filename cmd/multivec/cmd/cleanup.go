package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/multivec/internal/output"
)

func newCleanupCmd() *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired idempotency entries",
		Long: `Cleanup sweeps the idempotency cache: entries past their TTL are
deleted. The engine also drops expired entries lazily, so this is only
needed to keep the state database small.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			removed, err := a.Idempotency.CleanupExpired(cmd.Context(), tenantID)
			if err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("removed %d expired entries", removed)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Limit the sweep to one tenant")
	return cmd
}
