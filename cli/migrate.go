package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the storage schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(cmd, flags)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.backend.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("failed to migrate %s storage: %w", e.cfg.Storage.Driver, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), RenderStatus("migrated "+e.cfg.Storage.Driver+" storage", true))
			return nil
		},
	}
}
