package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSchemaCmd(f *rootFlags, d deps) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Create the store if it does not exist and report its size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := oneShot(cmd, f, d)
			if err != nil {
				return err
			}
			// Open ensures the schema.
			store, err := openStore(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.Count(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout(cmd), "%s store ready at %s (%d samples)\n", cfg.Storage.Driver, cfg.Storage.Path, n)
			return nil
		},
	}
}
