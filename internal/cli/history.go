package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newHistoryCmd(f *rootFlags, d deps) *cobra.Command {
	var (
		n      int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the most recent stored samples, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if n <= 0 {
				return fmt.Errorf("-n must be positive")
			}
			cfg, log, err := oneShot(cmd, f, d)
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer store.Close()

			rows, err := store.Recent(cmd.Context(), n)
			if err != nil {
				return err
			}

			out := stdout(cmd)
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			if len(rows) == 0 {
				fmt.Fprintln(out, "no samples stored yet")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
			fmt.Fprintln(tw, "TIMESTAMP (UTC)\tDOWNLOAD\tUPLOAD\tPING\t")
			for _, s := range rows {
				fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%.2f\t\n", s.Timestamp.UTC().Format("2006-01-02 15:04:05"), s.Download, s.Upload, s.Ping)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&n, "n", "n", 10, "number of samples to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print samples as JSON")
	return cmd
}
