package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"speedwatch/internal/app"
	"speedwatch/internal/cycle"
	"speedwatch/internal/storage"
)

func newMeasureCmd(f *rootFlags, d deps) *cobra.Command {
	var (
		save   bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "measure",
		Short: "Run one speed test and print the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := oneShot(cmd, f, d)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			m := d.measurer
			if m == nil {
				if m, err = app.NewMeasurer(cfg, nil, log); err != nil {
					return err
				}
			}

			var store storage.Store
			if save {
				if store, err = openStore(ctx, cfg, log); err != nil {
					return err
				}
				defer store.Close()
			}

			res := cycle.New(cycle.Deps{Measurer: m, Store: store, Log: log}).Run(ctx, "cli")
			if res.Err != nil {
				return fmt.Errorf("measurement failed: %w", res.Err)
			}

			out := stdout(cmd)
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(res.Sample); err != nil {
					return err
				}
			} else {
				s := res.Sample
				fmt.Fprintf(out, "%s  download %.2f Mbps  upload %.2f Mbps  ping %.2f ms\n",
					s.Timestamp.Format("2006-01-02 15:04:05"), s.Download, s.Upload, s.Ping)
			}
			if res.PersistErr != nil {
				return res.PersistErr
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "append the result to the configured store")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the sample as JSON")
	return cmd
}
