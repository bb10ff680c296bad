package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"speedwatch/internal/app"
)

func newServeCmd(f *rootFlags, d deps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and dashboard until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, f, d)
		},
	}
}

func runServe(cmd *cobra.Command, f *rootFlags, d deps) error {
	interval, err := f.intervalOverride()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, f.manager(d), app.Options{Interval: interval, Measurer: d.measurer})
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
