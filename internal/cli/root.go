// Package cli is the speedwatch command line.
package cli

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"speedwatch/internal/app"
	"speedwatch/internal/config"
	"speedwatch/internal/cycle"
	"speedwatch/internal/storage"
	"speedwatch/internal/task/scheduler"
	"speedwatch/pkg/logx"
)

// deps are swapped in tests.
type deps struct {
	lookup   config.LookupFunc
	measurer cycle.Measurer
}

type rootFlags struct {
	configPath string
	interval   string
}

// NewRootCmd builds the command tree. serve runs when no subcommand is given.
func NewRootCmd() *cobra.Command {
	return newRootCmd(deps{lookup: os.LookupEnv})
}

func newRootCmd(d deps) *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:           "speedwatch",
		Short:         "Periodic internet speed tests with a live dashboard",
		Long:          "speedwatch measures download, upload and ping on a fixed interval,\nappends every result to a local store and serves a live dashboard.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, f, d)
		},
	}
	root.PersistentFlags().StringVarP(&f.configPath, "config", "c", "", "path to a JSON or YAML config file (missing file means defaults)")
	root.PersistentFlags().StringVar(&f.interval, "interval", "", "measurement interval: seconds, a Go duration (2m) or HH:MM; overrides config")

	root.AddCommand(
		newServeCmd(f, d),
		newMeasureCmd(f, d),
		newHistoryCmd(f, d),
		newSchemaCmd(f, d),
	)
	return root
}

// Execute runs the command tree and returns the process exit code.
func Execute(ctx context.Context) int {
	cmd := NewRootCmd()
	if err := cmd.ExecuteContext(ctx); err != nil {
		cmd.PrintErrln("fatal:", err)
		return 1
	}
	return 0
}

func (f *rootFlags) manager(d deps) *config.Manager {
	return config.NewManager(f.configPath, config.WithLookup(d.lookup))
}

// intervalOverride is zero when --interval was not given.
func (f *rootFlags) intervalOverride() (int, error) {
	if f.interval == "" {
		return 0, nil
	}
	return scheduler.ParseInterval(f.interval)
}

// oneShot loads config and returns a logger writing to stderr.
func oneShot(cmd *cobra.Command, f *rootFlags, d deps) (*config.Config, logx.Logger, error) {
	cfg, err := f.manager(d).Load()
	if err != nil {
		return nil, logx.Logger{}, err
	}
	return cfg, logx.NewConsole(stderr(cmd), cfg.Logging.Level), nil
}

func openStore(ctx context.Context, cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, err := app.StorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	return storage.Open(ctx, sc, log)
}

func stdout(cmd *cobra.Command) io.Writer { return cmd.OutOrStdout() }
func stderr(cmd *cobra.Command) io.Writer { return cmd.ErrOrStderr() }
