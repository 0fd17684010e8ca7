package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/alexshd/sitepacer"
)

type rootOptions struct {
	cfgFile string
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "sitepacer",
		Short: "Adaptive request pacing from response latency",
		Long: `sitepacer learns a latency baseline per request category and adjusts
the delay between requests when responses drift above it.

Commands:
  replay   Feed recorded latencies through a monitor and report
  config   Print the effective configuration as YAML`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "YAML config file (default: built-in defaults)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log every observation")

	cmd.AddCommand(newReplayCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	return cmd
}

func (o *rootOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05",
		NoColor:    !isTerminal(w),
	}))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

func (o *rootOptions) loadConfig() (sitepacer.Config, error) {
	if o.cfgFile == "" {
		return sitepacer.DefaultConfig(), nil
	}
	return sitepacer.LoadConfig(o.cfgFile)
}
