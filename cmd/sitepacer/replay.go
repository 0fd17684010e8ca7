package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/alexshd/sitepacer"
)

type replayOptions struct {
	input  string
	report string
	outDir string
	sleep  bool
	output string
}

// observation is one recorded request.
type observation struct {
	line     int
	category string
	latency  any
}

func newReplayCmd(root *rootOptions) *cobra.Command {
	opts := &replayOptions{}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay recorded latencies through a monitor",
		Long: `Replay reads one observation per line, either "latency" or
"category,latency". Latencies are seconds ("0.25") or Go durations ("250ms").
Lines starting with # are ignored.

Each observation is fed to a monitor with the configured tuning; the timer is
disabled unless --sleep is given. Afterwards the collected history is
reported.

Examples:
  sitepacer replay --input latencies.csv
  sitepacer replay --input - --config pacer.yaml -o yaml < latencies.csv
  sitepacer replay --input latencies.csv --report save --out ./reports`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, root, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "Observation file, - for stdin")
	cmd.Flags().StringVar(&opts.report, "report", string(sitepacer.ReportDisplay), "Report mode (display, save)")
	cmd.Flags().StringVar(&opts.outDir, "out", "", "Directory for the --report save PNG (default: working directory)")
	cmd.Flags().BoolVar(&opts.sleep, "sleep", false, "Actually wait for each returned delay")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "table", "Output format (table, yaml)")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func runReplay(cmd *cobra.Command, root *rootOptions, opts *replayOptions) error {
	if opts.output != "table" && opts.output != "yaml" {
		return fmt.Errorf("unknown output format %q", opts.output)
	}
	mode := sitepacer.ReportMode(opts.report)
	if mode != sitepacer.ReportDisplay && mode != sitepacer.ReportSave {
		return fmt.Errorf("unknown report mode %q", opts.report)
	}

	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	logger := root.logger(cmd.ErrOrStderr())
	cfg.Logger = logger
	cfg.HandleTimer = opts.sleep

	monitor, err := sitepacer.New(cfg)
	if err != nil {
		return err
	}

	in, closeInput, err := openInput(cmd, opts.input)
	if err != nil {
		return err
	}
	defer closeInput()

	observations, err := parseObservations(in)
	if err != nil {
		return err
	}

	var total time.Duration
	skipped := 0
	for _, o := range observations {
		delay, err := monitor.TrackRequest(o.latency, o.category)
		if errors.Is(err, sitepacer.ErrInvalidResponse) {
			logger.Warn("skipping observation", "line", o.line, "err", err)
			skipped++
			continue
		}
		if err != nil {
			return fmt.Errorf("line %d: %w", o.line, err)
		}
		total += time.Duration(delay * float64(time.Second))
		logger.Debug("observation", "line", o.line, "category", o.category, "delay", delay)
	}
	logger.Info("replay complete",
		"observations", len(observations)-skipped,
		"skipped", skipped,
		"total_delay", total)

	if opts.output == "yaml" {
		out, err := yaml.Marshal(monitor.GetStatistics())
		if err != nil {
			return fmt.Errorf("encode statistics: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	}

	if mode == sitepacer.ReportSave {
		return monitor.Report(sitepacer.ReportSave, opts.outDir)
	}
	return monitor.WriteReport(cmd.OutOrStdout())
}

func openInput(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	if path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}
	return f, func() { f.Close() }, nil
}

// parseObservations reads "latency" or "category,latency" records.
func parseObservations(r io.Reader) ([]observation, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var out []observation
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read observations: %w", err)
		}
		line, _ := reader.FieldPos(0)

		var o observation
		o.line = line
		switch len(record) {
		case 1:
			o.latency = parseLatency(record[0])
		case 2:
			o.category = strings.TrimSpace(record[0])
			o.latency = parseLatency(record[1])
		default:
			return nil, fmt.Errorf("line %d: expected 1 or 2 fields, got %d", line, len(record))
		}
		out = append(out, o)
	}
}

// parseLatency returns seconds as float64, a time.Duration, or the raw
// string when neither parses so the monitor rejects it as invalid.
func parseLatency(field string) any {
	field = strings.TrimSpace(field)
	if v, err := strconv.ParseFloat(field, 64); err == nil {
		return v
	}
	if d, err := time.ParseDuration(field); err == nil {
		return d
	}
	return field
}
