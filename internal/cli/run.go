package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"github.com/estate-predictor/backend/internal/dataset"
	"github.com/estate-predictor/backend/internal/export"
	"github.com/estate-predictor/backend/internal/prediction"
	"github.com/estate-predictor/backend/internal/storage"
	"github.com/estate-predictor/backend/pkg/config"
	appLogger "github.com/estate-predictor/backend/pkg/logger"
	"github.com/estate-predictor/backend/pkg/retry"
)

// pipelineFlags override pipeline settings from the config file.
type pipelineFlags struct {
	trees         int
	seed          int64
	encoding      string
	referenceYear int
	chartsDir     string
}

func (f *pipelineFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.trees, "trees", 0, "number of trees (overrides config)")
	cmd.Flags().Int64Var(&f.seed, "seed", 0, "random seed for split and forest (overrides config)")
	cmd.Flags().StringVar(&f.encoding, "encoding", "", "CSV encoding: shift_jis or utf-8 (overrides config)")
	cmd.Flags().IntVar(&f.referenceYear, "reference-year", 0, "year ages are measured from (overrides config)")
	cmd.Flags().StringVar(&f.chartsDir, "charts-dir", "", "directory charts are written to (overrides config)")
}

func (f *pipelineFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("trees") {
		cfg.Pipeline.Trees = f.trees
	}
	if flags.Changed("seed") {
		cfg.Pipeline.RandomSeed = f.seed
	}
	if flags.Changed("encoding") {
		cfg.Pipeline.Encoding = f.encoding
	}
	if flags.Changed("reference-year") {
		cfg.Pipeline.ReferenceYear = f.referenceYear
	}
	if flags.Changed("charts-dir") {
		cfg.Charts.Dir = f.chartsDir
	}
	return cfg.Validate()
}

func runPipeline(cmd *cobra.Command, opts *globalOptions, flags *pipelineFlags, path string) (*config.Config, *prediction.Outcome, error) {
	cfg, err := opts.setup()
	if err != nil {
		return nil, nil, err
	}
	if err := flags.apply(cmd, cfg); err != nil {
		return nil, nil, err
	}

	svc, err := prediction.NewService(prediction.ConfigFrom(cfg))
	if err != nil {
		return nil, nil, err
	}
	out, err := svc.Run(path)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, out, nil
}

func newRunCommand(opts *globalOptions) *cobra.Command {
	var (
		flags  pipelineFlags
		format string
		xlsx   string
		record bool
	)

	cmd := &cobra.Command{
		Use:   "run <csv>",
		Short: "Run the full pipeline on a CSV and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !validFormat(format) {
				return fmt.Errorf("unknown format %q (want markdown, json or yaml)", format)
			}

			start := time.Now()
			cfg, out, err := runPipeline(cmd, opts, &flags, args[0])
			if record && cfg != nil {
				defer recordRun(cfg, args[0], start, out, err)
			}
			if err != nil {
				return err
			}

			if xlsx != "" {
				if err := export.WriteFile(out.Result, xlsx); err != nil {
					return fmt.Errorf("failed to write %s: %w", xlsx, err)
				}
			}
			return render(cmd.OutOrStdout(), format, out.Result)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "output format: markdown, json or yaml")
	cmd.Flags().StringVar(&xlsx, "xlsx", "", "also write the result as an xlsx workbook to this path")
	cmd.Flags().BoolVar(&record, "record", false, "record the run in the configured run history store")
	return cmd
}

func recordRun(cfg *config.Config, path string, start time.Time, out *prediction.Outcome, runErr error) {
	ctx := context.Background()
	store, err := storage.Open(ctx, cfg.Storage, retry.Config{MaxAttempts: 2, Logger: appLogger.Log})
	if err != nil {
		appLogger.Warn("Run history unavailable", zap.Error(err))
		return
	}
	defer store.Close()

	if runErr != nil {
		storage.Record(ctx, store, storage.FailedRun(uuid.New().String(),
			filepath.Base(path), cfg.Pipeline.ReferenceYear, time.Since(start), runErr))
		return
	}
	storage.Record(ctx, store, storage.SucceededRun(out.Result))
}

func validFormat(f string) bool {
	switch f {
	case "markdown", "md", "json", "yaml", "yml":
		return true
	}
	return false
}

func render(w io.Writer, format string, r *prediction.Result) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(r)
	default:
		return renderMarkdown(w, r)
	}
}

func renderMarkdown(w io.Writer, r *prediction.Result) error {
	p := message.NewPrinter(language.English)

	p.Fprint(w, prediction.Report(r))
	p.Fprintf(w, "\n## Average price by ward\n\n| Ward | Predicted | Actual |\n|---|---:|---:|\n")
	for _, row := range r.WardRows() {
		p.Fprintf(w, "| %s | %d | %d |\n", row.Ward, row.Predicted, row.Actual)
	}

	p.Fprintf(w, "\n## Average prediction by ward and building age\n\n| Ward |")
	for _, b := range dataset.Brackets {
		p.Fprintf(w, " %s |", b)
	}
	p.Fprintf(w, "\n|---|")
	for range dataset.Brackets {
		p.Fprintf(w, "---:|")
	}
	p.Fprintln(w)

	wards := make([]string, 0, len(r.WardEraPredictions))
	for ward := range r.WardEraPredictions {
		wards = append(wards, ward)
	}
	sort.Strings(wards)
	for _, ward := range wards {
		p.Fprintf(w, "| %s |", ward)
		for _, b := range dataset.Brackets {
			p.Fprintf(w, " %d |", r.WardEraPredictions[ward][string(b)])
		}
		p.Fprintln(w)
	}

	_, err := p.Fprintf(w, "\nCharts: %s, %s, %s\n", r.ScatterPath, r.TrendPath, r.WardChartPath)
	return err
}
