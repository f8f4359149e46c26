// Package cli implements the predictor command line.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/estate-predictor/backend/pkg/config"
	appLogger "github.com/estate-predictor/backend/pkg/logger"
)

type globalOptions struct {
	configFile string
	logLevel   string
}

// NewRootCommand builds the predictor command tree writing to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "predictor",
		Short: "Train and apply a Tokyo condominium price model from a transaction CSV",
		Long: `predictor loads a real-estate transaction CSV (Shift_JIS by default), trains a
random-forest price model and reports held-out accuracy, per-ward and per-age-bracket
average predictions and charts.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default ./config.yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	root.AddCommand(newRunCommand(opts), newEstimateCommand(opts))
	return root
}

// Execute is called by main.main().
func Execute() {
	if err := NewRootCommand(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setup loads configuration and sends logs to stderr so stdout stays
// machine-readable.
func (o *globalOptions) setup() (*config.Config, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, err
	}
	if err := appLogger.Init(o.logLevel, "console", "stderr", appLogger.WithService("predictor")); err != nil {
		return nil, err
	}
	return cfg, nil
}
