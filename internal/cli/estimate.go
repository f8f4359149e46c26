package cli

import (
	"fmt"
	"math"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/estate-predictor/backend/internal/prediction"
)

func newEstimateCommand(opts *globalOptions) *cobra.Command {
	var (
		flags pipelineFlags
		in    prediction.Input
	)

	cmd := &cobra.Command{
		Use:     "estimate <csv>",
		Short:   "Train on a CSV and estimate the price of one property",
		Example: `  predictor estimate data/tokyo.csv --area 55 --age 12 --distance 6 --ward 港区`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := in.Validate(); err != nil {
				return err
			}

			cfg, out, err := runPipeline(cmd, opts, &flags, args[0])
			if err != nil {
				return err
			}

			price, err := prediction.Predict(out.Model, in, cfg.Pipeline.ReferenceYear)
			if err != nil {
				return err
			}

			p := message.NewPrinter(language.English)
			_, err = p.Fprintf(cmd.OutOrStdout(), "%s, %.1f㎡, %v years old, %v min to station: ¥%d\n",
				in.Ward, in.Area, in.Age, in.Distance, int64(math.Round(price)))
			return err
		},
	}

	flags.register(cmd)
	cmd.Flags().Float64Var(&in.Area, "area", 0, "floor area in square meters")
	cmd.Flags().Float64Var(&in.Age, "age", 0, "building age in years")
	cmd.Flags().Float64Var(&in.Distance, "distance", 0, "walking minutes to the nearest station")
	cmd.Flags().StringVar(&in.Ward, "ward", "", "ward name, e.g. 港区")
	for _, name := range []string{"area", "ward"} {
		if err := cmd.MarkFlagRequired(name); err != nil {
			panic(fmt.Sprintf("mark %s required: %v", name, err))
		}
	}
	return cmd
}
