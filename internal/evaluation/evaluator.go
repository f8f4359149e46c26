package evaluation

import (
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/estate-predictor/backend/internal/failure"
	"github.com/estate-predictor/backend/pkg/logger"
)

type Metrics struct {
	RMSE float64 `json:"rmse" yaml:"rmse"`
	R2   float64 `json:"r2" yaml:"r2"`
	MAE  float64 `json:"mae" yaml:"mae"`
	// Share of predictions within 10% and 20% of the actual price.
	Within10Percent float64 `json:"within_10_percent" yaml:"within_10_percent"`
	Within20Percent float64 `json:"within_20_percent" yaml:"within_20_percent"`
	Samples         int     `json:"samples" yaml:"samples"`
}

// Evaluate scores held-out predictions. A constant yTrue has no variance to
// explain, so R² is 1 for an exact fit and 0 otherwise.
func Evaluate(yTrue, yPred []float64) (Metrics, error) {
	if len(yTrue) != len(yPred) {
		return Metrics{}, failure.Newf(failure.KindConfiguration, "evaluate",
			"%d actual values for %d predictions", len(yTrue), len(yPred))
	}
	if len(yTrue) == 0 {
		return Metrics{}, failure.Newf(failure.KindConfiguration, "evaluate", "no held-out predictions")
	}

	n := float64(len(yTrue))
	m := Metrics{Samples: len(yTrue)}
	m.RMSE = floats.Distance(yTrue, yPred, 2) / math.Sqrt(n)
	m.MAE = floats.Distance(yTrue, yPred, 1) / n

	if floats.Min(yTrue) == floats.Max(yTrue) {
		if floats.Equal(yTrue, yPred) {
			m.R2 = 1
		}
	} else {
		m.R2 = stat.RSquaredFrom(yPred, yTrue, nil)
	}

	var within10, within20 int
	for i, actual := range yTrue {
		if actual == 0 {
			continue
		}
		rel := math.Abs(yPred[i]-actual) / math.Abs(actual)
		if rel <= 0.10 {
			within10++
		}
		if rel <= 0.20 {
			within20++
		}
	}
	m.Within10Percent = float64(within10) / n * 100
	m.Within20Percent = float64(within20) / n * 100

	logger.Info("Held-out evaluation",
		zap.Int("samples", m.Samples),
		zap.Float64("rmse", m.RMSE),
		zap.Float64("r2", m.R2))
	return m, nil
}

// Report is what GenerateReport renders for a finished run.
type Report struct {
	Source         string
	Metrics        Metrics
	RowsLoaded     int
	RowsDropped    int
	RowsUsed       int
	TrainRows      int
	TestRows       int
	ColumnsVersion string
	TopFeatures    []string
}

func GenerateReport(report *Report) string {
	features := "-"
	if len(report.TopFeatures) > 0 {
		features = strings.Join(report.TopFeatures, ", ")
	}
	return fmt.Sprintf(`
Evaluation Report
=================

Source: %s

Rows:
- Loaded: %d
- Dropped (missing values): %d
- Used: %d (train %d / test %d)

Held-out Metrics:
- RMSE: %.2f
- R²: %.4f
- MAE: %.2f
- Within 10%%: %.1f%%
- Within 20%%: %.1f%%

Feature Columns: %s
Top Features: %s
`,
		report.Source,
		report.RowsLoaded,
		report.RowsDropped,
		report.RowsUsed, report.TrainRows, report.TestRows,
		report.Metrics.RMSE,
		report.Metrics.R2,
		report.Metrics.MAE,
		report.Metrics.Within10Percent,
		report.Metrics.Within20Percent,
		report.ColumnsVersion,
		features,
	)
}
