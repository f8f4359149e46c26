package prediction

import (
	"time"

	"github.com/estate-predictor/backend/internal/aggregate"
	"github.com/estate-predictor/backend/internal/evaluation"
	"github.com/estate-predictor/backend/internal/model"
)

type RowCounts struct {
	Loaded  int `json:"loaded" yaml:"loaded"`
	Dropped int `json:"dropped" yaml:"dropped"`
	Used    int `json:"used" yaml:"used"`
	Train   int `json:"train" yaml:"train"`
	Test    int `json:"test" yaml:"test"`
}

// Result is everything one run reports. It is written once and only read
// afterwards.
type Result struct {
	RunID  string `json:"run_id" yaml:"run_id"`
	Source string `json:"source" yaml:"source"`

	RMSE    float64            `json:"rmse" yaml:"rmse"`
	R2      float64            `json:"r2" yaml:"r2"`
	Metrics evaluation.Metrics `json:"metrics" yaml:"metrics"`

	ScatterPath   string `json:"scatter_path" yaml:"scatter_path"`
	TrendPath     string `json:"trend_path" yaml:"trend_path"`
	WardChartPath string `json:"ward_chart_path" yaml:"ward_chart_path"`

	WardPredictions    map[string]int64            `json:"ward_predictions" yaml:"ward_predictions"`
	WardActuals        map[string]int64            `json:"ward_actuals" yaml:"ward_actuals"`
	WardEraPredictions map[string]map[string]int64 `json:"ward_era_predictions" yaml:"ward_era_predictions"`
	YearlyMeans        []aggregate.YearMean        `json:"yearly_means" yaml:"yearly_means"`

	Importance     []model.FeatureImportance `json:"importance" yaml:"importance"`
	Rows           RowCounts                 `json:"rows" yaml:"rows"`
	ColumnsVersion string                    `json:"columns_version" yaml:"columns_version"`
	ReferenceYear  int                       `json:"reference_year" yaml:"reference_year"`
	CreatedAt      time.Time                 `json:"created_at" yaml:"created_at"`
	Duration       time.Duration             `json:"duration_ns" yaml:"duration_ns"`
}

// WardRows returns the per-ward figures sorted by ward.
func (r *Result) WardRows() []aggregate.WardRow {
	return aggregate.WardRows(r.WardPredictions, r.WardActuals)
}

// Outcome pairs a Result with the full-fit model used for later inference.
type Outcome struct {
	Result *Result
	Model  *model.Trained
}
