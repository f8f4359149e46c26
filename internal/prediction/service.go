package prediction

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/estate-predictor/backend/internal/aggregate"
	"github.com/estate-predictor/backend/internal/chart"
	"github.com/estate-predictor/backend/internal/dataset"
	"github.com/estate-predictor/backend/internal/evaluation"
	"github.com/estate-predictor/backend/internal/features"
	"github.com/estate-predictor/backend/internal/metrics"
	"github.com/estate-predictor/backend/internal/model"
	"github.com/estate-predictor/backend/pkg/config"
	"github.com/estate-predictor/backend/pkg/logger"
)

type Config struct {
	Encoding      string
	ReferenceYear int
	TestSize      float64
	Forest        model.ForestConfig
	Chart         chart.Config
	ScatterPath   string
	TrendPath     string
	WardChartPath string
}

// ConfigFrom maps the application configuration onto the pipeline.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Encoding:      cfg.Pipeline.Encoding,
		ReferenceYear: cfg.Pipeline.ReferenceYear,
		TestSize:      cfg.Pipeline.TestSize,
		Forest: model.ForestConfig{
			Trees:           cfg.Pipeline.Trees,
			MaxDepth:        cfg.Pipeline.MaxDepth,
			MinSamplesSplit: cfg.Pipeline.MinSamplesSplit,
			MinSamplesLeaf:  cfg.Pipeline.MinSamplesLeaf,
			MaxFeatures:     cfg.Pipeline.MaxFeatures,
			Seed:            cfg.Pipeline.RandomSeed,
			Workers:         cfg.Pipeline.Workers,
		},
		Chart: chart.Config{
			WidthIn:      cfg.Charts.WidthIn,
			HeightIn:     cfg.Charts.HeightIn,
			PriceFilter:  cfg.Charts.PriceFilter,
			AxisMax:      cfg.Charts.AxisMax,
			TickInterval: cfg.Charts.TickInterval,
		},
		ScatterPath:   cfg.Charts.ScatterPath(),
		TrendPath:     cfg.Charts.TrendPath(),
		WardChartPath: cfg.Charts.WardPath(),
	}
}

// Service runs the whole pipeline for one uploaded file.
type Service struct {
	cfg     Config
	loader  *dataset.Loader
	trainer *model.Trainer
	charts  *chart.Renderer
}

func NewService(cfg Config) (*Service, error) {
	if cfg.ReferenceYear == 0 {
		cfg.ReferenceYear = dataset.DefaultReferenceYear
	}
	if cfg.TestSize == 0 {
		cfg.TestSize = 0.2
	}
	loader, err := dataset.NewLoader(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	return &Service{
		cfg:     cfg,
		loader:  loader,
		trainer: model.NewTrainer(cfg.Forest, cfg.TestSize),
		charts:  chart.NewRenderer(cfg.Chart),
	}, nil
}

func (s *Service) ReferenceYear() int {
	return s.cfg.ReferenceYear
}

// Run loads path, trains the split-fit and full-fit models, aggregates and
// renders charts. Errors keep their failure kind and cause.
func (s *Service) Run(path string) (out *Outcome, err error) {
	start := time.Now()
	runID := uuid.New().String()
	log := logger.With(zap.String("run_id", runID), zap.String("source", filepath.Base(path)))

	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			log.Error("Pipeline failed", zap.Error(err))
		}
		metrics.PipelineRuns.WithLabelValues(status).Inc()
	}()

	log.Info("Pipeline started")

	t := time.Now()
	frame, stats, err := s.loader.LoadAndPreprocess(path, s.cfg.ReferenceYear)
	observe("load", t)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", filepath.Base(path), err)
	}
	metrics.RowsDropped.Add(float64(stats.Dropped))

	t = time.Now()
	matrix, err := features.Build(frame)
	observe("features", t)
	if err != nil {
		return nil, fmt.Errorf("failed to build features: %w", err)
	}
	metrics.RowsUsed.Observe(float64(matrix.Rows()))

	t = time.Now()
	split, err := s.trainer.SplitFit(matrix)
	observe("split_fit", t)
	if err != nil {
		return nil, err
	}

	scores, err := evaluation.Evaluate(split.YTest, split.YPred)
	if err != nil {
		return nil, err
	}

	t = time.Now()
	if err := s.charts.Scatter(s.cfg.ScatterPath, split.YTest, split.YPred); err != nil {
		return nil, fmt.Errorf("failed to render scatter chart: %w", err)
	}
	observe("scatter_chart", t)

	t = time.Now()
	full, err := s.trainer.FullFit(matrix)
	observe("full_fit", t)
	if err != nil {
		return nil, err
	}

	t = time.Now()
	wardPred, wardActual, err := aggregate.ByWard(matrix.Records, full.Predictions)
	if err != nil {
		return nil, err
	}
	byEra, err := aggregate.ByWardAndEra(matrix.Records, full.Predictions, s.cfg.ReferenceYear)
	if err != nil {
		return nil, err
	}
	yearly := aggregate.YearlyMeans(matrix.Records)
	observe("aggregate", t)

	importance, err := model.Importance(full.Model.Regressor, full.Model.Columns)
	if err != nil {
		log.Warn("Feature importance unavailable", zap.Error(err))
	}

	t = time.Now()
	if err := s.charts.Trend(s.cfg.TrendPath, yearly); err != nil {
		return nil, fmt.Errorf("failed to render trend chart: %w", err)
	}
	if err := s.charts.WardComparison(s.cfg.WardChartPath, aggregate.WardRows(wardPred, wardActual)); err != nil {
		return nil, fmt.Errorf("failed to render ward chart: %w", err)
	}
	observe("charts", t)

	result := &Result{
		RunID:              runID,
		Source:             filepath.Base(path),
		RMSE:               scores.RMSE,
		R2:                 scores.R2,
		Metrics:            scores,
		ScatterPath:        s.cfg.ScatterPath,
		TrendPath:          s.cfg.TrendPath,
		WardChartPath:      s.cfg.WardChartPath,
		WardPredictions:    wardPred,
		WardActuals:        wardActual,
		WardEraPredictions: byEra,
		YearlyMeans:        yearly,
		Importance:         importance,
		Rows: RowCounts{
			Loaded:  stats.Loaded,
			Dropped: stats.Dropped,
			Used:    matrix.Rows(),
			Train:   len(split.TrainRows),
			Test:    len(split.TestRows),
		},
		ColumnsVersion: matrix.Columns.Version,
		ReferenceYear:  s.cfg.ReferenceYear,
		CreatedAt:      time.Now(),
		Duration:       time.Since(start),
	}

	metrics.LastRMSE.Set(result.RMSE)
	metrics.LastR2.Set(result.R2)
	log.Info("Pipeline finished",
		zap.Float64("rmse", result.RMSE),
		zap.Float64("r2", result.R2),
		zap.Int("wards", len(wardPred)),
		zap.Duration("duration", result.Duration))

	return &Outcome{Result: result, Model: full.Model}, nil
}

// Report renders a text summary of result.
func Report(result *Result) string {
	var top []string
	for i, f := range result.Importance {
		if i == 3 {
			break
		}
		top = append(top, fmt.Sprintf("%s (%.3f)", f.Feature, f.Importance))
	}
	return evaluation.GenerateReport(&evaluation.Report{
		Source:         result.Source,
		Metrics:        result.Metrics,
		RowsLoaded:     result.Rows.Loaded,
		RowsDropped:    result.Rows.Dropped,
		RowsUsed:       result.Rows.Used,
		TrainRows:      result.Rows.Train,
		TestRows:       result.Rows.Test,
		ColumnsVersion: result.ColumnsVersion,
		TopFeatures:    top,
	})
}

func observe(stage string, start time.Time) {
	metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
