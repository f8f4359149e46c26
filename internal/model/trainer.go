package model

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/estate-predictor/backend/internal/features"
	"github.com/estate-predictor/backend/pkg/logger"
)

// Trainer runs the split-fit and full-fit stages. Each stage gets a fresh
// regressor from NewRegressor.
type Trainer struct {
	NewRegressor func() Regressor
	TestSize     float64
	Seed         int64
}

func NewTrainer(cfg ForestConfig, testSize float64) *Trainer {
	return &Trainer{
		NewRegressor: func() Regressor { return NewForest(cfg) },
		TestSize:     testSize,
		Seed:         cfg.Seed,
	}
}

type SplitOutcome struct {
	Model     *Trained
	YTest     []float64
	YPred     []float64
	TrainRows []int
	TestRows  []int
}

type FullOutcome struct {
	Model       *Trained
	Predictions []float64
}

// SplitFit trains on the training partition and predicts the held-out rows.
// Predictions are rounded to two decimals.
func (t *Trainer) SplitFit(m *features.Matrix) (*SplitOutcome, error) {
	if err := checkFit(m.Rows(), m.Columns.Len(), len(m.Target)); err != nil {
		return nil, err
	}
	train, test, err := Split(m.Rows(), t.TestSize, t.Seed)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	xTrain, yTrain := m.Subset(train)
	reg := t.NewRegressor()
	if err := reg.Fit(xTrain, yTrain); err != nil {
		return nil, fmt.Errorf("split fit: %w", err)
	}

	xTest, yTest := m.Subset(test)
	pred, err := reg.Predict(xTest)
	if err != nil {
		return nil, fmt.Errorf("split predict: %w", err)
	}
	for i, v := range pred {
		pred[i] = roundTo(v, 2)
	}

	logger.Info("Split fit complete",
		zap.Int("train_rows", len(train)),
		zap.Int("test_rows", len(test)),
		zap.String("columns_version", m.Columns.Version),
		zap.Duration("duration", time.Since(start)))

	return &SplitOutcome{
		Model: &Trained{
			Regressor: reg,
			Columns:   m.Columns,
			Stage:     StageSplit,
			Rows:      len(train),
			TrainedAt: time.Now(),
		},
		YTest:     yTest,
		YPred:     pred,
		TrainRows: train,
		TestRows:  test,
	}, nil
}

// FullFit trains a separate regressor on every row and predicts those same
// rows. Predictions[i] belongs to m.Records[i].
func (t *Trainer) FullFit(m *features.Matrix) (*FullOutcome, error) {
	if err := checkFit(m.Rows(), m.Columns.Len(), len(m.Target)); err != nil {
		return nil, err
	}

	start := time.Now()
	reg := t.NewRegressor()
	if err := reg.Fit(m.X, m.Target); err != nil {
		return nil, fmt.Errorf("full fit: %w", err)
	}
	pred, err := reg.Predict(m.X)
	if err != nil {
		return nil, fmt.Errorf("full predict: %w", err)
	}

	logger.Info("Full fit complete",
		zap.Int("rows", m.Rows()),
		zap.String("columns_version", m.Columns.Version),
		zap.Duration("duration", time.Since(start)))

	return &FullOutcome{
		Model: &Trained{
			Regressor: reg,
			Columns:   m.Columns,
			Stage:     StageFull,
			Rows:      m.Rows(),
			TrainedAt: time.Now(),
		},
		Predictions: pred,
	}, nil
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.RoundToEven(v*p) / p
}
