// Package model fits and applies price regressors.
//
// A pipeline run trains two independent models: the split-fit model is scored
// on held-out rows, and the full-fit model, trained on every row, produces the
// numbers reported per ward and age bracket.
package model

import (
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/estate-predictor/backend/internal/failure"
	"github.com/estate-predictor/backend/internal/features"
)

// Regressor is the fit/predict capability the pipeline depends on.
type Regressor interface {
	Fit(X mat.Matrix, y []float64) error
	Predict(X mat.Matrix) ([]float64, error)
}

type Stage string

const (
	StageSplit Stage = "split"
	StageFull  Stage = "full"
)

// Trained binds a fitted regressor to the exact column layout it saw.
type Trained struct {
	Regressor Regressor
	Columns   features.Columns
	Stage     Stage
	Rows      int
	TrainedAt time.Time
}

func (t *Trained) Predict(X mat.Matrix) ([]float64, error) {
	if _, c := X.Dims(); c != t.Columns.Len() {
		return nil, failure.Newf(failure.KindConfiguration, "predict",
			"matrix has %d columns, model %s expects %d", c, t.Columns.Version, t.Columns.Len())
	}
	return t.Regressor.Predict(X)
}

// PredictOne lays out in with the model's columns and predicts it.
func (t *Trained) PredictOne(in features.Input) (float64, error) {
	row, err := t.Columns.Vector(in)
	if err != nil {
		return 0, err
	}
	out, err := t.Regressor.Predict(mat.NewDense(1, len(row), row))
	if err != nil {
		return 0, err
	}
	return out[0], nil
}
