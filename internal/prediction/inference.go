package prediction

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/estate-predictor/backend/internal/dataset"
	"github.com/estate-predictor/backend/internal/failure"
	"github.com/estate-predictor/backend/internal/features"
	"github.com/estate-predictor/backend/internal/metrics"
	"github.com/estate-predictor/backend/internal/model"
	"github.com/estate-predictor/backend/pkg/logger"
)

var (
	ErrInvalidArea     = failure.Newf(failure.KindValue, "predict", "area must be greater than 0")
	ErrInvalidAge      = failure.Newf(failure.KindValue, "predict", "age must be 0 or greater")
	ErrInvalidDistance = failure.Newf(failure.KindValue, "predict", "distance must be 0 or greater")
	ErrMissingWard     = failure.Newf(failure.KindValue, "predict", "ward is required")
	ErrUnknownWard     = features.ErrUnknownWard
	ErrNoModel         = failure.Newf(failure.KindConfiguration, "predict", "no trained model")
)

// Input describes one property for single-record inference.
type Input struct {
	Area     float64 `json:"area" yaml:"area"`
	Age      float64 `json:"age" yaml:"age"`
	Distance float64 `json:"distance" yaml:"distance"`
	Ward     string  `json:"ward" yaml:"ward"`
}

func (in Input) Validate() error {
	switch {
	case !(in.Area > 0):
		return ErrInvalidArea
	case !(in.Age >= 0):
		return ErrInvalidAge
	case !(in.Distance >= 0):
		return ErrInvalidDistance
	case strings.TrimSpace(in.Ward) == "":
		return ErrMissingWard
	}
	return nil
}

// Predict estimates one property's price with a full-fit model. The property
// is assumed to change hands in referenceYear, so its construction year is
// referenceYear minus its age.
func Predict(trained *model.Trained, in Input, referenceYear int) (float64, error) {
	price, err := predict(trained, in, referenceYear)
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, failure.ErrValue):
		outcome = "invalid"
	default:
		outcome = "error"
	}
	metrics.Inferences.WithLabelValues(outcome).Inc()
	return price, err
}

func predict(trained *model.Trained, in Input, referenceYear int) (float64, error) {
	if trained == nil {
		return 0, ErrNoModel
	}
	if err := in.Validate(); err != nil {
		return 0, err
	}
	if referenceYear == 0 {
		referenceYear = dataset.DefaultReferenceYear
	}

	bracket, ok := dataset.BracketForAge(in.Age)
	if !ok {
		return 0, fmt.Errorf("%w: %v years is outside every age bracket", ErrInvalidAge, in.Age)
	}

	price, err := trained.PredictOne(features.Input{
		Area:             in.Area,
		DistanceMinutes:  in.Distance,
		ConstructionYear: float64(referenceYear) - in.Age,
		TransactionYear:  float64(referenceYear),
		Ward:             strings.TrimSpace(in.Ward),
		Bracket:          bracket,
	})
	if err != nil {
		return 0, err
	}

	logger.Debug("Single-record prediction",
		zap.String("ward", in.Ward),
		zap.Float64("area", in.Area),
		zap.Float64("price", price),
		zap.String("columns_version", trained.Columns.Version))
	return price, nil
}
