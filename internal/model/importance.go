package model

import (
	"sort"

	"github.com/estate-predictor/backend/internal/failure"
	"github.com/estate-predictor/backend/internal/features"
)

type FeatureImportance struct {
	Feature    string  `json:"feature" yaml:"feature"`
	Importance float64 `json:"importance" yaml:"importance"`
}

type importancer interface {
	FeatureImportances() []float64
}

// Importance pairs a regressor's importances with column names, largest
// first. Ties keep column order.
func Importance(r Regressor, columns features.Columns) ([]FeatureImportance, error) {
	imp, ok := r.(importancer)
	if !ok {
		return nil, failure.Newf(failure.KindConfiguration, "importance", "regressor %T does not report importances", r)
	}
	values := imp.FeatureImportances()
	if len(values) != columns.Len() {
		return nil, failure.Newf(failure.KindConfiguration, "importance",
			"%d importances for %d columns", len(values), columns.Len())
	}

	out := make([]FeatureImportance, len(values))
	for i, v := range values {
		out[i] = FeatureImportance{Feature: columns.Names[i], Importance: v}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Importance > out[j].Importance })
	return out, nil
}
