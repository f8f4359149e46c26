package model

import (
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/estate-predictor/backend/internal/dataset"
	"github.com/estate-predictor/backend/internal/failure"
	"github.com/estate-predictor/backend/internal/features"
)

func TestSplitSizesAndDeterminism(t *testing.T) {
	train, test, err := Split(100, 0.2, 42)
	require.NoError(t, err)
	assert.Len(t, test, 20)
	assert.Len(t, train, 80)

	all := append(append([]int{}, train...), test...)
	sort.Ints(all)
	for i, v := range all {
		require.Equal(t, i, v, "every row appears exactly once")
	}

	train2, test2, err := Split(100, 0.2, 42)
	require.NoError(t, err)
	assert.Equal(t, train, train2)
	assert.Equal(t, test, test2)
}

func TestSplitRoundsTestSizeUp(t *testing.T) {
	train, test, err := Split(11, 0.2, 1)
	require.NoError(t, err)
	assert.Len(t, test, 3)
	assert.Len(t, train, 8)
}

func TestSplitRejectsDegeneratePartitions(t *testing.T) {
	for _, n := range []int{0, 1} {
		_, _, err := Split(n, 0.2, 42)
		assert.True(t, errors.Is(err, failure.ErrConfiguration), "n=%d", n)
	}
	_, _, err := Split(10, 1.5, 42)
	assert.True(t, errors.Is(err, failure.ErrConfiguration))
}

// meanRegressor predicts the training mean plus a fixed fraction.
type meanRegressor struct {
	mean  float64
	fits  int
	extra float64
}

func (m *meanRegressor) Fit(X mat.Matrix, y []float64) error {
	m.fits++
	var sum float64
	for _, v := range y {
		sum += v
	}
	m.mean = sum / float64(len(y))
	return nil
}

func (m *meanRegressor) Predict(X mat.Matrix) ([]float64, error) {
	r, _ := X.Dims()
	out := make([]float64, r)
	for i := range out {
		out[i] = m.mean + m.extra
	}
	return out, nil
}

func matrixOf(t *testing.T, n int) *features.Matrix {
	t.Helper()
	recs := make([]dataset.Record, n)
	for i := range recs {
		recs[i] = dataset.Record{
			Price:            float64(1000 * (i + 1)),
			Area:             float64(20 + i),
			DistanceMinutes:  float64(i % 9),
			ConstructionYear: 2000,
			TransactionYear:  2023,
			Ward:             fmt.Sprintf("ward-%d", i%3),
			AgeBracket:       dataset.Bracket20Plus,
		}
	}
	m, err := features.FromRecords(recs)
	require.NoError(t, err)
	return m
}

func TestSplitFitUsesFreshRegressorAndRounds(t *testing.T) {
	var made []*meanRegressor
	tr := &Trainer{
		NewRegressor: func() Regressor {
			r := &meanRegressor{extra: 0.123456}
			made = append(made, r)
			return r
		},
		TestSize: 0.2,
		Seed:     42,
	}
	m := matrixOf(t, 10)

	split, err := tr.SplitFit(m)
	require.NoError(t, err)
	full, err := tr.FullFit(m)
	require.NoError(t, err)

	require.Len(t, made, 2, "each stage builds its own regressor")
	assert.Equal(t, 1, made[0].fits)
	assert.Equal(t, 1, made[1].fits)

	assert.Len(t, split.YTest, 2)
	assert.Len(t, split.TrainRows, 8)
	for _, p := range split.YPred {
		assert.InDelta(t, made[0].mean+0.12, p, 1e-9)
	}
	for i, row := range split.TestRows {
		assert.Equal(t, m.Target[row], split.YTest[i])
	}

	assert.Equal(t, StageSplit, split.Model.Stage)
	assert.Equal(t, StageFull, full.Model.Stage)
	assert.Len(t, full.Predictions, 10)
	assert.Equal(t, m.Columns.Version, full.Model.Columns.Version)
}

func TestTrainerRejectsEmptyMatrix(t *testing.T) {
	m, err := features.FromRecords(nil)
	require.NoError(t, err)

	tr := NewTrainer(DefaultForestConfig(), 0.2)
	_, err = tr.SplitFit(m)
	assert.True(t, errors.Is(err, failure.ErrConfiguration))
	_, err = tr.FullFit(m)
	assert.True(t, errors.Is(err, failure.ErrConfiguration))
}

func TestTrainedPredictOne(t *testing.T) {
	m := matrixOf(t, 30)
	tr := NewTrainer(ForestConfig{Trees: 5, Seed: 42}, 0.2)

	full, err := tr.FullFit(m)
	require.NoError(t, err)

	v, err := full.Model.PredictOne(features.Input{
		Area: 25, DistanceMinutes: 3, ConstructionYear: 2000, TransactionYear: 2023,
		Ward: "ward-1", Bracket: dataset.Bracket20Plus,
	})
	require.NoError(t, err)
	assert.Greater(t, v, 0.0)

	_, err = full.Model.Predict(mat.NewDense(1, 2, nil))
	assert.True(t, errors.Is(err, failure.ErrConfiguration))
}

func TestImportance(t *testing.T) {
	m := matrixOf(t, 40)
	f := NewForest(ForestConfig{Trees: 5, Seed: 1})
	require.NoError(t, f.Fit(m.X, m.Target))

	imp, err := Importance(f, m.Columns)
	require.NoError(t, err)
	require.Len(t, imp, m.Columns.Len())
	for i := 1; i < len(imp); i++ {
		assert.GreaterOrEqual(t, imp[i-1].Importance, imp[i].Importance)
	}
	assert.Equal(t, dataset.ColArea, imp[0].Feature, "price is a function of area")

	_, err = Importance(&meanRegressor{}, m.Columns)
	assert.True(t, errors.Is(err, failure.ErrConfiguration))
}
