package prediction

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/japanese"

	"github.com/estate-predictor/backend/internal/dataset"
	"github.com/estate-predictor/backend/internal/failure"
	"github.com/estate-predictor/backend/internal/features"
	"github.com/estate-predictor/backend/internal/model"
)

var wards = []string{"千代田区", "中央区", "港区"}

// writeTransactions writes n well-formed Shift_JIS rows spread over three
// wards.
func writeTransactions(t *testing.T, dir string, n int) string {
	t.Helper()
	rng := rand.New(rand.NewSource(1))
	distances := []string{"5分", "1H30分", "5～10分", "12", "3分"}

	lines := []string{strings.Join(dataset.RequiredColumns, ",") + ",種類"}
	for i := 0; i < n; i++ {
		ward := wards[i%len(wards)]
		area := 30 + rng.Intn(70)
		built := 1985 + rng.Intn(38)
		year := 2019 + i%5
		price := area*600_000 + (built-1980)*400_000 + (i%len(wards))*5_000_000
		lines = append(lines, fmt.Sprintf("%d,%d,%s,%d年,%s,%d年第%d四半期,中古マンション等",
			price, area, distances[i%len(distances)], built, ward, year, 1+i%4))
	}

	encoded, err := japanese.ShiftJIS.NewEncoder().String(strings.Join(lines, "\r\n") + "\r\n")
	require.NoError(t, err)
	path := filepath.Join(dir, "transactions.csv")
	require.NoError(t, os.WriteFile(path, []byte(encoded), 0o644))
	return path
}

// writeTransactionsWithGaps writes n rows where every fifth row, starting at
// the third, has a field that preprocessing turns into a null. It returns the
// prices of the rows that survive, in file order.
func writeTransactionsWithGaps(t *testing.T, dir string, n int) (string, []float64) {
	t.Helper()
	rng := rand.New(rand.NewSource(7))

	lines := []string{strings.Join(dataset.RequiredColumns, ",") + ",種類"}
	var kept []float64
	for i := 0; i < n; i++ {
		ward := wards[i%len(wards)]
		area := 30 + rng.Intn(70)
		built := fmt.Sprintf("%d年", 1985+rng.Intn(38))
		distance := fmt.Sprintf("%d分", 1+rng.Intn(20))
		period := fmt.Sprintf("%d年第%d四半期", 2019+i%5, 1+i%4)
		price := area*600_000 + (i%len(wards))*5_000_000 + rng.Intn(3_000_000)

		if i%5 == 2 {
			switch (i / 5) % 4 {
			case 0:
				built = "戦前"
			case 1:
				period = "不明"
			case 2:
				distance = "30分?60分"
			case 3:
				built = "2030年"
			}
		} else {
			kept = append(kept, float64(price))
		}
		lines = append(lines, fmt.Sprintf("%d,%d,%s,%s,%s,%s,中古マンション等",
			price, area, distance, built, ward, period))
	}

	encoded, err := japanese.ShiftJIS.NewEncoder().String(strings.Join(lines, "\r\n") + "\r\n")
	require.NoError(t, err)
	path := filepath.Join(dir, "transactions_gaps.csv")
	require.NoError(t, os.WriteFile(path, []byte(encoded), 0o644))
	return path, kept
}

func newTestService(t *testing.T, dir string) *Service {
	t.Helper()
	s, err := NewService(Config{
		Encoding:      "shift_jis",
		ReferenceYear: 2025,
		TestSize:      0.2,
		Forest:        model.ForestConfig{Trees: 10, Seed: 42},
		ScatterPath:   filepath.Join(dir, "static", "result.png"),
		TrendPath:     filepath.Join(dir, "static", "yearly_trend.png"),
		WardChartPath: filepath.Join(dir, "static", "ward_comparison.png"),
	})
	require.NoError(t, err)
	return s
}

func TestRunEndToEnd(t *testing.T) {
	dir := t.TempDir()
	path := writeTransactions(t, dir, 100)
	s := newTestService(t, dir)

	out, err := s.Run(path)
	require.NoError(t, err)
	res := out.Result

	assert.Equal(t, RowCounts{Loaded: 100, Dropped: 0, Used: 100, Train: 80, Test: 20}, res.Rows)
	assert.Len(t, res.WardPredictions, 3)
	assert.Len(t, res.WardActuals, 3)
	assert.Greater(t, res.RMSE, 0.0)
	assert.LessOrEqual(t, res.R2, 1.0)
	assert.Equal(t, model.StageFull, out.Model.Stage)
	assert.Equal(t, res.ColumnsVersion, out.Model.Columns.Version)
	assert.NotEmpty(t, res.Importance)

	for _, p := range []string{res.ScatterPath, res.TrendPath, res.WardChartPath} {
		assert.FileExists(t, p)
	}

	// Recompute the ward means from the returned full-fit model.
	loader, err := dataset.NewLoader("shift_jis")
	require.NoError(t, err)
	frame, _, err := loader.LoadAndPreprocess(path, 2025)
	require.NoError(t, err)
	m, err := features.Build(frame)
	require.NoError(t, err)
	preds, err := out.Model.Predict(m.X)
	require.NoError(t, err)

	sums := map[string]float64{}
	counts := map[string]int{}
	for i, r := range m.Records {
		sums[r.Ward] += preds[i]
		counts[r.Ward]++
	}
	for _, w := range wards {
		require.Contains(t, res.WardPredictions, w)
		assert.Equal(t, int64(math.RoundToEven(sums[w]/float64(counts[w]))), res.WardPredictions[w], w)
	}

	for ward, byBracket := range res.WardEraPredictions {
		assert.Len(t, byBracket, len(dataset.Brackets), ward)
	}
}

func TestRunAggregatesOnlySurvivingRows(t *testing.T) {
	dir := t.TempDir()
	path, kept := writeTransactionsWithGaps(t, dir, 120)
	s := newTestService(t, dir)

	out, err := s.Run(path)
	require.NoError(t, err)
	res := out.Result
	assert.Equal(t, 120, res.Rows.Loaded)
	assert.Equal(t, 24, res.Rows.Dropped)
	assert.Equal(t, len(kept), res.Rows.Used)

	loader, err := dataset.NewLoader("shift_jis")
	require.NoError(t, err)
	frame, _, err := loader.LoadAndPreprocess(path, 2025)
	require.NoError(t, err)
	m, err := features.Build(frame)
	require.NoError(t, err)
	require.Len(t, m.Records, len(kept))
	for i, r := range m.Records {
		require.Equal(t, kept[i], r.Price, "record %d", i)
	}

	preds, err := out.Model.Predict(m.X)
	require.NoError(t, err)

	type group struct {
		sum   float64
		count int
	}
	byWard := map[string]*group{}
	byEra := map[string]map[dataset.Bracket]*group{}
	for i, r := range m.Records {
		if byWard[r.Ward] == nil {
			byWard[r.Ward] = &group{}
			byEra[r.Ward] = map[dataset.Bracket]*group{}
			for _, b := range dataset.Brackets {
				byEra[r.Ward][b] = &group{}
			}
		}
		byWard[r.Ward].sum += preds[i]
		byWard[r.Ward].count++
		b, ok := dataset.BracketFor(2025, r.ConstructionYear)
		require.True(t, ok)
		byEra[r.Ward][b].sum += preds[i]
		byEra[r.Ward][b].count++
	}

	mean := func(g *group) int64 {
		if g.count == 0 {
			return 0
		}
		return int64(math.RoundToEven(g.sum / float64(g.count)))
	}

	require.Len(t, res.WardPredictions, len(wards))
	for _, w := range wards {
		assert.Equal(t, mean(byWard[w]), res.WardPredictions[w], w)
		require.Contains(t, res.WardEraPredictions, w)
		for _, b := range dataset.Brackets {
			assert.Equal(t, mean(byEra[w][b]), res.WardEraPredictions[w][string(b)], "%s %s", w, b)
		}
	}
}

func TestRunIsReproducible(t *testing.T) {
	dir := t.TempDir()
	path := writeTransactions(t, dir, 60)
	s := newTestService(t, dir)

	a, err := s.Run(path)
	require.NoError(t, err)
	b, err := s.Run(path)
	require.NoError(t, err)

	assert.InDelta(t, a.Result.RMSE, b.Result.RMSE, 1e-9)
	assert.InDelta(t, a.Result.R2, b.Result.R2, 1e-12)
	assert.Equal(t, a.Result.WardPredictions, b.Result.WardPredictions)
	assert.NotEqual(t, a.Result.RunID, b.Result.RunID)
}

func TestRunPropagatesFailureKinds(t *testing.T) {
	dir := t.TempDir()
	s := newTestService(t, dir)

	_, err := s.Run(filepath.Join(dir, "missing.csv"))
	assert.True(t, errors.Is(err, failure.ErrIO))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	bad, err := japanese.ShiftJIS.NewEncoder().String("取引価格（総額）,面積（㎡）\r\n1,2\r\n")
	require.NoError(t, err)
	badPath := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(badPath, []byte(bad), 0o644))

	_, err = s.Run(badPath)
	assert.True(t, errors.Is(err, failure.ErrSchema))

	var ferr *failure.Error
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, []string{dataset.ColDistance, dataset.ColBuiltYear, dataset.ColWard, dataset.ColPeriod}, ferr.Missing)
}

func TestRunRejectsTooFewRows(t *testing.T) {
	dir := t.TempDir()
	path := writeTransactions(t, dir, 1)

	_, err := newTestService(t, dir).Run(path)
	assert.True(t, errors.Is(err, failure.ErrConfiguration))
}
