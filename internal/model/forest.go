package model

import (
	"math/rand"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/estate-predictor/backend/internal/failure"
)

type ForestConfig struct {
	Trees           int
	MaxDepth        int // 0 grows until leaves are pure
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int // 0 considers every feature at every split
	Seed            int64
	Workers         int // 0 uses GOMAXPROCS
}

func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		Trees:           100,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Seed:            42,
	}
}

// Forest is a bagged ensemble of regression trees. Each tree is fit on a
// bootstrap sample; predictions are the mean over trees.
type Forest struct {
	cfg         ForestConfig
	trees       []*tree
	nFeatures   int
	importances []float64
}

func NewForest(cfg ForestConfig) *Forest {
	if cfg.Trees < 1 {
		cfg.Trees = 100
	}
	if cfg.MinSamplesSplit < 2 {
		cfg.MinSamplesSplit = 2
	}
	if cfg.MinSamplesLeaf < 1 {
		cfg.MinSamplesLeaf = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	return &Forest{cfg: cfg}
}

func (f *Forest) Config() ForestConfig {
	return f.cfg
}

func (f *Forest) Fit(X mat.Matrix, y []float64) error {
	rows, cols := X.Dims()
	if err := checkFit(rows, cols, len(y)); err != nil {
		return err
	}

	columns := make([][]float64, cols)
	for j := range columns {
		columns[j] = mat.Col(nil, j, X)
	}
	target := append([]float64(nil), y...)

	// Seeds are drawn up front so the result does not depend on which worker
	// picks up which tree.
	src := rand.New(rand.NewSource(f.cfg.Seed))
	seeds := make([]int64, f.cfg.Trees)
	for i := range seeds {
		seeds[i] = src.Int63()
	}

	params := treeParams{
		maxDepth:        f.cfg.MaxDepth,
		minSamplesSplit: f.cfg.MinSamplesSplit,
		minSamplesLeaf:  f.cfg.MinSamplesLeaf,
		maxFeatures:     f.cfg.MaxFeatures,
	}

	trees := make([]*tree, f.cfg.Trees)
	perTree := make([][]float64, f.cfg.Trees)
	f.fanOut(f.cfg.Trees, func(i int) {
		rng := rand.New(rand.NewSource(seeds[i]))
		samples := make([]int, rows)
		for k := range samples {
			samples[k] = rng.Intn(rows)
		}
		trees[i], perTree[i] = growTree(columns, target, samples, params, rng)
	})

	importances := make([]float64, cols)
	for _, imp := range perTree {
		if total := floats.Sum(imp); total > 0 {
			floats.AddScaled(importances, 1/total, imp)
		}
	}
	if total := floats.Sum(importances); total > 0 {
		floats.Scale(1/total, importances)
	}

	f.trees = trees
	f.nFeatures = cols
	f.importances = importances
	return nil
}

func (f *Forest) Predict(X mat.Matrix) ([]float64, error) {
	if len(f.trees) == 0 {
		return nil, failure.Newf(failure.KindConfiguration, "predict", "forest has not been fit")
	}
	rows, cols := X.Dims()
	if cols != f.nFeatures {
		return nil, failure.Newf(failure.KindConfiguration, "predict",
			"matrix has %d columns, forest was fit on %d", cols, f.nFeatures)
	}
	if rows == 0 {
		return []float64{}, nil
	}

	data := make([][]float64, rows)
	for i := range data {
		data[i] = mat.Row(nil, i, X)
	}

	perTree := make([][]float64, len(f.trees))
	f.fanOut(len(f.trees), func(t int) {
		out := make([]float64, rows)
		for i, row := range data {
			out[i] = f.trees[t].predict(row)
		}
		perTree[t] = out
	})

	// Summed in tree order so the result is independent of scheduling.
	preds := make([]float64, rows)
	for _, out := range perTree {
		floats.Add(preds, out)
	}
	floats.Scale(1/float64(len(f.trees)), preds)
	return preds, nil
}

// FeatureImportances returns the mean impurity decrease per feature,
// normalized to sum to 1. Nil before Fit.
func (f *Forest) FeatureImportances() []float64 {
	if f.importances == nil {
		return nil
	}
	return append([]float64(nil), f.importances...)
}

// fanOut runs job(0..n-1) on at most cfg.Workers goroutines.
func (f *Forest) fanOut(n int, job func(i int)) {
	sem := make(chan struct{}, f.cfg.Workers)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			job(i)
		}(i)
	}
	wg.Wait()
}

func checkFit(rows, cols, targets int) error {
	switch {
	case rows < 1:
		return failure.Newf(failure.KindConfiguration, "fit", "no samples to fit")
	case cols < 1:
		return failure.Newf(failure.KindConfiguration, "fit", "feature matrix has no columns")
	case targets != rows:
		return failure.Newf(failure.KindConfiguration, "fit", "%d targets for %d samples", targets, rows)
	}
	return nil
}
