package model

import (
	"math"
	"math/rand"

	"github.com/estate-predictor/backend/internal/failure"
)

// Split shuffles 0..n-1 with seed and holds out ceil(n*testSize) rows. The
// same n, testSize and seed always give the same partition.
func Split(n int, testSize float64, seed int64) (train, test []int, err error) {
	if n < 1 {
		return nil, nil, failure.Newf(failure.KindConfiguration, "split", "no samples to split")
	}
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, failure.Newf(failure.KindConfiguration, "split", "test size %v outside (0, 1)", testSize)
	}

	nTest := int(math.Ceil(float64(n) * testSize))
	nTrain := n - nTest
	if nTest < 1 || nTrain < 1 {
		return nil, nil, failure.Newf(failure.KindConfiguration, "split",
			"%d samples leave %d for training and %d for testing", n, nTrain, nTest)
	}

	perm := rand.New(rand.NewSource(seed)).Perm(n)
	return perm[nTest:], perm[:nTest], nil
}
