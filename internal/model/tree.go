package model

import (
	"math/rand"
	"sort"
)

const leaf = -1

// node is one entry of a flattened regression tree. Leaves have feature == leaf.
type node struct {
	feature   int
	threshold float64
	left      int
	right     int
	value     float64
}

type tree struct {
	nodes []node
}

func (t *tree) predict(row []float64) float64 {
	i := 0
	for {
		n := &t.nodes[i]
		if n.feature == leaf {
			return n.value
		}
		if row[n.feature] <= n.threshold {
			i = n.left
		} else {
			i = n.right
		}
	}
}

type treeParams struct {
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     int
}

// treeBuilder grows one CART tree with squared-error splits. cols is column
// major: cols[f][i] is feature f of sample i.
type treeBuilder struct {
	cols       [][]float64
	y          []float64
	params     treeParams
	rng        *rand.Rand
	nodes      []node
	importance []float64
}

func growTree(cols [][]float64, y []float64, samples []int, p treeParams, rng *rand.Rand) (*tree, []float64) {
	b := &treeBuilder{
		cols:       cols,
		y:          y,
		params:     p,
		rng:        rng,
		importance: make([]float64, len(cols)),
	}
	b.build(samples, 0)
	return &tree{nodes: b.nodes}, b.importance
}

type split struct {
	feature   int
	threshold float64
	gain      float64
}

func (b *treeBuilder) build(samples []int, depth int) int {
	id := len(b.nodes)
	b.nodes = append(b.nodes, node{feature: leaf, value: b.mean(samples)})

	if len(samples) < b.params.minSamplesSplit ||
		len(samples) < 2*b.params.minSamplesLeaf ||
		(b.params.maxDepth > 0 && depth >= b.params.maxDepth) ||
		b.pure(samples) {
		return id
	}

	best, ok := b.bestSplit(samples)
	if !ok {
		return id
	}

	var left, right []int
	for _, s := range samples {
		if b.cols[best.feature][s] <= best.threshold {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}
	b.importance[best.feature] += best.gain

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.nodes[id].feature = best.feature
	b.nodes[id].threshold = best.threshold
	b.nodes[id].left = l
	b.nodes[id].right = r
	return id
}

func (b *treeBuilder) mean(samples []int) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += b.y[s]
	}
	return sum / float64(len(samples))
}

func (b *treeBuilder) pure(samples []int) bool {
	first := b.y[samples[0]]
	for _, s := range samples[1:] {
		if b.y[s] != first {
			return false
		}
	}
	return true
}

func (b *treeBuilder) candidates() []int {
	n := len(b.cols)
	if b.params.maxFeatures <= 0 || b.params.maxFeatures >= n {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return all
	}
	return b.rng.Perm(n)[:b.params.maxFeatures]
}

// bestSplit scans every candidate feature for the threshold with the largest
// squared-error reduction. The reduction of a split into L and R equals
// nL*nR/n * (meanL-meanR)^2, which avoids subtracting large sums of squares.
func (b *treeBuilder) bestSplit(samples []int) (split, bool) {
	n := len(samples)
	minLeaf := b.params.minSamplesLeaf
	sorted := make([]int, n)

	var total float64
	for _, s := range samples {
		total += b.y[s]
	}

	best := split{gain: 0}
	found := false
	for _, f := range b.candidates() {
		col := b.cols[f]
		copy(sorted, samples)
		sort.Slice(sorted, func(i, j int) bool { return col[sorted[i]] < col[sorted[j]] })

		var leftSum float64
		for k := 0; k < n-1; k++ {
			leftSum += b.y[sorted[k]]
			nl := k + 1
			nr := n - nl
			lo, hi := col[sorted[k]], col[sorted[k+1]]
			if lo == hi || nl < minLeaf || nr < minLeaf {
				continue
			}
			diff := leftSum/float64(nl) - (total-leftSum)/float64(nr)
			gain := float64(nl) * float64(nr) / float64(n) * diff * diff
			if gain > best.gain {
				threshold := lo + (hi-lo)/2
				if threshold >= hi {
					threshold = lo
				}
				best = split{feature: f, threshold: threshold, gain: gain}
				found = true
			}
		}
	}
	return best, found
}
