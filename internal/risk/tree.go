package risk

import (
	"math/rand"
	"slices"
)

// node is either a split (left when x[feature] <= threshold) or a leaf
// holding the fraction of Rejected samples that reached it.
type node struct {
	leaf      bool
	prob      float64
	feature   int
	threshold float64
	left      *node
	right     *node
}

func (n *node) predict(x []float64) float64 {
	for !n.leaf {
		if x[n.feature] <= n.threshold {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n.prob
}

type treeBuilder struct {
	x               [][]float64
	y               []int
	maxDepth        int
	minSamplesSplit int
	maxFeatures     int
	rng             *rand.Rand
}

// build grows a CART tree on the sample indices idx, which may repeat when
// they come from a bootstrap draw.
func (b *treeBuilder) build(idx []int, depth int) *node {
	n := len(idx)
	positives := 0
	for _, i := range idx {
		positives += b.y[i]
	}
	leaf := &node{leaf: true, prob: float64(positives) / float64(n)}

	if positives == 0 || positives == n || n < b.minSamplesSplit {
		return leaf
	}
	if b.maxDepth > 0 && depth >= b.maxDepth {
		return leaf
	}

	s, ok := b.bestSplit(idx, positives)
	if !ok {
		return leaf
	}

	left := make([]int, 0, s.leftCount)
	right := make([]int, 0, n-s.leftCount)
	for _, i := range idx {
		if b.x[i][s.feature] <= s.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	return &node{
		feature:   s.feature,
		threshold: s.threshold,
		left:      b.build(left, depth+1),
		right:     b.build(right, depth+1),
	}
}

type split struct {
	feature   int
	threshold float64
	impurity  float64
	leftCount int
}

// bestSplit draws features in random order and evaluates them until
// maxFeatures non-constant ones have been tried; constant features do not
// count towards the budget.
func (b *treeBuilder) bestSplit(idx []int, positives int) (split, bool) {
	nFeatures := len(b.x[idx[0]])
	best := split{impurity: 2}
	found := false
	tried := 0

	sorted := make([]int, len(idx))
	for _, f := range b.rng.Perm(nFeatures) {
		if tried >= b.maxFeatures {
			break
		}

		copy(sorted, idx)
		slices.SortFunc(sorted, func(i, j int) int {
			switch {
			case b.x[i][f] < b.x[j][f]:
				return -1
			case b.x[i][f] > b.x[j][f]:
				return 1
			}
			return 0
		})

		if b.x[sorted[0]][f] == b.x[sorted[len(sorted)-1]][f] {
			continue
		}
		tried++

		n := len(sorted)
		leftPos := 0
		for k := 0; k < n-1; k++ {
			leftPos += b.y[sorted[k]]
			cur, nxt := b.x[sorted[k]][f], b.x[sorted[k+1]][f]
			if cur == nxt {
				continue
			}
			leftN := k + 1
			impurity := weightedGini(leftPos, leftN, positives-leftPos, n-leftN)
			if impurity < best.impurity {
				threshold := cur/2 + nxt/2
				if threshold == nxt {
					threshold = cur
				}
				best = split{feature: f, threshold: threshold, impurity: impurity, leftCount: leftN}
				found = true
			}
		}
	}

	return best, found
}

func weightedGini(leftPos, leftN, rightPos, rightN int) float64 {
	total := float64(leftN + rightN)
	return float64(leftN)/total*gini(leftPos, leftN) + float64(rightN)/total*gini(rightPos, rightN)
}

func gini(pos, n int) float64 {
	if n == 0 {
		return 0
	}
	p := float64(pos) / float64(n)
	return 2 * p * (1 - p)
}
