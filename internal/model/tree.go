package model

import (
	"math"
	"math/rand/v2"
	"sort"
)

// Node is one node of a regression tree. Leaves have Feature == -1.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Value     float64 `json:"v"`
}

// Tree is a CART regression tree stored as a flat node slice; Nodes[0] is the root.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// TreeParams bounds tree growth. MaxDepth 0 means unlimited.
type TreeParams struct {
	MaxDepth int
	MinLeaf  int
}

// Predict walks x down to a leaf.
func (t *Tree) Predict(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Feature < 0 {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

type treeBuilder struct {
	X      [][]float64
	y      []float64
	params TreeParams
	nodes  []Node
	rng    *rand.Rand
}

// fitTree grows a tree over the samples in idx (duplicates allowed, for bootstrap).
func fitTree(X [][]float64, y []float64, idx []int, params TreeParams, rng *rand.Rand) *Tree {
	if params.MinLeaf < 1 {
		params.MinLeaf = 1
	}
	b := &treeBuilder{X: X, y: y, params: params, rng: rng}
	b.grow(idx, 0)
	return &Tree{Nodes: b.nodes}
}

// grow appends the subtree for idx and returns its root index.
func (b *treeBuilder) grow(idx []int, depth int) int {
	self := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: -1, Value: b.mean(idx)})

	if len(idx) < 2*b.params.MinLeaf {
		return self
	}
	if b.params.MaxDepth > 0 && depth >= b.params.MaxDepth {
		return self
	}

	feature, threshold, ok := b.bestSplit(idx)
	if !ok {
		return self
	}

	var left, right []int
	for _, i := range idx {
		if b.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[self] = Node{Feature: feature, Threshold: threshold, Left: l, Right: r, Value: b.nodes[self].Value}
	return self
}

func (b *treeBuilder) mean(idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	var s float64
	for _, i := range idx {
		s += b.y[i]
	}
	return s / float64(len(idx))
}

// bestSplit finds the split with the largest reduction in squared error.
// Features are visited in a random order so ties do not always favor the
// lowest column.
func (b *treeBuilder) bestSplit(idx []int) (feature int, threshold float64, ok bool) {
	n := len(idx)
	var total, totalSq float64
	for _, i := range idx {
		total += b.y[i]
		totalSq += b.y[i] * b.y[i]
	}
	parentSSE := totalSq - total*total/float64(n)
	if parentSSE <= 1e-12 {
		return 0, 0, false
	}

	best := parentSSE
	sorted := make([]int, n)
	numFeatures := len(b.X[idx[0]])

	for _, f := range b.rng.Perm(numFeatures) {
		copy(sorted, idx)
		sort.Slice(sorted, func(a, c int) bool { return b.X[sorted[a]][f] < b.X[sorted[c]][f] })

		var leftSum, leftSq float64
		for k := 0; k < n-1; k++ {
			yi := b.y[sorted[k]]
			leftSum += yi
			leftSq += yi * yi

			nl := k + 1
			nr := n - nl
			if nl < b.params.MinLeaf || nr < b.params.MinLeaf {
				continue
			}
			cur, next := b.X[sorted[k]][f], b.X[sorted[k+1]][f]
			if cur == next {
				continue
			}

			rightSum := total - leftSum
			rightSq := totalSq - leftSq
			sse := (leftSq - leftSum*leftSum/float64(nl)) + (rightSq - rightSum*rightSum/float64(nr))
			if sse < best-1e-12 {
				best = sse
				feature = f
				threshold = cur + (next-cur)/2
				ok = true
			}
		}
	}
	if ok && math.IsNaN(threshold) {
		return 0, 0, false
	}
	return feature, threshold, ok
}
