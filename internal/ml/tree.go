package ml

import "sort"

type treeNode struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Value     float64 `json:"v"`
	Leaf      bool    `json:"leaf"`
}

// regressionTree is a depth-limited least-squares tree stored as a flat node slice.
type regressionTree struct {
	Nodes []treeNode `json:"nodes"`
}

type treeBuilder struct {
	X        [][]float64
	y        []float64
	maxDepth int
	minLeaf  int
	nodes    []treeNode
}

func fitTree(X [][]float64, y []float64, idx []int, maxDepth, minLeaf int) regressionTree {
	if minLeaf < 1 {
		minLeaf = 1
	}
	b := &treeBuilder{X: X, y: y, maxDepth: maxDepth, minLeaf: minLeaf}
	b.build(idx, 0)
	return regressionTree{Nodes: b.nodes}
}

func (b *treeBuilder) build(idx []int, depth int) int {
	id := len(b.nodes)
	b.nodes = append(b.nodes, treeNode{Leaf: true, Value: b.mean(idx)})

	if depth >= b.maxDepth || len(idx) < 2*b.minLeaf {
		return id
	}
	feature, threshold, ok := b.bestSplit(idx)
	if !ok {
		return id
	}

	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		if b.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.nodes[id] = treeNode{Feature: feature, Threshold: threshold, Left: l, Right: r}
	return id
}

// bestSplit scans every feature for the split maximising squared-error reduction. Ties
// keep the first candidate found so the tree is deterministic for a given sample order.
func (b *treeBuilder) bestSplit(idx []int) (int, float64, bool) {
	n := len(idx)
	total := 0.0
	for _, i := range idx {
		total += b.y[i]
	}
	parent := total * total / float64(n)

	bestGain := 1e-12
	bestFeature, bestThreshold, found := 0, 0.0, false
	sorted := make([]int, n)

	for f := range b.X[idx[0]] {
		copy(sorted, idx)
		sort.SliceStable(sorted, func(a, c int) bool { return b.X[sorted[a]][f] < b.X[sorted[c]][f] })

		left := 0.0
		for k := 1; k < n; k++ {
			left += b.y[sorted[k-1]]
			if k < b.minLeaf || n-k < b.minLeaf {
				continue
			}
			lo, hi := b.X[sorted[k-1]][f], b.X[sorted[k]][f]
			if lo == hi {
				continue
			}
			right := total - left
			gain := left*left/float64(k) + right*right/float64(n-k) - parent
			if gain > bestGain {
				bestGain = gain
				bestFeature = f
				bestThreshold = (lo + hi) / 2
				found = true
			}
		}
	}
	return bestFeature, bestThreshold, found
}

func (b *treeBuilder) mean(idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	sum := 0.0
	for _, i := range idx {
		sum += b.y[i]
	}
	return sum / float64(len(idx))
}

func (t regressionTree) predict(x []float64) float64 {
	if len(t.Nodes) == 0 {
		return 0
	}
	n := t.Nodes[0]
	for !n.Leaf {
		if x[n.Feature] <= n.Threshold {
			n = t.Nodes[n.Left]
		} else {
			n = t.Nodes[n.Right]
		}
	}
	return n.Value
}
