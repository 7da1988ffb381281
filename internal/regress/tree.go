package regress

import (
	"errors"
	"fmt"
)

// Node is one entry of a flattened binary tree. Leaves have Feature -1.
// Internal nodes send x to Left when x[Feature] <= Threshold.
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Value     float64 `json:"value"`
}

// Tree is a regression tree stored as a flat node slice rooted at index 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t Tree) predict(x []float64) float64 {
	idx := 0
	for {
		n := t.Nodes[idx]
		if n.Feature < 0 {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			idx = n.Left
		} else {
			idx = n.Right
		}
	}
}

// Depth returns the number of edges on the longest root-to-leaf path.
func (t Tree) Depth() int {
	var walk func(idx int) int
	walk = func(idx int) int {
		n := t.Nodes[idx]
		if n.Feature < 0 {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	if len(t.Nodes) == 0 {
		return 0
	}
	return walk(0)
}

// validate ensures every child index points forward inside the slice, so
// predict always terminates on a decoded tree.
func (t Tree) validate(dims int) error {
	if len(t.Nodes) == 0 {
		return errors.New("tree has no nodes")
	}
	for i, n := range t.Nodes {
		if n.Feature < 0 {
			continue
		}
		if n.Feature >= dims {
			return fmt.Errorf("node %d splits on feature %d of %d", i, n.Feature, dims)
		}
		if n.Left <= i || n.Left >= len(t.Nodes) || n.Right <= i || n.Right >= len(t.Nodes) {
			return fmt.Errorf("node %d has invalid children %d/%d", i, n.Left, n.Right)
		}
	}
	return nil
}

func validateTrees(trees []Tree, dims int) error {
	for i, t := range trees {
		if err := t.validate(dims); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return nil
}
