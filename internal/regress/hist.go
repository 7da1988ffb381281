package regress

import (
	"context"
	"slices"
	"sort"

	"golang.org/x/sync/errgroup"
)

// binnedMatrix stores a quantized, column-major copy of a training matrix.
// Row i of feature f falls in bin b when cuts[f][b-1] < x <= cuts[f][b].
type binnedMatrix struct {
	cuts [][]float64
	bins [][]uint8
}

func newBinnedMatrix(X [][]float64, maxBins int) *binnedMatrix {
	maxBins = min(max(maxBins, 2), 256)
	dims := len(X[0])
	m := &binnedMatrix{cuts: make([][]float64, dims), bins: make([][]uint8, dims)}
	col := make([]float64, len(X))
	for f := range dims {
		for i, row := range X {
			col[i] = row[f]
		}
		cuts := featureCuts(col, maxBins)
		idx := make([]uint8, len(col))
		for i, v := range col {
			idx[i] = uint8(sort.SearchFloat64s(cuts, v))
		}
		m.cuts[f] = cuts
		m.bins[f] = idx
	}
	return m
}

// featureCuts returns strictly increasing thresholds that split col into at
// most maxBins bins. Columns with few distinct values cut at midpoints;
// wider columns cut at quantiles.
func featureCuts(col []float64, maxBins int) []float64 {
	sorted := slices.Clone(col)
	slices.Sort(sorted)
	uniq := slices.Compact(slices.Clone(sorted))
	if len(uniq) < 2 {
		return nil
	}
	if len(uniq) <= maxBins {
		cuts := make([]float64, 0, len(uniq)-1)
		for i := 0; i < len(uniq)-1; i++ {
			mid := uniq[i] + (uniq[i+1]-uniq[i])/2
			if mid >= uniq[i+1] {
				mid = uniq[i]
			}
			cuts = append(cuts, mid)
		}
		return cuts
	}
	top := sorted[len(sorted)-1]
	cuts := make([]float64, 0, maxBins-1)
	for k := 1; k < maxBins; k++ {
		v := sorted[k*len(sorted)/maxBins]
		if v >= top {
			break
		}
		if len(cuts) > 0 && v <= cuts[len(cuts)-1] {
			continue
		}
		cuts = append(cuts, v)
	}
	return cuts
}

// growConfig controls one tree build. Gradient boosting uses the second
// order gain with lambda > 0; the forest passes weighted targets with
// lambda 0, which reduces the gain to the drop in weighted squared error.
type growConfig struct {
	maxDepth       int
	lambda         float64
	minChildWeight float64
	minGain        float64
	eta            float64
	workers        int
}

type treeBuilder struct {
	data     *binnedMatrix
	features []int
	grad     []float64
	hess     []float64
	cfg      growConfig
	nodes    []Node
}

type splitCandidate struct {
	feature int
	bin     int
	gain    float64
}

// minParallelWork is the rows*features product below which split search
// stays on the calling goroutine.
const minParallelWork = 1 << 15

func (b *treeBuilder) build(ctx context.Context, rows []int) (Tree, error) {
	b.nodes = b.nodes[:0]
	if len(rows) == 0 {
		return Tree{Nodes: []Node{{Feature: -1}}}, nil
	}
	if _, err := b.grow(ctx, rows, 0); err != nil {
		return Tree{}, err
	}
	return Tree{Nodes: slices.Clone(b.nodes)}, nil
}

func (b *treeBuilder) grow(ctx context.Context, rows []int, depth int) (int, error) {
	var g, h float64
	for _, r := range rows {
		g += b.grad[r]
		h += b.hess[r]
	}
	value := -g / (h + b.cfg.lambda) * b.cfg.eta
	idx := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: -1, Value: value})
	if depth >= b.cfg.maxDepth || len(rows) < 2 {
		return idx, nil
	}

	split, ok, err := b.bestSplit(ctx, rows, g, h)
	if err != nil || !ok {
		return idx, err
	}

	col := b.data.bins[split.feature]
	left := make([]int, 0, len(rows))
	right := make([]int, 0, len(rows))
	for _, r := range rows {
		if int(col[r]) <= split.bin {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	l, err := b.grow(ctx, left, depth+1)
	if err != nil {
		return idx, err
	}
	r, err := b.grow(ctx, right, depth+1)
	if err != nil {
		return idx, err
	}
	b.nodes[idx] = Node{
		Feature:   split.feature,
		Threshold: b.data.cuts[split.feature][split.bin],
		Left:      l,
		Right:     r,
		Value:     value,
	}
	return idx, nil
}

func (b *treeBuilder) bestSplit(ctx context.Context, rows []int, gSum, hSum float64) (splitCandidate, bool, error) {
	if err := ctx.Err(); err != nil {
		return splitCandidate{}, false, err
	}
	results := make([]splitCandidate, len(b.features))
	parent := gSum * gSum / (hSum + b.cfg.lambda)

	scan := func(from, to int) {
		var histG, histH [256]float64
		for k := from; k < to; k++ {
			results[k] = b.scanFeature(b.features[k], rows, gSum, hSum, parent, &histG, &histH)
		}
	}

	workers := b.cfg.workers
	if workers <= 1 || len(rows)*len(b.features) < minParallelWork {
		scan(0, len(b.features))
	} else {
		chunk := (len(b.features) + workers - 1) / workers
		var g errgroup.Group
		for from := 0; from < len(b.features); from += chunk {
			to := min(from+chunk, len(b.features))
			g.Go(func() error {
				scan(from, to)
				return nil
			})
		}
		_ = g.Wait()
	}

	best := splitCandidate{feature: -1, gain: b.cfg.minGain}
	for _, c := range results {
		if c.feature >= 0 && c.gain > best.gain {
			best = c
		}
	}
	return best, best.feature >= 0, nil
}

func (b *treeBuilder) scanFeature(f int, rows []int, gSum, hSum, parent float64, histG, histH *[256]float64) splitCandidate {
	best := splitCandidate{feature: -1}
	nBins := len(b.data.cuts[f]) + 1
	if nBins < 2 {
		return best
	}
	clear(histG[:nBins])
	clear(histH[:nBins])
	col := b.data.bins[f]
	for _, r := range rows {
		histG[col[r]] += b.grad[r]
		histH[col[r]] += b.hess[r]
	}
	lambda := b.cfg.lambda
	var gl, hl float64
	for bin := 0; bin < nBins-1; bin++ {
		gl += histG[bin]
		hl += histH[bin]
		gr, hr := gSum-gl, hSum-hl
		if hl < b.cfg.minChildWeight || hr < b.cfg.minChildWeight {
			continue
		}
		gain := gl*gl/(hl+lambda) + gr*gr/(hr+lambda) - parent
		if best.feature < 0 || gain > best.gain {
			best = splitCandidate{feature: f, bin: bin, gain: gain}
		}
	}
	return best
}
