package regress

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// RandomForest averages bootstrap-trained regression trees grown on all
// features with squared-error splits.
type RandomForest struct {
	params Params
	logger *slog.Logger
	state  forestState
}

type forestState struct {
	Dims   int          `json:"dimensions"`
	Params ForestParams `json:"params"`
	Trees  []Tree       `json:"trees"`
}

func newRandomForest(p Params, logger *slog.Logger) *RandomForest {
	return &RandomForest{params: p, logger: logger, state: forestState{Params: p.Forest}}
}

func (m *RandomForest) Kind() Kind      { return KindRandomForest }
func (m *RandomForest) Dimensions() int { return m.state.Dims }

func (m *RandomForest) Predict(x []float64) (float64, error) {
	if err := checkInput(KindRandomForest, m.state.Dims, x); err != nil {
		return 0, err
	}
	var sum float64
	for _, t := range m.state.Trees {
		sum += t.predict(x)
	}
	return sum / float64(len(m.state.Trees)), nil
}

func (m *RandomForest) MarshalJSON() ([]byte, error) { return json.Marshal(m.state) }

// Fit grows each tree on its own bootstrap sample. Tree t draws from
// stream t+1 of the seed, so results do not depend on scheduling.
func (m *RandomForest) Fit(ctx context.Context, train, _ Set) error {
	dims, err := train.validate("train")
	if err != nil {
		return err
	}
	p := m.params.Forest
	if p.Trees <= 0 {
		return errors.New("forest trees must be positive")
	}
	data := newBinnedMatrix(train.X, p.MaxBins)
	features := make([]int, dims)
	for i := range features {
		features[i] = i
	}

	n := train.Len()
	trees := make([]Tree, p.Trees)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.params.workers())
	for t := range p.Trees {
		g.Go(func() error {
			rng := newRand(m.params.Seed, uint64(t)+1)
			weight := make([]float64, n)
			for range n {
				weight[rng.IntN(n)]++
			}
			grad := make([]float64, n)
			rows := make([]int, 0, n)
			for i, w := range weight {
				if w == 0 {
					continue
				}
				grad[i] = -train.Y[i] * w
				rows = append(rows, i)
			}
			builder := &treeBuilder{
				data:     data,
				features: features,
				grad:     grad,
				hess:     weight,
				cfg: growConfig{
					maxDepth:       p.MaxDepth,
					minChildWeight: 1,
					minGain:        1e-9,
					eta:            1,
					workers:        1,
				},
			}
			tree, err := builder.build(gctx, rows)
			if err != nil {
				return err
			}
			trees[t] = tree
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	m.logger.Debug("random forest fitted", "trees", len(trees), "max_depth", p.MaxDepth)
	m.state = forestState{Dims: dims, Params: p, Trees: trees}
	return nil
}

func decodeRandomForest(payload []byte) (*RandomForest, error) {
	var st forestState
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil, err
	}
	if st.Dims <= 0 {
		return nil, errors.New("missing dimensions")
	}
	if len(st.Trees) == 0 {
		return nil, errors.New("forest has no trees")
	}
	if err := validateTrees(st.Trees, st.Dims); err != nil {
		return nil, err
	}
	return &RandomForest{state: st}, nil
}
