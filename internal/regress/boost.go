package regress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"

	"shelflife/internal/logging"
)

// Round records the RMSE after one boosting round.
type Round struct {
	Iteration int     `json:"iteration"`
	Train     float64 `json:"train_rmse"`
	Valid     float64 `json:"valid_rmse,omitempty"`
}

// GradientBoosted is a second-order boosted tree ensemble for squared error
// using histogram split search, row subsampling, per-tree column sampling,
// and early stopping on validation RMSE.
type GradientBoosted struct {
	params  Params
	logger  *slog.Logger
	state   boostState
	history []Round
}

type boostState struct {
	Dims          int            `json:"dimensions"`
	BaseScore     float64        `json:"base_score"`
	BestIteration int            `json:"best_iteration"`
	Params        BoostingParams `json:"params"`
	Trees         []Tree         `json:"trees"`
}

func newGradientBoosted(p Params, logger *slog.Logger) *GradientBoosted {
	return &GradientBoosted{params: p, logger: logger, state: boostState{Params: p.Boosting}}
}

func (m *GradientBoosted) Kind() Kind      { return KindGradientBoosted }
func (m *GradientBoosted) Dimensions() int { return m.state.Dims }

// BestIteration is the zero-based round whose ensemble was kept.
func (m *GradientBoosted) BestIteration() int { return m.state.BestIteration }

// Trees returns the number of trees in the kept ensemble.
func (m *GradientBoosted) Trees() int { return len(m.state.Trees) }

// History returns per-round RMSE from the last Fit, including rounds
// discarded by early stopping.
func (m *GradientBoosted) History() []Round { return slices.Clone(m.history) }

func (m *GradientBoosted) Predict(x []float64) (float64, error) {
	if err := checkInput(KindGradientBoosted, m.state.Dims, x); err != nil {
		return 0, err
	}
	return m.predict(x), nil
}

func (m *GradientBoosted) predict(x []float64) float64 {
	out := m.state.BaseScore
	for _, t := range m.state.Trees {
		out += t.predict(x)
	}
	return out
}

func (m *GradientBoosted) MarshalJSON() ([]byte, error) { return json.Marshal(m.state) }

func (m *GradientBoosted) Fit(ctx context.Context, train, valid Set) error {
	dims, err := train.validate("train")
	if err != nil {
		return err
	}
	hasValid := valid.Len() > 0
	if hasValid {
		vd, err := valid.validate("validation")
		if err != nil {
			return err
		}
		if vd != dims {
			return fmt.Errorf("validation set has %d features, train has %d", vd, dims)
		}
	}
	p := m.params.Boosting
	if p.Rounds <= 0 {
		return errors.New("boosting rounds must be positive")
	}

	data := newBinnedMatrix(train.X, p.MaxBins)
	n := train.Len()
	base := floats.Sum(train.Y) / float64(n)
	predTrain := filled(n, base)
	predValid := filled(valid.Len(), base)

	grad := make([]float64, n)
	hess := make([]float64, n)
	builder := &treeBuilder{
		data: data,
		grad: grad,
		hess: hess,
		cfg: growConfig{
			maxDepth:       p.MaxDepth,
			lambda:         p.Lambda,
			minChildWeight: p.MinChildWeight,
			minGain:        1e-6,
			eta:            p.LearningRate,
			workers:        m.params.workers(),
		},
	}

	rng := newRand(m.params.Seed, 0)
	nCols := max(1, int(math.Round(p.ColsampleByTree*float64(dims))))
	nCols = min(nCols, dims)

	trees := make([]Tree, 0, p.Rounds)
	history := make([]Round, 0, p.Rounds)
	best, bestScore := -1, math.Inf(1)
	rows := make([]int, 0, n)

	for round := 0; round < p.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		rows = rows[:0]
		for i := range n {
			if p.Subsample >= 1 || rng.Float64() < p.Subsample {
				rows = append(rows, i)
			}
		}
		for _, i := range rows {
			grad[i] = predTrain[i] - train.Y[i]
			hess[i] = 1
		}
		builder.features = sampleFeatures(rng.Perm(dims), nCols)

		tree, err := builder.build(ctx, rows)
		if err != nil {
			return err
		}
		trees = append(trees, tree)
		for i, x := range train.X {
			predTrain[i] += tree.predict(x)
		}

		rec := Round{Iteration: round, Train: rmse(predTrain, train.Y)}
		stop := false
		if hasValid {
			for i, x := range valid.X {
				predValid[i] += tree.predict(x)
			}
			rec.Valid = rmse(predValid, valid.Y)
			if rec.Valid < bestScore {
				best, bestScore = round, rec.Valid
			} else if p.EarlyStoppingRounds > 0 && round-best >= p.EarlyStoppingRounds {
				stop = true
			}
		} else {
			best = round
		}
		history = append(history, rec)

		if p.LogEvery > 0 && (round%p.LogEvery == 0 || round == p.Rounds-1 || stop) {
			attrs := []logging.Attr{
				logging.Int("round", round),
				logging.Float64("train_rmse", rec.Train),
			}
			if hasValid {
				attrs = append(attrs, logging.Float64("valid_rmse", rec.Valid))
			}
			m.logger.Info("boosting progress", logging.Args(attrs...)...)
		}
		if stop {
			m.logger.Info("early stopping",
				logging.Int("round", round),
				logging.Int("best_iteration", best),
				logging.Float64("best_valid_rmse", bestScore),
			)
			break
		}
	}

	m.history = history
	m.state = boostState{
		Dims:          dims,
		BaseScore:     base,
		BestIteration: best,
		Params:        p,
		Trees:         trees[:best+1],
	}
	return nil
}

func decodeGradientBoosted(payload []byte) (*GradientBoosted, error) {
	var st boostState
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil, err
	}
	if st.Dims <= 0 {
		return nil, errors.New("missing dimensions")
	}
	if err := validateTrees(st.Trees, st.Dims); err != nil {
		return nil, err
	}
	return &GradientBoosted{state: st, logger: logging.NewNop()}, nil
}

func sampleFeatures(perm []int, n int) []int {
	out := slices.Clone(perm[:n])
	slices.Sort(out)
	return out
}

func filled(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func rmse(pred, y []float64) float64 {
	if len(y) == 0 {
		return 0
	}
	var sum float64
	for i, v := range y {
		d := pred[i] - v
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(y)))
}
