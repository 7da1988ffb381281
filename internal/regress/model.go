package regress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime"

	"shelflife/internal/config"
	"shelflife/internal/logging"
	"shelflife/internal/scaler"
)

// Kind identifies a regressor implementation.
type Kind string

const (
	KindGradientBoosted Kind = config.ModelGradientBoosted
	KindRandomForest    Kind = config.ModelRandomForest
	KindRidge           Kind = config.ModelRidge
	KindKNN             Kind = config.ModelKNN
)

// Kinds lists every regressor in training order.
func Kinds() []Kind {
	return []Kind{KindGradientBoosted, KindRandomForest, KindRidge, KindKNN}
}

// Set is a feature matrix with one target per row.
type Set struct {
	X [][]float64
	Y []float64
}

// Len returns the number of rows.
func (s Set) Len() int { return len(s.Y) }

func (s Set) validate(name string) (int, error) {
	if len(s.X) == 0 {
		return 0, fmt.Errorf("%s set is empty", name)
	}
	if len(s.X) != len(s.Y) {
		return 0, fmt.Errorf("%s set has %d rows but %d targets", name, len(s.X), len(s.Y))
	}
	dims := len(s.X[0])
	if dims == 0 {
		return 0, fmt.Errorf("%s set has zero-length rows", name)
	}
	for i, row := range s.X {
		if len(row) != dims {
			return 0, fmt.Errorf("%s row %d: %w", name, i, &scaler.DimensionMismatchError{Component: "regressor input", Expected: dims, Got: len(row)})
		}
	}
	return dims, nil
}

// Model is a fitted regressor.
type Model interface {
	Kind() Kind
	Predict(x []float64) (float64, error)
	Dimensions() int
}

// Regressor is a model that can be fit. Fit never modifies train or valid;
// only the gradient-boosted model uses valid.
type Regressor interface {
	Model
	Fit(ctx context.Context, train, valid Set) error
}

// BoostingParams configures GradientBoosted.
type BoostingParams struct {
	Rounds              int     `json:"rounds"`
	LearningRate        float64 `json:"learning_rate"`
	MaxDepth            int     `json:"max_depth"`
	Subsample           float64 `json:"subsample"`
	ColsampleByTree     float64 `json:"colsample_bytree"`
	Lambda              float64 `json:"lambda"`
	MinChildWeight      float64 `json:"min_child_weight"`
	EarlyStoppingRounds int     `json:"early_stopping_rounds"`
	MaxBins             int     `json:"max_bins"`
	LogEvery            int     `json:"-"`
}

// ForestParams configures RandomForest.
type ForestParams struct {
	Trees    int `json:"trees"`
	MaxDepth int `json:"max_depth"`
	MaxBins  int `json:"max_bins"`
}

// Params carries the hyperparameters for every kind plus the shared seed.
type Params struct {
	Seed      uint64
	Boosting  BoostingParams
	Forest    ForestParams
	Alpha     float64
	Neighbors int
	// Workers bounds tree-building parallelism. Zero means GOMAXPROCS.
	Workers int
	Logger  *slog.Logger
}

// ParamsFromConfig maps configuration sections onto Params.
func ParamsFromConfig(cfg *config.Config, logger *slog.Logger) Params {
	return Params{
		Seed: cfg.Training.Seed,
		Boosting: BoostingParams{
			Rounds:              cfg.Boosting.Rounds,
			LearningRate:        cfg.Boosting.LearningRate,
			MaxDepth:            cfg.Boosting.MaxDepth,
			Subsample:           cfg.Boosting.Subsample,
			ColsampleByTree:     cfg.Boosting.ColsampleByTree,
			Lambda:              cfg.Boosting.Lambda,
			MinChildWeight:      cfg.Boosting.MinChildWeight,
			EarlyStoppingRounds: cfg.Boosting.EarlyStoppingRounds,
			MaxBins:             cfg.Boosting.MaxBins,
			LogEvery:            cfg.Boosting.LogEvery,
		},
		Forest: ForestParams{
			Trees:    cfg.Forest.Trees,
			MaxDepth: cfg.Forest.MaxDepth,
			MaxBins:  cfg.Forest.MaxBins,
		},
		Alpha:     cfg.Ridge.Alpha,
		Neighbors: cfg.KNN.Neighbors,
		Logger:    logger,
	}
}

func (p Params) workers() int {
	if p.Workers > 0 {
		return p.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// New returns an unfitted regressor of the given kind.
func New(kind Kind, p Params) (Regressor, error) {
	logger := logging.NewComponentLogger(p.Logger, "regress")
	switch kind {
	case KindGradientBoosted:
		return newGradientBoosted(p, logger), nil
	case KindRandomForest:
		return newRandomForest(p, logger), nil
	case KindRidge:
		return &Ridge{state: ridgeState{Alpha: p.Alpha}}, nil
	case KindKNN:
		return &KNearest{state: knnState{K: p.Neighbors}}, nil
	default:
		return nil, fmt.Errorf("unknown regressor kind %q", kind)
	}
}

// Decode reconstructs a fitted model from the JSON produced by marshaling it.
func Decode(kind Kind, payload []byte) (Model, error) {
	var (
		m   Model
		err error
	)
	switch kind {
	case KindGradientBoosted:
		m, err = decodeGradientBoosted(payload)
	case KindRandomForest:
		m, err = decodeRandomForest(payload)
	case KindRidge:
		m, err = decodeRidge(payload)
	case KindKNN:
		m, err = decodeKNearest(payload)
	default:
		return nil, fmt.Errorf("unknown regressor kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return m, nil
}

// Marshal encodes a fitted model's parameters.
func Marshal(m Model) ([]byte, error) {
	if m.Dimensions() == 0 {
		return nil, errors.New("model is not fitted")
	}
	return json.Marshal(m)
}

// PredictAll predicts every row of X.
func PredictAll(m Model, X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i, row := range X {
		v, err := m.Predict(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func checkInput(kind Kind, dims int, x []float64) error {
	if dims == 0 {
		return fmt.Errorf("%s model is not fitted", kind)
	}
	if len(x) != dims {
		return &scaler.DimensionMismatchError{Component: string(kind), Expected: dims, Got: len(x)}
	}
	return nil
}

// newRand derives an independent generator for one stream of the seed.
func newRand(seed, stream uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, stream))
}
