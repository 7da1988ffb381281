// Package evaluate scores fitted regressors on held-out data and cross-checks
// batch predictions against the single-image inference chain.
package evaluate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"shelflife/internal/dataset"
	"shelflife/internal/logging"
)

// DefaultTolerance bounds the allowed gap between a batch prediction and the
// same sample scored through PredictPath.
const DefaultTolerance = 1e-6

// Predictor scores one feature vector.
type Predictor interface {
	Predict(x []float64) (float64, error)
}

// PathScorer scores an image file through the full extractor, scaler and
// model chain.
type PathScorer interface {
	PredictPath(ctx context.Context, path string) (float64, error)
}

// Report holds accuracy metrics for one model on one split.
type Report struct {
	MAE         float64   `json:"mae"`
	RMSE        float64   `json:"rmse"`
	R2          float64   `json:"r2"`
	Predictions []float64 `json:"predictions"`
}

// Evaluate predicts every row of X and compares the results with y.
func Evaluate(model Predictor, X [][]float64, y []float64) (Report, error) {
	if len(X) != len(y) {
		return Report{}, fmt.Errorf("evaluate: %d rows but %d targets", len(X), len(y))
	}
	if len(y) == 0 {
		return Report{}, errors.New("evaluate: no rows")
	}
	preds := make([]float64, len(X))
	for i, row := range X {
		p, err := model.Predict(row)
		if err != nil {
			return Report{}, fmt.Errorf("evaluate: row %d: %w", i, err)
		}
		preds[i] = p
	}
	mae, rmse, r2 := Metrics(preds, y)
	return Report{MAE: mae, RMSE: rmse, R2: r2, Predictions: preds}, nil
}

// Metrics computes MAE, RMSE and R² for aligned predictions and targets.
// When y has no variance R² is 1 for an exact fit and 0 otherwise.
func Metrics(pred, y []float64) (mae, rmse, r2 float64) {
	n := float64(len(y))
	var mean float64
	for _, v := range y {
		mean += v
	}
	mean /= n

	var absSum, ssRes, ssTot float64
	for i, v := range y {
		d := pred[i] - v
		absSum += math.Abs(d)
		ssRes += d * d
		t := v - mean
		ssTot += t * t
	}
	mae = absSum / n
	rmse = math.Sqrt(ssRes / n)
	switch {
	case ssTot > 0:
		r2 = 1 - ssRes/ssTot
	case ssRes == 0:
		r2 = 1
	}
	return mae, rmse, r2
}

// SamplePrediction compares one test sample's single-image prediction with
// its ground truth and its batch prediction.
type SamplePrediction struct {
	Path       string  `json:"path"`
	Folder     string  `json:"folder"`
	Truth      float64 `json:"truth"`
	Predicted  float64 `json:"predicted"`
	Batch      float64 `json:"batch"`
	Divergence float64 `json:"divergence"`
	Diverged   bool    `json:"diverged"`
}

type qualitativeOptions struct {
	tolerance float64
	logger    *slog.Logger
}

// Option adjusts Qualitative.
type Option func(*qualitativeOptions)

// WithTolerance overrides DefaultTolerance.
func WithTolerance(tol float64) Option {
	return func(o *qualitativeOptions) {
		if tol > 0 {
			o.tolerance = tol
		}
	}
}

// WithLogger sets the logger used to report divergences.
func WithLogger(logger *slog.Logger) Option {
	return func(o *qualitativeOptions) { o.logger = logger }
}

// Qualitative draws up to n samples with seed and scores each through
// scorer. batchPreds must align with samples. Divergent samples are flagged
// and logged; a scoring failure aborts the check.
func Qualitative(ctx context.Context, scorer PathScorer, samples []dataset.Sample, batchPreds []float64, n int, seed uint64, opts ...Option) ([]SamplePrediction, error) {
	if len(samples) != len(batchPreds) {
		return nil, fmt.Errorf("qualitative: %d samples but %d batch predictions", len(samples), len(batchPreds))
	}
	o := qualitativeOptions{tolerance: DefaultTolerance}
	for _, opt := range opts {
		opt(&o)
	}
	logger := logging.NewComponentLogger(o.logger, "evaluate")

	picked := dataset.ChooseIndices(len(samples), n, seed)
	out := make([]SamplePrediction, 0, len(picked))
	for _, idx := range picked {
		sample := samples[idx]
		pred, err := scorer.PredictPath(ctx, sample.Path)
		if err != nil {
			return nil, fmt.Errorf("qualitative: %s: %w", sample.Path, err)
		}
		sp := SamplePrediction{
			Path:       sample.Path,
			Folder:     sample.Folder,
			Truth:      sample.Label,
			Predicted:  pred,
			Batch:      batchPreds[idx],
			Divergence: math.Abs(pred - batchPreds[idx]),
		}
		if sp.Divergence > o.tolerance || math.IsNaN(sp.Divergence) {
			sp.Diverged = true
			logging.ErrorWithContext(logger, "single-image prediction diverges from batch prediction", "prediction_divergence",
				logging.String("path", sample.Path),
				logging.Float64("single", pred),
				logging.Float64("batch", batchPreds[idx]),
				logging.Float64("tolerance", o.tolerance),
				logging.String(logging.FieldErrorHint, "extractor, scaler or model state differs between training and inference"),
			)
		}
		out = append(out, sp)
	}
	return out, nil
}

// Diverged reports whether any sample was flagged.
func Diverged(samples []SamplePrediction) bool {
	for _, s := range samples {
		if s.Diverged {
			return true
		}
	}
	return false
}
