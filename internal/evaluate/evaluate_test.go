package evaluate_test

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"shelflife/internal/dataset"
	"shelflife/internal/evaluate"
	"shelflife/internal/logging"
)

type lookupModel struct{}

// Predict returns the first feature, so predictions equal X[i][0].
func (lookupModel) Predict(x []float64) (float64, error) {
	if len(x) == 0 {
		return 0, errors.New("empty input")
	}
	return x[0], nil
}

func TestEvaluatePerfectFit(t *testing.T) {
	X := [][]float64{{1}, {2}, {3}, {4}}
	y := []float64{1, 2, 3, 4}
	report, err := evaluate.Evaluate(lookupModel{}, X, y)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if report.MAE != 0 || report.RMSE != 0 || report.R2 != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(report.Predictions) != 4 {
		t.Fatalf("expected 4 predictions, got %d", len(report.Predictions))
	}
}

func TestEvaluateKnownErrors(t *testing.T) {
	X := [][]float64{{2}, {2}, {6}, {6}}
	y := []float64{1, 3, 5, 7}
	report, err := evaluate.Evaluate(lookupModel{}, X, y)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	// Every prediction is off by exactly 1; y has variance 5.
	if report.MAE != 1 || report.RMSE != 1 {
		t.Fatalf("unexpected MAE/RMSE: %+v", report)
	}
	if math.Abs(report.R2-0.8) > 1e-12 {
		t.Fatalf("expected R2 0.8, got %v", report.R2)
	}
}

func TestMetricsConstantTargets(t *testing.T) {
	tests := []struct {
		name string
		pred []float64
		want float64
	}{
		{name: "exact", pred: []float64{4, 4}, want: 1},
		{name: "off", pred: []float64{4, 5}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, r2 := evaluate.Metrics(tt.pred, []float64{4, 4})
			if r2 != tt.want {
				t.Fatalf("R2 = %v, want %v", r2, tt.want)
			}
		})
	}
}

func TestEvaluateValidatesInput(t *testing.T) {
	if _, err := evaluate.Evaluate(lookupModel{}, [][]float64{{1}}, []float64{1, 2}); err == nil {
		t.Fatal("expected length mismatch error")
	}
	if _, err := evaluate.Evaluate(lookupModel{}, nil, nil); err == nil {
		t.Fatal("expected error for empty input")
	}
	if _, err := evaluate.Evaluate(lookupModel{}, [][]float64{{}}, []float64{1}); err == nil {
		t.Fatal("expected model error to propagate")
	}
}

type mapScorer map[string]float64

func (m mapScorer) PredictPath(_ context.Context, path string) (float64, error) {
	v, ok := m[path]
	if !ok {
		return 0, errors.New("unknown path")
	}
	return v, nil
}

func qualitativeFixture() ([]dataset.Sample, []float64, mapScorer) {
	samples := []dataset.Sample{
		{Path: "a.jpg", Label: 3, Folder: "Apple (1-5)"},
		{Path: "b.jpg", Label: 3, Folder: "Apple (1-5)"},
		{Path: "c.jpg", Label: 4.5, Folder: "Banana (2-7)"},
		{Path: "d.jpg", Label: 4.5, Folder: "Banana (2-7)"},
	}
	batch := []float64{2.9, 3.2, 4.4, 4.8}
	scorer := mapScorer{"a.jpg": 2.9, "b.jpg": 3.2, "c.jpg": 4.4, "d.jpg": 4.8}
	return samples, batch, scorer
}

func TestQualitativeMatchesBatch(t *testing.T) {
	samples, batch, scorer := qualitativeFixture()
	got, err := evaluate.Qualitative(context.Background(), scorer, samples, batch, 3, 11)
	if err != nil {
		t.Fatalf("Qualitative: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(got))
	}
	if evaluate.Diverged(got) {
		t.Fatalf("unexpected divergence: %+v", got)
	}
	want := dataset.Choose(samples, 3, 11)
	for i, sp := range got {
		if sp.Path != want[i].Path || sp.Truth != want[i].Label {
			t.Fatalf("sample %d = %+v, want %s", i, sp, want[i].Path)
		}
	}
}

func TestQualitativeFlagsDivergence(t *testing.T) {
	samples, batch, scorer := qualitativeFixture()
	scorer["c.jpg"] = 9

	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "info", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}
	got, err := evaluate.Qualitative(context.Background(), scorer, samples, batch, 10, 1, evaluate.WithLogger(logger))
	if err != nil {
		t.Fatalf("Qualitative: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected n clamped to 4, got %d", len(got))
	}
	flagged := 0
	for _, sp := range got {
		if sp.Diverged {
			flagged++
			if sp.Path != "c.jpg" {
				t.Fatalf("unexpected flagged sample %s", sp.Path)
			}
		}
	}
	if flagged != 1 {
		t.Fatalf("expected one flagged sample, got %d", flagged)
	}
	if !strings.Contains(buf.String(), "prediction_divergence") {
		t.Fatalf("expected divergence log, got %q", buf.String())
	}
}

func TestQualitativeToleranceOption(t *testing.T) {
	samples, batch, scorer := qualitativeFixture()
	scorer["a.jpg"] = 2.95
	got, err := evaluate.Qualitative(context.Background(), scorer, samples, batch, 4, 1, evaluate.WithTolerance(0.1))
	if err != nil {
		t.Fatalf("Qualitative: %v", err)
	}
	if evaluate.Diverged(got) {
		t.Fatalf("0.05 gap should be within tolerance: %+v", got)
	}
}

func TestQualitativeScoringFailure(t *testing.T) {
	samples, batch, _ := qualitativeFixture()
	_, err := evaluate.Qualitative(context.Background(), mapScorer{}, samples, batch, 2, 1)
	if err == nil {
		t.Fatal("expected scorer error")
	}
	if _, err := evaluate.Qualitative(context.Background(), mapScorer{}, samples, batch[:1], 2, 1); err == nil {
		t.Fatal("expected alignment error")
	}
}
