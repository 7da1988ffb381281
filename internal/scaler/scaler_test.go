package scaler_test

import (
	"errors"
	"math"
	"testing"

	"shelflife/internal/scaler"
	"shelflife/internal/services"
)

func TestFitComputesPopulationStatistics(t *testing.T) {
	rows := [][]float64{
		{1, 10, 5},
		{3, 10, 7},
		{5, 10, 9},
	}
	state, err := scaler.Fit(rows)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	wantMean := []float64{3, 10, 7}
	wantStd := []float64{math.Sqrt(8.0 / 3.0), 1, math.Sqrt(8.0 / 3.0)}
	for i := range wantMean {
		if math.Abs(state.Mean()[i]-wantMean[i]) > 1e-12 {
			t.Fatalf("mean[%d] = %v, want %v", i, state.Mean()[i], wantMean[i])
		}
		if math.Abs(state.Std()[i]-wantStd[i]) > 1e-12 {
			t.Fatalf("std[%d] = %v, want %v", i, state.Std()[i], wantStd[i])
		}
	}
}

func TestTransformedTrainingDataIsStandardized(t *testing.T) {
	rows := [][]float64{{2, -1}, {4, 0}, {9, 1}, {1, 8}}
	state, err := scaler.Fit(rows)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	scaled, err := state.TransformAll(rows)
	if err != nil {
		t.Fatalf("TransformAll: %v", err)
	}
	for d := 0; d < 2; d++ {
		var sum, sq float64
		for _, row := range scaled {
			sum += row[d]
			sq += row[d] * row[d]
		}
		mean := sum / float64(len(scaled))
		variance := sq/float64(len(scaled)) - mean*mean
		if math.Abs(mean) > 1e-12 || math.Abs(variance-1) > 1e-9 {
			t.Fatalf("dimension %d: mean %v variance %v", d, mean, variance)
		}
	}
	if rows[0][0] != 2 {
		t.Fatal("TransformAll mutated its input")
	}
}

func TestConstantDimensionMapsToZero(t *testing.T) {
	state, err := scaler.Fit([][]float64{{4, 1}, {4, 2}})
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	out, err := state.Transform([]float64{4, 1.5})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if out[0] != 0 || math.IsNaN(out[0]) {
		t.Fatalf("expected constant dimension to map to 0, got %v", out[0])
	}
}

func TestTransformRejectsShorterVector(t *testing.T) {
	state, err := scaler.Fit([][]float64{{1, 2, 3}, {2, 3, 4}})
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	_, err = state.Transform([]float64{1, 2})
	var mismatch *scaler.DimensionMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected DimensionMismatchError, got %v", err)
	}
	if mismatch.Expected != 3 || mismatch.Got != 2 {
		t.Fatalf("unexpected mismatch detail %+v", mismatch)
	}
	if !errors.Is(err, services.ErrDimensionMismatch) {
		t.Fatal("expected error to match services.ErrDimensionMismatch")
	}
}

func TestFitRejectsBadInput(t *testing.T) {
	if _, err := scaler.Fit(nil); err == nil {
		t.Fatal("expected error for empty input")
	}
	if _, err := scaler.Fit([][]float64{{1, 2}, {1}}); !errors.Is(err, services.ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch for ragged rows, got %v", err)
	}
	if _, err := scaler.Fit([][]float64{{math.NaN()}}); err == nil {
		t.Fatal("expected error for NaN input")
	}
}

func TestMarshalDecodeRoundTripIsExact(t *testing.T) {
	state, err := scaler.Fit([][]float64{{0.1, 1.0 / 3.0}, {0.7, 2.0 / 7.0}, {0.3, 1e-9}})
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	data, err := state.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	decoded, err := scaler.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	input := []float64{0.25, 0.5}
	a, _ := state.Transform(input)
	b, _ := decoded.Transform(input)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("round trip changed output %d: %v vs %v", i, a[i], b[i])
		}
	}
	if state.Digest() != decoded.Digest() {
		t.Fatal("digest changed across round trip")
	}
}

func TestDecodeRejectsInvalidState(t *testing.T) {
	cases := map[string]string{
		"malformed":  `{"mean":`,
		"empty":      `{"mean":[],"std":[]}`,
		"ragged":     `{"mean":[1,2],"std":[1]}`,
		"zero std":   `{"mean":[1],"std":[0]}`,
		"negative":   `{"mean":[1],"std":[-2]}`,
		"no std key": `{"mean":[1]}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := scaler.Decode([]byte(payload)); err == nil {
				t.Fatal("expected decode error")
			}
		})
	}
}
