// Package scaler standardizes embedding vectors with statistics fit on the
// training split.
//
// A State can only come from Fit or from decoding a persisted state, and
// Transform is a method on it, so test and inference vectors can never be
// scaled without a state fit on training data.
package scaler

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"shelflife/internal/fileutil"
	"shelflife/internal/services"
)

// DimensionMismatchError reports a vector whose length disagrees with the
// dimensionality a scaler, model, or extractor was built for.
type DimensionMismatchError struct {
	Component string
	Expected  int
	Got       int
}

func (e *DimensionMismatchError) Error() string {
	component := e.Component
	if component == "" {
		component = "vector"
	}
	return fmt.Sprintf("%s dimension mismatch: expected %d, got %d", component, e.Expected, e.Got)
}

func (e *DimensionMismatchError) Is(target error) bool {
	return target == services.ErrDimensionMismatch
}

// State holds the per-dimension mean and standard deviation. It is immutable.
type State struct {
	mean []float64
	std  []float64
}

// Fit computes the mean and population standard deviation of every dimension
// across rows. Dimensions with zero variance get a standard deviation of 1 so
// they map to zero instead of dividing by zero.
func Fit(rows [][]float64) (*State, error) {
	if len(rows) == 0 {
		return nil, errors.New("scaler: fit requires at least one row")
	}
	dims := len(rows[0])
	if dims == 0 {
		return nil, errors.New("scaler: fit requires non-empty rows")
	}
	for i, row := range rows {
		if len(row) != dims {
			return nil, fmt.Errorf("scaler: row %d: %w", i, &DimensionMismatchError{Component: "scaler fit", Expected: dims, Got: len(row)})
		}
	}

	column := make([]float64, len(rows))
	state := &State{mean: make([]float64, dims), std: make([]float64, dims)}
	for d := range dims {
		for i, row := range rows {
			column[i] = row[d]
		}
		mean, std := stat.PopMeanStdDev(column, nil)
		if math.IsNaN(mean) || math.IsInf(mean, 0) || math.IsNaN(std) || math.IsInf(std, 0) {
			return nil, fmt.Errorf("scaler: dimension %d has non-finite statistics", d)
		}
		if std == 0 {
			std = 1
		}
		state.mean[d] = mean
		state.std[d] = std
	}
	return state, nil
}

// Dimensions returns the vector length the state was fit on.
func (s *State) Dimensions() int { return len(s.mean) }

// Mean returns a copy of the per-dimension means.
func (s *State) Mean() []float64 { return append([]float64(nil), s.mean...) }

// Std returns a copy of the per-dimension standard deviations.
func (s *State) Std() []float64 { return append([]float64(nil), s.std...) }

// Transform returns (v-mean)/std as a new slice.
func (s *State) Transform(v []float64) ([]float64, error) {
	if len(v) != len(s.mean) {
		return nil, &DimensionMismatchError{Component: "scaler", Expected: len(s.mean), Got: len(v)}
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = (x - s.mean[i]) / s.std[i]
	}
	return out, nil
}

// TransformAll transforms every row without modifying the input.
func (s *State) TransformAll(rows [][]float64) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		scaled, err := s.Transform(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = scaled
	}
	return out, nil
}

type stateJSON struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// MarshalJSON encodes the state. float64 values round-trip exactly.
func (s *State) MarshalJSON() ([]byte, error) {
	return json.Marshal(stateJSON{Mean: s.mean, Std: s.std})
}

// Decode reconstructs a state previously produced by MarshalJSON.
func Decode(data []byte) (*State, error) {
	var raw stateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode scaler: %w", err)
	}
	if len(raw.Mean) == 0 {
		return nil, errors.New("decode scaler: empty mean vector")
	}
	if len(raw.Mean) != len(raw.Std) {
		return nil, fmt.Errorf("decode scaler: %w", &DimensionMismatchError{Component: "scaler std", Expected: len(raw.Mean), Got: len(raw.Std)})
	}
	for i, v := range raw.Std {
		if !(v > 0) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("decode scaler: std[%d]=%v must be positive", i, v)
		}
	}
	return &State{mean: raw.Mean, std: raw.Std}, nil
}

// Digest fingerprints the state so a model artifact can name the exact
// scaler it was trained behind.
func (s *State) Digest() string {
	data, err := s.MarshalJSON()
	if err != nil {
		return ""
	}
	return fileutil.SHA256Hex(data)
}
