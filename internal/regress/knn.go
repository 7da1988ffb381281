package regress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// KNearest predicts the mean target of the k closest training rows by
// Euclidean distance. Equal distances resolve to the lower row index.
type KNearest struct {
	state knnState
}

type knnState struct {
	K int         `json:"k"`
	X [][]float64 `json:"x"`
	Y []float64   `json:"y"`
}

func (m *KNearest) Kind() Kind { return KindKNN }

func (m *KNearest) Dimensions() int {
	if len(m.state.X) == 0 {
		return 0
	}
	return len(m.state.X[0])
}

// Neighbors returns the effective k, clamped to the training size.
func (m *KNearest) Neighbors() int { return min(m.state.K, len(m.state.Y)) }

func (m *KNearest) MarshalJSON() ([]byte, error) { return json.Marshal(m.state) }

func (m *KNearest) Fit(_ context.Context, train, _ Set) error {
	if _, err := train.validate("train"); err != nil {
		return err
	}
	if m.state.K <= 0 {
		return fmt.Errorf("knn neighbors must be positive, got %d", m.state.K)
	}
	x := make([][]float64, len(train.X))
	for i, row := range train.X {
		x[i] = slices.Clone(row)
	}
	m.state.X = x
	m.state.Y = slices.Clone(train.Y)
	return nil
}

type neighbor struct {
	index int
	dist  float64
}

func (m *KNearest) Predict(x []float64) (float64, error) {
	if err := checkInput(KindKNN, m.Dimensions(), x); err != nil {
		return 0, err
	}
	all := make([]neighbor, len(m.state.X))
	for i, row := range m.state.X {
		all[i] = neighbor{index: i, dist: floats.Distance(row, x, 2)}
	}
	slices.SortStableFunc(all, func(a, b neighbor) int {
		switch {
		case a.dist < b.dist:
			return -1
		case a.dist > b.dist:
			return 1
		default:
			return 0
		}
	})
	k := m.Neighbors()
	var sum float64
	for _, nb := range all[:k] {
		sum += m.state.Y[nb.index]
	}
	return sum / float64(k), nil
}

func decodeKNearest(payload []byte) (*KNearest, error) {
	var st knnState
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil, err
	}
	if len(st.X) == 0 || len(st.X) != len(st.Y) {
		return nil, errors.New("training rows and targets are inconsistent")
	}
	if st.K <= 0 {
		return nil, errors.New("neighbors must be positive")
	}
	dims := len(st.X[0])
	for i, row := range st.X {
		if len(row) != dims {
			return nil, fmt.Errorf("row %d has %d features, want %d", i, len(row), dims)
		}
	}
	return &KNearest{state: st}, nil
}
