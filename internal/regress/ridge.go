package regress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Ridge is L2-penalized least squares with an unpenalized intercept.
type Ridge struct {
	state ridgeState
}

type ridgeState struct {
	Alpha     float64   `json:"alpha"`
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
}

func (m *Ridge) Kind() Kind      { return KindRidge }
func (m *Ridge) Dimensions() int { return len(m.state.Coef) }

// Coefficients returns a copy of the fitted weights.
func (m *Ridge) Coefficients() []float64 { return append([]float64(nil), m.state.Coef...) }

func (m *Ridge) Intercept() float64 { return m.state.Intercept }

func (m *Ridge) Predict(x []float64) (float64, error) {
	if err := checkInput(KindRidge, len(m.state.Coef), x); err != nil {
		return 0, err
	}
	return floats.Dot(m.state.Coef, x) + m.state.Intercept, nil
}

func (m *Ridge) MarshalJSON() ([]byte, error) { return json.Marshal(m.state) }

// Fit centers the data and solves the normal equations with a Cholesky
// factorization. With more features than rows it solves the dual system
// (XXᵀ + αI)c = y and recovers w = Xᵀc.
func (m *Ridge) Fit(ctx context.Context, train, _ Set) error {
	dims, err := train.validate("train")
	if err != nil {
		return err
	}
	if m.state.Alpha < 0 {
		return fmt.Errorf("ridge alpha must be non-negative, got %g", m.state.Alpha)
	}
	n := train.Len()

	xMean := make([]float64, dims)
	for _, row := range train.X {
		floats.Add(xMean, row)
	}
	floats.Scale(1/float64(n), xMean)
	yMean := floats.Sum(train.Y) / float64(n)

	xc := mat.NewDense(n, dims, nil)
	yc := mat.NewVecDense(n, nil)
	for i, row := range train.X {
		for j, v := range row {
			xc.Set(i, j, v-xMean[j])
		}
		yc.SetVec(i, train.Y[i]-yMean)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var coef mat.VecDense
	if n >= dims {
		var gram mat.SymDense
		gram.SymOuterK(1, xc.T())
		var rhs mat.VecDense
		rhs.MulVec(xc.T(), yc)
		if err := solveShifted(&gram, m.state.Alpha, &rhs, &coef); err != nil {
			return err
		}
	} else {
		var kernel mat.SymDense
		kernel.SymOuterK(1, xc)
		var dual mat.VecDense
		if err := solveShifted(&kernel, m.state.Alpha, yc, &dual); err != nil {
			return err
		}
		coef.MulVec(xc.T(), &dual)
	}

	m.state.Coef = make([]float64, dims)
	for j := range dims {
		m.state.Coef[j] = coef.AtVec(j)
	}
	m.state.Intercept = yMean - floats.Dot(xMean, m.state.Coef)
	return nil
}

// solveShifted solves (a + alpha*I) x = b in place of a.
func solveShifted(a *mat.SymDense, alpha float64, b mat.Vector, dst *mat.VecDense) error {
	size := a.SymmetricDim()
	for i := range size {
		a.SetSym(i, i, a.At(i, i)+alpha)
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(a); !ok {
		return errors.New("ridge system is not positive definite; increase ridge alpha")
	}
	if err := chol.SolveVecTo(dst, b); err != nil {
		return fmt.Errorf("ridge solve: %w", err)
	}
	return nil
}

func decodeRidge(payload []byte) (*Ridge, error) {
	var st ridgeState
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil, err
	}
	if len(st.Coef) == 0 {
		return nil, errors.New("missing coefficients")
	}
	return &Ridge{state: st}, nil
}
