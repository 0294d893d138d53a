package thermistor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// CalibrationPoint pairs a known temperature with the probe resistance measured at it.
type CalibrationPoint struct {
	Celsius float64 `yaml:"celsius"`
	Ohms    float64 `yaml:"ohms"`
}

// Fit solves the Steinhart-Hart coefficients through the given calibration points.
// Four points determine all of A, B, C and D. Three points determine A, B and D with
// C fixed at zero, the classic three-term form.
func Fit(points []CalibrationPoint) (SteinhartHart, error) {
	var exps []int
	switch len(points) {
	case 3:
		exps = []int{0, 1, 3}
	case 4:
		exps = []int{0, 1, 2, 3}
	default:
		return SteinhartHart{}, fmt.Errorf("%w: got %d", ErrCalibrationPoints, len(points))
	}

	n := len(points)
	a := mat.NewDense(n, n, nil)
	b := mat.NewVecDense(n, nil)
	for i, p := range points {
		if p.Ohms <= 0 {
			return SteinhartHart{}, fmt.Errorf("calibration point %d: %w: %g", i, ErrNonPositiveResistance, p.Ohms)
		}
		lnR := math.Log(p.Ohms)
		for j, e := range exps {
			a.Set(i, j, math.Pow(lnR, float64(e)))
		}
		b.SetVec(i, 1/(p.Celsius+KelvinOffset))
	}

	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		return SteinhartHart{}, fmt.Errorf("failed to solve coefficients: %w", err)
	}

	if n == 3 {
		return SteinhartHart{A: x.AtVec(0), B: x.AtVec(1), D: x.AtVec(2)}, nil
	}
	return SteinhartHart{A: x.AtVec(0), B: x.AtVec(1), C: x.AtVec(2), D: x.AtVec(3)}, nil
}
