package astro

import (
	"errors"

	"gonum.org/v1/gonum/mat"
)

// ErrDegenerateFit reports that the attitude solution is not determined by
// the supplied vector pairs (too few pairs or a rank-deficient geometry).
var ErrDegenerateFit = errors.New("astro: degenerate attitude fit")

// FitRotation solves Wahba's problem: the rotation R minimizing
// sum |obs_i - R*ref_i|^2 over unit vector pairs, via the SVD of the
// attitude profile matrix (Kabsch). obs are camera-frame directions,
// ref the matching equatorial-frame directions.
func FitRotation(obs, ref []Vector3) (Matrix3, error) {
	if len(obs) < 2 || len(obs) != len(ref) {
		return Matrix3{}, ErrDegenerateFit
	}

	b := mat.NewDense(3, 3, nil)
	for i := range obs {
		o := [3]float64{obs[i].X, obs[i].Y, obs[i].Z}
		r := [3]float64{ref[i].X, ref[i].Y, ref[i].Z}
		for row := 0; row < 3; row++ {
			for col := 0; col < 3; col++ {
				b.Set(row, col, b.At(row, col)+o[row]*r[col])
			}
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(b, mat.SVDFull); !ok {
		return Matrix3{}, ErrDegenerateFit
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// Flip the smallest singular direction if needed to stay in SO(3).
	d := mat.Det(&u) * mat.Det(&v)
	sign := mat.NewDiagDense(3, []float64{1, 1, d})

	var uv, r mat.Dense
	uv.Mul(&u, sign)
	r.Mul(&uv, v.T())

	var out Matrix3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = r.At(i, j)
		}
	}
	return out, nil
}

// MeanResidual returns the mean angular distance in radians between each
// observed direction and the rotated reference direction.
func MeanResidual(att Matrix3, obs, ref []Vector3) float64 {
	if len(obs) == 0 {
		return 0
	}
	var sum float64
	for i := range obs {
		sum += AngularSep(obs[i], att.MulVec(ref[i]))
	}
	return sum / float64(len(obs))
}
