package astro

import "math"

// Vector3 is a direction or point on the unit celestial sphere.
type Vector3 struct {
	X, Y, Z float64
}

func (v Vector3) Dot(o Vector3) float64 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

func (v Vector3) Cross(o Vector3) Vector3 {
	return Vector3{
		X: v.Y*o.Z - v.Z*o.Y,
		Y: v.Z*o.X - v.X*o.Z,
		Z: v.X*o.Y - v.Y*o.X,
	}
}

func (v Vector3) Norm() float64 {
	return math.Sqrt(v.Dot(v))
}

func (v Vector3) Normalize() Vector3 {
	n := v.Norm()
	if n == 0 {
		return Vector3{}
	}
	return Vector3{v.X / n, v.Y / n, v.Z / n}
}

func (v Vector3) Add(o Vector3) Vector3 {
	return Vector3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

func (v Vector3) Sub(o Vector3) Vector3 {
	return Vector3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

func (v Vector3) Scale(s float64) Vector3 {
	return Vector3{v.X * s, v.Y * s, v.Z * s}
}

// UnitFromRaDec converts catalog RA/Dec in degrees to a unit vector in the
// equatorial frame (x toward RA=0, z toward the north celestial pole).
func UnitFromRaDec(raDeg, decDeg float64) Vector3 {
	ra := raDeg * math.Pi / 180
	dec := decDeg * math.Pi / 180
	cd := math.Cos(dec)
	return Vector3{
		X: cd * math.Cos(ra),
		Y: cd * math.Sin(ra),
		Z: math.Sin(dec),
	}
}

// RaDecFromUnit converts a unit vector back to RA/Dec in degrees,
// RA normalized to [0, 360).
func RaDecFromUnit(v Vector3) (raDeg, decDeg float64) {
	ra := math.Atan2(v.Y, v.X) * 180 / math.Pi
	if ra < 0 {
		ra += 360
	}
	dec := math.Asin(clamp(v.Z, -1, 1)) * 180 / math.Pi
	return ra, dec
}

// AngularSep returns the angle between two unit vectors in radians. The
// atan2 form stays accurate for both tiny and near-antipodal separations,
// unlike the bare arccosine of the dot product.
func AngularSep(a, b Vector3) float64 {
	return math.Atan2(a.Cross(b).Norm(), a.Dot(b))
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// Matrix3 is a row-major 3x3 rotation matrix.
type Matrix3 [3][3]float64

func (m Matrix3) MulVec(v Vector3) Vector3 {
	return Vector3{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

func (m Matrix3) Transpose() Matrix3 {
	var t Matrix3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			t[i][j] = m[j][i]
		}
	}
	return t
}

func (m Matrix3) Mul(o Matrix3) Matrix3 {
	var p Matrix3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				p[i][j] += m[i][k] * o[k][j]
			}
		}
	}
	return p
}

// Row returns row i as a vector.
func (m Matrix3) Row(i int) Vector3 {
	return Vector3{m[i][0], m[i][1], m[i][2]}
}
