package astro

import (
	"math"
	"math/rand"
	"testing"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestRaDecRoundTrip(t *testing.T) {
	cases := []struct{ ra, dec float64 }{
		{0, 0},
		{180, 45},
		{359.5, -89},
		{90, 89.9},
		{271.25, -12.5},
	}
	for _, c := range cases {
		ra, dec := RaDecFromUnit(UnitFromRaDec(c.ra, c.dec))
		if !almostEqual(ra, c.ra, 1e-9) || !almostEqual(dec, c.dec, 1e-9) {
			t.Fatalf("round trip (%.4f, %.4f) gave (%.4f, %.4f)", c.ra, c.dec, ra, dec)
		}
	}
}

func TestAngularSep(t *testing.T) {
	a := UnitFromRaDec(0, 0)
	b := UnitFromRaDec(90, 0)
	if sep := AngularSep(a, b); !almostEqual(sep, math.Pi/2, 1e-12) {
		t.Fatalf("expected 90 deg separation, got %v rad", sep)
	}
	// Tiny separations must not collapse to zero.
	c := UnitFromRaDec(0, 1e-5)
	if sep := AngularSep(a, c); sep <= 0 || !almostEqual(sep, 1e-5*math.Pi/180, 1e-12) {
		t.Fatalf("tiny separation lost precision: %v", sep)
	}
}

func TestAttitudeMatrixRoundTrip(t *testing.T) {
	cases := []struct{ ra, dec, roll float64 }{
		{0, 0, 0},
		{180, 10, 40},
		{320.5, -65, 270},
		{42, 88, 123.4},
	}
	for _, c := range cases {
		m := AttitudeMatrix(c.ra, c.dec, c.roll)
		ra, dec, roll := MatrixToAttitude(m)
		if !almostEqual(ra, c.ra, 1e-6) || !almostEqual(dec, c.dec, 1e-6) || !almostEqual(roll, c.roll, 1e-6) {
			t.Fatalf("attitude (%.2f, %.2f, %.2f) round-tripped to (%.6f, %.6f, %.6f)",
				c.ra, c.dec, c.roll, ra, dec, roll)
		}
	}
}

func TestAttitudeRollZeroStaysInRange(t *testing.T) {
	// A zero roll can come back from atan2 as a tiny negative angle; the
	// wrap must fold it to 0, never report 360.
	for _, c := range []struct{ ra, dec float64 }{
		{180, 0}, {180, -5}, {90, 0}, {359.9, 45}, {0.1, -45},
	} {
		m := AttitudeMatrix(c.ra, c.dec, 0)
		_, _, roll := MatrixToAttitude(m)
		if roll < 0 || roll >= 360 {
			t.Fatalf("roll %v for boresight (%v, %v) outside [0, 360)", roll, c.ra, c.dec)
		}
		if !almostEqual(roll, 0, 1e-6) {
			t.Fatalf("roll %v for boresight (%v, %v), want 0", roll, c.ra, c.dec)
		}
	}
}

func TestAttitudeMatrixIsRotation(t *testing.T) {
	m := AttitudeMatrix(123, -34, 56)
	p := m.Mul(m.Transpose())
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			if !almostEqual(p[i][j], want, 1e-12) {
				t.Fatalf("M*M^T not identity at (%d,%d): %v", i, j, p[i][j])
			}
		}
	}
}

func TestPixelUnitRoundTrip(t *testing.T) {
	fov := 70 * math.Pi / 180
	w, h := 800.0, 600.0
	for _, px := range []struct{ x, y float64 }{{400, 300}, {0, 0}, {799, 599}, {123.4, 456.7}} {
		v := PixelToUnit(px.x, px.y, w, h, fov)
		x, y, ok := UnitToPixel(v, w, h, fov)
		if !ok || !almostEqual(x, px.x, 1e-9) || !almostEqual(y, px.y, 1e-9) {
			t.Fatalf("pixel (%v, %v) round-tripped to (%v, %v, %v)", px.x, px.y, x, y, ok)
		}
	}
}

func TestProjectStarNorthUp(t *testing.T) {
	// Roll zero points celestial north toward the top of the frame: a star
	// slightly north of the boresight lands above center (smaller y).
	att := AttitudeMatrix(180, 20, 0)
	_, py, ok := ProjectStar(att, UnitFromRaDec(180, 25), 800, 600, 70*math.Pi/180)
	if !ok {
		t.Fatal("star near boresight not projectable")
	}
	if py >= 300 {
		t.Fatalf("northern star projected below center: y=%v", py)
	}
}

func TestFitRotationRecoversAttitude(t *testing.T) {
	want := AttitudeMatrix(215, 33, 78)
	rng := rand.New(rand.NewSource(7))

	var obs, ref []Vector3
	for i := 0; i < 12; i++ {
		v := Vector3{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()}.Normalize()
		ref = append(ref, v)
		obs = append(obs, want.MulVec(v))
	}

	got, err := FitRotation(obs, ref)
	if err != nil {
		t.Fatalf("FitRotation: %v", err)
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if !almostEqual(got[i][j], want[i][j], 1e-9) {
				t.Fatalf("rotation mismatch at (%d,%d): got %v want %v", i, j, got[i][j], want[i][j])
			}
		}
	}
	if res := MeanResidual(got, obs, ref); res > 1e-9 {
		t.Fatalf("residual too large for exact data: %v", res)
	}
}

func TestFitRotationDegenerate(t *testing.T) {
	if _, err := FitRotation([]Vector3{{1, 0, 0}}, []Vector3{{0, 1, 0}}); err == nil {
		t.Fatal("expected error for a single vector pair")
	}
}
