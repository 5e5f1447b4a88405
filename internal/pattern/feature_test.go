package pattern

import (
	"math"
	"testing"

	"skysolve/internal/astro"
)

func quadDirs(raDec [PatternSize][2]float64) [PatternSize]astro.Vector3 {
	var dirs [PatternSize]astro.Vector3
	for i, rd := range raDec {
		dirs[i] = astro.UnitFromRaDec(rd[0], rd[1])
	}
	return dirs
}

func TestFeatureSortedAndScaleFree(t *testing.T) {
	dirs := quadDirs([PatternSize][2]float64{{10, 5}, {30, -8}, {55, 12}, {40, 30}})
	f, diam := ComputeFeature(dirs)

	if diam <= 0 {
		t.Fatalf("non-positive diameter: %v", diam)
	}
	for i := 0; i < NumRatios; i++ {
		if f[i] <= 0 || f[i] > 1 {
			t.Fatalf("ratio %d out of (0, 1]: %v", i, f[i])
		}
		if i > 0 && f[i] < f[i-1] {
			t.Fatalf("ratios not sorted: %v", f)
		}
	}
}

func TestFeatureOrderInvariant(t *testing.T) {
	base := [PatternSize][2]float64{{10, 5}, {30, -8}, {55, 12}, {40, 30}}
	want, wantDiam := ComputeFeature(quadDirs(base))

	perms := [][PatternSize]int{
		{1, 0, 2, 3}, {3, 2, 1, 0}, {2, 3, 0, 1}, {0, 3, 1, 2},
	}
	for _, p := range perms {
		var shuffled [PatternSize][2]float64
		for i, j := range p {
			shuffled[i] = base[j]
		}
		got, gotDiam := ComputeFeature(quadDirs(shuffled))
		if got != want || gotDiam != wantDiam {
			t.Fatalf("feature changed under permutation %v: %v vs %v", p, got, want)
		}
	}
}

func TestFeatureRotationInvariant(t *testing.T) {
	base := quadDirs([PatternSize][2]float64{{10, 5}, {30, -8}, {55, 12}, {40, 30}})
	want, wantDiam := ComputeFeature(base)

	rot := astro.AttitudeMatrix(123, -45, 67)
	var rotated [PatternSize]astro.Vector3
	for i, d := range base {
		rotated[i] = rot.MulVec(d)
	}
	got, gotDiam := ComputeFeature(rotated)
	for i := 0; i < NumRatios; i++ {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Fatalf("ratio %d changed under rotation: %v vs %v", i, got[i], want[i])
		}
	}
	if math.Abs(gotDiam-wantDiam) > 1e-12 {
		t.Fatalf("diameter changed under rotation: %v vs %v", gotDiam, wantDiam)
	}
}

func TestFeatureDegenerate(t *testing.T) {
	d := astro.UnitFromRaDec(10, 10)
	f, diam := ComputeFeature([PatternSize]astro.Vector3{d, d, d, d})
	if diam != 0 || f != (Feature{}) {
		t.Fatalf("coincident stars should produce a zero feature, got %v diam %v", f, diam)
	}
}

func TestBucketStableAndInRange(t *testing.T) {
	f := Feature{0.1, 0.3, 0.55, 0.72, 0.99}
	if f.Bucket(DefaultRatioBins) != f.Bucket(DefaultRatioBins) {
		t.Fatal("bucket key not stable")
	}
	// A ratio of exactly 1.0 must clamp into the last bin.
	edge := Feature{0.2, 0.4, 0.6, 0.8, 1.0}
	_ = edge.Bucket(DefaultRatioBins)
}

func TestBucketRangeCoversTolerance(t *testing.T) {
	f := Feature{0.101, 0.299, 0.501, 0.699, 0.901}
	tol := 0.015
	keys := bucketRange(f, tol, DefaultRatioBins)

	seen := make(map[uint64]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			t.Fatalf("duplicate key %d", k)
		}
		seen[k] = struct{}{}
	}

	// Any feature inside the tolerance box must hash into one of the keys.
	for _, delta := range []float64{-tol, -tol / 2, 0, tol / 2, tol} {
		var g Feature
		for i := 0; i < NumRatios; i++ {
			g[i] = f[i] + delta
		}
		if _, ok := seen[g.Bucket(DefaultRatioBins)]; !ok {
			t.Fatalf("perturbed feature %v not covered by bucket range", g)
		}
	}
}
