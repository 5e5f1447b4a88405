// Package pattern implements the geometric-hashing core of the plate
// solver: rotation-invariant pattern features, the searchable pattern
// index, and the offline index generator.
package pattern

import (
	"sort"

	"skysolve/internal/astro"
)

const (
	// PatternSize is the number of stars per pattern. Four stars give six
	// pairwise separations and five scale-free edge ratios.
	PatternSize = 4

	// NumRatios is the dimensionality of the invariant feature.
	NumRatios = PatternSize*(PatternSize-1)/2 - 1

	// DefaultRatioBins quantizes each edge ratio into buckets 0.02 wide.
	DefaultRatioBins = 50
)

// Feature is the rotation- and scale-invariant fingerprint of a pattern:
// the pairwise angular separations divided by the largest separation,
// sorted ascending. Sorting makes the feature independent of the order in
// which the stars were supplied.
type Feature [NumRatios]float64

// ComputeFeature derives the invariant feature and the largest pairwise
// separation (the pattern's angular diameter, radians) from four unit
// vectors.
func ComputeFeature(dirs [PatternSize]astro.Vector3) (Feature, float64) {
	var edges [NumRatios + 1]float64
	n := 0
	for i := 0; i < PatternSize; i++ {
		for j := i + 1; j < PatternSize; j++ {
			edges[n] = astro.AngularSep(dirs[i], dirs[j])
			n++
		}
	}
	sort.Float64s(edges[:])
	largest := edges[NumRatios]

	var f Feature
	if largest == 0 {
		return f, 0
	}
	for i := 0; i < NumRatios; i++ {
		f[i] = edges[i] / largest
	}
	return f, largest
}

// ratioBin quantizes one ratio into [0, bins).
func ratioBin(r float64, bins int) int {
	b := int(r * float64(bins))
	if b < 0 {
		return 0
	}
	if b >= bins {
		return bins - 1
	}
	return b
}

// Bucket packs the quantized feature into a single hash key.
func (f Feature) Bucket(bins int) uint64 {
	var key uint64
	for i := NumRatios - 1; i >= 0; i-- {
		key = key*uint64(bins) + uint64(ratioBin(f[i], bins))
	}
	return key
}

// bucketRange returns all bucket keys whose quantization box overlaps the
// tolerance box around f. The per-dimension ranges are tiny (two or three
// bins for realistic tolerances), so the cartesian product stays small.
func bucketRange(f Feature, tol float64, bins int) []uint64 {
	var lo, hi [NumRatios]int
	for i := 0; i < NumRatios; i++ {
		lo[i] = ratioBin(f[i]-tol, bins)
		hi[i] = ratioBin(f[i]+tol, bins)
	}

	keys := []uint64{0}
	stride := uint64(1)
	for dim := 0; dim < NumRatios; dim++ {
		next := make([]uint64, 0, len(keys)*(hi[dim]-lo[dim]+1))
		for _, k := range keys {
			for b := lo[dim]; b <= hi[dim]; b++ {
				next = append(next, k+uint64(b)*stride)
			}
		}
		keys = next
		stride *= uint64(bins)
	}
	return keys
}
