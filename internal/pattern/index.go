package pattern

import (
	"skysolve/internal/astro"
	"skysolve/internal/catalog"
)

// Params records the generation parameters an index was built with. A
// solver must check its field-of-view request against MinFovDeg/MaxFovDeg
// before using the index.
type Params struct {
	PatternSize        int     `json:"pattern_size"`
	MaxFovDeg          float64 `json:"max_fov_deg"`
	MinFovDeg          float64 `json:"min_fov_deg"`
	MaxMagnitude       float64 `json:"max_magnitude"`
	PatternStarsPerFov int     `json:"pattern_stars_per_fov"`
	VerifyStarsPerFov  int     `json:"verify_stars_per_fov"`
	RatioBins          int     `json:"ratio_bins"`
}

// Pattern references four stars by index into Index.Stars, ascending.
type Pattern struct {
	Stars [PatternSize]int32
}

// Index is the searchable pattern database. It is immutable after
// construction: concurrent lookups from any number of solver goroutines
// are safe without locking.
type Index struct {
	Params       Params
	Stars        []catalog.Star
	PatternStars []int32 // indices of stars used for pattern generation
	VerifyStars  []int32 // denser set used to confirm tentative matches
	Patterns     []Pattern

	buckets    map[uint64][]int32
	verifyGrid *skyGrid
}

// NewIndex assembles an index from its persisted parts, recomputing the
// feature buckets and the verification-star grid. Patterns must already be
// in canonical (sorted tuple) order.
func NewIndex(params Params, stars []catalog.Star, patternStars, verifyStars []int32, patterns []Pattern) *Index {
	ix := &Index{
		Params:       params,
		Stars:        stars,
		PatternStars: patternStars,
		VerifyStars:  verifyStars,
		Patterns:     patterns,
	}
	if ix.Params.RatioBins <= 0 {
		ix.Params.RatioBins = DefaultRatioBins
	}

	ix.buckets = make(map[uint64][]int32, len(patterns))
	for i, p := range patterns {
		f, _ := ComputeFeature(ix.PatternDirs(p))
		key := f.Bucket(ix.Params.RatioBins)
		ix.buckets[key] = append(ix.buckets[key], int32(i))
	}

	ix.verifyGrid = newSkyGrid(36)
	for _, si := range verifyStars {
		ix.verifyGrid.insert(stars[si].Direction, si)
	}
	return ix
}

// PatternDirs returns the unit directions of a pattern's stars.
func (ix *Index) PatternDirs(p Pattern) [PatternSize]astro.Vector3 {
	var dirs [PatternSize]astro.Vector3
	for i, si := range p.Stars {
		dirs[i] = ix.Stars[si].Direction
	}
	return dirs
}

// Query returns the indices of all patterns whose feature lies within tol
// of f in every ratio dimension. An empty result is the normal outcome for
// an unmatchable feature, not an error.
func (ix *Index) Query(f Feature, tol float64) []int32 {
	var out []int32
	for _, key := range bucketRange(f, tol, ix.Params.RatioBins) {
		for _, pi := range ix.buckets[key] {
			if ix.featureWithin(int(pi), f, tol) {
				out = append(out, pi)
			}
		}
	}
	return out
}

func (ix *Index) featureWithin(pi int, f Feature, tol float64) bool {
	pf, _ := ComputeFeature(ix.PatternDirs(ix.Patterns[pi]))
	for d := 0; d < NumRatios; d++ {
		diff := pf[d] - f[d]
		if diff < -tol || diff > tol {
			return false
		}
	}
	return true
}

// NearbyStars returns the verification-set star indices within radiusRad
// of dir, exact-checked against the spherical separation.
func (ix *Index) NearbyStars(dir astro.Vector3, radiusRad float64) []int32 {
	var out []int32
	for _, si := range ix.verifyGrid.search(dir, radiusRad) {
		if astro.AngularSep(dir, ix.Stars[si].Direction) <= radiusRad {
			out = append(out, si)
		}
	}
	return out
}
