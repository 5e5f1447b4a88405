package pattern

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"sync"

	"skysolve/internal/astro"
	"skysolve/internal/catalog"
)

// ErrInsufficientDensity reports a sky region that cannot form a full
// pattern inside the requested field-of-view range. The build is not
// retried; the operator must widen the FOV range or raise the magnitude
// limit.
var ErrInsufficientDensity = errors.New("pattern: insufficient catalog density for requested FOV range")

// BuildOptions configures the offline index build.
type BuildOptions struct {
	MaxFovDeg          float64
	MinFovDeg          float64
	MaxMagnitude       float64
	PatternStarsPerFov int
	VerifyStarsPerFov  int
	RatioBins          int
	// MaxNeighbors caps the per-anchor combination search at each scale.
	MaxNeighbors int
	// Workers bounds the parallel anchor enumeration; 0 means GOMAXPROCS.
	Workers int
}

// DefaultBuildOptions mirrors the parameters the stock smartphone database
// is generated with.
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{
		MaxFovDeg:          85,
		MinFovDeg:          10,
		MaxMagnitude:       7.0,
		PatternStarsPerFov: 10,
		VerifyStarsPerFov:  20,
		RatioBins:          DefaultRatioBins,
		MaxNeighbors:       10,
	}
}

func (o *BuildOptions) validate() error {
	if o.MinFovDeg <= 0 || o.MaxFovDeg <= o.MinFovDeg {
		return fmt.Errorf("pattern: invalid FOV range [%g, %g]", o.MinFovDeg, o.MaxFovDeg)
	}
	if o.PatternStarsPerFov < PatternSize {
		return fmt.Errorf("pattern: patternStarsPerFov %d below pattern size %d", o.PatternStarsPerFov, PatternSize)
	}
	if o.VerifyStarsPerFov < o.PatternStarsPerFov {
		return fmt.Errorf("pattern: verifyStarsPerFov %d below patternStarsPerFov %d", o.VerifyStarsPerFov, o.PatternStarsPerFov)
	}
	if o.RatioBins <= 0 {
		o.RatioBins = DefaultRatioBins
	}
	if o.MaxNeighbors < PatternSize-1 {
		o.MaxNeighbors = 10
	}
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	return nil
}

// Build compiles a star catalog into a pattern index. The result is
// deterministic for identical input and options: star order, pattern order
// and bucket contents never depend on map iteration or goroutine timing.
func Build(stars []catalog.Star, opts BuildOptions, log *slog.Logger) (*Index, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	filtered := catalog.FilterMagnitude(stars, opts.MaxMagnitude)
	catalog.SortBrightestFirst(filtered)
	if len(filtered) < PatternSize {
		return nil, fmt.Errorf("%w: %d stars at magnitude %.1f", ErrInsufficientDensity, len(filtered), opts.MaxMagnitude)
	}
	log.Info("catalog filtered", "stars", len(filtered), "max_magnitude", opts.MaxMagnitude)

	minFovRad := opts.MinFovDeg * math.Pi / 180
	maxFovRad := opts.MaxFovDeg * math.Pi / 180

	verifyStars := thinStars(filtered, opts.VerifyStarsPerFov, minFovRad/2)
	log.Info("verification set selected", "stars", len(verifyStars))

	var patterns []Pattern
	seen := make(map[[PatternSize]int32]struct{})
	var patternStars []int32
	patternStarSeen := make(map[int32]struct{})

	coarsest := true
	for fov := maxFovRad; fov >= minFovRad-1e-12; fov /= math.Sqrt2 {
		scaleStars := thinStars(filtered, opts.PatternStarsPerFov, fov/2)
		for _, si := range scaleStars {
			if _, ok := patternStarSeen[si]; !ok {
				patternStarSeen[si] = struct{}{}
				patternStars = append(patternStars, si)
			}
		}

		scalePatterns, err := enumerateScale(filtered, scaleStars, fov, minFovRad, maxFovRad, opts, coarsest)
		if err != nil {
			return nil, err
		}
		added := 0
		for _, p := range scalePatterns {
			if _, ok := seen[p.Stars]; ok {
				continue
			}
			seen[p.Stars] = struct{}{}
			patterns = append(patterns, p)
			added++
		}
		log.Info("scale enumerated",
			"fov_deg", fov*180/math.Pi,
			"pattern_stars", len(scaleStars),
			"patterns_added", added,
		)
		coarsest = false
	}

	sort.Slice(patterns, func(i, j int) bool {
		return lessTuple(patterns[i].Stars, patterns[j].Stars)
	})
	sort.Slice(patternStars, func(i, j int) bool { return patternStars[i] < patternStars[j] })

	log.Info("index built", "patterns", len(patterns), "pattern_stars", len(patternStars), "verify_stars", len(verifyStars))
	return NewIndex(Params{
		PatternSize:        PatternSize,
		MaxFovDeg:          opts.MaxFovDeg,
		MinFovDeg:          opts.MinFovDeg,
		MaxMagnitude:       opts.MaxMagnitude,
		PatternStarsPerFov: opts.PatternStarsPerFov,
		VerifyStarsPerFov:  opts.VerifyStarsPerFov,
		RatioBins:          opts.RatioBins,
	}, filtered, patternStars, verifyStars, patterns), nil
}

// thinStars keeps at most perFov stars per cap of the given radius,
// brightest first. Stars must already be sorted brightest first.
func thinStars(stars []catalog.Star, perFov int, radiusRad float64) []int32 {
	grid := newSkyGrid(36)
	var kept []int32
	for i := range stars {
		dir := stars[i].Direction
		count := 0
		for _, kj := range grid.search(dir, radiusRad) {
			if astro.AngularSep(dir, stars[kj].Direction) <= radiusRad {
				count++
				if count >= perFov {
					break
				}
			}
		}
		if count < perFov {
			grid.insert(dir, int32(i))
			kept = append(kept, int32(i))
		}
	}
	return kept
}

// enumerateScale generates candidate patterns for one FOV scale. Anchors
// are processed in parallel; each worker writes into its own slot so the
// merged output order is independent of scheduling.
func enumerateScale(stars []catalog.Star, scaleStars []int32, fovRad, minFovRad, maxFovRad float64, opts BuildOptions, checkDensity bool) ([]Pattern, error) {
	grid := newSkyGrid(36)
	for _, si := range scaleStars {
		grid.insert(stars[si].Direction, si)
	}

	perAnchor := make([][]Pattern, len(scaleStars))
	sparse := make([]bool, len(scaleStars))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ai := range jobs {
				perAnchor[ai], sparse[ai] = enumerateAnchor(stars, grid, scaleStars[ai], fovRad, minFovRad, maxFovRad, opts.MaxNeighbors)
			}
		}()
	}
	for ai := range scaleStars {
		jobs <- ai
	}
	close(jobs)
	wg.Wait()

	if checkDensity {
		for ai, s := range sparse {
			if s {
				star := stars[scaleStars[ai]]
				return nil, fmt.Errorf("%w: HIP %d has too few neighbors within %.1f deg",
					ErrInsufficientDensity, star.HIP, fovRad*180/math.Pi)
			}
		}
	}

	var out []Pattern
	for _, ps := range perAnchor {
		out = append(out, ps...)
	}
	return out, nil
}

// enumerateAnchor builds all patterns whose lowest star index is the
// anchor, drawn from the anchor's nearest neighbors at this scale.
func enumerateAnchor(stars []catalog.Star, grid *skyGrid, anchor int32, fovRad, minFovRad, maxFovRad float64, maxNeighbors int) ([]Pattern, bool) {
	aDir := stars[anchor].Direction

	type neighbor struct {
		idx int32
		sep float64
	}
	var all, after []neighbor
	for _, si := range grid.search(aDir, fovRad) {
		if si == anchor {
			continue
		}
		sep := astro.AngularSep(aDir, stars[si].Direction)
		if sep > fovRad {
			continue
		}
		all = append(all, neighbor{si, sep})
		if si > anchor {
			after = append(after, neighbor{si, sep})
		}
	}
	sparse := len(all) < PatternSize-1

	sort.Slice(after, func(i, j int) bool {
		if after[i].sep != after[j].sep {
			return after[i].sep < after[j].sep
		}
		return after[i].idx < after[j].idx
	})
	if len(after) > maxNeighbors {
		after = after[:maxNeighbors]
	}
	if len(after) < PatternSize-1 {
		return nil, sparse
	}

	var out []Pattern
	n := len(after)
	for i := 0; i < n-2; i++ {
		for j := i + 1; j < n-1; j++ {
			for k := j + 1; k < n; k++ {
				tuple := [PatternSize]int32{anchor, after[i].idx, after[j].idx, after[k].idx}
				var dirs [PatternSize]astro.Vector3
				for d, si := range tuple {
					dirs[d] = stars[si].Direction
				}
				_, diameter := ComputeFeature(dirs)
				if diameter < minFovRad || diameter > maxFovRad {
					continue
				}
				sortTuple(&tuple)
				out = append(out, Pattern{Stars: tuple})
			}
		}
	}
	return out, sparse
}

func sortTuple(t *[PatternSize]int32) {
	s := t[:]
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
}

func lessTuple(a, b [PatternSize]int32) bool {
	for i := 0; i < PatternSize; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
