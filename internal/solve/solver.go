package solve

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"skysolve/internal/astro"
	"skysolve/internal/db"
	"skysolve/internal/pattern"
)

// Options tunes a single solve attempt. The zero value is usable; missing
// fields fall back to the defaults below.
type Options struct {
	// FovEstimateDeg is the caller's guess at the horizontal field of view.
	FovEstimateDeg float64
	// FovMaxErrorDeg bounds how far the solved FOV may drift from the
	// estimate.
	FovMaxErrorDeg float64
	// PatternCheckingStars limits pattern formation to the N brightest
	// centroids.
	PatternCheckingStars int
	// RatioTolerance is the per-dimension feature match tolerance.
	RatioTolerance float64
	// MatchRadiusFrac sets the verification match radius as a fraction of
	// the image width.
	MatchRadiusFrac float64
	// MinVerified is the minimum number of confirmed stars for SUCCESS.
	MinVerified int
	// MinMatchFraction is the minimum confirmed share of the stars that
	// could have matched.
	MinMatchFraction float64
	// MaxCandidates caps the total candidate patterns examined before the
	// solver gives up with NO_MATCH.
	MaxCandidates int
}

// DefaultOptions matches the parameters used by the handheld capture app.
func DefaultOptions() Options {
	return Options{
		FovEstimateDeg:       70,
		FovMaxErrorDeg:       15,
		PatternCheckingStars: 8,
		RatioTolerance:       0.015,
		MatchRadiusFrac:      0.01,
		MinVerified:          5,
		MinMatchFraction:     0.25,
		MaxCandidates:        10000,
	}
}

func (o *Options) normalize() {
	def := DefaultOptions()
	if o.FovEstimateDeg <= 0 {
		o.FovEstimateDeg = def.FovEstimateDeg
	}
	if o.FovMaxErrorDeg <= 0 {
		o.FovMaxErrorDeg = def.FovMaxErrorDeg
	}
	if o.PatternCheckingStars < pattern.PatternSize {
		o.PatternCheckingStars = def.PatternCheckingStars
	}
	if o.RatioTolerance <= 0 {
		o.RatioTolerance = def.RatioTolerance
	}
	if o.MatchRadiusFrac <= 0 {
		o.MatchRadiusFrac = def.MatchRadiusFrac
	}
	if o.MinVerified <= 0 {
		o.MinVerified = def.MinVerified
	}
	if o.MinMatchFraction <= 0 {
		o.MinMatchFraction = def.MinMatchFraction
	}
	if o.MaxCandidates <= 0 {
		o.MaxCandidates = def.MaxCandidates
	}
}

// Solver runs plate solves against one immutable pattern index. It is safe
// for concurrent use.
type Solver struct {
	ix  *pattern.Index
	log *slog.Logger
}

func New(ix *pattern.Index, log *slog.Logger) *Solver {
	if log == nil {
		log = slog.Default()
	}
	return &Solver{ix: ix, log: log}
}

// Index returns the pattern index the solver was built with.
func (s *Solver) Index() *pattern.Index { return s.ix }

type matchPair struct {
	star     int32
	centroid int
}

// Solve identifies the sky region shown by the given centroids. Outcomes
// are reported through Result.Status; the call itself only varies with its
// inputs, so identical centroids and options always produce the identical
// result.
func (s *Solver) Solve(ctx context.Context, centroids []Centroid, width, height int, opts Options) Result {
	opts.normalize()
	n := len(centroids)

	p := s.ix.Params
	if opts.FovEstimateDeg-opts.FovMaxErrorDeg > p.MaxFovDeg ||
		opts.FovEstimateDeg+opts.FovMaxErrorDeg < p.MinFovDeg {
		return errorResult(n, fmt.Sprintf(
			"%s: field of view estimate %.1f deg outside database range [%.1f, %.1f]",
			db.ErrIncompatibleArtifact, opts.FovEstimateDeg, p.MinFovDeg, p.MaxFovDeg))
	}
	if n < pattern.PatternSize {
		return Result{
			Status:             StatusNotEnoughStars,
			TotalStarsDetected: n,
			Message:            fmt.Sprintf("detected %d stars, need at least %d", n, pattern.PatternSize),
		}
	}

	sorted := make([]Centroid, n)
	copy(sorted, centroids)
	sortBrightestFirst(sorted)

	w := float64(width)
	h := float64(height)
	fovEst := opts.FovEstimateDeg * math.Pi / 180
	fovErr := opts.FovMaxErrorDeg * math.Pi / 180
	top := opts.PatternCheckingStars
	if top > n {
		top = n
	}

	examined := 0
	for _, combo := range combinations(top, pattern.PatternSize) {
		if ctx.Err() != nil {
			return errorResult(n, "solve canceled")
		}

		var imgDirs [pattern.PatternSize]astro.Vector3
		for d, ci := range combo {
			imgDirs[d] = astro.PixelToUnit(sorted[ci].X, sorted[ci].Y, w, h, fovEst)
		}
		f, imgDiam := pattern.ComputeFeature(imgDirs)
		if imgDiam == 0 {
			continue
		}

		best, ok := Result{}, false
		var bestResidual float64
		for _, pi := range s.ix.Query(f, opts.RatioTolerance) {
			examined++
			if examined > opts.MaxCandidates {
				return Result{
					Status:             StatusNoMatch,
					TotalStarsDetected: n,
					Message:            fmt.Sprintf("no verified match in %d candidate patterns", opts.MaxCandidates),
				}
			}

			catDirs := s.ix.PatternDirs(s.ix.Patterns[pi])
			_, catDiam := pattern.ComputeFeature(catDirs)

			// Scale check: the candidate implies a FOV; discard it when that
			// FOV falls outside the caller's error band.
			fovCand := fovEst * catDiam / imgDiam
			if math.Abs(fovCand-fovEst) > fovErr {
				continue
			}

			var candDirs [pattern.PatternSize]astro.Vector3
			for d, ci := range combo {
				candDirs[d] = astro.PixelToUnit(sorted[ci].X, sorted[ci].Y, w, h, fovCand)
			}

			res, verified := s.tryPattern(candDirs, catDirs, sorted, n, w, h, fovCand, opts)
			if !verified {
				continue
			}
			if !ok || res.residual < bestResidual ||
				(res.residual == bestResidual && len(res.matched) > best.StarsMatched) {
				best = s.finishResult(res, sorted, n)
				bestResidual = res.residual
				ok = true
			}
		}
		if ok {
			s.log.Debug("solve verified",
				"candidates_examined", examined,
				"stars_matched", best.StarsMatched,
			)
			return best
		}
	}

	return Result{
		Status:             StatusNoMatch,
		TotalStarsDetected: n,
		Message:            fmt.Sprintf("no verified match in %d candidate patterns", examined),
	}
}

type fit struct {
	att      astro.Matrix3
	fovRad   float64
	matched  []matchPair
	residual float64
}

// tryPattern tests every assignment of the four catalog stars to the four
// image stars, keeping the first assignment that survives verification
// against the dense star set.
func (s *Solver) tryPattern(imgDirs, catDirs [pattern.PatternSize]astro.Vector3, centroids []Centroid, detected int, w, h, fovRad float64, opts Options) (fit, bool) {
	maxResidual := opts.MatchRadiusFrac * fovRad

	var perm [pattern.PatternSize]int
	for p := 0; p < 24; p++ {
		permute4(p, &perm)
		obs := make([]astro.Vector3, pattern.PatternSize)
		ref := make([]astro.Vector3, pattern.PatternSize)
		for d := 0; d < pattern.PatternSize; d++ {
			obs[d] = imgDirs[d]
			ref[d] = catDirs[perm[d]]
		}
		att, err := astro.FitRotation(obs, ref)
		if err != nil {
			continue
		}
		if astro.MeanResidual(att, obs, ref) > maxResidual {
			continue
		}

		matched, projected := s.verify(att, centroids, w, h, fovRad, opts)
		could := projected
		if detected < could {
			could = detected
		}
		if len(matched) < opts.MinVerified ||
			float64(len(matched)) < opts.MinMatchFraction*float64(could) {
			continue
		}
		return s.refine(att, matched, centroids, w, h, fovRad), true
	}
	return fit{}, false
}

// verify projects the dense verification set through the candidate
// attitude and greedily pairs projected stars with unused centroids.
// Returns the pairs and how many catalog stars landed inside the frame.
func (s *Solver) verify(att astro.Matrix3, centroids []Centroid, w, h, fovRad float64, opts Options) ([]matchPair, int) {
	boresight := att.Row(2)
	halfW := math.Tan(fovRad / 2)
	halfDiag := math.Atan(math.Hypot(halfW, halfW*h/w))

	nearby := s.ix.NearbyStars(boresight, halfDiag)
	sort.Slice(nearby, func(i, j int) bool { return nearby[i] < nearby[j] })

	matchRadius := opts.MatchRadiusFrac * w
	used := make([]bool, len(centroids))
	var matched []matchPair
	projected := 0
	for _, si := range nearby {
		px, py, ok := astro.ProjectStar(att, s.ix.Stars[si].Direction, w, h, fovRad)
		if !ok || px < 0 || px >= w || py < 0 || py >= h {
			continue
		}
		projected++
		bestC, bestD := -1, matchRadius
		for ci := range centroids {
			if used[ci] {
				continue
			}
			d := math.Hypot(centroids[ci].X-px, centroids[ci].Y-py)
			if d <= bestD {
				bestC, bestD = ci, d
			}
		}
		if bestC >= 0 {
			used[bestC] = true
			matched = append(matched, matchPair{star: si, centroid: bestC})
		}
	}
	return matched, projected
}

// refine refits the attitude over every matched pair and rescales the FOV
// so catalog and image separations agree for the widest matched pair.
func (s *Solver) refine(att astro.Matrix3, matched []matchPair, centroids []Centroid, w, h, fovRad float64) fit {
	// Widest matched centroid pair anchors the scale correction.
	ai, bi := matched[0], matched[0]
	var maxPix float64
	for i := 0; i < len(matched); i++ {
		for j := i + 1; j < len(matched); j++ {
			ci, cj := centroids[matched[i].centroid], centroids[matched[j].centroid]
			d := math.Hypot(ci.X-cj.X, ci.Y-cj.Y)
			if d > maxPix {
				maxPix, ai, bi = d, matched[i], matched[j]
			}
		}
	}
	if maxPix > 0 {
		catSep := astro.AngularSep(s.ix.Stars[ai.star].Direction, s.ix.Stars[bi.star].Direction)
		camSep := astro.AngularSep(
			astro.PixelToUnit(centroids[ai.centroid].X, centroids[ai.centroid].Y, w, h, fovRad),
			astro.PixelToUnit(centroids[bi.centroid].X, centroids[bi.centroid].Y, w, h, fovRad),
		)
		if camSep > 0 {
			fovRad *= catSep / camSep
		}
	}

	obs := make([]astro.Vector3, len(matched))
	ref := make([]astro.Vector3, len(matched))
	for i, m := range matched {
		obs[i] = astro.PixelToUnit(centroids[m.centroid].X, centroids[m.centroid].Y, w, h, fovRad)
		ref[i] = s.ix.Stars[m.star].Direction
	}
	refit, err := astro.FitRotation(obs, ref)
	if err == nil {
		att = refit
	}
	return fit{att: att, fovRad: fovRad, matched: matched, residual: astro.MeanResidual(att, obs, ref)}
}

func (s *Solver) finishResult(f fit, centroids []Centroid, detected int) Result {
	ra, dec, roll := astro.MatrixToAttitude(f.att)
	stars := make([]MatchedStar, len(f.matched))
	for i, m := range f.matched {
		stars[i] = MatchedStar{
			HipID:  s.ix.Stars[m.star].HIP,
			PixelX: centroids[m.centroid].X,
			PixelY: centroids[m.centroid].Y,
		}
	}
	return Result{
		Status:             StatusSuccess,
		CenterRa:           ra,
		CenterDec:          dec,
		Fov:                f.fovRad * 180 / math.Pi,
		Roll:               roll,
		MatchedStars:       stars,
		TotalStarsDetected: detected,
		StarsMatched:       len(stars),
	}
}

func sortBrightestFirst(cs []Centroid) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].Brightness != cs[j].Brightness {
			return cs[i].Brightness > cs[j].Brightness
		}
		if cs[i].X != cs[j].X {
			return cs[i].X < cs[j].X
		}
		return cs[i].Y < cs[j].Y
	})
}

// combinations lists the k-subsets of [0, n) in lexicographic order, so
// subsets of brighter centroids are tried first.
func combinations(n, k int) [][]int {
	var out [][]int
	idx := make([]int, k)
	for i := range idx {
		idx[i] = i
	}
	for {
		combo := make([]int, k)
		copy(combo, idx)
		out = append(out, combo)

		i := k - 1
		for i >= 0 && idx[i] == n-k+i {
			i--
		}
		if i < 0 {
			return out
		}
		idx[i]++
		for j := i + 1; j < k; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
}

// permute4 writes the p-th permutation of {0,1,2,3} in a fixed enumeration
// order.
func permute4(p int, out *[4]int) {
	avail := []int{0, 1, 2, 3}
	fact := []int{6, 2, 1, 1}
	for i := 0; i < 4; i++ {
		j := p / fact[i] % (4 - i)
		out[i] = avail[j]
		avail = append(avail[:j], avail[j+1:]...)
	}
}
