package pattern

import (
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"reflect"
	"testing"

	"skysolve/internal/astro"
	"skysolve/internal/catalog"
)

// denseCatalog scatters stars across a wide patch of sky with strictly
// increasing magnitudes, so ordering is unambiguous.
func denseCatalog(n int, seed int64) []catalog.Star {
	rng := rand.New(rand.NewSource(seed))
	stars := make([]catalog.Star, 0, n)
	for i := 0; i < n; i++ {
		ra := 140 + rng.Float64()*80
		dec := -30 + rng.Float64()*60
		stars = append(stars, catalog.Star{
			HIP:       1000 + i,
			RaDeg:     ra,
			DecDeg:    dec,
			Magnitude: 1 + float64(i)*0.1,
			Direction: astro.UnitFromRaDec(ra, dec),
		})
	}
	return stars
}

func wideOptions() BuildOptions {
	return BuildOptions{
		MaxFovDeg:          85,
		MinFovDeg:          40,
		MaxMagnitude:       10,
		PatternStarsPerFov: 100,
		VerifyStarsPerFov:  200,
		MaxNeighbors:       50,
	}
}

func TestBuildProducesCanonicalPatterns(t *testing.T) {
	ix, err := Build(denseCatalog(40, 42), wideOptions(), slog.Default())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(ix.Patterns) == 0 {
		t.Fatal("no patterns generated")
	}

	seen := make(map[[PatternSize]int32]struct{}, len(ix.Patterns))
	minFovRad := ix.Params.MinFovDeg * math.Pi / 180
	maxFovRad := ix.Params.MaxFovDeg * math.Pi / 180
	for i, p := range ix.Patterns {
		for d := 1; d < PatternSize; d++ {
			if p.Stars[d] <= p.Stars[d-1] {
				t.Fatalf("pattern %d not in ascending order: %v", i, p.Stars)
			}
		}
		if _, dup := seen[p.Stars]; dup {
			t.Fatalf("duplicate pattern %v", p.Stars)
		}
		seen[p.Stars] = struct{}{}

		if i > 0 && !lessTuple(ix.Patterns[i-1].Stars, p.Stars) {
			t.Fatalf("patterns not sorted at %d", i)
		}

		_, diam := ComputeFeature(ix.PatternDirs(p))
		if diam < minFovRad-1e-9 || diam > maxFovRad+1e-9 {
			t.Fatalf("pattern %v diameter %v outside FOV range", p.Stars, diam)
		}
	}
}

func TestBuildDeterministic(t *testing.T) {
	opts := wideOptions()
	opts.Workers = 4
	a, err := Build(denseCatalog(40, 42), opts, slog.Default())
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	opts.Workers = 1
	b, err := Build(denseCatalog(40, 42), opts, slog.Default())
	if err != nil {
		t.Fatalf("second build: %v", err)
	}

	if !reflect.DeepEqual(a.Patterns, b.Patterns) {
		t.Fatal("pattern lists differ between builds")
	}
	if !reflect.DeepEqual(a.PatternStars, b.PatternStars) {
		t.Fatal("pattern star sets differ between builds")
	}
	if !reflect.DeepEqual(a.VerifyStars, b.VerifyStars) {
		t.Fatal("verification star sets differ between builds")
	}
}

func TestBuildInsufficientDensity(t *testing.T) {
	// Two isolated pairs on opposite sides of the sky: no star has the
	// three neighbors a pattern needs.
	sparse := []catalog.Star{
		{HIP: 1, RaDeg: 0, DecDeg: 0, Magnitude: 1, Direction: astro.UnitFromRaDec(0, 0)},
		{HIP: 2, RaDeg: 2, DecDeg: 1, Magnitude: 2, Direction: astro.UnitFromRaDec(2, 1)},
		{HIP: 3, RaDeg: 180, DecDeg: 0, Magnitude: 3, Direction: astro.UnitFromRaDec(180, 0)},
		{HIP: 4, RaDeg: 182, DecDeg: -1, Magnitude: 4, Direction: astro.UnitFromRaDec(182, -1)},
	}
	_, err := Build(sparse, wideOptions(), slog.Default())
	if !errors.Is(err, ErrInsufficientDensity) {
		t.Fatalf("expected ErrInsufficientDensity, got %v", err)
	}
}

func TestQueryFindsOwnPatterns(t *testing.T) {
	ix, err := Build(denseCatalog(40, 42), wideOptions(), slog.Default())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for i, p := range ix.Patterns {
		f, _ := ComputeFeature(ix.PatternDirs(p))
		found := false
		for _, pi := range ix.Query(f, 0.01) {
			if int(pi) == i {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("pattern %d not returned for its own feature", i)
		}
	}
}

func TestNearbyStarsExact(t *testing.T) {
	ix, err := Build(denseCatalog(40, 42), wideOptions(), slog.Default())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	center := astro.UnitFromRaDec(180, 0)
	radius := 30 * math.Pi / 180

	got := make(map[int32]bool)
	for _, si := range ix.NearbyStars(center, radius) {
		got[si] = true
		if astro.AngularSep(center, ix.Stars[si].Direction) > radius {
			t.Fatalf("star %d outside the query radius", si)
		}
	}
	for _, si := range ix.VerifyStars {
		if astro.AngularSep(center, ix.Stars[si].Direction) <= radius && !got[si] {
			t.Fatalf("verification star %d inside radius but not returned", si)
		}
	}
}
