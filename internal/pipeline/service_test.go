package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"skysolve/internal/astro"
	"skysolve/internal/catalog"
	"skysolve/internal/config"
	"skysolve/internal/db"
	"skysolve/internal/pattern"
	"skysolve/internal/solve"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("SKYSOLVE_CONFIG", filepath.Join(t.TempDir(), "missing.json"))
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func buildArtifact(t *testing.T) (string, *pattern.Index) {
	t.Helper()
	rng := rand.New(rand.NewSource(42))
	stars := make([]catalog.Star, 0, 40)
	for i := 0; i < 40; i++ {
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
	ix, err := pattern.Build(stars, pattern.BuildOptions{
		MaxFovDeg:          85,
		MinFovDeg:          40,
		MaxMagnitude:       10,
		PatternStarsPerFov: 100,
		VerifyStarsPerFov:  200,
		MaxNeighbors:       50,
	}, slog.Default())
	if err != nil {
		t.Fatalf("build index: %v", err)
	}
	path := filepath.Join(t.TempDir(), "patterns.db")
	if err := db.SaveIndex(path, ix); err != nil {
		t.Fatalf("save artifact: %v", err)
	}
	return path, ix
}

func renderCentroids(ix *pattern.Index, raDeg, decDeg, rollDeg, fovDeg float64) []solve.Centroid {
	att := astro.AttitudeMatrix(raDeg, decDeg, rollDeg)
	fovRad := fovDeg * math.Pi / 180
	var out []solve.Centroid
	for _, s := range ix.Stars {
		px, py, ok := astro.ProjectStar(att, s.Direction, 800, 600, fovRad)
		if !ok || px < 0 || px >= 800 || py < 0 || py >= 600 {
			continue
		}
		out = append(out, solve.Centroid{X: px, Y: py, Brightness: 1000 - 10*s.Magnitude})
	}
	return out
}

func TestServiceRequiresDatabase(t *testing.T) {
	svc := NewService(testConfig(t), slog.Default())
	if svc.Solver() != nil {
		t.Fatal("fresh service should have no solver")
	}
	_, err := svc.SolveCentroids(context.Background(), nil, 800, 600, 0)
	if !errors.Is(err, ErrNoDatabase) {
		t.Fatalf("expected ErrNoDatabase, got %v", err)
	}
}

func TestServiceLoadAndSolve(t *testing.T) {
	path, ix := buildArtifact(t)
	svc := NewService(testConfig(t), slog.Default())
	if err := svc.LoadArtifact(path); err != nil {
		t.Fatalf("LoadArtifact: %v", err)
	}
	if svc.Solver() == nil {
		t.Fatal("solver not installed after load")
	}

	centroids := renderCentroids(ix, 180, 10, 40, 70)
	res, err := svc.SolveCentroids(context.Background(), centroids, 800, 600, 70)
	if err != nil {
		t.Fatalf("SolveCentroids: %v", err)
	}
	if res.Status != solve.StatusSuccess {
		t.Fatalf("expected SUCCESS, got %s (%s)", res.Status, res.Message)
	}
	if math.Abs(res.CenterRa-180) > 0.1 || math.Abs(res.CenterDec-10) > 0.1 {
		t.Fatalf("solved center (%v, %v)", res.CenterRa, res.CenterDec)
	}
}

func TestServiceLoadArtifactBadPath(t *testing.T) {
	svc := NewService(testConfig(t), slog.Default())
	if err := svc.LoadArtifact(filepath.Join(t.TempDir(), "missing.db")); err == nil {
		t.Fatal("expected error for missing artifact")
	}
	if svc.Solver() != nil {
		t.Fatal("failed load must not install a solver")
	}
}

func TestServiceSolveOptionsFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Solver.MinVerified = 7
	cfg.Solver.MinMatchFraction = 0.4
	cfg.Solver.RatioTolerance = 0.02
	svc := NewService(cfg, slog.Default())

	opts := svc.solveOptions(0)
	if opts.MinVerified != 7 {
		t.Fatalf("MinVerified %d, want 7", opts.MinVerified)
	}
	if opts.MinMatchFraction != 0.4 {
		t.Fatalf("MinMatchFraction %v, want 0.4", opts.MinMatchFraction)
	}
	if opts.RatioTolerance != 0.02 {
		t.Fatalf("RatioTolerance %v, want 0.02", opts.RatioTolerance)
	}
}

func TestServiceFovOverride(t *testing.T) {
	svc := NewService(testConfig(t), slog.Default())
	if got := svc.solveOptions(0).FovEstimateDeg; got != svc.cfg.Solver.FovEstimateDeg {
		t.Fatalf("zero override should keep config default, got %v", got)
	}
	if got := svc.solveOptions(47.5).FovEstimateDeg; got != 47.5 {
		t.Fatalf("override not applied: %v", got)
	}
}

func TestPipelineBroadcastsFailure(t *testing.T) {
	svc := NewService(testConfig(t), slog.Default())
	p := New(context.Background(), 1, 4, svc, slog.Default(), nil)
	defer p.Stop()

	resCh, unsubscribe := p.Subscribe()
	defer unsubscribe()

	job := Job{ID: "job-1", ImagePath: filepath.Join(t.TempDir(), "missing.jpg")}
	if err := p.Submit(job); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case res := <-resCh:
		if res.Job.ID != "job-1" {
			t.Fatalf("unexpected job id %s", res.Job.ID)
		}
		if res.Error == nil {
			t.Fatal("expected an error for a missing image")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("no result broadcast")
	}
}

func TestPipelineQueueFull(t *testing.T) {
	// No workers draining the queue, so the buffer fills immediately.
	p := &Pipeline{
		log:  slog.Default(),
		jobs: make(chan Job, 1),
		subs: make(map[int]chan Result),
	}
	if err := p.Submit(Job{ID: "first"}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if err := p.Submit(Job{ID: "second"}); err == nil {
		t.Fatal("expected queue-full error")
	}
}
