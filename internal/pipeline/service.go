package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"skysolve/internal/config"
	"skysolve/internal/db"
	"skysolve/internal/extract"
	"skysolve/internal/solve"
)

// ErrNoDatabase reports that no pattern database has been loaded yet.
var ErrNoDatabase = errors.New("pipeline: no pattern database loaded")

// Service binds centroid extraction and solving behind one entry point.
// The active solver is swapped atomically, so in-flight solves keep the
// index they started with while a reload installs a new one.
type Service struct {
	cfg    *config.Config
	log    *slog.Logger
	solver atomic.Pointer[solve.Solver]
}

func NewService(cfg *config.Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{cfg: cfg, log: log}
}

// LoadArtifact reads the pattern database at path and installs it as the
// active solver.
func (s *Service) LoadArtifact(path string) error {
	ix, err := db.LoadIndex(path)
	if err != nil {
		return err
	}
	s.solver.Store(solve.New(ix, s.log))
	s.log.Info("pattern database loaded",
		"path", path,
		"stars", len(ix.Stars),
		"patterns", len(ix.Patterns),
	)
	return nil
}

// Solver returns the active solver, or nil before the first LoadArtifact.
func (s *Service) Solver() *solve.Solver {
	return s.solver.Load()
}

// SolveFile extracts centroids from the image at path and solves them.
// fovEstimateDeg zero uses the configured default.
func (s *Service) SolveFile(ctx context.Context, path string, fovEstimateDeg float64) (solve.Result, error) {
	centroids, w, h, err := extract.FromFile(path, s.extractOptions())
	if err != nil {
		return solve.Result{}, err
	}
	return s.solveCentroids(ctx, centroids, w, h, fovEstimateDeg)
}

// SolveBytes extracts centroids from an in-memory image and solves them.
func (s *Service) SolveBytes(ctx context.Context, data []byte, fovEstimateDeg float64) (solve.Result, error) {
	centroids, w, h, err := extract.FromBytes(data, s.extractOptions())
	if err != nil {
		return solve.Result{}, err
	}
	return s.solveCentroids(ctx, centroids, w, h, fovEstimateDeg)
}

// SolveCentroids solves already-extracted centroids.
func (s *Service) SolveCentroids(ctx context.Context, centroids []solve.Centroid, width, height int, fovEstimateDeg float64) (solve.Result, error) {
	return s.solveCentroids(ctx, centroids, width, height, fovEstimateDeg)
}

func (s *Service) solveCentroids(ctx context.Context, centroids []solve.Centroid, width, height int, fovEstimateDeg float64) (solve.Result, error) {
	sv := s.solver.Load()
	if sv == nil {
		return solve.Result{}, ErrNoDatabase
	}
	return sv.Solve(ctx, centroids, width, height, s.solveOptions(fovEstimateDeg)), nil
}

func (s *Service) solveOptions(fovEstimateDeg float64) solve.Options {
	opts := solve.Options{
		FovEstimateDeg:       s.cfg.Solver.FovEstimateDeg,
		FovMaxErrorDeg:       s.cfg.Solver.FovMaxErrorDeg,
		PatternCheckingStars: s.cfg.Solver.PatternCheckingStars,
		RatioTolerance:       s.cfg.Solver.RatioTolerance,
		MatchRadiusFrac:      s.cfg.Solver.MatchRadiusFrac,
		MinVerified:          s.cfg.Solver.MinVerified,
		MinMatchFraction:     s.cfg.Solver.MinMatchFraction,
		MaxCandidates:        s.cfg.Solver.MaxCandidates,
	}
	if fovEstimateDeg > 0 {
		opts.FovEstimateDeg = fovEstimateDeg
	}
	return opts
}

func (s *Service) extractOptions() extract.Options {
	return extract.Options{
		Sigma:    s.cfg.Extract.Sigma,
		MinArea:  s.cfg.Extract.MinArea,
		MaxArea:  s.cfg.Extract.MaxArea,
		MaxStars: s.cfg.Extract.MaxStars,
	}
}

// WatchArtifact reloads the pattern database whenever the file at path is
// rewritten. Blocks until ctx is done.
func (s *Service) WatchArtifact(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		return err
	}
	s.log.Info("watching pattern database", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := s.LoadArtifact(path); err != nil {
				s.log.Error("pattern database reload failed", "path", path, "error", err)
				continue
			}
			// Replace-by-rename drops the watch on some platforms.
			_ = watcher.Add(path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("watcher error", "error", err)
		}
	}
}
