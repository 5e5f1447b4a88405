// Package cli implements the skysolve command tree.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"skysolve/internal/config"
	"skysolve/internal/db"
	"skysolve/internal/pipeline"
	"skysolve/internal/solve"
)

type pipelineClient interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
}

// Root wires CLI commands to the solve pipeline.
type Root struct {
	pipeline pipelineClient
	service  *pipeline.Service
	cfg      *config.Config
	log      *slog.Logger
	history  *db.History
}

// NewRoot constructs the CLI root command.
func NewRoot(pl *pipeline.Pipeline, svc *pipeline.Service, cfg *config.Config, logger *slog.Logger, history *db.History) *Root {
	return &Root{
		pipeline: pl,
		service:  svc,
		cfg:      cfg,
		log:      logger,
		history:  history,
	}
}

func (r *Root) enqueueAndWait(ctx context.Context, job pipeline.Job) (solve.Result, error) {
	resCh, unsubscribe := r.pipeline.Subscribe()
	defer unsubscribe()
	if err := r.enqueue(ctx, job); err != nil {
		return solve.Result{}, err
	}
	for {
		select {
		case <-ctx.Done():
			return solve.Result{}, ctx.Err()
		case res, ok := <-resCh:
			if !ok {
				return solve.Result{}, fmt.Errorf("pipeline stopped before completion")
			}
			if res.Job.ID == job.ID {
				return res.Solve, res.Error
			}
		}
	}
}

func (r *Root) enqueue(ctx context.Context, job pipeline.Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := r.pipeline.Submit(job); err != nil {
		return err
	}

	r.log.Info("solve queued", "id", job.ID, "image", job.ImagePath)
	return nil
}

func newID(prefix string) string {
	ts := time.Now().UTC().Format("20060102T150405")
	return fmt.Sprintf("%s-%s-%04d", prefix, ts, rand.Intn(10000))
}
