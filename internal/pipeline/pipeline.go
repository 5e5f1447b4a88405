package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"log/slog"

	"skysolve/internal/db"
	"skysolve/internal/logging"
	"skysolve/internal/solve"
)

// Job represents a single solve request. Exactly one of ImagePath or Data
// carries the image.
type Job struct {
	ID             string
	ImagePath      string
	Data           []byte
	FovEstimateDeg float64
}

// Result captures the outcome of a Job.
type Result struct {
	Job      Job
	Solve    solve.Result
	Error    error
	Duration time.Duration
}

// Pipeline dispatches solve jobs across workers and broadcasts results to
// subscribers.
type Pipeline struct {
	service   *Service
	log       *slog.Logger
	jobs      chan Job
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	stopOnce  sync.Once
	history   *db.History
	mu        sync.Mutex
	subs      map[int]chan Result
	nextSubID int
}

// New creates a Pipeline running jobs through svc with the given
// concurrency.
func New(ctx context.Context, concurrency, queueSize int, svc *Service, logger *slog.Logger, history *db.History) *Pipeline {
	if concurrency < 1 {
		concurrency = 1
	}
	if queueSize < concurrency {
		queueSize = concurrency * 2
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pipeline{
		service: svc,
		log:     logger,
		jobs:    make(chan Job, queueSize),
		cancel:  cancel,
		history: history,
		subs:    make(map[int]chan Result),
	}
	for i := 0; i < concurrency; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	return p
}

// Submit adds a job to the solve queue.
func (p *Pipeline) Submit(job Job) error {
	_ = p.history.RecordQueued(job.ID, job.ImagePath)
	select {
	case p.jobs <- job:
		return nil
	default:
		return errors.New("solve queue is full")
	}
}

// Stop signals workers to exit and waits for completion.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		close(p.jobs)
		p.wg.Wait()
		p.mu.Lock()
		for id, ch := range p.subs {
			close(ch)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	})
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			start := time.Now()
			logging.LogSolveStart(p.log, job.ID, job.ImagePath)

			var res solve.Result
			var err error
			if len(job.Data) > 0 {
				res, err = p.service.SolveBytes(ctx, job.Data, job.FovEstimateDeg)
			} else {
				res, err = p.service.SolveFile(ctx, job.ImagePath, job.FovEstimateDeg)
			}
			duration := time.Since(start)

			if err != nil {
				logging.LogSolveError(p.log, job.ID, duration, err)
				_ = p.history.RecordResult(db.SolveRecord{
					ID:         job.ID,
					Status:     string(solve.StatusError),
					DurationMs: duration.Milliseconds(),
					Error:      err.Error(),
				})
			} else {
				logging.LogSolveComplete(p.log, job.ID, string(res.Status), duration, res.StarsMatched)
				_ = p.history.RecordResult(db.SolveRecord{
					ID:            job.ID,
					Status:        string(res.Status),
					CenterRa:      res.CenterRa,
					CenterDec:     res.CenterDec,
					Roll:          res.Roll,
					Fov:           res.Fov,
					StarsDetected: res.TotalStarsDetected,
					StarsMatched:  res.StarsMatched,
					DurationMs:    duration.Milliseconds(),
					Error:         res.Message,
				})
			}

			p.broadcast(Result{Job: job, Solve: res, Error: err, Duration: duration})
		}
	}
}

// Subscribe returns a channel for receiving solve results and an
// unsubscribe function.
func (p *Pipeline) Subscribe() (<-chan Result, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	ch := make(chan Result, 8)
	p.subs[id] = ch
	unsub := func() {
		p.mu.Lock()
		if c, ok := p.subs[id]; ok {
			close(c)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	}
	return ch, unsub
}

func (p *Pipeline) broadcast(res Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.subs {
		select {
		case ch <- res:
		default:
			p.log.Warn("result channel full", "subscriber", id, "job", res.Job.ID)
		}
	}
}
