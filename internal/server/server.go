// Package server exposes the solver over HTTP: synchronous solves, solve
// history and live result streams.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"skysolve/internal/db"
	"skysolve/internal/pipeline"
	"skysolve/internal/solve"
)

// maxUploadBytes bounds a single solve request body.
const maxUploadBytes = 64 << 20

// Server wraps the HTTP API over the solve pipeline.
type Server struct {
	addr     string
	history  *db.History
	pipeline *pipeline.Pipeline
	service  *pipeline.Service
	log      *slog.Logger
	server   *http.Server
}

// New creates a Server. history may be nil to disable the /solves listing.
func New(addr string, history *db.History, pipe *pipeline.Pipeline, svc *pipeline.Service, log *slog.Logger) *Server {
	return &Server{
		addr:     addr,
		history:  history,
		pipeline: pipe,
		service:  svc,
		log:      log,
	}
}

// Start runs the server until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/solve", s.handleSolve).Methods("POST")
	r.HandleFunc("/solves", s.handleSolves).Methods("GET")
	r.HandleFunc("/stream", s.handleStream).Methods("GET")
	r.HandleFunc("/ws", s.handleWS).Methods("GET")

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: r,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("Shutting down server...")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("Server starting", "addr", s.addr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if s.service.Solver() == nil {
		status = "no pattern database loaded"
		code = http.StatusServiceUnavailable
	}
	w.WriteHeader(code)
	w.Write([]byte(status))
}

// handleSolve accepts an image body (or multipart "image" part), solves it
// synchronously and answers with the tagged result JSON.
func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	data, err := readImage(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var fov float64
	if v := r.URL.Query().Get("fov"); v != "" {
		fov, err = strconv.ParseFloat(v, 64)
		if err != nil || fov <= 0 {
			http.Error(w, "invalid fov parameter", http.StatusBadRequest)
			return
		}
	}

	job := pipeline.Job{
		ID:             uuid.NewString(),
		Data:           data,
		FovEstimateDeg: fov,
	}
	res, err := s.enqueueAndWait(r.Context(), job)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

func readImage(r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxUploadBytes)
	ct := r.Header.Get("Content-Type")
	if len(ct) >= 19 && ct[:19] == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return nil, fmt.Errorf("parse multipart form: %w", err)
		}
		f, _, err := r.FormFile("image")
		if err != nil {
			return nil, fmt.Errorf("missing image part: %w", err)
		}
		defer f.Close()
		return io.ReadAll(f)
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty request body")
	}
	return data, nil
}

// enqueueAndWait submits a job and blocks for its result.
func (s *Server) enqueueAndWait(ctx context.Context, job pipeline.Job) (solve.Result, error) {
	resCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()

	if err := s.pipeline.Submit(job); err != nil {
		return solve.Result{}, err
	}
	for {
		select {
		case <-ctx.Done():
			return solve.Result{}, ctx.Err()
		case res, ok := <-resCh:
			if !ok {
				return solve.Result{}, fmt.Errorf("pipeline stopped")
			}
			if res.Job.ID != job.ID {
				continue
			}
			return res.Solve, res.Error
		}
	}
}

func (s *Server) handleSolves(w http.ResponseWriter, r *http.Request) {
	recs, err := s.history.RecentSolves(100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(recs)
}

// streamEvent is the wire form of a pipeline result; image bytes stay out
// of the payload.
type streamEvent struct {
	JobID      string       `json:"jobId"`
	DurationMs int64        `json:"durationMs"`
	Error      string       `json:"error,omitempty"`
	Result     solve.Result `json:"result"`
}

func makeStreamEvent(res pipeline.Result) streamEvent {
	ev := streamEvent{
		JobID:      res.Job.ID,
		DurationMs: res.Duration.Milliseconds(),
		Result:     res.Solve,
	}
	if res.Error != nil {
		ev.Error = res.Error.Error()
	}
	return ev
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	resCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-r.Context().Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			payload, _ := json.Marshal(makeStreamEvent(res))
			_, _ = w.Write([]byte("data: " + string(payload) + "\n\n"))
			flusher.Flush()
		}
	}
}
