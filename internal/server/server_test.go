package server

import (
	"bytes"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"skysolve/internal/config"
	"skysolve/internal/pipeline"
	"skysolve/internal/solve"
)

func testService(t *testing.T) *pipeline.Service {
	t.Helper()
	t.Setenv("SKYSOLVE_CONFIG", filepath.Join(t.TempDir(), "missing.json"))
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return pipeline.NewService(cfg, slog.Default())
}

func TestHandleHealthNoDatabase(t *testing.T) {
	s := New(":0", nil, nil, testService(t), slog.Default())

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d, want 503 before a database load", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "no pattern database") {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestReadImageRawBody(t *testing.T) {
	payload := []byte("fake image bytes")
	r := httptest.NewRequest(http.MethodPost, "/solve", bytes.NewReader(payload))
	data, err := readImage(r)
	if err != nil {
		t.Fatalf("readImage: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatal("body not passed through")
	}
}

func TestReadImageEmptyBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/solve", bytes.NewReader(nil))
	if _, err := readImage(r); err == nil {
		t.Fatal("expected error for an empty body")
	}
}

func TestReadImageMultipart(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", "sky.jpg")
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	payload := []byte("multipart image bytes")
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("write part: %v", err)
	}
	mw.Close()

	r := httptest.NewRequest(http.MethodPost, "/solve", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	data, err := readImage(r)
	if err != nil {
		t.Fatalf("readImage: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatal("multipart image part not extracted")
	}
}

func TestMakeStreamEvent(t *testing.T) {
	res := pipeline.Result{
		Job:      pipeline.Job{ID: "job-7", Data: []byte("large image payload")},
		Solve:    solve.Result{Status: solve.StatusNoMatch},
		Duration: 1500 * time.Millisecond,
	}
	ev := makeStreamEvent(res)
	if ev.JobID != "job-7" || ev.DurationMs != 1500 {
		t.Fatalf("event %+v", ev)
	}
	if ev.Error != "" {
		t.Fatalf("unexpected error field %q", ev.Error)
	}
	if ev.Result.Status != solve.StatusNoMatch {
		t.Fatalf("result status %s", ev.Result.Status)
	}

	res.Error = errors.New("boom")
	if ev := makeStreamEvent(res); ev.Error != "boom" {
		t.Fatalf("error field %q, want boom", ev.Error)
	}
}
