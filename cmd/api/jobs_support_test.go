package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/paperworks/internal/config"
	"github.com/yourusername/paperworks/internal/jobs"
	"github.com/yourusername/paperworks/internal/storage"
)

type apiFixture struct {
	router  *gin.Engine
	runner  *jobs.Runner
	results *storage.Local
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	results, err := storage.NewLocal(filepath.Join(t.TempDir(), "output"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	pool := jobs.NewPool(jobs.PoolConfig{Name: "test", Logger: logger, WorkerCount: 1, QueueSize: 4})
	runner, err := jobs.NewRunner(jobs.RunnerConfig{
		Store:      jobs.NewMemoryStore(),
		Dispatcher: pool,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("NewRunner returned error: %v", err)
	}
	if err := runner.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	t.Cleanup(runner.Shutdown)

	router := gin.New()
	router.GET("/api/jobs/:id", jobStatusHandler(runner, "http://files.example"))
	router.POST("/api/jobs/:id/cancel", jobCancelHandler(runner, ""))
	router.GET("/api/jobs/:id/download", jobDownloadHandler(runner, results))
	return &apiFixture{router: router, runner: runner, results: results}
}

func (f *apiFixture) do(method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func (f *apiFixture) waitFor(t *testing.T, id string, status jobs.Status) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := f.runner.Get(context.Background(), id)
		if err == nil && rec.Status == status {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach %s", id, status)
}

func publishingTask(t *testing.T, results storage.Storage, content string) jobs.Task {
	t.Helper()
	src := filepath.Join(t.TempDir(), "result.pdf")
	if err := os.WriteFile(src, []byte(content), 0o640); err != nil {
		t.Fatalf("failed to write result: %v", err)
	}
	return jobs.Task{
		Kind: jobs.KindCompress,
		Run: func(ctx context.Context, report jobs.Reporter, _ jobs.CancelChecker) (*jobs.Result, error) {
			obj, err := results.Publish(ctx, src, "レポート.pdf")
			if err != nil {
				return nil, err
			}
			return &jobs.Result{Key: obj.Key, Filename: obj.Name, Kind: "pdf", Size: obj.Size}, nil
		},
	}
}

func TestJobStatusAndDownload(t *testing.T) {
	f := newAPIFixture(t)
	record, err := f.runner.Submit(context.Background(), publishingTask(t, f.results, "%PDF-1.4 result"))
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	f.waitFor(t, record.JobID, jobs.StatusComplete)

	rec := f.do(http.MethodGet, "/api/jobs/"+record.JobID)
	if rec.Code != http.StatusOK {
		t.Fatalf("status endpoint returned %d: %s", rec.Code, rec.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	want := "http://files.example/api/jobs/" + record.JobID + "/download"
	if payload["status"] != "complete" || payload["downloadUrl"] != want {
		t.Fatalf("unexpected payload: %v", payload)
	}

	rec = f.do(http.MethodGet, "/api/jobs/"+record.JobID+"/download")
	if rec.Code != http.StatusOK {
		t.Fatalf("download returned %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "%PDF-1.4 result" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("Content-Type = %s", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "filename*=UTF-8''") {
		t.Fatalf("Content-Disposition = %s", cd)
	}
	if rec.Header().Get("X-Job-Id") != record.JobID {
		t.Fatalf("X-Job-Id = %s", rec.Header().Get("X-Job-Id"))
	}

	rec = f.do(http.MethodPost, "/api/jobs/"+record.JobID+"/cancel")
	if rec.Code != http.StatusConflict {
		t.Fatalf("cancel of finished job returned %d", rec.Code)
	}
}

func TestJobEndpointsUnknownJob(t *testing.T) {
	f := newAPIFixture(t)
	for _, path := range []string{"/api/jobs/nope", "/api/jobs/nope/download"} {
		rec := f.do(http.MethodGet, path)
		if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "JOB_NOT_FOUND") {
			t.Fatalf("%s returned %d: %s", path, rec.Code, rec.Body.String())
		}
	}
	if rec := f.do(http.MethodPost, "/api/jobs/nope/cancel"); rec.Code != http.StatusNotFound {
		t.Fatalf("cancel of unknown job returned %d", rec.Code)
	}
}

func TestJobCancelWhileRunning(t *testing.T) {
	f := newAPIFixture(t)
	started := make(chan struct{})
	task := jobs.Task{
		Kind: jobs.KindSplit,
		Run: func(ctx context.Context, report jobs.Reporter, cancelled jobs.CancelChecker) (*jobs.Result, error) {
			close(started)
			<-ctx.Done()
			return nil, jobs.ErrCancelled
		},
	}
	record, err := f.runner.Submit(context.Background(), task)
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	<-started

	rec := f.do(http.MethodPost, "/api/jobs/"+record.JobID+"/cancel")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("cancel returned %d: %s", rec.Code, rec.Body.String())
	}
	f.waitFor(t, record.JobID, jobs.StatusCancelled)

	rec = f.do(http.MethodGet, "/api/jobs/"+record.JobID+"/download")
	if rec.Code != http.StatusConflict {
		t.Fatalf("download of cancelled job returned %d", rec.Code)
	}
}

func TestSplitOrigins(t *testing.T) {
	got := splitOrigins(" http://a.example, ,http://b.example ")
	if len(got) != 2 || got[0] != "http://a.example" || got[1] != "http://b.example" {
		t.Fatalf("splitOrigins = %v", got)
	}
}

func TestSetupDispatcherDefaultsToPool(t *testing.T) {
	d, err := setupDispatcher(&config.Config{QueueBackend: config.QueueBackendLocal, WorkerConcurrency: 3, QueueSize: 5}, slog.Default())
	if err != nil {
		t.Fatalf("setupDispatcher returned error: %v", err)
	}
	status := d.Status()
	if status.Workers != 3 || status.QueueSize != 5 {
		t.Fatalf("unexpected status: %+v", status)
	}
}
