package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/yourusername/paperworks/internal/jobs"
)

// scriptedWatcher は Get のたびに用意したレコードを順に返します。
type scriptedWatcher struct {
	mu        sync.Mutex
	records   []*jobs.Record
	cancelled int
}

func (w *scriptedWatcher) Get(_ context.Context, _ string) (*jobs.Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	rec := w.records[0]
	if len(w.records) > 1 {
		w.records = w.records[1:]
	}
	return rec, nil
}

func (w *scriptedWatcher) Cancel(_ context.Context, _ string) (*jobs.Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancelled++
	return &jobs.Record{Status: jobs.StatusCancelling}, nil
}

func progressRecord(status jobs.Status, percent int, msg string) *jobs.Record {
	return &jobs.Record{JobID: "job-1", Status: status, Progress: jobs.ProgressInfo{Percent: percent, Message: msg}}
}

func TestWaitJobPrintsProgressChanges(t *testing.T) {
	w := &scriptedWatcher{records: []*jobs.Record{
		progressRecord(jobs.StatusProcessing, 10, "page 1/10"),
		progressRecord(jobs.StatusProcessing, 10, "page 1/10"),
		progressRecord(jobs.StatusProcessing, 50, "page 5/10"),
		progressRecord(jobs.StatusComplete, 100, "done"),
	}}
	var out bytes.Buffer
	rec, err := waitJob(context.Background(), w, "job-1", &out)
	if err != nil {
		t.Fatalf("waitJob returned error: %v", err)
	}
	if rec.Status != jobs.StatusComplete {
		t.Fatalf("status = %s", rec.Status)
	}
	want := "[ 10%] page 1/10\n[ 50%] page 5/10\n[100%] done\n"
	if out.String() != want {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
	if w.cancelled != 0 {
		t.Fatalf("cancel requested %d times", w.cancelled)
	}
}

func TestWaitJobCancelsOnceWhenContextEnds(t *testing.T) {
	w := &scriptedWatcher{records: []*jobs.Record{
		progressRecord(jobs.StatusProcessing, 20, "page 2/10"),
		progressRecord(jobs.StatusCancelling, 20, "page 2/10"),
		progressRecord(jobs.StatusCancelling, 20, "page 2/10"),
		progressRecord(jobs.StatusCancelled, 20, "page 2/10"),
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	rec, err := waitJob(ctx, w, "job-1", &out)
	if err != nil {
		t.Fatalf("waitJob returned error: %v", err)
	}
	if rec.Status != jobs.StatusCancelled {
		t.Fatalf("status = %s", rec.Status)
	}
	if w.cancelled != 1 {
		t.Fatalf("cancel requested %d times, want 1", w.cancelled)
	}
}

func TestOutcome(t *testing.T) {
	var out bytes.Buffer
	done := &jobs.Record{Status: jobs.StatusComplete, Result: &jobs.ResultInfo{Key: "report.pdf", Size: 42}}
	if err := outcome(done, "/tmp/out", &out); err != nil {
		t.Fatalf("outcome returned error: %v", err)
	}
	if !strings.Contains(out.String(), "/tmp/out/report.pdf (42 bytes)") {
		t.Fatalf("unexpected output: %q", out.String())
	}

	failed := &jobs.Record{Status: jobs.StatusError, Error: &jobs.ErrorInfo{Code: "UNSUPPORTED_PDF", Message: "broken"}}
	if err := outcome(failed, "", &out); err == nil || !strings.Contains(err.Error(), "UNSUPPORTED_PDF") {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := outcome(&jobs.Record{Status: jobs.StatusCancelled}, "", &out); err == nil {
		t.Fatal("expected error for cancelled job")
	}
}
