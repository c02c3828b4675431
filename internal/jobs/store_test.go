package jobs

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreCreateAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	rec := NewRecord("a", KindSplit, time.Now())

	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if err := store.Create(ctx, rec); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	got, err := store.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	got.Status = StatusComplete
	again, _ := store.Get(ctx, "a")
	if again.Status != StatusStarting {
		t.Fatal("mutating a snapshot changed the stored record")
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreUpdateIsAllOrNothing(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Create(ctx, NewRecord("a", KindSplit, time.Now()))

	boom := errors.New("boom")
	_, err := store.Update(ctx, "a", func(rec *Record) error {
		rec.Progress.Percent = 70
		rec.Progress.Message = "half written"
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected mutate error, got %v", err)
	}
	got, _ := store.Get(ctx, "a")
	if got.Progress.Percent != 0 || got.Progress.Message != "queued" {
		t.Fatalf("failed update leaked into record: %+v", got.Progress)
	}

	updated, err := store.Update(ctx, "a", func(rec *Record) error {
		rec.Progress.Percent = 40
		return nil
	})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if updated.Progress.Percent != 40 {
		t.Fatalf("unexpected percent %d", updated.Progress.Percent)
	}

	if _, err := store.Update(ctx, "missing", func(*Record) error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreSweepEvictsExpiredTerminalRecords(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	done := NewRecord("done", KindSplit, now)
	done.Status = StatusComplete
	done.ExpiresAt = now.Add(-time.Second)

	fresh := NewRecord("fresh", KindSplit, now)
	fresh.Status = StatusError
	fresh.ExpiresAt = now.Add(time.Hour)

	running := NewRecord("running", KindSplit, now)
	running.Status = StatusProcessing
	running.ExpiresAt = now.Add(-time.Hour)

	for _, rec := range []*Record{done, fresh, running} {
		if err := store.Create(ctx, rec); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
	}

	if n := store.Sweep(now); n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	if _, err := store.Get(ctx, "done"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired record still present: %v", err)
	}
	for _, id := range []string{"fresh", "running"} {
		if _, err := store.Get(ctx, id); err != nil {
			t.Fatalf("record %s evicted: %v", id, err)
		}
	}
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusStarting, StatusProcessing, true},
		{StatusStarting, StatusCancelled, true},
		{StatusStarting, StatusCancelling, false},
		{StatusProcessing, StatusCancelling, true},
		{StatusProcessing, StatusComplete, true},
		{StatusCancelling, StatusCancelled, true},
		{StatusCancelling, StatusComplete, false},
		{StatusCancelling, StatusError, false},
		{StatusComplete, StatusError, false},
		{StatusCancelled, StatusProcessing, false},
		{StatusError, StatusComplete, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.ok {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestRecordTransitionStampsTimes(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := NewRecord("a", KindSplit, now)

	if err := rec.transition(StatusProcessing, now.Add(time.Second)); err != nil {
		t.Fatalf("transition returned error: %v", err)
	}
	if rec.StartedAt == nil || !rec.StartedAt.Equal(now.Add(time.Second)) {
		t.Fatalf("StartedAt not set: %v", rec.StartedAt)
	}
	if err := rec.transition(StatusComplete, now.Add(2*time.Second)); err != nil {
		t.Fatalf("transition returned error: %v", err)
	}
	if rec.FinishedAt == nil {
		t.Fatal("FinishedAt not set")
	}
	if err := rec.transition(StatusError, now.Add(3*time.Second)); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}
