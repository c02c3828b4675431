package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

type recordingNotifier struct {
	events chan Event
}

func (n *recordingNotifier) Notify(_ context.Context, rec *Record) {
	n.events <- eventFrom(rec)
}

func (n *recordingNotifier) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-n.events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

func newNotifyingRunner(t *testing.T) (*Runner, *recordingNotifier) {
	t.Helper()
	notifier := &recordingNotifier{events: make(chan Event, 8)}
	runner, err := NewRunner(RunnerConfig{
		Store:      NewMemoryStore(),
		Dispatcher: NewPool(PoolConfig{Name: "test", WorkerCount: 1, QueueSize: 4, Logger: discardLogger()}),
		Notifier:   notifier,
		Logger:     discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewRunner returned error: %v", err)
	}
	if err := runner.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	t.Cleanup(runner.Shutdown)
	return runner, notifier
}

func TestRunnerNotifiesTerminalState(t *testing.T) {
	runner, notifier := newNotifyingRunner(t)
	rec, err := runner.Submit(context.Background(), Task{
		Kind: KindCompress,
		Run: func(ctx context.Context, report Reporter, cancelled CancelChecker) (*Result, error) {
			return &Result{Key: "out.pdf", Filename: "out.pdf", Kind: "pdf", Size: 7}, nil
		},
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	ev := notifier.next(t)
	if ev.JobID != rec.JobID || ev.Status != StatusComplete || ev.Kind != KindCompress {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Result == nil || ev.Result.Key != "out.pdf" {
		t.Fatalf("event is missing result: %+v", ev)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("failed to encode event: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}
	if decoded["jobId"] != rec.JobID || decoded["status"] != "complete" {
		t.Fatalf("unexpected payload: %s", data)
	}
	if _, ok := decoded["error"]; ok {
		t.Fatalf("error should be omitted: %s", data)
	}
}

func TestRunnerNotifiesCancellingThenCancelled(t *testing.T) {
	runner, notifier := newNotifyingRunner(t)
	started := make(chan struct{})
	rec, err := runner.Submit(context.Background(), Task{
		Kind: KindSplit,
		Run: func(ctx context.Context, report Reporter, cancelled CancelChecker) (*Result, error) {
			report(Units(1, 10, "page 1"))
			close(started)
			<-ctx.Done()
			return nil, ErrCancelled
		},
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	<-started

	if _, err := runner.Cancel(context.Background(), rec.JobID); err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	// the cancel request and the worker publish independently, so order is not fixed
	seen := map[Status]Event{}
	for i := 0; i < 2; i++ {
		ev := notifier.next(t)
		seen[ev.Status] = ev
	}
	if _, ok := seen[StatusCancelling]; !ok {
		t.Fatalf("missing cancelling event: %v", seen)
	}
	if ev, ok := seen[StatusCancelled]; !ok || ev.Error != nil {
		t.Fatalf("unexpected cancelled event: %v", seen)
	}
}
