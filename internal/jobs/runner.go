// Package jobs は変換ジョブの登録・実行・進捗・キャンセルを管理します。
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Result は変換処理が公開した成果物です。
type Result struct {
	Key         string
	Filename    string
	Kind        string
	Size        int64
	DownloadURL string
	Meta        any
}

// Operation はジョブ本体です。report が false を返したら ErrCancelled を返して終了します。
type Operation func(ctx context.Context, report Reporter, cancelled CancelChecker) (*Result, error)

// Task は Runner に投入する実行単位です。
type Task struct {
	Kind Kind
	// Ref は別プロセスのワーカーが TaskResolver でタスクを復元するための参照です。
	Ref string
	Run Operation
	// Cleanup は終端状態を書き込む前に必ず1回呼ばれます。
	Cleanup func()
	// Discard は成果物の公開後にキャンセルが優先された場合に呼ばれます。
	Discard func(ctx context.Context, res *Result)
}

// TaskResolver はこのプロセスで投入されていないジョブのタスクを復元します。
type TaskResolver func(ctx context.Context, rec *Record) (Task, error)

// RunnerConfig は Runner の依存関係です。
type RunnerConfig struct {
	Store      Store
	Dispatcher Dispatcher
	Notifier   Notifier
	Resolver   TaskResolver
	Logger     *slog.Logger
	// ResultTTL は終端状態になったレコードを保持する期間です。
	ResultTTL time.Duration
}

// Runner はジョブの投入・キャンセル・実行を担います。
type Runner struct {
	store      Store
	dispatcher Dispatcher
	notifier   Notifier
	resolver   TaskResolver
	logger     *slog.Logger
	ttl        time.Duration
	now        func() time.Time
	newID      func() string

	mu    sync.Mutex
	tasks map[string]*entry
}

type entry struct {
	task        Task
	token       *Token
	cleanupOnce sync.Once
	// claimed はこのプロセスのワーカーが実行を始めたことを示します。r.mu で保護します。
	claimed bool
}

func (e *entry) cleanup() {
	e.cleanupOnce.Do(func() {
		if e.task.Cleanup != nil {
			e.task.Cleanup()
		}
	})
}

var errNotRunnable = errors.New("job is not in a runnable state")

// NewRunner は Runner を作成します。
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is nil")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("dispatcher is nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.ResultTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Runner{
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		notifier:   cfg.Notifier,
		resolver:   cfg.Resolver,
		logger:     logger.With("component", "runner"),
		ttl:        ttl,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
		tasks:      make(map[string]*entry),
	}, nil
}

// Start はディスパッチャーのワーカーを起動します。
func (r *Runner) Start() error {
	return r.dispatcher.Start(r.execute)
}

// Shutdown はワーカーを停止します。実行中のジョブは error で終わります。
func (r *Runner) Shutdown() {
	r.dispatcher.Shutdown()
}

// Status はワーカー状態を返します。
func (r *Runner) Status() PoolStatus {
	return r.dispatcher.Status()
}

// Submit はジョブを登録してワーカーに渡します。
// 受け付けられなかった場合（ErrQueueFull 等）はレコードを残さず、Cleanup を呼んでから返します。
func (r *Runner) Submit(ctx context.Context, task Task) (*Record, error) {
	if task.Run == nil {
		return nil, errors.New("task has no operation")
	}
	if !task.Kind.Valid() {
		return nil, fmt.Errorf("unknown job kind %q", task.Kind)
	}

	rec := NewRecord(r.newID(), task.Kind, r.now())
	rec.TaskRef = task.Ref
	e := &entry{task: task, token: NewToken()}

	if err := r.store.Create(ctx, rec); err != nil {
		e.cleanup()
		return nil, fmt.Errorf("failed to register job: %w", err)
	}
	r.mu.Lock()
	r.tasks[rec.JobID] = e
	r.mu.Unlock()

	if err := r.dispatcher.Dispatch(ctx, rec.JobID); err != nil {
		r.forget(rec.JobID)
		if delErr := r.store.Delete(context.WithoutCancel(ctx), rec.JobID); delErr != nil {
			r.logger.Warn("failed to remove rejected job", "job_id", rec.JobID, "error", delErr)
		}
		e.cleanup()
		return nil, err
	}
	if r.remoteExecution() {
		// 実行するワーカーは Resolver でタスクを復元するので、ここで保持し続けない
		r.dropUnclaimed(rec.JobID, e)
	}

	r.logger.Info("job submitted", "job_id", rec.JobID, "kind", rec.Kind)
	return rec, nil
}

// remoteExecution は投入したジョブが別プロセスで実行され得るかどうかを返します。
// Resolver がなければ別プロセスはタスクを復元できないため false です。
func (r *Runner) remoteExecution() bool {
	d, ok := r.dispatcher.(distributedDispatcher)
	return ok && d.Distributed() && r.resolver != nil
}

// dropUnclaimed は e がまだ実行されていなければ登録を外します。
func (r *Runner) dropUnclaimed(id string, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.tasks[id]; ok && cur == e && !e.claimed {
		delete(r.tasks, id)
	}
}

// Get はジョブの現在のスナップショットを返します。
func (r *Runner) Get(ctx context.Context, id string) (*Record, error) {
	return r.store.Get(ctx, id)
}

// Cancel はジョブのキャンセルを要求します。
//
// starting のジョブは即座に cancelled へ、processing のジョブは cancelling へ遷移し、
// ワーカーが停止した時点で cancelled になります。既に cancelling なら何もしません。
func (r *Runner) Cancel(ctx context.Context, id string) (*Record, error) {
	var previous Status
	rec, err := r.store.Update(ctx, id, func(rec *Record) error {
		previous = rec.Status
		now := r.now()
		switch rec.Status {
		case StatusStarting:
			rec.CancelRequested = true
			rec.Progress.Message = "cancelled"
			rec.ExpiresAt = now.Add(r.ttl)
			return rec.transition(StatusCancelled, now)
		case StatusProcessing:
			rec.CancelRequested = true
			rec.Progress.Message = "cancelling"
			return rec.transition(StatusCancelling, now)
		case StatusCancelling:
			return nil
		default:
			return fmt.Errorf("%w: %s is %s", ErrJobFinished, id, rec.Status)
		}
	})
	if err != nil {
		return nil, err
	}
	if previous == StatusCancelling {
		return rec, nil
	}

	r.mu.Lock()
	e := r.tasks[id]
	r.mu.Unlock()
	if e != nil {
		e.token.RequestCancel()
		if rec.Status == StatusCancelled {
			e.cleanup()
			r.forget(id)
		}
	}

	r.logger.Info("job cancel requested", "job_id", id, "status", rec.Status)
	r.notify(ctx, rec)
	return rec, nil
}

// execute は Dispatcher から呼ばれ、1つのジョブを終端状態まで進めます。
func (r *Runner) execute(ctx context.Context, id string) error {
	storeCtx := context.WithoutCancel(ctx)
	logger := r.logger.With("job_id", id)

	if ctx.Err() != nil {
		r.abandon(storeCtx, id, "worker stopped before the job started")
		return ctx.Err()
	}

	rec, err := r.store.Update(storeCtx, id, func(rec *Record) error {
		if rec.Status != StatusStarting {
			return errNotRunnable
		}
		rec.Progress.Message = "processing"
		return rec.transition(StatusProcessing, r.now())
	})
	if err != nil {
		r.release(storeCtx, id)
		if errors.Is(err, errNotRunnable) || errors.Is(err, ErrNotFound) {
			logger.Debug("skipping job", "reason", err)
			return nil
		}
		return err
	}

	e, err := r.lookup(ctx, rec)
	if err != nil {
		logger.Error("no task for job", "error", err)
		r.finish(storeCtx, nil, rec.JobID, nil, err)
		return err
	}
	defer r.forget(id)

	logger.Info("job started", "kind", rec.Kind)
	runCtx, stop := e.token.Context(ctx)
	report := newReporter(storeCtx, r.store, id, e.token, logger)
	result, runErr := r.run(runCtx, e.task, report, e.token.Checker())
	stop()
	if runErr != nil && ctx.Err() != nil && !e.token.IsCancelled() {
		runErr = fmt.Errorf("worker stopped: %w", runErr)
	}

	e.cleanup()
	final := r.finish(storeCtx, e, id, result, runErr)
	if final != nil {
		logger.Info("job finished", "status", final.Status)
	}
	return nil
}

func (r *Runner) run(ctx context.Context, task Task, report Reporter, cancelled CancelChecker) (res *Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("operation panicked", "panic", p, "stack", string(debug.Stack()))
			res, err = nil, fmt.Errorf("operation panicked: %v", p)
		}
	}()
	return task.Run(ctx, report, cancelled)
}

// finish は実行結果を唯一の終端状態に写像して書き込みます。キャンセル要求は成功・失敗より優先されます。
func (r *Runner) finish(ctx context.Context, e *entry, id string, result *Result, runErr error) *Record {
	discard := false
	rec, err := r.store.Update(ctx, id, func(rec *Record) error {
		if rec.Status.Terminal() {
			return errNotRunnable
		}
		now := r.now()
		discard = false
		cancelled := rec.CancelRequested || errors.Is(runErr, ErrCancelled) || (e != nil && e.token.IsCancelled())
		var to Status
		switch {
		case cancelled:
			to = StatusCancelled
			rec.Result, rec.Error = nil, nil
			rec.Progress.Message = "cancelled"
			discard = result != nil
		case runErr != nil:
			to = StatusError
			rec.Error = errorInfoFrom(runErr)
			rec.Progress.Message = "failed"
		case result == nil:
			to = StatusError
			rec.Error = &ErrorInfo{Code: "INTERNAL_ERROR", Message: "operation returned no result"}
			rec.Progress.Message = "failed"
		default:
			to = StatusComplete
			rec.Result = &ResultInfo{
				Key:         result.Key,
				Filename:    result.Filename,
				Kind:        result.Kind,
				Size:        result.Size,
				DownloadURL: result.DownloadURL,
			}
			rec.Meta = result.Meta
			rec.Progress.Percent = 100
			rec.Progress.Message = "completed"
		}
		rec.ExpiresAt = now.Add(r.ttl)
		return rec.transition(to, now)
	})
	if err != nil {
		if !errors.Is(err, errNotRunnable) {
			r.logger.Error("failed to record job outcome", "job_id", id, "error", err)
		}
		return nil
	}
	if discard && e != nil && e.task.Discard != nil {
		e.task.Discard(ctx, result)
	}
	r.notify(ctx, rec)
	return rec
}

// abandon は実行前にワーカーが停止したジョブを error で終わらせます。
func (r *Runner) abandon(ctx context.Context, id, reason string) {
	defer r.release(ctx, id)
	rec, err := r.store.Update(ctx, id, func(rec *Record) error {
		if rec.Status != StatusStarting {
			return errNotRunnable
		}
		now := r.now()
		rec.Error = &ErrorInfo{Code: "WORKER_SHUTDOWN", Message: reason}
		rec.ExpiresAt = now.Add(r.ttl)
		return rec.transition(StatusError, now)
	})
	if err == nil {
		r.notify(ctx, rec)
	}
}

func (r *Runner) lookup(ctx context.Context, rec *Record) (*entry, error) {
	r.mu.Lock()
	e, ok := r.tasks[rec.JobID]
	if ok {
		e.claimed = true
	}
	r.mu.Unlock()
	if ok {
		return e, nil
	}
	if r.resolver == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, rec.JobID)
	}
	task, err := r.resolver(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnknownTask, rec.JobID, err)
	}
	e = &entry{task: task, token: NewToken(), claimed: true}
	r.mu.Lock()
	r.tasks[rec.JobID] = e
	r.mu.Unlock()
	return e, nil
}

// release は実行されないジョブの入力を片付けます。別プロセスで投入されたジョブは復元してから片付けます。
func (r *Runner) release(ctx context.Context, id string) {
	r.mu.Lock()
	e := r.tasks[id]
	r.mu.Unlock()
	if e == nil && r.resolver != nil {
		if rec, err := r.store.Get(ctx, id); err == nil {
			if task, err := r.resolver(ctx, rec); err == nil {
				e = &entry{task: task, token: NewToken()}
			}
		}
	}
	if e != nil {
		e.cleanup()
		r.forget(id)
	}
}

func (r *Runner) forget(id string) {
	r.mu.Lock()
	delete(r.tasks, id)
	r.mu.Unlock()
}

func (r *Runner) notify(ctx context.Context, rec *Record) {
	if r.notifier == nil || rec == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	r.notifier.Notify(nctx, rec)
}
