package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hibiken/asynq"
)

const (
	taskTypePDF = "pdf:process"
	asynqQueue  = "pdf"
)

// AsynqConfig は AsynqDispatcher の設定です。
type AsynqConfig struct {
	RedisURL    string
	Concurrency int
	// MaxPending は待機中タスク数の上限です。0 以下なら制限しません。
	MaxPending int
	Logger     *slog.Logger
}

// AsynqDispatcher は Redis 上の Asynq キューでジョブを配送する Dispatcher です。
// 複数プロセスでワーカーを共有する場合に使います。
type AsynqDispatcher struct {
	client      *asynq.Client
	server      *asynq.Server
	inspector   *asynq.Inspector
	mux         *asynq.ServeMux
	concurrency int
	maxPending  int
	logger      *slog.Logger

	mu      sync.Mutex
	started bool
}

type taskPayload struct {
	JobID string `json:"jobId"`
}

// NewAsynqDispatcher は AsynqDispatcher を初期化します。
func NewAsynqDispatcher(cfg AsynqConfig) (*AsynqDispatcher, error) {
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				asynqQueue: 1,
			},
		},
	)
	return &AsynqDispatcher{
		client:      asynq.NewClient(opt),
		server:      server,
		inspector:   asynq.NewInspector(opt),
		mux:         asynq.NewServeMux(),
		concurrency: concurrency,
		maxPending:  cfg.MaxPending,
		logger:      logger.With("dispatcher", "asynq"),
	}, nil
}

// Start は Asynq サーバーをバックグラウンドで起動します。
func (d *AsynqDispatcher) Start(handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler is nil")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return fmt.Errorf("asynq dispatcher already started")
	}
	d.mux.HandleFunc(taskTypePDF, func(ctx context.Context, task *asynq.Task) error {
		var payload taskPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("%w: invalid payload: %v", asynq.SkipRetry, err)
		}
		if payload.JobID == "" {
			return fmt.Errorf("%w: missing jobId in payload", asynq.SkipRetry)
		}
		if err := handler(ctx, payload.JobID); err != nil {
			if errors.Is(err, ErrUnknownTask) {
				return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
			}
			return err
		}
		return nil
	})
	if err := d.server.Start(d.mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	d.started = true
	d.logger.Info("asynq server started", "concurrency", d.concurrency)
	return nil
}

// Dispatch はジョブをキューに投入します。
func (d *AsynqDispatcher) Dispatch(ctx context.Context, jobID string) error {
	if jobID == "" {
		return fmt.Errorf("jobID is required")
	}
	if d.maxPending > 0 {
		if pending := d.pending(); pending >= d.maxPending {
			return fmt.Errorf("%w: %d tasks pending", ErrQueueFull, pending)
		}
	}
	body, err := json.Marshal(taskPayload{JobID: jobID})
	if err != nil {
		return err
	}
	task := asynq.NewTask(taskTypePDF, body, asynq.Queue(asynqQueue))
	info, err := d.client.EnqueueContext(ctx, task, asynq.MaxRetry(0))
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", jobID, err)
	}
	d.logger.Debug("job enqueued", "job_id", jobID, "task_id", info.ID)
	return nil
}

// Distributed は true を返します。投入したジョブは別プロセスのワーカーが実行し得ます。
func (d *AsynqDispatcher) Distributed() bool { return true }

// pending は待機中のタスク数を返します。キューがまだ存在しなければ 0 です。
func (d *AsynqDispatcher) pending() int {
	info, err := d.inspector.GetQueueInfo(asynqQueue)
	if err != nil {
		return 0
	}
	return info.Pending + info.Scheduled
}

func (d *AsynqDispatcher) Status() PoolStatus {
	status := PoolStatus{
		Name:      asynqQueue,
		Backend:   "asynq",
		Workers:   d.concurrency,
		QueueSize: d.maxPending,
	}
	if info, err := d.inspector.GetQueueInfo(asynqQueue); err == nil {
		status.InFlight = info.Active
		status.QueueDepth = info.Pending + info.Scheduled
	}
	return status
}

// Shutdown はサーバーとクライアントを閉じます。
func (d *AsynqDispatcher) Shutdown() {
	d.mu.Lock()
	started := d.started
	d.started = false
	d.mu.Unlock()
	if started {
		d.server.Shutdown()
	}
	if err := d.client.Close(); err != nil {
		d.logger.Warn("failed to close asynq client", "error", err)
	}
	if err := d.inspector.Close(); err != nil {
		d.logger.Warn("failed to close asynq inspector", "error", err)
	}
}
