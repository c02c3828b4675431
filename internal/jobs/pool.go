package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ErrDispatcherClosed は停止済みのディスパッチャーにジョブを投入した場合に返されます。
var ErrDispatcherClosed = errors.New("dispatcher is shut down")

// Handler はジョブIDを受け取り、そのジョブを最後まで実行します。
type Handler func(ctx context.Context, jobID string) error

// Dispatcher はジョブIDをワーカーに届けます。
type Dispatcher interface {
	Start(handler Handler) error
	Dispatch(ctx context.Context, jobID string) error
	Status() PoolStatus
	Shutdown()
}

// distributedDispatcher は他プロセスのワーカーにジョブを届け得るディスパッチャーが実装します。
type distributedDispatcher interface {
	Distributed() bool
}

// PoolStatus はヘルスチェック向けのワーカー状態です。
type PoolStatus struct {
	Name       string `json:"name"`
	Backend    string `json:"backend"`
	Workers    int    `json:"workers"`
	InFlight   int    `json:"inFlight"`
	QueueDepth int    `json:"queueDepth"`
	QueueSize  int    `json:"queueSize"`
}

// PoolConfig は Pool の設定です。
type PoolConfig struct {
	Name        string
	Logger      *slog.Logger
	WorkerCount int // 同時実行数（既定: 2）
	QueueSize   int // 待機できるジョブ数の上限（既定: 16）
}

// Pool はプロセス内の固定数ワーカーでジョブを処理する Dispatcher です。
// すべてのワーカーが1つのキューを共有します。キューが満杯なら投入を拒否します。
type Pool struct {
	name        string
	logger      *slog.Logger
	workerCount int
	queue       chan string

	mu      sync.Mutex
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	closed  bool

	inFlight atomic.Int32
}

// NewPool は Pool を作成します。
func NewPool(cfg PoolConfig) *Pool {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := cfg.Name
	if name == "" {
		name = "pdf"
	}
	workers := cfg.WorkerCount
	if workers <= 0 {
		workers = 2
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 16
	}
	return &Pool{
		name:        name,
		logger:      logger.With("pool", name, "workers", workers),
		workerCount: workers,
		queue:       make(chan string, queueSize),
	}
}

// Start はワーカーを起動します。
func (p *Pool) Start(handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler is nil")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.group != nil || p.closed {
		return fmt.Errorf("pool %s already started", p.name)
	}
	p.handler = handler
	p.ctx, p.cancel = context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(p.ctx)
	for i := 0; i < p.workerCount; i++ {
		id := i
		g.Go(func() error {
			p.worker(ctx, id)
			return nil
		})
	}
	p.group = g
	p.logger.Info("worker pool started", "queue_size", cap(p.queue))
	return nil
}

func (p *Pool) worker(ctx context.Context, id int) {
	p.logger.Debug("worker started", "worker_id", id)
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-p.queue:
			p.inFlight.Add(1)
			if err := p.handler(ctx, jobID); err != nil {
				p.logger.Warn("job handler failed", "worker_id", id, "job_id", jobID, "error", err)
			}
			p.inFlight.Add(-1)
		}
	}
}

// Dispatch はジョブをキューに積みます。ブロックせず、満杯なら ErrQueueFull を返します。
func (p *Pool) Dispatch(_ context.Context, jobID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrDispatcherClosed
	}
	select {
	case p.queue <- jobID:
		p.logger.Debug("job accepted", "job_id", jobID, "queue_len", len(p.queue))
		return nil
	default:
		p.logger.Warn("job queue full", "job_id", jobID)
		return fmt.Errorf("%w: %s", ErrQueueFull, p.name)
	}
}

// Status は現在のプール状態を返します。
func (p *Pool) Status() PoolStatus {
	return PoolStatus{
		Name:       p.name,
		Backend:    "local",
		Workers:    p.workerCount,
		InFlight:   int(p.inFlight.Load()),
		QueueDepth: len(p.queue),
		QueueSize:  cap(p.queue),
	}
}

// Shutdown はワーカーを停止し、実行中のジョブの終了を待ちます。
// キューに残ったジョブは停止済みの context でハンドラに渡し、終端状態にさせます。
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	group, cancel, handler, ctx := p.group, p.cancel, p.handler, p.ctx
	p.mu.Unlock()

	if group == nil {
		return
	}
	cancel()
	_ = group.Wait()

	for {
		select {
		case jobID := <-p.queue:
			if err := handler(ctx, jobID); err != nil {
				p.logger.Debug("drained job", "job_id", jobID, "error", err)
			}
		default:
			p.logger.Info("worker pool stopped")
			return
		}
	}
}
