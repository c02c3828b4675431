package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/yourusername/paperworks/internal/config"
	"github.com/yourusername/paperworks/internal/jobs"
	"github.com/yourusername/paperworks/internal/logging"
	"github.com/yourusername/paperworks/internal/pdf"
	"github.com/yourusername/paperworks/internal/storage"
)

const pollInterval = 200 * time.Millisecond

// localEnv はCLI向けにプロセス内で完結するジョブ実行環境です。
type localEnv struct {
	svc     *pdf.Service
	runner  *jobs.Runner
	results *storage.Local
	logger  *slog.Logger
}

func newLocalEnv(stderr io.Writer) (*localEnv, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, stderr)

	dir := cfg.OutputDir
	if outDir != "" {
		dir = outDir
	}
	results, err := storage.NewLocal(dir)
	if err != nil {
		return nil, err
	}

	svc, err := pdf.NewService(pdf.Config{
		WorkDir:     filepath.Join(cfg.WorkDir, "cli"),
		MaxFileSize: cfg.MaxFileSize,
		MaxPages:    cfg.MaxPages,
	}, pdf.NewEngine(cfg.GhostscriptPath), results, logger)
	if err != nil {
		return nil, err
	}

	runner, err := jobs.NewRunner(jobs.RunnerConfig{
		Store: jobs.NewMemoryStore(),
		Dispatcher: jobs.NewPool(jobs.PoolConfig{
			Name:        "pfctl",
			Logger:      logger,
			WorkerCount: 1,
			QueueSize:   1,
		}),
		Resolver:  svc.ResolveTask,
		Logger:    logger,
		ResultTTL: cfg.JobTTL(),
	})
	if err != nil {
		return nil, err
	}
	return &localEnv{svc: svc, runner: runner, results: results, logger: logger}, nil
}

// run は入力を検証してジョブを投入し、終端状態になるまで進捗を out に表示します。
func (e *localEnv) run(ctx context.Context, out io.Writer, kind jobs.Kind, paths []string, opts pdf.Options) (*jobs.Record, error) {
	uploads := make([]pdf.Upload, len(paths))
	for i, p := range paths {
		up, err := pdf.FromPath(p)
		if err != nil {
			return nil, err
		}
		uploads[i] = up
	}

	if err := e.runner.Start(); err != nil {
		return nil, err
	}
	defer e.runner.Shutdown()

	manifest, err := e.svc.Prepare(ctx, kind, uploads, opts)
	if err != nil {
		return nil, err
	}
	record, err := e.runner.Submit(ctx, e.svc.Task(manifest))
	if err != nil {
		return nil, err
	}
	return waitJob(ctx, e.runner, record.JobID, out)
}

type jobWatcher interface {
	Get(ctx context.Context, id string) (*jobs.Record, error)
	Cancel(ctx context.Context, id string) (*jobs.Record, error)
}

// waitJob はジョブが終端状態になるまでポーリングします。
// ctx が終了したら一度だけキャンセルを要求し、その後もワーカーの停止を待ちます。
func waitJob(ctx context.Context, runner jobWatcher, id string, out io.Writer) (*jobs.Record, error) {
	bg := context.WithoutCancel(ctx)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	done := ctx.Done()
	lastPercent, lastMessage := -1, ""
	for {
		record, err := runner.Get(bg, id)
		if err != nil {
			return nil, err
		}
		if p := record.Progress; p.Percent != lastPercent || p.Message != lastMessage {
			fmt.Fprintf(out, "[%3d%%] %s\n", p.Percent, p.Message)
			lastPercent, lastMessage = p.Percent, p.Message
		}
		if record.Status.Terminal() {
			return record, nil
		}

		select {
		case <-done:
			done = nil
			fmt.Fprintln(out, "キャンセルを要求しています…")
			if _, err := runner.Cancel(bg, id); err != nil && !errors.Is(err, jobs.ErrJobFinished) {
				return nil, err
			}
		case <-ticker.C:
		}
	}
}

// outcome は終端状態のレコードをコマンドの結果に変換します。
func outcome(record *jobs.Record, dir string, out io.Writer) error {
	switch record.Status {
	case jobs.StatusComplete:
		fmt.Fprintf(out, "完了: %s (%d bytes)\n", filepath.Join(dir, record.Result.Key), record.Result.Size)
		return nil
	case jobs.StatusCancelled:
		return errors.New("ジョブはキャンセルされました")
	default:
		if record.Error != nil {
			return fmt.Errorf("%s: %s", record.Error.Code, record.Error.Message)
		}
		return fmt.Errorf("job ended in %s", record.Status)
	}
}
