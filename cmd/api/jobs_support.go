package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/paperworks/internal/config"
	"github.com/yourusername/paperworks/internal/jobs"
	"github.com/yourusername/paperworks/internal/pdf"
	"github.com/yourusername/paperworks/internal/storage"
)

// jobBackend はジョブ処理に必要な依存一式です。close は起動と逆順に後片付けします。
type jobBackend struct {
	runner  *jobs.Runner
	results storage.Storage
	closers []func()
}

func (b *jobBackend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func setupStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	if cfg.MinIO.Enabled() {
		return storage.NewMinIO(ctx, storage.MinIOConfig{
			Endpoint:        cfg.MinIO.Endpoint,
			AccessKeyID:     cfg.MinIO.AccessKeyID,
			SecretAccessKey: cfg.MinIO.SecretAccessKey,
			UseSSL:          cfg.MinIO.UseSSL,
			Bucket:          cfg.MinIO.Bucket,
			BasePath:        cfg.MinIO.BasePath,
			URLExpiry:       cfg.ResultURLExpiry,
		})
	}
	return storage.NewLocal(cfg.OutputDir)
}

func setupStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (jobs.Store, func(), error) {
	if cfg.StoreBackend == config.StoreBackendRedis {
		opt, err := redis.ParseURL(cfg.StoreRedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse STORE_REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		store := jobs.NewRedisStore(rdb, cfg.JobTTL())
		if err := store.Ping(ctx); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return store, func() { _ = rdb.Close() }, nil
	}

	store := jobs.NewMemoryStore()
	janitorCtx, stop := context.WithCancel(context.Background())
	go store.RunJanitor(janitorCtx, time.Minute, logger)
	return store, stop, nil
}

func setupDispatcher(cfg *config.Config, logger *slog.Logger) (jobs.Dispatcher, error) {
	if cfg.QueueBackend == config.QueueBackendAsynq {
		return jobs.NewAsynqDispatcher(jobs.AsynqConfig{
			RedisURL:    cfg.QueueRedisURL,
			Concurrency: cfg.WorkerConcurrency,
			MaxPending:  cfg.QueueSize,
			Logger:      logger,
		})
	}
	return jobs.NewPool(jobs.PoolConfig{
		Name:        "pdf",
		Logger:      logger,
		WorkerCount: cfg.WorkerConcurrency,
		QueueSize:   cfg.QueueSize,
	}), nil
}

// setupJobs は設定に従ってストア・ディスパッチャー・通知・成果物ストレージを組み立て、Runner を起動します。
func setupJobs(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *jobBackend, _ *pdf.Service, err error) {
	backend := &jobBackend{}
	defer func() {
		if err != nil {
			backend.close()
		}
	}()

	results, err := setupStorage(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	backend.results = results

	svc, err := pdf.NewService(pdf.Config{
		WorkDir:     cfg.WorkDir,
		MaxFileSize: cfg.MaxFileSize,
		MaxPages:    cfg.MaxPages,
	}, pdf.NewEngine(cfg.GhostscriptPath), results, logger)
	if err != nil {
		return nil, nil, err
	}

	store, closeStore, err := setupStore(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	backend.closers = append(backend.closers, closeStore)

	var notifier jobs.Notifier
	if cfg.NATSURL != "" {
		nn, err := jobs.NewNATSNotifier(jobs.NATSConfig{
			URL:           cfg.NATSURL,
			Name:          "paperworks-api",
			Subject:       cfg.NATSSubject,
			MaxReconnects: -1,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		notifier = nn
		backend.closers = append(backend.closers, func() {
			if err := nn.Close(); err != nil {
				logger.Warn("failed to drain nats connection", "error", err)
			}
		})
	}

	dispatcher, err := setupDispatcher(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	runner, err := jobs.NewRunner(jobs.RunnerConfig{
		Store:      store,
		Dispatcher: dispatcher,
		Notifier:   notifier,
		Resolver:   svc.ResolveTask,
		Logger:     logger,
		ResultTTL:  cfg.JobTTL(),
	})
	if err != nil {
		return nil, nil, err
	}
	if err := runner.Start(); err != nil {
		return nil, nil, err
	}
	backend.runner = runner
	backend.closers = append(backend.closers, runner.Shutdown)
	return backend, svc, nil
}

// jobReader はジョブの参照とキャンセルを提供します。*jobs.Runner が実装します。
type jobReader interface {
	Get(ctx context.Context, id string) (*jobs.Record, error)
	Cancel(ctx context.Context, id string) (*jobs.Record, error)
}

func jobIDParam(c *gin.Context) (string, bool) {
	jobID := strings.TrimSpace(c.Param("id"))
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    pdf.CodeInvalidInput,
			"message": "jobId を指定してください。",
		})
		return "", false
	}
	return jobID, true
}

func jobPayload(record *jobs.Record, baseURL string) gin.H {
	payload := gin.H{
		"jobId":           record.JobID,
		"kind":            record.Kind,
		"status":          record.Status,
		"progress":        record.Progress,
		"cancelRequested": record.CancelRequested,
		"createdAt":       record.CreatedAt,
		"updatedAt":       record.UpdatedAt,
	}
	if record.StartedAt != nil {
		payload["startedAt"] = record.StartedAt
	}
	if record.FinishedAt != nil {
		payload["finishedAt"] = record.FinishedAt
	}
	if record.Result != nil {
		result := *record.Result
		if result.DownloadURL == "" {
			result.DownloadURL = strings.TrimRight(baseURL, "/") + "/api/jobs/" + record.JobID + "/download"
		}
		payload["result"] = result
		payload["downloadUrl"] = result.DownloadURL
	}
	if record.Meta != nil {
		payload["meta"] = record.Meta
	}
	if record.Error != nil {
		payload["error"] = record.Error
	}
	return payload
}

func jobStatusHandler(runner jobReader, baseURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID, ok := jobIDParam(c)
		if !ok {
			return
		}
		record, err := runner.Get(c.Request.Context(), jobID)
		if err != nil {
			pdf.RespondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, jobPayload(record, baseURL))
	}
}

func jobCancelHandler(runner jobReader, baseURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID, ok := jobIDParam(c)
		if !ok {
			return
		}
		record, err := runner.Cancel(c.Request.Context(), jobID)
		if err != nil {
			pdf.RespondWithError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, jobPayload(record, baseURL))
	}
}

func jobDownloadHandler(runner jobReader, results storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID, ok := jobIDParam(c)
		if !ok {
			return
		}
		record, err := runner.Get(c.Request.Context(), jobID)
		if err != nil {
			pdf.RespondWithError(c, err)
			return
		}
		if record.Status != jobs.StatusComplete || record.Result == nil {
			c.JSON(http.StatusConflict, gin.H{
				"code":    "JOB_NOT_COMPLETE",
				"message": "ジョブはまだ完了していません。",
				"status":  record.Status,
			})
			return
		}
		result := record.Result
		if result.DownloadURL != "" {
			c.Redirect(http.StatusFound, result.DownloadURL)
			return
		}

		body, size, err := results.Open(c.Request.Context(), result.Key)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				c.JSON(http.StatusNotFound, gin.H{
					"code":    "JOB_RESULT_NOT_FOUND",
					"message": "ジョブの成果物が見つかりませんでした。",
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    pdf.CodeInternal,
				"message": "ジョブの成果物取得に失敗しました。",
			})
			return
		}
		defer body.Close()

		contentType := pdf.ContentType(result.Kind)
		c.Header("Content-Disposition", pdf.ContentDisposition(result.Filename))
		c.Header("Cache-Control", "no-store")
		c.Header("X-Job-Id", record.JobID)
		c.DataFromReader(http.StatusOK, size, contentType, body, nil)
	}
}
