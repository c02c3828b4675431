// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/paperworks/internal/config"
	"github.com/yourusername/paperworks/internal/jobs"
	"github.com/yourusername/paperworks/internal/logging"
	"github.com/yourusername/paperworks/internal/pdf"
	"github.com/yourusername/paperworks/internal/storage"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfgFile := flag.String("config", "", "設定ファイル（YAML）のパス")
	flag.Parse()

	// 設定の読み込み
	cfg, err := config.Load(*cfgFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, svc, err := setupJobs(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to set up job backend", "error", err)
		os.Exit(1)
	}
	defer backend.close()

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()
	router.MaxMultipartMemory = 32 << 20

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	corsConfig.AllowOrigins = splitOrigins(cfg.CORSAllowedOrigins)
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	// ダウンロード時にファイル名とジョブIDを読めるように公開
	corsConfig.ExposeHeaders = []string{"Content-Disposition", "X-Job-Id"}
	router.Use(cors.New(corsConfig))

	// ルーティングの設定
	setupRoutes(router, cfg, backend.runner, svc, backend.results)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting API server", "addr", srv.Addr, "mode", cfg.GinMode,
			"queue", cfg.QueueBackend, "store", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped unexpectedly", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to shut down http server gracefully", "error", err)
	}
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// healthHandler はヘルスチェックエンドポイントのハンドラーです。ワーカーの状態も返します。
func healthHandler(runner *jobs.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "paperworks-api",
			"version": "0.2.0",
			"workers": runner.Status(),
		})
	}
}

// setupRoutes は API グループの配線を行います。
func setupRoutes(router *gin.Engine, cfg *config.Config, runner *jobs.Runner, svc *pdf.Service, results storage.Storage) {
	router.GET("/health", healthHandler(runner))

	api := router.Group("/api")
	{
		pdfRoutes := api.Group("/pdf")
		{
			for _, kind := range []jobs.Kind{
				jobs.KindCompress,
				jobs.KindSplit,
				jobs.KindCombine,
				jobs.KindFlatten,
				jobs.KindOptimize,
				jobs.KindExtract,
			} {
				pdfRoutes.POST("/"+string(kind), pdf.JobHandler(kind, svc, runner))
			}
			pdfRoutes.POST("/inspect", pdf.InspectHandler(svc))
		}

		jobRoutes := api.Group("/jobs")
		{
			jobRoutes.GET("/:id", jobStatusHandler(runner, cfg.JobResultBaseURL))
			jobRoutes.POST("/:id/cancel", jobCancelHandler(runner, cfg.JobResultBaseURL))
			jobRoutes.GET("/:id/download", jobDownloadHandler(runner, results))
		}
	}
}
