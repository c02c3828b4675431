// Package config は環境変数と設定ファイルから設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	QueueBackendLocal = "local"
	QueueBackendAsynq = "asynq"

	StoreBackendMemory = "memory"
	StoreBackendRedis  = "redis"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// ログ設定
	LogLevel  string // debug, info, warn, error
	LogFormat string // text, json

	// ファイル制限
	MaxFileSize      int64 // 単一ファイルの最大サイズ（バイト）
	MaxPages         int   // 単一ファイルの最大ページ数
	JobExpireMinutes int   // 終了したジョブを保持する期間（分）

	// 作業ディレクトリ
	WorkDir   string // アップロードと中間ファイルの置き場所
	OutputDir string // ローカルストレージの成果物出力先

	// ジョブ/キュー設定
	WorkerConcurrency int    // 同時に実行するジョブ数
	QueueSize         int    // 待機できるジョブ数の上限
	QueueBackend      string // local または asynq
	QueueRedisURL     string // Asynq用Redis接続URL
	StoreBackend      string // memory または redis
	StoreRedisURL     string // ジョブ状態保存用Redis接続URL
	JobResultBaseURL  string // 結果ファイル取得用のベースURL

	// PDF処理設定
	GhostscriptPath string // Ghostscript実行ファイルのパス

	// 成果物ストレージ（MinIO）。Endpoint が空ならローカルディスクに出力します。
	MinIO           MinIOConfig
	ResultURLExpiry time.Duration // 署名付きダウンロードURLの有効期間

	// ジョブイベント通知
	NATSURL     string
	NATSSubject string
}

// MinIOConfig は S3 互換ストレージの接続設定です。
type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	BasePath        string
}

// Enabled は MinIO が設定されているかを返します。
func (m MinIOConfig) Enabled() bool {
	return m.Endpoint != ""
}

// JobTTL は終了したジョブを保持する期間です。
func (c *Config) JobTTL() time.Duration {
	return time.Duration(c.JobExpireMinutes) * time.Minute
}

var defaults = map[string]any{
	"port":                 "8080",
	"gin_mode":             "debug",
	"cors_allowed_origins": "http://localhost:5173",
	"log_level":            "info",
	"log_format":           "text",
	"max_file_size":        int64(104857600), // 100MB
	"max_pages":            2000,
	"job_expire_minutes":   10,
	"work_dir":             filepath.Join(os.TempDir(), "paperworks"),
	"output_dir":           "output",
	"worker_concurrency":   2,
	"queue_size":           16,
	"queue_backend":        QueueBackendLocal,
	"queue_redis_url":      "redis://127.0.0.1:6379/0",
	"store_backend":        StoreBackendMemory,
	"store_redis_url":      "redis://127.0.0.1:6379/1",
	"job_result_base_url":  "",
	"ghostscript_path":     "gs",
	"minio_endpoint":       "",
	"minio_access_key":     "",
	"minio_secret_key":     "",
	"minio_bucket":         "paperworks",
	"minio_use_ssl":        false,
	"minio_base_path":      "results",
	"result_url_expiry":    "15m",
	"nats_url":             "",
	"nats_subject":         "paperworks.jobs",
}

// Load は設定を読み込みます。
// .env.local が存在すればそれを環境変数として取り込み、cfgFile（空なら CONFIG_FILE）の
// YAML を読み、最後に環境変数で上書きします。
func Load(cfgFile string) (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if cfgFile == "" {
		cfgFile = os.Getenv("CONFIG_FILE")
	}
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{
		Port:               v.GetString("port"),
		GinMode:            v.GetString("gin_mode"),
		CORSAllowedOrigins: v.GetString("cors_allowed_origins"),
		LogLevel:           strings.ToLower(v.GetString("log_level")),
		LogFormat:          strings.ToLower(v.GetString("log_format")),
		MaxFileSize:        v.GetInt64("max_file_size"),
		MaxPages:           v.GetInt("max_pages"),
		JobExpireMinutes:   v.GetInt("job_expire_minutes"),
		WorkDir:            v.GetString("work_dir"),
		OutputDir:          v.GetString("output_dir"),
		WorkerConcurrency:  v.GetInt("worker_concurrency"),
		QueueSize:          v.GetInt("queue_size"),
		QueueBackend:       strings.ToLower(v.GetString("queue_backend")),
		QueueRedisURL:      v.GetString("queue_redis_url"),
		StoreBackend:       strings.ToLower(v.GetString("store_backend")),
		StoreRedisURL:      v.GetString("store_redis_url"),
		JobResultBaseURL:   v.GetString("job_result_base_url"),
		GhostscriptPath:    v.GetString("ghostscript_path"),
		MinIO: MinIOConfig{
			Endpoint:        v.GetString("minio_endpoint"),
			AccessKeyID:     v.GetString("minio_access_key"),
			SecretAccessKey: v.GetString("minio_secret_key"),
			Bucket:          v.GetString("minio_bucket"),
			UseSSL:          v.GetBool("minio_use_ssl"),
			BasePath:        v.GetString("minio_base_path"),
		},
		ResultURLExpiry: v.GetDuration("result_url_expiry"),
		NATSURL:         v.GetString("nats_url"),
		NATSSubject:     v.GetString("nats_subject"),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	var errs []error
	if c.MaxFileSize <= 0 {
		errs = append(errs, fmt.Errorf("MAX_FILE_SIZE must be positive"))
	}
	if c.MaxPages <= 0 {
		errs = append(errs, fmt.Errorf("MAX_PAGES must be positive"))
	}
	if c.JobExpireMinutes <= 0 {
		errs = append(errs, fmt.Errorf("JOB_EXPIRE_MINUTES must be positive"))
	}
	if c.WorkerConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("WORKER_CONCURRENCY must be positive"))
	}
	if c.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("QUEUE_SIZE must be positive"))
	}
	if c.WorkDir == "" {
		errs = append(errs, fmt.Errorf("WORK_DIR is required"))
	}

	switch c.QueueBackend {
	case QueueBackendLocal:
	case QueueBackendAsynq:
		if c.QueueRedisURL == "" {
			errs = append(errs, fmt.Errorf("QUEUE_REDIS_URL is required when QUEUE_BACKEND=asynq"))
		}
		if c.StoreBackend != StoreBackendRedis {
			errs = append(errs, fmt.Errorf("QUEUE_BACKEND=asynq requires STORE_BACKEND=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown QUEUE_BACKEND %q", c.QueueBackend))
	}

	switch c.StoreBackend {
	case StoreBackendMemory:
	case StoreBackendRedis:
		if c.StoreRedisURL == "" {
			errs = append(errs, fmt.Errorf("STORE_REDIS_URL is required when STORE_BACKEND=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	if c.MinIO.Enabled() && c.MinIO.Bucket == "" {
		errs = append(errs, fmt.Errorf("MINIO_BUCKET is required when MINIO_ENDPOINT is set"))
	}

	// ローカル開発では緩く、本番環境では厳格にチェックする
	if c.GinMode == "release" {
		if c.GhostscriptPath == "" {
			errs = append(errs, fmt.Errorf("GHOSTSCRIPT_PATH is required in release mode"))
		}
		if c.CORSAllowedOrigins == "" {
			errs = append(errs, fmt.Errorf("CORS_ALLOWED_ORIGINS is required in release mode"))
		}
	}

	return errors.Join(errs...)
}
