package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
)

// Notifier はジョブの状態変化（cancelling と終端状態）を外部へ通知します。
// 通知の失敗はジョブの結果に影響しません。
type Notifier interface {
	Notify(ctx context.Context, rec *Record)
}

// Event は通知ペイロードです。
type Event struct {
	JobID    string       `json:"jobId"`
	Kind     Kind         `json:"kind"`
	Status   Status       `json:"status"`
	Progress ProgressInfo `json:"progress"`
	Result   *ResultInfo  `json:"result,omitempty"`
	Error    *ErrorInfo   `json:"error,omitempty"`
}

// NATSConfig は NATS 接続の設定です。
type NATSConfig struct {
	URL           string
	Name          string
	Subject       string
	MaxReconnects int
}

// NATSNotifier はイベントを "<subject>.<status>" へ publish します。
type NATSNotifier struct {
	nc      *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewNATSNotifier は NATS に接続して NATSNotifier を作成します。
func NewNATSNotifier(cfg NATSConfig, logger *slog.Logger) (*NATSNotifier, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("empty NATS url")
	}
	subject := strings.Trim(cfg.Subject, ".")
	if subject == "" {
		subject = "paperworks.jobs"
	}
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSNotifier{nc: nc, subject: subject, logger: logger}, nil
}

func (n *NATSNotifier) Notify(_ context.Context, rec *Record) {
	data, err := json.Marshal(eventFrom(rec))
	if err != nil {
		n.logger.Warn("failed to encode job event", "job_id", rec.JobID, "error", err)
		return
	}
	subject := n.subject + "." + string(rec.Status)
	if err := n.nc.Publish(subject, data); err != nil {
		n.logger.Warn("failed to publish job event", "job_id", rec.JobID, "subject", subject, "error", err)
		return
	}
	n.logger.Debug("job event published", "job_id", rec.JobID, "subject", subject)
}

// Close は未送信のメッセージを送り切ってから接続を閉じます。
func (n *NATSNotifier) Close() error {
	return n.nc.Drain()
}

func eventFrom(rec *Record) Event {
	return Event{
		JobID:    rec.JobID,
		Kind:     rec.Kind,
		Status:   rec.Status,
		Progress: rec.Progress,
		Result:   rec.Result,
		Error:    rec.Error,
	}
}
