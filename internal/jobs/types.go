package jobs

import (
	"fmt"
	"time"
)

// Kind はジョブが実行する変換処理の種別です。
type Kind string

const (
	KindCompress Kind = "compress"
	KindSplit    Kind = "split"
	KindCombine  Kind = "combine"
	KindFlatten  Kind = "flatten"
	KindOptimize Kind = "optimize"
	KindExtract  Kind = "extract"
)

// Valid は既知の種別かどうかを返します。
func (k Kind) Valid() bool {
	switch k {
	case KindCompress, KindSplit, KindCombine, KindFlatten, KindOptimize, KindExtract:
		return true
	}
	return false
}

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusStarting   Status = "starting"
	StatusProcessing Status = "processing"
	// StatusCancelling はキャンセル要求を受け付けたが、ワーカーがまだ停止していない状態です。
	StatusCancelling Status = "cancelling"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
	// StatusCancelled はワーカーが停止し一時ファイルの削除まで終わった状態です。
	StatusCancelled Status = "cancelled"
)

// Terminal は終端状態（以降遷移しない）かどうかを返します。
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError || s == StatusCancelled
}

var transitions = map[Status][]Status{
	StatusStarting:   {StatusProcessing, StatusCancelled, StatusError},
	StatusProcessing: {StatusProcessing, StatusCancelling, StatusComplete, StatusError, StatusCancelled},
	StatusCancelling: {StatusCancelled},
}

// CanTransition は from から to への遷移が許されるかを返します。
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ProgressInfo は進捗の補足情報を表します。
type ProgressInfo struct {
	Percent     int    `json:"percent"`
	Current     int    `json:"current"`
	Total       int    `json:"total"`
	Chunk       int    `json:"chunk,omitempty"`
	TotalChunks int    `json:"totalChunks,omitempty"`
	Message     string `json:"message,omitempty"`
}

// ErrorInfo はジョブ失敗時のエラー情報を保持します。
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResultInfo は完了したジョブの成果物です。
type ResultInfo struct {
	Key         string `json:"key"`
	Filename    string `json:"filename"`
	Kind        string `json:"kind"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"downloadUrl,omitempty"`
}

// Record はジョブの現在状態を表します。
type Record struct {
	JobID           string       `json:"jobId"`
	Kind            Kind         `json:"kind"`
	TaskRef         string       `json:"taskRef,omitempty"`
	Status          Status       `json:"status"`
	Progress        ProgressInfo `json:"progress"`
	CancelRequested bool         `json:"cancelRequested"`
	Result          *ResultInfo  `json:"result,omitempty"`
	Meta            any          `json:"meta,omitempty"`
	Error           *ErrorInfo   `json:"error,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
	StartedAt       *time.Time   `json:"startedAt,omitempty"`
	FinishedAt      *time.Time   `json:"finishedAt,omitempty"`
	ExpiresAt       time.Time    `json:"expiresAt,omitempty"`
}

// NewRecord は starting 状態の新しいレコードを作成します。
func NewRecord(id string, kind Kind, now time.Time) *Record {
	return &Record{
		JobID:     id,
		Kind:      kind,
		Status:    StatusStarting,
		Progress:  ProgressInfo{Message: "queued"},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone はレコードのコピーを返します。Meta は不変として扱うため共有します。
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Result != nil {
		res := *r.Result
		c.Result = &res
	}
	if r.Error != nil {
		e := *r.Error
		c.Error = &e
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// transition は状態遷移規則を守ってステータスを更新します。
func (r *Record) transition(to Status, now time.Time) error {
	if r.Status == to && to != StatusProcessing {
		return nil
	}
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
	}
	if r.Status == StatusStarting && to == StatusProcessing {
		t := now
		r.StartedAt = &t
	}
	r.Status = to
	if to.Terminal() {
		t := now
		r.FinishedAt = &t
	}
	return nil
}
