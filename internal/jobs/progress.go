package jobs

import (
	"context"
	"errors"
	"log/slog"
)

// Progress は変換処理から報告される進捗です。
//
// 通常は Current/Total から割合を算出します。複数フェーズをまたぐ処理は
// Weighted を立てて Percent に合成済みの値を入れます。
type Progress struct {
	Current     int
	Total       int
	Chunk       int
	TotalChunks int
	Percent     int
	Weighted    bool
	Message     string
}

// Reporter は進捗を記録します。false が返った場合はキャンセルが観測されたので、
// 呼び出し側は処理を中断して ErrCancelled を返す必要があります。
type Reporter func(Progress) bool

// Units は単位数ベースの進捗を作成します。
func Units(current, total int, message string) Progress {
	return Progress{Current: current, Total: total, Message: message}
}

// WeightedUnits はフェーズ合成済みの割合 percent を持つ進捗を作成します。
func WeightedUnits(percent, current, total int, message string) Progress {
	return Progress{Current: current, Total: total, Percent: percent, Weighted: true, Message: message}
}

// WithChunk はチャンク情報を付与したコピーを返します。
func (p Progress) WithChunk(chunk, totalChunks int) Progress {
	p.Chunk = chunk
	p.TotalChunks = totalChunks
	return p
}

// Resolve は記録すべき割合（0〜100）を返します。
func (p Progress) Resolve() int {
	pct := p.Percent
	if !p.Weighted {
		if p.Total <= 0 {
			return 0
		}
		pct = p.Current * 100 / p.Total
	}
	return clampPercent(pct)
}

// Blend は fraction（done/total）をフェーズ [from,to) にマップした割合を返します。
func Blend(from, to, done, total int) int {
	if total <= 0 {
		return from
	}
	if done > total {
		done = total
	}
	return from + (to-from)*done/total
}

func clampPercent(pct int) int {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

var errStaleRecord = errors.New("record no longer accepts progress")

// newReporter はレコード id を更新する Reporter を作成します。
// ストアへの書き込み失敗はログに残して処理を継続させます（進捗は欠落してよい）。
func newReporter(ctx context.Context, store Store, id string, token *Token, logger *slog.Logger) Reporter {
	return func(p Progress) bool {
		if token.IsCancelled() {
			return false
		}
		_, err := store.Update(ctx, id, func(rec *Record) error {
			if rec.Status != StatusProcessing {
				return errStaleRecord
			}
			pct := p.Resolve()
			if pct < rec.Progress.Percent {
				pct = rec.Progress.Percent
			}
			rec.Progress = ProgressInfo{
				Percent:     pct,
				Current:     p.Current,
				Total:       p.Total,
				Chunk:       p.Chunk,
				TotalChunks: p.TotalChunks,
				Message:     p.Message,
			}
			return nil
		})
		switch {
		case errors.Is(err, errStaleRecord), errors.Is(err, ErrNotFound):
			// 別プロセスからのキャンセルはレコード経由でしか届かない
			token.RequestCancel()
			return false
		case err != nil:
			logger.Warn("failed to record progress", "job_id", id, "error", err)
		}
		return !token.IsCancelled()
	}
}
