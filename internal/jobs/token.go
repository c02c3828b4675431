package jobs

import (
	"context"
	"sync/atomic"
)

// CancelChecker は現在のキャンセル要求の有無を返します。変換処理は各区切りでこれを確認します。
type CancelChecker func() bool

// Token は1つのジョブに紐づく協調的キャンセルのフラグです。
// 要求側（キャンセルAPI）はどのゴルーチンからでも RequestCancel を呼べ、
// 実行側は IsCancelled をポーリングします。実行中の処理を強制停止はしません。
type Token struct {
	requested atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewToken は未キャンセルの Token を作成します。
func NewToken() *Token {
	ctx, cancel := context.WithCancel(context.Background())
	return &Token{ctx: ctx, cancel: cancel}
}

// RequestCancel はキャンセルを要求します。何度呼んでも安全です。
// 初回の呼び出しでのみ true を返します。
func (t *Token) RequestCancel() bool {
	first := t.requested.CompareAndSwap(false, true)
	t.cancel()
	return first
}

// IsCancelled はキャンセルが要求済みかを返します。
func (t *Token) IsCancelled() bool {
	return t.requested.Load()
}

// Checker は Token を CancelChecker として返します。
func (t *Token) Checker() CancelChecker {
	return t.IsCancelled
}

// Context は parent か Token のどちらかが終了した時点でキャンセルされる context を返します。
// 外部プロセス（Ghostscript 等）の起動に使います。
func (t *Token) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(t.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
