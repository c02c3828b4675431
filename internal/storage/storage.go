// Package storage は変換結果の保存先を抽象化します。
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound は指定したキーの成果物が存在しない場合に返されます。
var ErrObjectNotFound = errors.New("object not found")

// Object は公開された成果物です。
type Object struct {
	Key  string // Open/Delete に渡すキー
	Name string // 利用者向けのファイル名（衝突回避済み）
	Size int64
	URL  string // 署名付きURL等、直接取得できる場合のみ
}

// Storage は成果物の保存先です。
// Publish は name が既存の成果物と衝突する場合 "name (N).ext" に読み替えて保存します。
type Storage interface {
	Publish(ctx context.Context, srcPath, name string) (*Object, error)
	Open(ctx context.Context, key string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, key string) error
}
