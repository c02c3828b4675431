package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/yourusername/paperworks/internal/naming"
)

const reserveAttempts = 5

// Local はローカルディスクのディレクトリに成果物を保存します。
type Local struct {
	dir string
}

// NewLocal は dir を作成して Local を返します。
func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		return nil, fmt.Errorf("output dir is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	return &Local{dir: abs}, nil
}

// Dir は出力先ディレクトリを返します。
func (l *Local) Dir() string {
	return l.dir
}

// Publish は srcPath を出力先へ移動します。
// 名前は O_EXCL で予約してから置き換えるため、同時に公開された成果物同士が上書きし合うことはありません。
func (l *Local) Publish(ctx context.Context, srcPath, name string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return nil, fmt.Errorf("invalid output name %q", name)
	}

	dest, err := l.reserve(filepath.Join(l.dir, name))
	if err != nil {
		return nil, err
	}
	if err := moveFile(srcPath, dest); err != nil {
		_ = os.Remove(dest)
		return nil, err
	}
	info, err := os.Stat(dest)
	if err != nil {
		return nil, err
	}
	key := filepath.Base(dest)
	return &Object{Key: key, Name: key, Size: info.Size()}, nil
}

func (l *Local) reserve(desired string) (string, error) {
	for i := 0; i < reserveAttempts; i++ {
		candidate, err := naming.MakeUnique(desired)
		if err != nil {
			return "", err
		}
		f, err := os.OpenFile(candidate, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
		if err == nil {
			_ = f.Close()
			return candidate, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("failed to reserve %s: %w", candidate, err)
		}
	}
	return "", fmt.Errorf("%w: %s", naming.ErrNamingExhausted, desired)
}

func (l *Local) Open(_ context.Context, key string) (io.ReadCloser, int64, error) {
	path, err := l.resolve(key)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

func (l *Local) Delete(_ context.Context, key string) error {
	path, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// resolve は出力先ディレクトリ直下のファイルだけを許可します。
func (l *Local) resolve(key string) (string, error) {
	if key == "" || key != filepath.Base(key) || key == "." || key == ".." {
		return "", fmt.Errorf("%w: invalid key %q", ErrObjectNotFound, key)
	}
	return filepath.Join(l.dir, key), nil
}

func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// 別デバイス間では rename できないのでコピーする
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	tmp := dst + ".part"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	_ = os.Remove(src)
	return nil
}
