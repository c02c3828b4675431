package pdf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/errgroup"
)

// Upload は受け付けた入力ファイルです。HTTPのマルチパートとCLIのローカルファイルの両方を表します。
type Upload struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// FromMultipart はマルチパートのファイルヘッダーを Upload に変換します。
func FromMultipart(fh *multipart.FileHeader) Upload {
	return Upload{
		Name: fh.Filename,
		Size: fh.Size,
		Open: func() (io.ReadCloser, error) { return fh.Open() },
	}
}

// FromPath はローカルファイルを Upload に変換します。
func FromPath(path string) (Upload, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Upload{}, newError(CodeInvalidInput, fmt.Sprintf("ファイル %s を開けません。", path), err)
	}
	if info.IsDir() {
		return Upload{}, newError(CodeInvalidInput, fmt.Sprintf("%s はファイルではありません。", path), nil)
	}
	return Upload{
		Name: filepath.Base(path),
		Size: info.Size(),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}

type storedFile struct {
	path         string
	originalName string
	size         int64
	pages        int
}

// storeUpload は入力を dir に保存し、PDFであることとサイズ・ページ数の上限を確認します。
func (s *Service) storeUpload(ctx context.Context, up Upload, dir string, index int) (storedFile, error) {
	name := filepath.Base(strings.ReplaceAll(up.Name, `\`, "/"))
	if name == "" || name == "." || name == "/" {
		return storedFile{}, newError(CodeInvalidInput, "ファイル名が不正です。", nil)
	}
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		return storedFile{}, newError(CodeInvalidInput, fmt.Sprintf("%s はPDFファイルではありません。", name), nil)
	}
	if up.Size > s.cfg.MaxFileSize {
		return storedFile{}, s.sizeLimitError(name)
	}

	if up.Open == nil {
		return storedFile{}, newError(CodeInvalidInput, "PDFファイルを選択してください。", nil)
	}
	src, err := up.Open()
	if err != nil {
		return storedFile{}, fmt.Errorf("failed to open upload %s: %w", name, err)
	}
	defer src.Close()

	dst := filepath.Join(dir, fmt.Sprintf("%03d.pdf", index))
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o640)
	if err != nil {
		return storedFile{}, fmt.Errorf("failed to create %s: %w", dst, err)
	}
	written, err := io.Copy(out, io.LimitReader(src, s.cfg.MaxFileSize+1))
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return storedFile{}, fmt.Errorf("failed to store upload %s: %w", name, err)
	}
	if written > s.cfg.MaxFileSize {
		return storedFile{}, s.sizeLimitError(name)
	}
	if written == 0 {
		return storedFile{}, newError(CodeInvalidInput, fmt.Sprintf("%s は空のファイルです。", name), nil)
	}

	mtype, err := mimetype.DetectFile(dst)
	if err != nil {
		return storedFile{}, fmt.Errorf("failed to detect file type: %w", err)
	}
	if !mtype.Is("application/pdf") {
		return storedFile{}, newError(CodeInvalidInput, fmt.Sprintf("%s はPDFファイルではありません (%s)。", name, mtype.String()), nil)
	}

	pages, err := s.engine.PageCount(ctx, dst)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return storedFile{}, err
		}
		return storedFile{}, newError(CodeUnsupportedPDF, fmt.Sprintf("%s を読み込めませんでした。破損しているか暗号化されている可能性があります。", name), err)
	}
	if pages <= 0 {
		return storedFile{}, newError(CodeUnsupportedPDF, fmt.Sprintf("%s にページがありません。", name), nil)
	}
	if pages > s.cfg.MaxPages {
		return storedFile{}, newError(CodeLimitExceeded, fmt.Sprintf("%s のページ数 (%d) が上限 %d ページを超えています。", name, pages, s.cfg.MaxPages), nil)
	}

	return storedFile{
		path:         dst,
		originalName: name,
		size:         written,
		pages:        pages,
	}, nil
}

// storeUploads は複数の入力を並行して保存します。結果の順序は uploads の順です。
func (s *Service) storeUploads(ctx context.Context, uploads []Upload, dir string) ([]storedFile, error) {
	stored := make([]storedFile, len(uploads))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, up := range uploads {
		i, up := i, up
		g.Go(func() error {
			sf, err := s.storeUpload(gctx, up, dir, i)
			if err != nil {
				return err
			}
			stored[i] = sf
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *Service) sizeLimitError(name string) *Error {
	return newError(CodeLimitExceeded, fmt.Sprintf("%s のサイズが上限 %dMB を超えています。", name, s.cfg.MaxFileSize/(1024*1024)), nil)
}
