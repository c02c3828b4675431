package pdf

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/yourusername/paperworks/internal/jobs"
)

const (
	splitArchiveFilename = "split.zip"
	splitPagesWeight     = 70
	splitChunksWeight    = 30
	splitArchivePercent  = 95
)

// split はチャンク計画に従って元PDFを連続したページ範囲ごとのPDFへ分けます。
// チャンクが2つ以上なら zip にまとめます。
//
// 進捗はページ 70%・チャンク 30% の比率で合成し、全体を 0〜95% に縮めます。
// ページの報告はチャンクを書き出した後にまとめて行います。
func (s *Service) split(ctx context.Context, req *Request, report jobs.Reporter, cancelled jobs.CancelChecker) (*artifact, error) {
	src := req.Inputs[0]
	plan, err := s.planSplit(src, req.Options)
	if err != nil {
		return nil, err
	}

	chunkDir := filepath.Join(req.ScratchDir, "chunks")
	if err := os.MkdirAll(chunkDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create chunk dir: %w", err)
	}

	total := plan.TotalPages
	count := plan.Len()
	parts := make([]SplitPart, 0, count)
	paths := make([]string, 0, count)
	pagesDone := 0

	if !report(jobs.WeightedUnits(0, 0, total, fmt.Sprintf("splitting into %d chunks", count)).WithChunk(0, count)) {
		return nil, jobs.ErrCancelled
	}
	for _, c := range plan.Chunks {
		if cancelled() {
			return nil, jobs.ErrCancelled
		}

		name := c.Filename(src.originalName)
		path := filepath.Join(chunkDir, name)
		if err := s.engine.Collect(ctx, src.path, path, c.PageSelection()); err != nil {
			return nil, engineError(err, cancelled, fmt.Sprintf("チャンク %s の生成に失敗しました。", c.Label))
		}
		size, err := fileSize(path)
		if err != nil {
			return nil, err
		}
		parts = append(parts, SplitPart{
			Filename: name,
			FromPage: c.Start + 1,
			ToPage:   c.End,
			Pages:    c.Pages(),
			Size:     size,
		})
		paths = append(paths, path)

		for page := c.Start; page < c.End; page++ {
			pagesDone++
			pct := splitPercent(pagesDone, total, c.Index, count)
			msg := fmt.Sprintf("chunk %d/%d: page %d/%d", c.Index, count, pagesDone, total)
			if !report(jobs.WeightedUnits(pct, pagesDone, total, msg).WithChunk(c.Index, count)) {
				return nil, jobs.ErrCancelled
			}
		}
	}

	if cancelled() {
		return nil, jobs.ErrCancelled
	}

	meta := &SplitMeta{
		Original:  sourceMeta(src),
		Mode:      plan.Mode,
		Estimated: plan.Estimated,
		Parts:     parts,
	}

	if len(paths) == 1 {
		return &artifact{path: paths[0], kind: ResultKindPDF, meta: meta}, nil
	}

	if !report(jobs.WeightedUnits(splitArchivePercent, total, total, "archiving").WithChunk(count, count)) {
		return nil, jobs.ErrCancelled
	}
	archive := filepath.Join(req.OutputDir, splitArchiveFilename)
	if err := createZip(archive, paths); err != nil {
		return nil, err
	}
	meta.Archived = true
	return &artifact{path: archive, kind: ResultKindZIP, meta: meta}, nil
}

// splitPercent はページとチャンクの完了割合を合成し 0〜95% に収めます。
func splitPercent(pagesDone, totalPages, chunksDone, totalChunks int) int {
	if totalPages <= 0 || totalChunks <= 0 {
		return 0
	}
	raw := splitPagesWeight*pagesDone/totalPages + splitChunksWeight*chunksDone/totalChunks
	return raw * splitArchivePercent / 100
}

// createZip は files を渡された順にエントリとして書き出します。エントリ名はファイル名です。
func createZip(outputPath string, files []string) (err error) {
	outFile, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("failed to create zip: %w", err)
	}
	defer func() {
		if closeErr := outFile.Close(); err == nil && closeErr != nil {
			err = fmt.Errorf("failed to close zip: %w", closeErr)
		}
	}()

	zipWriter := zip.NewWriter(outFile)
	for _, path := range files {
		if err := addZipEntry(zipWriter, path); err != nil {
			_ = zipWriter.Close()
			return err
		}
	}
	if err := zipWriter.Close(); err != nil {
		return fmt.Errorf("failed to finalize zip: %w", err)
	}
	return nil
}

func addZipEntry(zw *zip.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open zip input: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat zip input: %w", err)
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("failed to build zip header: %w", err)
	}
	header.Name = filepath.Base(path)
	header.Method = zip.Deflate

	writer, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to write zip header: %w", err)
	}
	if _, err := io.Copy(writer, file); err != nil {
		return fmt.Errorf("failed to write zip entry: %w", err)
	}
	return nil
}
