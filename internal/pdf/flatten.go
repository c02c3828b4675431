package pdf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yourusername/paperworks/internal/jobs"
)

const (
	flattenedFilename    = "flattened.pdf"
	flattenPagesWeight   = 90
	flattenPageDirPrefix = "flatten-"
)

// flatten は全ページを画像化して1つのPDFにまとめ直します。
// ページの画像化に 0〜90%、結合に 90〜100% を割り当てます。
func (s *Service) flatten(ctx context.Context, req *Request, report jobs.Reporter, cancelled jobs.CancelChecker) (*artifact, error) {
	src := req.Inputs[0]
	out := filepath.Join(req.OutputDir, flattenedFilename)

	step := stepReporter(report, 0, flattenPagesWeight, "rasterizing pages")
	if err := s.flattenFile(ctx, src, out, req.Options.Quality, req.ScratchDir, step, cancelled); err != nil {
		return nil, err
	}
	if !report(jobs.WeightedUnits(100, src.pages, src.pages, "flattened")) {
		return nil, jobs.ErrCancelled
	}

	size, err := fileSize(out)
	if err != nil {
		return nil, err
	}
	meta := newSizeMeta(src, size)
	meta.Quality = req.Options.Quality
	meta.DPI = req.Options.Quality.DPI()
	return &artifact{path: out, kind: ResultKindPDF, meta: meta}, nil
}

// flattenFile は src の各ページを画像化した1ページPDFを作り、dst へ結合します。
// step は開始時とページごとに呼ばれ、false を返したら中断します。
func (s *Service) flattenFile(ctx context.Context, src storedFile, dst string, quality Quality, scratch string, step func(done, total int) bool, cancelled jobs.CancelChecker) error {
	dpi := quality.DPI()
	if dpi <= 0 {
		dpi = QualityMedium.DPI()
	}

	dir, err := os.MkdirTemp(scratch, flattenPageDirPrefix)
	if err != nil {
		return fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	if !step(0, src.pages) {
		return jobs.ErrCancelled
	}
	pageFiles := make([]string, 0, src.pages)
	for page := 1; page <= src.pages; page++ {
		if cancelled() {
			return jobs.ErrCancelled
		}
		pagePath := filepath.Join(dir, fmt.Sprintf("page-%05d.pdf", page))
		if err := s.engine.Rasterize(ctx, src.path, pagePath, page, dpi); err != nil {
			return engineError(err, cancelled, fmt.Sprintf("%s の %d ページ目の画像化に失敗しました。", src.originalName, page))
		}
		pageFiles = append(pageFiles, pagePath)
		if !step(page, src.pages) {
			return jobs.ErrCancelled
		}
	}

	if cancelled() {
		return jobs.ErrCancelled
	}
	if err := s.engine.Merge(ctx, pageFiles, dst); err != nil {
		return engineError(err, cancelled, fmt.Sprintf("%s の画像化ページの結合に失敗しました。", src.originalName))
	}
	return nil
}
