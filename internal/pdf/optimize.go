package pdf

import (
	"context"
	"path/filepath"

	"github.com/yourusername/paperworks/internal/jobs"
)

const optimizedFilename = "optimized.pdf"

// optimize は Ghostscript の pdfwrite プリセットで再出力します。
// Ghostscript は途中経過を返さないため、開始と終了だけを報告します。
func (s *Service) optimize(ctx context.Context, req *Request, report jobs.Reporter, cancelled jobs.CancelChecker) (*artifact, error) {
	src := req.Inputs[0]

	if !report(jobs.WeightedUnits(10, 0, 1, "optimizing")) {
		return nil, jobs.ErrCancelled
	}

	out := filepath.Join(req.OutputDir, optimizedFilename)
	if err := s.engine.Ghostscript(ctx, src.path, out, req.Options.Preset); err != nil {
		return nil, engineError(err, cancelled, "Ghostscriptによる圧縮に失敗しました。")
	}

	if !report(jobs.WeightedUnits(90, 1, 1, "optimized")) {
		return nil, jobs.ErrCancelled
	}

	size, err := fileSize(out)
	if err != nil {
		return nil, err
	}
	meta := newSizeMeta(src, size)
	meta.Preset = req.Options.Preset
	return &artifact{path: out, kind: ResultKindPDF, meta: meta}, nil
}
