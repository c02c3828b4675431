package pdf

import (
	"context"
	"path/filepath"

	"github.com/yourusername/paperworks/internal/jobs"
)

const compressedFilename = "compressed.pdf"

// compress は pdfcpu で重複オブジェクトを除去しストリームを圧縮します。
// flatten 指定時は先に画像化し（0〜60%）、その後に圧縮します（60〜95%）。
func (s *Service) compress(ctx context.Context, req *Request, report jobs.Reporter, cancelled jobs.CancelChecker) (*artifact, error) {
	src := req.Inputs[0]
	input := src.path
	start := 0

	if req.Options.Flatten {
		flat := filepath.Join(req.ScratchDir, flattenedFilename)
		step := stepReporter(report, 0, 60, "rasterizing pages")
		if err := s.flattenFile(ctx, src, flat, req.Options.Quality, req.ScratchDir, step, cancelled); err != nil {
			return nil, err
		}
		input = flat
		start = 60
	}

	if !report(jobs.WeightedUnits(start, 0, 1, "compressing")) {
		return nil, jobs.ErrCancelled
	}
	out := filepath.Join(req.OutputDir, compressedFilename)
	if err := s.engine.Optimize(ctx, input, out); err != nil {
		return nil, engineError(err, cancelled, "PDFの圧縮に失敗しました。")
	}
	if !report(jobs.WeightedUnits(95, 1, 1, "compressed")) {
		return nil, jobs.ErrCancelled
	}

	size, err := fileSize(out)
	if err != nil {
		return nil, err
	}
	meta := newSizeMeta(src, size)
	if req.Options.Flatten {
		meta.Quality = req.Options.Quality
		meta.DPI = req.Options.Quality.DPI()
	}
	return &artifact{path: out, kind: ResultKindPDF, meta: meta}, nil
}
