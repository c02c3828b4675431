package pdf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yourusername/paperworks/internal/jobs"
)

const combinedFilename = "combined.pdf"

// combine は入力を受け付けた順に結合します。
// flatten 指定時は入力ごとに画像化してから結合し、画像化に 0〜80% を割り当てます。
func (s *Service) combine(ctx context.Context, req *Request, report jobs.Reporter, cancelled jobs.CancelChecker) (*artifact, error) {
	totalPages := 0
	for _, in := range req.Inputs {
		totalPages += in.pages
	}

	sources := make([]string, 0, len(req.Inputs))
	mergeStart := 0
	if req.Options.Flatten {
		dir, err := os.MkdirTemp(req.ScratchDir, "combine-")
		if err != nil {
			return nil, fmt.Errorf("failed to create scratch dir: %w", err)
		}
		defer os.RemoveAll(dir)

		donePages := 0
		for i, in := range req.Inputs {
			flat := filepath.Join(dir, fmt.Sprintf("%03d.pdf", i))
			offset := donePages
			step := func(done, _ int) bool {
				return report(jobs.WeightedUnits(jobs.Blend(0, 80, offset+done, totalPages), offset+done, totalPages, "rasterizing pages"))
			}
			if err := s.flattenFile(ctx, in, flat, req.Options.Quality, req.ScratchDir, step, cancelled); err != nil {
				return nil, err
			}
			donePages += in.pages
			sources = append(sources, flat)
		}
		mergeStart = 80
	} else {
		for _, in := range req.Inputs {
			sources = append(sources, in.path)
		}
	}

	if !report(jobs.WeightedUnits(mergeStart, 0, len(sources), "merging")) {
		return nil, jobs.ErrCancelled
	}
	out := filepath.Join(req.OutputDir, combinedFilename)
	if err := s.engine.Merge(ctx, sources, out); err != nil {
		return nil, engineError(err, cancelled, "PDFの結合に失敗しました。")
	}
	if !report(jobs.WeightedUnits(100, len(sources), len(sources), "merged")) {
		return nil, jobs.ErrCancelled
	}

	meta := &CombineMeta{
		TotalPages: totalPages,
		Flattened:  req.Options.Flatten,
		Sources:    make([]SourceFileMeta, len(req.Inputs)),
	}
	for i, in := range req.Inputs {
		meta.Sources[i] = sourceMeta(in)
	}
	return &artifact{path: out, kind: ResultKindPDF, meta: meta}, nil
}
