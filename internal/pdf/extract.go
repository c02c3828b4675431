package pdf

import (
	"context"
	"path/filepath"

	"github.com/yourusername/paperworks/internal/jobs"
)

const extractedFilename = "extracted.pdf"

func (s *Service) extract(ctx context.Context, req *Request, report jobs.Reporter, cancelled jobs.CancelChecker) (*artifact, error) {
	src := req.Inputs[0]
	pages, err := parsePageSelection(req.Options.Pages, src.pages)
	if err != nil {
		return nil, err
	}

	if !report(jobs.WeightedUnits(10, 0, len(pages), "extracting pages")) {
		return nil, jobs.ErrCancelled
	}

	out := filepath.Join(req.OutputDir, extractedFilename)
	if err := s.engine.Collect(ctx, src.path, out, pageStrings(pages)); err != nil {
		return nil, engineError(err, cancelled, "ページの抽出に失敗しました。")
	}

	if !report(jobs.WeightedUnits(100, len(pages), len(pages), "extracted")) {
		return nil, jobs.ErrCancelled
	}

	return &artifact{
		path: out,
		kind: ResultKindPDF,
		meta: &ExtractMeta{Source: sourceMeta(src), Pages: pages},
	}, nil
}
