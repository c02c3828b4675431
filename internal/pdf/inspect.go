package pdf

import (
	"context"

	"github.com/yourusername/paperworks/internal/chunk"
)

// InspectResult はアップロードされたPDFの基本メタデータと、指定があれば分割計画を表します。
type InspectResult struct {
	Source SourceFileMeta `json:"source"`
	Plan   *chunk.Plan    `json:"plan,omitempty"`
}

// Inspect は単一PDFのページ数などを返します。opts に分割指定があれば分割計画も返します。
// 入力は保存せず、一時的な作業ディレクトリは戻る前に削除します。
func (s *Service) Inspect(ctx context.Context, up Upload, opts Options) (*InspectResult, error) {
	ws, err := s.createWorkspace()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = removeDir(ws.dir)
	}()

	stored, err := s.storeUpload(ctx, up, ws.inDir, 0)
	if err != nil {
		return nil, err
	}

	result := &InspectResult{Source: sourceMeta(stored)}
	if opts.MaxPages != 0 || opts.MaxSizeMB != 0 {
		plan, err := s.planSplit(stored, opts)
		if err != nil {
			return nil, err
		}
		result.Plan = plan
	}
	return result, nil
}
