// Package pdf はPDF変換処理（圧縮・分割・結合・フラット化・最適化・ページ抽出）と、
// それをジョブとして受け付けるHTTPハンドラーを提供します。
package pdf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/paperworks/internal/chunk"
	"github.com/yourusername/paperworks/internal/jobs"
	"github.com/yourusername/paperworks/internal/storage"
)

const defaultMaxPages = 2000

// Config は Service の設定です。
type Config struct {
	WorkDir     string
	MaxFileSize int64
	MaxPages    int
}

// Service は入力の受け付けと変換ジョブの組み立てを担います。
type Service struct {
	cfg        Config
	engine     Engine
	storage    storage.Storage
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
	transforms map[jobs.Kind]transformFunc
}

// NewService は Service を初期化します。WorkDir が無ければ作成します。
func NewService(cfg Config, engine Engine, store storage.Storage, logger *slog.Logger) (*Service, error) {
	if engine == nil {
		return nil, fmt.Errorf("pdf engine is nil")
	}
	if store == nil {
		return nil, fmt.Errorf("result storage is nil")
	}
	if cfg.WorkDir == "" {
		return nil, fmt.Errorf("work dir is required")
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 100 * 1024 * 1024
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}

	s := &Service{
		cfg:     cfg,
		engine:  engine,
		storage: store,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	s.transforms = map[jobs.Kind]transformFunc{
		jobs.KindCompress: s.compress,
		jobs.KindSplit:    s.split,
		jobs.KindCombine:  s.combine,
		jobs.KindFlatten:  s.flatten,
		jobs.KindOptimize: s.optimize,
		jobs.KindExtract:  s.extract,
	}
	return s, nil
}

// Prepare は入力を検証して作業ディレクトリへ保存し、ジョブの manifest を作成します。
// 返されるエラーはいずれも同期的な検証エラーで、ジョブは作られません。
func (s *Service) Prepare(ctx context.Context, kind jobs.Kind, uploads []Upload, opts Options) (_ *JobManifest, err error) {
	if !kind.Valid() {
		return nil, newError(CodeInvalidInput, fmt.Sprintf("未対応の処理です: %s", kind), nil)
	}
	if err := checkUploadCount(kind, len(uploads)); err != nil {
		return nil, err
	}
	opts, err = opts.normalize(kind)
	if err != nil {
		return nil, err
	}

	ws, err := s.createWorkspace()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = removeDir(ws.dir)
		}
	}()

	stored, err := s.storeUploads(ctx, uploads, ws.inDir)
	if err != nil {
		return nil, err
	}

	switch kind {
	case jobs.KindSplit:
		if _, err := s.planSplit(stored[0], opts); err != nil {
			return nil, err
		}
	case jobs.KindExtract:
		if _, err := parsePageSelection(opts.Pages, stored[0].pages); err != nil {
			return nil, err
		}
	}

	manifest := &JobManifest{
		ID:        ws.id,
		Kind:      kind,
		Files:     toJobFiles(stored),
		Options:   opts,
		CreatedAt: s.now().UTC(),
	}
	if err := writeManifest(ws.dir, manifest); err != nil {
		return nil, err
	}

	s.logger.Debug("job prepared", "ref", ws.id, "kind", kind, "files", len(stored), "pages", manifest.TotalPages())
	return manifest, nil
}

func checkUploadCount(kind jobs.Kind, n int) error {
	switch {
	case n == 0:
		return newError(CodeInvalidInput, "PDFファイルを選択してください。", nil)
	case kind == jobs.KindCombine && n < 2:
		return newError(CodeInvalidInput, "結合するPDFファイルを2つ以上選択してください。", nil)
	case kind != jobs.KindCombine && n > 1:
		return newError(CodeInvalidInput, "PDFファイルは1つだけ選択してください。", nil)
	}
	return nil
}

func (s *Service) planSplit(file storedFile, opts Options) (*chunk.Plan, error) {
	mode, param, err := opts.SplitMode()
	if err != nil {
		return nil, err
	}
	plan, err := chunk.Build(file.pages, mode, param, file.size)
	if err != nil {
		if errors.Is(err, chunk.ErrInvalidParameter) && mode == chunk.ModePageCount {
			return nil, newError(CodeInvalidInput, fmt.Sprintf("ページ数 %d では %d ページの文書を分割できません。", param, file.pages), err)
		}
		if apiErr := asError(err); apiErr != nil {
			return nil, apiErr
		}
		return nil, err
	}
	return plan, nil
}

// Task は manifest から Runner に渡すタスクを組み立てます。
func (s *Service) Task(m *JobManifest) jobs.Task {
	ws := s.workspaceFor(m.ID)
	return jobs.Task{
		Kind: m.Kind,
		Ref:  m.ID,
		Run: func(ctx context.Context, report jobs.Reporter, cancelled jobs.CancelChecker) (*jobs.Result, error) {
			return s.run(ctx, ws, m, report, cancelled)
		},
		Cleanup: func() {
			if err := removeDir(ws.dir); err != nil {
				s.logger.Warn("failed to remove workspace", "ref", ws.id, "error", err)
			}
		},
		Discard: func(ctx context.Context, res *jobs.Result) {
			if err := s.storage.Delete(ctx, res.Key); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
				s.logger.Warn("failed to discard result", "key", res.Key, "error", err)
			}
		},
	}
}

// ResolveTask は別プロセスで受け付けたジョブのタスクを作業ディレクトリの manifest から復元します。
// jobs.TaskResolver として Runner に渡します。
func (s *Service) ResolveTask(_ context.Context, rec *jobs.Record) (jobs.Task, error) {
	if !validWorkspaceID(rec.TaskRef) {
		return jobs.Task{}, fmt.Errorf("%w: job %s has no task reference", jobs.ErrUnknownTask, rec.JobID)
	}
	ws := s.workspaceFor(rec.TaskRef)
	manifest, err := loadManifest(ws.dir)
	if err != nil {
		return jobs.Task{}, fmt.Errorf("%w: %v", jobs.ErrUnknownTask, err)
	}
	if manifest.Kind != rec.Kind {
		return jobs.Task{}, fmt.Errorf("%w: manifest kind %s does not match job kind %s", jobs.ErrUnknownTask, manifest.Kind, rec.Kind)
	}
	return s.Task(manifest), nil
}
