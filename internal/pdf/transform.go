package pdf

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yourusername/paperworks/internal/jobs"
)

// ResultKind は生成される成果物の種別を表します。
type ResultKind string

const (
	ResultKindPDF ResultKind = "pdf"
	ResultKindZIP ResultKind = "zip"
)

func (k ResultKind) ext() string {
	return "." + string(k)
}

// Request は1回の変換に渡す入力です。
type Request struct {
	Inputs     []storedFile
	OutputDir  string
	ScratchDir string
	Options    Options
}

// artifact は変換が書き出した最終成果物です。公開前のローカルファイルを指します。
type artifact struct {
	path string
	kind ResultKind
	meta any
}

// transformFunc は1種類の変換です。
// キャンセルを検知したら jobs.ErrCancelled、想定内の失敗は *Error を返します。
type transformFunc func(ctx context.Context, req *Request, report jobs.Reporter, cancelled jobs.CancelChecker) (*artifact, error)

func (s *Service) run(ctx context.Context, ws workspace, m *JobManifest, report jobs.Reporter, cancelled jobs.CancelChecker) (*jobs.Result, error) {
	transform, ok := s.transforms[m.Kind]
	if !ok {
		return nil, newError(CodeInvalidInput, fmt.Sprintf("未対応の処理です: %s", m.Kind), nil)
	}
	req := &Request{
		Inputs:     storedFilesFromManifest(ws, m),
		OutputDir:  ws.outDir,
		ScratchDir: ws.scratchDir,
		Options:    m.Options,
	}

	art, err := transform(ctx, req, report, cancelled)
	if err != nil {
		return nil, err
	}
	if cancelled() {
		return nil, jobs.ErrCancelled
	}

	info, err := os.Stat(art.path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat output: %w", err)
	}
	name := outputName(m.Options.OutputName, req.Inputs, m.Kind, art.kind)
	obj, err := s.storage.Publish(ctx, art.path, name)
	if err != nil {
		if apiErr := asError(err); apiErr != nil {
			return nil, apiErr
		}
		return nil, fmt.Errorf("failed to publish result: %w", err)
	}

	s.logger.Info("result published", "ref", ws.id, "kind", m.Kind, "key", obj.Key, "size", info.Size())
	return &jobs.Result{
		Key:         obj.Key,
		Filename:    obj.Name,
		Kind:        string(art.kind),
		Size:        obj.Size,
		DownloadURL: obj.URL,
		Meta:        art.meta,
	}, nil
}

// outputName は成果物の公開名を決めます。
// 指定名はディレクトリ部分を捨てて拡張子を成果物に合わせ、未指定なら "<元ファイル名>_<処理>" にします。
func outputName(requested string, inputs []storedFile, kind jobs.Kind, rk ResultKind) string {
	name := filepath.Base(strings.ReplaceAll(strings.TrimSpace(requested), `\`, "/"))
	if name == "." || name == ".." || name == "/" {
		name = ""
	}
	if name != "" {
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		if ext := strings.ToLower(filepath.Ext(name)); ext != ".pdf" && ext != ".zip" {
			stem = name
		}
		if strings.TrimSpace(stem) != "" {
			return stem + rk.ext()
		}
	}

	if kind == jobs.KindCombine || len(inputs) == 0 {
		return "combined" + rk.ext()
	}
	base := inputs[0].originalName
	return strings.TrimSuffix(base, filepath.Ext(base)) + "_" + string(kind) + rk.ext()
}

// stepReporter は done/total の進捗を [from, to] の区間へ割り当てて報告します。
func stepReporter(report jobs.Reporter, from, to int, message string) func(done, total int) bool {
	return func(done, total int) bool {
		return report(jobs.WeightedUnits(jobs.Blend(from, to, done, total), done, total, message))
	}
}

// engineError はエンジンの失敗を分類します。キャンセル中に失敗した場合はキャンセルとして扱います。
func engineError(err error, cancelled jobs.CancelChecker, message string) error {
	if cancelled() || errors.Is(err, context.Canceled) {
		return jobs.ErrCancelled
	}
	return newError(CodeUnsupportedPDF, message, err)
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", filepath.Base(path), err)
	}
	return info.Size(), nil
}
