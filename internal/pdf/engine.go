package pdf

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Engine はPDFそのものを扱う処理です。テストでは偽物に差し替えます。
type Engine interface {
	PageCount(ctx context.Context, path string) (int, error)
	// Collect は pages（1始まり）を順に取り出して out に書き出します。
	Collect(ctx context.Context, in, out string, pages []string) error
	Merge(ctx context.Context, inputs []string, out string) error
	// Optimize は重複オブジェクトの除去とストリーム圧縮を行います。
	Optimize(ctx context.Context, in, out string) error
	// Rasterize は page ページ目を dpi で画像化した1ページのPDFを書き出します。
	Rasterize(ctx context.Context, in, out string, page, dpi int) error
	// Ghostscript は pdfwrite のプリセットで再出力します。
	Ghostscript(ctx context.Context, in, out string, preset OptimizePreset) error
}

// toolEngine は pdfcpu と Ghostscript で Engine を実装します。
type toolEngine struct {
	gsPath string
}

// NewEngine は pdfcpu と gsPath の Ghostscript を使う Engine を返します。
func NewEngine(gsPath string) Engine {
	if gsPath == "" {
		gsPath = "gs"
	}
	return &toolEngine{gsPath: gsPath}
}

func pdfcpuConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

func (e *toolEngine) PageCount(ctx context.Context, path string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return pdfapi.PageCount(f, pdfcpuConfig())
}

func (e *toolEngine) Collect(ctx context.Context, in, out string, pages []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return pdfapi.CollectFile(in, out, pages, pdfcpuConfig())
}

func (e *toolEngine) Merge(ctx context.Context, inputs []string, out string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return pdfapi.MergeCreateFile(inputs, out, false, pdfcpuConfig())
}

func (e *toolEngine) Optimize(ctx context.Context, in, out string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return pdfapi.OptimizeFile(in, out, pdfcpuConfig())
}

func (e *toolEngine) Rasterize(ctx context.Context, in, out string, page, dpi int) error {
	return e.runGhostscript(ctx, rasterizeArgs(out, in, page, dpi))
}

func (e *toolEngine) Ghostscript(ctx context.Context, in, out string, preset OptimizePreset) error {
	return e.runGhostscript(ctx, ghostscriptArgs(out, in, preset))
}

func (e *toolEngine) runGhostscript(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, e.gsPath, args...)
	var stderr bytes.Buffer
	cmd.Stdout = &stderr
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("ghostscript failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func ghostscriptArgs(outputPath, inputPath string, preset OptimizePreset) []string {
	setting := "/printer"
	if preset == OptimizePresetAggressive {
		setting = "/screen"
	}

	return []string{
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=1.5",
		"-dNOPAUSE",
		"-dQUIET",
		"-dBATCH",
		fmt.Sprintf("-dPDFSETTINGS=%s", setting),
		fmt.Sprintf("-sOutputFile=%s", outputPath),
		inputPath,
	}
}

func rasterizeArgs(outputPath, inputPath string, page, dpi int) []string {
	return []string{
		"-sDEVICE=pdfimage24",
		"-dNOPAUSE",
		"-dQUIET",
		"-dBATCH",
		"-dSAFER",
		fmt.Sprintf("-r%d", dpi),
		fmt.Sprintf("-dFirstPage=%d", page),
		fmt.Sprintf("-dLastPage=%d", page),
		fmt.Sprintf("-sOutputFile=%s", outputPath),
		inputPath,
	}
}
