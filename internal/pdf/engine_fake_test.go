package pdf

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/yourusername/paperworks/internal/jobs"
	"github.com/yourusername/paperworks/internal/storage"
)

// fakeEngine はファイル内容の "%%pages:N" 行だけを見る偽の Engine です。
type fakeEngine struct {
	mu         sync.Mutex
	collected  [][]string
	merged     [][]string
	rasterDPI  []int
	presets    []OptimizePreset
	failOn     string
	afterWrite func(op string)
}

func fakePDF(pages int, note string) []byte {
	return []byte(fmt.Sprintf("%%PDF-1.4\n%%%%pages:%d\n%% %s\n%%%%EOF\n", pages, note))
}

func writeFakePDF(t *testing.T, dir, name string, pages int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, fakePDF(pages, name), 0o640); err != nil {
		t.Fatalf("failed to write fake pdf: %v", err)
	}
	return path
}

func readFakePages(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if v, ok := strings.CutPrefix(line, "%%pages:"); ok {
			return strconv.Atoi(v)
		}
	}
	return 0, fmt.Errorf("not a fake pdf")
}

func (e *fakeEngine) fail(op string) error {
	if e.failOn == op {
		return fmt.Errorf("%s failed", op)
	}
	return nil
}

func (e *fakeEngine) write(op, out string, pages int, note string) error {
	if err := os.WriteFile(out, fakePDF(pages, note), 0o640); err != nil {
		return err
	}
	if e.afterWrite != nil {
		e.afterWrite(op)
	}
	return nil
}

func (e *fakeEngine) PageCount(_ context.Context, path string) (int, error) {
	if err := e.fail("pagecount"); err != nil {
		return 0, err
	}
	return readFakePages(path)
}

func (e *fakeEngine) Collect(_ context.Context, _ string, out string, pages []string) error {
	if err := e.fail("collect"); err != nil {
		return err
	}
	e.mu.Lock()
	e.collected = append(e.collected, append([]string(nil), pages...))
	e.mu.Unlock()
	return e.write("collect", out, len(pages), "pages "+strings.Join(pages, ","))
}

func (e *fakeEngine) Merge(_ context.Context, inputs []string, out string) error {
	if err := e.fail("merge"); err != nil {
		return err
	}
	total := 0
	for _, in := range inputs {
		n, err := readFakePages(in)
		if err != nil {
			return err
		}
		total += n
	}
	e.mu.Lock()
	e.merged = append(e.merged, append([]string(nil), inputs...))
	e.mu.Unlock()
	return e.write("merge", out, total, "merged")
}

func (e *fakeEngine) Optimize(_ context.Context, in, out string) error {
	if err := e.fail("optimize"); err != nil {
		return err
	}
	n, err := readFakePages(in)
	if err != nil {
		return err
	}
	return e.write("optimize", out, n, "optimized")
}

func (e *fakeEngine) Rasterize(_ context.Context, _ string, out string, page, dpi int) error {
	if err := e.fail("rasterize"); err != nil {
		return err
	}
	e.mu.Lock()
	e.rasterDPI = append(e.rasterDPI, dpi)
	e.mu.Unlock()
	return e.write("rasterize", out, 1, fmt.Sprintf("page %d", page))
}

func (e *fakeEngine) Ghostscript(_ context.Context, in, out string, preset OptimizePreset) error {
	if err := e.fail("ghostscript"); err != nil {
		return err
	}
	n, err := readFakePages(in)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.presets = append(e.presets, preset)
	e.mu.Unlock()
	return e.write("ghostscript", out, n, string(preset))
}

type testEnv struct {
	svc     *Service
	engine  *fakeEngine
	results *storage.Local
	input   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	results, err := storage.NewLocal(filepath.Join(root, "output"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	engine := &fakeEngine{}
	svc, err := NewService(Config{
		WorkDir:     filepath.Join(root, "work"),
		MaxFileSize: 1 << 20,
		MaxPages:    50,
	}, engine, results, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	input := filepath.Join(root, "input")
	if err := os.MkdirAll(input, 0o750); err != nil {
		t.Fatalf("failed to create input dir: %v", err)
	}
	return &testEnv{svc: svc, engine: engine, results: results, input: input}
}

func (env *testEnv) upload(t *testing.T, name string, pages int) Upload {
	t.Helper()
	up, err := FromPath(writeFakePDF(t, env.input, name, pages))
	if err != nil {
		t.Fatalf("FromPath returned error: %v", err)
	}
	return up
}

// progressLog は Reporter に渡された進捗を記録します。
type progressLog struct {
	mu      sync.Mutex
	reports []jobs.Progress
	refuse  bool
}

func (l *progressLog) report(p jobs.Progress) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reports = append(l.reports, p)
	return !l.refuse
}

func (l *progressLog) percents() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]int, len(l.reports))
	for i, p := range l.reports {
		out[i] = p.Resolve()
	}
	return out
}

func neverCancelled() bool { return false }

func (env *testEnv) prepareAndRun(t *testing.T, kind jobs.Kind, uploads []Upload, opts Options) (*jobs.Result, *progressLog, error) {
	t.Helper()
	manifest, err := env.svc.Prepare(context.Background(), kind, uploads, opts)
	if err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}
	task := env.svc.Task(manifest)
	log := &progressLog{}
	res, err := task.Run(context.Background(), log.report, neverCancelled)
	task.Cleanup()
	return res, log, err
}
