package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

func TestLocalPublishAndOpen(t *testing.T) {
	store, err := NewLocal(filepath.Join(t.TempDir(), "out"))
	if err != nil {
		t.Fatalf("NewLocal returned error: %v", err)
	}
	src := writeTemp(t, t.TempDir(), "result.pdf", "%PDF-1.7 body")

	obj, err := store.Publish(context.Background(), src, "report_compressed.pdf")
	if err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if obj.Name != "report_compressed.pdf" || obj.Key != obj.Name || obj.Size != int64(len("%PDF-1.7 body")) {
		t.Fatalf("unexpected object: %+v", obj)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatal("source file should be moved")
	}

	rc, size, err := store.Open(context.Background(), obj.Key)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "%PDF-1.7 body" || size != int64(len(data)) {
		t.Fatalf("unexpected content %q (size %d)", data, size)
	}
}

func TestLocalPublishNeverOverwrites(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal returned error: %v", err)
	}
	srcDir := t.TempDir()

	want := []string{"out.zip", "out (1).zip", "out (2).zip"}
	for i, name := range want {
		src := writeTemp(t, srcDir, "chunk.zip", string(rune('a'+i)))
		obj, err := store.Publish(context.Background(), src, "out.zip")
		if err != nil {
			t.Fatalf("Publish #%d returned error: %v", i, err)
		}
		if obj.Name != name {
			t.Fatalf("Publish #%d: got %s, want %s", i, obj.Name, name)
		}
	}
	first, err := os.ReadFile(filepath.Join(store.Dir(), "out.zip"))
	if err != nil || string(first) != "a" {
		t.Fatalf("first output was overwritten: %q %v", first, err)
	}
}

func TestLocalPublishConcurrentNamesAreDistinct(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal returned error: %v", err)
	}
	const n = 8
	names := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		src := writeTemp(t, t.TempDir(), "r.pdf", "x")
		wg.Add(1)
		go func() {
			defer wg.Done()
			obj, err := store.Publish(context.Background(), src, "same.pdf")
			if err != nil {
				t.Errorf("Publish returned error: %v", err)
				return
			}
			names <- obj.Name
		}()
	}
	wg.Wait()
	close(names)

	seen := map[string]bool{}
	for name := range names {
		if seen[name] {
			t.Fatalf("duplicate output name %s", name)
		}
		seen[name] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d outputs, got %d", n, len(seen))
	}
}

func TestLocalPublishStripsDirectories(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal returned error: %v", err)
	}
	src := writeTemp(t, t.TempDir(), "r.pdf", "x")
	obj, err := store.Publish(context.Background(), src, "../../etc/evil.pdf")
	if err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if obj.Name != "evil.pdf" {
		t.Fatalf("unexpected name %s", obj.Name)
	}
	if _, err := os.Stat(filepath.Join(store.Dir(), "evil.pdf")); err != nil {
		t.Fatalf("output not inside dir: %v", err)
	}
}

func TestLocalOpenRejectsTraversalAndMissing(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal returned error: %v", err)
	}
	for _, key := range []string{"", "..", "../x.pdf", "a/b.pdf", "missing.pdf"} {
		if _, _, err := store.Open(context.Background(), key); !errors.Is(err, ErrObjectNotFound) {
			t.Errorf("Open(%q): expected ErrObjectNotFound, got %v", key, err)
		}
	}
}

func TestLocalDelete(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal returned error: %v", err)
	}
	src := writeTemp(t, t.TempDir(), "r.pdf", "x")
	obj, err := store.Publish(context.Background(), src, "r.pdf")
	if err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if err := store.Delete(context.Background(), obj.Key); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if err := store.Delete(context.Background(), obj.Key); err != nil {
		t.Fatalf("second Delete returned error: %v", err)
	}
	if _, _, err := store.Open(context.Background(), obj.Key); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound after delete, got %v", err)
	}
}

func TestLocalPublishRejectsDotNames(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal returned error: %v", err)
	}
	src := writeTemp(t, t.TempDir(), "r.pdf", "x")
	for _, name := range []string{"", " ", ".", "..", "../..", "a/..", "/"} {
		if _, err := store.Publish(context.Background(), src, name); err == nil {
			t.Errorf("Publish(%q): expected error", name)
		}
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("source should be left in place: %v", err)
	}
	entries, err := os.ReadDir(store.Dir())
	if err != nil {
		t.Fatalf("failed to read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("rejected names left %d entries behind", len(entries))
	}
}
