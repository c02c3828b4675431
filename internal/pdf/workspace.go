package pdf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// workspace はジョブごとの作業ディレクトリです。
// in/ にアップロード、out/ に最終成果物、scratch/ に中間ファイルを置きます。
type workspace struct {
	id         string
	dir        string
	inDir      string
	outDir     string
	scratchDir string
}

func (w workspace) manifestPath() string {
	return filepath.Join(w.dir, manifestFilename)
}

func (s *Service) workspaceFor(id string) workspace {
	dir := filepath.Join(s.cfg.WorkDir, id)
	return workspace{
		id:         id,
		dir:        dir,
		inDir:      filepath.Join(dir, "in"),
		outDir:     filepath.Join(dir, "out"),
		scratchDir: filepath.Join(dir, "scratch"),
	}
}

func (s *Service) createWorkspace() (workspace, error) {
	ws := s.workspaceFor(s.newID())
	for _, dir := range []string{ws.inDir, ws.outDir, ws.scratchDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			_ = removeDir(ws.dir)
			return workspace{}, fmt.Errorf("failed to create workspace: %w", err)
		}
	}
	return ws, nil
}

// validWorkspaceID は他プロセスから渡された参照がワークディレクトリ外を指さないことを確認します。
func validWorkspaceID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}

func removeDir(dir string) error {
	if dir == "" {
		return nil
	}
	return os.RemoveAll(dir)
}
