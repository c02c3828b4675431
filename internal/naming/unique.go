// Package naming は既存ファイルと衝突しない出力名を決定します。
package naming

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// MaxAttempts は連番候補を試す上限です。
const MaxAttempts = 1000

// ErrNamingExhausted は MaxAttempts 回試しても空き名が見つからなかった場合に返されます。
var ErrNamingExhausted = errors.New("unable to find a unique name")

// ExistsFunc は候補名が既に使われているかを判定します。
type ExistsFunc func(candidate string) (bool, error)

var numberedSuffix = regexp.MustCompile(`^(.+?)\s*\((\d+)\)$`)

// MakeUnique は desired がファイルシステム上に存在しなければそのまま返し、
// 存在する場合は "base (N).ext" 形式で存在しないパスを返します。
// プロセス間のロックは取らないため、同名を同時に選ぶ書き込み手との競合は考慮しません。
func MakeUnique(desired string) (string, error) {
	return MakeUniqueFunc(desired, fileExists)
}

// MakeUniqueFunc は exists で判定する名前空間（オブジェクトストレージ等）向けの MakeUnique です。
func MakeUniqueFunc(desired string, exists ExistsFunc) (string, error) {
	taken, err := exists(desired)
	if err != nil {
		return "", err
	}
	if !taken {
		return desired, nil
	}

	dir, file := splitDir(desired)
	ext := filepath.Ext(file)
	stem := strings.TrimSuffix(file, ext)

	base, next := stem, 1
	if m := numberedSuffix.FindStringSubmatch(stem); m != nil {
		if n, convErr := strconv.Atoi(m[2]); convErr == nil {
			base = strings.TrimSpace(m[1])
			next = n + 1
		}
	}

	for i := 0; i < MaxAttempts; i++ {
		candidate := dir + fmt.Sprintf("%s (%d)%s", base, next+i, ext)
		taken, err := exists(candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts: %s", ErrNamingExhausted, MaxAttempts, desired)
}

// splitDir はスラッシュ区切りのオブジェクトキーにも使えるよう、区切り文字を保ったまま分割します。
func splitDir(p string) (string, string) {
	idx := strings.LastIndexAny(p, `/`+string(filepath.Separator))
	if idx < 0 {
		return "", p
	}
	return p[:idx+1], p[idx+1:]
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}
