package pdf

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// parsePageSelection は "1,3-7,10" 形式のページ指定を解釈し、重複を除いた昇順のページ番号を返します。
// 範囲外のページは無視せずエラーにします。
func parsePageSelection(expr string, pageCount int) ([]int, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, newError(CodeInvalidInput, "抽出するページを指定してください。例: 1,3-7,10", nil)
	}

	seen := make(map[int]struct{})
	for _, seg := range strings.Split(expr, ",") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		start, end, err := parseSelectionSegment(seg)
		if err != nil {
			return nil, err
		}
		if start < 1 || end > pageCount {
			return nil, newError(CodeInvalidInput, fmt.Sprintf("ページ指定 %s が範囲外です (1-%d)。", seg, pageCount), nil)
		}
		for p := start; p <= end; p++ {
			seen[p] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil, newError(CodeInvalidInput, "抽出するページを指定してください。例: 1,3-7,10", nil)
	}

	pages := make([]int, 0, len(seen))
	for p := range seen {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages, nil
}

func parseSelectionSegment(seg string) (int, int, error) {
	invalid := newError(CodeInvalidInput, fmt.Sprintf("ページ指定 %s を解釈できません。", seg), nil)

	from, to, isRange := strings.Cut(seg, "-")
	start, err := strconv.Atoi(strings.TrimSpace(from))
	if err != nil {
		return 0, 0, invalid
	}
	if !isRange {
		return start, start, nil
	}
	end, err := strconv.Atoi(strings.TrimSpace(to))
	if err != nil || end < start {
		return 0, 0, invalid
	}
	return start, end, nil
}

func pageStrings(pages []int) []string {
	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = strconv.Itoa(p)
	}
	return out
}
