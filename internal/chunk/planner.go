// Package chunk はページ付き文書を連続したページ範囲（チャンク）へ分割する計画を立てます。
package chunk

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// FallbackPageBytes は元ファイルサイズが不明な場合に使う1ページあたりの推定サイズです（1.5MiB）。
const FallbackPageBytes = 1.5 * 1024 * 1024

// ErrInvalidParameter は分割パラメータが不正な場合に返されます。
var ErrInvalidParameter = errors.New("invalid chunk parameter")

// Mode は分割方式を表します。
type Mode string

const (
	// ModePageCount は1チャンクあたりのページ数で分割します。
	ModePageCount Mode = "pages"
	// ModeByteSize は1チャンクあたりの目標バイト数で分割します（推定値）。
	ModeByteSize Mode = "bytes"
)

// Chunk は1つのページ範囲です。Start/End は0始まりの半開区間 [Start, End) です。
type Chunk struct {
	Index int    `json:"index"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Label string `json:"label"`
}

// Pages はチャンクに含まれるページ数を返します。
func (c Chunk) Pages() int {
	return c.End - c.Start
}

// Filename はチャンクの出力ファイル名 "{label}_{base}" を返します。
func (c Chunk) Filename(base string) string {
	return c.Label + "_" + base
}

// PageSelection は pdfcpu に渡す1始まりのページ番号一覧を返します。
func (c Chunk) PageSelection() []string {
	pages := make([]string, 0, c.Pages())
	for p := c.Start; p < c.End; p++ {
		pages = append(pages, strconv.Itoa(p+1))
	}
	return pages
}

// Plan は分割計画です。
type Plan struct {
	Mode          Mode    `json:"mode"`
	TotalPages    int     `json:"totalPages"`
	PagesPerChunk int     `json:"pagesPerChunk"`
	AvgPageBytes  float64 `json:"avgPageBytes,omitempty"`
	Estimated     bool    `json:"estimated,omitempty"`
	Chunks        []Chunk `json:"chunks"`
}

// Len はチャンク数を返します。
func (p *Plan) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Chunks)
}

// Build は totalPages ページの文書を mode に従って分割する計画を返します。
// param は ModePageCount ではページ数、ModeByteSize では目標バイト数です。
// documentBytes は元ファイルのサイズで、0以下の場合は FallbackPageBytes で推定します。
func Build(totalPages int, mode Mode, param int64, documentBytes int64) (*Plan, error) {
	if totalPages <= 0 {
		return nil, fmt.Errorf("%w: total pages must be positive (got %d)", ErrInvalidParameter, totalPages)
	}
	if param <= 0 {
		return nil, fmt.Errorf("%w: %s parameter must be positive (got %d)", ErrInvalidParameter, mode, param)
	}

	plan := &Plan{
		Mode:       mode,
		TotalPages: totalPages,
	}

	switch mode {
	case ModePageCount:
		// 分割しても1ファイルにしかならない指定は呼び出し側に明示的に伝える
		if param >= int64(totalPages) {
			return nil, fmt.Errorf("%w: %d pages per chunk does not split a %d page document", ErrInvalidParameter, param, totalPages)
		}
		plan.PagesPerChunk = int(param)
	case ModeByteSize:
		avg, estimated := averagePageBytes(totalPages, documentBytes)
		plan.AvgPageBytes = avg
		plan.Estimated = estimated
		plan.PagesPerChunk = max(1, int(float64(param)/avg))
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidParameter, mode)
	}

	plan.Chunks = buildChunks(totalPages, plan.PagesPerChunk)
	return plan, nil
}

func averagePageBytes(totalPages int, documentBytes int64) (float64, bool) {
	if documentBytes <= 0 {
		return FallbackPageBytes, true
	}
	return float64(documentBytes) / float64(totalPages), false
}

func buildChunks(totalPages, perChunk int) []Chunk {
	count := (totalPages + perChunk - 1) / perChunk
	width := len(strconv.Itoa(count))

	chunks := make([]Chunk, 0, count)
	for start, idx := 0, 1; start < totalPages; start, idx = start+perChunk, idx+1 {
		chunks = append(chunks, Chunk{
			Index: idx,
			Start: start,
			End:   min(start+perChunk, totalPages),
			Label: padIndex(idx, width),
		})
	}
	return chunks
}

func padIndex(idx, width int) string {
	s := strconv.Itoa(idx)
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}
