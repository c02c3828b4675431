package pdf

import "github.com/yourusername/paperworks/internal/chunk"

// SourceFileMeta は入力ファイルの情報です。
type SourceFileMeta struct {
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	Pages int    `json:"pages"`
}

func sourceMeta(f storedFile) SourceFileMeta {
	return SourceFileMeta{Name: f.originalName, Size: f.size, Pages: f.pages}
}

// SizeMeta は出力サイズを伴う処理（圧縮・最適化・フラット化）のメタデータです。
type SizeMeta struct {
	OriginalSize int64          `json:"originalSize"`
	OutputSize   int64          `json:"outputSize"`
	SavedBytes   int64          `json:"savedBytes"`
	SavedPercent float64        `json:"savedPercent"`
	Preset       OptimizePreset `json:"preset,omitempty"`
	Quality      Quality        `json:"quality,omitempty"`
	DPI          int            `json:"dpi,omitempty"`
	Source       SourceFileMeta `json:"source"`
}

func newSizeMeta(src storedFile, outputSize int64) *SizeMeta {
	return &SizeMeta{
		OriginalSize: src.size,
		OutputSize:   outputSize,
		SavedBytes:   src.size - outputSize,
		SavedPercent: computeSavedPercent(src.size, outputSize),
		Source:       sourceMeta(src),
	}
}

func computeSavedPercent(before, after int64) float64 {
	if before == 0 {
		return 0
	}
	return float64(before-after) / float64(before) * 100
}

// SplitMeta は分割処理のメタデータです。
type SplitMeta struct {
	Original  SourceFileMeta `json:"original"`
	Mode      chunk.Mode     `json:"mode"`
	Estimated bool           `json:"estimated,omitempty"`
	Archived  bool           `json:"archived"`
	Parts     []SplitPart    `json:"parts"`
}

// SplitPart は分割で生成された各PDFの情報です。FromPage/ToPage は1始まりです。
type SplitPart struct {
	Filename string `json:"filename"`
	FromPage int    `json:"fromPage"`
	ToPage   int    `json:"toPage"`
	Pages    int    `json:"pages"`
	Size     int64  `json:"size"`
}

// CombineMeta は結合処理のメタデータです。
type CombineMeta struct {
	TotalPages int              `json:"totalPages"`
	Flattened  bool             `json:"flattened,omitempty"`
	Sources    []SourceFileMeta `json:"sources"`
}

// ExtractMeta はページ抽出のメタデータです。
type ExtractMeta struct {
	Source SourceFileMeta `json:"source"`
	Pages  []int          `json:"pages"`
}
