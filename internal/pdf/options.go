package pdf

import (
	"fmt"
	"math"
	"strings"

	"github.com/yourusername/paperworks/internal/chunk"
	"github.com/yourusername/paperworks/internal/jobs"
)

// OptimizePreset は Ghostscript 圧縮プリセットの種類を表します。
type OptimizePreset string

const (
	OptimizePresetStandard   OptimizePreset = "standard"
	OptimizePresetAggressive OptimizePreset = "aggressive"
)

// Quality は画像化（フラット化）時の解像度プリセットです。
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
	QualityUltra  Quality = "ultra"
)

var qualityDPI = map[Quality]int{
	QualityLow:    150,
	QualityMedium: 200,
	QualityHigh:   300,
	QualityUltra:  600,
}

// DPI はプリセットの解像度を返します。
func (q Quality) DPI() int {
	return qualityDPI[q]
}

// Options は変換ごとの指定値です。使われない項目は種別ごとに無視されます。
type Options struct {
	OutputName string         `json:"outputName,omitempty"`
	Flatten    bool           `json:"flatten,omitempty"`
	Quality    Quality        `json:"quality,omitempty"`
	Preset     OptimizePreset `json:"preset,omitempty"`
	MaxPages   int            `json:"maxPages,omitempty"`
	MaxSizeMB  float64        `json:"maxSizeMb,omitempty"`
	Pages      string         `json:"pages,omitempty"`
}

// SplitMode は分割指定からチャンク方式とパラメータを求めます。
// ページ数と最大サイズはどちらか一方だけを指定します。
func (o Options) SplitMode() (chunk.Mode, int64, error) {
	hasPages := o.MaxPages > 0
	hasSize := o.MaxSizeMB > 0
	switch {
	case o.MaxPages < 0 || o.MaxSizeMB < 0 || math.IsNaN(o.MaxSizeMB) || math.IsInf(o.MaxSizeMB, 0):
		return "", 0, newError(CodeInvalidInput, "分割の指定値は正の数で入力してください。", nil)
	case hasPages && hasSize:
		return "", 0, newError(CodeInvalidInput, "ページ数と最大サイズはどちらか一方だけを指定してください。", nil)
	case hasPages:
		return chunk.ModePageCount, int64(o.MaxPages), nil
	case hasSize:
		bytes := int64(o.MaxSizeMB * 1024 * 1024)
		if bytes <= 0 {
			return "", 0, newError(CodeInvalidInput, "最大サイズが小さすぎます。", nil)
		}
		return chunk.ModeByteSize, bytes, nil
	default:
		return "", 0, newError(CodeInvalidInput, "分割するページ数または最大サイズ(MB)を指定してください。", nil)
	}
}

// normalize は種別に応じて既定値を補い、不正な指定を弾きます。
func (o Options) normalize(kind jobs.Kind) (Options, error) {
	o.OutputName = strings.TrimSpace(o.OutputName)
	o.Pages = strings.TrimSpace(o.Pages)

	switch kind {
	case jobs.KindFlatten:
		o.Flatten = true
	case jobs.KindCompress, jobs.KindCombine:
	default:
		o.Flatten = false
	}

	if o.Flatten {
		q, err := normalizeQuality(o.Quality)
		if err != nil {
			return o, err
		}
		o.Quality = q
	} else {
		o.Quality = ""
	}

	if kind == jobs.KindOptimize {
		p, err := normalizePreset(o.Preset)
		if err != nil {
			return o, err
		}
		o.Preset = p
	} else {
		o.Preset = ""
	}

	if kind == jobs.KindSplit {
		if _, _, err := o.SplitMode(); err != nil {
			return o, err
		}
	} else {
		o.MaxPages, o.MaxSizeMB = 0, 0
	}

	if kind == jobs.KindExtract {
		if o.Pages == "" {
			return o, newError(CodeInvalidInput, "抽出するページを指定してください。例: 1,3-7,10", nil)
		}
	} else {
		o.Pages = ""
	}
	return o, nil
}

func normalizeQuality(q Quality) (Quality, error) {
	switch Quality(strings.ToLower(string(q))) {
	case "", QualityMedium:
		return QualityMedium, nil
	case QualityLow:
		return QualityLow, nil
	case QualityHigh:
		return QualityHigh, nil
	case QualityUltra:
		return QualityUltra, nil
	default:
		return "", newError(CodeInvalidInput, fmt.Sprintf("qualityには low, medium, high, ultra のいずれかを指定してください (received: %s)", q), nil)
	}
}

func normalizePreset(p OptimizePreset) (OptimizePreset, error) {
	switch strings.ToLower(string(p)) {
	case "", string(OptimizePresetStandard):
		return OptimizePresetStandard, nil
	case string(OptimizePresetAggressive):
		return OptimizePresetAggressive, nil
	default:
		return "", newError(CodeInvalidInput, fmt.Sprintf("presetには standard または aggressive を指定してください (received: %s)", p), nil)
	}
}
