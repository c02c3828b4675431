package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yourusername/paperworks/internal/jobs"
	"github.com/yourusername/paperworks/internal/pdf"
)

var planCmd = &cobra.Command{
	Use:   "plan <file.pdf>",
	Short: "分割計画を表示します（ファイルは書き出しません）",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := splitOptions(cmd)
		if err != nil {
			return err
		}
		env, err := newLocalEnv(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		up, err := pdf.FromPath(args[0])
		if err != nil {
			return err
		}
		result, err := env.svc.Inspect(cmd.Context(), up, opts)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	addSplitFlags(planCmd)
}

func addSplitFlags(cmd *cobra.Command) {
	cmd.Flags().Int("pages", 0, "1ファイルあたりのページ数")
	cmd.Flags().Float64("max-size-mb", 0, "1ファイルあたりの目標サイズ(MB、推定)")
	cmd.MarkFlagsOneRequired("pages", "max-size-mb")
	cmd.MarkFlagsMutuallyExclusive("pages", "max-size-mb")
}

func splitOptions(cmd *cobra.Command) (pdf.Options, error) {
	pages, err := cmd.Flags().GetInt("pages")
	if err != nil {
		return pdf.Options{}, err
	}
	size, err := cmd.Flags().GetFloat64("max-size-mb")
	if err != nil {
		return pdf.Options{}, err
	}
	return pdf.Options{MaxPages: pages, MaxSizeMB: size}, nil
}

func addFlattenFlags(cmd *cobra.Command, withToggle bool) {
	if withToggle {
		cmd.Flags().Bool("flatten", false, "先に全ページを画像化する")
	}
	cmd.Flags().String("quality", string(pdf.QualityMedium), "画像化の品質 (low, medium, high, ultra)")
}

// transformCommand は1種類の変換を実行するサブコマンドを作ります。
func transformCommand(kind jobs.Kind, use, short string, args cobra.PositionalArgs, options func(*cobra.Command) (pdf.Options, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, paths []string) error {
			opts, err := options(cmd)
			if err != nil {
				return err
			}
			opts.OutputName = outputName

			env, err := newLocalEnv(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			record, err := env.run(cmd.Context(), cmd.OutOrStdout(), kind, paths, opts)
			if err != nil {
				return err
			}
			return outcome(record, env.results.Dir(), cmd.OutOrStdout())
		},
	}
}

func transformCommands() []*cobra.Command {
	flattenOptions := func(cmd *cobra.Command) (pdf.Options, error) {
		var opts pdf.Options
		if cmd.Flags().Lookup("flatten") != nil {
			v, err := cmd.Flags().GetBool("flatten")
			if err != nil {
				return opts, err
			}
			opts.Flatten = v
		}
		q, err := cmd.Flags().GetString("quality")
		if err != nil {
			return opts, err
		}
		opts.Quality = pdf.Quality(q)
		return opts, nil
	}

	compress := transformCommand(jobs.KindCompress, "compress <file.pdf>",
		"重複オブジェクトの除去とストリーム圧縮でサイズを減らします", cobra.ExactArgs(1), flattenOptions)
	addFlattenFlags(compress, true)

	split := transformCommand(jobs.KindSplit, "split <file.pdf>",
		"ページ数または目標サイズで分割し、複数なら zip にまとめます", cobra.ExactArgs(1), splitOptions)
	addSplitFlags(split)

	combine := transformCommand(jobs.KindCombine, "combine <file.pdf> <file.pdf>...",
		"指定した順に PDF を結合します", cobra.MinimumNArgs(2), flattenOptions)
	addFlattenFlags(combine, true)

	flatten := transformCommand(jobs.KindFlatten, "flatten <file.pdf>",
		"全ページを画像化して注釈やフォームを焼き込みます", cobra.ExactArgs(1), flattenOptions)
	addFlattenFlags(flatten, false)

	optimize := transformCommand(jobs.KindOptimize, "optimize <file.pdf>",
		"Ghostscript のプリセットで再出力します", cobra.ExactArgs(1),
		func(cmd *cobra.Command) (pdf.Options, error) {
			preset, err := cmd.Flags().GetString("preset")
			return pdf.Options{Preset: pdf.OptimizePreset(preset)}, err
		})
	optimize.Flags().String("preset", string(pdf.OptimizePresetStandard), "standard または aggressive")

	extract := transformCommand(jobs.KindExtract, "extract <file.pdf>",
		"指定したページだけを取り出します", cobra.ExactArgs(1),
		func(cmd *cobra.Command) (pdf.Options, error) {
			pages, err := cmd.Flags().GetString("pages")
			if err == nil && pages == "" {
				err = fmt.Errorf("--pages を指定してください (例: 1,3-7,10)")
			}
			return pdf.Options{Pages: pages}, err
		})
	extract.Flags().String("pages", "", "抽出するページ (例: 1,3-7,10)")

	return []*cobra.Command{compress, split, combine, flatten, optimize, extract}
}
