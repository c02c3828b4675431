package main

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	outDir     string
	outputName string
)

var rootCmd = &cobra.Command{
	Use:   "pfctl",
	Short: "PDF を圧縮・分割・結合・フラット化・最適化・ページ抽出するコマンドラインツール",
	Long: `pfctl は API サーバーと同じ変換処理をローカルで実行します。

ジョブはプロセス内のワーカーで実行され、進捗を表示しながら完了を待ちます。
Ctrl-C を押すとキャンセルを要求し、一時ファイルを片付けてから終了します。`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "設定ファイル（YAML）のパス（既定: CONFIG_FILE）",
	)
	rootCmd.PersistentFlags().StringVar(
		&outDir, "out-dir", "", "成果物の出力先ディレクトリ（既定: OUTPUT_DIR）",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputName, "name", "n", "", "成果物のファイル名（拡張子は自動で付け替えます）",
	)

	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(transformCommands()...)
}
