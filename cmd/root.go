// Package cmd はwebmonitorのコマンドラインを実装する
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"webmonitor/internal/config"
)

var (
	cfgFile  string
	logLevel string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "webmonitor",
	Short: "カメラ映像のWebモニター",
	Long: `カメラ映像をブラウザやターミナルで一覧・プレビューするWebモニター。
serve でバックエンドを起動し、view でターミナルビューアを開く。`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.Log.Level = logLevel
		}
		cfg = loaded
		return nil
	},
}

// Execute はコマンドを実行する
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "設定ファイル (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "ログレベル (debug, info, warn, error)")
}
