package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"webmonitor/internal/client"
	"webmonitor/internal/config"
	"webmonitor/internal/observability"
	"webmonitor/internal/store"
	"webmonitor/internal/viewer"
)

var (
	viewURL         string
	viewDownloadDir string
)

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "ターミナルビューアを開く",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if viewURL != "" {
			cfg.Client.BaseURL = viewURL
		}

		// 画面を崩さないよう、ファイル指定が無ければログは捨てる
		w, closeLog, err := observability.OpenLogWriter(cfg.Log.File, io.Discard)
		if err != nil {
			return err
		}
		defer func() { _ = closeLog() }()
		logger := observability.NewLogger(cfg.Log.Level, w)

		ctx := cmd.Context()
		st, closeStore, err := openStore(cmd, cfg.State)
		if err != nil {
			return err
		}
		defer func() { _ = closeStore() }()

		api := client.New(cfg.Client.BaseURL, cfg.Client.Timeout, logger)
		return viewer.Run(ctx, api, st, logger, viewer.Options{DownloadDir: viewDownloadDir})
	},
}

// openStore はクライアント状態の保存先を開く
func openStore(cmd *cobra.Command, sc config.StateConfig) (store.Store, func() error, error) {
	if sc.Path == "" {
		return store.NewMemoryStore(), func() error { return nil }, nil
	}
	st, err := store.OpenSQLite(cmd.Context(), sc.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("状態ファイルを開けません: %w", err)
	}
	return st, st.Close, nil
}

func init() {
	viewCmd.Flags().StringVar(&viewURL, "url", "", "バックエンドのURL (デフォルト: client.base_url)")
	viewCmd.Flags().StringVar(&viewDownloadDir, "download-dir", ".", "スナップショットの保存先")
	rootCmd.AddCommand(viewCmd)
}
