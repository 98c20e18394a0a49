package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"webmonitor/internal/camera"
	"webmonitor/internal/config"
	"webmonitor/internal/observability"
	"webmonitor/internal/server"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "バックエンドサーバーを起動する",
	RunE: func(cmd *cobra.Command, _ []string) error {
		// コマンドラインオプションで設定を上書き
		if serveHost != "" {
			cfg.Server.Host = serveHost
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		w, closeLog, err := observability.OpenLogWriter(cfg.Log.File, os.Stdout)
		if err != nil {
			return err
		}
		defer func() { _ = closeLog() }()
		logger := observability.NewLogger(cfg.Log.Level, w)

		metrics := observability.NewMetrics()
		cameras := camera.NewManager(camera.NewLinuxDiscovery(), cameraOptions(cfg, metrics), logger)

		ctx := cmd.Context()
		found, err := cameras.Refresh(ctx)
		if err != nil {
			// 一覧取得時に再検出するので起動は続ける
			logger.Warn().Err(err).Msg("起動時のカメラ検出に失敗しました")
		} else {
			logger.Info().Int("cameras", len(found)).Msg("カメラを検出しました")
		}

		srv, err := server.New(cfg, cameras, metrics, logger)
		if err != nil {
			return fmt.Errorf("サーバーの作成に失敗: %w", err)
		}

		logger.Info().Str("address", cfg.ServerAddress()).Msg("サーバーを起動します")
		return srv.Start(ctx)
	},
}

// cameraOptions は設定からカメラマネージャーのオプションを作る
func cameraOptions(cfg *config.Config, metrics *observability.Metrics) camera.Options {
	opts := camera.Options{
		MaxIndex:   cfg.Camera.MaxIndex,
		FPSOptions: append([]int(nil), cfg.Camera.FPSOptions...),
		OnScan:     metrics.CameraScans.Inc,
	}
	for _, r := range cfg.Camera.ResolutionOptions {
		opts.ResolutionOptions = append(opts.ResolutionOptions, camera.Resolution{Width: r.Width, Height: r.Height})
	}
	for _, dev := range cfg.Camera.Devices {
		source := dev.Source
		if source == "" {
			source = camera.SourceV4L2
		}
		opts.Static = append(opts.Static, camera.Camera{
			ID:     dev.ID,
			Name:   dev.Name,
			Device: dev.Device,
			Source: source,
		})
	}
	return opts
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "サーバーのポート (デフォルト: 8080)")
	rootCmd.AddCommand(serveCmd)
}
