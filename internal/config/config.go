package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"webmonitor/internal/camera"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Camera    CameraConfig    `yaml:"camera" mapstructure:"camera"`
	Client    ClientConfig    `yaml:"client" mapstructure:"client"`
	State     StateConfig     `yaml:"state" mapstructure:"state"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host" mapstructure:"host"` // リッスンするホスト
	Port int    `yaml:"port" mapstructure:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`   // 読み込みタイムアウト
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"` // 書き込みタイムアウト
}

// CameraConfig はカメラ関連の設定
type CameraConfig struct {
	// 固定デバイス。空の場合は /dev/video* を自動検出する
	Devices []CameraDevice `yaml:"devices" mapstructure:"devices"`

	// 自動検出で調べるデバイス番号の上限（この値未満）
	MaxIndex int `yaml:"max_index" mapstructure:"max_index"`

	// 能力検出で試す解像度とフレームレート
	ResolutionOptions []Resolution `yaml:"resolution_options" mapstructure:"resolution_options"`
	FPSOptions        []int        `yaml:"fps_options" mapstructure:"fps_options"`
}

// Resolution は解像度の設定値
type Resolution struct {
	Width  int `yaml:"width" mapstructure:"width"`
	Height int `yaml:"height" mapstructure:"height"`
}

// CameraDevice は個別カメラの設定
type CameraDevice struct {
	ID     int    `yaml:"id" mapstructure:"id"`         // カメラID（デバイス番号）
	Name   string `yaml:"name" mapstructure:"name"`     // カメラ名
	Device string `yaml:"device" mapstructure:"device"` // デバイスパス (例: /dev/video0)
	Source string `yaml:"source" mapstructure:"source"` // "v4l2" または "pattern"
}

// ClientConfig はビューアが接続するバックエンドの設定
type ClientConfig struct {
	BaseURL string        `yaml:"base_url" mapstructure:"base_url"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// StateConfig はクライアント状態の永続化先
type StateConfig struct {
	Path string `yaml:"path" mapstructure:"path"` // SQLiteファイル。空ならメモリ上に保持
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	File  string `yaml:"file" mapstructure:"file"` // 空なら標準出力
}

// RateLimitConfig は設定変更APIのレート制限
type RateLimitConfig struct {
	SettingsPerSecond float64 `yaml:"settings_per_second" mapstructure:"settings_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
}

// Load は設定を読み込む
// path が空の場合はデフォルト値と環境変数のみを使う
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// 既存の環境変数名との互換性を保つ
	_ = v.BindEnv("server.host", "SERVER_HOST")
	_ = v.BindEnv("server.port", "PORT", "SERVER_PORT")
	_ = v.BindEnv("client.base_url", "WEBMONITOR_URL")
	_ = v.BindEnv("log.level", "LOG_LEVEL")

	v.SetEnvPrefix("WEBMONITOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("設定の展開に失敗: %w", err)
	}

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 0) // ストリーミング用にタイムアウト無効化

	v.SetDefault("camera.max_index", 10)
	v.SetDefault("camera.resolution_options", []map[string]int{
		{"width": 1920, "height": 1080},
		{"width": 1280, "height": 720},
		{"width": 640, "height": 480},
		{"width": 480, "height": 360},
		{"width": 320, "height": 240},
		{"width": 256, "height": 144},
	})
	v.SetDefault("camera.fps_options", []int{60, 30, 25, 20, 15, 10, 5})

	v.SetDefault("client.base_url", "http://127.0.0.1:8080")
	v.SetDefault("client.timeout", 5*time.Second)

	v.SetDefault("state.path", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")

	v.SetDefault("rate_limit.settings_per_second", 5.0)
	v.SetDefault("rate_limit.burst", 10)
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	// サーバー設定の検証
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}

	if c.Camera.MaxIndex < 0 {
		return fmt.Errorf("無効なデバイス番号の上限: %d", c.Camera.MaxIndex)
	}

	seen := make(map[int]bool, len(c.Camera.Devices))
	for _, dev := range c.Camera.Devices {
		if seen[dev.ID] {
			return fmt.Errorf("カメラIDが重複しています: %d", dev.ID)
		}
		seen[dev.ID] = true

		switch dev.Source {
		case "", camera.SourceV4L2:
			if dev.Device == "" {
				return fmt.Errorf("カメラ %d のデバイスパスが空です", dev.ID)
			}
		case camera.SourcePattern:
		default:
			return fmt.Errorf("カメラ %d の映像ソース種別が不明です: %s", dev.ID, dev.Source)
		}
	}

	for _, r := range c.Camera.ResolutionOptions {
		if r.Width <= 0 || r.Height <= 0 {
			return fmt.Errorf("無効な解像度候補: %dx%d", r.Width, r.Height)
		}
	}
	for _, fps := range c.Camera.FPSOptions {
		if fps <= 0 {
			return fmt.Errorf("無効なフレームレート候補: %d", fps)
		}
	}

	if c.RateLimit.SettingsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("無効なレート制限: %v/%d", c.RateLimit.SettingsPerSecond, c.RateLimit.Burst)
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
