// Package client はバックエンドのHTTP APIを呼び出すクライアント
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"webmonitor/internal/camera"
)

var (
	// ErrSettingsRejected はバックエンドが設定変更を受け付けなかったことを表す
	ErrSettingsRejected = errors.New("設定変更が拒否されました")
	// ErrSnapshotUnavailable はスナップショットを取得できなかったことを表す
	ErrSnapshotUnavailable = errors.New("スナップショットを取得できません")
)

// SettingsResult は設定変更APIの応答
type SettingsResult struct {
	Message    string             `json:"message"`
	CameraID   int                `json:"camera_id"`
	Resolution *camera.Resolution `json:"resolution"`
	FPS        *int               `json:"fps"`
}

// Client はバックエンドAPIのクライアント
type Client struct {
	http   *resty.Client
	stream *resty.Client // タイムアウトなし
	logger zerolog.Logger
}

// New は新しいClientを作成する
func New(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	baseURL = strings.TrimRight(baseURL, "/")

	r := resty.New()
	r.SetBaseURL(baseURL)
	r.SetTimeout(timeout)
	r.SetHeader("Accept", "application/json")

	s := resty.New()
	s.SetBaseURL(baseURL)

	return &Client{
		http:   r,
		stream: s,
		logger: logger.With().Str("component", "client").Logger(),
	}
}

// Cameras はカメラ一覧を取得する
// 2xx 以外の応答は「カメラなし」として空の一覧を返す
func (c *Client) Cameras(ctx context.Context) ([]camera.Camera, error) {
	var cams []camera.Camera
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&cams).
		Get("/api/cameras")
	if err != nil {
		return nil, fmt.Errorf("カメラ一覧の取得に失敗: %w", err)
	}

	if resp.IsError() {
		c.logger.Warn().Int("status", resp.StatusCode()).Msg("カメラ一覧の取得が失敗応答を返しました")
		return []camera.Camera{}, nil
	}
	if cams == nil {
		cams = []camera.Camera{}
	}
	return cams, nil
}

// Camera はIDでカメラ情報を取得する
func (c *Client) Camera(ctx context.Context, id int) (camera.Camera, error) {
	cams, err := c.Cameras(ctx)
	if err != nil {
		return camera.Camera{}, err
	}
	for _, cam := range cams {
		if cam.ID == id {
			return cam, nil
		}
	}
	return camera.Camera{}, fmt.Errorf("%w: %d", camera.ErrCameraNotFound, id)
}

// ApplySettings はカメラの解像度とフレームレートを変更する
func (c *Client) ApplySettings(ctx context.Context, id int, s camera.Settings) (SettingsResult, error) {
	var result SettingsResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(s).
		SetResult(&result).
		Post(fmt.Sprintf("/api/camera/%d/settings", id))
	if err != nil {
		return SettingsResult{}, fmt.Errorf("設定変更の送信に失敗: %w", err)
	}

	if !resp.IsSuccess() {
		return SettingsResult{}, fmt.Errorf("%w: status %d: %s", ErrSettingsRejected, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return result, nil
}

// Snapshot は現在のフレームを1枚JPEGで取得する
func (c *Client) Snapshot(ctx context.Context, id int) ([]byte, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "image/jpeg").
		SetQueryParam("snapshot", "1").
		Get(fmt.Sprintf("/video_feed/%d", id))
	if err != nil {
		return nil, fmt.Errorf("スナップショットの取得に失敗: %w", err)
	}

	if resp.StatusCode() != http.StatusOK || len(resp.Body()) == 0 {
		return nil, fmt.Errorf("%w: status %d", ErrSnapshotUnavailable, resp.StatusCode())
	}
	return resp.Body(), nil
}
