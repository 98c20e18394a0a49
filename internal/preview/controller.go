package preview

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"webmonitor/internal/camera"
	"webmonitor/internal/client"
	"webmonitor/internal/dom"
)

// ErrNoFrame は映像要素にまだフレームが表示されていないことを表す
var ErrNoFrame = errors.New("表示中のフレームがありません")

// dataURLPrefix は静止画に差し替えた src の接頭辞
const dataURLPrefix = "data:image/jpeg;base64,"

// Backend はプレビューが使うバックエンドAPI
type Backend interface {
	Cameras(ctx context.Context) ([]camera.Camera, error)
	ApplySettings(ctx context.Context, id int, s camera.Settings) (client.SettingsResult, error)
}

// Elements はプレビューが操作する要素。nil の要素への操作は何もしない
type Elements struct {
	Feed             *dom.Element
	Status           *dom.Element
	PauseButton      *dom.Element
	ResolutionSelect *dom.Element
	FPSSelect        *dom.Element
}

// Option は Controller と Page の設定
type Option func(*options)

type options struct {
	now         func() time.Time
	navigate    func(path string)
	downloadDir string
}

// WithClock はキャッシュ回避トークンとファイル名に使う時刻の取得方法を差し替える
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithNavigator はページ遷移の方法を差し替える
func WithNavigator(navigate func(path string)) Option {
	return func(o *options) { o.navigate = navigate }
}

// WithDownloadDir はダウンロードボタンで保存するディレクトリを指定する
func WithDownloadDir(dir string) Option {
	return func(o *options) { o.downloadDir = dir }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, downloadDir: "."}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Controller は1台のカメラのプレビュー状態を管理する
type Controller struct {
	cameraID   int
	cameraName string
	backend    Backend
	els        Elements
	now        func() time.Time
	logger     zerolog.Logger

	mu    sync.Mutex
	state State
}

// NewController は Live 状態の Controller を作成する
func NewController(cameraID int, cameraName string, backend Backend, els Elements, logger zerolog.Logger, opts ...Option) *Controller {
	o := buildOptions(opts)
	return &Controller{
		cameraID:   cameraID,
		cameraName: cameraName,
		backend:    backend,
		els:        els,
		now:        o.now,
		logger:     logger.With().Str("component", "preview").Int("camera_id", cameraID).Logger(),
		state:      State{Mode: Live},
	}
}

// State は現在の状態のコピーを返す
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// CameraName はカメラ名を返す
func (c *Controller) CameraName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cameraName
}

// token はキャッシュ回避用のトークンを返す
func (c *Controller) token() string {
	return strconv.FormatInt(c.now().UnixMilli(), 10)
}

// Freeze は要素に表示中のフレームを画素単位で複製し、要素の表示をその静止画に差し替える
// 新しいストリーム要求は行わない。複製したJPEGを返す
func (c *Controller) Freeze(feed *dom.Element) ([]byte, error) {
	if feed == nil {
		return nil, nil
	}

	current := feed.Image()
	if current == nil {
		return nil, ErrNoFrame
	}

	bounds := current.Bounds()
	still := image.NewRGBA(bounds)
	draw.Draw(still, bounds, current, bounds.Min, draw.Src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, still, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("静止画のエンコードに失敗: %w", err)
	}

	src := dataURLPrefix + base64.StdEncoding.EncodeToString(buf.Bytes())
	feed.SetSrc(src)
	feed.SetImageForSrc(src, still)

	return buf.Bytes(), nil
}

// RestoreLive は要素をカメラのライブ映像に戻す。URLには新しいトークンを付ける
func (c *Controller) RestoreLive(feed *dom.Element) {
	if feed == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restoreLiveLocked(feed)
}

// restoreLiveLocked は現在のパラメータと新しいトークンでライブ映像のURLを設定する
// c.mu を保持して呼ぶ
func (c *Controller) restoreLiveLocked(feed *dom.Element) {
	feed.SetSrc(FeedURL(c.cameraID, c.state.Params, c.token()))
}

// TogglePause はライブと一時停止を切り替える
// Live では Freeze、Frozen では RestoreLive をそれぞれ1回だけ呼ぶ
func (c *Controller) TogglePause() error {
	feed := c.els.Feed
	if feed == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state.Mode {
	case Live:
		data, err := c.Freeze(feed)
		if err != nil {
			c.logger.Warn().Err(err).Msg("一時停止できませんでした")
			return err
		}
		c.state.Mode = Frozen
		c.state.Frozen = data
	case Frozen:
		c.restoreLiveLocked(feed)
		c.state.Mode = Live
		c.state.Frozen = nil
	}

	c.updateIndicatorsLocked()
	c.logger.Debug().Stringer("mode", c.state.Mode).Msg("表示モードを切り替えました")
	return nil
}

// ApplySettings はストリームのパラメータをバックエンドに送り、成功したらライブ映像を更新する
// 一時停止中であればライブに戻す。失敗時は要素も状態も変更しない
func (c *Controller) ApplySettings(ctx context.Context, width, height, fps *int) error {
	s := camera.Settings{Width: width, Height: height, FPS: fps}
	if err := s.Validate(); err != nil {
		return err
	}
	feed := c.els.Feed
	if feed == nil {
		return nil
	}

	// 通信中はロックを保持しない
	if _, err := c.backend.ApplySettings(ctx, c.cameraID, s); err != nil {
		c.logger.Error().Err(err).Msg("設定の適用に失敗しました")
		return fmt.Errorf("カメラ %d の設定適用に失敗: %w", c.cameraID, err)
	}

	params := &Params{}
	if res, ok := s.Resolution(); ok {
		params.Width, params.Height = res.Width, res.Height
	}
	if fps != nil {
		params.FPS = *fps
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.Params = params
	c.state.Mode = Live
	c.state.Frozen = nil
	c.restoreLiveLocked(feed)
	c.updateIndicatorsLocked()

	c.logger.Info().Interface("params", params).Msg("設定を適用しました")
	return nil
}

// Load はカメラ情報を取得して選択肢を作り、現在の設定でライブ映像を表示する
func (c *Controller) Load(ctx context.Context) error {
	cams, err := c.backend.Cameras(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("カメラ情報の取得に失敗しました")
		return err
	}

	var cam *camera.Camera
	for i := range cams {
		if cams[i].ID == c.cameraID {
			cam = &cams[i]
			break
		}
	}
	if cam == nil {
		c.logger.Warn().Msg("カメラ情報が見つかりません")
		return fmt.Errorf("%w: %d", camera.ErrCameraNotFound, c.cameraID)
	}

	PopulateResolutions(c.els.ResolutionSelect, *cam)
	PopulateFPS(c.els.FPSSelect, *cam)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cameraName == "" {
		c.cameraName = cam.Name
	}
	if cam.CurrentResolution == nil {
		return nil
	}

	params := &Params{Width: cam.CurrentResolution.Width, Height: cam.CurrentResolution.Height}
	if cam.CurrentFPS != nil {
		params.FPS = *cam.CurrentFPS
	}
	c.state.Params = params
	if c.state.Mode == Live && c.els.Feed != nil {
		c.els.Feed.SetSrc(FeedURL(c.cameraID, params, c.token()))
	}
	return nil
}

// updateIndicatorsLocked は状態表示とボタンの文言をモードに合わせる
func (c *Controller) updateIndicatorsLocked() {
	status, label := StatusLive, LabelPause
	if c.state.Mode == Frozen {
		status, label = StatusPaused, LabelResume
	}
	if c.els.Status != nil {
		c.els.Status.SetText(status)
	}
	if c.els.PauseButton != nil {
		c.els.PauseButton.SetText(label)
	}
}

// IsStill は src が静止画に差し替えられたものかを返す
func IsStill(src string) bool {
	return strings.HasPrefix(src, "data:")
}
