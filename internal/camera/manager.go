package camera

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Options はカメラマネージャーの動作設定
type Options struct {
	// Static は固定で登録するカメラ。空の場合はデバイスを自動検出する
	Static []Camera

	// MaxIndex は自動検出で調べるデバイス番号の上限
	MaxIndex int

	// 能力検出で試す候補
	ResolutionOptions []Resolution
	FPSOptions        []int

	// OnScan はスキャンのたびに呼ばれる（メトリクス用）
	OnScan func()
}

// Manager はカメラ一覧のキャッシュと設定を管理する
type Manager struct {
	discovery Discovery
	opener    SourceOpener
	opts      Options
	logger    zerolog.Logger

	mu      sync.RWMutex
	cameras map[int]*Camera
}

// NewManager は新しいManagerを作成する
func NewManager(discovery Discovery, opts Options, logger zerolog.Logger) *Manager {
	return &Manager{
		discovery: discovery,
		opener:    DefaultOpener,
		opts:      opts,
		logger:    logger.With().Str("component", "camera").Logger(),
		cameras:   make(map[int]*Camera),
	}
}

// SetOpener は映像源の生成関数を差し替える
func (m *Manager) SetOpener(opener SourceOpener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opener = opener
}

// DefaultOpener はカメラの映像源種別に応じた FrameSource を返す
func DefaultOpener(cam Camera) FrameSource {
	defaults := currentParams(cam)
	if cam.Source == SourcePattern {
		return NewPatternSource(cam.ID, defaults)
	}
	return NewV4L2Source(cam.Device, defaults)
}

// Refresh はカメラを再検出してキャッシュを作り直す
// 既存カメラで変更された現在設定は引き継ぐ
func (m *Manager) Refresh(ctx context.Context) ([]Camera, error) {
	if m.opts.OnScan != nil {
		m.opts.OnScan()
	}

	found, err := m.detect(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next := make(map[int]*Camera, len(found))
	for i := range found {
		cam := found[i]
		if prev, ok := m.cameras[cam.ID]; ok {
			cam.CurrentResolution = prev.CurrentResolution
			cam.CurrentFPS = prev.CurrentFPS
		}
		next[cam.ID] = &cam
	}
	m.cameras = next

	m.logger.Debug().Int("cameras", len(next)).Msg("カメラ一覧を更新しました")
	return m.snapshotLocked(), nil
}

// detect は固定設定またはデバイス検出からカメラ一覧を作る
func (m *Manager) detect(ctx context.Context) ([]Camera, error) {
	if len(m.opts.Static) > 0 {
		cams := make([]Camera, 0, len(m.opts.Static))
		for _, c := range m.opts.Static {
			cam := c.clone()
			if cam.Name == "" {
				cam.Name = FallbackName(cam.ID)
			}
			if cam.Source == SourcePattern {
				cam.SupportedResolutions = append([]Resolution(nil), m.opts.ResolutionOptions...)
				cam.SupportedFPS = append([]int(nil), m.opts.FPSOptions...)
			} else {
				cam.SupportedResolutions, cam.SupportedFPS = m.discovery.ProbeCapabilities(ctx, cam.Device, m.opts.ResolutionOptions, m.opts.FPSOptions)
			}
			applyDefaults(&cam)
			cams = append(cams, cam)
		}
		return cams, nil
	}

	devices, err := m.discovery.ScanDevices(ctx, m.opts.MaxIndex)
	if err != nil {
		return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}

	cams := make([]Camera, 0, len(devices))
	for _, dev := range devices {
		res, fps := m.discovery.ProbeCapabilities(ctx, dev.Device, m.opts.ResolutionOptions, m.opts.FPSOptions)
		cam := Camera{
			ID:                   dev.Index,
			Name:                 dev.Name,
			Device:               dev.Device,
			Source:               SourceV4L2,
			SupportedResolutions: res,
			SupportedFPS:         fps,
		}
		if cam.Name == "" {
			cam.Name = FallbackName(dev.Index)
		}
		applyDefaults(&cam)
		cams = append(cams, cam)
	}
	return cams, nil
}

// applyDefaults は最大解像度と最大フレームレートを現在値にする
func applyDefaults(cam *Camera) {
	if len(cam.SupportedResolutions) == 0 {
		cam.SupportedResolutions = append([]Resolution(nil), DefaultResolutions...)
	}
	if len(cam.SupportedFPS) == 0 {
		cam.SupportedFPS = append([]int(nil), DefaultFPS...)
	}

	best := cam.SupportedResolutions[0]
	for _, r := range cam.SupportedResolutions[1:] {
		if r.Pixels() > best.Pixels() {
			best = r
		}
	}
	cam.CurrentResolution = &best

	maxFPS := cam.SupportedFPS[0]
	for _, f := range cam.SupportedFPS[1:] {
		if f > maxFPS {
			maxFPS = f
		}
	}
	cam.CurrentFPS = &maxFPS
}

// Cameras はキャッシュされたカメラ一覧をID順で返す
func (m *Manager) Cameras() []Camera {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() []Camera {
	cams := make([]Camera, 0, len(m.cameras))
	for _, cam := range m.cameras {
		cams = append(cams, cam.clone())
	}
	sort.Slice(cams, func(i, j int) bool { return cams[i].ID < cams[j].ID })
	return cams
}

// Lookup はキャッシュからカメラを取得する
func (m *Manager) Lookup(id int) (Camera, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cam, ok := m.cameras[id]
	if !ok {
		return Camera{}, false
	}
	return cam.clone(), true
}

// Info はカメラ情報を返す
// キャッシュに無い場合は一度だけ再検出し、それでも無ければ名前だけの情報を返す
func (m *Manager) Info(ctx context.Context, id int) Camera {
	if cam, ok := m.Lookup(id); ok {
		return cam
	}

	if _, err := m.Refresh(ctx); err != nil {
		m.logger.Warn().Err(err).Int("camera_id", id).Msg("カメラの再検出に失敗しました")
	}
	if cam, ok := m.Lookup(id); ok {
		return cam
	}

	return Camera{
		ID:     id,
		Name:   FallbackName(id),
		Device: fmt.Sprintf("/dev/video%d", id),
		Source: SourceV4L2,
	}
}

// ApplySettings はカメラの現在設定を更新する
func (m *Manager) ApplySettings(id int, s Settings) (Camera, error) {
	if err := s.Validate(); err != nil {
		return Camera{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cam, ok := m.cameras[id]
	if !ok {
		return Camera{}, fmt.Errorf("%w: %d", ErrCameraNotFound, id)
	}

	// 対応していない値は現在設定にもストリームの既定値にもしない
	res, hasRes := s.Resolution()
	if hasRes && !cam.SupportsResolution(res) {
		return Camera{}, fmt.Errorf("%w: 非対応の解像度 %s", ErrInvalidSettings, res)
	}
	if s.FPS != nil && !cam.SupportsFPS(*s.FPS) {
		return Camera{}, fmt.Errorf("%w: 非対応のフレームレート %d", ErrInvalidSettings, *s.FPS)
	}

	if hasRes {
		cam.CurrentResolution = &res
	}
	if s.FPS != nil {
		fps := *s.FPS
		cam.CurrentFPS = &fps
	}

	m.logger.Info().Int("camera_id", id).Interface("settings", s).Msg("カメラ設定を更新しました")
	return cam.clone(), nil
}

// Source はカメラの映像源を返す
func (m *Manager) Source(ctx context.Context, id int) FrameSource {
	cam := m.Info(ctx, id)

	m.mu.RLock()
	opener := m.opener
	m.mu.RUnlock()

	return opener(cam)
}

// currentParams はカメラの現在設定をストリームパラメータに変換する
func currentParams(cam Camera) StreamParams {
	var p StreamParams
	if cam.CurrentResolution != nil {
		p.Width, p.Height = cam.CurrentResolution.Width, cam.CurrentResolution.Height
	}
	if cam.CurrentFPS != nil {
		p.FPS = *cam.CurrentFPS
	}
	return p
}
