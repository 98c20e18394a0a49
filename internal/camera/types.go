package camera

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrCameraNotFound は指定IDのカメラが存在しないことを表す
	ErrCameraNotFound = errors.New("カメラが見つかりません")
	// ErrInvalidSettings は解像度・フレームレートの指定が不正であることを表す
	ErrInvalidSettings = errors.New("無効な設定値")
	// ErrCaptureFailed はフレームを取得できなかったことを表す
	ErrCaptureFailed = errors.New("フレームの取得に失敗")
)

// 映像ソース種別
const (
	SourceV4L2    = "v4l2"
	SourcePattern = "pattern"
)

// Resolution はカメラの解像度を表す
// JSONでは [width, height] の配列として表現する
type Resolution struct {
	Width  int // 幅
	Height int // 高さ
}

// MarshalJSON は [width, height] 形式で出力する
func (r Resolution) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{r.Width, r.Height})
}

// UnmarshalJSON は [width, height] 形式を読み込む
func (r *Resolution) UnmarshalJSON(data []byte) error {
	var pair []int
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("解像度は2要素の配列である必要があります: %s", data)
	}
	r.Width, r.Height = pair[0], pair[1]
	return nil
}

// String は "1920x1080" 形式の文字列を返す
func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Pixels は画素数を返す
func (r Resolution) Pixels() int {
	return r.Width * r.Height
}

// Camera はバックエンドが公開するカメラ情報
type Camera struct {
	ID                   int          `json:"id"`
	Name                 string       `json:"name"`
	SupportedResolutions []Resolution `json:"supported_resolutions"`
	CurrentResolution    *Resolution  `json:"current_resolution"`
	SupportedFPS         []int        `json:"supported_fps"`
	CurrentFPS           *int         `json:"current_fps"`

	Device string `json:"-"` // デバイスパス（例: /dev/video0）
	Source string `json:"-"` // 映像ソース種別
}

// clone は可変フィールドを複製したコピーを返す
func (c Camera) clone() Camera {
	out := c
	out.SupportedResolutions = append([]Resolution(nil), c.SupportedResolutions...)
	out.SupportedFPS = append([]int(nil), c.SupportedFPS...)
	if c.CurrentResolution != nil {
		r := *c.CurrentResolution
		out.CurrentResolution = &r
	}
	if c.CurrentFPS != nil {
		f := *c.CurrentFPS
		out.CurrentFPS = &f
	}
	return out
}

// SupportsResolution は対応する解像度かどうかを返す
func (c Camera) SupportsResolution(r Resolution) bool {
	for _, s := range c.SupportedResolutions {
		if s == r {
			return true
		}
	}
	return false
}

// SupportsFPS は対応するフレームレートかどうかを返す
func (c Camera) SupportsFPS(fps int) bool {
	for _, f := range c.SupportedFPS {
		if f == fps {
			return true
		}
	}
	return false
}

// Settings はストリームの設定要求を表す
// Width と Height は両方指定するか両方省略する。FPS は独立して省略できる
type Settings struct {
	Width  *int `json:"width"`
	Height *int `json:"height"`
	FPS    *int `json:"fps"`
}

// Validate は設定値の妥当性を検証する
func (s Settings) Validate() error {
	if (s.Width == nil) != (s.Height == nil) {
		return fmt.Errorf("%w: 幅と高さは同時に指定してください", ErrInvalidSettings)
	}
	if s.Width != nil && (*s.Width <= 0 || *s.Height <= 0) {
		return fmt.Errorf("%w: 無効な解像度 %dx%d", ErrInvalidSettings, *s.Width, *s.Height)
	}
	if s.FPS != nil && *s.FPS <= 0 {
		return fmt.Errorf("%w: 無効なフレームレート %d", ErrInvalidSettings, *s.FPS)
	}
	return nil
}

// Resolution は指定された解像度を返す
func (s Settings) Resolution() (Resolution, bool) {
	if s.Width == nil || s.Height == nil {
		return Resolution{}, false
	}
	return Resolution{Width: *s.Width, Height: *s.Height}, true
}

// StreamParams はストリーム開始時のパラメータ。0 は未指定を表す
type StreamParams struct {
	Width  int
	Height int
	FPS    int
}

// Discovery はカメラデバイスの検出機能を提供する
type Discovery interface {
	// ScanDevices は番号 maxIndex 未満の利用可能なデバイスをスキャンする
	ScanDevices(ctx context.Context, maxIndex int) ([]DeviceInfo, error)

	// ProbeCapabilities はデバイスが対応する解像度とフレームレートを調べる
	ProbeCapabilities(ctx context.Context, device string, resolutions []Resolution, fps []int) ([]Resolution, []int)
}

// DeviceInfo はカメラデバイスの詳細情報を表す
type DeviceInfo struct {
	Index  int    // デバイス番号
	Device string // デバイスパス
	Name   string // デバイス名
}

// FrameSource は1台のカメラの映像源
type FrameSource interface {
	// Stream はJPEGフレームを送るチャンネルを返す。ctx のキャンセルで閉じられる
	Stream(ctx context.Context, params StreamParams) (<-chan []byte, error)

	// Snapshot は1フレームをJPEGで取得する
	Snapshot(ctx context.Context) ([]byte, error)
}

// SourceOpener はカメラ情報から映像源を作る
type SourceOpener func(cam Camera) FrameSource
