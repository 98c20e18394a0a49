package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"time"
)

// テストパターンで生成する上限
const (
	maxPatternWidth  = 3840
	maxPatternHeight = 2160
	maxPatternFPS    = 120
)

// PatternSource は実デバイスを使わずにテストパターンを生成する映像源
// 縦帯がフレームごとに右へ移動するので、静止しているかどうかを目視で判別できる
type PatternSource struct {
	defaults StreamParams
	seed     uint8
}

// NewPatternSource はテストパターンの映像源を作る
func NewPatternSource(cameraID int, defaults StreamParams) *PatternSource {
	if defaults.Width <= 0 || defaults.Height <= 0 {
		defaults.Width, defaults.Height = 640, 480
	}
	if defaults.FPS <= 0 {
		defaults.FPS = 15
	}
	return &PatternSource{defaults: defaults, seed: uint8(cameraID * 47)}
}

// Stream はテストパターンのフレームを params のフレームレートで送る
func (p *PatternSource) Stream(ctx context.Context, params StreamParams) (<-chan []byte, error) {
	params = clampPattern(mergeParams(params, p.defaults))
	frames := make(chan []byte, 2)

	go func() {
		defer close(frames)

		ticker := time.NewTicker(time.Second / time.Duration(params.FPS))
		defer ticker.Stop()

		for n := 0; ; n++ {
			frame, err := p.render(params.Width, params.Height, n)
			if err != nil {
				return
			}
			if !sendLatest(ctx, frames, frame) {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return frames, nil
}

// Snapshot は先頭フレームを返す
func (p *PatternSource) Snapshot(_ context.Context) ([]byte, error) {
	params := clampPattern(p.defaults)
	return p.render(params.Width, params.Height, int(time.Now().UnixMilli()/100))
}

// clampPattern は生成できる範囲にパラメータを収める
func clampPattern(params StreamParams) StreamParams {
	params.Width = min(max(params.Width, 1), maxPatternWidth)
	params.Height = min(max(params.Height, 1), maxPatternHeight)
	params.FPS = min(max(params.FPS, 1), maxPatternFPS)
	return params
}

// render はn番目のフレームをJPEGにエンコードする
func (p *PatternSource) render(width, height, n int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	bandWidth := width / 8
	if bandWidth == 0 {
		bandWidth = 1
	}
	offset := (n * 4) % width

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := color.RGBA{R: p.seed, G: uint8(y * 255 / height), B: uint8(x * 255 / width), A: 255}
			if (x-offset+width)%width < bandWidth {
				c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("テストパターンのエンコードに失敗: %w", err)
	}
	return buf.Bytes(), nil
}
