package preview

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// SnapshotName はダウンロードするファイル名を返す
// カメラ名の連続する空白は "_" 1文字に置き換える
func SnapshotName(cameraName string, t time.Time) string {
	return fmt.Sprintf("%s_%d.jpg", whitespaceRun.ReplaceAllString(cameraName, "_"), t.UnixMilli())
}

// CurrentFrame は表示中のフレームをJPEGで返す
// 一時停止中は取り込んだ静止画そのものを返す
func (c *Controller) CurrentFrame() ([]byte, error) {
	c.mu.Lock()
	if c.state.Mode == Frozen {
		data := append([]byte(nil), c.state.Frozen...)
		c.mu.Unlock()
		return data, nil
	}
	c.mu.Unlock()

	if c.els.Feed == nil {
		return nil, ErrNoFrame
	}
	img := c.els.Feed.Image()
	if img == nil {
		return nil, ErrNoFrame
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("フレームのエンコードに失敗: %w", err)
	}
	return buf.Bytes(), nil
}

// Download は表示中のフレームを w に書き出し、付けるべきファイル名を返す
func (c *Controller) Download(w io.Writer) (string, error) {
	data, err := c.CurrentFrame()
	if err != nil {
		return "", err
	}
	if _, err := w.Write(data); err != nil {
		return "", fmt.Errorf("フレームの書き込みに失敗: %w", err)
	}
	return SnapshotName(c.CameraName(), c.now()), nil
}

// SaveSnapshot は表示中のフレームを dir に保存し、保存先のパスを返す
func (c *Controller) SaveSnapshot(dir string) (string, error) {
	var buf bytes.Buffer
	name, err := c.Download(&buf)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("保存先ディレクトリの作成に失敗: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("スナップショットの保存に失敗: %w", err)
	}

	c.logger.Info().Str("path", path).Msg("スナップショットを保存しました")
	return path, nil
}
