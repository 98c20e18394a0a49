package camera

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
)

var (
	jpegStart = []byte{0xFF, 0xD8}
	jpegEnd   = []byte{0xFF, 0xD9}
)

// V4L2Capturer はffmpeg経由でV4L2デバイスから画像を取得する
type V4L2Capturer struct {
	devicePath string
	params     StreamParams
}

// NewV4L2Capturer は新しいV4L2Capturerを作成する
// params の 0 の項目はデバイスの既定値を使う
func NewV4L2Capturer(devicePath string, params StreamParams) *V4L2Capturer {
	return &V4L2Capturer{
		devicePath: devicePath,
		params:     params,
	}
}

// inputArgs はffmpegの入力側引数を組み立てる
func (c *V4L2Capturer) inputArgs() []string {
	args := []string{"-f", "v4l2"}
	if c.params.Width > 0 && c.params.Height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", c.params.Width, c.params.Height))
	}
	if c.params.FPS > 0 {
		args = append(args, "-framerate", strconv.Itoa(c.params.FPS))
	}
	return append(args, "-i", c.devicePath)
}

// CaptureFrameAsJPEG は1フレームをキャプチャしてJPEGバイト配列として返す
func (c *V4L2Capturer) CaptureFrameAsJPEG(ctx context.Context) ([]byte, error) {
	args := append(c.inputArgs(),
		"-vframes", "1",
		"-f", "image2",
		"-c:v", "mjpeg",
		"-q:v", "2", // 高品質JPEG
		"-",
	)
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %v (stderr: %s)", ErrCaptureFailed, err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, ErrCaptureFailed
	}

	return stdout.Bytes(), nil
}

// StartStream は連続キャプチャを開始し、JPEGフレームを frames に送る
// ffmpegが終了すると frames は閉じられる
func (c *V4L2Capturer) StartStream(ctx context.Context) (<-chan []byte, error) {
	args := append(c.inputArgs(),
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", "3",
		"-",
	)
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdoutパイプの作成に失敗: %w", err)
	}
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpegの起動に失敗: %w", err)
	}

	frames := make(chan []byte, 2)
	go func() {
		defer close(frames)
		defer func() {
			_ = cmd.Wait() // コンテキストキャンセル時のエラーは無視
		}()
		readJPEGFrames(ctx, stdout, frames)
	}()

	return frames, nil
}

// readJPEGFrames は r からJPEGフレームを切り出して送信する
func readJPEGFrames(ctx context.Context, r io.Reader, frames chan []byte) {
	buffer := make([]byte, 256*1024)
	var pending []byte

	for {
		n, err := r.Read(buffer)
		if n > 0 {
			pending = append(pending, buffer[:n]...)
			var complete [][]byte
			complete, pending = splitJPEGFrames(pending)
			for _, frame := range complete {
				if !sendLatest(ctx, frames, frame) {
					return
				}
			}
		}
		if err != nil {
			// EOF以外の読み取りエラーもストリームの終了として扱う
			return
		}
	}
}

// splitJPEGFrames はバッファから完全なJPEGフレームを取り出し、残りを返す
func splitJPEGFrames(data []byte) ([][]byte, []byte) {
	var frames [][]byte
	for {
		startIdx := bytes.Index(data, jpegStart)
		if startIdx == -1 {
			return frames, nil
		}

		endIdx := bytes.Index(data[startIdx+2:], jpegEnd)
		if endIdx == -1 {
			// 完全なフレームがまだない
			return frames, data[startIdx:]
		}

		endIdx += startIdx + 2 + len(jpegEnd)
		frame := make([]byte, endIdx-startIdx)
		copy(frame, data[startIdx:endIdx])
		frames = append(frames, frame)

		data = data[endIdx:]
	}
}

// sendLatest はチャンネルがいっぱいの場合に古いフレームを捨てて送信する
// ctx がキャンセルされた場合は false を返す
func sendLatest(ctx context.Context, ch chan []byte, frame []byte) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case ch <- frame:
			return true
		default:
		}

		select {
		case <-ch:
		default:
		}
	}
}

// v4l2Source はV4L2デバイスの FrameSource 実装
type v4l2Source struct {
	device   string
	defaults StreamParams
}

// NewV4L2Source はデバイスパスから映像源を作る
// defaults はストリーム要求でパラメータが省略された場合に使う
func NewV4L2Source(device string, defaults StreamParams) FrameSource {
	return &v4l2Source{device: device, defaults: defaults}
}

// Stream はffmpegでストリーミングを開始する
func (s *v4l2Source) Stream(ctx context.Context, params StreamParams) (<-chan []byte, error) {
	return NewV4L2Capturer(s.device, mergeParams(params, s.defaults)).StartStream(ctx)
}

// Snapshot は1フレームをキャプチャする
func (s *v4l2Source) Snapshot(ctx context.Context) ([]byte, error) {
	return NewV4L2Capturer(s.device, s.defaults).CaptureFrameAsJPEG(ctx)
}

// mergeParams は未指定の項目を既定値で補う
func mergeParams(params, defaults StreamParams) StreamParams {
	if params.Width <= 0 || params.Height <= 0 {
		params.Width, params.Height = defaults.Width, defaults.Height
	}
	if params.FPS <= 0 {
		params.FPS = defaults.FPS
	}
	return params
}
