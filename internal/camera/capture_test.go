package camera

import (
	"bytes"
	"context"
	"testing"
)

func TestSplitJPEGFrames(t *testing.T) {
	frameA := []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}
	frameB := []byte{0xFF, 0xD8, 0x03, 0xFF, 0xD9}
	partial := []byte{0xFF, 0xD8, 0x04}

	var data []byte
	data = append(data, 0x00, 0x00) // 先頭のゴミ
	data = append(data, frameA...)
	data = append(data, frameB...)
	data = append(data, partial...)

	frames, rest := splitJPEGFrames(data)
	if len(frames) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(frames))
	}
	if !bytes.Equal(frames[0], frameA) || !bytes.Equal(frames[1], frameB) {
		t.Errorf("Unexpected frames: %x", frames)
	}
	if !bytes.Equal(rest, partial) {
		t.Errorf("Expected partial frame to remain, got %x", rest)
	}

	// 残りに続きが届くと完成する
	frames, rest = splitJPEGFrames(append(rest, 0xFF, 0xD9))
	if len(frames) != 1 || len(rest) != 0 {
		t.Errorf("Expected the partial frame to complete, got %d frames, rest %x", len(frames), rest)
	}
}

func TestReadJPEGFrames(t *testing.T) {
	stream := bytes.Repeat([]byte{0xFF, 0xD8, 0xAA, 0xFF, 0xD9}, 3)
	frames := make(chan []byte, 5)

	readJPEGFrames(context.Background(), bytes.NewReader(stream), frames)
	close(frames)

	count := 0
	for range frames {
		count++
	}
	if count != 3 {
		t.Errorf("Expected 3 frames, got %d", count)
	}
}

func TestSendLatestDropsOldest(t *testing.T) {
	ch := make(chan []byte, 1)
	ctx := context.Background()

	sendLatest(ctx, ch, []byte("old"))
	sendLatest(ctx, ch, []byte("new"))

	if got := string(<-ch); got != "new" {
		t.Errorf("Expected newest frame, got %s", got)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	full := make(chan []byte)
	if sendLatest(canceled, full, []byte("x")) {
		t.Error("Expected send to fail after cancel")
	}
}

func TestV4L2CapturerArgs(t *testing.T) {
	c := NewV4L2Capturer("/dev/video0", StreamParams{Width: 1280, Height: 720, FPS: 30})
	got := c.inputArgs()
	want := []string{"-f", "v4l2", "-video_size", "1280x720", "-framerate", "30", "-i", "/dev/video0"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("arg[%d]: got %s, want %s", i, got[i], want[i])
		}
	}

	// 未指定の項目は引数に含めない
	bare := NewV4L2Capturer("/dev/video1", StreamParams{}).inputArgs()
	if len(bare) != 4 {
		t.Errorf("Expected only device args, got %v", bare)
	}
}
