package camera

import (
	"bytes"
	"context"
	"image/jpeg"
	"testing"
	"time"
)

func TestClampPattern(t *testing.T) {
	testCases := []struct {
		name string
		in   StreamParams
		want StreamParams
	}{
		{"範囲内", StreamParams{Width: 320, Height: 240, FPS: 15}, StreamParams{Width: 320, Height: 240, FPS: 15}},
		{"巨大な解像度", StreamParams{Width: 100000, Height: 100000, FPS: 15}, StreamParams{Width: maxPatternWidth, Height: maxPatternHeight, FPS: 15}},
		{"巨大なFPS", StreamParams{Width: 320, Height: 240, FPS: 2000000000}, StreamParams{Width: 320, Height: 240, FPS: maxPatternFPS}},
		{"0以下", StreamParams{Width: -1, Height: 0, FPS: -5}, StreamParams{Width: 1, Height: 1, FPS: 1}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := clampPattern(tc.in); got != tc.want {
				t.Errorf("Expected %+v, got %+v", tc.want, got)
			}
		})
	}
}

func TestPatternSource_StreamWithHugeFPS(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	src := NewPatternSource(0, StreamParams{Width: 32, Height: 24, FPS: 15})
	frames, err := src.Stream(ctx, StreamParams{Width: 32, Height: 24, FPS: 2000000000})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case frame, ok := <-frames:
			if !ok {
				t.Fatal("Stream closed unexpectedly")
			}
			img, err := jpeg.Decode(bytes.NewReader(frame))
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if img.Bounds().Dx() != 32 {
				t.Errorf("Expected width 32, got %d", img.Bounds().Dx())
			}
		case <-ctx.Done():
			t.Fatal("Timed out waiting for frames")
		}
	}
}
