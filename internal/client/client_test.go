package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webmonitor/internal/camera"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL, 2*time.Second, zerolog.Nop())
}

func TestCameras(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/cameras", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[
			{"id":1,"name":"Door","supported_resolutions":[[1280,720],[640,480]],"current_resolution":[1280,720],"supported_fps":[30,15],"current_fps":30},
			{"id":2,"name":"Yard","supported_resolutions":[],"current_resolution":null,"supported_fps":[],"current_fps":null}
		]`)
	})
	c := newTestClient(t, mux)

	cams, err := c.Cameras(context.Background())
	require.NoError(t, err)
	require.Len(t, cams, 2)

	assert.Equal(t, "Door", cams[0].Name)
	require.NotNil(t, cams[0].CurrentResolution)
	assert.Equal(t, camera.Resolution{Width: 1280, Height: 720}, *cams[0].CurrentResolution)
	assert.Equal(t, []int{30, 15}, cams[0].SupportedFPS)
	assert.Nil(t, cams[1].CurrentResolution)
	assert.Nil(t, cams[1].CurrentFPS)

	cam, err := c.Camera(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "Yard", cam.Name)

	_, err = c.Camera(context.Background(), 9)
	assert.True(t, errors.Is(err, camera.ErrCameraNotFound))
}

func TestCamerasErrorStatusIsEmpty(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	cams, err := c.Cameras(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cams)
	assert.NotNil(t, cams)
}

func TestCamerasUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url, time.Second, zerolog.Nop())
	_, err := c.Cameras(context.Background())
	assert.Error(t, err)
}

func TestApplySettings(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/camera/3/settings", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"message":"カメラ設定を更新しました","camera_id":3,"resolution":[1920,1080],"fps":null}`)
	}))

	w, h := 1920, 1080
	res, err := c.ApplySettings(context.Background(), 3, camera.Settings{Width: &w, Height: &h})
	require.NoError(t, err)

	assert.Equal(t, float64(1920), got["width"])
	assert.Equal(t, float64(1080), got["height"])
	assert.Contains(t, got, "fps")
	assert.Nil(t, got["fps"], "未指定のフレームレートは null で送る")

	assert.Equal(t, 3, res.CameraID)
	require.NotNil(t, res.Resolution)
	assert.Equal(t, camera.Resolution{Width: 1920, Height: 1080}, *res.Resolution)
	assert.Nil(t, res.FPS)
}

func TestApplySettingsRejected(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"無効な設定値"}`)
	}))

	fps := 30
	_, err := c.ApplySettings(context.Background(), 1, camera.Settings{FPS: &fps})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSettingsRejected))
	assert.Contains(t, err.Error(), "400")
}

func TestSnapshot(t *testing.T) {
	jpeg := []byte{0xFF, 0xD8, 0x01, 0xFF, 0xD9}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/video_feed/1" && r.URL.Query().Has("snapshot") {
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write(jpeg)
			return
		}
		http.NotFound(w, r)
	}))

	got, err := c.Snapshot(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, jpeg, got)

	_, err = c.Snapshot(context.Background(), 2)
	assert.True(t, errors.Is(err, ErrSnapshotUnavailable))
}

func TestStream(t *testing.T) {
	frames := [][]byte{{0xFF, 0xD8, 1, 0xFF, 0xD9}, {0xFF, 0xD8, 2, 0xFF, 0xD9}}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1920", r.URL.Query().Get("width"))
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		for _, f := range frames {
			_, _ = fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\n\r\n")
			_, _ = w.Write(f)
			_, _ = io.WriteString(w, "\r\n")
		}
		_, _ = io.WriteString(w, "--frame--\r\n")
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ch, err := c.Stream(ctx, "/video_feed/1?width=1920&height=1080&v=1")
	require.NoError(t, err)

	var got [][]byte
	for f := range ch {
		got = append(got, f)
		time.Sleep(10 * time.Millisecond)
	}
	require.NotEmpty(t, got)
	// 受信が遅い場合は古いフレームが捨てられるが、最後のフレームは必ず届く
	assert.Equal(t, frames[len(frames)-1], got[len(got)-1])
}

func TestStreamRejectsNonMultipart(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte{0xFF, 0xD8})
	}))

	_, err := c.Stream(context.Background(), "/video_feed/1")
	assert.Error(t, err)
}

func TestStreamBoundary(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		want        string
		wantErr     bool
	}{
		{"境界あり", "multipart/x-mixed-replace; boundary=frame", "frame", false},
		{"引用符付き", `multipart/x-mixed-replace; boundary="abc"`, "abc", false},
		{"境界なし", "multipart/x-mixed-replace", "", true},
		{"multipart以外", "image/jpeg", "", true},
		{"空", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := streamBoundary(tt.contentType)
			if (err != nil) != tt.wantErr {
				t.Fatalf("streamBoundary() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("streamBoundary() = %q, want %q", got, tt.want)
			}
		})
	}
}
