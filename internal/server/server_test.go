package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webmonitor/internal/camera"
	"webmonitor/internal/client"
	"webmonitor/internal/config"
	"webmonitor/internal/observability"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Host:         "127.0.0.1",
			Port:         0, // ランダムポートを使用
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 0,
		},
	}
}

// newTestServer はテストパターンのカメラ1台を持つサーバーを作る
func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	mgr := camera.NewManager(camera.NewMockDiscovery(), camera.Options{
		Static: []camera.Camera{{ID: 0, Name: "テストパターン", Source: camera.SourcePattern}},
		ResolutionOptions: []camera.Resolution{
			{Width: 320, Height: 240},
			{Width: 160, Height: 120},
		},
		FPSOptions: []int{30, 15},
	}, zerolog.Nop())

	srv, err := New(cfg, mgr, observability.NewMetrics(), zerolog.Nop())
	require.NoError(t, err)
	return srv
}

func do(t *testing.T, h http.Handler, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// TestServerStartAndShutdown はサーバーの起動とシャットダウンをテストする
func TestServerStartAndShutdown(t *testing.T) {
	srv := newTestServer(t, testConfig())

	// テスト用のコンテキスト（タイムアウト付き）
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// サーバーを別ゴルーチンで起動
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	var addr string
	select {
	case a := <-srv.Ready():
		addr = a.String()
	case <-time.After(3 * time.Second):
		t.Fatal("サーバーの起動がタイムアウトしました")
	}

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// 配信中のストリームがあってもシャットダウンできる
	streamResp, err := http.Get("http://" + addr + "/video_feed/0")
	require.NoError(t, err)
	defer func() { _ = streamResp.Body.Close() }()

	// コンテキストをキャンセルしてサーバーを停止
	cancel()

	// エラーチャンネルから結果を受信
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("サーバーの起動/停止でエラーが発生しました: %v", err)
		}
	case <-time.After(4 * time.Second):
		t.Fatal("サーバーの停止がタイムアウトしました")
	}
}

// TestServerEndpoints はサーバーのエンドポイントをテストする
func TestServerEndpoints(t *testing.T) {
	h := newTestServer(t, testConfig()).Handler()

	testCases := []struct {
		name           string
		endpoint       string
		expectedStatus int
		contentType    string
	}{
		{"一覧ページ", "/", http.StatusOK, "text/html"},
		{"プレビューページ", "/preview/0", http.StatusOK, "text/html"},
		{"不正なカメラID", "/preview/abc", http.StatusBadRequest, "application/json"},
		{"ヘルスチェックエンドポイント", "/health", http.StatusOK, "application/json"},
		{"カメラ一覧", "/api/cameras", http.StatusOK, "application/json"},
		{"メトリクス", "/metrics", http.StatusOK, "text/plain"},
		{"静的ファイル", "/static/style.css", http.StatusOK, "text/css"},
		{"スナップショット", "/video_feed/0?snapshot=1", http.StatusOK, "image/jpeg"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, tc.endpoint, nil)
			if rec.Code != tc.expectedStatus {
				t.Errorf("予期しないステータスコード: got %d, want %d", rec.Code, tc.expectedStatus)
			}
			if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, tc.contentType) {
				t.Errorf("予期しないContent-Type: got %q, want %q", ct, tc.contentType)
			}
		})
	}
}

func TestPreviewPageShowsCamera(t *testing.T) {
	h := newTestServer(t, testConfig()).Handler()

	rec := do(t, h, http.MethodGet, "/preview/0", nil)
	assert.Contains(t, rec.Body.String(), "テストパターン")
	assert.Contains(t, rec.Body.String(), `data-camera-id="0"`)

	// 未検出のカメラは番号から名前を作る
	rec = do(t, h, http.MethodGet, "/preview/7", nil)
	assert.Contains(t, rec.Body.String(), "カメラ 7")
}

func TestCamerasJSON(t *testing.T) {
	h := newTestServer(t, testConfig()).Handler()

	rec := do(t, h, http.MethodGet, "/api/cameras", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var cams []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cams))
	require.Len(t, cams, 1)
	assert.Equal(t, float64(0), cams[0]["id"])
	assert.Equal(t, []any{float64(320), float64(240)}, cams[0]["current_resolution"])
	assert.Equal(t, float64(30), cams[0]["current_fps"])
	assert.Equal(t, []any{float64(30), float64(15)}, cams[0]["supported_fps"])
}

func TestSettings(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
	}{
		{"解像度とフレームレート", "/api/camera/0/settings", `{"width":160,"height":120,"fps":15}`, http.StatusOK},
		{"フレームレートのみ", "/api/camera/0/settings", `{"fps":15}`, http.StatusOK},
		{"すべてnull", "/api/camera/0/settings", `{"width":null,"height":null,"fps":null}`, http.StatusOK},
		{"幅のみ", "/api/camera/0/settings", `{"width":160}`, http.StatusBadRequest},
		{"負の値", "/api/camera/0/settings", `{"fps":-1}`, http.StatusBadRequest},
		{"0の解像度", "/api/camera/0/settings", `{"width":0,"height":120}`, http.StatusBadRequest},
		{"不正なJSON", "/api/camera/0/settings", `{"fps":"fast"}`, http.StatusBadRequest},
		{"不正なカメラID", "/api/camera/x/settings", `{"fps":15}`, http.StatusBadRequest},
		{"存在しないカメラ", "/api/camera/9/settings", `{"fps":15}`, http.StatusNotFound},
		{"非対応のフレームレート", "/api/camera/0/settings", `{"fps":2000000000}`, http.StatusBadRequest},
		{"非対応の解像度", "/api/camera/0/settings", `{"width":100000,"height":100000}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, testConfig()).Handler()
			rec := do(t, h, http.MethodPost, tt.path, strings.NewReader(tt.body))
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}
}

func TestSettingsResponseAndPersistence(t *testing.T) {
	h := newTestServer(t, testConfig()).Handler()

	rec := do(t, h, http.MethodPost, "/api/camera/0/settings", strings.NewReader(`{"width":160,"height":120,"fps":null}`))
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "カメラ設定を更新しました", got["message"])
	assert.Equal(t, float64(0), got["camera_id"])
	assert.Equal(t, []any{float64(160), float64(120)}, got["resolution"])
	assert.Nil(t, got["fps"])

	// 再検出しても変更した現在値は保持される
	rec = do(t, h, http.MethodGet, "/api/cameras", nil)
	var cams []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cams))
	assert.Equal(t, []any{float64(160), float64(120)}, cams[0]["current_resolution"])
	assert.Equal(t, float64(30), cams[0]["current_fps"])
}

func TestSettingsRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{SettingsPerSecond: 0.001, Burst: 1}
	h := newTestServer(t, cfg).Handler()

	body := `{"fps":15}`
	first := do(t, h, http.MethodPost, "/api/camera/0/settings", strings.NewReader(body))
	second := do(t, h, http.MethodPost, "/api/camera/0/settings", strings.NewReader(body))

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestSnapshotIsJPEG(t *testing.T) {
	h := newTestServer(t, testConfig()).Handler()
	rec := do(t, h, http.MethodGet, "/video_feed/0?snapshot", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte{0xFF, 0xD8}))
}

func TestStreamMJPEG(t *testing.T) {
	srv := newTestServer(t, testConfig())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := client.New(ts.URL, time.Second, zerolog.Nop())
	frames, err := c.Stream(ctx, fmt.Sprintf("/video_feed/0?width=160&height=120&fps=30&v=%d", time.Now().UnixMilli()))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		select {
		case frame, ok := <-frames:
			require.True(t, ok, "ストリームが途中で閉じられました")
			assert.True(t, bytes.HasPrefix(frame, []byte{0xFF, 0xD8}))
		case <-ctx.Done():
			t.Fatal("フレームの受信がタイムアウトしました")
		}
	}
}

func TestStreamParams(t *testing.T) {
	cam := camera.Camera{
		SupportedResolutions: []camera.Resolution{{Width: 640, Height: 480}, {Width: 320, Height: 240}},
		SupportedFPS:         []int{30, 15},
	}
	tests := []struct {
		name  string
		query string
		want  camera.StreamParams
	}{
		{"指定なし", "", camera.StreamParams{}},
		{"すべて指定", "width=640&height=480&fps=15", camera.StreamParams{Width: 640, Height: 480, FPS: 15}},
		{"幅のみは無視", "width=640&fps=15", camera.StreamParams{FPS: 15}},
		{"不正な値は無視", "width=a&height=480&fps=-3", camera.StreamParams{}},
		{"トークンは無関係", "v=123", camera.StreamParams{}},
		{"非対応のFPSは無視", "fps=2000000000", camera.StreamParams{}},
		{"非対応の解像度は無視", "width=100000&height=100000&fps=30", camera.StreamParams{FPS: 30}},
		{"組み合わせが違う解像度は無視", "width=640&height=240", camera.StreamParams{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := ginTestContext(rec, "/video_feed/0?"+tt.query)
			assert.Equal(t, tt.want, streamParams(c, cam))
		})
	}
}

// streamFirstFrame はストリームを開き、最初のフレームを受け取る
func streamFirstFrame(t *testing.T, baseURL, path string) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := client.New(baseURL, time.Second, zerolog.Nop())
	frames, err := c.Stream(ctx, path)
	require.NoError(t, err)

	select {
	case frame, ok := <-frames:
		require.True(t, ok, "ストリームが途中で閉じられました")
		return frame
	case <-ctx.Done():
		t.Fatal("フレームの受信がタイムアウトしました")
		return nil
	}
}

func TestStreamIgnoresUnsupportedParams(t *testing.T) {
	srv := newTestServer(t, testConfig())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	frame := streamFirstFrame(t, ts.URL, "/video_feed/0?width=100000&height=100000&fps=2000000000")
	img, err := jpeg.Decode(bytes.NewReader(frame))
	require.NoError(t, err)
	// 現在設定の 320x240 で配信される
	assert.Equal(t, 320, img.Bounds().Dx())
	assert.Equal(t, 240, img.Bounds().Dy())
}

func TestRejectedSettingsDoNotChangeStreamDefaults(t *testing.T) {
	srv := newTestServer(t, testConfig())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/api/camera/0/settings", strings.NewReader(`{"fps":2000000000}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/cameras", nil)
	var cams []camera.Camera
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cams))
	require.Len(t, cams, 1)
	assert.Equal(t, 30, *cams[0].CurrentFPS)

	frame := streamFirstFrame(t, ts.URL, "/video_feed/0")
	assert.True(t, bytes.HasPrefix(frame, []byte{0xFF, 0xD8}))
}

func TestPreviewScriptKeepsLiveWithoutFrame(t *testing.T) {
	h := newTestServer(t, testConfig()).Handler()
	rec := do(t, h, http.MethodGet, "/static/preview.js", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	script := rec.Body.String()
	// フレームが無ければ一時停止せずライブのままにする
	assert.Contains(t, script, "feed.naturalWidth === 0")
	assert.Contains(t, script, "if (data === null) return;")
}
