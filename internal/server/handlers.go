package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"webmonitor/internal/camera"
)

// errorResponse はAPIのエラー応答
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// settingsResponse は設定変更APIの応答
type settingsResponse struct {
	Message    string             `json:"message"`
	CameraID   int                `json:"camera_id"`
	Resolution *camera.Resolution `json:"resolution"`
	FPS        *int               `json:"fps"`
}

// handleHealth はヘルスチェックエンドポイント
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"cameras":   len(s.cameras.Cameras()),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleIndex は一覧ページ
func (s *Server) handleIndex(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{})
}

// handlePreview はプレビューページ
func (s *Server) handlePreview(c *gin.Context) {
	id, ok := cameraID(c)
	if !ok {
		return
	}
	cam := s.cameras.Info(c.Request.Context(), id)
	c.HTML(http.StatusOK, "preview.html", gin.H{
		"CameraID":   cam.ID,
		"CameraName": cam.Name,
	})
}

// handleCameras はカメラを再検出して一覧を返す
func (s *Server) handleCameras(c *gin.Context) {
	cams, err := s.cameras.Refresh(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("カメラの検出に失敗しました")
		c.JSON(http.StatusInternalServerError, errorResponse{
			Error:   "detection_failed",
			Message: "カメラを検出できません",
		})
		return
	}
	c.JSON(http.StatusOK, cams)
}

// handleSettings はカメラの解像度とフレームレートを変更する
func (s *Server) handleSettings(c *gin.Context) {
	if !s.limiter.Allow() {
		s.metrics.SettingsRequests.WithLabelValues("rate_limited").Inc()
		c.JSON(http.StatusTooManyRequests, errorResponse{
			Error:   "rate_limited",
			Message: "設定変更の要求が多すぎます",
		})
		return
	}

	id, ok := cameraID(c)
	if !ok {
		s.metrics.SettingsRequests.WithLabelValues("invalid").Inc()
		return
	}

	var req camera.Settings
	if err := c.ShouldBindJSON(&req); err != nil {
		s.metrics.SettingsRequests.WithLabelValues("invalid").Inc()
		c.JSON(http.StatusBadRequest, errorResponse{
			Error:   "invalid_request",
			Message: "リクエストを解釈できません: " + err.Error(),
		})
		return
	}

	// 未検出のカメラは一度だけ再検出する
	if _, found := s.cameras.Lookup(id); !found {
		if _, err := s.cameras.Refresh(c.Request.Context()); err != nil {
			s.logger.Warn().Err(err).Int("camera_id", id).Msg("カメラの再検出に失敗しました")
		}
	}

	if _, err := s.cameras.ApplySettings(id, req); err != nil {
		switch {
		case errors.Is(err, camera.ErrInvalidSettings):
			s.metrics.SettingsRequests.WithLabelValues("invalid").Inc()
			c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_settings", Message: err.Error()})
		case errors.Is(err, camera.ErrCameraNotFound):
			s.metrics.SettingsRequests.WithLabelValues("not_found").Inc()
			c.JSON(http.StatusNotFound, errorResponse{Error: "camera_not_found", Message: err.Error()})
		default:
			s.metrics.SettingsRequests.WithLabelValues("error").Inc()
			c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal", Message: err.Error()})
		}
		return
	}

	s.metrics.SettingsRequests.WithLabelValues("ok").Inc()

	resp := settingsResponse{
		Message:  "カメラ設定を更新しました",
		CameraID: id,
		FPS:      req.FPS,
	}
	if res, ok := req.Resolution(); ok {
		resp.Resolution = &res
	}
	c.JSON(http.StatusOK, resp)
}

// handleVideoFeed はMJPEGストリーム、snapshot 指定時は1枚のJPEGを返す
func (s *Server) handleVideoFeed(c *gin.Context) {
	id, ok := cameraID(c)
	if !ok {
		return
	}
	cam := s.cameras.Info(c.Request.Context(), id)
	source := s.cameras.Source(c.Request.Context(), id)

	if _, snapshot := c.GetQuery("snapshot"); snapshot {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()

		frame, err := source.Snapshot(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Int("camera_id", id).Msg("スナップショットを取得できませんでした")
			c.JSON(http.StatusNotFound, errorResponse{Error: "capture_failed", Message: "フレームを取得できません"})
			return
		}
		c.Header("Cache-Control", "no-cache")
		c.Data(http.StatusOK, "image/jpeg", frame)
		return
	}

	s.streamMJPEG(c, id, source, streamParams(c, cam))
}

// streamParams はクエリからストリームのパラメータを読む
// 幅と高さは両方そろった場合だけ使い、不正な値とカメラが対応していない値は無視する
func streamParams(c *gin.Context, cam camera.Camera) camera.StreamParams {
	var p camera.StreamParams
	w, werr := strconv.Atoi(c.Query("width"))
	h, herr := strconv.Atoi(c.Query("height"))
	if werr == nil && herr == nil && cam.SupportsResolution(camera.Resolution{Width: w, Height: h}) {
		p.Width, p.Height = w, h
	}
	if fps, err := strconv.Atoi(c.Query("fps")); err == nil && cam.SupportsFPS(fps) {
		p.FPS = fps
	}
	return p
}

// streamMJPEG はMJPEGストリームを配信する
func (s *Server) streamMJPEG(c *gin.Context, id int, source camera.FrameSource, params camera.StreamParams) {
	streamID := uuid.NewString()
	logger := s.logger.With().Str("stream_id", streamID).Int("camera_id", id).Logger()

	ctx := c.Request.Context()
	frameChan, err := source.Stream(ctx, params)
	if err != nil {
		logger.Error().Err(err).Msg("ストリームを開始できませんでした")
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "stream_unavailable", Message: "ストリームを開始できません"})
		return
	}

	// レスポンスヘッダーを設定
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	// レスポンスライターを取得
	writer := c.Writer
	frames := s.metrics.FramesTotal.WithLabelValues(strconv.Itoa(id))

	s.metrics.ActiveStreams.Inc()
	defer s.metrics.ActiveStreams.Dec()
	logger.Info().Interface("params", params).Msg("ストリームを開始しました")
	defer logger.Info().Msg("ストリームを終了しました")

	// ストリーミングループ
	for {
		select {
		case <-ctx.Done():
			// クライアントが切断された
			return

		case frame, ok := <-frameChan:
			if !ok {
				// 映像源が終了した
				return
			}

			if err := writeFrame(writer, frame); err != nil {
				return
			}

			// バッファをフラッシュ
			writer.Flush()
			frames.Inc()
		}
	}
}

// writeFrame は1フレームをmultipartのパートとして書き込む
func writeFrame(w gin.ResponseWriter, frame []byte) error {
	if _, err := w.WriteString("--frame\r\nContent-Type: image/jpeg\r\n\r\n"); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err := w.WriteString("\r\n")
	return err
}

// cameraID はパスパラメータのカメラIDを読む。不正な場合は400を返して false
func cameraID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id < 0 {
		c.JSON(http.StatusBadRequest, errorResponse{
			Error:   "invalid_camera_id",
			Message: "カメラIDが不正です",
		})
		return 0, false
	}
	return id, true
}
