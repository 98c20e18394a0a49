package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"webmonitor/internal/camera"
	"webmonitor/internal/config"
	"webmonitor/internal/observability"
)

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	cameras    *camera.Manager
	metrics    *observability.Metrics
	limiter    *rate.Limiter
	logger     zerolog.Logger
	engine     *gin.Engine
	httpServer *http.Server

	ready chan net.Addr

	// baseCtx はすべてのリクエストの親。シャットダウン時にストリームを終わらせる
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, cameras *camera.Manager, metrics *observability.Metrics, logger zerolog.Logger) (*Server, error) {
	gin.SetMode(gin.ReleaseMode)

	limit := rate.Inf
	if cfg.RateLimit.SettingsPerSecond > 0 {
		limit = rate.Limit(cfg.RateLimit.SettingsPerSecond)
	}
	burst := cfg.RateLimit.Burst
	if burst <= 0 {
		burst = 1
	}

	s := &Server{
		config:  cfg,
		cameras: cameras,
		metrics: metrics,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With().Str("component", "server").Logger(),
		ready:   make(chan net.Addr, 1),
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	if err := s.setupRoutes(); err != nil {
		return nil, err
	}

	s.httpServer = &http.Server{
		Addr:         cfg.ServerAddress(),
		Handler:      s.engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return s.baseCtx },
	}
	return s, nil
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler { return s.engine }

// Ready は待ち受けを開始したアドレスを1度だけ通知する
func (s *Server) Ready() <-chan net.Addr { return s.ready }

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() error {
	tmpl, err := loadTemplates()
	if err != nil {
		return fmt.Errorf("テンプレートの読み込みに失敗: %w", err)
	}
	static, err := staticFS()
	if err != nil {
		return fmt.Errorf("静的ファイルの読み込みに失敗: %w", err)
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())
	r.SetHTMLTemplate(tmpl)

	// ページ
	r.GET("/", s.handleIndex)
	r.GET("/preview/:id", s.handlePreview)
	r.StaticFS("/static", static)

	// API
	r.GET("/api/cameras", s.handleCameras)
	r.POST("/api/camera/:id/settings", s.handleSettings)
	r.GET("/video_feed/:id", s.handleVideoFeed)

	// 運用
	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))

	s.engine = r
	return nil
}

// accessLog はリクエストをzerologで記録するミドルウェア
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// ストリームは接続が終わるまで戻らないので終了時に記録される
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("リクエスト")
	}
}

// Start はサーバーを起動する
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("サーバーの起動に失敗: %w", err)
	}

	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("HTTPサーバーを起動しています")
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()
	s.ready <- ln.Addr()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// コンテキストかシグナルを待つ
	select {
	case <-ctx.Done():
		s.logger.Info().Msg("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		s.logger.Info().Stringer("signal", sig).Msg("シグナルを受信しました")
	case err := <-shutdownCh:
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("サーバーをシャットダウンしています...")

	// 5秒のタイムアウトを設定
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 配信中のストリームを先に終わらせる
	s.cancelBase()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	s.logger.Info().Msg("サーバーが正常にシャットダウンされました")
	return nil
}
