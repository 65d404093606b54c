package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"plantai/internal/config"
	"plantai/internal/events"
	"plantai/internal/generated"
)

// maxUploadMemory はmultipartフォームをメモリに置く上限
const maxUploadMemory = 32 << 20

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	httpServer *http.Server
	engine     *gin.Engine
	handler    *PlantHandler
	hub        *Hub
	logger     *zap.Logger

	hubCancel context.CancelFunc
}

// NewGin はGinを使ったServerを作成する
func NewGin(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Camera == nil || deps.Predictor == nil || deps.Images == nil {
		return nil, errors.New("カメラ、推定器、画像の保存先は必須です")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("server")

	tmpl, err := loadTemplates()
	if err != nil {
		return nil, fmt.Errorf("テンプレートの読み込みに失敗: %w", err)
	}
	doc, err := generated.GetSwagger()
	if err != nil {
		return nil, err
	}
	validate, err := requestValidator(doc)
	if err != nil {
		return nil, fmt.Errorf("リクエスト検証の準備に失敗: %w", err)
	}

	hub := NewHub(logger)
	h := &PlantHandler{
		config:      cfg,
		camera:      deps.Camera,
		predictor:   deps.Predictor,
		images:      deps.Images,
		history:     deps.History,
		bus:         deps.Bus,
		modelLoaded: deps.ModelLoaded,
		hub:         hub,
		logger:      logger,
	}

	engine := gin.New()
	engine.MaxMultipartMemory = maxUploadMemory
	engine.SetHTMLTemplate(tmpl)
	engine.Use(requestLogger(logger), gin.Recovery(), cors.Default())

	// APIエンドポイント
	generated.RegisterHandlersWithOptions(engine, h, generated.GinServerOptions{
		Middlewares: []generated.MiddlewareFunc{validate},
		ErrorHandler: func(c *gin.Context, err error, status int) {
			abortWithError(c, status, "invalid_request", err.Error())
		},
	})
	engine.GET("/openapi.yaml", h.GetOpenAPI)
	engine.GET("/ws/events", h.GetEvents)

	// 画面
	engine.GET("/", h.Index)
	engine.GET("/upload/", h.UploadRedirect)
	engine.POST("/upload/", h.Upload)
	engine.POST("/capture_frame", h.CaptureFrame)
	engine.GET("/uploadimages/:filename", h.UploadedImage)

	// カメラ
	engine.GET("/video_feed", h.VideoFeed)
	engine.POST("/start_camera", h.StartCamera)
	engine.POST("/stop_camera", h.StopCamera)
	engine.GET("/list_cameras", h.ListCameras)

	if deps.Bus != nil {
		err := deps.Bus.Subscribe(events.SubjectAll, func(subject string, data []byte) {
			hub.Broadcast(Message{
				Type: strings.TrimPrefix(subject, "plantai."),
				Data: data,
			})
		})
		if err != nil {
			return nil, err
		}
	}

	hubCtx, hubCancel := context.WithCancel(context.Background())
	go hub.Run(hubCtx)

	return &Server{
		config:    cfg,
		engine:    engine,
		handler:   h,
		hub:       hub,
		logger:    logger,
		hubCancel: hubCancel,
		httpServer: &http.Server{
			Addr:         cfg.ServerAddress(),
			Handler:      engine,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}, nil
}

// Handler はルーティング済みのハンドラーを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Hub はWebSocketのHubを返す
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start はサーバーを起動する
func (s *Server) Start(ctx context.Context) error {
	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		s.logger.Info("HTTPサーバーを起動しています", zap.String("addr", s.config.ServerAddress()))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// コンテキストかシグナルを待つ
	select {
	case <-ctx.Done():
		s.logger.Info("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		s.logger.Info("シグナルを受信しました", zap.String("signal", sig.String()))
	case err := <-shutdownCh:
		s.Close()
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
// 配信中のストリームはカメラを止めて終わらせる
func (s *Server) Shutdown() error {
	s.logger.Info("サーバーをシャットダウンしています")

	// 5秒のタイムアウトを設定
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.handler.camera.Stop(ctx); err != nil {
		s.logger.Warn("カメラの停止に失敗しました", zap.Error(err))
	}
	s.Close()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	s.logger.Info("サーバーが正常にシャットダウンされました")
	return nil
}

// Close はカメラを解放してWebSocketのHubを止める。何度呼んでもよい
func (s *Server) Close() {
	s.handler.camera.Release()
	s.hubCancel()
}
