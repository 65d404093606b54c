// Package app は各コンポーネントを組み立ててサーバーを動かす
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"plantai/internal/camera"
	"plantai/internal/camera/opencv"
	"plantai/internal/config"
	"plantai/internal/events"
	"plantai/internal/history"
	"plantai/internal/logging"
	"plantai/internal/predict"
	"plantai/internal/predict/dnn"
	"plantai/internal/server"
	"plantai/internal/storage"
)

// Run は設定に従ってサーバーを起動し、終了するまでブロックする
// 終了時は必ずカメラを解放する
func Run(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger, level, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	// 設定ファイルの変更はログレベルだけ反映する
	cfg.OnChange(func(c *config.Config) {
		l, err := logging.ParseLevel(c.LogLevel())
		if err != nil {
			logger.Warn("ログレベルを変更できません", zap.Error(err))
			return
		}
		level.SetLevel(l)
		logger.Info("ログレベルを変更しました", zap.String("level", l.String()))
	})
	if cfg.Path() != "" {
		if err := cfg.Watch(ctx, func(err error) {
			logger.Warn("設定ファイルの再読み込みに失敗しました", zap.Error(err))
		}); err != nil {
			logger.Info("設定ファイルを監視しません", zap.String("path", cfg.Path()), zap.Error(err))
		}
	}

	manager := camera.NewDefaultManager(opencv.NewOpener(), camera.CurrentOS(), camera.NewOptions(cfg.Camera), logger.Named("camera"))
	defer manager.Release()

	labels := loadLabels(cfg.Classifier.LabelsPath, logger)

	var classifier predict.Classifier
	modelLoaded := false
	net, err := dnn.New(dnn.Config{
		ModelPath: cfg.Classifier.ModelPath,
		InputSize: cfg.Classifier.InputSize,
		SwapRB:    cfg.Classifier.SwapRB,
	})
	if err != nil {
		// モデルがなくてもカメラは使えるので起動は続ける
		logger.Error("モデルを読み込めません。推定はエラーになります",
			zap.String("model", cfg.Classifier.ModelPath), zap.Error(err))
		classifier = predict.StaticClassifier{Err: fmt.Errorf("model not loaded: %w", err)}
	} else {
		defer net.Close()
		classifier = net
		modelLoaded = true
	}

	images, err := storage.New(cfg.Storage.UploadDir)
	if err != nil {
		return err
	}

	db, err := history.Open(ctx, cfg.Storage.DataDir, logger.Named("history"))
	if err != nil {
		return err
	}
	defer db.Close()
	store := history.NewStore(db)

	var publisher predict.Publisher
	bus := startEvents(cfg.Events, logger)
	if bus != nil {
		defer bus.Stop()
		manager.SetNotifier(bus)
		publisher = bus
	}

	service := predict.NewService(classifier, labels, store, publisher, logger.Named("predict"))

	srv, err := server.NewGin(cfg, server.Deps{
		Camera:      manager,
		Predictor:   service,
		Images:      images,
		History:     store,
		Bus:         bus,
		ModelLoaded: modelLoaded,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	logger.Info("PlantAI サーバーを起動します",
		zap.String("addr", cfg.ServerAddress()),
		zap.String("system", manager.System()))
	return srv.Start(ctx)
}

// startEvents はイベントバスを起動する
// 無効のときと起動できないときは nil を返し、イベントなしで動かす
func startEvents(cfg config.EventsConfig, logger *zap.Logger) *events.Bus {
	if !cfg.Enabled {
		return nil
	}
	bus, err := events.New(cfg, logger)
	if err != nil {
		logger.Warn("イベントバスを起動できないためイベントなしで続行します",
			zap.Int("port", cfg.Port), zap.Error(err))
		return nil
	}
	return bus
}

// loadLabels はラベルファイルを読み込む。読めなければ組み込みのラベルを使う
func loadLabels(path string, logger *zap.Logger) predict.Labels {
	if path == "" {
		return predict.DefaultLabels()
	}
	labels, err := predict.LoadLabels(path)
	if err != nil {
		logger.Warn("ラベルファイルを読み込めないため組み込みのラベルを使います",
			zap.String("path", path), zap.Error(err))
		return predict.DefaultLabels()
	}
	return labels
}
