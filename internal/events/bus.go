// Package events は組み込みNATSサーバーを使ったイベントバスを提供する
//
// カメラの開始と停止、推定結果の作成を購読者に通知する。
package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"plantai/internal/camera"
	"plantai/internal/config"
	"plantai/internal/predict"
)

// サブジェクト
const (
	SubjectCameraStarted     = "plantai.camera.started"
	SubjectCameraStopped     = "plantai.camera.stopped"
	SubjectPredictionCreated = "plantai.prediction.created"

	// SubjectAll は全てのイベントに一致する
	SubjectAll = "plantai.>"
)

var (
	_ camera.Notifier   = (*Bus)(nil)
	_ predict.Publisher = (*Bus)(nil)
)

// Bus は組み込みNATSサーバーとその接続を保持する
type Bus struct {
	server *server.Server
	conn   *nats.Conn
	logger *zap.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// New は組み込みNATSサーバーを起動して接続する
// Port に -1 を渡すと空いているポートを使う
func New(cfg config.EventsConfig, logger *zap.Logger) (*Bus, error) {
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}

	ns, err := server.NewServer(&server.Options{
		Host:   host,
		Port:   cfg.Port,
		NoSigs: true,
		NoLog:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("NATSサーバーの作成に失敗: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(2 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATSサーバーが起動しません (port %d)", cfg.Port)
	}

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("NATSサーバーに接続できません: %w", err)
	}

	logger = logger.With(zap.String("component", "events"))
	logger.Info("イベントバスを起動しました", zap.String("url", ns.ClientURL()))

	return &Bus{server: ns, conn: nc, logger: logger}, nil
}

// ClientURL は外部クライアントが接続するURLを返す
func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

// Publish はデータをJSONにして送信する
func (b *Bus) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("イベントのエンコードに失敗: %w", err)
	}
	return b.conn.Publish(subject, payload)
}

// Subscribe はサブジェクトを購読する。購読は Stop でまとめて解除される
func (b *Bus) Subscribe(subject string, handler func(subject string, data []byte)) error {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("購読に失敗 (%s): %w", subject, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return nil
}

// NotifyCamera はカメラの状態変化を送信する
func (b *Bus) NotifyCamera(ev camera.Event) {
	subject := SubjectCameraStarted
	if ev.Type == camera.EventStopped {
		subject = SubjectCameraStopped
	}
	if err := b.Publish(subject, ev); err != nil {
		b.logger.Warn("カメライベントの送信に失敗しました", zap.String("type", ev.Type), zap.Error(err))
	}
}

// PublishPrediction は推定結果を送信する
func (b *Bus) PublishPrediction(p predict.Prediction) error {
	return b.Publish(SubjectPredictionCreated, p)
}

// Stop は購読を解除し、接続とサーバーを閉じる
func (b *Bus) Stop() {
	b.mu.Lock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
	b.mu.Unlock()

	if err := b.conn.Drain(); err != nil {
		b.logger.Warn("接続のドレインに失敗しました", zap.Error(err))
		b.conn.Close()
	}
	deadline := time.Now().Add(time.Second)
	for !b.conn.IsClosed() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	b.server.Shutdown()
	b.server.WaitForShutdown()
	b.logger.Info("イベントバスを停止しました")
}
