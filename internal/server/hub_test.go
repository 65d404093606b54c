package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"plantai/internal/camera"
	"plantai/internal/config"
	"plantai/internal/events"
	"plantai/internal/predict"
	"plantai/internal/storage"
)

func dialEvents(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(url, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("WebSocketに接続できません: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := hub.ClientCount(); got != n {
		t.Fatalf("接続数: got %d, want %d", got, n)
	}
}

func TestHubBroadcast(t *testing.T) {
	env := newTestEnv(t, predict.StaticClassifier{})
	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	conn := dialEvents(t, ts.URL)
	waitClients(t, env.srv.Hub(), 1)

	env.srv.Hub().Broadcast(Message{Type: "test", Data: json.RawMessage(`{"n":1}`)})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("メッセージを受信できません: %v", err)
	}
	if msg.Type != "test" || string(msg.Data) != `{"n":1}` || msg.Timestamp.IsZero() {
		t.Errorf("メッセージが期待値と異なります: %+v", msg)
	}

	_ = conn.Close()
	waitClients(t, env.srv.Hub(), 0)
}

// TestEventsAreForwarded はイベントバスのイベントがWebSocketに届くことを確認する
func TestEventsAreForwarded(t *testing.T) {
	bus, err := events.New(config.EventsConfig{Enabled: true, Host: "127.0.0.1", Port: -1}, zap.NewNop())
	if err != nil {
		t.Fatalf("イベントバスの起動に失敗しました: %v", err)
	}
	defer bus.Stop()

	opener := camera.NewFakeOpener()
	opener.AddCamera(0, camera.FakeCamera{Width: 640, Height: 480})
	manager := camera.NewDefaultManager(opener, camera.OSLinux, camera.Options{
		MaxIndex:        1,
		FallbackIndices: []int{0},
		JPEGQuality:     80,
		StopGrace:       time.Millisecond,
		ReleaseSettle:   time.Millisecond,
		ReadRetry:       time.Millisecond,
		ErrorRetry:      time.Millisecond,
		StreamBuffer:    1,
	}, zap.NewNop())
	manager.SetNotifier(bus)

	images, err := storage.New(filepath.Join(t.TempDir(), "uploadimages"))
	if err != nil {
		t.Fatalf("保存先の作成に失敗しました: %v", err)
	}

	srv, err := NewGin(testConfig(), Deps{
		Camera:    manager,
		Predictor: predict.NewService(predict.StaticClassifier{}, predict.DefaultLabels(), nil, bus, nil),
		Images:    images,
		Bus:       bus,
	})
	if err != nil {
		t.Fatalf("サーバーの作成に失敗しました: %v", err)
	}
	defer srv.Close()

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialEvents(t, ts.URL)
	waitClients(t, srv.Hub(), 1)

	if _, err := manager.Start(context.Background(), nil); err != nil {
		t.Fatalf("カメラの起動に失敗しました: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("メッセージを受信できません: %v", err)
	}
	if msg.Type != "camera.started" {
		t.Errorf("type: got %s, want camera.started", msg.Type)
	}

	var ev camera.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		t.Fatalf("イベントのデコードに失敗しました: %v", err)
	}
	if ev.Type != camera.EventStarted || ev.Index != 0 {
		t.Errorf("イベントが期待値と異なります: %+v", ev)
	}
}
