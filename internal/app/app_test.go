package app

import (
	"net"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"plantai/internal/config"
)

// TestStartEvents はイベントバスを起動できないときに nil で続行することをテストする
func TestStartEvents(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ポートを確保できません: %v", err)
	}
	defer busy.Close()
	busyPort := busy.Addr().(*net.TCPAddr).Port

	testCases := []struct {
		name    string
		cfg     config.EventsConfig
		wantBus bool
	}{
		{
			name:    "無効",
			cfg:     config.EventsConfig{Enabled: false, Host: "127.0.0.1", Port: -1},
			wantBus: false,
		},
		{
			name:    "使用中のポート",
			cfg:     config.EventsConfig{Enabled: true, Host: "127.0.0.1", Port: busyPort},
			wantBus: false,
		},
		{
			name:    "空いているポート",
			cfg:     config.EventsConfig{Enabled: true, Host: "127.0.0.1", Port: -1},
			wantBus: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			bus := startEvents(tc.cfg, zap.NewNop())
			if bus != nil {
				defer bus.Stop()
			}
			if got := bus != nil; got != tc.wantBus {
				t.Errorf("イベントバス: got %v, want %v", got, tc.wantBus)
			}
		})
	}
}

func TestLoadLabels(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.json")

	for _, path := range []string{"", missing} {
		labels := loadLabels(path, zap.NewNop())
		if len(labels) != 39 {
			t.Errorf("%q: 組み込みのラベル数: got %d, want 39", path, len(labels))
		}
	}
}
