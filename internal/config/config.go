package config

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Camera     CameraConfig     `yaml:"camera"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Storage    StorageConfig    `yaml:"storage"`
	Events     EventsConfig     `yaml:"events"`
	Logging    LoggingConfig    `yaml:"logging"`

	path     string
	mu       sync.RWMutex
	watchers []func(*Config)
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // 読み込みタイムアウト
	WriteTimeout time.Duration `yaml:"write_timeout"` // 書き込みタイムアウト
}

// CameraConfig はカメラ関連の設定
type CameraConfig struct {
	MaxIndex        int   `yaml:"max_index"`        // 探索するインデックスの上限（この値は含まない）
	FallbackIndices []int `yaml:"fallback_indices"` // 自動選択に失敗したときに試すインデックス

	Width       int `yaml:"width"`
	Height      int `yaml:"height"`
	FPS         int `yaml:"fps"`
	JPEGQuality int `yaml:"jpeg_quality"`

	StopGrace     time.Duration `yaml:"stop_grace"`     // 停止時にストリームの終了を待つ時間
	ReleaseSettle time.Duration `yaml:"release_settle"` // 解放後にドライバーを待つ時間
	ReadRetry     time.Duration `yaml:"read_retry"`     // 読み込み失敗時の待機時間
}

// ClassifierConfig は推論モデルの設定
type ClassifierConfig struct {
	ModelPath  string `yaml:"model_path"`
	LabelsPath string `yaml:"labels_path"`
	InputSize  int    `yaml:"input_size"`
	SwapRB     bool   `yaml:"swap_rb"`
}

// StorageConfig は保存先の設定
type StorageConfig struct {
	UploadDir string `yaml:"upload_dir"` // アップロード画像とキャプチャ画像の保存先
	DataDir   string `yaml:"data_dir"`   // 予測履歴データベースの保存先
}

// EventsConfig は組み込みイベントバスの設定
type EventsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// LoggingConfig はログ出力の設定
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json または console
}

// Default はデフォルト値で埋めた設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         5000,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 0, // ストリーミング用にタイムアウト無効化
		},
		Camera: CameraConfig{
			MaxIndex:        10,
			FallbackIndices: []int{0, 1, 2},
			Width:           1280,
			Height:          720,
			FPS:             30,
			JPEGQuality:     85,
			StopGrace:       200 * time.Millisecond,
			ReleaseSettle:   100 * time.Millisecond,
			ReadRetry:       10 * time.Millisecond,
		},
		Classifier: ClassifierConfig{
			ModelPath:  "models/plant_disease_recog_model_pwp.onnx",
			LabelsPath: "plant_disease.json",
			InputSize:  160,
			SwapRB:     true,
		},
		Storage: StorageConfig{
			UploadDir: "uploadimages",
			DataDir:   "data",
		},
		Events: EventsConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    4222,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load は設定を読み込む
// デフォルト値、YAMLファイル（存在する場合）、環境変数の順に適用する
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// ファイルがなければデフォルト値のまま
		case err != nil:
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("設定ファイルの解析に失敗: %w", err)
			}
		}
	}

	cfg.applyEnv()

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// applyEnv は環境変数で設定を上書きする
func (c *Config) applyEnv() {
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsIntOrDefault("PORT", c.Server.Port)
	c.Logging.Level = getEnvOrDefault("LOG_LEVEL", c.Logging.Level)
	c.Classifier.ModelPath = getEnvOrDefault("MODEL_PATH", c.Classifier.ModelPath)
	c.Classifier.LabelsPath = getEnvOrDefault("LABELS_PATH", c.Classifier.LabelsPath)
	c.Storage.UploadDir = getEnvOrDefault("UPLOAD_DIR", c.Storage.UploadDir)
	c.Storage.DataDir = getEnvOrDefault("DATA_DIR", c.Storage.DataDir)
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}

	// カメラ設定の検証
	if c.Camera.MaxIndex < 1 {
		return fmt.Errorf("無効な探索上限: %d", c.Camera.MaxIndex)
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("無効な解像度: %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.JPEGQuality < 1 || c.Camera.JPEGQuality > 100 {
		return fmt.Errorf("無効なJPEG品質: %d", c.Camera.JPEGQuality)
	}

	if c.Classifier.InputSize <= 0 {
		return fmt.Errorf("無効な入力サイズ: %d", c.Classifier.InputSize)
	}
	if c.Storage.UploadDir == "" {
		return errors.New("アップロード先が設定されていません")
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Path は読み込んだ設定ファイルのパスを返す
func (c *Config) Path() string {
	return c.path
}

// LogLevel は現在のログレベルを返す
func (c *Config) LogLevel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging.Level
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
