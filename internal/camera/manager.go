package camera

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"plantai/internal/config"
)

// Options はDefaultManagerの動作設定
type Options struct {
	MaxIndex        int
	FallbackIndices []int

	Width       int
	Height      int
	FPS         int
	JPEGQuality int

	StopGrace     time.Duration // Stop で配信の終了を待つ時間
	ReleaseSettle time.Duration // 解放後にドライバーを待つ時間
	ReadRetry     time.Duration // 読み込み失敗後の待機
	ErrorRetry    time.Duration // エンコード失敗後の待機

	StreamBuffer int // 配信チャンネルのバッファ数
}

// NewOptions は設定からOptionsを作る
func NewOptions(cfg config.CameraConfig) Options {
	return Options{
		MaxIndex:        cfg.MaxIndex,
		FallbackIndices: append([]int(nil), cfg.FallbackIndices...),
		Width:           cfg.Width,
		Height:          cfg.Height,
		FPS:             cfg.FPS,
		JPEGQuality:     cfg.JPEGQuality,
		StopGrace:       cfg.StopGrace,
		ReleaseSettle:   cfg.ReleaseSettle,
		ReadRetry:       cfg.ReadRetry,
		ErrorRetry:      10 * cfg.ReadRetry,
		StreamBuffer:    2,
	}
}

// DefaultManager はプロセスで唯一のカメラを管理する
//
// デバイス、配信フラグ、最新フレームは mu で保護する。
// 探索とデバイスI/Oはロックの外で行い、結果の反映だけをロック内で行う。
type DefaultManager struct {
	opener     Opener
	discoverer *Discoverer
	os         OS
	opts       Options
	logger     *zap.Logger
	notifier   Notifier

	mu      sync.Mutex
	device  Device
	index   int
	backend Backend
	active  bool
	latest  []byte
}

// NewDefaultManager は新しいDefaultManagerを作成する
func NewDefaultManager(opener Opener, os OS, opts Options, logger *zap.Logger) *DefaultManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.StreamBuffer < 1 {
		opts.StreamBuffer = 1
	}
	return &DefaultManager{
		opener:     opener,
		discoverer: NewDiscoverer(opener, os, logger),
		os:         os,
		opts:       opts,
		logger:     logger,
	}
}

// SetNotifier は状態変化の通知先を設定する
func (m *DefaultManager) SetNotifier(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifier = n
}

// Discoverer は探索に使うDiscovererを返す
func (m *DefaultManager) Discoverer() *Discoverer {
	return m.discoverer
}

// System はOS名を返す
func (m *DefaultManager) System() string {
	return m.os.SystemName()
}

// State は現在の状態を返す
func (m *DefaultManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *DefaultManager) stateLocked() State {
	switch {
	case m.device == nil:
		return StateUninitialized
	case m.active:
		return StateOpenActive
	default:
		return StateOpenInactive
	}
}

// Init はカメラを自動検出して開く
func (m *DefaultManager) Init(ctx context.Context) error {
	m.mu.Lock()
	if m.device != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	dev, a, err := m.autoOpen(ctx)
	if err != nil {
		return err
	}
	m.install(dev, a, false)
	return nil
}

// autoOpen は探索、選択、フォールバックを経てデバイスを開く
func (m *DefaultManager) autoOpen(ctx context.Context) (Device, attempt, error) {
	candidates := m.discoverer.Discover(ctx, m.opts.MaxIndex)
	index, ok := SelectBuiltin(candidates, m.os)
	if ok {
		m.logger.Info("探索で見つかったカメラを使います", zap.Int("index", index))
	} else {
		m.logger.Warn("探索でカメラが見つからないため、フォールバックを試します",
			zap.Ints("indices", m.opts.FallbackIndices))

		probe, a, err := tryOpen(m.opener, fallbackAttempts(m.opts.FallbackIndices), m.logger)
		if err != nil {
			m.logger.Error("すべてのフォールバックに失敗しました")
			return nil, attempt{}, ErrNoCamera
		}
		_ = probe.Close()
		index = a.index
		m.logger.Info("フォールバックに成功しました", zap.Int("index", index))
	}

	if err := ctx.Err(); err != nil {
		return nil, attempt{}, err
	}

	dev, a, err := tryOpen(m.opener, openAttempts(index, m.os), m.logger)
	if err != nil {
		m.logger.Error("カメラを開けませんでした", zap.Int("index", index), zap.Error(err))
		return nil, attempt{}, fmt.Errorf("カメラ %d を開けません: %w", index, ErrNoCamera)
	}
	m.configure(dev)
	return dev, a, nil
}

// configure は解像度とフレームレートを設定する。失敗はログに残すだけ
func (m *DefaultManager) configure(dev Device) {
	if err := dev.Configure(m.opts.Width, m.opts.Height, m.opts.FPS); err != nil {
		m.logger.Warn("カメラの設定に失敗しました",
			zap.Int("width", m.opts.Width),
			zap.Int("height", m.opts.Height),
			zap.Int("fps", m.opts.FPS),
			zap.Error(err))
	}
}

// install は開いたデバイスを共有状態に登録し、登録されているカメラの番号を返す
// 別のリクエストが先に登録していた場合はそちらを残して dev を閉じ、false を返す
func (m *DefaultManager) install(dev Device, a attempt, activate bool) (int, bool) {
	m.mu.Lock()
	if m.device != nil {
		if activate {
			m.active = true
		}
		current := m.index
		m.mu.Unlock()
		m.logger.Debug("別のリクエストが先にカメラを開いていたため破棄します",
			zap.Int("index", a.index), zap.Int("current", current))
		_ = dev.Close()
		return current, false
	}
	m.device = dev
	m.index = a.index
	m.backend = a.backend
	m.active = activate
	m.mu.Unlock()

	m.logger.Info("カメラを初期化しました",
		zap.Int("index", a.index),
		zap.Stringer("backend", a.backend))
	return a.index, true
}

// Start はカメラを開いて配信可能な状態にする
func (m *DefaultManager) Start(ctx context.Context, index *int) (StartResult, error) {
	m.mu.Lock()
	if m.device != nil {
		m.active = true
		current := m.index
		m.mu.Unlock()
		return StartResult{Message: "Camera already running", Index: current, AlreadyRunning: true}, nil
	}
	m.mu.Unlock()

	if index != nil {
		if res, ok := m.startExplicit(*index); ok {
			return res, nil
		}
	}

	if err := m.Init(ctx); err != nil {
		return StartResult{}, err
	}

	m.mu.Lock()
	if m.device == nil {
		// 初期化直後に別のリクエストが解放した
		m.mu.Unlock()
		return StartResult{}, ErrNoCamera
	}
	m.active = true
	current, backend := m.index, m.backend
	m.mu.Unlock()

	m.notify(Event{Type: EventStarted, Index: current, Backend: backend.String()})
	return StartResult{Message: "Camera started", Index: current}, nil
}

// startExplicit は指定された番号のカメラを直接開く
func (m *DefaultManager) startExplicit(index int) (StartResult, bool) {
	m.logger.Info("指定されたカメラを開きます", zap.Int("index", index))
	m.detach()

	dev, a, err := tryOpen(m.opener, explicitAttempts(index, m.os), m.logger)
	if err != nil {
		m.logger.Warn("指定されたカメラを開けないため自動検出に切り替えます",
			zap.Int("index", index), zap.Error(err))
		return StartResult{}, false
	}
	m.configure(dev)
	if current, ok := m.install(dev, a, true); !ok {
		return StartResult{Message: "Camera already running", Index: current, AlreadyRunning: true}, true
	}

	m.notify(Event{Type: EventStarted, Index: index, Backend: a.backend.String()})
	return StartResult{Message: fmt.Sprintf("Camera %d started", index), Index: index}, true
}

// Stop は配信を止めてからカメラを解放する
func (m *DefaultManager) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.active = false
	hadDevice := m.device != nil
	index := m.index
	m.mu.Unlock()

	// 配信ゴルーチンが次の確認で抜けるのを待つ
	sleepCtx(ctx, m.opts.StopGrace)
	m.Release()

	if hadDevice {
		m.notify(Event{Type: EventStopped, Index: index})
	}
	return nil
}

// Release はカメラを解放する。デバイスがなくても安全に呼べる
func (m *DefaultManager) Release() {
	if m.detach() {
		time.Sleep(m.opts.ReleaseSettle)
	}
}

// detach は共有状態からデバイスを外して閉じる。閉じたかどうかを返す
func (m *DefaultManager) detach() bool {
	m.mu.Lock()
	m.active = false
	dev := m.device
	m.device = nil
	m.mu.Unlock()

	if dev == nil {
		return false
	}
	if err := dev.Close(); err != nil {
		m.logger.Warn("カメラの解放に失敗しました", zap.Error(err))
	}
	m.logger.Info("カメラを解放しました")
	return true
}

// ListCameras は利用可能なカメラを探索する
func (m *DefaultManager) ListCameras(ctx context.Context) []Candidate {
	return m.discoverer.Discover(ctx, m.opts.MaxIndex)
}

// Snapshot は最新フレームのJPEGを返す
// 配信中のフレームがなければデバイスから1枚読み込み、左右反転する
func (m *DefaultManager) Snapshot(_ context.Context) ([]byte, error) {
	m.mu.Lock()
	if m.latest != nil {
		out := append([]byte(nil), m.latest...)
		m.mu.Unlock()
		return out, nil
	}
	dev := m.device
	m.mu.Unlock()

	if dev == nil {
		return nil, ErrNoFrame
	}

	frame, err := dev.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoFrame, err)
	}
	defer frame.Close()
	if frame.Empty() {
		return nil, ErrNoFrame
	}

	data, err := m.encode(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoFrame, err)
	}
	return data, nil
}

// encode はフレームを左右反転してJPEGにする
func (m *DefaultManager) encode(frame Frame) ([]byte, error) {
	mirrored, err := frame.Mirror()
	if err != nil {
		return nil, fmt.Errorf("左右反転に失敗: %w", err)
	}
	defer mirrored.Close()

	data, err := mirrored.EncodeJPEG(m.opts.JPEGQuality)
	if err != nil {
		return nil, fmt.Errorf("JPEGエンコードに失敗: %w", err)
	}
	return data, nil
}

func (m *DefaultManager) notify(ev Event) {
	m.mu.Lock()
	n := m.notifier
	m.mu.Unlock()
	if n == nil {
		return
	}
	ev.Timestamp = time.Now()
	n.NotifyCamera(ev)
}

// sleepCtx はdだけ待つ。ctxがキャンセルされたらfalseを返す
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
