package camera

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// FakeCamera はFakeOpenerに登録するテスト用カメラの振る舞い
type FakeCamera struct {
	Width  int
	Height int

	// Backends が空でなければ、含まれるバックエンドでしか開けない
	Backends []Backend
	// PanicBackends に含まれるバックエンドで開くとpanicする
	PanicBackends []Backend

	FailReads      bool          // すべての読み込みが失敗する
	FailFirstReads int           // 最初のN回の読み込みが失敗する
	EmptyFrames    bool          // 空のフレームを返す
	ReadDelay      time.Duration // 1回の読み込みにかかる時間
	FailConfigure  bool
}

// OpenCall はFakeOpener.Openの呼び出し記録
type OpenCall struct {
	Index   int
	Backend Backend
}

// FakeOpener はテスト用のOpener実装
type FakeOpener struct {
	mu      sync.Mutex
	cameras map[int]FakeCamera
	calls   []OpenCall
	devices []*FakeDevice
}

// NewFakeOpener は新しいFakeOpenerを作成する
func NewFakeOpener() *FakeOpener {
	return &FakeOpener{cameras: make(map[int]FakeCamera)}
}

// AddCamera はテスト用にカメラを追加する
func (o *FakeOpener) AddCamera(index int, cam FakeCamera) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cameras[index] = cam
}

// RemoveCamera はテスト用にカメラを削除する
func (o *FakeOpener) RemoveCamera(index int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.cameras, index)
}

// Open はカメラを開く
func (o *FakeOpener) Open(index int, backend Backend) (Device, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.calls = append(o.calls, OpenCall{Index: index, Backend: backend})

	cam, ok := o.cameras[index]
	if !ok {
		return nil, fmt.Errorf("カメラ %d が存在しません", index)
	}
	for _, b := range cam.PanicBackends {
		if b == backend {
			panic(fmt.Sprintf("backend %s is not supported", backend))
		}
	}
	if len(cam.Backends) > 0 && !containsBackend(cam.Backends, backend) {
		return nil, fmt.Errorf("カメラ %d はバックエンド %s に対応していません", index, backend)
	}

	dev := &FakeDevice{index: index, backend: backend, cam: cam}
	o.devices = append(o.devices, dev)
	return dev, nil
}

// Calls はOpenの呼び出し記録を返す
func (o *FakeOpener) Calls() []OpenCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]OpenCall(nil), o.calls...)
}

// OpenDevices は閉じられていないデバイスの数を返す
func (o *FakeOpener) OpenDevices() int {
	o.mu.Lock()
	devices := append([]*FakeDevice(nil), o.devices...)
	o.mu.Unlock()

	n := 0
	for _, d := range devices {
		if !d.Closed() {
			n++
		}
	}
	return n
}

// Devices はこれまでに開いたデバイスを返す
func (o *FakeOpener) Devices() []*FakeDevice {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*FakeDevice(nil), o.devices...)
}

func containsBackend(list []Backend, b Backend) bool {
	for _, x := range list {
		if x == b {
			return true
		}
	}
	return false
}

// FakeDevice はテスト用のDevice実装
type FakeDevice struct {
	mu         sync.Mutex
	index      int
	backend    Backend
	cam        FakeCamera
	closed     bool
	closeCount int
	reads      int
	configured bool
}

// Read はフレームを1枚返す
func (d *FakeDevice) Read() (Frame, error) {
	if d.cam.ReadDelay > 0 {
		time.Sleep(d.cam.ReadDelay)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, errors.New("デバイスは閉じられています")
	}
	d.reads++
	if d.cam.FailReads || d.reads <= d.cam.FailFirstReads {
		return nil, ErrReadFailed
	}
	if d.cam.EmptyFrames {
		return &FakeFrame{}, nil
	}
	return &FakeFrame{Seq: d.reads, Width: d.cam.Width, Height: d.cam.Height}, nil
}

// Configure は設定を記録する
func (d *FakeDevice) Configure(width, height, fps int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cam.FailConfigure {
		return errors.New("設定に対応していません")
	}
	d.configured = true
	return nil
}

// Size は解像度を返す
func (d *FakeDevice) Size() (int, int) {
	return d.cam.Width, d.cam.Height
}

// Backend はバックエンドを返す
func (d *FakeDevice) Backend() Backend {
	return d.backend
}

// Index はカメラ番号を返す
func (d *FakeDevice) Index() int {
	return d.index
}

// Close はデバイスを閉じる
func (d *FakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.closeCount++
	return nil
}

// Closed は閉じられているかを返す
func (d *FakeDevice) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Configured は Configure が成功したかを返す
func (d *FakeDevice) Configured() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.configured
}

// Reads は読み込み回数を返す
func (d *FakeDevice) Reads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads
}

// FakeFrame はテスト用のFrame実装
type FakeFrame struct {
	Seq      int
	Width    int
	Height   int
	Mirrored bool
}

// Empty は画像がないときにtrueを返す
func (f *FakeFrame) Empty() bool {
	return f.Width == 0 || f.Height == 0
}

// Mirror は左右反転したフレームを返す
func (f *FakeFrame) Mirror() (Frame, error) {
	out := *f
	out.Mirrored = !f.Mirrored
	return &out, nil
}

// EncodeJPEG はフレームを識別できるバイト列を返す
func (f *FakeFrame) EncodeJPEG(quality int) ([]byte, error) {
	return []byte(fmt.Sprintf("jpeg seq=%d q=%d mirrored=%t", f.Seq, quality, f.Mirrored)), nil
}

// Close は何もしない
func (f *FakeFrame) Close() error {
	return nil
}

// CloseCount は Close が呼ばれた回数を返す
func (d *FakeDevice) CloseCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closeCount
}
