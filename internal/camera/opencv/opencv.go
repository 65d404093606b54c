// Package opencv はOpenCV (gocv) を使ったカメラデバイスの実装
package opencv

import (
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"

	"plantai/internal/camera"
)

var _ camera.Opener = Opener{}

// Opener はgocvのVideoCaptureでデバイスを開く
type Opener struct{}

// NewOpener は新しいOpenerを作成する
func NewOpener() Opener {
	return Opener{}
}

// apiFor はバックエンドをgocvのAPI定数に変換する
func apiFor(b camera.Backend) gocv.VideoCaptureAPI {
	switch b {
	case camera.BackendAVFoundation:
		return gocv.VideoCaptureAVFoundation
	case camera.BackendDirectShow:
		return gocv.VideoCaptureDshow
	case camera.BackendMSMF:
		return gocv.VideoCaptureMSMF
	case camera.BackendV4L2:
		return gocv.VideoCaptureV4L2
	default:
		return gocv.VideoCaptureAny
	}
}

// Open はカメラを開く。BackendDefault ではAPIを指定しない
func (Opener) Open(index int, backend camera.Backend) (camera.Device, error) {
	var (
		vc  *gocv.VideoCapture
		err error
	)
	if backend == camera.BackendDefault {
		vc, err = gocv.OpenVideoCapture(index)
	} else {
		vc, err = gocv.OpenVideoCaptureWithAPI(index, apiFor(backend))
	}
	if err != nil {
		return nil, fmt.Errorf("VideoCaptureを開けません: %w", err)
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, errors.New("VideoCaptureが開かれていません")
	}
	return &Device{vc: vc, backend: backend}, nil
}

// Device はgocv.VideoCaptureを包むカメラデバイス
// Read と Close は内部のミューテックスで直列化する
type Device struct {
	mu      sync.Mutex
	vc      *gocv.VideoCapture
	backend camera.Backend
	closed  bool
}

// Read はフレームを1枚読み込む
func (d *Device) Read() (camera.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, errors.New("デバイスは閉じられています")
	}

	mat := gocv.NewMat()
	if ok := d.vc.Read(&mat); !ok || mat.Empty() {
		_ = mat.Close()
		return nil, camera.ErrReadFailed
	}
	return &Frame{mat: mat}, nil
}

// Configure は解像度とフレームレートを設定し、反映されたかを確認する
func (d *Device) Configure(width, height, fps int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return errors.New("デバイスは閉じられています")
	}

	d.vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
	d.vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	d.vc.Set(gocv.VideoCaptureFPS, float64(fps))

	gotW := int(d.vc.Get(gocv.VideoCaptureFrameWidth))
	gotH := int(d.vc.Get(gocv.VideoCaptureFrameHeight))
	if gotW != width || gotH != height {
		return fmt.Errorf("解像度 %dx%d を要求しましたが %dx%d になりました", width, height, gotW, gotH)
	}
	return nil
}

// Size は現在の解像度を返す
func (d *Device) Size() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, 0
	}
	return int(d.vc.Get(gocv.VideoCaptureFrameWidth)), int(d.vc.Get(gocv.VideoCaptureFrameHeight))
}

// Backend はバックエンドを返す
func (d *Device) Backend() camera.Backend {
	return d.backend
}

// Close はデバイスを解放する。2回目以降は何もしない
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	return d.vc.Close()
}

// Frame はgocv.Matを包むフレーム
type Frame struct {
	mat gocv.Mat
}

// NewFrame は既存のMatからFrameを作る。Matの所有権はFrameに移る
func NewFrame(mat gocv.Mat) *Frame {
	return &Frame{mat: mat}
}

// Mat は内部のMatを返す
func (f *Frame) Mat() gocv.Mat {
	return f.mat
}

// Empty は画像がないときにtrueを返す
func (f *Frame) Empty() bool {
	return f.mat.Empty()
}

// Mirror は左右反転したフレームを返す
func (f *Frame) Mirror() (camera.Frame, error) {
	dst := gocv.NewMat()
	gocv.Flip(f.mat, &dst, 1)
	if dst.Empty() {
		_ = dst.Close()
		return nil, errors.New("左右反転の結果が空です")
	}
	return &Frame{mat: dst}, nil
}

// EncodeJPEG は指定品質でJPEGにエンコードする
func (f *Frame) EncodeJPEG(quality int) ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, f.mat, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("JPEGエンコードに失敗: %w", err)
	}
	defer buf.Close()

	// NativeByteBufferはCloseで解放されるためコピーする
	return append([]byte(nil), buf.GetBytes()...), nil
}

// Close はMatを解放する
func (f *Frame) Close() error {
	return f.mat.Close()
}
