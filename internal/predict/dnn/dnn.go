// Package dnn はOpenCVのDNNモジュールで学習済みモデルを実行する
//
// モデルはONNXなどOpenCVが読める形式で、入力はNCHW、出力は各クラスのスコアであること。
// Kerasモデルを変換する場合は tf2onnx の --inputs-as-nchw を付ける。
// 前処理は学習時と同じく、RGBに並べ替えて InputSize 四方に縮小し、画素値は0-255のまま渡す。
package dnn

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"plantai/internal/predict"
)

var _ predict.Classifier = (*Classifier)(nil)

// Config は分類器の設定
type Config struct {
	ModelPath string
	InputSize int
	SwapRB    bool // OpenCVのBGRをRGBに並べ替える
}

// Classifier はgocv.Netによる分類器
// gocv.Netはスレッドセーフではないため推論は直列化する
type Classifier struct {
	mu  sync.Mutex
	net gocv.Net
	cfg Config
}

// New はモデルを読み込んで分類器を作成する
func New(cfg Config) (*Classifier, error) {
	if cfg.InputSize <= 0 {
		return nil, fmt.Errorf("無効な入力サイズ: %d", cfg.InputSize)
	}

	net := gocv.ReadNet(cfg.ModelPath, "")
	if net.Empty() {
		return nil, fmt.Errorf("モデルの読み込みに失敗: %s", cfg.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &Classifier{net: net, cfg: cfg}, nil
}

// Classify は画像ファイルを分類する
func (c *Classifier) Classify(ctx context.Context, imagePath string) (predict.Classification, error) {
	if err := ctx.Err(); err != nil {
		return predict.Classification{}, err
	}

	img := gocv.IMRead(imagePath, gocv.IMReadColor)
	if img.Empty() {
		return predict.Classification{}, fmt.Errorf("画像を読み込めません: %s", imagePath)
	}
	defer img.Close()

	size := image.Pt(c.cfg.InputSize, c.cfg.InputSize)
	blob := gocv.BlobFromImage(img, 1.0, size, gocv.NewScalar(0, 0, 0, 0), c.cfg.SwapRB, false)
	defer blob.Close()

	c.mu.Lock()
	c.net.SetInput(blob, "")
	prob := c.net.Forward("")
	c.mu.Unlock()
	defer prob.Close()

	if prob.Empty() {
		return predict.Classification{}, errors.New("推論結果が空です")
	}

	// 出力は 1xN なので最大値の列番号がクラス番号になる
	_, maxVal, _, maxLoc := gocv.MinMaxLoc(prob)
	return predict.Classification{Class: maxLoc.X, Confidence: maxVal}, nil
}

// Close はモデルを解放する
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.net.Close()
}
