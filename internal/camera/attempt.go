package camera

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// attempt はデバイスを開く1回分の試行
type attempt struct {
	index   int
	backend Backend
	// validate がtrueなら、開いた後に1フレーム読めることを確認する
	validate bool
}

// openAttempts はインデックスをOSごとの優先順で開く試行列を返す
// 最後にバックエンド指定なしの試行を加える
func openAttempts(index int, os OS) []attempt {
	backends := BackendPriority(os)
	attempts := make([]attempt, 0, len(backends)+1)
	for _, b := range backends {
		attempts = append(attempts, attempt{index: index, backend: b, validate: true})
	}
	return append(attempts, attempt{index: index, backend: BackendDefault, validate: true})
}

// probeAttempts は探索用の試行列を返す
// 読み込みの確認は探索側で行うため validate は付けない
func probeAttempts(index int, os OS) []attempt {
	probe := ProbeBackend(os)
	attempts := []attempt{{index: index, backend: probe}}
	if probe != BackendDefault {
		attempts = append(attempts, attempt{index: index, backend: BackendDefault})
	}
	return attempts
}

// explicitAttempts は番号を指定して開くときの試行列を返す
func explicitAttempts(index int, os OS) []attempt {
	return probeAttempts(index, os)
}

// fallbackAttempts は自動選択に失敗したときに試す試行列を返す
func fallbackAttempts(indices []int) []attempt {
	attempts := make([]attempt, 0, len(indices))
	for _, idx := range indices {
		attempts = append(attempts, attempt{index: idx, backend: BackendDefault, validate: true})
	}
	return attempts
}

// tryOpen は試行列を順に試し、最初に成功したデバイスを返す
// 失敗した試行で開いたデバイスは必ず閉じる
func tryOpen(opener Opener, attempts []attempt, logger *zap.Logger) (Device, attempt, error) {
	var errs []error
	for _, a := range attempts {
		dev, err := openOne(opener, a)
		if err != nil {
			logger.Debug("カメラを開けませんでした",
				zap.Int("index", a.index),
				zap.Stringer("backend", a.backend),
				zap.Error(err))
			errs = append(errs, err)
			continue
		}
		logger.Debug("カメラを開きました",
			zap.Int("index", a.index),
			zap.Stringer("backend", a.backend))
		return dev, a, nil
	}
	if len(errs) == 0 {
		return nil, attempt{}, ErrNoCamera
	}
	return nil, attempt{}, fmt.Errorf("%w: %w", ErrNoCamera, errors.Join(errs...))
}

// openOne は1回分の試行を実行する
// バックエンドが未対応の場合にネイティブ層がpanicしても、次の試行に進めるようにする
func openOne(opener Opener, a attempt) (dev Device, err error) {
	defer func() {
		if r := recover(); r != nil {
			if dev != nil {
				_ = dev.Close()
			}
			dev = nil
			err = fmt.Errorf("カメラ %d (%s) でpanic: %v", a.index, a.backend, r)
		}
	}()

	dev, err = opener.Open(a.index, a.backend)
	if err != nil {
		return nil, fmt.Errorf("カメラ %d (%s): %w", a.index, a.backend, err)
	}
	if !a.validate {
		return dev, nil
	}

	if err := readOne(dev); err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("カメラ %d (%s): %w", a.index, a.backend, err)
	}
	return dev, nil
}

// readOne は1フレーム読み込み、空でないことを確認して破棄する
func readOne(dev Device) error {
	frame, err := dev.Read()
	if err != nil {
		return err
	}
	defer frame.Close()
	if frame.Empty() {
		return ErrReadFailed
	}
	return nil
}
