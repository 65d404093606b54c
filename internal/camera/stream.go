package camera

import (
	"bytes"
	"context"
	"errors"

	"go.uber.org/zap"
)

var _ Manager = (*DefaultManager)(nil)

// Boundary はMJPEGストリームのmultipart境界
const Boundary = "frame"

// ContentType はMJPEGストリームのContent-Type
const ContentType = "multipart/x-mixed-replace; boundary=" + Boundary

// FormatChunk はJPEGを1つのmultipartチャンクにする
func FormatChunk(jpeg []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(jpeg) + 48)
	buf.WriteString("--" + Boundary + "\r\n")
	buf.WriteString("Content-Type: image/jpeg\r\n\r\n")
	buf.Write(jpeg)
	buf.WriteString("\r\n")
	return buf.Bytes()
}

// Stream はカメラを配信状態にしてMJPEGチャンクのチャンネルを返す
//
// ctx のキャンセル（クライアント切断）か Stop で配信を終え、チャンネルを閉じる。
// 終了時は配信フラグを下ろすだけで、デバイスは解放しない。
func (m *DefaultManager) Stream(ctx context.Context) (<-chan []byte, error) {
	if err := m.Init(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	dev := m.device
	if dev == nil {
		m.mu.Unlock()
		return nil, ErrNoCamera
	}
	m.active = true
	m.mu.Unlock()

	out := make(chan []byte, m.opts.StreamBuffer)
	go m.runStream(ctx, dev, out)
	return out, nil
}

// runStream は配信ゴルーチンの本体
func (m *DefaultManager) runStream(ctx context.Context, dev Device, out chan<- []byte) {
	frames := 0
	reason := "stopped"

	defer func() {
		m.mu.Lock()
		// 別のデバイスに差し替わっていればその状態には触れない
		if m.device == dev {
			m.active = false
		}
		m.mu.Unlock()
		close(out)

		fields := []zap.Field{zap.Int("frames", frames), zap.String("reason", reason)}
		if reason == "client_disconnected" {
			m.logger.Debug("クライアントが切断したため配信を終了しました", fields...)
			return
		}
		m.logger.Info("配信を終了しました", fields...)
	}()

	for {
		if ctx.Err() != nil {
			reason = "client_disconnected"
			return
		}

		// 読み込み前に毎回、配信中であることと同じデバイスであることを確認する
		m.mu.Lock()
		ok := m.active && m.device == dev
		m.mu.Unlock()
		if !ok {
			return
		}

		frame, err := dev.Read()
		if err == nil && frame.Empty() {
			_ = frame.Close()
			err = ErrReadFailed
		}
		if err != nil {
			if !errors.Is(err, ErrReadFailed) {
				m.logger.Debug("フレームの読み込みでエラーが発生しました", zap.Error(err))
			}
			if !sleepCtx(ctx, m.opts.ReadRetry) {
				reason = "client_disconnected"
				return
			}
			continue
		}

		jpeg, err := m.encode(frame)
		_ = frame.Close()
		if err != nil {
			m.logger.Warn("フレームの変換に失敗しました", zap.Error(err))
			if !sleepCtx(ctx, m.opts.ErrorRetry) {
				reason = "client_disconnected"
				return
			}
			continue
		}

		m.mu.Lock()
		if m.active && m.device == dev {
			m.latest = jpeg
		}
		m.mu.Unlock()

		select {
		case out <- FormatChunk(jpeg):
			frames++
		case <-ctx.Done():
			reason = "client_disconnected"
			return
		}
	}
}
