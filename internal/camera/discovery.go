package camera

import (
	"context"

	"go.uber.org/zap"
)

// Discoverer はインデックスを順に開いてカメラを探索する
type Discoverer struct {
	opener Opener
	os     OS
	logger *zap.Logger

	// names はインデックスからデバイス名を引く。取得できなければ空文字列
	names func(index int) string
}

// NewDiscoverer は新しいDiscovererを作成する
func NewDiscoverer(opener Opener, os OS, logger *zap.Logger) *Discoverer {
	return &Discoverer{
		opener: opener,
		os:     os,
		logger: logger,
		names:  deviceName,
	}
}

// Discover は [0, maxIndex) のインデックスを探索し、動作するカメラを返す
// 探索で開いたデバイスはすべて閉じる。カメラがなければ空のスライスを返す
func (d *Discoverer) Discover(ctx context.Context, maxIndex int) []Candidate {
	candidates := []Candidate{}

	for index := 0; index < maxIndex; index++ {
		// コンテキストのキャンセルをチェック
		select {
		case <-ctx.Done():
			return candidates
		default:
		}

		cand, ok := d.probe(index)
		if !ok {
			continue
		}
		candidates = append(candidates, cand)
	}

	d.logger.Debug("カメラの探索が完了しました", zap.Int("found", len(candidates)))
	return candidates
}

// probe は1つのインデックスを開いて1フレーム読み込む
func (d *Discoverer) probe(index int) (Candidate, bool) {
	dev, a, err := tryOpen(d.opener, probeAttempts(index, d.os), d.logger)
	if err != nil {
		return Candidate{}, false
	}
	defer func() {
		if err := dev.Close(); err != nil {
			d.logger.Warn("探索したカメラの解放に失敗しました", zap.Int("index", index), zap.Error(err))
		}
	}()

	if err := readOne(dev); err != nil {
		d.logger.Debug("カメラは開けましたがフレームを読めませんでした",
			zap.Int("index", index), zap.Error(err))
		return Candidate{}, false
	}

	width, height := dev.Size()
	cand := Candidate{
		Index:   index,
		Backend: a.backend,
		Width:   width,
		Height:  height,
		Works:   true,
	}
	if d.names != nil {
		cand.Name = d.names(index)
	}

	d.logger.Debug("カメラを検出しました",
		zap.Int("index", index),
		zap.Int("width", width),
		zap.Int("height", height))
	return cand, true
}
