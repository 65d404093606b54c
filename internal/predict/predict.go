// Package predict は葉の画像から病気のクラスを推定する
package predict

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Classification は分類器の出力
type Classification struct {
	Class      int
	Confidence float32
}

// Classifier は画像ファイルを分類する
type Classifier interface {
	Classify(ctx context.Context, imagePath string) (Classification, error)
}

// Source は画像の入手元
type Source string

const (
	SourceUpload  Source = "upload"
	SourceCapture Source = "capture"
)

// Prediction は1回の推定結果
type Prediction struct {
	ID         string    `json:"id"`
	Source     Source    `json:"source"`
	ImagePath  string    `json:"image_path"`
	Class      int       `json:"class"`
	Label      Label     `json:"label"`
	Confidence float32   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// Recorder は推定結果を保存する
type Recorder interface {
	Record(ctx context.Context, p Prediction) error
}

// Publisher は推定結果を通知する
type Publisher interface {
	PublishPrediction(p Prediction) error
}

// Service は分類、ラベル付け、記録、通知をまとめる
type Service struct {
	classifier Classifier
	labels     Labels
	recorder   Recorder
	publisher  Publisher
	logger     *zap.Logger
}

// NewService は新しいServiceを作成する。recorder と publisher は nil でもよい
func NewService(classifier Classifier, labels Labels, recorder Recorder, publisher Publisher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		classifier: classifier,
		labels:     labels,
		recorder:   recorder,
		publisher:  publisher,
		logger:     logger,
	}
}

// Predict は画像を分類して結果を返す
// 記録と通知の失敗はログに残すだけで、結果は返す
func (s *Service) Predict(ctx context.Context, imagePath string, source Source) (Prediction, error) {
	start := time.Now()

	c, err := s.classifier.Classify(ctx, imagePath)
	if err != nil {
		return Prediction{}, fmt.Errorf("画像の分類に失敗: %w", err)
	}

	label, err := s.labels.Lookup(c.Class)
	if err != nil {
		return Prediction{}, err
	}

	p := Prediction{
		ID:         uuid.NewString(),
		Source:     source,
		ImagePath:  imagePath,
		Class:      c.Class,
		Label:      label,
		Confidence: c.Confidence,
		CreatedAt:  time.Now().UTC(),
	}

	s.logger.Info("推定が完了しました",
		zap.String("id", p.ID),
		zap.String("source", string(source)),
		zap.String("label", label.Name),
		zap.Float32("confidence", c.Confidence),
		zap.Duration("elapsed", time.Since(start)))

	if s.recorder != nil {
		if err := s.recorder.Record(ctx, p); err != nil {
			s.logger.Warn("推定結果の保存に失敗しました", zap.String("id", p.ID), zap.Error(err))
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishPrediction(p); err != nil {
			s.logger.Warn("推定結果の通知に失敗しました", zap.String("id", p.ID), zap.Error(err))
		}
	}

	return p, nil
}

// StaticClassifier は常に同じ結果を返すテスト用の分類器
type StaticClassifier struct {
	Result Classification
	Err    error
}

// Classify は固定の結果を返す
func (s StaticClassifier) Classify(_ context.Context, _ string) (Classification, error) {
	return s.Result, s.Err
}
