package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"plantai/internal/predict"
)

// ErrNotFound は指定したIDの履歴がないことを表す
var ErrNotFound = errors.New("履歴が見つかりません")

// DefaultLimit は件数を指定しないときに返す履歴の数
const DefaultLimit = 20

// MaxLimit は一度に返す履歴の上限
const MaxLimit = 200

var _ predict.Recorder = (*Store)(nil)

// Store は推定結果の履歴を保存する
type Store struct {
	db *sql.DB
}

// NewStore は新しいStoreを作成する
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record は推定結果を保存する
func (s *Store) Record(ctx context.Context, p predict.Prediction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO predictions (id, source, image_path, class, label, cause, cure, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, string(p.Source), p.ImagePath, p.Class,
		p.Label.Name, p.Label.Cause, p.Label.Cure,
		float64(p.Confidence), p.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("履歴の保存に失敗: %w", err)
	}
	return nil
}

// List は新しい順に履歴を返す
func (s *Store) List(ctx context.Context, limit int) ([]predict.Prediction, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, image_path, class, label, cause, cure, confidence, created_at
		FROM predictions
		ORDER BY created_at DESC, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("履歴の取得に失敗: %w", err)
	}
	defer rows.Close()

	out := []predict.Prediction{}
	for rows.Next() {
		p, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Get はIDを指定して履歴を返す
func (s *Store) Get(ctx context.Context, id string) (predict.Prediction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, image_path, class, label, cause, cure, confidence, created_at
		FROM predictions WHERE id = ?`, id)

	p, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return predict.Prediction{}, ErrNotFound
	}
	return p, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(r scanner) (predict.Prediction, error) {
	var (
		p          predict.Prediction
		source     string
		confidence float64
		createdAt  int64
	)
	if err := r.Scan(&p.ID, &source, &p.ImagePath, &p.Class,
		&p.Label.Name, &p.Label.Cause, &p.Label.Cure, &confidence, &createdAt); err != nil {
		return predict.Prediction{}, err
	}
	p.Source = predict.Source(source)
	p.Confidence = float32(confidence)
	p.CreatedAt = time.UnixMilli(createdAt).UTC()
	return p, nil
}
