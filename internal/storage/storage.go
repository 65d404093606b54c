// Package storage はアップロード画像とキャプチャ画像を保存する
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidName は保存先の外を指すファイル名を表す
var ErrInvalidName = errors.New("無効なファイル名")

// Store はディレクトリに画像を保存する
type Store struct {
	dir string
}

// New は保存先ディレクトリを作成してStoreを返す
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("保存先の作成に失敗: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir は保存先ディレクトリを返す
func (s *Store) Dir() string {
	return s.dir
}

// tempName は temp_<32桁の16進数>_<suffix> を返す
func tempName(suffix string) string {
	return "temp_" + strings.ReplaceAll(uuid.NewString(), "-", "") + "_" + suffix
}

// SaveUpload はアップロードされた画像を保存し、保存先のファイル名を返す
// クライアントが送ったファイル名はディレクトリ部分を取り除いて使う
func (s *Store) SaveUpload(filename string, r io.Reader) (string, error) {
	base := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(filename, "\\", "/")))
	if base == "/" || base == "." || base == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, filename)
	}
	name := tempName(base)

	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("ファイルの作成に失敗: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("ファイルの書き込みに失敗: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("ファイルのクローズに失敗: %w", err)
	}
	return name, nil
}

// SaveCapture はキャプチャしたJPEGを保存し、保存先のファイル名を返す
func (s *Store) SaveCapture(jpeg []byte) (string, error) {
	name := tempName("capture.jpg")
	if err := os.WriteFile(filepath.Join(s.dir, name), jpeg, 0o644); err != nil {
		return "", fmt.Errorf("キャプチャの保存に失敗: %w", err)
	}
	return name, nil
}

// Path は保存済みファイルのパスを返す
// 保存先の外を指す名前は ErrInvalidName になる
func (s *Store) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == ".." || name == "." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.dir, name), nil
}
