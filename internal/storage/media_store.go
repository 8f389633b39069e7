// Package storage はダウンロードしたミーム画像のファイル保管を提供する。
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MediaStore はミーム画像ファイルの保管インターフェース。
// パスはすべてストアルートからの相対パスで表現する。
type MediaStore interface {
	// Save は書き込みコールバックを実行してファイルを保存し、相対パスを返す。
	// コールバックが失敗した場合は書きかけのファイルを削除する。
	Save(extension string, write func(w io.Writer) error) (string, error)

	// Open は指定パスのファイルを読み取り用に開く。
	Open(path string) (io.ReadCloser, error)

	// Exists は指定パスのファイルが存在するかを返す。
	Exists(path string) bool

	// Remove は指定パスのファイルを削除する。存在しない場合は何もしない。
	Remove(path string) error
}

// LocalMediaStore はローカルファイルシステム上のMediaStore実装。
// ファイルは {ルート}/{日付}/{UUID}{拡張子} に配置される。
type LocalMediaStore struct {
	baseDir string
	// now はテスト用に差し替え可能な現在時刻取得関数
	now func() time.Time
}

// NewLocalMediaStore はLocalMediaStoreを生成する。ルートディレクトリがなければ作成する。
func NewLocalMediaStore(baseDir string) (*LocalMediaStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("保管ディレクトリの作成に失敗しました: %w", err)
	}

	return &LocalMediaStore{
		baseDir: baseDir,
		now:     time.Now,
	}, nil
}

// Save は書き込みコールバックを実行してファイルを保存し、相対パスを返す。
func (s *LocalMediaStore) Save(extension string, write func(w io.Writer) error) (string, error) {
	dateDir := s.now().UTC().Format("2006-01-02")
	if err := os.MkdirAll(filepath.Join(s.baseDir, dateDir), 0o755); err != nil {
		return "", fmt.Errorf("日付ディレクトリの作成に失敗しました: %w", err)
	}

	relPath := filepath.Join(dateDir, uuid.New().String()+extension)
	fullPath := filepath.Join(s.baseDir, relPath)

	f, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("ファイルの作成に失敗しました: %w", err)
	}

	if err := write(f); err != nil {
		f.Close()
		os.Remove(fullPath)
		return "", fmt.Errorf("ファイルの書き込みに失敗しました: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(fullPath)
		return "", fmt.Errorf("ファイルのクローズに失敗しました: %w", err)
	}

	return relPath, nil
}

// Open は指定パスのファイルを読み取り用に開く。
func (s *LocalMediaStore) Open(path string) (io.ReadCloser, error) {
	fullPath, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("ファイルのオープンに失敗しました: %w", err)
	}

	return f, nil
}

// Exists は指定パスのファイルが存在するかを返す。
func (s *LocalMediaStore) Exists(path string) bool {
	fullPath, err := s.resolve(path)
	if err != nil {
		return false
	}

	info, err := os.Stat(fullPath)
	return err == nil && !info.IsDir()
}

// Remove は指定パスのファイルを削除する。存在しない場合は何もしない。
func (s *LocalMediaStore) Remove(path string) error {
	fullPath, err := s.resolve(path)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ファイルの削除に失敗しました: %w", err)
	}

	return nil
}

// resolve は相対パスをルート配下の絶対パスに解決する。
// ルート外へのパストラバーサルは拒否する。
func (s *LocalMediaStore) resolve(path string) (string, error) {
	cleaned := filepath.Clean(path)
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("不正なファイルパスです: %s", path)
	}

	return filepath.Join(s.baseDir, cleaned), nil
}

// compile-time interface check
var _ MediaStore = (*LocalMediaStore)(nil)
