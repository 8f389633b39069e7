package search

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/hitoshi/memefeed/internal/model"
	"github.com/hitoshi/memefeed/internal/vectorindex"
)

// --- モック ---

type mockEmbedder struct {
	embedTextFn func(ctx context.Context, text string) ([]float32, error)
}

func (m *mockEmbedder) EmbedImage(ctx context.Context, data []byte) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}
func (m *mockEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if m.embedTextFn != nil {
		return m.embedTextFn(ctx, text)
	}
	return []float32{1, 0, 0}, nil
}
func (m *mockEmbedder) Dimension() uint64 { return 3 }

type mockIndex struct {
	searchNearestFn func(ctx context.Context, vector []float32, limit int) ([]vectorindex.ScoredPoint, error)
}

func (m *mockIndex) EnsureCollection(ctx context.Context, dimension uint64) error { return nil }
func (m *mockIndex) Get(ctx context.Context, id uint64) (*vectorindex.Point, error) {
	return nil, nil
}
func (m *mockIndex) Upsert(ctx context.Context, point vectorindex.Point, vector []float32) error {
	return nil
}
func (m *mockIndex) SearchNearest(ctx context.Context, vector []float32, limit int) ([]vectorindex.ScoredPoint, error) {
	if m.searchNearestFn != nil {
		return m.searchNearestFn(ctx, vector, limit)
	}
	return nil, nil
}
func (m *mockIndex) Recommend(ctx context.Context, positive, negative, exclude []uint64, limit int) ([]vectorindex.ScoredPoint, error) {
	return nil, nil
}
func (m *mockIndex) Scroll(ctx context.Context, exclude []uint64, limit int) ([]vectorindex.Point, error) {
	return nil, nil
}
func (m *mockIndex) Delete(ctx context.Context, id uint64) error { return nil }

type mockStore struct {
	missing map[string]bool
}

func (m *mockStore) Save(extension string, write func(w io.Writer) error) (string, error) {
	return "", nil
}
func (m *mockStore) Open(path string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}
func (m *mockStore) Exists(path string) bool { return !m.missing[path] }
func (m *mockStore) Remove(path string) error {
	return nil
}

type mockTranslator struct {
	translateFn func(ctx context.Context, text string) (string, error)
}

func (m *mockTranslator) Translate(ctx context.Context, text string) (string, error) {
	if m.translateFn != nil {
		return m.translateFn(ctx, text)
	}
	return text, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func scored(id uint64, path string, score float32) vectorindex.ScoredPoint {
	return vectorindex.ScoredPoint{
		Point: vectorindex.Point{ID: id, Path: path},
		Score: score,
	}
}

// --- テスト ---

// 翻訳後のクエリで埋め込みが生成されることを検証
func TestService_Search_TranslatesQuery(t *testing.T) {
	translator := &mockTranslator{
		translateFn: func(ctx context.Context, text string) (string, error) {
			if text != "面白い猫" {
				t.Errorf("translate input = %q, want %q", text, "面白い猫")
			}
			return "funny cat", nil
		},
	}

	var embeddedText string
	embedder := &mockEmbedder{
		embedTextFn: func(ctx context.Context, text string) ([]float32, error) {
			embeddedText = text
			return []float32{1, 0, 0}, nil
		},
	}
	index := &mockIndex{
		searchNearestFn: func(ctx context.Context, vector []float32, limit int) ([]vectorindex.ScoredPoint, error) {
			return []vectorindex.ScoredPoint{scored(1, "a.jpg", 0.5)}, nil
		},
	}

	service := NewService(embedder, index, &mockStore{}, translator, testLogger())
	results, err := service.Search(context.Background(), "面白い猫", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if embeddedText != "funny cat" {
		t.Errorf("embedded text = %q, want %q", embeddedText, "funny cat")
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
}

// 翻訳失敗時に原文クエリで検索が続行されることを検証
func TestService_Search_TranslationFailureDegrades(t *testing.T) {
	translator := &mockTranslator{
		translateFn: func(ctx context.Context, text string) (string, error) {
			return "", errors.New("translate service down")
		},
	}

	var embeddedText string
	embedder := &mockEmbedder{
		embedTextFn: func(ctx context.Context, text string) ([]float32, error) {
			embeddedText = text
			return []float32{1, 0, 0}, nil
		},
	}
	index := &mockIndex{
		searchNearestFn: func(ctx context.Context, vector []float32, limit int) ([]vectorindex.ScoredPoint, error) {
			return []vectorindex.ScoredPoint{scored(1, "a.jpg", 0.5)}, nil
		},
	}

	service := NewService(embedder, index, &mockStore{}, translator, testLogger())
	results, err := service.Search(context.Background(), "面白い猫", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if embeddedText != "面白い猫" {
		t.Errorf("embedded text = %q, want original query", embeddedText)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
}

// 最小スコア以下の結果が除外されることを検証
func TestService_Search_FiltersLowScores(t *testing.T) {
	index := &mockIndex{
		searchNearestFn: func(ctx context.Context, vector []float32, limit int) ([]vectorindex.ScoredPoint, error) {
			return []vectorindex.ScoredPoint{
				scored(1, "a.jpg", 0.5),
				scored(2, "b.jpg", 0.19),
				scored(3, "c.jpg", 0.05),
			}, nil
		},
	}

	service := NewService(&mockEmbedder{}, index, &mockStore{}, &mockTranslator{}, testLogger())
	results, err := service.Search(context.Background(), "cat", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if results[0].ID != 1 {
		t.Errorf("results[0].ID = %d, want 1", results[0].ID)
	}
}

// ファイル欠損エントリが除外されることを検証
func TestService_Search_DropsMissingFiles(t *testing.T) {
	index := &mockIndex{
		searchNearestFn: func(ctx context.Context, vector []float32, limit int) ([]vectorindex.ScoredPoint, error) {
			return []vectorindex.ScoredPoint{
				scored(1, "a.jpg", 0.6),
				scored(2, "missing.jpg", 0.5),
			}, nil
		},
	}
	store := &mockStore{missing: map[string]bool{"missing.jpg": true}}

	service := NewService(&mockEmbedder{}, index, store, &mockTranslator{}, testLogger())
	results, err := service.Search(context.Background(), "cat", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if results[0].ID != 1 {
		t.Errorf("results[0].ID = %d, want 1", results[0].ID)
	}
}

// 空クエリがAPIErrorとして拒否されることを検証
func TestService_Search_EmptyQuery(t *testing.T) {
	service := NewService(&mockEmbedder{}, &mockIndex{}, &mockStore{}, &mockTranslator{}, testLogger())

	_, err := service.Search(context.Background(), "   ", 10)
	if err == nil {
		t.Fatal("expected error for empty query")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Code != "INVALID_QUERY" {
		t.Errorf("apiErr.Code = %q, want %q", apiErr.Code, "INVALID_QUERY")
	}
}

// インデックス障害がINDEX_UNAVAILABLEとして分類されることを検証
func TestService_Search_IndexUnavailable(t *testing.T) {
	index := &mockIndex{
		searchNearestFn: func(ctx context.Context, vector []float32, limit int) ([]vectorindex.ScoredPoint, error) {
			return nil, errors.New("qdrant down")
		},
	}

	service := NewService(&mockEmbedder{}, index, &mockStore{}, &mockTranslator{}, testLogger())
	_, err := service.Search(context.Background(), "cat", 10)

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Code != model.ErrCodeIndexUnavailable {
		t.Errorf("apiErr.Code = %q, want %q", apiErr.Code, model.ErrCodeIndexUnavailable)
	}
}
