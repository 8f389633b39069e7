package recommend

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/memefeed/internal/metrics"
	"github.com/hitoshi/memefeed/internal/model"
	"github.com/hitoshi/memefeed/internal/vectorindex"
)

// --- モック ---

type mockReactionRepo struct {
	listByUserFn func(ctx context.Context, userID int64) ([]model.Reaction, error)
}

func (m *mockReactionRepo) Upsert(ctx context.Context, userID, memeID int64, isLiked bool) (*model.Reaction, error) {
	return nil, nil
}
func (m *mockReactionRepo) ListByUser(ctx context.Context, userID int64) ([]model.Reaction, error) {
	if m.listByUserFn != nil {
		return m.listByUserFn(ctx, userID)
	}
	return nil, nil
}
func (m *mockReactionRepo) CountByUser(ctx context.Context, userID int64, isLiked bool) (int, error) {
	return 0, nil
}

type mockIndex struct {
	recommendFn     func(ctx context.Context, positive, negative, exclude []uint64, limit int) ([]vectorindex.ScoredPoint, error)
	scrollFn        func(ctx context.Context, exclude []uint64, limit int) ([]vectorindex.Point, error)
	recommendCalled int
	scrollCalled    int
}

func (m *mockIndex) EnsureCollection(ctx context.Context, dimension uint64) error { return nil }
func (m *mockIndex) Get(ctx context.Context, id uint64) (*vectorindex.Point, error) {
	return nil, nil
}
func (m *mockIndex) Upsert(ctx context.Context, point vectorindex.Point, vector []float32) error {
	return nil
}
func (m *mockIndex) SearchNearest(ctx context.Context, vector []float32, limit int) ([]vectorindex.ScoredPoint, error) {
	return nil, nil
}
func (m *mockIndex) Recommend(ctx context.Context, positive, negative, exclude []uint64, limit int) ([]vectorindex.ScoredPoint, error) {
	m.recommendCalled++
	if m.recommendFn != nil {
		return m.recommendFn(ctx, positive, negative, exclude, limit)
	}
	return nil, nil
}
func (m *mockIndex) Scroll(ctx context.Context, exclude []uint64, limit int) ([]vectorindex.Point, error) {
	m.scrollCalled++
	if m.scrollFn != nil {
		return m.scrollFn(ctx, exclude, limit)
	}
	return nil, nil
}
func (m *mockIndex) Delete(ctx context.Context, id uint64) error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testCollector() *metrics.Collector {
	return metrics.NewCollector(prometheus.NewRegistry())
}

func testConfig() Config {
	return Config{
		MinLikesToStart:     1,
		RandomFactorPercent: 20,
		RandomPoolSize:      50,
	}
}

func likes(memeIDs ...int64) []model.Reaction {
	reactions := make([]model.Reaction, 0, len(memeIDs))
	for _, id := range memeIDs {
		reactions = append(reactions, model.Reaction{UserID: 1, MemeID: id, IsLiked: true})
	}
	return reactions
}

// --- テスト ---

// 高評価ゼロのユーザーにはランダム探索のみ行われることを検証
func TestEngine_Recommend_ColdStartUsesRandom(t *testing.T) {
	index := &mockIndex{
		scrollFn: func(ctx context.Context, exclude []uint64, limit int) ([]vectorindex.Point, error) {
			if limit != 50 {
				t.Errorf("limit = %d, want 50", limit)
			}
			return []vectorindex.Point{{ID: 10, Path: "a.jpg"}}, nil
		},
	}

	engine := NewEngine(&mockReactionRepo{}, index, testCollector(), testLogger(), testConfig(), rand.New(rand.NewSource(1)))
	ref, err := engine.Recommend(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ref == nil {
		t.Fatal("expected non-nil recommendation")
	}
	if ref.ID != 10 {
		t.Errorf("ref.ID = %d, want 10", ref.ID)
	}
	if index.recommendCalled != 0 {
		t.Error("vector recommend should not be called for cold start user")
	}
}

// 学習済みユーザーにはベクトル推薦が行われ、評価済みIDが除外されることを検証
func TestEngine_Recommend_VectorWithExclusion(t *testing.T) {
	reactions := []model.Reaction{
		{UserID: 1, MemeID: 100, IsLiked: true},
		{UserID: 1, MemeID: 200, IsLiked: false},
	}
	repo := &mockReactionRepo{
		listByUserFn: func(ctx context.Context, userID int64) ([]model.Reaction, error) {
			return reactions, nil
		},
	}

	var gotPositive, gotNegative, gotExclude []uint64
	index := &mockIndex{
		recommendFn: func(ctx context.Context, positive, negative, exclude []uint64, limit int) ([]vectorindex.ScoredPoint, error) {
			gotPositive, gotNegative, gotExclude = positive, negative, exclude
			if limit != 1 {
				t.Errorf("limit = %d, want 1", limit)
			}
			return []vectorindex.ScoredPoint{
				{Point: vectorindex.Point{ID: 300, Path: "b.jpg"}, Score: 0.9},
			}, nil
		},
	}

	// RandomFactorPercent=0で探索ロールを無効化し、ベクトル経路を決定的にする
	cfg := testConfig()
	cfg.RandomFactorPercent = 0

	engine := NewEngine(repo, index, testCollector(), testLogger(), cfg, rand.New(rand.NewSource(1)))
	ref, err := engine.Recommend(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ref == nil || ref.ID != 300 {
		t.Fatalf("ref = %+v, want ID 300", ref)
	}
	if len(gotPositive) != 1 || gotPositive[0] != 100 {
		t.Errorf("positive = %v, want [100]", gotPositive)
	}
	if len(gotNegative) != 1 || gotNegative[0] != 200 {
		t.Errorf("negative = %v, want [200]", gotNegative)
	}
	if len(gotExclude) != 2 {
		t.Errorf("exclude = %v, want both seen IDs", gotExclude)
	}
}

// ベクトル推薦が空の場合にランダム選択へ縮退することを検証
func TestEngine_Recommend_FallbackToRandom(t *testing.T) {
	repo := &mockReactionRepo{
		listByUserFn: func(ctx context.Context, userID int64) ([]model.Reaction, error) {
			return likes(100), nil
		},
	}
	index := &mockIndex{
		recommendFn: func(ctx context.Context, positive, negative, exclude []uint64, limit int) ([]vectorindex.ScoredPoint, error) {
			return nil, nil
		},
		scrollFn: func(ctx context.Context, exclude []uint64, limit int) ([]vectorindex.Point, error) {
			return []vectorindex.Point{{ID: 11, Path: "c.jpg"}}, nil
		},
	}

	cfg := testConfig()
	cfg.RandomFactorPercent = 0

	engine := NewEngine(repo, index, testCollector(), testLogger(), cfg, rand.New(rand.NewSource(1)))
	ref, err := engine.Recommend(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ref == nil || ref.ID != 11 {
		t.Fatalf("ref = %+v, want ID 11", ref)
	}
	if index.recommendCalled != 1 {
		t.Error("vector recommend should be attempted first")
	}
	if index.scrollCalled != 1 {
		t.Error("scroll fallback should be used")
	}
}

// 候補が尽きた場合に (nil, nil) を返すことを検証
func TestEngine_Recommend_NoMemesLeft(t *testing.T) {
	index := &mockIndex{
		scrollFn: func(ctx context.Context, exclude []uint64, limit int) ([]vectorindex.Point, error) {
			return nil, nil
		},
	}

	engine := NewEngine(&mockReactionRepo{}, index, testCollector(), testLogger(), testConfig(), rand.New(rand.NewSource(1)))
	ref, err := engine.Recommend(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref != nil {
		t.Errorf("ref = %+v, want nil", ref)
	}
}

// RandomFactorPercent=100で学習済みユーザーも常にランダム探索となることを検証
func TestEngine_Recommend_FullExplorationRate(t *testing.T) {
	repo := &mockReactionRepo{
		listByUserFn: func(ctx context.Context, userID int64) ([]model.Reaction, error) {
			return likes(100, 101, 102), nil
		},
	}
	index := &mockIndex{
		scrollFn: func(ctx context.Context, exclude []uint64, limit int) ([]vectorindex.Point, error) {
			return []vectorindex.Point{{ID: 7, Path: "d.jpg"}}, nil
		},
	}

	cfg := testConfig()
	cfg.RandomFactorPercent = 100

	engine := NewEngine(repo, index, testCollector(), testLogger(), cfg, rand.New(rand.NewSource(42)))
	ref, err := engine.Recommend(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ref == nil || ref.ID != 7 {
		t.Fatalf("ref = %+v, want ID 7", ref)
	}
	if index.recommendCalled != 0 {
		t.Error("vector recommend should never run at 100% exploration")
	}
}

// リアクション取得失敗がSTORE_UNAVAILABLEとして分類されることを検証
func TestEngine_Recommend_StoreError(t *testing.T) {
	repo := &mockReactionRepo{
		listByUserFn: func(ctx context.Context, userID int64) ([]model.Reaction, error) {
			return nil, errors.New("postgres down")
		},
	}

	engine := NewEngine(repo, &mockIndex{}, testCollector(), testLogger(), testConfig(), rand.New(rand.NewSource(1)))
	_, err := engine.Recommend(context.Background(), 1)
	if err == nil {
		t.Fatal("expected error from reaction store failure")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Code != model.ErrCodeStoreUnavailable {
		t.Errorf("apiErr.Code = %q, want %q", apiErr.Code, model.ErrCodeStoreUnavailable)
	}
}

// インデックス障害がINDEX_UNAVAILABLEとして分類されることを検証
func TestEngine_Recommend_IndexUnavailable(t *testing.T) {
	repo := &mockReactionRepo{
		listByUserFn: func(ctx context.Context, userID int64) ([]model.Reaction, error) {
			return []model.Reaction{{UserID: 1, MemeID: 10, IsLiked: true}}, nil
		},
	}
	index := &mockIndex{
		recommendFn: func(ctx context.Context, positive, negative, exclude []uint64, limit int) ([]vectorindex.ScoredPoint, error) {
			return nil, errors.New("qdrant down")
		},
	}

	cfg := testConfig()
	cfg.MinLikesToStart = 1
	cfg.RandomFactorPercent = 0 // 常にベクトル推薦経路を使う

	engine := NewEngine(repo, index, testCollector(), testLogger(), cfg, rand.New(rand.NewSource(1)))
	_, err := engine.Recommend(context.Background(), 1)

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Code != model.ErrCodeIndexUnavailable {
		t.Errorf("apiErr.Code = %q, want %q", apiErr.Code, model.ErrCodeIndexUnavailable)
	}
}
