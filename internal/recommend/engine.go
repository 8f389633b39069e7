// Package recommend はユーザーごとのミーム推薦エンジンを提供する。
// 学習初期はランダム探索、フィードバック蓄積後はベクトル検索に
// 確率的に切り替えるコールドスタート戦略を実装する。
package recommend

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/hitoshi/memefeed/internal/metrics"
	"github.com/hitoshi/memefeed/internal/model"
	"github.com/hitoshi/memefeed/internal/repository"
	"github.com/hitoshi/memefeed/internal/vectorindex"
)

// 推薦戦略のメトリクスラベル。
const (
	strategyRandom         = "random"
	strategyVector         = "vector"
	strategyRandomFallback = "random_fallback"
)

// Config は推薦エンジンの動作パラメータ。
type Config struct {
	// MinLikesToStart はベクトル推薦を開始するのに必要な高評価数。
	// これ未満のユーザーは常にランダム探索となる。
	MinLikesToStart int

	// RandomFactorPercent は学習済みユーザーでもランダム探索を行う確率（0〜100）。
	// 嗜好の固定化を防ぐための探索成分。
	RandomFactorPercent int

	// RandomPoolSize はランダム選択時に走査する候補プールの大きさ。
	RandomPoolSize int
}

// Engine はユーザーごとのミーム推薦エンジン。
type Engine struct {
	reactions repository.ReactionRepository
	index     vectorindex.Index
	collector metrics.MetricsCollector
	logger    *slog.Logger
	cfg       Config

	// rngはテストで決定的に差し替え可能。mathのrand.Randは並行安全でないためmuで保護する
	mu  sync.Mutex
	rng *rand.Rand
}

// NewEngine はEngineを生成する。rngは呼び出し側がシードを与えて生成する。
func NewEngine(
	reactions repository.ReactionRepository,
	index vectorindex.Index,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	cfg Config,
	rng *rand.Rand,
) *Engine {
	return &Engine{
		reactions: reactions,
		index:     index,
		collector: collector,
		logger:    logger,
		cfg:       cfg,
		rng:       rng,
	}
}

// Recommend はユーザーに次のミームを1件推薦する。
// 評価済みのミームは再提示しない。候補が尽きた場合は (nil, nil) を返す。
func (e *Engine) Recommend(ctx context.Context, userID int64) (*model.MemeRef, error) {
	reactions, err := e.reactions.ListByUser(ctx, userID)
	if err != nil {
		e.logger.Error("リアクション一覧の取得に失敗しました",
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewStoreUnavailableError()
	}
	prefs := model.NewPreference(reactions)

	if len(prefs.Liked) < e.cfg.MinLikesToStart || e.rollExploration() {
		return e.recommendRandom(ctx, prefs.Seen, strategyRandom)
	}

	results, err := e.index.Recommend(ctx, prefs.Liked, prefs.Disliked, prefs.Seen, 1)
	if err != nil {
		e.logger.Error("推薦検索に失敗しました",
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewIndexUnavailableError()
	}
	if len(results) == 0 {
		// ベクトル推薦が候補を返せない場合はランダム選択に縮退する
		return e.recommendRandom(ctx, prefs.Seen, strategyRandomFallback)
	}

	e.collector.RecordRecommendation(strategyVector)
	e.logger.Debug("ベクトル推薦を返します",
		slog.Int64("user_id", userID),
		slog.Uint64("meme_id", results[0].ID),
		slog.Float64("score", float64(results[0].Score)),
	)
	return &model.MemeRef{ID: results[0].ID, Path: results[0].Path}, nil
}

// rollExploration はランダム探索を行うかを確率的に決定する。
func (e *Engine) rollExploration() bool {
	if e.cfg.RandomFactorPercent <= 0 {
		return false
	}

	e.mu.Lock()
	roll := e.rng.Intn(100) + 1 // 1〜100
	e.mu.Unlock()

	return roll <= e.cfg.RandomFactorPercent
}

// recommendRandom は未評価の候補プールから一様ランダムに1件選ぶ。
func (e *Engine) recommendRandom(ctx context.Context, exclude []uint64, strategy string) (*model.MemeRef, error) {
	points, err := e.index.Scroll(ctx, exclude, e.cfg.RandomPoolSize)
	if err != nil {
		e.logger.Error("候補プールの走査に失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, model.NewIndexUnavailableError()
	}
	if len(points) == 0 {
		return nil, nil
	}

	e.mu.Lock()
	picked := points[e.rng.Intn(len(points))]
	e.mu.Unlock()

	e.collector.RecordRecommendation(strategy)
	return &model.MemeRef{ID: picked.ID, Path: picked.Path}, nil
}
