// Package search はテキストによるミーム検索を提供する。
// クエリを画像と同一のベクトル空間に埋め込み、類似度で検索する。
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/memefeed/internal/embedding"
	"github.com/hitoshi/memefeed/internal/model"
	"github.com/hitoshi/memefeed/internal/storage"
	"github.com/hitoshi/memefeed/internal/vectorindex"
)

// MinScore はテキスト検索で採用する最小の類似度。
// これ以下のスコアはクエリと無関係とみなして除外する。
const MinScore = 0.19

// DefaultLimit は検索結果の既定の最大件数。
const DefaultLimit = 10

// Service はテキスト検索サービス。
type Service struct {
	embedder   embedding.Embedder
	index      vectorindex.Index
	store      storage.MediaStore
	translator Translator
	logger     *slog.Logger
}

// NewService はServiceを生成する。
func NewService(
	embedder embedding.Embedder,
	index vectorindex.Index,
	store storage.MediaStore,
	translator Translator,
	logger *slog.Logger,
) *Service {
	return &Service{
		embedder:   embedder,
		index:      index,
		store:      store,
		translator: translator,
		logger:     logger,
	}
}

// Search はクエリに類似するミームをスコア降順で返す。
// 翻訳失敗時は原文クエリで検索を続行する。
// ファイルが欠損しているエントリは結果から除外する。
func (s *Service) Search(ctx context.Context, query string, limit int) ([]model.ScoredMemeRef, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, model.NewInvalidQueryError()
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	translated, err := s.translator.Translate(ctx, query)
	if err != nil {
		s.logger.Warn("クエリの翻訳に失敗したため原文で検索します",
			slog.String("query", query),
			slog.String("error", err.Error()),
		)
		translated = query
	}

	vector, err := s.embedder.EmbedText(ctx, translated)
	if err != nil {
		return nil, fmt.Errorf("クエリの埋め込み生成に失敗しました: %w", err)
	}

	points, err := s.index.SearchNearest(ctx, vector, limit)
	if err != nil {
		s.logger.Error("類似検索に失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, model.NewIndexUnavailableError()
	}

	results := make([]model.ScoredMemeRef, 0, len(points))
	for _, p := range points {
		if p.Score <= MinScore {
			continue
		}
		if !s.store.Exists(p.Path) {
			s.logger.Warn("ファイルが欠損したミームを検索結果から除外します",
				slog.Uint64("meme_id", p.ID),
				slog.String("path", p.Path),
			)
			continue
		}
		results = append(results, model.ScoredMemeRef{
			MemeRef: model.MemeRef{ID: p.ID, Path: p.Path},
			Score:   p.Score,
		})
	}

	return results, nil
}
