// Package reaction はユーザーのミーム評価を管理するサービスを提供する。
package reaction

import (
	"context"
	"log/slog"

	"github.com/hitoshi/memefeed/internal/model"
	"github.com/hitoshi/memefeed/internal/repository"
	"github.com/hitoshi/memefeed/internal/vectorindex"
)

// Stats はユーザーの評価実績の集計値。
type Stats struct {
	Total    int `json:"total"`
	Likes    int `json:"likes"`
	Dislikes int `json:"dislikes"`
}

// Service はリアクションの登録と集計を行う。
type Service struct {
	reactions repository.ReactionRepository
	index     vectorindex.Index
	logger    *slog.Logger
}

// NewService はServiceを生成する。
func NewService(reactions repository.ReactionRepository, index vectorindex.Index, logger *slog.Logger) *Service {
	return &Service{
		reactions: reactions,
		index:     index,
		logger:    logger,
	}
}

// AddReaction はユーザーの評価を記録する。同一ミームへの再評価は上書きとなる。
// インデックスに存在しないミームIDへの評価はAPIErrorとして拒否する。
func (s *Service) AddReaction(ctx context.Context, userID, memeID int64, isLiked bool) (*model.Reaction, error) {
	point, err := s.index.Get(ctx, uint64(memeID))
	if err != nil {
		s.logger.Error("ミームの存在確認に失敗しました",
			slog.Int64("meme_id", memeID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewIndexUnavailableError()
	}
	if point == nil {
		return nil, model.NewMemeNotFoundError(uint64(memeID))
	}

	reaction, err := s.reactions.Upsert(ctx, userID, memeID, isLiked)
	if err != nil {
		s.logger.Error("リアクションの登録に失敗しました",
			slog.Int64("user_id", userID),
			slog.Int64("meme_id", memeID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewStoreUnavailableError()
	}

	s.logger.Info("リアクションを記録しました",
		slog.Int64("user_id", userID),
		slog.Int64("meme_id", memeID),
		slog.Bool("is_liked", isLiked),
	)
	return reaction, nil
}

// GetStats はユーザーの評価実績を集計して返す。
func (s *Service) GetStats(ctx context.Context, userID int64) (*Stats, error) {
	likes, err := s.reactions.CountByUser(ctx, userID, true)
	if err != nil {
		s.logger.Error("高評価数の取得に失敗しました",
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewStoreUnavailableError()
	}

	dislikes, err := s.reactions.CountByUser(ctx, userID, false)
	if err != nil {
		s.logger.Error("低評価数の取得に失敗しました",
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewStoreUnavailableError()
	}

	return &Stats{
		Total:    likes + dislikes,
		Likes:    likes,
		Dislikes: dislikes,
	}, nil
}
