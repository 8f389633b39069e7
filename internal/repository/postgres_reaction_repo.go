package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/memefeed/internal/model"
)

// PostgresReactionRepo はPostgreSQLを使用したリアクションリポジトリ。
type PostgresReactionRepo struct {
	db *sql.DB
}

// NewPostgresReactionRepo はPostgresReactionRepoを生成する。
func NewPostgresReactionRepo(db *sql.DB) *PostgresReactionRepo {
	return &PostgresReactionRepo{db: db}
}

// Upsert はリアクションを冪等にUPSERTする。
// UNIQUE(user_id, meme_id)制約を利用したINSERT ON CONFLICTで実装する。
// 既存行がある場合はis_likedとupdated_atのみ更新し、created_atは維持する。
func (r *PostgresReactionRepo) Upsert(ctx context.Context, userID, memeID int64, isLiked bool) (*model.Reaction, error) {
	now := time.Now().UTC()

	reaction := &model.Reaction{
		UserID:  userID,
		MemeID:  memeID,
		IsLiked: isLiked,
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO reactions (id, user_id, meme_id, is_liked, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (user_id, meme_id) DO UPDATE SET
		     is_liked = EXCLUDED.is_liked,
		     updated_at = EXCLUDED.updated_at
		 RETURNING created_at, updated_at`,
		uuid.New().String(), userID, memeID, isLiked, now,
	).Scan(&reaction.CreatedAt, &reaction.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("リアクションのUPSERTに失敗しました: %w", err)
	}

	return reaction, nil
}

// ListByUser は指定ユーザーの全リアクションを返す。
func (r *PostgresReactionRepo) ListByUser(ctx context.Context, userID int64) ([]model.Reaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, meme_id, is_liked, created_at, updated_at
		 FROM reactions WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("リアクション一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var reactions []model.Reaction
	for rows.Next() {
		var reaction model.Reaction
		if err := rows.Scan(
			&reaction.UserID, &reaction.MemeID, &reaction.IsLiked,
			&reaction.CreatedAt, &reaction.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("リアクション行のスキャンに失敗しました: %w", err)
		}
		reactions = append(reactions, reaction)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("リアクション一覧の読み取りに失敗しました: %w", err)
	}

	return reactions, nil
}

// CountByUser は指定ユーザーのリアクション数をis_likedの値別に返す。
func (r *PostgresReactionRepo) CountByUser(ctx context.Context, userID int64, isLiked bool) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reactions WHERE user_id = $1 AND is_liked = $2`,
		userID, isLiked,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("リアクション数の取得に失敗しました: %w", err)
	}

	return count, nil
}

// compile-time interface check
var _ ReactionRepository = (*PostgresReactionRepo)(nil)
