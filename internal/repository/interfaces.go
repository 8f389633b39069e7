// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/memefeed/internal/model"
)

// ReactionRepository はユーザーのミーム評価の永続化インターフェース。
// リアクションストアはユーザーフィードバックの単一の信頼できる情報源であり、
// 取り込み済み判定には使用しない（それはIngestLedgerRepositoryの責務）。
type ReactionRepository interface {
	// Upsert はリアクションを冪等にUPSERTする。
	// (userID, memeID) の組につき1件のみ保持し、再評価時はis_likedを上書きする。
	Upsert(ctx context.Context, userID, memeID int64, isLiked bool) (*model.Reaction, error)

	// ListByUser は指定ユーザーの全リアクションを返す。
	ListByUser(ctx context.Context, userID int64) ([]model.Reaction, error)

	// CountByUser は指定ユーザーのリアクション数をis_likedの値別に返す。
	CountByUser(ctx context.Context, userID int64, isLiked bool) (int, error)
}

// IngestLedgerRepository は処理済みソースのレジャー（取り込み台帳）の永続化インターフェース。
// パイプラインが同一ソースの再処理を短絡するために使用する。
type IngestLedgerRepository interface {
	// Exists は指定ミームIDのレジャーエントリが存在するかを返す。
	Exists(ctx context.Context, memeID int64) (bool, error)

	// Record はレジャーエントリを記録する。
	// 同一ミームIDのエントリが既に存在する場合は何もしない（冪等）。
	Record(ctx context.Context, entry *model.IngestedSource) error
}
