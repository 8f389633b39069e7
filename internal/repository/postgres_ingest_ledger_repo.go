package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/memefeed/internal/model"
)

// PostgresIngestLedgerRepo はPostgreSQLを使用した取り込み台帳リポジトリ。
type PostgresIngestLedgerRepo struct {
	db *sql.DB
}

// NewPostgresIngestLedgerRepo はPostgresIngestLedgerRepoを生成する。
func NewPostgresIngestLedgerRepo(db *sql.DB) *PostgresIngestLedgerRepo {
	return &PostgresIngestLedgerRepo{db: db}
}

// Exists は指定ミームIDのレジャーエントリが存在するかを返す。
func (r *PostgresIngestLedgerRepo) Exists(ctx context.Context, memeID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM ingested_sources WHERE meme_id = $1)`,
		memeID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("取り込み台帳の照会に失敗しました: %w", err)
	}

	return exists, nil
}

// Record はレジャーエントリを記録する。
// 重複判定でスキップしたソースもstatus='duplicate'として記録し、
// 再クロール時の再ダウンロードを防ぐ。
func (r *PostgresIngestLedgerRepo) Record(ctx context.Context, entry *model.IngestedSource) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO ingested_sources (meme_id, source_id, source_type, channel_id, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (meme_id) DO NOTHING`,
		entry.MemeID, entry.SourceID, entry.SourceType, entry.ChannelID, entry.Status, createdAt,
	)
	if err != nil {
		return fmt.Errorf("取り込み台帳の記録に失敗しました: %w", err)
	}

	return nil
}

// compile-time interface check
var _ IngestLedgerRepository = (*PostgresIngestLedgerRepo)(nil)
