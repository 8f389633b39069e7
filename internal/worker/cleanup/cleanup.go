// Package cleanup はインデックスの自動整合ジョブを提供する。
// 画像ファイルが失われたポイントをベクトルインデックスから退避し、
// 推薦・検索が存在しないファイルを返さない状態を維持する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/memefeed/internal/metrics"
	"github.com/hitoshi/memefeed/internal/storage"
	"github.com/hitoshi/memefeed/internal/vectorindex"
)

// defaultBatchSize はインデックス走査の1回あたりの取得件数。
const defaultBatchSize = 200

// EvictionJob はファイル欠損ポイントの退避ジョブ。
// 定期実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type EvictionJob struct {
	index     vectorindex.Index
	store     storage.MediaStore
	collector metrics.MetricsCollector
	logger    *slog.Logger
	BatchSize int // 走査バッチの大きさ（デフォルト: 200）
}

// NewEvictionJob は新しいEvictionJobを生成する。
func NewEvictionJob(
	index vectorindex.Index,
	store storage.MediaStore,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *EvictionJob {
	return &EvictionJob{
		index:     index,
		store:     store,
		collector: collector,
		logger:    logger,
		BatchSize: defaultBatchSize,
	}
}

// Start は指定間隔のティッカーでジョブを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *EvictionJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("インデックス整合ジョブを開始しました",
		slog.Duration("interval", interval),
	)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("インデックス整合ジョブを停止しました")
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("インデックス整合ジョブの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Run はインデックス全体を走査し、ファイルが欠損したポイントを削除する。
// 走査は既読IDの除外による逐次バッチで行う。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *EvictionJob) Run(ctx context.Context) error {
	start := time.Now()

	var scanned []uint64
	evicted := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		batch, err := j.index.Scroll(ctx, scanned, j.BatchSize)
		if err != nil {
			return fmt.Errorf("インデックスの走査に失敗しました: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		for _, point := range batch {
			scanned = append(scanned, point.ID)

			if j.store.Exists(point.Path) {
				continue
			}

			if err := j.index.Delete(ctx, point.ID); err != nil {
				return fmt.Errorf("欠損ポイントの削除に失敗しました: %w", err)
			}
			evicted++
			j.logger.Warn("ファイルが欠損したポイントを退避しました",
				slog.Uint64("meme_id", point.ID),
				slog.String("path", point.Path),
			)
		}
	}

	if evicted > 0 {
		j.collector.RecordIndexEviction(evicted)
	}

	duration := time.Since(start)
	j.logger.Info("インデックス整合ジョブが完了しました",
		slog.Int("scanned_count", len(scanned)),
		slog.Int("evicted_count", evicted),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
