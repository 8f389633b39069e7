// Package ingest はミーム候補の取り込みパイプラインを提供する。
// ダウンロード、埋め込み生成、重複判定、インデックス登録を直列に実行する。
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hitoshi/memefeed/internal/embedding"
	"github.com/hitoshi/memefeed/internal/metrics"
	"github.com/hitoshi/memefeed/internal/model"
	"github.com/hitoshi/memefeed/internal/repository"
	"github.com/hitoshi/memefeed/internal/storage"
	"github.com/hitoshi/memefeed/internal/vectorindex"
)

// DuplicateThreshold は視覚的重複と判定するコサイン類似度のしきい値。
// このしきい値を超えた（等しい場合は含まない）候補を重複として破棄する。
const DuplicateThreshold = 0.98

// Pipeline はミーム候補の取り込みパイプライン。
// 同一候補を複数回渡しても結果は変わらない（2回目以降はAlreadySeen）。
type Pipeline struct {
	embedder  embedding.Embedder
	index     vectorindex.Index
	store     storage.MediaStore
	ledger    repository.IngestLedgerRepository
	collector metrics.MetricsCollector
	logger    *slog.Logger
}

// NewPipeline はPipelineを生成する。
func NewPipeline(
	embedder embedding.Embedder,
	index vectorindex.Index,
	store storage.MediaStore,
	ledger repository.IngestLedgerRepository,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		embedder:  embedder,
		index:     index,
		store:     store,
		ledger:    ledger,
		collector: collector,
		logger:    logger,
	}
}

// Ingest は候補を1件処理し、型付きの処理結果を返す。
// 想定内の終端状態（重複・処理済み・取得失敗・埋め込み失敗）はエラーではなく
// IngestOutcomeとして返し、インフラ障害のみをエラーとして返す。
func (p *Pipeline) Ingest(ctx context.Context, meme model.IncomingMeme) (model.IngestOutcome, error) {
	memeID := model.DeriveMemeID(meme.SourceID)

	// 台帳による短絡。処理済みソースはダウンロードせずにスキップする
	seen, err := p.ledger.Exists(ctx, int64(memeID))
	if err != nil {
		return "", fmt.Errorf("取り込み台帳の照会に失敗しました: %w", err)
	}
	if seen {
		p.collector.RecordIngestOutcome(string(model.IngestAlreadySeen))
		return model.IngestAlreadySeen, nil
	}

	// 画像をメモリに取得する。保存は重複判定を通過してから行う
	var buf bytes.Buffer
	if err := meme.Download(ctx, &buf); err != nil {
		p.logger.Warn("ミーム画像のダウンロードに失敗しました",
			slog.String("source_id", meme.SourceID),
			slog.String("error", err.Error()),
		)
		p.collector.RecordIngestOutcome(string(model.IngestDownloadFailed))
		return model.IngestDownloadFailed, nil
	}

	start := time.Now()
	vector, err := p.embedder.EmbedImage(ctx, buf.Bytes())
	if err != nil {
		p.logger.Warn("埋め込みベクトルの生成に失敗しました",
			slog.String("source_id", meme.SourceID),
			slog.String("error", err.Error()),
		)
		p.collector.RecordIngestOutcome(string(model.IngestEncodeFailed))
		return model.IngestEncodeFailed, nil
	}
	p.collector.RecordEmbedLatency(time.Since(start))

	// 最近傍1件との類似度で重複を判定する
	nearest, err := p.index.SearchNearest(ctx, vector, 1)
	if err != nil {
		return "", fmt.Errorf("重複判定の類似検索に失敗しました: %w", err)
	}
	if len(nearest) > 0 && nearest[0].Score > DuplicateThreshold {
		p.logger.Info("視覚的重複のためスキップします",
			slog.String("source_id", meme.SourceID),
			slog.Uint64("duplicate_of", nearest[0].ID),
			slog.Float64("score", float64(nearest[0].Score)),
		)
		if err := p.record(ctx, memeID, meme, model.IngestStatusDuplicate); err != nil {
			return "", err
		}
		p.collector.RecordIngestOutcome(string(model.IngestDuplicateSkipped))
		return model.IngestDuplicateSkipped, nil
	}

	path, err := p.store.Save(meme.FileExtension, func(w io.Writer) error {
		_, err := io.Copy(w, bytes.NewReader(buf.Bytes()))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("ミーム画像の保存に失敗しました: %w", err)
	}

	err = p.index.Upsert(ctx, vectorindex.Point{
		ID:         memeID,
		Path:       path,
		SourceType: string(meme.SourceType),
		ChannelID:  meme.ChannelID,
	}, vector)
	if err != nil {
		// インデックス登録に失敗した場合、孤児ファイルを残さない
		if removeErr := p.store.Remove(path); removeErr != nil {
			p.logger.Error("孤児ファイルの削除に失敗しました",
				slog.String("path", path),
				slog.String("error", removeErr.Error()),
			)
		}
		return "", fmt.Errorf("インデックスへの登録に失敗しました: %w", err)
	}

	if err := p.record(ctx, memeID, meme, model.IngestStatusIndexed); err != nil {
		// 台帳に記録できないソースは再処理される。ポイントとファイルを巻き戻す
		if deleteErr := p.index.Delete(ctx, memeID); deleteErr != nil {
			p.logger.Error("ポイントの巻き戻しに失敗しました",
				slog.Uint64("meme_id", memeID),
				slog.String("error", deleteErr.Error()),
			)
		}
		if removeErr := p.store.Remove(path); removeErr != nil {
			p.logger.Error("孤児ファイルの削除に失敗しました",
				slog.String("path", path),
				slog.String("error", removeErr.Error()),
			)
		}
		return "", err
	}

	p.logger.Info("ミームをインデックスに登録しました",
		slog.Uint64("meme_id", memeID),
		slog.String("source_id", meme.SourceID),
		slog.String("path", path),
	)
	p.collector.RecordIngestOutcome(string(model.IngestIndexed))
	return model.IngestIndexed, nil
}

func (p *Pipeline) record(ctx context.Context, memeID uint64, meme model.IncomingMeme, status model.IngestStatus) error {
	err := p.ledger.Record(ctx, &model.IngestedSource{
		MemeID:     int64(memeID),
		SourceID:   meme.SourceID,
		SourceType: meme.SourceType,
		ChannelID:  meme.ChannelID,
		Status:     status,
	})
	if err != nil {
		return fmt.Errorf("取り込み台帳の記録に失敗しました: %w", err)
	}

	return nil
}
