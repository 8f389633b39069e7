// Package vectorindex はミーム埋め込みベクトルのインデックスインターフェースを定義する。
package vectorindex

import "context"

// Point はインデックスに登録された1件のミームを表す。
type Point struct {
	ID         uint64
	Path       string
	SourceType string
	ChannelID  string
}

// ScoredPoint は類似度スコア付きの検索結果を表す。
type ScoredPoint struct {
	Point
	Score float32
}

// Index はベクトルインデックスの操作インターフェース。
// ミームIDはソースIDから導出された64bit整数をそのままポイントIDとして使用する。
type Index interface {
	// EnsureCollection はコレクションが存在しない場合に作成する。
	// 距離関数はコサイン類似度で固定する。
	EnsureCollection(ctx context.Context, dimension uint64) error

	// Upsert はポイントを登録する。同一IDの既存ポイントは上書きされる。
	Upsert(ctx context.Context, point Point, vector []float32) error

	// Get は指定IDのポイントを返す。存在しない場合は (nil, nil) を返す。
	Get(ctx context.Context, id uint64) (*Point, error)

	// SearchNearest はクエリベクトルに最も近いポイントを類似度降順で返す。
	SearchNearest(ctx context.Context, vector []float32, limit int) ([]ScoredPoint, error)

	// Recommend は正例・負例のポイントIDに基づく推薦検索を行う。
	// excludeに含まれるIDは結果から除外される。
	Recommend(ctx context.Context, positive, negative, exclude []uint64, limit int) ([]ScoredPoint, error)

	// Scroll はexcludeに含まれないポイントを最大limit件返す。順序は不定。
	Scroll(ctx context.Context, exclude []uint64, limit int) ([]Point, error)

	// Delete は指定IDのポイントを削除する。存在しないIDは無視される。
	Delete(ctx context.Context, id uint64) error
}
