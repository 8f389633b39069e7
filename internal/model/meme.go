// Package model はドメインモデルを定義する。
package model

import (
	"context"
	"io"
	"time"
)

// MemeSource はミームの取得元種別を表す。
type MemeSource string

const (
	// MemeSourceReddit はRedditのRSSフィードから収集されたミームを表す。
	MemeSourceReddit MemeSource = "reddit"
	// MemeSourceChannel はメッセージングチャンネルから収集されたミームを表す。
	MemeSourceChannel MemeSource = "channel"
)

// IncomingMeme はコレクターが発見した未処理のミーム候補を表す。
// パイプラインが1回だけ消費する一時オブジェクトで、永続化されない。
// Downloadは画像本体を遅延取得するためのクロージャで、
// 呼び出されるまでネットワークI/Oは発生しない。
type IncomingMeme struct {
	SourceID      string
	SourceType    MemeSource
	ChannelID     string
	FileExtension string
	Download      func(ctx context.Context, w io.Writer) error
}

// MemeRef はインデックス済みミームへの参照を表す。
// 推薦・検索の結果として返され、IDはベクトルインデックスのポイントIDと一致する。
type MemeRef struct {
	ID   uint64
	Path string
}

// ScoredMemeRef はスコア付きのミーム参照。テキスト検索の結果として返される。
type ScoredMemeRef struct {
	MemeRef
	Score float32
}

// IngestOutcome はパイプラインによる候補処理の型付き結果を表す。
// DownloadFailed/EncodeFailed以外はエラーではなく、想定内の終端状態である。
type IngestOutcome string

const (
	// IngestIndexed は新規ミームがインデックスに登録されたことを表す。
	IngestIndexed IngestOutcome = "indexed"
	// IngestDuplicateSkipped は視覚的重複と判定されスキップされたことを表す。
	IngestDuplicateSkipped IngestOutcome = "duplicate_skipped"
	// IngestAlreadySeen は同一ソースIDが処理済みのためスキップされたことを表す。
	IngestAlreadySeen IngestOutcome = "already_seen"
	// IngestDownloadFailed は画像の取得に失敗したことを表す。
	IngestDownloadFailed IngestOutcome = "download_failed"
	// IngestEncodeFailed は埋め込みベクトルの生成に失敗したことを表す。
	IngestEncodeFailed IngestOutcome = "encode_failed"
)

// IngestStatus はインジェストレジャーに記録される最終処理状態を表す。
type IngestStatus string

const (
	// IngestStatusIndexed はベクトルインデックスに登録されたことを表す。
	IngestStatusIndexed IngestStatus = "indexed"
	// IngestStatusDuplicate は重複としてスキップされたことを表す。
	IngestStatusDuplicate IngestStatus = "duplicate"
)

// IngestedSource は処理済みソースのレジャーエントリを表す。
// リアクションストアとは独立した「取り込み済み」の台帳として機能する。
type IngestedSource struct {
	MemeID     int64
	SourceID   string
	SourceType MemeSource
	ChannelID  string
	Status     IngestStatus
	CreatedAt  time.Time
}

// Reaction はユーザーのミームに対する評価を表す。
// (UserID, MemeID) の組につき論理的に1件のみ存在し、
// 後からの評価はIsLikedを上書きする（UPSERTセマンティクス）。
type Reaction struct {
	UserID    int64
	MemeID    int64
	IsLiked   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Preference はリアクションストアから導出されるユーザーの嗜好ビュー。
// 推薦リクエストごとに再計算され、永続化されない。
// Seen = Liked ∪ Disliked が常に成り立ち、LikedとDislikedは互いに素である。
type Preference struct {
	Liked    []uint64
	Disliked []uint64
	Seen     []uint64
}

// NewPreference はリアクション一覧から嗜好ビューを構築する。
func NewPreference(reactions []Reaction) Preference {
	p := Preference{
		Liked:    make([]uint64, 0, len(reactions)),
		Disliked: make([]uint64, 0, len(reactions)),
		Seen:     make([]uint64, 0, len(reactions)),
	}
	for _, r := range reactions {
		id := uint64(r.MemeID)
		p.Seen = append(p.Seen, id)
		if r.IsLiked {
			p.Liked = append(p.Liked, id)
		} else {
			p.Disliked = append(p.Disliked, id)
		}
	}
	return p
}
