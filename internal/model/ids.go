package model

import "hash/fnv"

// MemeIDHashVersion はソースID→ミームIDの導出アルゴリズムのバージョン。
// アルゴリズムを変更すると既存のインデックス済みポイントが孤立するため、
// 変更時は必ずバージョンを上げてインデックスの再構築を行うこと。
// バージョン1: FNV-64a(sourceID)
const MemeIDHashVersion = 1

// DeriveMemeID はソースIDから決定的かつ安定なミームIDを導出する。
// 同一のソースIDは実行をまたいでも常に同一のIDを生成する。
// 導出されたIDはベクトルインデックスのポイントIDとして使用される。
func DeriveMemeID(sourceID string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(sourceID))
	return h.Sum64()
}
