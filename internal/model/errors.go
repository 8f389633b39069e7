package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, content, collaborator, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeNoMemesLeft      = "NO_MEMES_LEFT"
	ErrCodeMemeNotFound     = "MEME_NOT_FOUND"
	ErrCodeInvalidUserID    = "INVALID_USER_ID"
	ErrCodeInvalidMemeID    = "INVALID_MEME_ID"
	ErrCodeInvalidQuery     = "INVALID_QUERY"
	ErrCodeIndexUnavailable = "INDEX_UNAVAILABLE"
	ErrCodeStoreUnavailable = "STORE_UNAVAILABLE"
)

// NewNoMemesLeftError は未視聴のミームが存在しない場合のエラーを生成する。
// 推薦エンジンのEmpty終端状態に対応し、障害ではなく正常な結果である。
func NewNoMemesLeftError() *APIError {
	return &APIError{
		Code:     ErrCodeNoMemesLeft,
		Message:  "表示できるミームがありません。",
		Category: "content",
		Action:   "新しいミームが収集されるまで、しばらく待ってから再度お試しください。",
	}
}

// NewMemeNotFoundError はミームが見つからない場合のエラーを生成する。
func NewMemeNotFoundError(memeID uint64) *APIError {
	return &APIError{
		Code:     ErrCodeMemeNotFound,
		Message:  fmt.Sprintf("指定されたミームが見つかりません: %d", memeID),
		Category: "content",
		Action:   "ミームIDを確認してください。削除された可能性があります。",
	}
}

// NewInvalidUserIDError は無効なユーザーIDエラーを生成する。
func NewInvalidUserIDError(raw string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidUserID,
		Message:  fmt.Sprintf("無効なユーザーIDです: %s", raw),
		Category: "validation",
		Action:   "ユーザーIDには整数を指定してください。",
	}
}

// NewInvalidMemeIDError は無効なミームIDエラーを生成する。
func NewInvalidMemeIDError(raw string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidMemeID,
		Message:  fmt.Sprintf("無効なミームIDです: %s", raw),
		Category: "validation",
		Action:   "ミームIDには非負整数を指定してください。",
	}
}

// NewInvalidQueryError は無効な検索クエリエラーを生成する。
func NewInvalidQueryError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidQuery,
		Message:  "検索クエリが空です。",
		Category: "validation",
		Action:   "qパラメータに検索したいテキストを指定してください。",
	}
}

// NewIndexUnavailableError はベクトルインデックス障害のエラーを生成する。
// コア層はリトライせず、呼び出し元がリトライポリシーを決定する。
func NewIndexUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeIndexUnavailable,
		Message:  "ベクトルインデックスへの接続に失敗しました。",
		Category: "collaborator",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewStoreUnavailableError はリアクションストア障害のエラーを生成する。
func NewStoreUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeStoreUnavailable,
		Message:  "リアクションストアへの接続に失敗しました。",
		Category: "collaborator",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
