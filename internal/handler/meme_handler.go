// Package handler はHTTP APIのハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/memefeed/internal/model"
	"github.com/hitoshi/memefeed/internal/reaction"
	"github.com/hitoshi/memefeed/internal/storage"
	"github.com/hitoshi/memefeed/internal/vectorindex"
)

// RecommendServiceInterface はミーム推薦サービスのインターフェース。
type RecommendServiceInterface interface {
	// Recommend はユーザーに次のミームを1件推薦する。候補が尽きた場合は (nil, nil) を返す。
	Recommend(ctx context.Context, userID int64) (*model.MemeRef, error)
}

// ReactionServiceInterface はリアクションサービスのインターフェース。
type ReactionServiceInterface interface {
	// AddReaction はユーザーの評価を記録する。再評価は上書きとなる。
	AddReaction(ctx context.Context, userID, memeID int64, isLiked bool) (*model.Reaction, error)
	// GetStats はユーザーの評価実績を集計して返す。
	GetStats(ctx context.Context, userID int64) (*reaction.Stats, error)
}

// MemeResolver はミームIDからインデックス上のポイントを解決するインターフェース。
type MemeResolver interface {
	Get(ctx context.Context, id uint64) (*vectorindex.Point, error)
}

// MemeHandler はミーム推薦・評価・画像配信のHTTPハンドラー。
type MemeHandler struct {
	recommendService RecommendServiceInterface
	reactionService  ReactionServiceInterface
	resolver         MemeResolver
	store            storage.MediaStore
}

// NewMemeHandler はMemeHandlerを生成する。
func NewMemeHandler(
	recommendService RecommendServiceInterface,
	reactionService ReactionServiceInterface,
	resolver MemeResolver,
	store storage.MediaStore,
) *MemeHandler {
	return &MemeHandler{
		recommendService: recommendService,
		reactionService:  reactionService,
		resolver:         resolver,
		store:            store,
	}
}

// --- レスポンス型 ---

// memeResponse は推薦結果のレスポンス。
type memeResponse struct {
	ID       uint64 `json:"id"`
	ImageURL string `json:"image_url"`
}

// reactionRequest はリアクション登録リクエストのボディ。
type reactionRequest struct {
	MemeID  int64 `json:"meme_id"`
	IsLiked bool  `json:"is_liked"`
}

// reactionResponse はリアクション登録のレスポンス。
type reactionResponse struct {
	UserID  int64 `json:"user_id"`
	MemeID  int64 `json:"meme_id"`
	IsLiked bool  `json:"is_liked"`
}

// GetRecommendation はユーザーへの次の推薦を返す。
// GET /api/users/{userID}/recommendation
func (h *MemeHandler) GetRecommendation(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}

	ref, err := h.recommendService.Recommend(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if ref == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewNoMemesLeftError())
		return
	}

	writeJSON(w, http.StatusOK, memeResponse{
		ID:       ref.ID,
		ImageURL: imageURLFor(ref.ID),
	})
}

// AddReaction はユーザーの評価を登録する。
// POST /api/users/{userID}/reactions
func (h *MemeHandler) AddReaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}

	var req reactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST_BODY",
			Message:  "リクエストボディのパースに失敗しました。",
			Category: "validation",
			Action:   "meme_idとis_likedを含むJSONを送信してください。",
		})
		return
	}

	result, err := h.reactionService.AddReaction(r.Context(), userID, req.MemeID, req.IsLiked)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, reactionResponse{
		UserID:  result.UserID,
		MemeID:  result.MemeID,
		IsLiked: result.IsLiked,
	})
}

// GetStats はユーザーの評価実績を返す。
// GET /api/users/{userID}/stats
func (h *MemeHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}

	stats, err := h.reactionService.GetStats(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// GetImage はミーム画像本体を配信する。
// GET /api/memes/{id}/image
func (h *MemeHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	memeID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidMemeIDError(raw))
		return
	}

	point, err := h.resolver.Get(r.Context(), memeID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if point == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewMemeNotFoundError(memeID))
		return
	}

	f, err := h.store.Open(point.Path)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewMemeNotFoundError(memeID))
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", contentTypeFor(point.Path))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	io.Copy(w, f)
}

// --- ヘルパー ---

// parseUserID はパスパラメータからユーザーIDを取り出す。
// 不正な場合は400レスポンスを書き込み、falseを返す。
func parseUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "userID")
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidUserIDError(raw))
		return 0, false
	}
	return userID, true
}

// imageURLFor はミームIDから画像配信エンドポイントのパスを組み立てる。
func imageURLFor(memeID uint64) string {
	return fmt.Sprintf("/api/memes/%d/image", memeID)
}

// contentTypeFor はファイル拡張子からContent-Typeを決定する。
func contentTypeFor(filePath string) string {
	switch strings.ToLower(path.Ext(filePath)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}
