package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/hitoshi/memefeed/internal/model"
)

// maxSearchLimit は検索結果件数の上限。
const maxSearchLimit = 50

// SearchServiceInterface はテキスト検索サービスのインターフェース。
type SearchServiceInterface interface {
	// Search はクエリに類似するミームをスコア降順で返す。
	Search(ctx context.Context, query string, limit int) ([]model.ScoredMemeRef, error)
}

// SearchHandler はテキスト検索のHTTPハンドラー。
type SearchHandler struct {
	service SearchServiceInterface
}

// NewSearchHandler はSearchHandlerを生成する。
func NewSearchHandler(service SearchServiceInterface) *SearchHandler {
	return &SearchHandler{service: service}
}

// searchResultResponse は検索結果1件のレスポンス。
type searchResultResponse struct {
	ID       uint64  `json:"id"`
	ImageURL string  `json:"image_url"`
	Score    float32 `json:"score"`
}

// searchResponse は検索結果のレスポンス。
type searchResponse struct {
	Results []searchResultResponse `json:"results"`
}

// Search はテキスト検索を実行する。
// GET /api/search?q=xxx&limit=10
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	limit := 0
	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed <= 0 {
			writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
				Code:     "INVALID_LIMIT",
				Message:  "limitパラメータが不正です。",
				Category: "validation",
				Action:   "limitには正の整数を指定してください。",
			})
			return
		}
		limit = parsed
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	results, err := h.service.Search(r.Context(), query, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	response := searchResponse{Results: make([]searchResultResponse, 0, len(results))}
	for _, result := range results {
		response.Results = append(response.Results, searchResultResponse{
			ID:       result.ID,
			ImageURL: imageURLFor(result.ID),
			Score:    result.Score,
		})
	}

	writeJSON(w, http.StatusOK, response)
}
