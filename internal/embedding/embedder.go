// Package embedding はCLIP埋め込みサイドカーAPIのクライアントを提供する。
// 画像とテキストを同一のベクトル空間に埋め込むことで、
// 重複判定とテキスト検索の両方を単一のインデックスで実現する。
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
)

// DefaultDimension はCLIP ViT-B/32の埋め込み次元数。
const DefaultDimension = 512

// Embedder は画像・テキストの埋め込み生成インターフェース。
// 返されるベクトルは常に単位ベクトルに正規化される。
type Embedder interface {
	// EmbedImage は画像バイト列の埋め込みベクトルを生成する。
	EmbedImage(ctx context.Context, data []byte) ([]float32, error)

	// EmbedText はテキストの埋め込みベクトルを生成する。
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// Dimension は埋め込みベクトルの次元数を返す。
	Dimension() uint64
}

// Client は埋め込みサイドカーのHTTPクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	dimension  uint64
}

// NewClient はClient の新しいインスタンスを生成する。
// baseURLは埋め込みサイドカーのルートURL（例: "http://localhost:8090"）。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL string) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
		dimension:  DefaultDimension,
	}
}

// embedResponse はサイドカーAPIのレスポンス形式。
type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// EmbedImage は画像バイト列の埋め込みベクトルを生成する。
func (c *Client) EmbedImage(ctx context.Context, data []byte) ([]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed/image", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	return c.do(req)
}

// EmbedText はテキストの埋め込みベクトルを生成する。
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("リクエストJSONのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed/text", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

// Dimension は埋め込みベクトルの次元数を返す。
func (c *Client) Dimension() uint64 {
	return c.dimension
}

func (c *Client) do(req *http.Request) ([]float32, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("埋め込みAPIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("埋め込みAPIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("埋め込みAPIがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var result embedResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	if uint64(len(result.Embedding)) != c.dimension {
		return nil, fmt.Errorf("埋め込みの次元数が不正です: got %d, want %d", len(result.Embedding), c.dimension)
	}

	return Normalize(result.Embedding), nil
}

// Normalize はベクトルを単位ベクトルに正規化する。
// ノルムがゼロの場合は入力をそのまま返す。
func Normalize(vector []float32) []float32 {
	var sum float64
	for _, v := range vector {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vector
	}

	norm := math.Sqrt(sum)
	normalized := make([]float32, len(vector))
	for i, v := range vector {
		normalized[i] = float32(float64(v) / norm)
	}

	return normalized
}

// compile-time interface check
var _ Embedder = (*Client)(nil)
