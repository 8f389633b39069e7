package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Translator は検索クエリの翻訳インターフェース。
// CLIPのテキストエンコーダーは英語で最も精度が高いため、
// 検索前にクエリを英語へ翻訳する。
type Translator interface {
	// Translate はテキストを英語に翻訳する。
	Translate(ctx context.Context, text string) (string, error)
}

// NoopTranslator は翻訳を行わずに入力をそのまま返す実装。
// 翻訳サービスが構成されていない場合に使用する。
type NoopTranslator struct{}

// Translate は入力をそのまま返す。
func (NoopTranslator) Translate(ctx context.Context, text string) (string, error) {
	return text, nil
}

// HTTPTranslator はLibreTranslate互換APIの翻訳クライアント。
type HTTPTranslator struct {
	httpClient *http.Client
	baseURL    string
}

// NewHTTPTranslator はHTTPTranslatorを生成する。
func NewHTTPTranslator(httpClient *http.Client, baseURL string) *HTTPTranslator {
	return &HTTPTranslator{
		httpClient: httpClient,
		baseURL:    baseURL,
	}
}

// Translate はテキストを英語に翻訳する。
func (t *HTTPTranslator) Translate(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"q":      text,
		"source": "auto",
		"target": "en",
	})
	if err != nil {
		return "", fmt.Errorf("リクエストJSONのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/translate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("翻訳APIがステータス %d を返しました", resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var result struct {
		TranslatedText string `json:"translatedText"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	return result.TranslatedText, nil
}

// compile-time interface checks
var (
	_ Translator = NoopTranslator{}
	_ Translator = (*HTTPTranslator)(nil)
)
