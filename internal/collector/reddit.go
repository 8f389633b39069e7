// Package collector はRedditのRSSフィードからミーム候補を収集する。
// サブレディットのhotフィードを定期巡回し、発見した画像URLを
// 取り込みパイプラインに渡す。
package collector

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"

	"github.com/hitoshi/memefeed/internal/metrics"
	"github.com/hitoshi/memefeed/internal/model"
)

// defaultBaseURL はRedditのベースURL。
const defaultBaseURL = "https://www.reddit.com"

// imageURLPattern はフィード本文からi.redd.itの画像URLを抽出するパターン。
var imageURLPattern = regexp.MustCompile(`https://i\.redd\.it/[^"'\s<>&]+`)

// allowedExtensions は取り込み対象とする画像拡張子。
var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// Ingester はミーム候補の取り込みインターフェース。
type Ingester interface {
	Ingest(ctx context.Context, meme model.IncomingMeme) (model.IngestOutcome, error)
}

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// Config はコレクターの動作設定。
type Config struct {
	// Subreddits は巡回対象のサブレディット名のリスト。
	Subreddits []string

	// UserAgent はRedditへのリクエストに使用するUser-Agent。
	UserAgent string

	// MaxConcurrent はサブレディット巡回の最大並列数。
	MaxConcurrent int

	// FetchTimeout はHTTPリクエストのタイムアウト。
	FetchTimeout time.Duration

	// MaxFetchSize はダウンロードする画像の最大サイズ（バイト）。
	MaxFetchSize int64
}

// Collector はRedditのRSSフィードを巡回するコレクター。
// rate.LimiterでRedditへのリクエスト頻度を全サブレディット合計で制限する。
type Collector struct {
	ingester  Ingester
	ssrfGuard SSRFValidator
	collector metrics.MetricsCollector
	logger    *slog.Logger
	cfg       Config
	limiter   *rate.Limiter
	baseURL   string // テスト用にベースURLを差し替え可能
}

// NewCollector はCollectorの新しいインスタンスを生成する。
// MaxConcurrentが0以下の場合はデフォルト値4を使用する。
func NewCollector(
	ingester Ingester,
	ssrfGuard SSRFValidator,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	cfg Config,
) *Collector {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	return &Collector{
		ingester:  ingester,
		ssrfGuard: ssrfGuard,
		collector: collector,
		logger:    logger,
		cfg:       cfg,
		limiter:   rate.NewLimiter(rate.Every(time.Second), 1),
		baseURL:   defaultBaseURL,
	}
}

// Start は指定間隔のティッカーでコレクターを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (c *Collector) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.Info("コレクターを開始しました",
		slog.Duration("interval", interval),
		slog.Int("subreddit_count", len(c.cfg.Subreddits)),
		slog.Int("max_concurrent", c.cfg.MaxConcurrent),
	)

	// 起動直後に1回実行
	c.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("コレクターを停止しました")
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce は全サブレディットを1回巡回する。
// semaphoreパターンで最大並列数を制御する。
func (c *Collector) RunOnce(ctx context.Context) {
	sem := make(chan struct{}, c.cfg.MaxConcurrent)
	var wg sync.WaitGroup

	for _, subreddit := range c.cfg.Subreddits {
		wg.Add(1)
		sem <- struct{}{}

		go func(sub string) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := c.collectSubreddit(ctx, sub); err != nil {
				c.logger.Error("サブレディットの巡回に失敗しました",
					slog.String("subreddit", sub),
					slog.String("error", err.Error()),
				)
			}
		}(subreddit)
	}

	wg.Wait()
}

// collectSubreddit は1サブレディットのhotフィードを取得して候補を取り込む。
func (c *Collector) collectSubreddit(ctx context.Context, subreddit string) error {
	feedURL := fmt.Sprintf("%s/r/%s/hot/.rss", c.baseURL, url.PathEscape(subreddit))

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	client := c.ssrfGuard.NewSafeClient(c.cfg.FetchTimeout, c.cfg.MaxFetchSize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/atom+xml, application/rss+xml, application/xml, text/xml, */*")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("フィードの取得に失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("フィードがステータス %d を返しました", resp.StatusCode)
	}

	feed, err := gofeed.NewParser().Parse(io.LimitReader(resp.Body, c.cfg.MaxFetchSize))
	if err != nil {
		return fmt.Errorf("フィードのパースに失敗: %w", err)
	}

	candidates := c.extractCandidates(feed, subreddit)
	c.collector.RecordCollectorRun(subreddit, len(candidates))

	c.logger.Info("サブレディットを巡回しました",
		slog.String("subreddit", subreddit),
		slog.Int("item_count", len(feed.Items)),
		slog.Int("candidate_count", len(candidates)),
	)

	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := c.ingester.Ingest(ctx, candidate); err != nil {
			c.logger.Error("候補の取り込みに失敗しました",
				slog.String("source_id", candidate.SourceID),
				slog.String("error", err.Error()),
			)
		}
	}

	return nil
}

// extractCandidates はフィード記事から画像URLを抽出して候補を構築する。
func (c *Collector) extractCandidates(feed *gofeed.Feed, subreddit string) []model.IncomingMeme {
	seen := make(map[string]bool)
	candidates := make([]model.IncomingMeme, 0, len(feed.Items))

	for _, item := range feed.Items {
		imageURL := extractImageURL(item)
		if imageURL == "" || seen[imageURL] {
			continue
		}
		seen[imageURL] = true

		if err := c.ssrfGuard.ValidateURL(imageURL); err != nil {
			c.logger.Warn("画像URLがSSRF検証で拒否されました",
				slog.String("image_url", imageURL),
				slog.String("error", err.Error()),
			)
			continue
		}

		candidates = append(candidates, model.IncomingMeme{
			SourceID:      imageURL,
			SourceType:    model.MemeSourceReddit,
			ChannelID:     subreddit,
			FileExtension: safeExtension(imageURL),
			Download:      c.downloadFunc(imageURL),
		})
	}

	return candidates
}

// downloadFunc は画像を遅延ダウンロードするクロージャを返す。
func (c *Collector) downloadFunc(imageURL string) func(ctx context.Context, w io.Writer) error {
	return func(ctx context.Context, w io.Writer) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		client := c.ssrfGuard.NewSafeClient(c.cfg.FetchTimeout, c.cfg.MaxFetchSize)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
		if err != nil {
			return fmt.Errorf("リクエスト作成に失敗: %w", err)
		}
		req.Header.Set("User-Agent", c.cfg.UserAgent)

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("画像の取得に失敗: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("画像の取得がステータス %d を返しました", resp.StatusCode)
		}

		if _, err := io.Copy(w, io.LimitReader(resp.Body, c.cfg.MaxFetchSize)); err != nil {
			return fmt.Errorf("画像の読み取りに失敗: %w", err)
		}

		return nil
	}
}

// extractImageURL は記事からi.redd.itの画像URLを1件抽出する。
// 本文のHTMLに含まれるリンクを優先し、見つからない場合は記事リンク自体を確認する。
func extractImageURL(item *gofeed.Item) string {
	for _, text := range []string{item.Content, item.Description, item.Link} {
		if match := imageURLPattern.FindString(text); match != "" {
			return match
		}
	}
	return ""
}

// safeExtension はURLから画像拡張子を取り出す。不明な場合は".jpg"にフォールバックする。
func safeExtension(imageURL string) string {
	u, err := url.Parse(imageURL)
	if err != nil {
		return ".jpg"
	}

	ext := strings.ToLower(path.Ext(u.Path))
	if !allowedExtensions[ext] {
		return ".jpg"
	}

	return ext
}
