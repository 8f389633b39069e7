// Package config は環境変数からのアプリケーション設定読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Qdrant
	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string

	// Embedder
	EmbedderURL  string
	TranslateURL string // 空の場合は翻訳なしで検索する

	// Storage
	MemesDir string

	// Recommendation
	MinLikesToStart     int
	RandomFactorPercent int
	RandomPoolSize      int

	// Reddit collector
	RedditSubreddits      []string
	RedditRefreshInterval time.Duration
	RedditUserAgent       string

	// Collector
	CollectMaxConcurrent int
	FetchTimeout         time.Duration
	FetchMaxSize         int64

	// Cleanup
	CleanupInterval time.Duration

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string

	// Rate Limit
	RateLimitGeneral int

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.QdrantURL = os.Getenv("QDRANT_URL")
	if cfg.QdrantURL == "" {
		missing = append(missing, "QDRANT_URL")
	}

	cfg.EmbedderURL = os.Getenv("EMBEDDER_URL")
	if cfg.EmbedderURL == "" {
		missing = append(missing, "EMBEDDER_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.QdrantAPIKey = getEnvString("QDRANT_API_KEY", "")
	cfg.QdrantCollection = getEnvString("QDRANT_COLLECTION", "memes")
	cfg.TranslateURL = getEnvString("TRANSLATE_URL", "")
	cfg.MemesDir = getEnvString("MEMES_DIR", "downloads")
	cfg.MinLikesToStart = getEnvInt("MIN_LIKES_TO_START", 1)
	cfg.RandomFactorPercent = getEnvInt("RANDOM_FACTOR_PERCENT", 20)
	cfg.RandomPoolSize = getEnvInt("RANDOM_POOL_SIZE", 50)
	cfg.RedditSubreddits = getEnvList("REDDIT_SUBREDDITS")
	cfg.RedditRefreshInterval = getEnvDuration("REDDIT_REFRESH_INTERVAL", 15*time.Minute)
	cfg.RedditUserAgent = getEnvString("REDDIT_USER_AGENT", "memefeed/1.0 meme collector")
	cfg.CollectMaxConcurrent = getEnvInt("COLLECT_MAX_CONCURRENT", 4)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 10485760)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	if cfg.RandomFactorPercent < 0 || cfg.RandomFactorPercent > 100 {
		return nil, fmt.Errorf("RANDOM_FACTOR_PERCENT must be in [0, 100], got %d", cfg.RandomFactorPercent)
	}
	if cfg.RandomPoolSize <= 0 {
		return nil, fmt.Errorf("RANDOM_POOL_SIZE must be positive, got %d", cfg.RandomPoolSize)
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvList はカンマ区切りの環境変数を文字列スライスに変換する。
// 空要素は除去される。未設定の場合は空スライスを返す。
func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
