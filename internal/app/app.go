// Package app はアプリケーションの初期化・依存関係のワイヤリング・起動を提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/memefeed/internal/collector"
	"github.com/hitoshi/memefeed/internal/config"
	"github.com/hitoshi/memefeed/internal/database"
	"github.com/hitoshi/memefeed/internal/embedding"
	"github.com/hitoshi/memefeed/internal/handler"
	"github.com/hitoshi/memefeed/internal/ingest"
	"github.com/hitoshi/memefeed/internal/logger"
	"github.com/hitoshi/memefeed/internal/metrics"
	"github.com/hitoshi/memefeed/internal/middleware"
	"github.com/hitoshi/memefeed/internal/reaction"
	"github.com/hitoshi/memefeed/internal/recommend"
	"github.com/hitoshi/memefeed/internal/repository"
	"github.com/hitoshi/memefeed/internal/search"
	"github.com/hitoshi/memefeed/internal/security"
	"github.com/hitoshi/memefeed/internal/storage"
	"github.com/hitoshi/memefeed/internal/vectorindex"
	qdrantindex "github.com/hitoshi/memefeed/internal/vectorindex/qdrant"
	"github.com/hitoshi/memefeed/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルを反映する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// coreDeps は両起動モードで共有されるインフラ依存関係の束。
type coreDeps struct {
	index     *qdrantindex.Client
	embedder  *embedding.Client
	store     *storage.LocalMediaStore
	collector *metrics.Collector
	registry  *prometheus.Registry
}

// buildCoreDeps はQdrant・埋め込みサービス・ローカルストレージ・メトリクスを初期化する。
// コレクションが存在しない場合は埋め込み次元で新規作成する。
func buildCoreDeps(ctx context.Context, cfg *config.Config) (*coreDeps, error) {
	index, err := qdrantindex.New(qdrantindex.Config{
		URL:            cfg.QdrantURL,
		CollectionName: cfg.QdrantCollection,
		APIKey:         cfg.QdrantAPIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create vector index client: %w", err)
	}

	embedder := embedding.NewClient(
		&http.Client{Timeout: 30 * time.Second},
		slog.Default(),
		cfg.EmbedderURL,
	)

	if err := index.EnsureCollection(ctx, embedder.Dimension()); err != nil {
		return nil, fmt.Errorf("failed to ensure vector collection: %w", err)
	}

	store, err := storage.NewLocalMediaStore(cfg.MemesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize media store: %w", err)
	}

	registry := prometheus.NewRegistry()
	metricsCollector := metrics.NewCollector(registry)

	return &coreDeps{
		index:     index,
		embedder:  embedder,
		store:     store,
		collector: metricsCollector,
		registry:  registry,
	}, nil
}

// runServe はAPIサーバーモードで起動する。
// DB・Qdrant接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. Qdrant・埋め込み・ストレージ・メトリクス
	core, err := buildCoreDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer core.index.Close()

	// 3. リポジトリの初期化
	reactionRepo := repository.NewPostgresReactionRepo(db)

	// 4. ドメインサービスの初期化
	engine := recommend.NewEngine(
		reactionRepo, core.index, core.collector, slog.Default(),
		recommend.Config{
			MinLikesToStart:     cfg.MinLikesToStart,
			RandomFactorPercent: cfg.RandomFactorPercent,
			RandomPoolSize:      cfg.RandomPoolSize,
		},
		rand.New(rand.NewSource(time.Now().UnixNano())),
	)

	reactionService := reaction.NewService(reactionRepo, core.index, slog.Default())

	var translator search.Translator = search.NoopTranslator{}
	if cfg.TranslateURL != "" {
		translator = search.NewHTTPTranslator(
			&http.Client{Timeout: 10 * time.Second},
			cfg.TranslateURL,
		)
	}
	searchService := search.NewService(
		core.embedder, core.index, core.store, translator, slog.Default(),
	)

	// 5. ルーターの構築
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		// configのRateLimitGeneralはreq/min単位なのでreq/secに変換する
		rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	}
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		RecommendService: engine,
		ReactionService:  reactionService,
		SearchService:    searchService,
		MemeResolver:     memeResolverAdapter{core.index},
		MediaStore:       core.store,

		Gatherer: core.registry,
	}

	router := handler.NewRouter(deps)

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はコレクターワーカーモードで起動する。
// Redditコレクターと取り込みパイプラインをワイヤリングし、巡回を開始する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. Qdrant・埋め込み・ストレージ・メトリクス
	core, err := buildCoreDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer core.index.Close()

	// 3. 取り込みパイプラインの初期化
	ledgerRepo := repository.NewPostgresIngestLedgerRepo(db)
	pipeline := ingest.NewPipeline(
		core.embedder, core.index, core.store, ledgerRepo,
		core.collector, slog.Default(),
	)

	// 4. コレクターの初期化
	ssrfGuard := security.NewSSRFGuard()
	redditCollector := collector.NewCollector(
		pipeline, ssrfGuard, core.collector, slog.Default(),
		collector.Config{
			Subreddits:    cfg.RedditSubreddits,
			UserAgent:     cfg.RedditUserAgent,
			MaxConcurrent: cfg.CollectMaxConcurrent,
			FetchTimeout:  cfg.FetchTimeout,
			MaxFetchSize:  cfg.FetchMaxSize,
		},
	)

	// 5. インデックス整合ジョブをバックグラウンドで起動
	evictionJob := cleanup.NewEvictionJob(
		core.index, core.store, core.collector, slog.Default(),
	)
	go evictionJob.Start(ctx, cfg.CleanupInterval)

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("refresh_interval", cfg.RedditRefreshInterval),
		slog.Int("subreddit_count", len(cfg.RedditSubreddits)),
		slog.Int("max_concurrent", cfg.CollectMaxConcurrent),
	)

	// コレクターをメインgoroutineで実行（ブロッキング）
	redditCollector.Start(ctx, cfg.RedditRefreshInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// memeResolverAdapter はvectorindex.Indexをhandler.MemeResolverに適合させる。
type memeResolverAdapter struct {
	index vectorindex.Index
}

func (a memeResolverAdapter) Get(ctx context.Context, id uint64) (*vectorindex.Point, error) {
	return a.index.Get(ctx, id)
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
