// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// パイプラインやサービス層から利用する。
type MetricsCollector interface {
	RecordIngestOutcome(outcome string)
	RecordEmbedLatency(duration time.Duration)
	RecordRecommendation(strategy string)
	RecordCollectorRun(subreddit string, itemCount int)
	RecordIndexEviction(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	ingestOutcome  *prometheus.CounterVec
	embedLatency   prometheus.Histogram
	recommendation *prometheus.CounterVec
	collectorRuns  *prometheus.CounterVec
	collectorItems *prometheus.CounterVec
	indexEvictions prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		ingestOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memefeed_ingest_outcome_total",
			Help: "取り込み結果別の処理数",
		}, []string{"outcome"}),
		embedLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "memefeed_embed_latency_seconds",
			Help:    "埋め込み生成のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		recommendation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memefeed_recommendation_total",
			Help: "戦略別の推薦回数",
		}, []string{"strategy"}),
		collectorRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memefeed_collector_runs_total",
			Help: "サブレディット別のクロール実行数",
		}, []string{"subreddit"}),
		collectorItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memefeed_collector_items_total",
			Help: "サブレディット別に発見した候補数",
		}, []string{"subreddit"}),
		indexEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "memefeed_index_evictions_total",
			Help: "ファイル欠損により退避したポイントの合計数",
		}),
	}

	reg.MustRegister(
		c.ingestOutcome,
		c.embedLatency,
		c.recommendation,
		c.collectorRuns,
		c.collectorItems,
		c.indexEvictions,
	)

	return c
}

// RecordIngestOutcome は取り込み処理の結果を記録する。
func (c *Collector) RecordIngestOutcome(outcome string) {
	c.ingestOutcome.WithLabelValues(outcome).Inc()
}

// RecordEmbedLatency は埋め込み生成のレイテンシを記録する。
func (c *Collector) RecordEmbedLatency(duration time.Duration) {
	c.embedLatency.Observe(duration.Seconds())
}

// RecordRecommendation は推薦に使用した戦略を記録する。
func (c *Collector) RecordRecommendation(strategy string) {
	c.recommendation.WithLabelValues(strategy).Inc()
}

// RecordCollectorRun はクロール実行と発見した候補数を記録する。
func (c *Collector) RecordCollectorRun(subreddit string, itemCount int) {
	c.collectorRuns.WithLabelValues(subreddit).Inc()
	c.collectorItems.WithLabelValues(subreddit).Add(float64(itemCount))
}

// RecordIndexEviction はファイル欠損による退避数を記録する。
func (c *Collector) RecordIndexEviction(count int) {
	c.indexEvictions.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
