package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aihub/vector-index-go/internal/logger"
)

var (
	// DocsIndexed 写入引擎的文档数
	DocsIndexed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vector_index_docs_indexed_total",
		Help: "Documents written to the search engine",
	}, []string{"index"})

	// DocsSkipped 因已存在或失败而跳过的文档数
	DocsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vector_index_docs_skipped_total",
		Help: "Documents skipped during indexing",
	}, []string{"index", "reason"})

	// EmbedDuration 向量化耗时
	EmbedDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vector_index_embed_duration_seconds",
		Help:    "Latency of embedding calls",
		Buckets: prometheus.DefBuckets,
	})

	// QueryDuration 检索耗时
	QueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vector_index_query_duration_seconds",
		Help:    "Latency of query handling",
		Buckets: prometheus.DefBuckets,
	})

	// RateLimiterDelay 远端限速器当前间隔
	RateLimiterDelay = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vector_index_rate_limiter_delay_seconds",
		Help: "Current adaptive delay of the remote embedding rate limiter",
	})
)

// Serve 启动指标监听
func Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		logger.Info("指标监听启动", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			logger.Error("指标监听退出", zap.Error(err))
		}
	}()
}
