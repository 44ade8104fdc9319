// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認可ミドルウェア、セッション解決、ワーカーから利用する。
type MetricsCollector interface {
	RecordDecision(decision string)
	RecordStoreFailure()
	RecordSessionLookup(duration time.Duration)
	RecordHTTPStatus(statusCode int)
	RecordSessionsPurged(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	decisions      *prometheus.CounterVec
	storeFailures  prometheus.Counter
	lookupLatency  prometheus.Histogram
	httpStatus     *prometheus.CounterVec
	sessionsPurged prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "servicehub_authz_decisions_total",
			Help: "ルートガードの判定結果別の件数",
		}, []string{"decision"}),
		storeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "servicehub_session_store_failures_total",
			Help: "セッションストアの参照失敗（タイムアウトを含む）の合計数",
		}),
		lookupLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "servicehub_session_lookup_seconds",
			Help:    "セッション解決のレイテンシ（秒）",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "servicehub_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "servicehub_sessions_purged_total",
			Help: "クリーンアップで削除された期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.decisions,
		c.storeFailures,
		c.lookupLatency,
		c.httpStatus,
		c.sessionsPurged,
	)

	return c
}

// RecordDecision はルートガードの判定結果を記録する。
func (c *Collector) RecordDecision(decision string) {
	c.decisions.WithLabelValues(decision).Inc()
}

// RecordStoreFailure はセッションストアの参照失敗を記録する。
func (c *Collector) RecordStoreFailure() {
	c.storeFailures.Inc()
}

// RecordSessionLookup はセッション解決のレイテンシを記録する。
func (c *Collector) RecordSessionLookup(duration time.Duration) {
	c.lookupLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordSessionsPurged は削除された期限切れセッション数を記録する。
func (c *Collector) RecordSessionsPurged(count int) {
	c.sessionsPurged.Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordDecision(string)             {}
func (Nop) RecordStoreFailure()               {}
func (Nop) RecordSessionLookup(time.Duration) {}
func (Nop) RecordHTTPStatus(int)              {}
func (Nop) RecordSessionsPurged(int)          {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
