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
// ゲートウェイ・セッションストア・認証サービス・クリーンアップジョブから利用する。
type MetricsCollector interface {
	RecordOutcome(operation string, outcome string)
	RecordBackendStatus(statusCode int)
	RecordBackendLatency(duration time.Duration)
	RecordSessionTransition(from, to, reason string)
	RecordSignIn(result string)
	RecordCleanupDeleted(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	outcomes       *prometheus.CounterVec
	backendStatus  *prometheus.CounterVec
	backendLatency prometheus.Histogram
	transitions    *prometheus.CounterVec
	signIns        *prometheus.CounterVec
	cleanupDeleted prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetadmin_gateway_requests_total",
			Help: "ゲートウェイ経由のバックエンド呼び出し数（操作・結果別）",
		}, []string{"operation", "outcome"}),
		backendStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetadmin_backend_http_status_total",
			Help: "バックエンドのHTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		backendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fleetadmin_backend_latency_seconds",
			Help:    "バックエンド呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetadmin_session_transitions_total",
			Help: "セッション状態の遷移数",
		}, []string{"from", "to", "reason"}),
		signIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetadmin_sign_in_total",
			Help: "サインインの試行数（結果別）",
		}, []string{"result"}),
		cleanupDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetadmin_cleanup_deleted_total",
			Help: "クリーンアップで削除したストレージエントリの合計数",
		}),
	}

	reg.MustRegister(
		c.outcomes,
		c.backendStatus,
		c.backendLatency,
		c.transitions,
		c.signIns,
		c.cleanupDeleted,
	)

	return c
}

// RecordOutcome はゲートウェイ呼び出しの結果（"ok"またはエラー分類）を記録する。
func (c *Collector) RecordOutcome(operation string, outcome string) {
	c.outcomes.WithLabelValues(operation, outcome).Inc()
}

// RecordBackendStatus はバックエンドのHTTPステータスコードを記録する。
func (c *Collector) RecordBackendStatus(statusCode int) {
	c.backendStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordBackendLatency はバックエンド呼び出しのレイテンシを記録する。
func (c *Collector) RecordBackendLatency(duration time.Duration) {
	c.backendLatency.Observe(duration.Seconds())
}

// RecordSessionTransition はセッション状態の遷移を記録する。
func (c *Collector) RecordSessionTransition(from, to, reason string) {
	c.transitions.WithLabelValues(from, to, reason).Inc()
}

// RecordSignIn はサインインの結果を記録する。
func (c *Collector) RecordSignIn(result string) {
	c.signIns.WithLabelValues(result).Inc()
}

// RecordCleanupDeleted はクリーンアップで削除した件数を記録する。
func (c *Collector) RecordCleanupDeleted(count int64) {
	c.cleanupDeleted.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
