// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// リモート呼び出し・ログインの結果ラベル
const (
	OutcomeSuccess           = "success"
	OutcomeCredentialExpired = "credential_expired"
	OutcomeNotFound          = "not_found"
	OutcomeUserNotFound      = "user_not_found"
	OutcomeRejected          = "rejected"
	OutcomeError             = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ゲートウェイ、認証サービス、ワーカー、ミドルウェアから利用する。
type MetricsCollector interface {
	RecordRemoteCall(operation, outcome string)
	RecordRemoteLatency(operation string, duration time.Duration)
	RecordEventsMirrored(count int)
	RecordLogin(outcome string)
	RecordSessionRenewal()
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	remoteCalls     *prometheus.CounterVec
	remoteLatency   *prometheus.HistogramVec
	eventsMirrored  prometheus.Counter
	logins          *prometheus.CounterVec
	sessionRenewals prometheus.Counter
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		remoteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calendarbridge_remote_calls_total",
			Help: "カレンダーAPI呼び出しの操作・結果別の合計数",
		}, []string{"operation", "outcome"}),
		remoteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "calendarbridge_remote_latency_seconds",
			Help:    "カレンダーAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		eventsMirrored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calendarbridge_events_mirrored_total",
			Help: "ローカルにミラーされたイベントの合計数",
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calendarbridge_logins_total",
			Help: "OAuthログインの結果別の合計数",
		}, []string{"outcome"}),
		sessionRenewals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calendarbridge_session_renewals_total",
			Help: "セッション資格情報の再発行数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calendarbridge_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.remoteCalls,
		c.remoteLatency,
		c.eventsMirrored,
		c.logins,
		c.sessionRenewals,
		c.httpStatus,
	)

	return c
}

// RecordRemoteCall はリモート呼び出しの結果を記録する。
func (c *Collector) RecordRemoteCall(operation, outcome string) {
	c.remoteCalls.WithLabelValues(operation, outcome).Inc()
}

// RecordRemoteLatency はリモート呼び出しのレイテンシを記録する。
func (c *Collector) RecordRemoteLatency(operation string, duration time.Duration) {
	c.remoteLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordEventsMirrored はミラーに書き込んだイベント数を記録する。
func (c *Collector) RecordEventsMirrored(count int) {
	c.eventsMirrored.Add(float64(count))
}

// RecordLogin はログイン結果を記録する。
func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordSessionRenewal はセッション再発行を記録する。
func (c *Collector) RecordSessionRenewal() {
	c.sessionRenewals.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordRemoteCall(string, string)           {}
func (Nop) RecordRemoteLatency(string, time.Duration) {}
func (Nop) RecordEventsMirrored(int)                  {}
func (Nop) RecordLogin(string)                        {}
func (Nop) RecordSessionRenewal()                     {}
func (Nop) RecordHTTPStatus(int)                      {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
