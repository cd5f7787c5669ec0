// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 結果ラベルの値
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェア、連携サービス、ゲートウェイから利用する。
type MetricsCollector interface {
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordProviderCall(provider, operation string, err error, duration time.Duration)
	RecordTokenExchange(service, outcome string)
	RecordIdentityResolution(source string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpStatus       *prometheus.CounterVec
	requestLatency   prometheus.Histogram
	providerCalls    *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	tokenExchanges   *prometheus.CounterVec
	identityResolved *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracy_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracy_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracy_provider_calls_total",
			Help: "外部プロバイダー呼び出しの合計数",
		}, []string{"provider", "operation", "outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tracy_provider_call_duration_seconds",
			Help:    "外部プロバイダー呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "operation"}),
		tokenExchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracy_oauth_exchanges_total",
			Help: "OAuth認可コード交換の結果別の合計数",
		}, []string{"service", "outcome"}),
		identityResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracy_identity_resolutions_total",
			Help: "操作主体の解決手段別の合計数",
		}, []string{"source"}),
	}

	reg.MustRegister(
		c.httpStatus,
		c.requestLatency,
		c.providerCalls,
		c.providerLatency,
		c.tokenExchanges,
		c.identityResolved,
	)

	return c
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエスト処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordProviderCall は外部プロバイダー呼び出しの結果とレイテンシを記録する。
func (c *Collector) RecordProviderCall(provider, operation string, err error, duration time.Duration) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	c.providerCalls.WithLabelValues(provider, operation, outcome).Inc()
	c.providerLatency.WithLabelValues(provider, operation).Observe(duration.Seconds())
}

// RecordTokenExchange は認可コード交換の結果を記録する。
func (c *Collector) RecordTokenExchange(service, outcome string) {
	c.tokenExchanges.WithLabelValues(service, outcome).Inc()
}

// RecordIdentityResolution は操作主体の解決手段を記録する。
func (c *Collector) RecordIdentityResolution(source string) {
	c.identityResolved.WithLabelValues(source).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// nopCollector は何も記録しないMetricsCollector。
type nopCollector struct{}

// Nop は何も記録しないMetricsCollectorを返す。テストや計測不要な構成で使う。
func Nop() MetricsCollector { return nopCollector{} }

func (nopCollector) RecordHTTPStatus(int) {}
func (nopCollector) RecordRequestLatency(time.Duration) {}
func (nopCollector) RecordProviderCall(string, string, error, time.Duration) {}
func (nopCollector) RecordTokenExchange(string, string) {}
func (nopCollector) RecordIdentityResolution(string) {}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = nopCollector{}
)
