// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector は認証・RPC関連のPrometheusメトリクスを収集する。
type Collector struct {
	signIn          *prometheus.CounterVec
	sessionsRevoked prometheus.Counter
	rpcRequests     *prometheus.CounterVec
	sessionsPurged  prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "importdash_sign_in_total",
			Help: "サインイン試行数（認証方式・成否別）",
		}, []string{"method", "result"}),
		sessionsRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "importdash_sessions_revoked_total",
			Help: "明示的に失効されたセッションの合計数",
		}),
		rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "importdash_rpc_requests_total",
			Help: "RPC呼び出し数（プロシージャ・結果コード別）",
		}, []string{"procedure", "code"}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "importdash_sessions_purged_total",
			Help: "クリーンアップジョブで削除された期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.signIn,
		c.sessionsRevoked,
		c.rpcRequests,
		c.sessionsPurged,
	)

	return c
}

// RecordSignIn はサインイン試行を記録する。
func (c *Collector) RecordSignIn(method string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.signIn.WithLabelValues(method, result).Inc()
}

// RecordSessionRevoked はセッション失効を記録する。
func (c *Collector) RecordSessionRevoked() {
	c.sessionsRevoked.Inc()
}

// RecordRPCRequest はRPC呼び出しを記録する。codeは"ok"またはエラーコード。
func (c *Collector) RecordRPCRequest(procedure, code string) {
	c.rpcRequests.WithLabelValues(procedure, code).Inc()
}

// RecordSessionsPurged は期限切れセッションの削除件数を記録する。
func (c *Collector) RecordSessionsPurged(count int64) {
	c.sessionsPurged.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
