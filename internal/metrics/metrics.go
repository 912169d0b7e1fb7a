// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// トリオ確定の経路（sourceラベル）
const (
	SourceQueue     = "queue"
	SourceFill      = "fill"
	SourceRandomize = "randomize"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワーカーやサービス層から利用する。
type MetricsCollector interface {
	RecordJoin(outcome string)
	RecordLeave(removed bool)
	RecordTrioFormed(source string, size int)
	RecordCommitConflict(source string)
	RecordCommitFailure(source string)
	RecordAssemblyLatency(source string, duration time.Duration)
	RecordRandomize(outcome string)
	SetQueueLength(n int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	joins           *prometheus.CounterVec
	leaves          *prometheus.CounterVec
	triosFormed     *prometheus.CounterVec
	membersGrouped  *prometheus.CounterVec
	commitConflicts *prometheus.CounterVec
	commitFailures  *prometheus.CounterVec
	assemblyLatency *prometheus.HistogramVec
	randomizeRuns   *prometheus.CounterVec
	queueLength     prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dailytrio_joins_total",
			Help: "結果別のjoin呼び出し数",
		}, []string{"outcome"}),
		leaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dailytrio_leaves_total",
			Help: "leave呼び出し数（実際にキューから外れたかどうか別）",
		}, []string{"removed"}),
		triosFormed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dailytrio_trios_formed_total",
			Help: "経路別の確定したトリオ数",
		}, []string{"source"}),
		membersGrouped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dailytrio_members_grouped_total",
			Help: "経路別のトリオに所属したユーザー数",
		}, []string{"source"}),
		commitConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dailytrio_commit_conflicts_total",
			Help: "競合により確定できなかったグループ数",
		}, []string{"source"}),
		commitFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dailytrio_commit_failures_total",
			Help: "競合以外の理由で確定できなかったグループ数",
		}, []string{"source"}),
		assemblyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dailytrio_assembly_latency_seconds",
			Help:    "1回の編成処理のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
		randomizeRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dailytrio_randomize_total",
			Help: "結果別のランダム再編成の実行数",
		}, []string{"outcome"}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dailytrio_queue_length",
			Help: "直近に観測した当日のキュー人数",
		}),
	}

	reg.MustRegister(
		c.joins,
		c.leaves,
		c.triosFormed,
		c.membersGrouped,
		c.commitConflicts,
		c.commitFailures,
		c.assemblyLatency,
		c.randomizeRuns,
		c.queueLength,
	)

	return c
}

// RecordJoin はjoinの結果（matched, queued, already_grouped, error）を記録する。
func (c *Collector) RecordJoin(outcome string) {
	c.joins.WithLabelValues(outcome).Inc()
}

// RecordLeave はleaveを記録する。
func (c *Collector) RecordLeave(removed bool) {
	label := "false"
	if removed {
		label = "true"
	}
	c.leaves.WithLabelValues(label).Inc()
}

// RecordTrioFormed はトリオ確定を記録する。sizeは新たに所属したユーザー数。
func (c *Collector) RecordTrioFormed(source string, size int) {
	c.triosFormed.WithLabelValues(source).Inc()
	c.membersGrouped.WithLabelValues(source).Add(float64(size))
}

// RecordCommitConflict は確定時の競合を記録する。
func (c *Collector) RecordCommitConflict(source string) {
	c.commitConflicts.WithLabelValues(source).Inc()
}

// RecordCommitFailure は競合以外の確定失敗を記録する。
func (c *Collector) RecordCommitFailure(source string) {
	c.commitFailures.WithLabelValues(source).Inc()
}

// RecordAssemblyLatency は編成処理のレイテンシを記録する。
func (c *Collector) RecordAssemblyLatency(source string, duration time.Duration) {
	c.assemblyLatency.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordRandomize はランダム再編成の結果（complete, partial, insufficient, error）を記録する。
func (c *Collector) RecordRandomize(outcome string) {
	c.randomizeRuns.WithLabelValues(outcome).Inc()
}

// SetQueueLength は当日のキュー人数を記録する。
func (c *Collector) SetQueueLength(n int) {
	c.queueLength.Set(float64(n))
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordJoin(string)                           {}
func (Nop) RecordLeave(bool)                            {}
func (Nop) RecordTrioFormed(string, int)                {}
func (Nop) RecordCommitConflict(string)                 {}
func (Nop) RecordCommitFailure(string)                  {}
func (Nop) RecordAssemblyLatency(string, time.Duration) {}
func (Nop) RecordRandomize(string)                      {}
func (Nop) SetQueueLength(int)                          {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		// 一部のコレクターが失敗しても残りは返す
		ErrorHandling: promhttp.ContinueOnError,
	})
}
