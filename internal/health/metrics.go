package health

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"sudooom.im.relay/internal/event"
	"sudooom.im.relay/internal/router"
	"sudooom.im.relay/internal/workerpool"
)

// 投递结果标签
const (
	ResultLocal   = "local"
	ResultRemote  = "remote"
	ResultDropped = "dropped"
)

// Metrics 中继节点 Prometheus 指标
type Metrics struct {
	registry     *prometheus.Registry
	events       *prometheus.CounterVec
	rejected     *prometheus.CounterVec
	deliveries   *prometheus.CounterVec
	callSessions *prometheus.GaugeVec
}

// NewMetrics 使用独立的 Registry，connCounter 提供实时连接数
func NewMetrics(connCounter ConnectionCounter) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_events_total",
			Help: "Inbound events by name, including rejected ones.",
		}, []string{"event"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_rejected_total",
			Help: "Inbound frames dropped, by error code.",
		}, []string{"code"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_deliveries_total",
			Help: "Room deliveries by result.",
		}, []string{"result"}),
		callSessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relay_call_sessions",
			Help: "Open call sessions created on this node.",
		}, []string{"modality"}),
	}

	m.registry.MustRegister(
		m.events,
		m.rejected,
		m.deliveries,
		m.callSessions,
		prometheus.NewGoCollector(),
	)
	if connCounter != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "relay_connections",
			Help: "Live realtime connections on this node.",
		}, func() float64 { return float64(connCounter.Count()) }))
	}
	return m
}

// ObserveEvent 记录一次入站事件
func (m *Metrics) ObserveEvent(name string) {
	m.events.WithLabelValues(name).Inc()
}

// ObserveRejected 记录一次被丢弃的入站帧
func (m *Metrics) ObserveRejected(code int) {
	m.rejected.WithLabelValues(strconv.Itoa(code)).Inc()
}

// ObserveDelivery 记录一次房间投递
func (m *Metrics) ObserveDelivery(d router.Delivery) {
	switch {
	case d.Dropped():
		m.deliveries.WithLabelValues(ResultDropped).Inc()
	case d.Local > 0:
		m.deliveries.WithLabelValues(ResultLocal).Inc()
	default:
		m.deliveries.WithLabelValues(ResultRemote).Inc()
	}
}

// SessionDelta 通话会话数变化
func (m *Metrics) SessionDelta(modality event.Modality, delta float64) {
	m.callSessions.WithLabelValues(string(modality)).Add(delta)
}

// WatchPool 导出工作池的排队数与拒绝数
func (m *Metrics) WatchPool(name string, pool *workerpool.Pool) {
	labels := prometheus.Labels{"pool": name}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "relay_pool_queued",
			Help:        "Tasks waiting in a worker pool.",
			ConstLabels: labels,
		}, func() float64 { return float64(pool.Pending()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        "relay_pool_rejected_total",
			Help:        "Tasks a worker pool refused because it was full or closed.",
			ConstLabels: labels,
		}, func() float64 { return float64(pool.Stats().Rejected) }),
	)
}

// Registry 供测试读取
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
