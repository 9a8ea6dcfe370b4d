package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics 链路与命令指标
type AppMetrics struct {
	ExchangeTotal     prometheus.Counter
	ExchangeBytes     prometheus.Counter
	FramingErrorTotal *prometheus.CounterVec // labels: reason=short|sync
	CommandTotal      *prometheus.CounterVec // labels: cmd
	UnknownCmdTotal   prometheus.Counter
	ChunkSentTotal    prometheus.Counter
	ChunkAbortTotal   prometheus.Counter
	ResponseBytes     prometheus.Counter
	RebootTotal       *prometheus.CounterVec // labels: kind=immediate|slot
	SlotRejectTotal   prometheus.Counter
	HandshakeLevel    prometheus.Gauge
	BridgeAccepted    prometheus.Counter
	BridgeActive      prometheus.Gauge
}

// NewAppMetrics 注册并返回链路指标
func NewAppMetrics(reg *prometheus.Registry) *AppMetrics {
	m := &AppMetrics{
		ExchangeTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "link_exchange_total",
			Help: "Total completed bus transactions.",
		}),
		ExchangeBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "link_exchange_bytes_total",
			Help: "Total bytes clocked over the bus.",
		}),
		FramingErrorTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "link_framing_error_total",
			Help: "Frames rejected before dispatch.",
		}, []string{"reason"}),
		CommandTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "link_command_total",
			Help: "Dispatched commands by name.",
		}, []string{"cmd"}),
		UnknownCmdTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "link_unknown_command_total",
			Help: "Requests carrying an unregistered command code.",
		}),
		ChunkSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "link_chunk_sent_total",
			Help: "Response chunks clocked out.",
		}),
		ChunkAbortTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "link_chunk_abort_total",
			Help: "Chunked sends aborted on echo mismatch.",
		}),
		ResponseBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "link_response_bytes_total",
			Help: "Response payload bytes sent.",
		}),
		RebootTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "power_reboot_total",
			Help: "Reboot commands executed by kind.",
		}, []string{"kind"}),
		SlotRejectTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "power_slot_reject_total",
			Help: "Reboot-to-slot requests rejected as out of range.",
		}),
		HandshakeLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "link_handshake_level",
			Help: "Current handshake line level.",
		}),
		BridgeAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_accept_total",
			Help: "Total accepted bridge connections.",
		}),
		BridgeActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_controller_connected",
			Help: "Whether a controller is currently attached.",
		}),
	}
	reg.MustRegister(
		m.ExchangeTotal, m.ExchangeBytes, m.FramingErrorTotal, m.CommandTotal,
		m.UnknownCmdTotal, m.ChunkSentTotal, m.ChunkAbortTotal, m.ResponseBytes,
		m.RebootTotal, m.SlotRejectTotal, m.HandshakeLevel,
		m.BridgeAccepted, m.BridgeActive,
	)
	return m
}
