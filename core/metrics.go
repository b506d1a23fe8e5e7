package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeWritten  = "written"
	outcomeSkipped  = "skipped"
	outcomeFailed   = "failed"
	outcomeFiltered = "filtered"
	outcomeDropped  = "dropped"
)

// Metrics 路由表的处理器指标
type Metrics struct {
	records *prometheus.CounterVec
	latency *prometheus.HistogramVec
	reloads *prometheus.CounterVec
}

// NewMetrics 创建指标并注册到 reg，reg 为 nil 时不注册
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orbisat",
			Subsystem: "log",
			Name:      "records_total",
			Help:      "Records seen by each handler, by outcome.",
		}, []string{"handler", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orbisat",
			Subsystem: "log",
			Name:      "write_duration_seconds",
			Help:      "Time spent formatting and writing one record.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 2, 5},
		}, []string{"handler"}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orbisat",
			Subsystem: "log",
			Name:      "reloads_total",
			Help:      "Routing table reloads, by result.",
		}, []string{"result"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.records, m.latency, m.reloads} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) record(handler, outcome string) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(handler, outcome).Inc()
}

func (m *Metrics) observe(handler string, start time.Time) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(handler).Observe(time.Since(start).Seconds())
}

func (m *Metrics) reload(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.reloads.WithLabelValues(result).Inc()
}
