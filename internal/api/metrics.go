package api

import (
	"net/http"

	"github.com/opensource-finance/callshield/internal/domain"
	"github.com/opensource-finance/callshield/internal/rules"
	"github.com/opensource-finance/callshield/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// dropCounter is implemented by buses that shed messages under load.
type dropCounter interface {
	Dropped() int64
}

type metricDescs struct {
	live     *prometheus.Desc
	started  *prometheus.Desc
	alerts   *prometheus.Desc
	reports  *prometheus.Desc
	patterns *prometheus.Desc
	dropped  *prometheus.Desc
}

// sessionCollector reads manager totals at scrape time.
type sessionCollector struct {
	sessions *session.Manager
	matcher  *rules.Matcher
	bus      domain.EventBus
	descs    metricDescs
}

func newSessionCollector(sessions *session.Manager, matcher *rules.Matcher, bus domain.EventBus) *sessionCollector {
	return &sessionCollector{
		sessions: sessions,
		matcher:  matcher,
		bus:      bus,
		descs: metricDescs{
			live:     prometheus.NewDesc("callshield_sessions_live", "Sessions currently registered.", nil, nil),
			started:  prometheus.NewDesc("callshield_sessions_started_total", "Sessions started successfully.", nil, nil),
			alerts:   prometheus.NewDesc("callshield_alerts_total", "Critical alerts raised.", nil, nil),
			reports:  prometheus.NewDesc("callshield_reports_total", "Session reports produced.", nil, nil),
			patterns: prometheus.NewDesc("callshield_patterns_loaded", "Sensitive patterns in the matcher.", nil, nil),
			dropped:  prometheus.NewDesc("callshield_bus_dropped_total", "Bus messages dropped for slow subscribers.", nil, nil),
		},
	}
}

func (c *sessionCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.descs.live
	ch <- c.descs.started
	ch <- c.descs.alerts
	ch <- c.descs.reports
	ch <- c.descs.patterns
	ch <- c.descs.dropped
}

func (c *sessionCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.sessions.Stats()
	ch <- prometheus.MustNewConstMetric(c.descs.live, prometheus.GaugeValue, float64(st.Live))
	ch <- prometheus.MustNewConstMetric(c.descs.started, prometheus.CounterValue, float64(st.Started))
	ch <- prometheus.MustNewConstMetric(c.descs.alerts, prometheus.CounterValue, float64(st.Alerts))
	ch <- prometheus.MustNewConstMetric(c.descs.reports, prometheus.CounterValue, float64(st.Reports))
	ch <- prometheus.MustNewConstMetric(c.descs.patterns, prometheus.GaugeValue, float64(c.matcher.Count()))

	if d, ok := c.bus.(dropCounter); ok {
		ch <- prometheus.MustNewConstMetric(c.descs.dropped, prometheus.CounterValue, float64(d.Dropped()))
	}
}

// metricsHandler serves the Prometheus exposition for this process.
func metricsHandler(sessions *session.Manager, matcher *rules.Matcher, bus domain.EventBus) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		newSessionCollector(sessions, matcher, bus),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
