// Package metrics holds the ingestion counters. They live on a private
// registry and are exported once per run to a node-exporter textfile.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "contribs"

// Drop reasons.
const (
	ReasonMalformed = "malformed"
	ReasonDuplicate = "duplicate"
)

type Metrics struct {
	reg *prometheus.Registry

	pages         *prometheus.CounterVec
	records       *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	added         *prometheus.CounterVec
	undated       *prometheus.CounterVec
	transport     *prometheus.CounterVec
	earlyStops    *prometheus.CounterVec
	persistence   *prometheus.CounterVec
	storeSize     *prometheus.GaugeVec
	lastSuccessTS *prometheus.GaugeVec
	runDur        prometheus.Summary
}

func New() *Metrics {
	m := &Metrics{reg: prometheus.NewRegistry()}
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	}
	m.pages = counter("pages_fetched_total", "Pages requested from upstream", "source")
	m.records = counter("records_fetched_total", "Raw records returned by upstream", "source")
	m.dropped = counter("records_dropped_total", "Records discarded before merge", "source", "reason")
	m.added = counter("events_added_total", "Events newly merged into the store", "source")
	m.undated = counter("events_undated_total", "Extracted events without a parseable date", "source")
	m.transport = counter("transport_failures_total", "Requests that failed after all retries", "source")
	m.earlyStops = counter("early_stops_total", "Paginations cut short by the known-run threshold", "source")
	m.persistence = counter("persistence_failures_total", "Store documents that could not be written", "source")
	m.storeSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "store_events",
		Help:      "Events held in the persisted store after the run",
	}, []string{"source"})
	m.lastSuccessTS = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last run that persisted the store",
	}, []string{"source"})
	m.runDur = prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Wall time of a full ingestion run",
	})
	m.reg.MustRegister(
		m.pages, m.records, m.dropped, m.added, m.undated, m.transport,
		m.earlyStops, m.persistence, m.storeSize, m.lastSuccessTS, m.runDur,
	)
	return m
}

// A nil *Metrics is valid and records nothing.

func (m *Metrics) Page(source string, records int) {
	if m == nil {
		return
	}
	m.pages.WithLabelValues(source).Inc()
	m.records.WithLabelValues(source).Add(float64(records))
}

func (m *Metrics) Dropped(source, reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.dropped.WithLabelValues(source, reason).Add(float64(n))
}

func (m *Metrics) Added(source string, n int) {
	if m == nil {
		return
	}
	m.added.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) Undated(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.undated.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) TransportFailure(source string) {
	if m == nil {
		return
	}
	m.transport.WithLabelValues(source).Inc()
}

func (m *Metrics) EarlyStop(source string) {
	if m == nil {
		return
	}
	m.earlyStops.WithLabelValues(source).Inc()
}

func (m *Metrics) PersistenceFailure(source string) {
	if m == nil {
		return
	}
	m.persistence.WithLabelValues(source).Inc()
}

// Persisted records the store size and marks the source as successful.
func (m *Metrics) Persisted(source string, size int, at time.Time) {
	if m == nil {
		return
	}
	m.storeSize.WithLabelValues(source).Set(float64(size))
	m.lastSuccessTS.WithLabelValues(source).Set(float64(at.Unix()))
}

func (m *Metrics) ObserveRun(d time.Duration) {
	if m == nil {
		return
	}
	m.runDur.Observe(d.Seconds())
}

// WriteTextfile writes the registry in the text exposition format,
// replacing path atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.reg)
}

// Dump returns a compact one-line snapshot of the counters, for logging.
func (m *Metrics) Dump() string {
	if m == nil {
		return ""
	}
	families, err := m.reg.Gather()
	if err != nil {
		return ""
	}
	var out []string
	for _, mf := range families {
		name := strings.TrimPrefix(mf.GetName(), namespace+"_")
		for _, metric := range mf.GetMetric() {
			var v float64
			switch {
			case metric.GetCounter() != nil:
				v = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				v = metric.GetGauge().GetValue()
			default:
				continue
			}
			labels := make([]string, 0, len(metric.GetLabel()))
			for _, lp := range metric.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			out = append(out, fmt.Sprintf("%s{%s} %g", name, strings.Join(labels, ","), v))
		}
	}
	sort.Strings(out)
	return strings.Join(out, " ")
}
