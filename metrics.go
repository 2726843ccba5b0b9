package gallows

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsObserver counts lifecycle events and cache outcomes.
type MetricsObserver struct {
	installs  *prometheus.CounterVec
	deletions *prometheus.CounterVec
	requests  *prometheus.CounterVec
	active    *prometheus.GaugeVec
}

// NewMetricsObserver registers its collectors with reg.
func NewMetricsObserver(reg prometheus.Registerer) (*MetricsObserver, error) {
	m := &MetricsObserver{
		installs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gallows",
			Name:      "installs_total",
			Help:      "Worker installs by cache name and result.",
		}, []string{"cache", "result"}),
		deletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gallows",
			Name:      "stale_cache_deletions_total",
			Help:      "Stale cache deletions by result.",
		}, []string{"result"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gallows",
			Name:      "requests_total",
			Help:      "Intercepted requests by source.",
		}, []string{"source"}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gallows",
			Name:      "active_cache",
			Help:      "1 for the cache name of the active worker.",
		}, []string{"cache"}),
	}
	for _, c := range []prometheus.Collector{m.installs, m.deletions, m.requests, m.active} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *MetricsObserver) Installing(string)  {}
func (m *MetricsObserver) Opened(string, int) {}

func (m *MetricsObserver) Installed(cache string) {
	m.installs.WithLabelValues(cache, "ok").Inc()
}

func (m *MetricsObserver) InstallFailed(cache string, _ error) {
	m.installs.WithLabelValues(cache, "failed").Inc()
}

func (m *MetricsObserver) Activated(cache string) {
	m.active.Reset()
	m.active.WithLabelValues(cache).Set(1)
}

func (m *MetricsObserver) Deleting(string) {
	m.deletions.WithLabelValues("attempted").Inc()
}

func (m *MetricsObserver) DeleteFailed(string, error) {
	m.deletions.WithLabelValues("failed").Inc()
}

func (m *MetricsObserver) Claimed(string) {}

func (m *MetricsObserver) ServedFromCache(string) {
	m.requests.WithLabelValues("cache").Inc()
}

func (m *MetricsObserver) FetchingFromNetwork(string) {
	m.requests.WithLabelValues("network").Inc()
}

func (m *MetricsObserver) FetchFailed(string, error) {
	m.requests.WithLabelValues("failed").Inc()
}
