package jsonline

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// storeMetrics holds the prometheus collectors of one Store. A nil
// *storeMetrics records nothing.
type storeMetrics struct {
	reg        prometheus.Registerer
	collectors []prometheus.Collector

	appendedTotal prometheus.Counter
	rebuildsTotal prometheus.Counter
	persistTime   prometheus.Histogram
}

// newStoreMetrics registers the collectors of the Store at dataPath. stats is
// called on scrape, never with the Store lock held.
func newStoreMetrics(reg prometheus.Registerer, dataPath string, stats func() (Stats, error)) (*storeMetrics, error) {
	labels := prometheus.Labels{"file": dataPath}
	// A Store closed between scrape and unregister reports zeros.
	get := func() Stats {
		st, _ := stats()
		return st
	}
	m := &storeMetrics{
		reg: reg,
		appendedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "jsonline",
			Name:        "appended_records_total",
			Help:        "Records appended through this handle.",
			ConstLabels: labels,
		}),
		rebuildsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "jsonline",
			Name:        "index_rebuilds_total",
			Help:        "Full index rebuilds by scanning the data file.",
			ConstLabels: labels,
		}),
		persistTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "jsonline",
			Name:        "index_persist_duration_seconds",
			Help:        "Time to encode and write the index artifact.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
	}
	m.collectors = []prometheus.Collector{
		m.appendedTotal,
		m.rebuildsTotal,
		m.persistTime,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "jsonline",
			Name:        "records",
			Help:        "Records in the store.",
			ConstLabels: labels,
		}, func() float64 { return float64(get().Records) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "jsonline",
			Name:        "data_bytes",
			Help:        "Size of the data file covered by the index.",
			ConstLabels: labels,
		}, func() float64 { return float64(get().DataSize) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   "jsonline",
			Name:        "cache_hits_total",
			Help:        "Reads served from the record cache.",
			ConstLabels: labels,
		}, func() float64 { return float64(get().CacheHits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   "jsonline",
			Name:        "cache_misses_total",
			Help:        "Reads that decoded the record from the data file.",
			ConstLabels: labels,
		}, func() float64 { return float64(get().CacheMisses) }),
	}
	for i, c := range m.collectors {
		if err := reg.Register(c); err != nil {
			for _, r := range m.collectors[:i] {
				reg.Unregister(r)
			}
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	return m, nil
}

func (m *storeMetrics) unregister() {
	if m == nil {
		return
	}
	for _, c := range m.collectors {
		m.reg.Unregister(c)
	}
}

func (m *storeMetrics) appended(n int) {
	if m != nil {
		m.appendedTotal.Add(float64(n))
	}
}

func (m *storeMetrics) rebuilt() {
	if m != nil {
		m.rebuildsTotal.Inc()
	}
}

func (m *storeMetrics) persisted(d time.Duration) {
	if m != nil {
		m.persistTime.Observe(d.Seconds())
	}
}

// IsAlreadyRegistered reports whether err comes from registering a second
// Store for the same file on the same registry.
func IsAlreadyRegistered(err error) bool {
	var are prometheus.AlreadyRegisteredError
	return errors.As(err, &are)
}
