// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for one named cache. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	puts      prometheus.Counter
	deletes   prometheus.Counter
	evictions prometheus.Counter
	size      prometheus.Gauge
}

// NewMetrics creates the collectors for the cache called name and registers
// them with reg.
func NewMetrics(reg prometheus.Registerer, name string) (*Metrics, error) {
	labels := prometheus.Labels{"cache": name}
	counter := func(metric, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "summer",
			Subsystem:   "cache",
			Name:        metric,
			Help:        help,
			ConstLabels: labels,
		})
	}
	m := &Metrics{
		hits:      counter("hits_total", "Total number of cache hits"),
		misses:    counter("misses_total", "Total number of cache misses"),
		puts:      counter("puts_total", "Total number of cache put operations"),
		deletes:   counter("deletes_total", "Total number of cache delete operations"),
		evictions: counter("evictions_total", "Total number of expired entries swept"),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "summer",
			Subsystem:   "cache",
			Name:        "size",
			Help:        "Current number of entries in cache",
			ConstLabels: labels,
		}),
	}

	for _, c := range []prometheus.Collector{m.hits, m.misses, m.puts, m.deletes, m.evictions, m.size} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) hit() {
	if m != nil {
		m.hits.Inc()
	}
}

func (m *Metrics) miss() {
	if m != nil {
		m.misses.Inc()
	}
}

func (m *Metrics) put(size int) {
	if m != nil {
		m.puts.Inc()
		m.size.Set(float64(size))
	}
}

func (m *Metrics) del(size int) {
	if m != nil {
		m.deletes.Inc()
		m.size.Set(float64(size))
	}
}

func (m *Metrics) evict(n, size int) {
	if m != nil && n > 0 {
		m.evictions.Add(float64(n))
		m.size.Set(float64(size))
	}
}
