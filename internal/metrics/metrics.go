// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tally"

type Metrics struct {
	balanceLookups  *prometheus.CounterVec
	priceResolves   *prometheus.CounterVec
	fetchAttempts   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	txOutcomes      *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	registry    *Metrics
)

// Get returns the lazily-initialised metrics registry
func Get() *Metrics {
	metricsOnce.Do(func() {
		registry = &Metrics{
			balanceLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "balance",
				Name:      "lookups_total",
				Help:      "Balance lookups segmented by cache result.",
			}, []string{"result"}),
			priceResolves: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "price",
				Name:      "resolves_total",
				Help:      "Price resolutions segmented by venue and winning source.",
			}, []string{"venue", "source"}),
			fetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "fetch",
				Name:      "attempts_total",
				Help:      "Retryable fetch attempts segmented by outcome.",
			}, []string{"outcome"}),
			providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for data provider requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"provider", "outcome"}),
			txOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tx",
				Name:      "outcomes_total",
				Help:      "Submitted transactions segmented by action and outcome.",
			}, []string{"action", "outcome"}),
		}
		prometheus.MustRegister(
			registry.balanceLookups,
			registry.priceResolves,
			registry.fetchAttempts,
			registry.providerLatency,
			registry.txOutcomes,
		)
	})
	return registry
}

func (m *Metrics) BalanceLookup(result string) {
	if m == nil {
		return
	}
	m.balanceLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) PriceResolved(venue, source string) {
	if m == nil {
		return
	}
	m.priceResolves.WithLabelValues(venue, source).Inc()
}

func (m *Metrics) FetchAttempt(outcome string) {
	if m == nil {
		return
	}
	m.fetchAttempts.WithLabelValues(outcome).Inc()
}

// ObserveProvider records the latency of a provider request started at start
func (m *Metrics) ObserveProvider(provider string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.providerLatency.WithLabelValues(provider, outcome).Observe(time.Since(start).Seconds())
}

func (m *Metrics) TxOutcome(action, outcome string) {
	if m == nil {
		return
	}
	m.txOutcomes.WithLabelValues(action, outcome).Inc()
}
