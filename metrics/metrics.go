// Package metrics exports the governor's tick reports to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"thermal_governor/device/cpufreq"
	"thermal_governor/governor"
)

const namespace = "thermald"

// Metrics implements governor.Observer.
type Metrics struct {
	temperature    prometheus.Gauge
	threshold      prometheus.Gauge
	limitedMaxFreq prometheus.Gauge
	throttling     prometheus.Gauge
	nextDelay      prometheus.Gauge

	ticks          prometheus.Counter
	sensorErrors   prometheus.Counter
	limitErrors    prometheus.Counter
	releases       prometheus.Counter
	tierSelections *prometheus.CounterVec
	configReloads  prometheus.Counter

	registry *prometheus.Registry
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "temperature_celsius",
			Help:      "Last successful sensor reading in degrees Celsius.",
		}),
		threshold: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "threshold_celsius",
			Help:      "Trip point in effect at the last tick.",
		}),
		limitedMaxFreq: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "limited_max_freq_khz",
			Help:      "CPU frequency ceiling imposed by the governor, 0 when unbounded.",
		}),
		throttling: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "throttling",
			Help:      "1 while a frequency clamp is held.",
		}),
		nextDelay: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "next_sample_delay_seconds",
			Help:      "Delay before the next temperature sample.",
		}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Control loop iterations.",
		}),
		sensorErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_errors_total",
			Help:      "Failed temperature reads.",
		}),
		limitErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "limit_errors_total",
			Help:      "Failed attempts to apply or release a frequency ceiling.",
		}),
		releases: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "releases_total",
			Help:      "Times the clamp was released after cooling below the safe margin.",
		}),
		tierSelections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_selections_total",
			Help:      "Ticks that evaluated the ladder, by selected tier.",
		}, []string{"tier"}),
		configReloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_reloads_total",
			Help:      "Successful configuration file reloads.",
		}),
		registry: registry,
	}

	registry.MustRegister(
		m.temperature,
		m.threshold,
		m.limitedMaxFreq,
		m.throttling,
		m.nextDelay,
		m.ticks,
		m.sensorErrors,
		m.limitErrors,
		m.releases,
		m.tierSelections,
		m.configReloads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Observe(r governor.Report) {
	m.ticks.Inc()
	m.threshold.Set(float64(r.Threshold))
	m.nextDelay.Set(r.NextDelay.Seconds())

	if r.Throttling {
		m.throttling.Set(1)
	} else {
		m.throttling.Set(0)
	}
	if r.LimitedMaxFreq == cpufreq.Unbounded {
		m.limitedMaxFreq.Set(0)
	} else {
		m.limitedMaxFreq.Set(float64(r.LimitedMaxFreq))
	}

	if r.LimitErr != nil {
		m.limitErrors.Inc()
	}
	if r.SensorErr != nil {
		m.sensorErrors.Inc()
		return
	}
	m.temperature.Set(float64(r.Temperature))

	if r.Released {
		m.releases.Inc()
		return
	}
	if r.LimitErr == nil {
		m.tierSelections.WithLabelValues(r.Tier).Inc()
	}
}

func (m *Metrics) RecordConfigReload() {
	m.configReloads.Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
