package httpserver

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skobkin/creepmon/internal/sampler"
)

const metricsNamespace = "creepmon"

type runCollector struct {
	monitor Monitor
	metrics []sampleMetric

	cycles        *prometheus.Desc
	fetchErrors   *prometheus.Desc
	journalErrors *prometheus.Desc
	sampleOK      *prometheus.Desc
}

type sampleMetric struct {
	desc    *prometheus.Desc
	extract func(sample sampler.Sample) float64
}

func newRunCollector(monitor Monitor) prometheus.Collector {
	if monitor == nil {
		return nil
	}

	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "sample", name),
			help,
			labels,
			nil,
		)
	}

	collector := &runCollector{
		monitor: monitor,
		cycles: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "poll", "cycles_total"),
			"Completed poll cycles in this run.",
			nil, nil,
		),
		fetchErrors: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "poll", "fetch_errors_total"),
			"Poll cycles that produced an error sample, by kind.",
			[]string{"kind"}, nil,
		),
		journalErrors: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "journal", "errors_total"),
			"Samples that could not be appended to the journal.",
			nil, nil,
		),
		sampleOK: desc("ok", "1 when the latest sample came from a successful fetch."),
	}

	// Measurement gauges are only exported for successful samples.
	collector.metrics = []sampleMetric{
		{
			desc: desc("change_in_length_mm", "Extension of the specimen in millimetres."),
			extract: func(sample sampler.Sample) float64 {
				return sample.ChangeInLengthMM
			},
		},
		{
			desc: desc("strain_percent", "Strain of the specimen in percent."),
			extract: func(sample sampler.Sample) float64 {
				return sample.StrainPercent
			},
		},
		{
			desc: desc("temperature_celsius", "Rig temperature reported by the sensor."),
			extract: func(sample sampler.Sample) float64 {
				return sample.TemperatureC
			},
		},
		{
			desc: desc("running", "1 when the rig reports the test as running."),
			extract: func(sample sampler.Sample) float64 {
				if sample.Running {
					return 1
				}
				return 0
			},
		},
		{
			desc: desc("elapsed_seconds", "Seconds since the experiment start at capture time."),
			extract: func(sample sampler.Sample) float64 {
				return float64(sample.ElapsedSeconds)
			},
		},
		{
			desc: desc("timestamp_seconds", "Unix timestamp of the latest sample."),
			extract: func(sample sampler.Sample) float64 {
				return float64(sample.Timestamp.Unix())
			},
		},
		{
			desc: desc("age_seconds", "Seconds elapsed since the latest sample was captured."),
			extract: func(sample sampler.Sample) float64 {
				return max(0, time.Since(sample.Timestamp).Seconds())
			},
		},
	}

	return collector
}

func (c *runCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cycles
	ch <- c.fetchErrors
	ch <- c.journalErrors
	ch <- c.sampleOK
	for _, metric := range c.metrics {
		ch <- metric.desc
	}
}

func (c *runCollector) Collect(ch chan<- prometheus.Metric) {
	status := c.monitor.Status()
	ch <- prometheus.MustNewConstMetric(c.cycles, prometheus.CounterValue, float64(status.Cycles))
	for _, kind := range sampler.Kinds {
		ch <- prometheus.MustNewConstMetric(c.fetchErrors, prometheus.CounterValue, float64(status.FetchErrors[kind]), string(kind))
	}
	ch <- prometheus.MustNewConstMetric(c.journalErrors, prometheus.CounterValue, float64(status.JournalErrors))

	sample, ok := c.monitor.Latest()
	if !ok {
		return
	}
	if !sample.OK() {
		ch <- prometheus.MustNewConstMetric(c.sampleOK, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.sampleOK, prometheus.GaugeValue, 1)
	for _, metric := range c.metrics {
		ch <- prometheus.MustNewConstMetric(metric.desc, prometheus.GaugeValue, metric.extract(sample))
	}
}
