// Package metrics exports Prometheus metrics for the download and decode pipelines.
package metrics

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "upturn"

// Pipeline records fetch and decode telemetry. A nil *Pipeline records nothing.
type Pipeline struct {
	fetchTotal       *prometheus.CounterVec
	fetchDuration    prometheus.Histogram
	fetchBytes       prometheus.Histogram
	decodeTotal      *prometheus.CounterVec
	decodeDuration   prometheus.Histogram
	decodeSuperseded prometheus.Counter
	inFlight         prometheus.Gauge
}

// NewPipeline registers the pipeline collectors on reg
func NewPipeline(reg prometheus.Registerer) (*Pipeline, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &Pipeline{
		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_total",
			Help:      "Downloads by result.",
		}, []string{"result"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of downloads in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
		fetchBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_bytes",
			Help:      "Size of stored downloads in bytes.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		}),
		decodeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_total",
			Help:      "Decodes by result and sample factor.",
		}, []string{"result", "sample_factor"}),
		decodeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decode_duration_seconds",
			Help:      "Duration of decode, scale and rotate in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
		decodeSuperseded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_superseded_total",
			Help:      "Decode results discarded because a newer request replaced them.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "downloads_in_flight",
			Help:      "Downloads currently running.",
		}),
	}

	var err error
	if p.fetchTotal, err = register(reg, p.fetchTotal); err != nil {
		return nil, err
	}
	if p.fetchDuration, err = register(reg, p.fetchDuration); err != nil {
		return nil, err
	}
	if p.fetchBytes, err = register(reg, p.fetchBytes); err != nil {
		return nil, err
	}
	if p.decodeTotal, err = register(reg, p.decodeTotal); err != nil {
		return nil, err
	}
	if p.decodeDuration, err = register(reg, p.decodeDuration); err != nil {
		return nil, err
	}
	if p.decodeSuperseded, err = register(reg, p.decodeSuperseded); err != nil {
		return nil, err
	}
	if p.inFlight, err = register(reg, p.inFlight); err != nil {
		return nil, err
	}
	return p, nil
}

// register adds c to reg, reusing an identical collector that is already registered
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register pipeline metric: %w", err)
	}
	return c, nil
}

// RecordFetch tracks one download outcome. result is "success" or a failure kind.
func (p *Pipeline) RecordFetch(result string, bytes int64, duration time.Duration) {
	if p == nil {
		return
	}
	p.fetchTotal.WithLabelValues(result).Inc()
	p.fetchDuration.Observe(duration.Seconds())
	if bytes > 0 {
		p.fetchBytes.Observe(float64(bytes))
	}
}

// RecordDecode tracks one decode
func (p *Pipeline) RecordDecode(result string, sampleFactor int, duration time.Duration) {
	if p == nil {
		return
	}
	p.decodeTotal.WithLabelValues(result, strconv.Itoa(sampleFactor)).Inc()
	p.decodeDuration.Observe(duration.Seconds())
}

// RecordSuperseded counts a decode result that was dropped
func (p *Pipeline) RecordSuperseded() {
	if p == nil {
		return
	}
	p.decodeSuperseded.Inc()
}

// DownloadStarted increments the in-flight gauge
func (p *Pipeline) DownloadStarted() {
	if p == nil {
		return
	}
	p.inFlight.Inc()
}

// DownloadFinished decrements the in-flight gauge
func (p *Pipeline) DownloadFinished() {
	if p == nil {
		return
	}
	p.inFlight.Dec()
}
