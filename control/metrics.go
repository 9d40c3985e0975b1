// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus collectors fed by worker flight recorders and connections.

package control

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hioload_flow"

type workerCounters struct {
	ticks, idle, work       prometheus.Counter
	framesOut, framesIn     prometheus.Counter
	messagesOut, messagesIn prometheus.Counter
}

// Metrics owns a private registry so several resource contexts can coexist
// in one process. Counter handles are resolved per worker up front.
type Metrics struct {
	registry    *prometheus.Registry
	workers     []workerCounters
	teardowns   *prometheus.CounterVec
	connections prometheus.Gauge
}

// NewMetrics registers collectors labelled with resources for numWorkers workers.
func NewMetrics(resources string, numWorkers int) *Metrics {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"resources": resources}
	counter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, []string{"worker"})
	}
	ticks := counter("ticks_total", "Event loop ticks.")
	idle := counter("idle_ticks_total", "Ticks that found no work.")
	work := counter("work_total", "Units of work done by ticks.")
	framesOut := counter("frames_out_total", "Frames accepted by the substrate.")
	framesIn := counter("frames_in_total", "Frames polled from the substrate.")
	messagesOut := counter("messages_out_total", "Messages fully sent.")
	messagesIn := counter("messages_in_total", "Messages delivered to consumers.")

	m := &Metrics{
		registry: reg,
		workers:  make([]workerCounters, numWorkers),
		teardowns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "teardowns_total",
			Help:        "Connection teardowns by cause.",
			ConstLabels: labels,
		}, []string{"cause"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "connections",
			Help:        "Live connections.",
			ConstLabels: labels,
		}),
	}
	reg.MustRegister(ticks, idle, work, framesOut, framesIn, messagesOut, messagesIn, m.teardowns, m.connections)
	for i := range m.workers {
		w := strconv.Itoa(i)
		m.workers[i] = workerCounters{
			ticks:       ticks.WithLabelValues(w),
			idle:        idle.WithLabelValues(w),
			work:        work.WithLabelValues(w),
			framesOut:   framesOut.WithLabelValues(w),
			framesIn:    framesIn.WithLabelValues(w),
			messagesOut: messagesOut.WithLabelValues(w),
			messagesIn:  messagesIn.WithLabelValues(w),
		}
	}
	return m
}

func (m *Metrics) worker(id int) *workerCounters {
	if id < 0 || id >= len(m.workers) {
		return nil
	}
	return &m.workers[id]
}

// RecordTick implements the reactor flight recorder hook.
func (m *Metrics) RecordTick(worker, work int) {
	w := m.worker(worker)
	if w == nil {
		return
	}
	w.ticks.Inc()
	if work == 0 {
		w.idle.Inc()
		return
	}
	w.work.Add(float64(work))
}

// FramesOut counts frames accepted by the substrate on worker.
func (m *Metrics) FramesOut(worker, n int) {
	if w := m.worker(worker); w != nil {
		w.framesOut.Add(float64(n))
	}
}

// FramesIn counts frames polled on worker.
func (m *Metrics) FramesIn(worker, n int) {
	if w := m.worker(worker); w != nil {
		w.framesIn.Add(float64(n))
	}
}

// MessagesOut counts fully sent messages.
func (m *Metrics) MessagesOut(worker, n int) {
	if w := m.worker(worker); w != nil {
		w.messagesOut.Add(float64(n))
	}
}

// MessagesIn counts messages delivered to consumers.
func (m *Metrics) MessagesIn(worker, n int) {
	if w := m.worker(worker); w != nil {
		w.messagesIn.Add(float64(n))
	}
}

// ConnectionOpened increments the live connection gauge.
func (m *Metrics) ConnectionOpened() { m.connections.Inc() }

// ConnectionClosed records a teardown and decrements the gauge.
func (m *Metrics) ConnectionClosed(cause string) {
	m.connections.Dec()
	m.teardowns.WithLabelValues(cause).Inc()
}

// Registry exposes the underlying registry for scraping or gathering.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
