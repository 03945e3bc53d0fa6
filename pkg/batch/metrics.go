package batch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records step and stream activity. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	itemsRead     *prometheus.CounterVec
	itemsWritten  *prometheus.CounterVec
	chunks        *prometheus.CounterVec
	replayed      *prometheus.CounterVec
	restarts      *prometheus.CounterVec
	rotations     *prometheus.CounterVec
	chunkDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg under the
// label component="batchio". A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	counter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "batchio",
			Name:      name,
			Help:      help,
		}, []string{"name"})
	}

	m := &Metrics{
		itemsRead:    counter("items_read_total", "Items returned by readers."),
		itemsWritten: counter("items_written_total", "Items handed to writers."),
		chunks:       counter("chunks_total", "Chunks committed by steps."),
		replayed:     counter("replayed_items_total", "Items re-read after a restart to reach the saved position."),
		restarts:     counter("restarts_total", "Streams opened from saved restart state."),
		rotations:    counter("rotations_total", "Destinations created by rotating writers."),
		chunkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "batchio",
			Name:      "chunk_duration_seconds",
			Help:      "Time to read, process, write and commit one chunk.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"name"}),
	}

	if reg != nil {
		reg = prometheus.WrapRegistererWith(prometheus.Labels{"component": "batchio"}, reg)
		reg.MustRegister(m.itemsRead, m.itemsWritten, m.chunks, m.replayed, m.restarts, m.rotations, m.chunkDuration)
	}
	return m
}

func (m *Metrics) read(name string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.itemsRead.WithLabelValues(name).Add(float64(n))
}

func (m *Metrics) written(name string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.itemsWritten.WithLabelValues(name).Add(float64(n))
}

func (m *Metrics) chunk(name string, d time.Duration) {
	if m == nil {
		return
	}
	m.chunks.WithLabelValues(name).Inc()
	m.chunkDuration.WithLabelValues(name).Observe(d.Seconds())
}

func (m *Metrics) restart(name string, replayed int) {
	if m == nil {
		return
	}
	m.restarts.WithLabelValues(name).Inc()
	if replayed > 0 {
		m.replayed.WithLabelValues(name).Add(float64(replayed))
	}
}

func (m *Metrics) rotation(name string) {
	if m == nil {
		return
	}
	m.rotations.WithLabelValues(name).Inc()
}
