// ABOUTME: Prometheus metrics for the renderer
// ABOUTME: Pipeline and RAOP counters are read at scrape time; track and stream events are counted as they happen
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Resonate-Protocol/resonate-renderer/pkg/msg"
	"github.com/Resonate-Protocol/resonate-renderer/pkg/raop"
)

const namespace = "renderer"

// Sources are polled on every scrape. Nil sources are skipped.
type Sources struct {
	Pools       func() []msg.PoolStats
	Starvations func() uint64
	Dropouts    func() uint64
	Frames      func() uint64
	RAOP        func() raop.Stats
}

// Metrics owns a registry with the renderer collectors
type Metrics struct {
	registry *prometheus.Registry
	tracks   *prometheus.CounterVec
	streams  *prometheus.CounterVec
}

func New(src Sources) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tracks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracks_total",
			Help:      "Tracks that reached the output or failed before it.",
		}, []string{"result"}),
		streams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_total",
			Help:      "Streams ended, by scheme and result.",
		}, []string{"scheme", "result"}),
	}
	m.registry.MustRegister(m.tracks, m.streams, &collector{src: src})
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// StreamEnded counts one finished Stream call
func (m *Metrics) StreamEnded(scheme, result string) {
	m.streams.WithLabelValues(scheme, result).Inc()
}

// NotifyTrackPlay implements pipeline.TrackObserver
func (m *Metrics) NotifyTrackPlay(msg.Track) { m.tracks.WithLabelValues("played").Inc() }

// NotifyTrackFail implements pipeline.TrackObserver
func (m *Metrics) NotifyTrackFail(msg.Track) { m.tracks.WithLabelValues("failed").Inc() }

var (
	poolCapacityDesc = prometheus.NewDesc(namespace+"_pool_capacity", "Messages a pool can hold.", []string{"pool"}, nil)
	poolInUseDesc    = prometheus.NewDesc(namespace+"_pool_in_use", "Messages currently allocated from a pool.", []string{"pool"}, nil)
	starvationsDesc  = prometheus.NewDesc(namespace+"_starvations_total", "Times the output ran out of audio.", nil, nil)
	dropoutsDesc     = prometheus.NewDesc(namespace+"_dropouts_total", "Gaps in output timing longer than the dropout threshold.", nil, nil)
	framesDesc       = prometheus.NewDesc(namespace+"_frames_total", "Audio frames written to the output.", nil, nil)
	resendsDesc      = prometheus.NewDesc(namespace+"_raop_resends_total", "RAOP packets requested again from the sender.", nil, nil)
	discardsDesc     = prometheus.NewDesc(namespace+"_raop_discards_total", "RAOP packets dropped as duplicates or late.", nil, nil)
	invalidDesc      = prometheus.NewDesc(namespace+"_raop_invalid_packets_total", "RAOP datagrams that failed to parse.", nil, nil)
	latencyDesc      = prometheus.NewDesc(namespace+"_raop_latency_samples", "Latency announced by the RAOP sender.", nil, nil)
	clockDesc        = prometheus.NewDesc(namespace+"_raop_clock_quality", "Sender clock tracking: 0 good, 1 degraded, 2 lost.", nil, nil)
)

type collector struct {
	src Sources
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		poolCapacityDesc, poolInUseDesc, starvationsDesc, dropoutsDesc, framesDesc,
		resendsDesc, discardsDesc, invalidDesc, latencyDesc, clockDesc,
	} {
		ch <- d
	}
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	if c.src.Pools != nil {
		for _, p := range c.src.Pools() {
			ch <- prometheus.MustNewConstMetric(poolCapacityDesc, prometheus.GaugeValue, float64(p.Capacity), p.Name)
			ch <- prometheus.MustNewConstMetric(poolInUseDesc, prometheus.GaugeValue, float64(p.InUse), p.Name)
		}
	}
	counter := func(d *prometheus.Desc, f func() uint64) {
		if f != nil {
			ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(f()))
		}
	}
	counter(starvationsDesc, c.src.Starvations)
	counter(dropoutsDesc, c.src.Dropouts)
	counter(framesDesc, c.src.Frames)

	if c.src.RAOP == nil {
		return
	}
	s := c.src.RAOP()
	ch <- prometheus.MustNewConstMetric(resendsDesc, prometheus.CounterValue, float64(s.Resends))
	ch <- prometheus.MustNewConstMetric(discardsDesc, prometheus.CounterValue, float64(s.Discards))
	ch <- prometheus.MustNewConstMetric(invalidDesc, prometheus.CounterValue, float64(s.InvalidPackets))
	ch <- prometheus.MustNewConstMetric(latencyDesc, prometheus.GaugeValue, float64(s.Latency))
	ch <- prometheus.MustNewConstMetric(clockDesc, prometheus.GaugeValue, float64(s.ClockQuality))
}
