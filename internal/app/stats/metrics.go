package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "voiceclient"
	subsystem = "transport"
)

// Metrics mirrors the latest snapshot into prometheus gauges.
type Metrics struct {
	bitrate         *prometheus.GaugeVec
	packetsLost     *prometheus.GaugeVec
	jitter          *prometheus.GaugeVec
	roundTrip       prometheus.Gauge
	screenFPS       prometheus.Gauge
	screenBitrate   prometheus.Gauge
	guardViolations prometheus.Gauge
	monitoring      prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		bitrate: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bitrate_bits_per_second",
			Help:      "Transport bitrate by direction, current and averaged",
		}, []string{"direction", "window"}),
		packetsLost: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_lost",
			Help:      "Cumulative packets lost by direction",
		}, []string{"direction"}),
		jitter: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "jitter_seconds",
			Help:      "Interarrival jitter by direction",
		}, []string{"direction"}),
		roundTrip: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "round_trip_time_seconds",
			Help:      "Round trip time reported for the send transport",
		}),
		screenFPS: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "screen",
			Name:      "frames_per_second",
			Help:      "Encoded frame rate of the screen share",
		}),
		screenBitrate: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "screen",
			Name:      "bitrate_bits_per_second",
			Help:      "Bitrate of the screen share",
		}),
		guardViolations: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "direction_guard_violations",
			Help:      "Stats records skipped because they belong to the other direction",
		}),
		monitoring: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "monitoring",
			Help:      "1 while the stats aggregator is polling",
		}),
	}
}

func (m *Metrics) observe(s Snapshot) {
	if m == nil {
		return
	}
	for dir, d := range map[string]DirectionStats{"send": s.Send, "recv": s.Recv} {
		m.bitrate.WithLabelValues(dir, "current").Set(d.CurrentBitrate)
		m.bitrate.WithLabelValues(dir, "average").Set(d.AverageBitrate)
		m.packetsLost.WithLabelValues(dir).Set(float64(d.PacketsLost))
		m.jitter.WithLabelValues(dir).Set(d.Jitter)
	}
	m.roundTrip.Set(s.Send.RoundTripTime)
	if s.Screen != nil {
		m.screenFPS.Set(s.Screen.FramesPerSecond)
		m.screenBitrate.Set(s.Screen.Bitrate)
	} else {
		m.screenFPS.Set(0)
		m.screenBitrate.Set(0)
	}
	m.guardViolations.Set(float64(s.GuardViolations))
	m.setMonitoring(s.Monitoring)
}

func (m *Metrics) setMonitoring(on bool) {
	if m == nil {
		return
	}
	if on {
		m.monitoring.Set(1)
	} else {
		m.monitoring.Set(0)
	}
}
