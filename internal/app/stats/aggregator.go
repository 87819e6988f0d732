// Package stats turns cumulative transport counters into rates for display.
package stats

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Interval time.Duration `mapstructure:"interval"`
	Window   int           `mapstructure:"window"`
}

func DefaultConfig() Config {
	return Config{Interval: time.Second, Window: 5}
}

// Source is what the aggregator polls. Nil transports are not live.
type Source interface {
	SendTransport() core.Transport
	RecvTransport() core.Transport
	Producer(kind domain.StreamKind) core.Producer
}

type DirectionStats struct {
	Bytes       uint64 `json:"bytes"`
	Packets     uint64 `json:"packets"`
	PacketsLost int64  `json:"packetsLost"`
	// Jitter and RoundTripTime in seconds.
	Jitter         float64 `json:"jitter"`
	RoundTripTime  float64 `json:"roundTripTime,omitempty"`
	CurrentBitrate float64 `json:"currentBitrate"`
	AverageBitrate float64 `json:"averageBitrate"`
}

type ScreenStats struct {
	Codec                   string  `json:"codec"`
	EncoderImplementation   string  `json:"encoderImplementation"`
	Width                   uint32  `json:"width"`
	Height                  uint32  `json:"height"`
	FramesPerSecond         float64 `json:"framesPerSecond"`
	FramesEncoded           uint32  `json:"framesEncoded"`
	QualityLimitationReason string  `json:"qualityLimitationReason"`
	Bitrate                 float64 `json:"bitrate"`
}

type Snapshot struct {
	Monitoring      bool           `json:"monitoring"`
	Timestamp       time.Time      `json:"timestamp"`
	Send            DirectionStats `json:"send"`
	Recv            DirectionStats `json:"recv"`
	Screen          *ScreenStats   `json:"screen,omitempty"`
	GuardViolations uint64         `json:"guardViolations"`
}

// counter derives a bitrate from consecutive cumulative byte counts.
type counter struct {
	bytes uint64
	at    time.Time
	ok    bool
}

// rate returns bits per second since the previous sample, 0 unless both the
// byte delta and the elapsed time are positive.
func (c *counter) rate(bytes uint64, at time.Time) float64 {
	var r float64
	if c.ok && bytes > c.bytes {
		if dt := at.Sub(c.at).Seconds(); dt > 0 {
			r = float64(bytes-c.bytes) * 8 / dt
		}
	}
	c.bytes, c.at, c.ok = bytes, at, true
	return r
}

type direction struct {
	counter
	window *Window
	stats  DirectionStats
}

func (d *direction) reset() {
	d.counter = counter{}
	d.window.Reset()
	d.stats = DirectionStats{}
}

type screen struct {
	counter
	producerID string
	stats      *ScreenStats
}

// Aggregator polls transports on a fixed interval. It stops by itself once
// neither transport is live.
type Aggregator struct {
	cfg     Config
	metrics *Metrics
	now     func() time.Time

	mu         sync.Mutex
	send       direction
	recv       direction
	screen     screen
	violations uint64
	last       time.Time
	monitoring bool
	cancel     context.CancelFunc
	done       chan struct{}
}

func NewAggregator(cfg Config, metrics *Metrics) *Aggregator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	return &Aggregator{
		cfg:     cfg,
		metrics: metrics,
		now:     time.Now,
		send:    direction{window: NewWindow(cfg.Window)},
		recv:    direction{window: NewWindow(cfg.Window)},
	}
}

// Start begins polling src. A running poller is replaced.
func (a *Aggregator) Start(ctx context.Context, src Source) {
	a.Stop()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	a.mu.Lock()
	a.cancel, a.done = cancel, done
	a.monitoring = true
	a.mu.Unlock()
	a.metrics.setMonitoring(true)

	go a.loop(ctx, src, done)
	log.Info().Str("module", "stats").Dur("interval", a.cfg.Interval).Msg("monitoring started")
}

func (a *Aggregator) loop(ctx context.Context, src Source, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !a.poll(ctx, src) {
				a.mu.Lock()
				a.monitoring = false
				a.mu.Unlock()
				a.metrics.setMonitoring(false)
				log.Info().Str("module", "stats").Msg("no live transports, monitoring stopped")
				return
			}
		}
	}
}

// Stop halts polling and waits for the poller to exit.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.monitoring = false
	a.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	a.metrics.setMonitoring(false)
}

func (a *Aggregator) Monitoring() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.monitoring
}

// Reset clears counters and windows. It does not touch the polling state.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.send.reset()
	a.recv.reset()
	a.screen = screen{}
	a.violations = 0
	a.last = time.Time{}
}

func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Aggregator) snapshotLocked() Snapshot {
	s := Snapshot{
		Monitoring:      a.monitoring,
		Timestamp:       a.last,
		Send:            a.send.stats,
		Recv:            a.recv.stats,
		GuardViolations: a.violations,
	}
	if a.screen.stats != nil {
		sc := *a.screen.stats
		s.Screen = &sc
	}
	return s
}

// poll takes one sample. It returns false when there is nothing left to poll.
func (a *Aggregator) poll(ctx context.Context, src Source) bool {
	send, recv := src.SendTransport(), src.RecvTransport()
	if send == nil && recv == nil {
		return false
	}

	// A failed read leaves that source's baseline and last stats in place.
	var sendReport, recvReport, screenReport core.StatsReport
	var sendOK, recvOK, screenOK bool
	if send != nil {
		sendReport, sendOK = a.fetch(ctx, send.Stats, "send")
	}
	if recv != nil {
		recvReport, recvOK = a.fetch(ctx, recv.Stats, "recv")
	}
	screenProducer := src.Producer(domain.StreamScreen)
	if screenProducer != nil {
		screenReport, screenOK = a.fetch(ctx, screenProducer.Stats, "screen")
	}

	now := a.now()
	a.mu.Lock()
	if sendOK {
		a.updateSend(sendReport, now)
	}
	if recvOK {
		a.updateRecv(recvReport, now)
	}
	switch {
	case screenProducer == nil:
		a.screen = screen{}
	case screenOK:
		a.updateScreen(screenProducer.ID(), screenReport, now)
	}
	a.last = now
	snap := a.snapshotLocked()
	a.mu.Unlock()

	a.metrics.observe(snap)
	return true
}

func (a *Aggregator) fetch(ctx context.Context, stats func(context.Context) (core.StatsReport, error), what string) (core.StatsReport, bool) {
	report, err := stats(ctx)
	if err != nil {
		log.Debug().Err(err).Str("module", "stats").Str("source", what).Msg("stats read failed")
		return nil, false
	}
	return report, true
}

func (a *Aggregator) updateSend(report core.StatsReport, now time.Time) {
	var st DirectionStats
	for _, rec := range report {
		switch rec.Type {
		case webrtc.StatsTypeOutboundRTP:
			st.Bytes += rec.BytesSent
			st.Packets += rec.PacketsSent
		case webrtc.StatsTypeRemoteInboundRTP:
			st.PacketsLost += rec.PacketsLost
			st.Jitter = max(st.Jitter, rec.Jitter)
			st.RoundTripTime = max(st.RoundTripTime, rec.RoundTripTime)
		case webrtc.StatsTypeInboundRTP:
			a.violations++
		}
	}
	a.send.apply(st, now)
}

func (a *Aggregator) updateRecv(report core.StatsReport, now time.Time) {
	var st DirectionStats
	for _, rec := range report {
		switch rec.Type {
		case webrtc.StatsTypeInboundRTP:
			st.Bytes += rec.BytesReceived
			st.Packets += rec.PacketsReceived
			st.PacketsLost += rec.PacketsLost
			st.Jitter = max(st.Jitter, rec.Jitter)
		case webrtc.StatsTypeOutboundRTP, webrtc.StatsTypeRemoteInboundRTP:
			a.violations++
		}
	}
	a.recv.apply(st, now)
}

func (d *direction) apply(st DirectionStats, now time.Time) {
	st.CurrentBitrate = d.rate(st.Bytes, now)
	d.window.Add(st.CurrentBitrate)
	st.AverageBitrate = d.window.Mean()
	d.stats = st
}

func (a *Aggregator) updateScreen(producerID string, report core.StatsReport, now time.Time) {
	if a.screen.producerID != producerID {
		a.screen = screen{producerID: producerID}
	}
	for _, rec := range report {
		if rec.Type != webrtc.StatsTypeOutboundRTP {
			continue
		}
		a.screen.stats = &ScreenStats{
			Codec:                   rec.CodecMimeType,
			EncoderImplementation:   rec.EncoderImplementation,
			Width:                   rec.FrameWidth,
			Height:                  rec.FrameHeight,
			FramesPerSecond:         rec.FramesPerSecond,
			FramesEncoded:           rec.FramesEncoded,
			QualityLimitationReason: rec.QualityLimitationReason,
			Bitrate:                 a.screen.rate(rec.BytesSent, now),
		}
		return
	}
}
