package rtc

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/domain"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// ntpEpochOffset is the number of seconds between 1900 and 1970.
const ntpEpochOffset = 2208988800

// ntpMiddle returns the middle 32 bits of the NTP timestamp of t, the unit
// of LSR and DLSR in reception reports.
func ntpMiddle(t time.Time) uint32 {
	secs := uint64(t.Unix()) + ntpEpochOffset
	frac := uint64(t.Nanosecond()) << 32 / 1e9
	return uint32((secs<<32 | frac) >> 16)
}

// roundTrip derives the RTT of a reception report received at now.
func roundTrip(rep rtcp.ReceptionReport, now time.Time) float64 {
	if rep.LastSenderReport == 0 {
		return 0
	}
	rtt := int32(ntpMiddle(now) - rep.LastSenderReport - rep.Delay)
	if rtt < 0 {
		return 0
	}
	return float64(rtt) / 65536
}

type remoteInbound struct {
	packetsLost  int64
	fractionLost float64
	jitter       float64
	rtt          float64
	at           time.Time
}

var _ core.Producer = (*Producer)(nil)

type Producer struct {
	id      string
	kind    domain.StreamKind
	track   core.LocalTrack
	sender  *webrtc.RTPSender
	codec   core.CodecCapability
	ssrc    uint32
	onClose func(id string)

	once   sync.Once
	events chan core.LifecycleEvent
	done   chan struct{}

	mu           sync.Mutex
	remote       *remoteInbound
	lastFrames   uint32
	lastFramesAt time.Time
	fps          float64
}

func newProducer(id string, kind domain.StreamKind, track core.LocalTrack, sender *webrtc.RTPSender, codec core.CodecCapability, ssrc uint32, onClose func(string)) *Producer {
	return &Producer{
		id:      id,
		kind:    kind,
		track:   track,
		sender:  sender,
		codec:   codec,
		ssrc:    ssrc,
		onClose: onClose,
		events:  make(chan core.LifecycleEvent, 1),
		done:    make(chan struct{}),
	}
}

func (p *Producer) ID() string                         { return p.id }
func (p *Producer) Kind() domain.StreamKind            { return p.kind }
func (p *Producer) Track() core.LocalTrack             { return p.track }
func (p *Producer) Events() <-chan core.LifecycleEvent { return p.events }

func (p *Producer) start() {
	go p.readRTCP()
	go p.watchTrack()
}

func (p *Producer) watchTrack() {
	select {
	case <-p.track.Ended():
		p.end(core.LifecycleTrackEnded)
	case <-p.done:
	}
}

// readRTCP consumes what the SFU reports about this stream until the sender stops.
func (p *Producer) readRTCP() {
	for {
		pkts, _, err := p.sender.ReadRTCP()
		if err != nil {
			return
		}
		now := time.Now()
		for _, pkt := range pkts {
			switch r := pkt.(type) {
			case *rtcp.ReceiverReport:
				p.applyReports(r.Reports, now)
			case *rtcp.SenderReport:
				p.applyReports(r.Reports, now)
			}
		}
	}
}

func (p *Producer) applyReports(reports []rtcp.ReceptionReport, now time.Time) {
	for _, rep := range reports {
		if rep.SSRC != p.ssrc {
			continue
		}
		ri := &remoteInbound{
			packetsLost:  int64(rep.TotalLost),
			fractionLost: float64(rep.FractionLost) / 256,
			rtt:          roundTrip(rep, now),
			at:           now,
		}
		if p.codec.ClockRate > 0 {
			ri.jitter = float64(rep.Jitter) / float64(p.codec.ClockRate)
		}
		p.mu.Lock()
		p.remote = ri
		p.mu.Unlock()
	}
}

func (p *Producer) Stats(context.Context) (core.StatsReport, error) {
	return p.records(time.Now()), nil
}

func (p *Producer) records(now time.Time) core.StatsReport {
	c := p.track.Counters()

	p.mu.Lock()
	if !p.lastFramesAt.IsZero() && c.FramesEncoded >= p.lastFrames {
		if dt := now.Sub(p.lastFramesAt).Seconds(); dt > 0 {
			p.fps = float64(c.FramesEncoded-p.lastFrames) / dt
		}
	}
	p.lastFrames, p.lastFramesAt = c.FramesEncoded, now
	fps := p.fps
	remote := p.remote
	p.mu.Unlock()

	kind := p.kind.TrackKind()
	report := core.StatsReport{{
		ID:                      "OT" + p.id,
		Type:                    webrtc.StatsTypeOutboundRTP,
		Timestamp:               now,
		Kind:                    kind,
		SSRC:                    p.ssrc,
		BytesSent:               c.Bytes,
		PacketsSent:             c.Packets,
		CodecMimeType:           p.codec.MimeType,
		EncoderImplementation:   c.EncoderImplementation,
		FrameWidth:              c.FrameWidth,
		FrameHeight:             c.FrameHeight,
		FramesEncoded:           c.FramesEncoded,
		FramesPerSecond:         fps,
		QualityLimitationReason: c.QualityLimitationReason,
	}}
	if remote != nil {
		report = append(report, core.StatsRecord{
			ID:            "RI" + p.id,
			Type:          webrtc.StatsTypeRemoteInboundRTP,
			Timestamp:     remote.at,
			Kind:          kind,
			SSRC:          p.ssrc,
			PacketsLost:   remote.packetsLost,
			FractionLost:  remote.fractionLost,
			Jitter:        remote.jitter,
			RoundTripTime: remote.rtt,
		})
	}
	return report
}

// end reports ev once and stops sending.
func (p *Producer) end(ev core.LifecycleEvent) {
	p.once.Do(func() {
		p.events <- ev
		p.stop()
		log.Info().Str("module", "rtc").Str("producer_id", p.id).Str("reason", string(ev)).Msg("producer ended")
	})
}

func (p *Producer) Close() {
	p.once.Do(p.stop)
}

func (p *Producer) stop() {
	if p.sender != nil {
		if err := p.sender.Stop(); err != nil {
			log.Debug().Err(err).Str("module", "rtc").Str("producer_id", p.id).Msg("stop sender")
		}
	}
	if p.onClose != nil {
		p.onClose(p.id)
	}
	close(p.done)
	close(p.events)
}
