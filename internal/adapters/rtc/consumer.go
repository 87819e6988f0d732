package rtc

import (
	"sync"
	"time"

	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type rtpReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// inboundStats keeps RFC 3550 receiver statistics of one stream.
type inboundStats struct {
	clockRate uint32

	mu          sync.Mutex
	started     bool
	epoch       time.Time
	baseSeq     uint16
	maxSeq      uint16
	cycles      uint32
	received    uint64
	bytes       uint64
	lastTransit uint32
	jitter      float64
}

func (s *inboundStats) add(pkt *rtp.Packet, arrival time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.received++
	s.bytes += uint64(len(pkt.Payload))

	seq := pkt.SequenceNumber
	if !s.started {
		s.started = true
		s.epoch = arrival
		s.baseSeq, s.maxSeq = seq, seq
		s.lastTransit = s.transit(pkt, arrival)
		return
	}
	if delta := seq - s.maxSeq; delta != 0 && delta < 0x8000 {
		if seq < s.maxSeq {
			s.cycles += 1 << 16
		}
		s.maxSeq = seq
	}

	transit := s.transit(pkt, arrival)
	d := int32(transit - s.lastTransit)
	if d < 0 {
		d = -d
	}
	s.jitter += (float64(d) - s.jitter) / 16
	s.lastTransit = transit
}

func (s *inboundStats) transit(pkt *rtp.Packet, arrival time.Time) uint32 {
	units := uint32(int64(arrival.Sub(s.epoch).Seconds() * float64(s.clockRate)))
	return units - pkt.Timestamp
}

// lost is expected minus received packets, never negative.
func (s *inboundStats) lost() int64 {
	if !s.started {
		return 0
	}
	expected := int64(s.cycles) + int64(s.maxSeq) - int64(s.baseSeq) + 1
	return max(expected-int64(s.received), 0)
}

// inboundTrack accounts every packet read through it.
type inboundTrack struct {
	src   rtpReader
	stats *inboundStats
}

var _ core.RemoteTrack = (*inboundTrack)(nil)

func (t *inboundTrack) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := t.src.ReadRTP()
	if err != nil {
		return nil, err
	}
	t.stats.add(pkt, time.Now())
	return pkt, nil
}

var _ core.Consumer = (*Consumer)(nil)

type Consumer struct {
	id         string
	producerID string
	kind       domain.TrackKind
	mime       string
	ssrc       uint32
	receiver   *webrtc.RTPReceiver
	track      *inboundTrack
	onClose    func(id string)

	once   sync.Once
	events chan core.LifecycleEvent
}

func newConsumer(opts core.ConsumerOptions, receiver *webrtc.RTPReceiver, codec core.CodecParameters, ssrc uint32, onClose func(string)) *Consumer {
	c := &Consumer{
		id:         opts.ID,
		producerID: opts.ProducerID,
		kind:       opts.Kind,
		mime:       codec.MimeType,
		ssrc:       ssrc,
		receiver:   receiver,
		onClose:    onClose,
		events:     make(chan core.LifecycleEvent, 1),
	}
	c.track = &inboundTrack{stats: &inboundStats{clockRate: codec.ClockRate}}
	if receiver != nil {
		c.track.src = receiver.Track()
	}
	return c
}

func (c *Consumer) ID() string                         { return c.id }
func (c *Consumer) ProducerID() string                 { return c.producerID }
func (c *Consumer) Kind() domain.TrackKind             { return c.kind }
func (c *Consumer) Track() core.RemoteTrack            { return c.track }
func (c *Consumer) Events() <-chan core.LifecycleEvent { return c.events }

func (c *Consumer) record(now time.Time) core.StatsRecord {
	s := c.track.stats
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := core.StatsRecord{
		ID:              "IT" + c.id,
		Type:            webrtc.StatsTypeInboundRTP,
		Timestamp:       now,
		Kind:            c.kind,
		SSRC:            c.ssrc,
		BytesReceived:   s.bytes,
		PacketsReceived: s.received,
		PacketsLost:     s.lost(),
		CodecMimeType:   c.mime,
	}
	if s.clockRate > 0 {
		rec.Jitter = s.jitter / float64(s.clockRate)
	}
	return rec
}

func (c *Consumer) end(ev core.LifecycleEvent) {
	c.once.Do(func() {
		c.events <- ev
		c.stop()
		log.Info().Str("module", "rtc").Str("consumer_id", c.id).Str("reason", string(ev)).Msg("consumer ended")
	})
}

func (c *Consumer) Close() {
	c.once.Do(c.stop)
}

func (c *Consumer) stop() {
	defer close(c.events)
	if c.receiver != nil {
		if err := c.receiver.Stop(); err != nil {
			log.Debug().Err(err).Str("module", "rtc").Str("consumer_id", c.id).Msg("stop receiver")
		}
	}
	if c.onClose != nil {
		c.onClose(c.id)
	}
}
