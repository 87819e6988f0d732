// Package coretest provides in-memory implementations of the core media and
// signaling interfaces for tests.
package coretest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/domain"
	"github.com/pion/rtp"
)

var ErrWrongDirection = errors.New("operation not valid for transport direction")

// DefaultCapabilities is opus, PCMU and VP8.
func DefaultCapabilities() core.Capabilities {
	return core.Capabilities{Codecs: []core.CodecCapability{
		{Kind: domain.TrackAudio, MimeType: "audio/opus", PreferredPayloadType: 111, ClockRate: 48000, Channels: 2},
		{Kind: domain.TrackAudio, MimeType: "audio/PCMU", PreferredPayloadType: 0, ClockRate: 8000, Channels: 1},
		{Kind: domain.TrackVideo, MimeType: "video/VP8", PreferredPayloadType: 96, ClockRate: 90000},
	}}
}

type Engine struct {
	Caps core.Capabilities
	// FailNewTransport is returned by NewTransport when set.
	FailNewTransport error

	mu         sync.Mutex
	transports []*Transport
}

func NewEngine() *Engine {
	return &Engine{Caps: DefaultCapabilities()}
}

func (e *Engine) Capabilities() core.Capabilities { return e.Caps }

func (e *Engine) NewTransport(dir core.Direction, opts core.TransportOptions, _ core.Capabilities, handler core.TransportEventHandler) (core.Transport, error) {
	if e.FailNewTransport != nil {
		return nil, e.FailNewTransport
	}
	t := &Transport{id: opts.ID, dir: dir, handler: handler, state: core.TransportNew}
	e.mu.Lock()
	e.transports = append(e.transports, t)
	e.mu.Unlock()
	return t, nil
}

// Transports returns every transport created so far.
func (e *Engine) Transports() []*Transport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Transport(nil), e.transports...)
}

// Last returns the latest transport of a direction.
func (e *Engine) Last(dir core.Direction) *Transport {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.transports) - 1; i >= 0; i-- {
		if e.transports[i].dir == dir {
			return e.transports[i]
		}
	}
	return nil
}

type Transport struct {
	id      string
	dir     core.Direction
	handler core.TransportEventHandler

	mu        sync.Mutex
	state     core.TransportState
	connected bool
	closed    bool
	report    core.StatsReport
	statsErr  error
	producers []*Producer
	consumers []*Consumer
	nextID    int
}

func (t *Transport) ID() string                { return t.id }
func (t *Transport) Direction() core.Direction { return t.dir }

func (t *Transport) State() core.TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) connect(ctx context.Context) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	t.connected = true
	t.mu.Unlock()

	if _, err := t.handler(ctx, core.TransportEvent{Type: core.EventConnect, TransportID: t.id}); err != nil {
		return err
	}
	t.SetState(ctx, core.TransportConnected)
	return nil
}

func (t *Transport) Produce(ctx context.Context, track core.LocalTrack, kind domain.StreamKind, _ core.CodecOptions) (core.Producer, error) {
	if t.dir != core.DirectionSend {
		return nil, ErrWrongDirection
	}
	if err := t.connect(ctx); err != nil {
		return nil, err
	}
	codec := track.Codec()
	params := core.RTPParameters{
		Codecs: []core.CodecParameters{{MimeType: codec.MimeType, ClockRate: codec.ClockRate, Channels: uint8(codec.Channels)}},
	}
	id, err := t.handler(ctx, core.TransportEvent{Type: core.EventProduce, TransportID: t.id, Kind: kind, RTPParameters: params})
	if err != nil {
		return nil, err
	}
	p := &Producer{id: id, kind: kind, track: track, events: make(chan core.LifecycleEvent, 1)}
	t.mu.Lock()
	t.producers = append(t.producers, p)
	t.mu.Unlock()
	return p, nil
}

func (t *Transport) Consume(ctx context.Context, opts core.ConsumerOptions) (core.Consumer, error) {
	if t.dir != core.DirectionRecv {
		return nil, ErrWrongDirection
	}
	if err := t.connect(ctx); err != nil {
		return nil, err
	}
	c := NewConsumer(opts)
	t.mu.Lock()
	t.consumers = append(t.consumers, c)
	t.mu.Unlock()
	return c, nil
}

// SetStats sets the report returned by Stats.
func (t *Transport) SetStats(report core.StatsReport, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.report, t.statsErr = report, err
}

func (t *Transport) Stats(context.Context) (core.StatsReport, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append(core.StatsReport(nil), t.report...), t.statsErr
}

// SetState moves the transport to state and reports it to the handler.
func (t *Transport) SetState(ctx context.Context, state core.TransportState) {
	t.mu.Lock()
	t.state = state
	t.mu.Unlock()
	_, _ = t.handler(ctx, core.TransportEvent{Type: core.EventConnectionStateChange, TransportID: t.id, State: state})
}

func (t *Transport) Producers() []*Producer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Producer(nil), t.producers...)
}

func (t *Transport) Consumers() []*Consumer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Consumer(nil), t.consumers...)
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.state = core.TransportClosed
	producers, consumers := t.producers, t.consumers
	t.mu.Unlock()

	for _, p := range producers {
		p.End(core.LifecycleTransportClosed)
	}
	for _, c := range consumers {
		c.End(core.LifecycleTransportClosed)
	}
	return nil
}

type Producer struct {
	id    string
	kind  domain.StreamKind
	track core.LocalTrack

	mu     sync.Mutex
	report core.StatsReport

	once   sync.Once
	closed atomic.Bool
	events chan core.LifecycleEvent
}

func (p *Producer) ID() string              { return p.id }
func (p *Producer) Kind() domain.StreamKind { return p.kind }
func (p *Producer) Track() core.LocalTrack  { return p.track }

func (p *Producer) SetStats(report core.StatsReport) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.report = report
}

func (p *Producer) Stats(context.Context) (core.StatsReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append(core.StatsReport(nil), p.report...), nil
}

func (p *Producer) Events() <-chan core.LifecycleEvent { return p.events }

// End reports ev once and closes the event channel.
func (p *Producer) End(ev core.LifecycleEvent) {
	p.once.Do(func() {
		p.events <- ev
		close(p.events)
	})
}

func (p *Producer) Close() {
	p.closed.Store(true)
	p.once.Do(func() { close(p.events) })
}

func (p *Producer) Closed() bool { return p.closed.Load() }

type Consumer struct {
	id         string
	producerID string
	kind       domain.TrackKind
	track      *RemoteTrack

	once   sync.Once
	closed atomic.Bool
	events chan core.LifecycleEvent
}

var consumerSeq atomic.Int64

func NewConsumer(opts core.ConsumerOptions) *Consumer {
	id := opts.ID
	if id == "" {
		id = fmt.Sprintf("consumer-%d", consumerSeq.Add(1))
	}
	return &Consumer{
		id:         id,
		producerID: opts.ProducerID,
		kind:       opts.Kind,
		track:      NewRemoteTrack(),
		events:     make(chan core.LifecycleEvent, 1),
	}
}

func (c *Consumer) ID() string                         { return c.id }
func (c *Consumer) ProducerID() string                 { return c.producerID }
func (c *Consumer) Kind() domain.TrackKind             { return c.kind }
func (c *Consumer) Track() core.RemoteTrack            { return c.track }
func (c *Consumer) Remote() *RemoteTrack               { return c.track }
func (c *Consumer) Events() <-chan core.LifecycleEvent { return c.events }

func (c *Consumer) End(ev core.LifecycleEvent) {
	c.once.Do(func() {
		c.events <- ev
		close(c.events)
	})
}

func (c *Consumer) Close() {
	c.closed.Store(true)
	c.once.Do(func() { close(c.events) })
	c.track.Close()
}

func (c *Consumer) Closed() bool { return c.closed.Load() }

// RemoteTrack replays packets pushed with Push until closed.
type RemoteTrack struct {
	packets chan *rtp.Packet
	done    chan struct{}
	once    sync.Once
}

func NewRemoteTrack() *RemoteTrack {
	return &RemoteTrack{packets: make(chan *rtp.Packet, 64), done: make(chan struct{})}
}

func (r *RemoteTrack) Push(p *rtp.Packet) { r.packets <- p }

func (r *RemoteTrack) ReadRTP() (*rtp.Packet, error) {
	select {
	case p := <-r.packets:
		return p, nil
	case <-r.done:
		return nil, io.EOF
	}
}

func (r *RemoteTrack) Close() { r.once.Do(func() { close(r.done) }) }
