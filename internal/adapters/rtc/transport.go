package rtc

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrWrongDirection  = errors.New("operation not valid for transport direction")
	ErrTransportClosed = errors.New("transport closed")
	ErrCodecNotAllowed = errors.New("codec not negotiated")
)

// Transport is one ORTC transport towards the SFU.
type Transport struct {
	id      string
	dir     core.Direction
	remote  core.TransportOptions
	caps    core.Capabilities
	handler core.TransportEventHandler
	logger  zerolog.Logger

	api      *webrtc.API
	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport

	connectMu  sync.Mutex
	connected  bool
	connectErr error

	mu        sync.Mutex
	state     core.TransportState
	closed    bool
	producers map[string]*Producer
	consumers map[string]*Consumer
}

func newTransport(dir core.Direction, remote core.TransportOptions, caps core.Capabilities, handler core.TransportEventHandler,
	api *webrtc.API, gatherer *webrtc.ICEGatherer, ice *webrtc.ICETransport, dtls *webrtc.DTLSTransport,
) *Transport {
	t := &Transport{
		id:        remote.ID,
		dir:       dir,
		remote:    remote,
		caps:      caps,
		handler:   handler,
		logger:    log.With().Str("module", "rtc").Str("transport_id", remote.ID).Str("direction", string(dir)).Logger(),
		api:       api,
		gatherer:  gatherer,
		ice:       ice,
		dtls:      dtls,
		state:     core.TransportNew,
		producers: make(map[string]*Producer),
		consumers: make(map[string]*Consumer),
	}
	ice.OnConnectionStateChange(func(s webrtc.ICETransportState) {
		t.logger.Debug().Str("ice_state", s.String()).Msg("ICE state")
		switch s {
		case webrtc.ICETransportStateChecking:
			t.setState(core.TransportConnecting)
		case webrtc.ICETransportStateDisconnected:
			t.setState(core.TransportDisconnected)
		case webrtc.ICETransportStateFailed:
			t.setState(core.TransportFailed)
		}
	})
	dtls.OnStateChange(func(s webrtc.DTLSTransportState) {
		t.logger.Debug().Str("dtls_state", s.String()).Msg("DTLS state")
		switch s {
		case webrtc.DTLSTransportStateConnected:
			t.setState(core.TransportConnected)
		case webrtc.DTLSTransportStateFailed:
			t.setState(core.TransportFailed)
		case webrtc.DTLSTransportStateClosed:
			t.setState(core.TransportClosed)
		}
	})
	return t
}

func (t *Transport) ID() string                { return t.id }
func (t *Transport) Direction() core.Direction { return t.dir }

func (t *Transport) State() core.TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// setState records s and reports it to the handler. Nothing is reported
// after Close.
func (t *Transport) setState(s core.TransportState) {
	t.mu.Lock()
	if t.closed || t.state == s {
		t.mu.Unlock()
		return
	}
	t.state = s
	t.mu.Unlock()

	t.logger.Info().Str("state", string(s)).Msg("transport state")
	if _, err := t.handler(context.Background(), core.TransportEvent{
		Type:        core.EventConnectionStateChange,
		TransportID: t.id,
		State:       s,
	}); err != nil {
		t.logger.Warn().Err(err).Msg("state handler")
	}
}

// connect delivers the local DTLS parameters through the handler once and
// then starts ICE and DTLS in the background.
func (t *Transport) connect(ctx context.Context) error {
	t.connectMu.Lock()
	defer t.connectMu.Unlock()
	if t.connected {
		return t.connectErr
	}

	local, err := t.dtls.GetLocalParameters()
	if err != nil {
		return fmt.Errorf("local dtls parameters: %w", err)
	}
	local.Role = localDTLSRole(t.remote.DTLSParameters.Role)

	if _, err := t.handler(ctx, core.TransportEvent{
		Type:           core.EventConnect,
		TransportID:    t.id,
		DTLSParameters: local,
	}); err != nil {
		return err
	}
	t.connected = true
	go t.start(local.Role)
	return nil
}

func localDTLSRole(remote webrtc.DTLSRole) webrtc.DTLSRole {
	if remote == webrtc.DTLSRoleClient {
		return webrtc.DTLSRoleServer
	}
	return webrtc.DTLSRoleClient
}

func (t *Transport) start(localRole webrtc.DTLSRole) {
	fail := func(step string, err error) {
		t.logger.Error().Err(err).Str("step", step).Msg("transport start failed")
		t.setState(core.TransportFailed)
	}

	if err := t.gatherer.Gather(); err != nil {
		fail("gather", err)
		return
	}
	if err := t.ice.SetRemoteCandidates(t.remote.ICECandidates); err != nil {
		fail("remote candidates", err)
		return
	}
	// the SFU is ICE-lite, so this side controls
	role := webrtc.ICERoleControlling
	if err := t.ice.Start(t.gatherer, t.remote.ICEParameters, &role); err != nil {
		fail("ice", err)
		return
	}
	remote := t.remote.DTLSParameters
	if localRole == webrtc.DTLSRoleClient {
		remote.Role = webrtc.DTLSRoleServer
	} else {
		remote.Role = webrtc.DTLSRoleClient
	}
	if err := t.dtls.Start(remote); err != nil {
		fail("dtls", err)
		return
	}
}

func (t *Transport) Produce(ctx context.Context, track core.LocalTrack, kind domain.StreamKind, opts core.CodecOptions) (core.Producer, error) {
	if t.dir != core.DirectionSend {
		return nil, ErrWrongDirection
	}
	if t.isClosed() {
		return nil, ErrTransportClosed
	}
	codec, ok := t.caps.Codec(track.Codec().MimeType)
	if !ok || codec.Kind != kind.TrackKind() {
		return nil, fmt.Errorf("%w: %s", ErrCodecNotAllowed, track.Codec().MimeType)
	}
	if err := t.connect(ctx); err != nil {
		return nil, err
	}

	sender, err := t.api.NewRTPSender(track, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtp sender: %w", err)
	}
	ssrc := rand.Uint32()
	params := core.RTPParameters{
		Mid: string(kind),
		Codecs: []core.CodecParameters{{
			MimeType:     codec.MimeType,
			PayloadType:  codec.PreferredPayloadType,
			ClockRate:    codec.ClockRate,
			Channels:     codec.Channels,
			Parameters:   applyCodecOptions(codec.Parameters, codec.Kind, opts),
			RTCPFeedback: codec.RTCPFeedback,
		}},
		Encodings: []core.Encoding{{SSRC: ssrc}},
		RTCP:      core.RTCPParameters{CNAME: track.StreamID(), ReducedSize: true},
	}

	id, err := t.handler(ctx, core.TransportEvent{
		Type:          core.EventProduce,
		TransportID:   t.id,
		Kind:          kind,
		RTPParameters: params,
	})
	if err != nil {
		_ = sender.Stop()
		return nil, err
	}

	if err := sender.Send(webrtc.RTPSendParameters{
		Encodings: []webrtc.RTPEncodingParameters{{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				SSRC:        webrtc.SSRC(ssrc),
				PayloadType: webrtc.PayloadType(codec.PreferredPayloadType),
			},
		}},
	}); err != nil {
		_ = sender.Stop()
		return nil, fmt.Errorf("rtp send: %w", err)
	}

	p := newProducer(id, kind, track, sender, codec, ssrc, t.removeProducer)
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		p.Close()
		return nil, ErrTransportClosed
	}
	t.producers[id] = p
	t.mu.Unlock()
	p.start()

	t.logger.Info().Str("producer_id", id).Str("kind", string(kind)).Uint32("ssrc", ssrc).Msg("producer started")
	return p, nil
}

func (t *Transport) Consume(ctx context.Context, opts core.ConsumerOptions) (core.Consumer, error) {
	if t.dir != core.DirectionRecv {
		return nil, ErrWrongDirection
	}
	if t.isClosed() {
		return nil, ErrTransportClosed
	}
	typ, err := codecType(opts.Kind)
	if err != nil {
		return nil, err
	}
	if len(opts.RTPParameters.Codecs) == 0 || len(opts.RTPParameters.Encodings) == 0 {
		return nil, fmt.Errorf("consumer %s: missing codec or encoding", opts.ID)
	}
	if err := t.connect(ctx); err != nil {
		return nil, err
	}

	receiver, err := t.api.NewRTPReceiver(typ, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtp receiver: %w", err)
	}
	codec := opts.RTPParameters.Codecs[0]
	ssrc := opts.RTPParameters.Encodings[0].SSRC
	if err := receiver.Receive(webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				SSRC:        webrtc.SSRC(ssrc),
				PayloadType: webrtc.PayloadType(codec.PayloadType),
			},
		}},
	}); err != nil {
		_ = receiver.Stop()
		return nil, fmt.Errorf("rtp receive: %w", err)
	}

	c := newConsumer(opts, receiver, codec, ssrc, t.removeConsumer)
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		c.Close()
		return nil, ErrTransportClosed
	}
	t.consumers[c.id] = c
	t.mu.Unlock()

	t.logger.Info().Str("consumer_id", c.id).Str("producer_id", opts.ProducerID).Uint32("ssrc", ssrc).Msg("consumer started")
	return c, nil
}

func (t *Transport) removeProducer(id string) {
	t.mu.Lock()
	delete(t.producers, id)
	t.mu.Unlock()
}

func (t *Transport) removeConsumer(id string) {
	t.mu.Lock()
	delete(t.consumers, id)
	t.mu.Unlock()
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Stats reports the transport record plus every producer or consumer record.
func (t *Transport) Stats(context.Context) (core.StatsReport, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}
	producers := make([]*Producer, 0, len(t.producers))
	for _, p := range t.producers {
		producers = append(producers, p)
	}
	consumers := make([]*Consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	state := t.state
	t.mu.Unlock()

	now := time.Now()
	report := core.StatsReport{{ID: "T" + t.id, Type: webrtc.StatsTypeTransport, Timestamp: now}}
	var sent, recv uint64
	for _, p := range producers {
		recs := p.records(now)
		for _, r := range recs {
			sent += r.BytesSent
		}
		report = append(report, recs...)
	}
	for _, c := range consumers {
		rec := c.record(now)
		recv += rec.BytesReceived
		report = append(report, rec)
	}
	report[0].BytesSent, report[0].BytesReceived = sent, recv
	t.logger.Trace().Str("state", string(state)).Int("records", len(report)).Msg("stats")
	return report, nil
}

// Close stops every producer and consumer with a transport-close event and
// tears down DTLS, ICE and the gatherer.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.state = core.TransportClosed
	producers, consumers := t.producers, t.consumers
	t.producers, t.consumers = map[string]*Producer{}, map[string]*Consumer{}
	t.mu.Unlock()

	for _, p := range producers {
		p.end(core.LifecycleTransportClosed)
	}
	for _, c := range consumers {
		c.end(core.LifecycleTransportClosed)
	}

	var errs []error
	if err := t.dtls.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("dtls: %w", err))
	}
	if err := t.ice.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("ice: %w", err))
	}
	if err := t.gatherer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("gatherer: %w", err))
	}
	t.logger.Info().Msg("transport closed")
	return errors.Join(errs...)
}
