package core

import (
	"context"
	"fmt"

	"github.com/dkeye/voiceclient/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

type TransportState string

const (
	TransportNew          TransportState = "new"
	TransportConnecting   TransportState = "connecting"
	TransportConnected    TransportState = "connected"
	TransportDisconnected TransportState = "disconnected"
	TransportFailed       TransportState = "failed"
	TransportClosed       TransportState = "closed"
)

// Lost reports whether the transport can no longer carry media.
func (s TransportState) Lost() bool {
	return s == TransportFailed || s == TransportDisconnected || s == TransportClosed
}

type TransportEventType int

const (
	// EventConnect asks for the local DTLS parameters to be delivered to the SFU.
	EventConnect TransportEventType = iota
	// EventConnectionStateChange reports a new connection state.
	EventConnectionStateChange
	// EventProduce asks for a remote producer id; send transports only.
	EventProduce
)

func (t TransportEventType) String() string {
	switch t {
	case EventConnect:
		return "connect"
	case EventConnectionStateChange:
		return "connectionstatechange"
	case EventProduce:
		return "produce"
	default:
		return fmt.Sprintf("%d", int(t))
	}
}

type TransportEvent struct {
	Type           TransportEventType
	TransportID    string
	DTLSParameters webrtc.DTLSParameters
	State          TransportState
	Kind           domain.StreamKind
	RTPParameters  RTPParameters
}

// TransportEventHandler is the single dispatch function of a transport.
// The engine waits for it to return before acknowledging connect/produce; for
// EventProduce the returned string is the remote producer id.
type TransportEventHandler func(ctx context.Context, ev TransportEvent) (string, error)

// Engine is the local WebRTC-capable media engine.
type Engine interface {
	// Capabilities returns everything the engine can encode/decode.
	Capabilities() Capabilities
	NewTransport(dir Direction, opts TransportOptions, caps Capabilities, handler TransportEventHandler) (Transport, error)
}

type Transport interface {
	ID() string
	Direction() Direction
	State() TransportState
	// Produce is valid on send transports only.
	Produce(ctx context.Context, track LocalTrack, kind domain.StreamKind, codec CodecOptions) (Producer, error)
	// Consume is valid on receive transports only.
	Consume(ctx context.Context, opts ConsumerOptions) (Consumer, error)
	Stats(ctx context.Context) (StatsReport, error)
	Close() error
}

// LifecycleEvent is why a producer or consumer stopped.
type LifecycleEvent string

const (
	LifecycleTransportClosed LifecycleEvent = "transport-close"
	LifecycleTrackEnded      LifecycleEvent = "track-ended"
	LifecycleProducerClosed  LifecycleEvent = "producer-close"
	LifecycleClosed          LifecycleEvent = "closed"
)

type Producer interface {
	ID() string
	Kind() domain.StreamKind
	Track() LocalTrack
	Stats(ctx context.Context) (StatsReport, error)
	// Events yields at most one event and is then closed.
	Events() <-chan LifecycleEvent
	Close()
}

type ConsumerOptions struct {
	ID            string
	ProducerID    string
	Kind          domain.TrackKind
	RTPParameters RTPParameters
}

type Consumer interface {
	ID() string
	ProducerID() string
	Kind() domain.TrackKind
	Track() RemoteTrack
	// Events yields at most one event and is then closed.
	Events() <-chan LifecycleEvent
	Close()
}

// TrackCounters are cumulative counters of a local track.
type TrackCounters struct {
	Bytes                   uint64
	Packets                 uint64
	FramesEncoded           uint32
	FrameWidth              uint32
	FrameHeight             uint32
	EncoderImplementation   string
	QualityLimitationReason string
}

// LocalTrack is a pion track whose writes are accounted.
type LocalTrack interface {
	webrtc.TrackLocal
	Codec() webrtc.RTPCodecCapability
	Counters() TrackCounters
	// Ended is closed when the capture behind the track stops.
	Ended() <-chan struct{}
}

type RemoteTrack interface {
	ReadRTP() (*rtp.Packet, error)
}

// ConsumerKey identifies a consumer in the registry.
type ConsumerKey struct {
	Participant domain.ParticipantID `json:"participantId"`
	Kind        domain.StreamKind    `json:"kind"`
}

func (k ConsumerKey) String() string { return string(k.Participant) + "/" + string(k.Kind) }

// Sink renders or plays one consumer.
type Sink interface {
	Close()
}

type SinkFactory interface {
	NewSink(key ConsumerKey, c Consumer) (Sink, error)
}
