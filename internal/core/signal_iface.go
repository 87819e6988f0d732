package core

import (
	"context"

	"github.com/dkeye/voiceclient/internal/domain"
	"github.com/pion/webrtc/v4"
)

// TransportOptions are the server side parameters of a transport.
// They are opaque to the core and handed to the media engine as-is.
type TransportOptions struct {
	ID             string                `json:"id"`
	ICEParameters  webrtc.ICEParameters  `json:"iceParameters"`
	ICECandidates  []webrtc.ICECandidate `json:"iceCandidates"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
}

type ConsumeResponse struct {
	ID            string           `json:"id"`
	ProducerID    string           `json:"producerId"`
	Kind          domain.TrackKind `json:"kind"`
	RTPParameters RTPParameters    `json:"rtpParameters"`
}

// ActiveProducers groups the remote participants currently producing, by kind.
type ActiveProducers map[domain.StreamKind][]domain.ParticipantID

// Count returns the number of producers over all kinds.
func (a ActiveProducers) Count() int {
	n := 0
	for _, ids := range a {
		n += len(ids)
	}
	return n
}

//go:generate mockgen -source=signal_iface.go -destination=mock/signaling.go -package=mock

// Signaling is the RPC boundary towards the SFU.
// Every call is request/response, fallible and never retried at this layer.
type Signaling interface {
	CreateSendTransport(ctx context.Context) (TransportOptions, error)
	CreateRecvTransport(ctx context.Context) (TransportOptions, error)
	ConnectTransport(ctx context.Context, transportID string, dtls webrtc.DTLSParameters) error
	Produce(ctx context.Context, transportID string, kind domain.StreamKind, params RTPParameters) (string, error)
	Consume(ctx context.Context, kind domain.StreamKind, remote domain.ParticipantID, caps Capabilities) (ConsumeResponse, error)
	ActiveProducers(ctx context.Context) (ActiveProducers, error)
	CloseProducer(ctx context.Context, kind domain.StreamKind) error
}

type RemoteEventType string

const (
	RemoteProducerAdded  RemoteEventType = "newProducer"
	RemoteProducerClosed RemoteEventType = "producerClosed"
)

// RemoteEvent is a notification pushed by the SFU about another participant.
type RemoteEvent struct {
	Type        RemoteEventType      `json:"type"`
	Participant domain.ParticipantID `json:"participantId"`
	Kind        domain.StreamKind    `json:"kind"`
}

// Membership is the channel side of signaling: entering a channel yields the
// router capabilities a voice session is initialized with.
type Membership interface {
	Join(ctx context.Context, channel domain.ChannelID, participant domain.ParticipantID) (Capabilities, error)
	Leave(ctx context.Context) error
}
