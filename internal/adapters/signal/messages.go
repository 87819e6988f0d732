package signal

import (
	"encoding/json"

	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/domain"
	"github.com/pion/webrtc/v4"
)

const (
	methodJoin            = "join"
	methodLeave           = "leave"
	methodCreateTransport = "createWebRtcTransport"
	methodConnect         = "connectTransport"
	methodProduce         = "produce"
	methodConsume         = "consume"
	methodGetProducers    = "getProducers"
	methodCloseProducer   = "closeProducer"
)

type request struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Data   any    `json:"data,omitempty"`
}

// inbound is either a response (ID set) or a notification.
type inbound struct {
	ID           string          `json:"id,omitempty"`
	OK           bool            `json:"ok"`
	Data         json.RawMessage `json:"data,omitempty"`
	Error        string          `json:"error,omitempty"`
	Notification bool            `json:"notification,omitempty"`
	Method       string          `json:"method,omitempty"`
}

type joinRequest struct {
	ChannelID     domain.ChannelID     `json:"channelId"`
	ParticipantID domain.ParticipantID `json:"participantId"`
}

type joinResponse struct {
	RouterRTPCapabilities core.Capabilities `json:"routerRtpCapabilities"`
}

type createTransportRequest struct {
	Direction core.Direction `json:"direction"`
}

type connectRequest struct {
	TransportID    string                `json:"transportId"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
}

type produceRequest struct {
	TransportID   string             `json:"transportId"`
	Kind          domain.StreamKind  `json:"kind"`
	RTPParameters core.RTPParameters `json:"rtpParameters"`
}

type produceResponse struct {
	ID string `json:"id"`
}

type consumeRequest struct {
	Kind            domain.StreamKind    `json:"kind"`
	ParticipantID   domain.ParticipantID `json:"participantId"`
	RTPCapabilities core.Capabilities    `json:"rtpCapabilities"`
}

type closeProducerRequest struct {
	Kind domain.StreamKind `json:"kind"`
}

type producerNotification struct {
	ParticipantID domain.ParticipantID `json:"participantId"`
	Kind          string               `json:"kind"`
}
