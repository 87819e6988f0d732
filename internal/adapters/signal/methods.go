package signal

import (
	"context"

	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Join enters channel as participant and returns the router capabilities
// used to Init the voice session.
func (c *Client) Join(ctx context.Context, channel domain.ChannelID, participant domain.ParticipantID) (core.Capabilities, error) {
	var resp joinResponse
	if err := c.call(ctx, methodJoin, joinRequest{ChannelID: channel, ParticipantID: participant}, &resp); err != nil {
		return core.Capabilities{}, err
	}
	return resp.RouterRTPCapabilities, nil
}

func (c *Client) Leave(ctx context.Context) error {
	return c.call(ctx, methodLeave, nil, nil)
}

func (c *Client) CreateSendTransport(ctx context.Context) (core.TransportOptions, error) {
	return c.createTransport(ctx, core.DirectionSend)
}

func (c *Client) CreateRecvTransport(ctx context.Context) (core.TransportOptions, error) {
	return c.createTransport(ctx, core.DirectionRecv)
}

func (c *Client) createTransport(ctx context.Context, dir core.Direction) (core.TransportOptions, error) {
	var opts core.TransportOptions
	err := c.call(ctx, methodCreateTransport, createTransportRequest{Direction: dir}, &opts)
	return opts, err
}

func (c *Client) ConnectTransport(ctx context.Context, transportID string, dtls webrtc.DTLSParameters) error {
	return c.call(ctx, methodConnect, connectRequest{TransportID: transportID, DTLSParameters: dtls}, nil)
}

func (c *Client) Produce(ctx context.Context, transportID string, kind domain.StreamKind, params core.RTPParameters) (string, error) {
	var resp produceResponse
	err := c.call(ctx, methodProduce, produceRequest{TransportID: transportID, Kind: kind, RTPParameters: params}, &resp)
	return resp.ID, err
}

func (c *Client) Consume(ctx context.Context, kind domain.StreamKind, remote domain.ParticipantID, caps core.Capabilities) (core.ConsumeResponse, error) {
	var resp core.ConsumeResponse
	err := c.call(ctx, methodConsume, consumeRequest{Kind: kind, ParticipantID: remote, RTPCapabilities: caps}, &resp)
	return resp, err
}

// ActiveProducers lists producers by kind. Kinds this client does not know
// are skipped.
func (c *Client) ActiveProducers(ctx context.Context) (core.ActiveProducers, error) {
	var raw map[string][]domain.ParticipantID
	if err := c.call(ctx, methodGetProducers, nil, &raw); err != nil {
		return nil, err
	}
	out := make(core.ActiveProducers, len(raw))
	for k, ids := range raw {
		kind, err := domain.ParseStreamKind(k)
		if err != nil {
			log.Warn().Err(err).Str("module", "signal").Msg("skipping producers")
			continue
		}
		out[kind] = ids
	}
	return out, nil
}

func (c *Client) CloseProducer(ctx context.Context, kind domain.StreamKind) error {
	return c.call(ctx, methodCloseProducer, closeProducerRequest{Kind: kind}, nil)
}
