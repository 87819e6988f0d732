package sfu

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/core/coretest"
	"github.com/dkeye/voiceclient/internal/core/mock"
	"github.com/dkeye/voiceclient/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestCreateTransportRequiresCapabilities(t *testing.T) {
	ctrl := gomock.NewController(t)
	tm := NewTransportManager(mock.NewMockSignaling(ctrl), coretest.NewEngine())

	assert.ErrorIs(t, tm.CreateSendTransport(context.Background(), core.Capabilities{}), core.ErrCapabilitiesNotLoaded)
	assert.ErrorIs(t, tm.CreateConsumerTransport(context.Background(), core.Capabilities{}), core.ErrCapabilitiesNotLoaded)
	assert.Nil(t, tm.SendTransport())
	assert.Nil(t, tm.RecvTransport())
}

func TestProduceRoundTripsThroughSignaling(t *testing.T) {
	ctrl := gomock.NewController(t)
	sig := mock.NewMockSignaling(ctrl)
	ctx := context.Background()

	gomock.InOrder(
		sig.EXPECT().CreateSendTransport(gomock.Any()).Return(core.TransportOptions{ID: "send-1"}, nil),
		sig.EXPECT().ConnectTransport(gomock.Any(), "send-1", gomock.Any()).Return(nil),
		sig.EXPECT().Produce(gomock.Any(), "send-1", domain.StreamAudio, gomock.Any()).Return("remote-producer", nil),
	)

	tm := NewTransportManager(sig, coretest.NewEngine())
	require.NoError(t, tm.CreateSendTransport(ctx, coretest.DefaultCapabilities()))

	p, err := tm.Produce(ctx, coretest.NewAudioTrack("mic"), domain.StreamAudio, core.CodecOptions{})
	require.NoError(t, err)
	assert.Equal(t, "remote-producer", p.ID())
	assert.Equal(t, core.TransportConnected, tm.SendTransport().State())
}

func TestProduceFailsWhenSignalingRejects(t *testing.T) {
	ctrl := gomock.NewController(t)
	sig := mock.NewMockSignaling(ctrl)
	ctx := context.Background()
	boom := errors.New("boom")

	sig.EXPECT().CreateSendTransport(gomock.Any()).Return(core.TransportOptions{ID: "send-1"}, nil)
	sig.EXPECT().ConnectTransport(gomock.Any(), "send-1", gomock.Any()).Return(nil)
	sig.EXPECT().Produce(gomock.Any(), "send-1", domain.StreamVideo, gomock.Any()).Return("", boom)

	tm := NewTransportManager(sig, coretest.NewEngine())
	require.NoError(t, tm.CreateSendTransport(ctx, coretest.DefaultCapabilities()))

	_, err := tm.Produce(ctx, coretest.NewVideoTrack("cam"), domain.StreamVideo, core.CodecOptions{})
	assert.ErrorIs(t, err, boom)
}

func TestProduceAndConsumeWithoutTransport(t *testing.T) {
	ctrl := gomock.NewController(t)
	tm := NewTransportManager(mock.NewMockSignaling(ctrl), coretest.NewEngine())

	_, err := tm.Produce(context.Background(), coretest.NewAudioTrack("mic"), domain.StreamAudio, core.CodecOptions{})
	assert.ErrorIs(t, err, ErrNoSendTransport)
	_, err = tm.Consume(context.Background(), core.ConsumerOptions{Kind: domain.TrackAudio})
	assert.ErrorIs(t, err, ErrNoRecvTransport)
}

func TestCreateTransportSignalingFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	sig := mock.NewMockSignaling(ctrl)
	boom := errors.New("sfu down")
	sig.EXPECT().CreateRecvTransport(gomock.Any()).Return(core.TransportOptions{}, boom)

	tm := NewTransportManager(sig, coretest.NewEngine())
	err := tm.CreateConsumerTransport(context.Background(), coretest.DefaultCapabilities())
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, tm.RecvTransport())
}

func TestCreateTransportEngineFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	sig := mock.NewMockSignaling(ctrl)
	sig.EXPECT().CreateSendTransport(gomock.Any()).Return(core.TransportOptions{ID: "send-1"}, nil)

	eng := coretest.NewEngine()
	eng.FailNewTransport = errors.New("no ice")
	tm := NewTransportManager(sig, eng)
	assert.Error(t, tm.CreateSendTransport(context.Background(), coretest.DefaultCapabilities()))
	assert.Nil(t, tm.SendTransport())
}

func TestTransportLossReleasesHandle(t *testing.T) {
	tests := []core.TransportState{core.TransportFailed, core.TransportDisconnected, core.TransportClosed}
	for _, state := range tests {
		t.Run(string(state), func(t *testing.T) {
			sig := coretest.NewSignaling()
			eng := coretest.NewEngine()
			tm := NewTransportManager(sig, eng)

			lost := make(chan core.Direction, 1)
			tm.OnTransportLost(func(d core.Direction) { lost <- d })

			ctx := context.Background()
			require.NoError(t, tm.CreateConsumerTransport(ctx, coretest.DefaultCapabilities()))
			recv := eng.Last(core.DirectionRecv)

			recv.SetState(ctx, core.TransportConnecting)
			require.NotNil(t, tm.RecvTransport())

			recv.SetState(ctx, state)
			assert.Nil(t, tm.RecvTransport())
			assert.Equal(t, core.DirectionRecv, <-lost)
			assert.Eventually(t, recv.Closed, time.Second, time.Millisecond)
		})
	}
}

func TestStaleTransportLossIgnored(t *testing.T) {
	sig := coretest.NewSignaling()
	eng := coretest.NewEngine()
	tm := NewTransportManager(sig, eng)
	ctx := context.Background()

	require.NoError(t, tm.CreateSendTransport(ctx, coretest.DefaultCapabilities()))
	first := eng.Last(core.DirectionSend)
	require.NoError(t, tm.CreateSendTransport(ctx, coretest.DefaultCapabilities()))
	assert.True(t, first.Closed())

	first.SetState(ctx, core.TransportFailed)
	require.NotNil(t, tm.SendTransport())
	assert.NotEqual(t, first.ID(), tm.SendTransport().ID())
}

func TestTransportManagerCloseIdempotent(t *testing.T) {
	sig := coretest.NewSignaling()
	eng := coretest.NewEngine()
	tm := NewTransportManager(sig, eng)
	ctx := context.Background()

	require.NoError(t, tm.CreateSendTransport(ctx, coretest.DefaultCapabilities()))
	require.NoError(t, tm.CreateConsumerTransport(ctx, coretest.DefaultCapabilities()))

	tm.Close()
	tm.Close()
	assert.Nil(t, tm.SendTransport())
	assert.Nil(t, tm.RecvTransport())
	for _, tr := range eng.Transports() {
		assert.True(t, tr.Closed())
	}
}
