package dsp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSourceDone = errors.New("source done")

type blockSource struct {
	blocks int
	amp    float32
}

func (s *blockSource) ReadBlock(buf [][]float32) error {
	if s.blocks == 0 {
		return errSourceDone
	}
	s.blocks--
	for c := range buf {
		for i := range buf[c] {
			buf[c][i] = s.amp
		}
	}
	return nil
}

type blockSink struct{ written int }

func (s *blockSink) WriteBlock([][]float32) error {
	s.written++
	return nil
}

func TestNewHostValidatesConfig(t *testing.T) {
	_, err := NewHost(HostConfig{SampleRate: 0, Channels: 1, BlockFrames: 128})
	assert.ErrorIs(t, err, ErrHostUnavailable)

	h, err := NewHost(HostConfig{SampleRate: 48000, Channels: 1, BlockFrames: 128})
	require.NoError(t, err)
	assert.Equal(t, 128, h.Config().BlockFrames)
}

func TestHostAppliesConfigAtBlockBoundary(t *testing.T) {
	h, err := NewHost(HostConfig{SampleRate: 48000, Channels: 1, BlockFrames: 128})
	require.NoError(t, err)

	gate, err := NewGate(48000, GateConfig{Enabled: true, ThresholdDb: 0, HoldMs: 0})
	require.NoError(t, err)
	port, err := h.AddNode("gate", gate)
	require.NoError(t, err)

	in := constBlock(1, 128, quietAmp)
	assert.False(t, nonZero(h.ProcessBlock(in)))

	require.NoError(t, port.PostMessage(GatePatch(GateConfig{Enabled: false})))
	assert.Equal(t, in, h.ProcessBlock(in))
	assert.False(t, gate.State().Enabled)
}

func TestHostDropsUndecodableMessages(t *testing.T) {
	h, err := NewHost(HostConfig{SampleRate: 48000, Channels: 1, BlockFrames: 64})
	require.NoError(t, err)
	gate, err := NewGate(48000, DefaultGateConfig())
	require.NoError(t, err)
	port, err := h.AddNode("gate", gate)
	require.NoError(t, err)

	require.NoError(t, port.PostRaw([]byte{0xc1}))
	require.NoError(t, port.PostMessage(MeterMessage{Decibels: 1}))
	h.ProcessBlock(constBlock(1, 64, loudAmp))
	assert.Equal(t, DefaultGateConfig(), gate.State().GateConfig)
}

func TestHostChainPostsMeterReadings(t *testing.T) {
	h, err := NewHost(HostConfig{SampleRate: 8000, Channels: 1, BlockFrames: 128})
	require.NoError(t, err)
	meter, err := NewMeter(8000, DefaultMeterConfig())
	require.NoError(t, err)
	gate, err := NewGate(8000, DefaultGateConfig())
	require.NoError(t, err)

	meterPort, err := h.AddNode("meter", meter)
	require.NoError(t, err)
	_, err = h.AddNode("gate", gate)
	require.NoError(t, err)

	src := &blockSource{blocks: 10, amp: loudAmp}
	sink := &blockSink{}
	err = h.Run(context.Background(), src, sink)
	require.ErrorIs(t, err, errSourceDone)
	assert.Equal(t, 10, sink.written)

	_, err = h.AddNode("late", gate)
	assert.ErrorIs(t, err, ErrHostStarted)

	readings := 0
	for raw := range meterPort.Messages() {
		msg, err := Decode(raw)
		require.NoError(t, err)
		assert.IsType(t, MeterMessage{}, msg)
		readings++
	}
	assert.Equal(t, 10, readings)
	assert.ErrorIs(t, meterPort.PostMessage(GatePatch(DefaultGateConfig())), ErrPortClosed)
}

func TestHostStopsOnContext(t *testing.T) {
	h, err := NewHost(HostConfig{SampleRate: 8000, Channels: 1, BlockFrames: 160})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx, &blockSource{blocks: -1}, &blockSink{}) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("host did not stop")
	}
}

func TestPortDropsWhenFull(t *testing.T) {
	p := newPort()
	for i := 0; i < portBuffer; i++ {
		require.NoError(t, p.PostRaw([]byte{0}))
	}
	assert.ErrorIs(t, p.PostRaw([]byte{0}), ErrPortFull)
}
