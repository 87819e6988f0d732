package orch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/voiceclient/internal/app"
	"github.com/dkeye/voiceclient/internal/app/audio"
	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/core/coretest"
	"github.com/dkeye/voiceclient/internal/domain"
	"github.com/dkeye/voiceclient/internal/dsp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

type fixture struct {
	sig      *coretest.Signaling
	eng      *coretest.Engine
	mic      *audio.Mic
	controls *app.ControlRegistry
	orch     *Orchestrator

	mu       sync.Mutex
	statuses []core.Status
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sig:      coretest.NewSignaling(),
		eng:      coretest.NewEngine(),
		controls: app.NewControlRegistry(),
	}
	f.mic = audio.NewMic(
		audio.NewSyntheticDevices(false),
		audio.NewBridge(audio.DefaultBridgeConfig()),
		audio.Format{SampleRate: 8000, Channels: 1, BlockFrames: 160},
	)
	f.orch = New(f.sig, f.eng, f.mic, nil, f.controls, Config{Microphone: audio.DeviceSilence})
	f.orch.OnStatusChange(func(s core.Status) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.statuses = append(f.statuses, s)
	})
	t.Cleanup(func() { f.orch.Cleanup(context.Background()) })
	return f
}

func (f *fixture) init(t *testing.T, channel domain.ChannelID) {
	t.Helper()
	require.NoError(t, f.orch.Init(context.Background(), coretest.DefaultCapabilities(), channel))
}

func (f *fixture) seen() []core.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.Status(nil), f.statuses...)
}

func (f *fixture) producer(kind domain.StreamKind) *coretest.Producer {
	for _, p := range f.eng.Last(core.DirectionSend).Producers() {
		if p.Kind() == kind && !p.Closed() {
			return p
		}
	}
	return nil
}

func TestInitConsumesExistingProducers(t *testing.T) {
	f := newFixture(t)
	f.sig.Active = core.ActiveProducers{
		domain.StreamAudio:  {"userA", "userB"},
		domain.StreamScreen: {"userC"},
	}

	f.init(t, "general")

	assert.Equal(t, core.StatusConnected, f.orch.Status())
	assert.Equal(t, []core.ConsumerKey{
		{Participant: "userA", Kind: domain.StreamAudio},
		{Participant: "userB", Kind: domain.StreamAudio},
		{Participant: "userC", Kind: domain.StreamScreen},
	}, f.orch.Consumers())
	assert.Equal(t, []domain.StreamKind{domain.StreamAudio}, f.orch.Producers())
	assert.Equal(t, domain.ChannelID("general"), f.orch.Channel())
	assert.Equal(t, []core.Status{core.StatusConnecting, core.StatusConnected}, f.seen())

	_, produced, _ := f.sig.Snapshot()
	assert.Equal(t, []domain.StreamKind{domain.StreamAudio}, produced)

	controls, ok := f.controls.Controls()
	require.True(t, ok)
	assert.Same(t, f.orch, controls)
}

func TestInitRejectsInvalidChannel(t *testing.T) {
	f := newFixture(t)
	err := f.orch.Init(context.Background(), coretest.DefaultCapabilities(), "")
	require.ErrorIs(t, err, domain.ErrChannelIDEmpty)
	assert.Equal(t, core.StatusDisconnected, f.orch.Status())
	assert.Empty(t, f.eng.Transports())
}

func TestInitFailureReleasesResources(t *testing.T) {
	cases := []struct {
		name  string
		setup func(f *fixture)
		step  string
	}{
		{
			name:  "no common codec",
			setup: func(f *fixture) { f.eng.Caps = core.Capabilities{} },
			step:  StepNegotiate,
		},
		{
			name:  "send transport",
			setup: func(f *fixture) { f.sig.SetFail("CreateSendTransport", errBoom) },
			step:  StepSendTransport,
		},
		{
			name:  "receive transport",
			setup: func(f *fixture) { f.sig.SetFail("CreateRecvTransport", errBoom) },
			step:  StepRecvTransport,
		},
		{
			name: "existing producer",
			setup: func(f *fixture) {
				f.sig.Active = core.ActiveProducers{domain.StreamAudio: {"userA", "userB"}}
				f.sig.FailConsume["userB"] = errBoom
			},
			step: StepConsumeExisting,
		},
		{
			name:  "microphone",
			setup: func(f *fixture) { f.orch.Config.Microphone = "file:/does/not/exist" },
			step:  StepMicrophone,
		},
		{
			name:  "audio producer",
			setup: func(f *fixture) { f.sig.SetFail("Produce", errBoom) },
			step:  StepProduceAudio,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			tc.setup(f)

			err := f.orch.Init(context.Background(), coretest.DefaultCapabilities(), "general")
			var stepErr *StepError
			require.ErrorAs(t, err, &stepErr)
			assert.Equal(t, tc.step, stepErr.Step)

			assert.Equal(t, core.StatusFailed, f.orch.Status())
			assert.Nil(t, f.orch.Consumers())
			assert.Empty(t, f.orch.Channel())
			assert.Nil(t, f.mic.Track())
			_, bound := f.controls.Controls()
			assert.False(t, bound)

			for _, tr := range f.eng.Transports() {
				assert.True(t, tr.Closed(), "transport %s left open", tr.ID())
				for _, c := range tr.Consumers() {
					assert.True(t, c.Closed(), "consumer %s left open", c.ID())
				}
			}

			f.orch.Cleanup(context.Background())
			assert.Equal(t, core.StatusDisconnected, f.orch.Status())
		})
	}
}

func TestInitFailureThenRetry(t *testing.T) {
	f := newFixture(t)
	f.sig.SetFail("CreateSendTransport", errBoom)
	require.ErrorIs(t, f.orch.Init(context.Background(), coretest.DefaultCapabilities(), "general"), errBoom)

	f.sig.SetFail("CreateSendTransport", nil)
	f.init(t, "general")
	assert.Equal(t, core.StatusConnected, f.orch.Status())
}

func TestCleanupIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.orch.Cleanup(context.Background())
	f.orch.Cleanup(context.Background())
	assert.Equal(t, core.StatusDisconnected, f.orch.Status())
	assert.Empty(t, f.seen())

	f.init(t, "general")
	audioProducer := f.producer(domain.StreamAudio)
	require.NotNil(t, audioProducer)

	f.orch.Cleanup(context.Background())
	f.orch.Cleanup(context.Background())

	assert.Equal(t, core.StatusDisconnected, f.orch.Status())
	assert.True(t, audioProducer.Closed())
	assert.Nil(t, f.mic.Track())
	for _, tr := range f.eng.Transports() {
		assert.True(t, tr.Closed())
	}
	_, bound := f.controls.Controls()
	assert.False(t, bound)
	assert.Equal(t, []core.Status{core.StatusConnecting, core.StatusConnected, core.StatusDisconnected}, f.seen())
}

func TestInitReplacesPreviousSession(t *testing.T) {
	f := newFixture(t)
	f.init(t, "first")
	first := f.eng.Transports()
	require.Len(t, first, 2)

	f.init(t, "second")

	for _, tr := range first {
		assert.True(t, tr.Closed())
	}
	assert.Len(t, f.eng.Transports(), 4)
	assert.Equal(t, domain.ChannelID("second"), f.orch.Channel())
	ch, ok := f.controls.Channel()
	require.True(t, ok)
	assert.Equal(t, domain.ChannelID("second"), ch)
}

func TestTransportLossDisconnects(t *testing.T) {
	for _, dir := range []core.Direction{core.DirectionSend, core.DirectionRecv} {
		t.Run(string(dir), func(t *testing.T) {
			f := newFixture(t)
			f.sig.Active = core.ActiveProducers{domain.StreamAudio: {"userA"}}
			f.init(t, "general")

			f.eng.Last(dir).SetState(context.Background(), core.TransportFailed)

			assert.Eventually(t, func() bool {
				return f.orch.Status() == core.StatusDisconnected
			}, time.Second, 5*time.Millisecond)
			assert.Nil(t, f.orch.Consumers())
			for _, tr := range f.eng.Transports() {
				assert.Eventually(t, tr.Closed, time.Second, 5*time.Millisecond)
			}
		})
	}
}

func TestRemoteEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	added := core.RemoteEvent{Type: core.RemoteProducerAdded, Participant: "userA", Kind: domain.StreamVideo}

	require.ErrorIs(t, f.orch.HandleRemoteEvent(ctx, added), ErrNotConnected)

	f.init(t, "general")
	require.NoError(t, f.orch.HandleRemoteEvent(ctx, added))
	assert.Equal(t, []core.ConsumerKey{{Participant: "userA", Kind: domain.StreamVideo}}, f.orch.Consumers())

	require.NoError(t, f.orch.HandleRemoteEvent(ctx, core.RemoteEvent{
		Type: core.RemoteProducerClosed, Participant: "userA", Kind: domain.StreamVideo,
	}))
	assert.Empty(t, f.orch.Consumers())
}

func TestRunRemoteEvents(t *testing.T) {
	f := newFixture(t)
	f.init(t, "general")

	events := make(chan core.RemoteEvent, 2)
	events <- core.RemoteEvent{Type: core.RemoteProducerAdded, Participant: "userA", Kind: domain.StreamAudio}
	events <- core.RemoteEvent{Type: core.RemoteProducerAdded, Participant: "userB", Kind: domain.StreamScreen}
	close(events)

	f.orch.RunRemoteEvents(context.Background(), events)
	assert.Len(t, f.orch.Consumers(), 2)
}

func TestScreenShareRequiresVideo(t *testing.T) {
	f := newFixture(t)
	f.init(t, "general")

	err := f.orch.StartScreenShare(context.Background(), nil, coretest.NewAudioTrack("screen-audio"))
	require.ErrorIs(t, err, ErrScreenVideoRequired)
	assert.Equal(t, []domain.StreamKind{domain.StreamAudio}, f.orch.Producers())
}

func TestScreenShareLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.ErrorIs(t, f.orch.StartScreenShare(ctx, coretest.NewVideoTrack("screen"), nil), ErrNotConnected)

	f.init(t, "general")
	require.NoError(t, f.orch.StartScreenShare(ctx, coretest.NewVideoTrack("screen"), coretest.NewAudioTrack("screen-audio")))
	assert.Equal(t, []domain.StreamKind{domain.StreamAudio, domain.StreamScreen, domain.StreamScreenAudio}, f.orch.Producers())

	require.ErrorIs(t, f.orch.StartScreenShare(ctx, coretest.NewVideoTrack("again"), nil), ErrAlreadyProducing)

	require.NoError(t, f.orch.StopScreenShare(ctx))
	assert.Equal(t, []domain.StreamKind{domain.StreamAudio}, f.orch.Producers())
	_, _, closed := f.sig.Snapshot()
	assert.ElementsMatch(t, []domain.StreamKind{domain.StreamScreen, domain.StreamScreenAudio}, closed)
}

func TestScreenShareAudioFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.init(t, "general")

	require.NoError(t, f.orch.produce(ctx, f.orch.current(), coretest.NewAudioTrack("held"), domain.StreamScreenAudio, core.CodecOptions{}))

	err := f.orch.StartScreenShare(ctx, coretest.NewVideoTrack("screen"), coretest.NewAudioTrack("screen-audio"))
	require.ErrorIs(t, err, ErrAlreadyProducing)
	assert.Equal(t, []domain.StreamKind{domain.StreamAudio, domain.StreamScreenAudio}, f.orch.Producers())
	_, _, closed := f.sig.Snapshot()
	assert.Equal(t, []domain.StreamKind{domain.StreamScreen}, closed)
}

func TestScreenCaptureEndStopsScreenAudio(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.init(t, "general")
	require.NoError(t, f.orch.StartScreenShare(ctx, coretest.NewVideoTrack("screen"), coretest.NewAudioTrack("screen-audio")))

	screen := f.producer(domain.StreamScreen)
	require.NotNil(t, screen)
	screen.End(core.LifecycleTrackEnded)

	assert.Eventually(t, func() bool {
		return len(f.orch.Producers()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		_, _, closed := f.sig.Snapshot()
		return len(closed) == 2
	}, time.Second, 5*time.Millisecond)
	_, _, closed := f.sig.Snapshot()
	assert.ElementsMatch(t, []domain.StreamKind{domain.StreamScreen, domain.StreamScreenAudio}, closed)
}

func TestProducerEndWaitsForRunningStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.init(t, "general")
	require.NoError(t, f.orch.StartCamera(ctx, coretest.NewVideoTrack("cam")))
	cam := f.producer(domain.StreamVideo)
	require.NotNil(t, cam)

	f.orch.mu.Lock()
	cam.End(core.LifecycleTrackEnded)
	time.Sleep(20 * time.Millisecond)
	_, _, closed := f.sig.Snapshot()
	assert.Empty(t, closed)
	assert.Contains(t, f.orch.Producers(), domain.StreamVideo)
	f.orch.mu.Unlock()

	assert.Eventually(t, func() bool {
		_, _, closed := f.sig.Snapshot()
		return len(closed) == 1
	}, time.Second, 5*time.Millisecond)
	_, _, closed = f.sig.Snapshot()
	assert.Equal(t, []domain.StreamKind{domain.StreamVideo}, closed)
	assert.Equal(t, []domain.StreamKind{domain.StreamAudio}, f.orch.Producers())
}

func TestProducerEndAfterCleanupIsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.init(t, "general")
	require.NoError(t, f.orch.StartScreenShare(ctx, coretest.NewVideoTrack("screen"), nil))
	screen := f.producer(domain.StreamScreen)
	require.NotNil(t, screen)

	f.orch.mu.Lock()
	screen.End(core.LifecycleTrackEnded)
	f.orch.cleanupLocked(ctx)
	f.orch.mu.Unlock()
	f.init(t, "general")

	time.Sleep(20 * time.Millisecond)
	_, _, closed := f.sig.Snapshot()
	assert.Empty(t, closed)
	assert.Equal(t, []domain.StreamKind{domain.StreamAudio}, f.orch.Producers())
}

func TestCamera(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.init(t, "general")

	require.NoError(t, f.orch.StopCamera(ctx))
	require.NoError(t, f.orch.StartCamera(ctx, coretest.NewVideoTrack("cam")))
	require.ErrorIs(t, f.orch.StartCamera(ctx, coretest.NewVideoTrack("cam2")), ErrAlreadyProducing)

	cam := f.producer(domain.StreamVideo)
	require.NotNil(t, cam)
	require.NoError(t, f.orch.StopCamera(ctx))
	assert.True(t, cam.Closed())
	assert.Equal(t, []domain.StreamKind{domain.StreamAudio}, f.orch.Producers())
}

func TestSwitchMicrophone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.orch.SwitchMicrophone(ctx, "tone:440"))
	assert.Equal(t, "tone:440", f.orch.Config.Microphone)

	f.init(t, "general")
	assert.Equal(t, "tone:440", f.mic.Device())
	track := f.mic.Track()

	require.NoError(t, f.orch.SwitchMicrophone(ctx, "tone:220"))
	assert.Equal(t, "tone:220", f.mic.Device())
	assert.Same(t, track, f.mic.Track())
}

func TestVoiceControls(t *testing.T) {
	f := newFixture(t)
	f.init(t, "general")

	gate := dsp.GateConfig{Enabled: true, ThresholdDb: -40, HoldMs: 200}
	require.NoError(t, f.orch.SetGate(gate))
	assert.Equal(t, gate, f.orch.Gate())

	f.orch.SetMuted(true)
	assert.True(t, f.orch.Muted())
	f.orch.SetMuted(false)
	assert.False(t, f.orch.Muted())

	assert.True(t, f.orch.DSPAvailable())
	assert.Eventually(t, func() bool {
		_, ok := f.orch.MeterReading()
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestListenOnlyWithoutMicrophone(t *testing.T) {
	sig, eng := coretest.NewSignaling(), coretest.NewEngine()
	o := New(sig, eng, nil, nil, nil, Config{})
	defer o.Cleanup(context.Background())

	require.NoError(t, o.Init(context.Background(), coretest.DefaultCapabilities(), "general"))
	assert.Empty(t, o.Producers())
	assert.False(t, o.DSPAvailable())
	assert.False(t, o.Muted())
	require.ErrorIs(t, o.SwitchMicrophone(context.Background(), "tone:440"), ErrNoMicrophone)
	require.ErrorIs(t, o.SetGate(dsp.DefaultGateConfig()), ErrNoMicrophone)
}
