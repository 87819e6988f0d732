package orch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/voiceclient/internal/app"
	"github.com/dkeye/voiceclient/internal/app/audio"
	"github.com/dkeye/voiceclient/internal/app/stats"
	"github.com/dkeye/voiceclient/internal/core"
	"github.com/looplab/fsm"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotConnected        = errors.New("voice session not connected")
	ErrScreenVideoRequired = errors.New("screen share requires a video track")
	ErrAlreadyProducing    = errors.New("already producing this kind")
	ErrNoMicrophone        = errors.New("no microphone configured")
	ErrTransportLost       = errors.New("transport lost")
)

var _ app.VoiceControls = (*Orchestrator)(nil)

// Init steps, reported in StepError.
const (
	StepNegotiate       = "negotiate capabilities"
	StepSendTransport   = "create send transport"
	StepRecvTransport   = "create receive transport"
	StepConsumeExisting = "consume existing producers"
	StepMicrophone      = "start microphone"
	StepProduceAudio    = "produce audio"
	StepVerify          = "verify transports"
)

// StepError is an Init failure. The session is Failed and torn down.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("%s: %v", e.Step, e.Err) }
func (e *StepError) Unwrap() error { return e.Err }

const (
	evConnect     = "connect"
	evEstablished = "established"
	evFail        = "fail"
	evDisconnect  = "disconnect"
)

type Config struct {
	Microphone string            `mapstructure:"device"`
	AudioCodec core.CodecOptions `mapstructure:"-"`
	VideoCodec core.CodecOptions `mapstructure:"-"`
}

// Orchestrator drives one voice session at a time through
// disconnected, connecting, connected and failed.
type Orchestrator struct {
	Signaling  core.Signaling
	Engine     core.Engine
	Mic        *audio.Mic
	Aggregator *stats.Aggregator
	Controls   *app.ControlRegistry
	Sinks      core.SinkFactory
	Config     Config

	// mu serializes orchestration steps.
	mu      sync.Mutex
	machine *fsm.FSM

	stateMu   sync.RWMutex
	status    core.Status
	session   *Session
	listeners []func(core.Status)
}

func New(sig core.Signaling, eng core.Engine, mic *audio.Mic, agg *stats.Aggregator, controls *app.ControlRegistry, cfg Config) *Orchestrator {
	o := &Orchestrator{
		Signaling:  sig,
		Engine:     eng,
		Mic:        mic,
		Aggregator: agg,
		Controls:   controls,
		Config:     cfg,
		status:     core.StatusDisconnected,
	}
	if o.Aggregator == nil {
		o.Aggregator = stats.NewAggregator(stats.DefaultConfig(), nil)
	}
	if o.Controls == nil {
		o.Controls = app.NewControlRegistry()
	}
	o.machine = fsm.NewFSM(
		string(core.StatusDisconnected),
		fsm.Events{
			{Name: evConnect, Src: []string{string(core.StatusDisconnected), string(core.StatusFailed)}, Dst: string(core.StatusConnecting)},
			{Name: evEstablished, Src: []string{string(core.StatusConnecting)}, Dst: string(core.StatusConnected)},
			{Name: evFail, Src: []string{string(core.StatusConnecting)}, Dst: string(core.StatusFailed)},
			{Name: evDisconnect, Src: []string{string(core.StatusConnecting), string(core.StatusConnected), string(core.StatusFailed)}, Dst: string(core.StatusDisconnected)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				o.setStatus(core.Status(e.Dst))
			},
		},
	)
	return o
}

// OnStatusChange registers fn for every status transition.
func (o *Orchestrator) OnStatusChange(fn func(core.Status)) {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	o.listeners = append(o.listeners, fn)
}

func (o *Orchestrator) setStatus(s core.Status) {
	o.stateMu.Lock()
	prev := o.status
	o.status = s
	listeners := append([]func(core.Status)(nil), o.listeners...)
	o.stateMu.Unlock()

	log.Info().Str("module", "orch").Str("from", string(prev)).Str("to", string(s)).Msg("session status")
	for _, fn := range listeners {
		fn(s)
	}
}

// transition fires ev when the current state allows it.
func (o *Orchestrator) transition(ctx context.Context, ev string) {
	if !o.machine.Can(ev) {
		return
	}
	if err := o.machine.Event(ctx, ev); err != nil {
		var noTransition fsm.NoTransitionError
		if !errors.As(err, &noTransition) {
			log.Error().Err(err).Str("module", "orch").Str("event", ev).Msg("state transition failed")
		}
	}
}

func (o *Orchestrator) Status() core.Status {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.status
}

func (o *Orchestrator) current() *Session {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.session
}

func (o *Orchestrator) setSession(s *Session) {
	o.stateMu.Lock()
	o.session = s
	o.stateMu.Unlock()
}

// connected returns the live session or ErrNotConnected.
func (o *Orchestrator) connected() (*Session, error) {
	sess := o.current()
	if sess == nil || o.Status() != core.StatusConnected {
		return nil, ErrNotConnected
	}
	return sess, nil
}
