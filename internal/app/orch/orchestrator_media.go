package orch

import (
	"context"
	"errors"

	"github.com/dkeye/voiceclient/internal/app/audio"
	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/domain"
	"github.com/dkeye/voiceclient/internal/dsp"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) produce(ctx context.Context, sess *Session, track core.LocalTrack, kind domain.StreamKind, codec core.CodecOptions) error {
	if sess.Producer(kind) != nil {
		return ErrAlreadyProducing
	}
	p, err := sess.Transports.Produce(ctx, track, kind, codec)
	if err != nil {
		return err
	}
	if !sess.addProducer(p) {
		p.Close()
		return ErrAlreadyProducing
	}
	log.Info().Str("module", "orch").Str("kind", string(kind)).Str("producer_id", p.ID()).Msg("producing")
	go o.watchProducer(sess, p)
	return nil
}

// watchProducer reacts to a producer stopping on its own. A producer closed
// by us closes its event channel without an event. The reaction is an
// orchestration step and only applies to the session that is still current.
func (o *Orchestrator) watchProducer(sess *Session, p core.Producer) {
	ev, ok := <-p.Events()
	if !ok {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current() != sess || !sess.removeProducer(p) {
		return
	}
	p.Close()

	logger := log.With().Str("module", "orch").Str("kind", string(p.Kind())).Str("reason", string(ev)).Logger()
	logger.Warn().Msg("producer stopped")

	if ev == core.LifecycleTransportClosed {
		return
	}
	ctx := context.Background()
	if err := o.Signaling.CloseProducer(ctx, p.Kind()); err != nil {
		logger.Error().Err(err).Msg("close producer on sfu")
	}
	// the system picker ending the screen capture ends the whole share
	if p.Kind() == domain.StreamScreen {
		if err := o.stopProducer(ctx, sess, domain.StreamScreenAudio); err != nil && !errors.Is(err, errNotProducing) {
			logger.Error().Err(err).Msg("stop screen audio")
		}
	}
}

var errNotProducing = errors.New("not producing")

func (o *Orchestrator) stopProducer(ctx context.Context, sess *Session, kind domain.StreamKind) error {
	p := sess.takeProducer(kind)
	if p == nil {
		return errNotProducing
	}
	p.Close()
	log.Info().Str("module", "orch").Str("kind", string(kind)).Msg("producer closed")
	return o.Signaling.CloseProducer(ctx, kind)
}

func (o *Orchestrator) StartCamera(ctx context.Context, track core.LocalTrack) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	sess, err := o.connected()
	if err != nil {
		return err
	}
	return o.produce(ctx, sess, track, domain.StreamVideo, o.Config.VideoCodec)
}

func (o *Orchestrator) StopCamera(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	sess, err := o.connected()
	if err != nil {
		return err
	}
	if err := o.stopProducer(ctx, sess, domain.StreamVideo); err != nil && !errors.Is(err, errNotProducing) {
		return err
	}
	return nil
}

// StartScreenShare produces the screen video and, when given, its audio.
// A share without video is rejected.
func (o *Orchestrator) StartScreenShare(ctx context.Context, video, audioTrack core.LocalTrack) error {
	if video == nil {
		return ErrScreenVideoRequired
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	sess, err := o.connected()
	if err != nil {
		return err
	}
	if err := o.produce(ctx, sess, video, domain.StreamScreen, o.Config.VideoCodec); err != nil {
		return err
	}
	if audioTrack == nil {
		return nil
	}
	if err := o.produce(ctx, sess, audioTrack, domain.StreamScreenAudio, o.Config.AudioCodec); err != nil {
		_ = o.stopProducer(ctx, sess, domain.StreamScreen)
		return err
	}
	return nil
}

func (o *Orchestrator) StopScreenShare(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	sess, err := o.connected()
	if err != nil {
		return err
	}
	var errs []error
	for _, kind := range []domain.StreamKind{domain.StreamScreenAudio, domain.StreamScreen} {
		if err := o.stopProducer(ctx, sess, kind); err != nil && !errors.Is(err, errNotProducing) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SwitchMicrophone moves capture to deviceID. Without a live session the
// device is only remembered for the next Init.
func (o *Orchestrator) SwitchMicrophone(ctx context.Context, deviceID string) error {
	if o.Mic == nil {
		return ErrNoMicrophone
	}
	o.mu.Lock()
	o.Config.Microphone = deviceID
	o.mu.Unlock()

	err := o.Mic.Switch(ctx, deviceID)
	switch {
	case errors.Is(err, audio.ErrMicNotStarted):
		return nil
	case errors.Is(err, audio.ErrStale):
		log.Debug().Str("module", "orch").Str("device", deviceID).Msg("microphone switch superseded")
		return nil
	}
	return err
}

func (o *Orchestrator) SetGate(cfg dsp.GateConfig) error {
	if o.Mic == nil {
		return ErrNoMicrophone
	}
	return o.Mic.Bridge().SetGate(cfg)
}

func (o *Orchestrator) Gate() dsp.GateConfig {
	if o.Mic == nil {
		return dsp.GateConfig{}
	}
	return o.Mic.Bridge().Config().Gate
}

func (o *Orchestrator) SetMuted(muted bool) {
	if o.Mic != nil {
		o.Mic.SetMuted(muted)
	}
}

func (o *Orchestrator) Muted() bool {
	return o.Mic != nil && o.Mic.Muted()
}

func (o *Orchestrator) MeterReading() (float64, bool) {
	if o.Mic == nil {
		return 0, false
	}
	return o.Mic.Bridge().LastReading()
}

// MeterReadings streams meter peaks; nil without a microphone.
func (o *Orchestrator) MeterReadings() <-chan float64 {
	if o.Mic == nil {
		return nil
	}
	return o.Mic.Bridge().Readings()
}

func (o *Orchestrator) DSPAvailable() bool {
	return o.Mic != nil && o.Mic.Bridge().Available()
}
