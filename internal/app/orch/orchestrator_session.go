package orch

import (
	"context"

	"github.com/dkeye/voiceclient/internal/app/sfu"
	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/domain"
	"github.com/rs/zerolog/log"
)

// Init joins channelID with the SFU's capabilities. Whatever session existed
// before is torn down first. On failure the status is Failed, everything
// acquired is released and the error is returned; nothing is retried.
func (o *Orchestrator) Init(ctx context.Context, caps core.Capabilities, channelID domain.ChannelID) error {
	if err := channelID.Validate(); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.cleanupLocked(ctx)
	o.transition(ctx, evConnect)

	sess := o.newSession(channelID)
	o.setSession(sess)
	o.Controls.Bind(channelID, o)

	logger := log.With().Str("module", "orch").Str("channel", string(channelID)).Logger()
	if err := o.initSession(ctx, sess, caps); err != nil {
		logger.Error().Err(err).Msg("session init failed")
		o.transition(ctx, evFail)
		o.teardownLocked(sess)
		return err
	}

	o.transition(ctx, evEstablished)
	o.Aggregator.Start(context.Background(), sess)
	logger.Info().Int("consumers", sess.Consumers.Len()).Msg("session connected")
	return nil
}

func (o *Orchestrator) newSession(channelID domain.ChannelID) *Session {
	sess := &Session{
		Channel:   channelID,
		producers: make(map[domain.StreamKind]core.Producer),
		sinks:     make(map[core.ConsumerKey]core.Sink),
	}
	sess.Transports = sfu.NewTransportManager(o.Signaling, o.Engine)
	sess.Transports.OnTransportLost(func(dir core.Direction) {
		go o.onTransportLost(sess, dir)
	})
	sess.Consumers = sfu.NewConsumerRegistry(o.Signaling, sess.Transports, sfu.ConsumerHooks{
		OnAdded:   func(key core.ConsumerKey, c core.Consumer) { o.attachSink(sess, key, c) },
		OnRemoved: func(key core.ConsumerKey, _ core.LifecycleEvent) { o.detachSink(sess, key) },
	})
	return sess
}

func (o *Orchestrator) initSession(ctx context.Context, sess *Session, remote core.Capabilities) error {
	caps, err := core.Negotiate(o.Engine.Capabilities(), remote)
	if err != nil {
		return &StepError{Step: StepNegotiate, Err: err}
	}
	sess.Caps = caps

	if err := sess.Transports.CreateSendTransport(ctx, caps); err != nil {
		return &StepError{Step: StepSendTransport, Err: err}
	}
	if err := sess.Transports.CreateConsumerTransport(ctx, caps); err != nil {
		return &StepError{Step: StepRecvTransport, Err: err}
	}
	if err := sess.Consumers.ConsumeExistingProducers(ctx, caps); err != nil {
		return &StepError{Step: StepConsumeExisting, Err: err}
	}

	if o.Mic == nil {
		log.Warn().Str("module", "orch").Msg("no microphone, joining listen only")
	} else {
		track, err := o.Mic.Start(ctx, o.Config.Microphone)
		if err != nil {
			return &StepError{Step: StepMicrophone, Err: err}
		}
		if err := o.produce(ctx, sess, track, domain.StreamAudio, o.Config.AudioCodec); err != nil {
			return &StepError{Step: StepProduceAudio, Err: err}
		}
	}

	if sess.SendTransport() == nil || sess.RecvTransport() == nil {
		return &StepError{Step: StepVerify, Err: ErrTransportLost}
	}
	return nil
}

// Cleanup leaves the current session. It is safe in any state and any number of times.
func (o *Orchestrator) Cleanup(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cleanupLocked(ctx)
}

func (o *Orchestrator) cleanupLocked(ctx context.Context) {
	o.teardownLocked(o.current())
	o.transition(ctx, evDisconnect)
}

// teardownLocked releases resources in reverse order of acquisition.
func (o *Orchestrator) teardownLocked(sess *Session) {
	o.Aggregator.Stop()
	o.Aggregator.Reset()
	if sess != nil {
		for _, p := range sess.takeProducers() {
			p.Close()
		}
	}
	if o.Mic != nil {
		o.Mic.Stop()
	}
	if sess != nil {
		sess.Consumers.CloseAll()
		sess.Transports.Close()
		log.Info().Str("module", "orch").Str("channel", string(sess.Channel)).Msg("session torn down")
	}
	o.setSession(nil)
	o.Controls.Unbind(o)
}

func (o *Orchestrator) onTransportLost(sess *Session, dir core.Direction) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current() != sess || o.Status() != core.StatusConnected {
		return
	}
	log.Warn().Str("module", "orch").Str("channel", string(sess.Channel)).Str("direction", string(dir)).Msg("transport lost, leaving session")
	o.cleanupLocked(context.Background())
}

func (o *Orchestrator) attachSink(sess *Session, key core.ConsumerKey, c core.Consumer) {
	if o.Sinks == nil {
		return
	}
	sink, err := o.Sinks.NewSink(key, c)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("key", key.String()).Msg("sink create failed")
		return
	}
	if old := sess.putSink(key, sink); old != nil {
		old.Close()
	}
}

func (o *Orchestrator) detachSink(sess *Session, key core.ConsumerKey) {
	if sink := sess.takeSink(key); sink != nil {
		sink.Close()
	}
}
