package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/voiceclient/internal/app/stats"
	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/domain"
	"github.com/rs/zerolog/log"
)

// HandleRemoteEvent adds or removes the consumer for another participant's producer.
func (o *Orchestrator) HandleRemoteEvent(ctx context.Context, ev core.RemoteEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	sess, err := o.connected()
	if err != nil {
		return err
	}

	switch ev.Type {
	case core.RemoteProducerAdded:
		return sess.Consumers.Consume(ctx, ev.Participant, ev.Kind, sess.Caps)
	case core.RemoteProducerClosed:
		sess.Consumers.Remove(ev.Participant, ev.Kind)
		return nil
	default:
		return fmt.Errorf("unknown remote event %q", ev.Type)
	}
}

// RunRemoteEvents feeds events into HandleRemoteEvent until ctx is done or
// events is closed.
func (o *Orchestrator) RunRemoteEvents(ctx context.Context, events <-chan core.RemoteEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := o.HandleRemoteEvent(ctx, ev); err != nil {
				log.Warn().Err(err).
					Str("module", "orch").
					Str("event", string(ev.Type)).
					Str("participant", string(ev.Participant)).
					Str("kind", string(ev.Kind)).
					Msg("remote event not applied")
			}
		}
	}
}

func (o *Orchestrator) Channel() domain.ChannelID {
	if sess := o.current(); sess != nil {
		return sess.Channel
	}
	return ""
}

func (o *Orchestrator) Consumers() []core.ConsumerKey {
	if sess := o.current(); sess != nil {
		return sess.Consumers.Keys()
	}
	return nil
}

func (o *Orchestrator) Producers() []domain.StreamKind {
	if sess := o.current(); sess != nil {
		return sess.ProducerKinds()
	}
	return nil
}

func (o *Orchestrator) Stats() stats.Snapshot {
	return o.Aggregator.Snapshot()
}
