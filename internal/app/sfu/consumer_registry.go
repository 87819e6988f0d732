package sfu

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var ErrInvalidKind = errors.New("invalid stream kind")

// ConsumerHooks let the session attach and detach sinks. Hook calls are
// serialized and run outside the map lock; OnRemoved for a replaced consumer
// runs before OnAdded for its successor.
type ConsumerHooks struct {
	OnAdded   func(key core.ConsumerKey, c core.Consumer)
	OnRemoved func(key core.ConsumerKey, reason core.LifecycleEvent)
}

// ConsumerRegistry holds at most one live consumer per (participant, kind).
type ConsumerRegistry struct {
	sig   core.Signaling
	tm    *TransportManager
	hooks ConsumerHooks

	// seq orders slot changes together with their hook calls.
	seq       sync.Mutex
	mu        sync.RWMutex
	consumers map[core.ConsumerKey]*consumerEntry
}

func NewConsumerRegistry(sig core.Signaling, tm *TransportManager, hooks ConsumerHooks) *ConsumerRegistry {
	return &ConsumerRegistry{
		sig:       sig,
		tm:        tm,
		hooks:     hooks,
		consumers: make(map[core.ConsumerKey]*consumerEntry),
	}
}

// Consume starts receiving remote's stream of the given kind. A screen stream
// is negotiated as video but keyed as screen. Any existing consumer for the
// key is closed and replaced.
func (r *ConsumerRegistry) Consume(ctx context.Context, remote domain.ParticipantID, kind domain.StreamKind, caps core.Capabilities) error {
	if err := remote.Validate(); err != nil {
		return err
	}
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	key := core.ConsumerKey{Participant: remote, Kind: kind}
	logger := log.With().Str("module", "sfu.consumers").Str("key", key.String()).Logger()

	resp, err := r.sig.Consume(ctx, kind, remote, caps)
	if err != nil {
		logger.Error().Err(err).Msg("signaling consume failed")
		return fmt.Errorf("consume %s: %w", key, err)
	}
	trackKind := resp.Kind
	if trackKind == "" {
		trackKind = kind.TrackKind()
	}

	c, err := r.tm.Consume(ctx, core.ConsumerOptions{
		ID:            resp.ID,
		ProducerID:    resp.ProducerID,
		Kind:          trackKind,
		RTPParameters: resp.RTPParameters,
	})
	if err != nil {
		logger.Error().Err(err).Msg("transport consume failed")
		return fmt.Errorf("consume %s: %w", key, err)
	}

	entry := newConsumerEntry(c)
	r.seq.Lock()
	defer r.seq.Unlock()

	// Insert before closing the old consumer so Get never misses the key.
	r.mu.Lock()
	old := r.consumers[key]
	r.consumers[key] = entry
	r.mu.Unlock()

	if old != nil && old.markClosed() {
		logger.Info().Str("consumer_id", old.consumer.ID()).Msg("replacing existing consumer")
		old.consumer.Close()
		r.removed(key, core.LifecycleClosed)
	}
	if r.hooks.OnAdded != nil && entry.live() {
		r.hooks.OnAdded(key, c)
	}

	logger.Info().Str("consumer_id", c.ID()).Str("producer_id", c.ProducerID()).Msg("consumer added")
	go r.watch(key, entry)
	return nil
}

// watch removes the entry when the consumer reports it stopped.
func (r *ConsumerRegistry) watch(key core.ConsumerKey, entry *consumerEntry) {
	reason, ok := <-entry.consumer.Events()
	if !ok {
		reason = core.LifecycleClosed
	}
	r.seq.Lock()
	defer r.seq.Unlock()
	if !entry.markClosed() {
		return
	}

	r.mu.Lock()
	if r.consumers[key] == entry {
		delete(r.consumers, key)
	}
	r.mu.Unlock()

	entry.consumer.Close()
	log.Info().Str("module", "sfu.consumers").Str("key", key.String()).Str("reason", string(reason)).Msg("consumer removed")
	r.removed(key, reason)
}

func (r *ConsumerRegistry) removed(key core.ConsumerKey, reason core.LifecycleEvent) {
	if r.hooks.OnRemoved != nil {
		r.hooks.OnRemoved(key, reason)
	}
}

// ConsumeExistingProducers consumes every producer already active in the
// channel. Requests run concurrently; the first failure is returned.
func (r *ConsumerRegistry) ConsumeExistingProducers(ctx context.Context, caps core.Capabilities) error {
	active, err := r.sig.ActiveProducers(ctx)
	if err != nil {
		return fmt.Errorf("list active producers: %w", err)
	}
	log.Info().Str("module", "sfu.consumers").Int("producers", active.Count()).Msg("consuming existing producers")

	g, gctx := errgroup.WithContext(ctx)
	for kind, remotes := range active {
		for _, remote := range remotes {
			g.Go(func() error {
				return r.Consume(gctx, remote, kind, caps)
			})
		}
	}
	return g.Wait()
}

// Remove closes the consumer for (remote, kind) after its producer went away.
func (r *ConsumerRegistry) Remove(remote domain.ParticipantID, kind domain.StreamKind) bool {
	key := core.ConsumerKey{Participant: remote, Kind: kind}
	r.seq.Lock()
	defer r.seq.Unlock()
	r.mu.Lock()
	entry, ok := r.consumers[key]
	if ok {
		delete(r.consumers, key)
	}
	r.mu.Unlock()
	if !ok || !entry.markClosed() {
		return false
	}
	entry.consumer.Close()
	log.Info().Str("module", "sfu.consumers").Str("key", key.String()).Msg("consumer closed by remote")
	r.removed(key, core.LifecycleProducerClosed)
	return true
}

// CloseAll closes every consumer.
func (r *ConsumerRegistry) CloseAll() {
	r.seq.Lock()
	defer r.seq.Unlock()
	r.mu.Lock()
	all := r.consumers
	r.consumers = make(map[core.ConsumerKey]*consumerEntry)
	r.mu.Unlock()

	for key, entry := range all {
		if entry.markClosed() {
			entry.consumer.Close()
			r.removed(key, core.LifecycleClosed)
		}
	}
}

func (r *ConsumerRegistry) Get(key core.ConsumerKey) (core.Consumer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.consumers[key]
	if !ok {
		return nil, false
	}
	return e.consumer, true
}

// Keys returns the registry keys in stable order.
func (r *ConsumerRegistry) Keys() []core.ConsumerKey {
	r.mu.RLock()
	keys := make([]core.ConsumerKey, 0, len(r.consumers))
	for k := range r.consumers {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	slices.SortFunc(keys, func(a, b core.ConsumerKey) int {
		return cmp.Or(cmp.Compare(a.Participant, b.Participant), cmp.Compare(a.Kind, b.Kind))
	})
	return keys
}

func (r *ConsumerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.consumers)
}
