package sfu

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoSendTransport = errors.New("no send transport")
	ErrNoRecvTransport = errors.New("no receive transport")
	ErrNotSendCapable  = errors.New("produce requested on a receive transport")
)

// TransportManager owns the one send and one receive transport of a session.
// A transport whose connection is lost is released, so callers detect loss by
// its absence. Nothing here retries.
type TransportManager struct {
	sig core.Signaling
	eng core.Engine

	mu     sync.RWMutex
	send   core.Transport
	recv   core.Transport
	onLost func(core.Direction)
}

func NewTransportManager(sig core.Signaling, eng core.Engine) *TransportManager {
	return &TransportManager{sig: sig, eng: eng}
}

// OnTransportLost sets the callback run after a transport was released
// because of a failed, disconnected or closed connection.
func (m *TransportManager) OnTransportLost(fn func(core.Direction)) {
	m.mu.Lock()
	m.onLost = fn
	m.mu.Unlock()
}

func (m *TransportManager) CreateSendTransport(ctx context.Context, caps core.Capabilities) error {
	return m.create(ctx, core.DirectionSend, caps)
}

func (m *TransportManager) CreateConsumerTransport(ctx context.Context, caps core.Capabilities) error {
	return m.create(ctx, core.DirectionRecv, caps)
}

func (m *TransportManager) create(ctx context.Context, dir core.Direction, caps core.Capabilities) error {
	logger := log.With().Str("module", "sfu.transport").Str("direction", string(dir)).Logger()
	if caps.Empty() {
		return core.ErrCapabilitiesNotLoaded
	}

	var (
		opts core.TransportOptions
		err  error
	)
	if dir == core.DirectionSend {
		opts, err = m.sig.CreateSendTransport(ctx)
	} else {
		opts, err = m.sig.CreateRecvTransport(ctx)
	}
	if err != nil {
		logger.Error().Err(err).Msg("signaling create transport failed")
		return fmt.Errorf("create %s transport: %w", dir, err)
	}

	t, err := m.eng.NewTransport(dir, opts, caps, m.handler(dir))
	if err != nil {
		logger.Error().Err(err).Str("transport_id", opts.ID).Msg("engine transport failed")
		return fmt.Errorf("create %s transport: %w", dir, err)
	}

	m.mu.Lock()
	var old core.Transport
	if dir == core.DirectionSend {
		old, m.send = m.send, t
	} else {
		old, m.recv = m.recv, t
	}
	m.mu.Unlock()

	if old != nil {
		logger.Info().Str("transport_id", old.ID()).Msg("replacing existing transport")
		_ = old.Close()
	}
	logger.Info().Str("transport_id", t.ID()).Msg("transport created")
	return nil
}

// handler is the single event dispatch function given to the engine.
func (m *TransportManager) handler(dir core.Direction) core.TransportEventHandler {
	return func(ctx context.Context, ev core.TransportEvent) (string, error) {
		logger := log.With().
			Str("module", "sfu.transport").
			Str("direction", string(dir)).
			Str("transport_id", ev.TransportID).
			Str("event", ev.Type.String()).
			Logger()

		switch ev.Type {
		case core.EventConnect:
			if err := m.sig.ConnectTransport(ctx, ev.TransportID, ev.DTLSParameters); err != nil {
				logger.Error().Err(err).Msg("connect transport failed")
				return "", err
			}
			return "", nil

		case core.EventConnectionStateChange:
			logger.Info().Str("state", string(ev.State)).Msg("transport state")
			if ev.State.Lost() {
				m.release(dir, ev.TransportID)
			}
			return "", nil

		case core.EventProduce:
			if dir != core.DirectionSend {
				return "", ErrNotSendCapable
			}
			id, err := m.sig.Produce(ctx, ev.TransportID, ev.Kind, ev.RTPParameters)
			if err != nil {
				logger.Error().Err(err).Str("kind", string(ev.Kind)).Msg("produce failed")
				return "", err
			}
			logger.Info().Str("kind", string(ev.Kind)).Str("producer_id", id).Msg("producer confirmed")
			return id, nil
		}
		return "", fmt.Errorf("unknown transport event %s", ev.Type)
	}
}

// release drops the handle if it still points at transportID.
func (m *TransportManager) release(dir core.Direction, transportID string) {
	m.mu.Lock()
	var lost core.Transport
	if dir == core.DirectionSend && m.send != nil && m.send.ID() == transportID {
		lost, m.send = m.send, nil
	}
	if dir == core.DirectionRecv && m.recv != nil && m.recv.ID() == transportID {
		lost, m.recv = m.recv, nil
	}
	onLost := m.onLost
	m.mu.Unlock()

	if lost == nil {
		return
	}
	log.Warn().Str("module", "sfu.transport").Str("direction", string(dir)).Str("transport_id", transportID).Msg("transport lost")
	// the engine may still be inside its own state callback
	go func() { _ = lost.Close() }()
	if onLost != nil {
		onLost(dir)
	}
}

func (m *TransportManager) Produce(ctx context.Context, track core.LocalTrack, kind domain.StreamKind, codec core.CodecOptions) (core.Producer, error) {
	m.mu.RLock()
	t := m.send
	m.mu.RUnlock()
	if t == nil {
		log.Error().Str("module", "sfu.transport").Str("kind", string(kind)).Msg("produce without send transport")
		return nil, ErrNoSendTransport
	}
	return t.Produce(ctx, track, kind, codec)
}

func (m *TransportManager) Consume(ctx context.Context, opts core.ConsumerOptions) (core.Consumer, error) {
	m.mu.RLock()
	t := m.recv
	m.mu.RUnlock()
	if t == nil {
		return nil, ErrNoRecvTransport
	}
	return t.Consume(ctx, opts)
}

// SendTransport returns the live send transport or nil.
func (m *TransportManager) SendTransport() core.Transport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.send
}

// RecvTransport returns the live receive transport or nil.
func (m *TransportManager) RecvTransport() core.Transport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.recv
}

// Close closes both transports. Safe to call repeatedly.
func (m *TransportManager) Close() {
	m.mu.Lock()
	send, recv := m.send, m.recv
	m.send, m.recv = nil, nil
	m.mu.Unlock()

	for _, t := range []core.Transport{send, recv} {
		if t == nil {
			continue
		}
		if err := t.Close(); err != nil {
			log.Error().Err(err).Str("module", "sfu.transport").Str("transport_id", t.ID()).Msg("close error")
		} else {
			log.Info().Str("module", "sfu.transport").Str("transport_id", t.ID()).Msg("closed")
		}
	}
}
