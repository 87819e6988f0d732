package orch

import (
	"sync"

	"github.com/dkeye/voiceclient/internal/app/sfu"
	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/domain"
)

// Session holds everything one channel membership owns. It is created by
// Init and discarded by Cleanup.
type Session struct {
	Channel    domain.ChannelID
	Caps       core.Capabilities
	Transports *sfu.TransportManager
	Consumers  *sfu.ConsumerRegistry

	mu        sync.Mutex
	producers map[domain.StreamKind]core.Producer
	sinks     map[core.ConsumerKey]core.Sink
}

func (s *Session) SendTransport() core.Transport { return s.Transports.SendTransport() }
func (s *Session) RecvTransport() core.Transport { return s.Transports.RecvTransport() }

func (s *Session) Producer(kind domain.StreamKind) core.Producer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.producers[kind]
}

func (s *Session) addProducer(p core.Producer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.producers[p.Kind()]; ok {
		return false
	}
	s.producers[p.Kind()] = p
	return true
}

// removeProducer drops p if it is still the producer of its kind.
func (s *Session) removeProducer(p core.Producer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.producers[p.Kind()] != p {
		return false
	}
	delete(s.producers, p.Kind())
	return true
}

func (s *Session) takeProducer(kind domain.StreamKind) core.Producer {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.producers[kind]
	delete(s.producers, kind)
	return p
}

func (s *Session) takeProducers() []core.Producer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Producer, 0, len(s.producers))
	for _, p := range s.producers {
		out = append(out, p)
	}
	clear(s.producers)
	return out
}

func (s *Session) ProducerKinds() []domain.StreamKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.StreamKind, 0, len(s.producers))
	for _, k := range domain.StreamKinds {
		if _, ok := s.producers[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// putSink stores sink for key and returns the sink it displaced, if any.
func (s *Session) putSink(key core.ConsumerKey, sink core.Sink) core.Sink {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.sinks[key]
	s.sinks[key] = sink
	return old
}

func (s *Session) takeSink(key core.ConsumerKey) core.Sink {
	s.mu.Lock()
	defer s.mu.Unlock()
	sink := s.sinks[key]
	delete(s.sinks, key)
	return sink
}
