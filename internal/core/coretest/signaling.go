package coretest

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/domain"
	"github.com/pion/webrtc/v4"
)

var _ core.Signaling = (*Signaling)(nil)

// Signaling is an in-memory SFU endpoint that records every call.
type Signaling struct {
	mu sync.Mutex

	Active core.ActiveProducers
	// Fail maps a method name to the error it returns.
	Fail map[string]error
	// FailConsume fails Consume for one remote participant.
	FailConsume map[domain.ParticipantID]error

	seq             int
	Connected       []string
	Produced        []domain.StreamKind
	Consumed        []core.ConsumerKey
	ClosedProducers []domain.StreamKind
}

func NewSignaling() *Signaling {
	return &Signaling{
		Active:      core.ActiveProducers{},
		Fail:        map[string]error{},
		FailConsume: map[domain.ParticipantID]error{},
	}
}

func (s *Signaling) fail(method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Fail[method]
}

func (s *Signaling) SetFail(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fail[method] = err
}

func (s *Signaling) nextID(prefix string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

func (s *Signaling) CreateSendTransport(context.Context) (core.TransportOptions, error) {
	if err := s.fail("CreateSendTransport"); err != nil {
		return core.TransportOptions{}, err
	}
	return core.TransportOptions{ID: s.nextID("send")}, nil
}

func (s *Signaling) CreateRecvTransport(context.Context) (core.TransportOptions, error) {
	if err := s.fail("CreateRecvTransport"); err != nil {
		return core.TransportOptions{}, err
	}
	return core.TransportOptions{ID: s.nextID("recv")}, nil
}

func (s *Signaling) ConnectTransport(_ context.Context, transportID string, _ webrtc.DTLSParameters) error {
	if err := s.fail("ConnectTransport"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Connected = append(s.Connected, transportID)
	return nil
}

func (s *Signaling) Produce(_ context.Context, _ string, kind domain.StreamKind, _ core.RTPParameters) (string, error) {
	if err := s.fail("Produce"); err != nil {
		return "", err
	}
	id := s.nextID("producer")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Produced = append(s.Produced, kind)
	return id, nil
}

func (s *Signaling) Consume(_ context.Context, kind domain.StreamKind, remote domain.ParticipantID, _ core.Capabilities) (core.ConsumeResponse, error) {
	if err := s.fail("Consume"); err != nil {
		return core.ConsumeResponse{}, err
	}
	s.mu.Lock()
	err := s.FailConsume[remote]
	s.mu.Unlock()
	if err != nil {
		return core.ConsumeResponse{}, err
	}

	id := s.nextID("consumer")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Consumed = append(s.Consumed, core.ConsumerKey{Participant: remote, Kind: kind})
	return core.ConsumeResponse{
		ID:         id,
		ProducerID: "p-" + string(remote) + "-" + string(kind),
		Kind:       kind.TrackKind(),
	}, nil
}

func (s *Signaling) ActiveProducers(context.Context) (core.ActiveProducers, error) {
	if err := s.fail("ActiveProducers"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(core.ActiveProducers, len(s.Active))
	for k, v := range s.Active {
		out[k] = append([]domain.ParticipantID(nil), v...)
	}
	return out, nil
}

func (s *Signaling) CloseProducer(_ context.Context, kind domain.StreamKind) error {
	if err := s.fail("CloseProducer"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ClosedProducers = append(s.ClosedProducers, kind)
	return nil
}

// Snapshot copies the recorded calls under the lock.
func (s *Signaling) Snapshot() (connected []string, produced []domain.StreamKind, closed []domain.StreamKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.Connected...),
		append([]domain.StreamKind(nil), s.Produced...),
		append([]domain.StreamKind(nil), s.ClosedProducers...)
}
