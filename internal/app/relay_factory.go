package app

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/domain"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog/log"
)

// RelayCounters is what a consumer's relay has read.
type RelayCounters struct {
	Key     core.ConsumerKey `json:"key"`
	Packets uint64           `json:"packets"`
	Bytes   uint64           `json:"bytes"`
	Outputs []string         `json:"outputs"`
}

// RelayFactory turns every consumer into a running Relay. With RecordDir set
// each relay also records to an ogg (audio) or ivf (video) file.
type RelayFactory struct {
	RecordDir string
	Policy    Policy

	mu     sync.Mutex
	relays map[core.ConsumerKey]*Relay
}

var _ core.SinkFactory = (*RelayFactory)(nil)

func NewRelayFactory(recordDir string, policy Policy) *RelayFactory {
	return &RelayFactory{
		RecordDir: recordDir,
		Policy:    policy,
		relays:    make(map[core.ConsumerKey]*Relay),
	}
}

func (f *RelayFactory) NewSink(key core.ConsumerKey, c core.Consumer) (core.Sink, error) {
	r := NewRelay(key, c.Track(), f.Policy)
	if f.RecordDir != "" {
		w, path, err := f.recorder(key, c)
		if err != nil {
			return nil, err
		}
		r.AddOutput("record", w)
		log.Info().Str("module", "app.relay").Str("key", key.String()).Str("path", path).Msg("recording consumer")
	}

	f.mu.Lock()
	f.relays[key] = r
	f.mu.Unlock()

	r.Start()
	go func() {
		<-r.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.relays[key] == r {
			delete(f.relays, key)
		}
	}()
	return r, nil
}

func (f *RelayFactory) recorder(key core.ConsumerKey, c core.Consumer) (PacketWriter, string, error) {
	if err := os.MkdirAll(f.RecordDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("record dir: %w", err)
	}
	base := filepath.Join(f.RecordDir, fmt.Sprintf("%s-%s-%s", key.Participant, key.Kind, c.ID()))
	switch c.Kind() {
	case domain.TrackAudio:
		path := base + ".ogg"
		w, err := oggwriter.New(path, 48000, 2)
		return w, path, err
	case domain.TrackVideo:
		path := base + ".ivf"
		w, err := ivfwriter.New(path)
		return w, path, err
	default:
		return nil, "", fmt.Errorf("record %s: unknown track kind %q", key, c.Kind())
	}
}

// Counters lists the live relays ordered by key.
func (f *RelayFactory) Counters() []RelayCounters {
	f.mu.Lock()
	out := make([]RelayCounters, 0, len(f.relays))
	for key, r := range f.relays {
		packets, bytes := r.Counters()
		outputs := r.Outputs()
		sort.Strings(outputs)
		out = append(out, RelayCounters{Key: key, Packets: packets, Bytes: bytes, Outputs: outputs})
	}
	f.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}
