package app

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/dkeye/voiceclient/internal/core"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	OutputStateOk int32 = iota
	OutputStateMuted
	OutputStateDelete
)

// PacketWriter receives every packet of one consumer.
type PacketWriter interface {
	WriteRTP(pkt *rtp.Packet) error
	Close() error
}

// Output is a single destination of a relay.
type Output struct {
	Writer PacketWriter
	State  int32 // accessed atomically (OutputStateOk/Muted/Delete)
}

// Relay reads a consumer's track until it ends and fans packets out to its
// outputs. It is the core.Sink of a consumer.
type Relay struct {
	Key    core.ConsumerKey
	Src    core.RemoteTrack
	Policy Policy

	mu      sync.RWMutex
	outputs map[string]*Output

	packets atomic.Uint64
	bytes   atomic.Uint64
	done    chan struct{}
}

var _ core.Sink = (*Relay)(nil)

func NewRelay(key core.ConsumerKey, src core.RemoteTrack, policy Policy) *Relay {
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &Relay{
		Key:     key,
		Src:     src,
		Policy:  policy,
		outputs: make(map[string]*Output),
		done:    make(chan struct{}),
	}
}

func (r *Relay) AddOutput(name string, w PacketWriter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs[name] = &Output{Writer: w}
}

// SetMuted pauses or resumes one output without removing it.
func (r *Relay) SetMuted(name string, muted bool) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out, ok := r.outputs[name]
	if !ok {
		return false
	}
	state := OutputStateOk
	if muted {
		state = OutputStateMuted
	}
	return atomic.CompareAndSwapInt32(&out.State, 1-state, state)
}

func (r *Relay) Outputs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.outputs))
	for name := range r.outputs {
		names = append(names, name)
	}
	return names
}

// Start runs the read loop in its own goroutine.
func (r *Relay) Start() {
	logger := log.With().Str("module", "app.relay").Str("key", r.Key.String()).Logger()
	go r.loop(&logger)
}

// loop reads RTP packets from the source track and forwards them to all outputs.
func (r *Relay) loop(logger *zerolog.Logger) {
	defer close(r.done)
	defer r.closeOutputs(logger)
	for {
		pkt, err := r.Src.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Debug().Msg("relay source ended")
			} else {
				logger.Error().Err(err).Msg("relay read RTP error, stopping")
			}
			return
		}
		r.packets.Add(1)
		r.bytes.Add(uint64(len(pkt.Payload)))
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	dirty := false
	for name, out := range r.outputs {
		state := atomic.LoadInt32(&out.State)
		if state == OutputStateDelete {
			dirty = true
			continue
		}
		if state == OutputStateMuted {
			continue
		}
		if err := out.Writer.WriteRTP(pkt); err != nil {
			switch r.Policy.OnWriteError(r.Key, name, err) {
			case RemoveOutput:
				logger.Error().Err(err).Str("output", name).Msg("relay write RTP error, removing output")
				atomic.StoreInt32(&out.State, OutputStateDelete)
				dirty = true
			case MuteOutput:
				logger.Warn().Err(err).Str("output", name).Msg("relay write RTP error, muting output")
				atomic.StoreInt32(&out.State, OutputStateMuted)
			case NoAction:
			}
		}
	}
	r.mu.RUnlock()

	// Cleanup is done outside the RLock.
	if dirty {
		r.cleanupDeleted(logger)
	}
}

func (r *Relay) cleanupDeleted(logger *zerolog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, out := range r.outputs {
		if atomic.LoadInt32(&out.State) == OutputStateDelete {
			if err := out.Writer.Close(); err != nil {
				logger.Warn().Err(err).Str("output", name).Msg("close output")
			}
			delete(r.outputs, name)
		}
	}
}

func (r *Relay) closeOutputs(logger *zerolog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, out := range r.outputs {
		if err := out.Writer.Close(); err != nil {
			logger.Warn().Err(err).Str("output", name).Msg("close output")
		}
		delete(r.outputs, name)
	}
}

// Counters reports what the relay has read so far.
func (r *Relay) Counters() (packets, bytes uint64) {
	return r.packets.Load(), r.bytes.Load()
}

// Close waits for the read loop to finish. The loop ends when the consumer
// closes its track.
func (r *Relay) Close() {
	<-r.done
}

// Done is closed once the read loop has exited and every output is closed.
func (r *Relay) Done() <-chan struct{} { return r.done }
