package app

import (
	"context"
	"sync"

	"github.com/dkeye/voiceclient/internal/app/stats"
	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/domain"
	"github.com/dkeye/voiceclient/internal/dsp"
	"github.com/rs/zerolog/log"
)

// VoiceControls is what detached surfaces (HTTP API, CLI) may do with the
// live voice session.
type VoiceControls interface {
	Status() core.Status
	Channel() domain.ChannelID
	Consumers() []core.ConsumerKey
	Stats() stats.Snapshot
	SetGate(cfg dsp.GateConfig) error
	Gate() dsp.GateConfig
	SetMuted(muted bool)
	Muted() bool
	MeterReading() (float64, bool)
	DSPAvailable() bool
	SwitchMicrophone(ctx context.Context, deviceID string) error
}

// ControlRegistry holds the controls of the session that is currently live.
// The orchestrator binds on init and unbinds on cleanup.
type ControlRegistry struct {
	mu       sync.RWMutex
	controls VoiceControls
	channel  domain.ChannelID
}

func NewControlRegistry() *ControlRegistry {
	return &ControlRegistry{}
}

func (r *ControlRegistry) Bind(channel domain.ChannelID, c VoiceControls) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.controls = c
	r.channel = channel
	log.Info().Str("module", "app.registry").Str("channel", string(channel)).Msg("bound voice controls")
}

// Unbind clears the registry if c is still the bound controls.
func (r *ControlRegistry) Unbind(c VoiceControls) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.controls != c {
		return
	}
	log.Info().Str("module", "app.registry").Str("channel", string(r.channel)).Msg("unbound voice controls")
	r.controls = nil
	r.channel = ""
}

func (r *ControlRegistry) Controls() (VoiceControls, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.controls, r.controls != nil
}

func (r *ControlRegistry) Channel() (domain.ChannelID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channel, r.controls != nil
}
