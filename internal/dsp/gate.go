package dsp

import (
	"errors"
	"math"
)

var ErrInvalidSampleRate = errors.New("invalid sample rate")

type GateConfig struct {
	Enabled     bool    `mapstructure:"enabled" json:"enabled"`
	ThresholdDb float64 `mapstructure:"threshold_db" json:"thresholdDb"`
	HoldMs      float64 `mapstructure:"hold_ms" json:"holdMs"`
}

func DefaultGateConfig() GateConfig {
	return GateConfig{
		Enabled:     true,
		ThresholdDb: -50,
		HoldMs:      150,
	}
}

// GateState is the observable state of a Gate.
type GateState struct {
	GateConfig
	Open                     bool
	CloseHoldRemainingFrames int
}

// Gate is a hysteresis noise gate. It is not safe for concurrent use: only the
// host goroutine may touch it.
type Gate struct {
	sampleRate float64
	state      GateState
}

func NewGate(sampleRate float64, cfg GateConfig) (*Gate, error) {
	if sampleRate <= 0 || math.IsNaN(sampleRate) {
		return nil, ErrInvalidSampleRate
	}
	g := &Gate{sampleRate: sampleRate}
	g.state.GateConfig = cfg
	return g, nil
}

func (g *Gate) State() GateState { return g.state }

// HandleMessage applies a config patch. Any config push resets open/hold.
func (g *Gate) HandleMessage(m Message) {
	cfg, ok := m.(ConfigMessage)
	if !ok {
		return
	}
	if cfg.Enabled != nil {
		g.state.Enabled = *cfg.Enabled
	}
	if cfg.ThresholdDb != nil && !math.IsNaN(*cfg.ThresholdDb) {
		g.state.ThresholdDb = *cfg.ThresholdDb
	}
	if cfg.HoldMs != nil && *cfg.HoldMs >= 0 {
		g.state.HoldMs = *cfg.HoldMs
	}
	g.state.Open = false
	g.state.CloseHoldRemainingFrames = 0
}

// Process gates one block. The block in which the hold window runs out is
// still passed, so audio stays open for at least HoldMs after the last block
// above threshold.
func (g *Gate) Process(in, out [][]float32, _ func(Message)) {
	st := &g.state
	if !st.Enabled {
		st.Open = true
		st.CloseHoldRemainingFrames = 0
		passThrough(in, out)
		return
	}

	db := BlockDecibels(in)
	holdFrames := int(framesFor(st.HoldMs, g.sampleRate))
	frames := blockFrames(in, out)
	pass := false

	switch {
	case db >= st.ThresholdDb:
		st.Open = true
		st.CloseHoldRemainingFrames = holdFrames
		pass = true
	case st.Open:
		st.CloseHoldRemainingFrames = max(st.CloseHoldRemainingFrames-frames, 0)
		if st.CloseHoldRemainingFrames == 0 {
			st.Open = false
		}
		pass = true
	}

	if pass {
		passThrough(in, out)
		return
	}
	silence(out)
}
