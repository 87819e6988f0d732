package dsp

import "math"

type MeterConfig struct {
	Enabled          bool    `mapstructure:"enabled" json:"enabled"`
	UpdateIntervalMs float64 `mapstructure:"update_interval_ms" json:"updateIntervalMs"`
}

func DefaultMeterConfig() MeterConfig {
	return MeterConfig{Enabled: true, UpdateIntervalMs: 16}
}

// Meter is a pass-through tap that reports the peak block level every
// UpdateIntervalMs of audio.
type Meter struct {
	sampleRate        float64
	cfg               MeterConfig
	peakDbSinceReport float64
	framesSinceReport int
}

func NewMeter(sampleRate float64, cfg MeterConfig) (*Meter, error) {
	if sampleRate <= 0 || math.IsNaN(sampleRate) {
		return nil, ErrInvalidSampleRate
	}
	m := &Meter{sampleRate: sampleRate, cfg: cfg}
	m.reset()
	return m, nil
}

func (m *Meter) reset() {
	m.peakDbSinceReport = math.Inf(-1)
	m.framesSinceReport = 0
}

func (m *Meter) HandleMessage(msg Message) {
	cfg, ok := msg.(ConfigMessage)
	if !ok {
		return
	}
	if cfg.Enabled != nil {
		m.cfg.Enabled = *cfg.Enabled
	}
	if cfg.UpdateIntervalMs != nil && *cfg.UpdateIntervalMs > 0 {
		m.cfg.UpdateIntervalMs = *cfg.UpdateIntervalMs
	}
	m.reset()
}

func (m *Meter) Process(in, out [][]float32, post func(Message)) {
	passThrough(in, out)
	if !m.cfg.Enabled {
		return
	}

	db := BlockDecibels(in)
	if db > m.peakDbSinceReport {
		m.peakDbSinceReport = db
	}
	m.framesSinceReport += blockFrames(in, out)

	if float64(m.framesSinceReport) >= framesFor(m.cfg.UpdateIntervalMs, m.sampleRate) {
		if post != nil {
			post(MeterMessage{Decibels: m.peakDbSinceReport})
		}
		m.reset()
	}
}
