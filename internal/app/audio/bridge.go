// Package audio owns local microphone capture: devices, the DSP bridge into
// the real-time host, and the encoded track handed to the send transport.
package audio

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/dkeye/voiceclient/internal/dsp"
	"github.com/rs/zerolog/log"
)

type BridgeConfig struct {
	Enabled bool            `mapstructure:"dsp"`
	Gate    dsp.GateConfig  `mapstructure:"gate"`
	Meter   dsp.MeterConfig `mapstructure:"meter"`
}

func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{Enabled: true, Gate: dsp.DefaultGateConfig(), Meter: dsp.DefaultMeterConfig()}
}

// Bridge is the control side of the DSP chain. It builds a host per capture,
// forwards config into it and collects meter readings out of it.
type Bridge struct {
	mu        sync.Mutex
	cfg       BridgeConfig
	gatePort  *dsp.Port
	meterPort *dsp.Port

	unavailable     atomic.Bool
	unavailableOnce sync.Once

	lastReading atomic.Uint64
	hasReading  atomic.Bool
	readings    chan float64
}

func NewBridge(cfg BridgeConfig) *Bridge {
	return &Bridge{cfg: cfg, readings: make(chan float64, 16)}
}

// Available is false once the real-time host failed to load; capture then
// runs without processing for the rest of the process lifetime.
func (b *Bridge) Available() bool { return !b.unavailable.Load() }

func (b *Bridge) Config() BridgeConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg
}

// Load builds a host with meter and gate nodes for the given format. A nil
// host means passthrough.
func (b *Bridge) Load(f Format) *dsp.Host {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.cfg.Enabled || b.unavailable.Load() {
		return nil
	}

	host, err := dsp.NewHost(f.HostConfig())
	if err != nil {
		b.markUnavailable(err)
		return nil
	}
	meter, err := dsp.NewMeter(float64(f.SampleRate), b.cfg.Meter)
	if err != nil {
		b.markUnavailable(err)
		return nil
	}
	gate, err := dsp.NewGate(float64(f.SampleRate), b.cfg.Gate)
	if err != nil {
		b.markUnavailable(err)
		return nil
	}
	meterPort, _ := host.AddNode("meter", meter)
	gatePort, _ := host.AddNode("gate", gate)

	b.meterPort, b.gatePort = meterPort, gatePort
	go b.collect(meterPort)
	return host
}

func (b *Bridge) markUnavailable(err error) {
	b.unavailable.Store(true)
	b.unavailableOnce.Do(func() {
		log.Warn().Err(err).Str("module", "audio.bridge").Msg("noise suppression unavailable, capturing unprocessed audio")
	})
}

// collect runs until the host closes the port.
func (b *Bridge) collect(port *dsp.Port) {
	for raw := range port.Messages() {
		msg, err := dsp.Decode(raw)
		if err != nil {
			continue
		}
		m, ok := msg.(dsp.MeterMessage)
		if !ok {
			continue
		}
		b.lastReading.Store(math.Float64bits(m.Decibels))
		b.hasReading.Store(true)
		select {
		case b.readings <- m.Decibels:
		default:
		}
	}
}

// Release forgets the ports of the current host; the host itself stops with its pipeline.
func (b *Bridge) Release() {
	b.mu.Lock()
	b.gatePort, b.meterPort = nil, nil
	b.mu.Unlock()
	b.hasReading.Store(false)
}

func (b *Bridge) SetGate(cfg dsp.GateConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg.Gate = cfg
	if b.gatePort == nil {
		return nil
	}
	return b.gatePort.PostMessage(dsp.GatePatch(cfg))
}

func (b *Bridge) SetMeter(cfg dsp.MeterConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg.Meter = cfg
	if b.meterPort == nil {
		return nil
	}
	return b.meterPort.PostMessage(dsp.MeterPatch(cfg))
}

// LastReading is the latest meter peak in dBFS.
func (b *Bridge) LastReading() (float64, bool) {
	if !b.hasReading.Load() {
		return 0, false
	}
	return math.Float64frombits(b.lastReading.Load()), true
}

// Readings yields meter peaks; readings are dropped while nobody listens.
func (b *Bridge) Readings() <-chan float64 { return b.readings }
