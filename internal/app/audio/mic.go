package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

var ErrMicNotStarted = errors.New("microphone not started")

const micClockRate = 8000

// Mic owns the single live microphone capture of a session.
type Mic struct {
	opener Opener
	bridge *Bridge
	format Format

	gen   Generation
	muted atomic.Bool

	mu     sync.Mutex
	device string
	pipe   *pipeline
	track  *SampleTrack
}

func NewMic(opener Opener, bridge *Bridge, f Format) *Mic {
	return &Mic{opener: opener, bridge: bridge, format: f}
}

func (m *Mic) Bridge() *Bridge { return m.bridge }

// Start releases any current capture, opens deviceID and returns a new track
// fed by it. A Start or Stop issued meanwhile makes it return ErrStale.
func (m *Mic) Start(ctx context.Context, deviceID string) (*SampleTrack, error) {
	tok := m.gen.Next()
	if m.format.SampleRate != micClockRate {
		return nil, &DeviceError{Device: deviceID, Reason: ReasonOverconstrained,
			Err: fmt.Errorf("%w: sample rate %d, want %d", ErrUnsupportedFormat, m.format.SampleRate, micClockRate)}
	}

	m.mu.Lock()
	m.releaseLocked(true)
	m.mu.Unlock()

	src, err := m.opener.Open(ctx, deviceID, m.format)
	if err != nil {
		if tok.Check() != nil {
			return nil, ErrStale
		}
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := tok.Check(); err != nil {
		_ = src.Close()
		return nil, err
	}

	track, err := NewMicrophoneTrack()
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	m.track = track
	m.device = deviceID
	m.pipe = startPipeline(src, m.bridge.Load(m.format), track, m.format, &m.muted)

	log.Info().Str("module", "audio").Str("device", deviceID).Bool("dsp", m.bridge.Available()).Msg("microphone started")
	return track, nil
}

// Switch moves the current track onto another device. The old device is
// released before the new one is opened.
func (m *Mic) Switch(ctx context.Context, deviceID string) error {
	tok := m.gen.Next()

	m.mu.Lock()
	if m.track == nil {
		m.mu.Unlock()
		return ErrMicNotStarted
	}
	m.releaseLocked(false)
	m.mu.Unlock()

	src, err := m.opener.Open(ctx, deviceID, m.format)
	if err != nil {
		if tok.Check() != nil {
			return ErrStale
		}
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := tok.Check(); err != nil {
		_ = src.Close()
		return err
	}
	if m.track == nil {
		_ = src.Close()
		return ErrMicNotStarted
	}
	m.device = deviceID
	m.pipe = startPipeline(src, m.bridge.Load(m.format), m.track, m.format, &m.muted)

	log.Info().Str("module", "audio").Str("device", deviceID).Msg("microphone switched")
	return nil
}

// Stop ends the capture and the track. Safe to call when not started.
func (m *Mic) Stop() {
	m.gen.Next()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseLocked(true)
}

func (m *Mic) releaseLocked(endTrack bool) {
	if m.pipe != nil {
		if err := m.pipe.stop(); err != nil {
			log.Warn().Err(err).Str("module", "audio").Str("device", m.device).Msg("close source")
		}
		m.pipe = nil
	}
	m.bridge.Release()
	if endTrack && m.track != nil {
		m.track.End()
		m.track = nil
		m.device = ""
	}
}

func (m *Mic) SetMuted(muted bool) { m.muted.Store(muted) }

func (m *Mic) Muted() bool { return m.muted.Load() }

func (m *Mic) Device() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.device
}

func (m *Mic) Track() *SampleTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.track
}
