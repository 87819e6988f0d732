package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dkeye/voiceclient/internal/dsp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.Control.Port)
	assert.Equal(t, 20*time.Second, cfg.Signal.PingPeriod)
	assert.Equal(t, 50, cfg.Signal.RateLimit)
	assert.NotEmpty(t, cfg.ICE.ICEServers)
	assert.Equal(t, dsp.DefaultGateConfig(), cfg.Gate)
	assert.Equal(t, dsp.DefaultMeterConfig(), cfg.Meter)
	assert.Equal(t, time.Second, cfg.Stats.Interval)
	assert.Equal(t, zerolog.InfoLevel, cfg.Level())

	f := cfg.Audio.Format()
	assert.Equal(t, 8000, f.SampleRate)
	assert.Equal(t, 160, f.BlockFrames)
	assert.True(t, cfg.Bridge().Enabled)
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode: debug
log_level: debug
control:
  port: 9090
signal:
  url: ws://sfu.example:4443/ws
  ping_period: 5s
ice:
  servers: ["stun:a.example:3478", "stun:b.example:3478"]
gate:
  threshold_db: -35
  hold_ms: 400
stats:
  interval: 500ms
  window: 10
`), 0o600))

	t.Setenv("VOICE_AUDIO_DEVICE", "tone:440")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Control.Port)
	assert.Equal(t, "ws://sfu.example:4443/ws", cfg.Signal.URL)
	assert.Equal(t, 5*time.Second, cfg.Signal.PingPeriod)
	assert.Equal(t, []string{"stun:a.example:3478", "stun:b.example:3478"}, cfg.ICE.ICEServers)
	assert.Equal(t, -35.0, cfg.Gate.ThresholdDb)
	assert.Equal(t, 400.0, cfg.Gate.HoldMs)
	assert.True(t, cfg.Gate.Enabled)
	assert.Equal(t, 500*time.Millisecond, cfg.Stats.Interval)
	assert.Equal(t, "tone:440", cfg.Audio.Device)
	assert.Equal(t, zerolog.DebugLevel, cfg.Level())
}

func TestLoadFileRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gate:\n  threshold_db: 6\n"), 0o600))

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "threshold_db")
}
