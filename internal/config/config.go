package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/voiceclient/internal/adapters/rtc"
	"github.com/dkeye/voiceclient/internal/adapters/signal"
	"github.com/dkeye/voiceclient/internal/app/audio"
	"github.com/dkeye/voiceclient/internal/app/stats"
	"github.com/dkeye/voiceclient/internal/dsp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode     string          `mapstructure:"mode"`
	LogLevel string          `mapstructure:"log_level"`
	Name     string          `mapstructure:"name"`
	Control  ControlConfig   `mapstructure:"control"`
	Signal   signal.Options  `mapstructure:"signal"`
	ICE      rtc.Config      `mapstructure:"ice"`
	Audio    AudioConfig     `mapstructure:"audio"`
	Gate     dsp.GateConfig  `mapstructure:"gate"`
	Meter    dsp.MeterConfig `mapstructure:"meter"`
	Stats    stats.Config    `mapstructure:"stats"`
}

type ControlConfig struct {
	Port int `mapstructure:"port"`
}

type AudioConfig struct {
	Device     string `mapstructure:"device"`
	SampleRate int    `mapstructure:"sample_rate"`
	Channels   int    `mapstructure:"channels"`
	BlockMs    int    `mapstructure:"block_ms"`
	DSP        bool   `mapstructure:"dsp"`
	RecordDir  string `mapstructure:"record_dir"`
}

// Format is the capture format; a block holds BlockMs of audio.
func (a AudioConfig) Format() audio.Format {
	return audio.Format{
		SampleRate:  a.SampleRate,
		Channels:    a.Channels,
		BlockFrames: a.SampleRate * a.BlockMs / 1000,
	}
}

func (c *Config) Bridge() audio.BridgeConfig {
	return audio.BridgeConfig{Enabled: c.Audio.DSP, Gate: c.Gate, Meter: c.Meter}
}

// Level parses LogLevel, falling back to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

func (c *Config) Validate() error {
	if c.Control.Port <= 0 || c.Control.Port > 65535 {
		return fmt.Errorf("control.port out of range: %d", c.Control.Port)
	}
	if c.Audio.BlockMs <= 0 {
		return fmt.Errorf("audio.block_ms must be positive: %d", c.Audio.BlockMs)
	}
	if c.Stats.Interval <= 0 || c.Stats.Window <= 0 {
		return fmt.Errorf("stats interval and window must be positive")
	}
	if c.Gate.ThresholdDb > 0 {
		return fmt.Errorf("gate.threshold_db must not be positive: %v", c.Gate.ThresholdDb)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("name", "")
	v.SetDefault("control.port", 8080)

	sig := signal.DefaultOptions()
	v.SetDefault("signal.url", "ws://localhost:3000/ws")
	v.SetDefault("signal.ping_period", sig.PingPeriod)
	v.SetDefault("signal.rate_limit", sig.RateLimit)
	v.SetDefault("signal.rate_interval", sig.RateInterval)

	v.SetDefault("ice.servers", rtc.DefaultConfig().ICEServers)

	v.SetDefault("audio.device", audio.DeviceDefault)
	v.SetDefault("audio.sample_rate", 8000)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.block_ms", 20)
	v.SetDefault("audio.dsp", true)
	v.SetDefault("audio.record_dir", "")

	gate := dsp.DefaultGateConfig()
	v.SetDefault("gate.enabled", gate.Enabled)
	v.SetDefault("gate.threshold_db", gate.ThresholdDb)
	v.SetDefault("gate.hold_ms", gate.HoldMs)

	meter := dsp.DefaultMeterConfig()
	v.SetDefault("meter.enabled", meter.Enabled)
	v.SetDefault("meter.update_interval_ms", meter.UpdateIntervalMs)

	st := stats.DefaultConfig()
	v.SetDefault("stats.interval", st.Interval)
	v.SetDefault("stats.window", st.Window)
}

func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile reads fileName over the defaults. A missing file is not an error;
// VOICE_ prefixed environment variables override both.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("voice")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Control.Port).
		Str("signal", cfg.Signal.URL).
		Dur("stats_interval", cfg.Stats.Interval).
		Msg("config ready")
	return &cfg, nil
}

// ShutdownTimeout bounds graceful shutdown of the control server.
const ShutdownTimeout = 5 * time.Second
