// Package rtc is the pion-backed media engine. Transports are built from
// ORTC objects (ICE gatherer, ICE transport, DTLS transport, RTP senders and
// receivers) because the SFU hands out transport parameters, not SDP.
package rtc

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Config struct {
	ICEServers []string `mapstructure:"servers"`
}

func DefaultConfig() Config {
	return Config{ICEServers: []string{"stun:stun.l.google.com:19302"}}
}

var videoFeedback = []core.RTCPFeedback{
	{Type: "nack"},
	{Type: "nack", Parameter: "pli"},
	{Type: "ccm", Parameter: "fir"},
	{Type: "goog-remb"},
}

// DefaultCapabilities is what the engine can send and receive.
func DefaultCapabilities() core.Capabilities {
	return core.Capabilities{Codecs: []core.CodecCapability{
		{
			Kind: domain.TrackAudio, MimeType: webrtc.MimeTypeOpus, PreferredPayloadType: 111,
			ClockRate: 48000, Channels: 2,
			Parameters: map[string]any{"minptime": 10, "useinbandfec": 1},
		},
		{Kind: domain.TrackAudio, MimeType: webrtc.MimeTypePCMU, PreferredPayloadType: 0, ClockRate: 8000, Channels: 1},
		{Kind: domain.TrackVideo, MimeType: webrtc.MimeTypeVP8, PreferredPayloadType: 96, ClockRate: 90000, RTCPFeedback: videoFeedback},
	}}
}

var _ core.Engine = (*Engine)(nil)

type Engine struct {
	cfg    Config
	caps   core.Capabilities
	logger LoggerFactory
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg, caps: DefaultCapabilities(), logger: NewLoggerFactory()}
}

func (e *Engine) Capabilities() core.Capabilities { return e.caps }

// NewTransport builds the ORTC stack of one transport. Nothing touches the
// network until the first Produce or Consume connects it.
func (e *Engine) NewTransport(dir core.Direction, opts core.TransportOptions, caps core.Capabilities, handler core.TransportEventHandler) (core.Transport, error) {
	if caps.Empty() {
		return nil, core.ErrCapabilitiesNotLoaded
	}
	api, err := e.newAPI(caps)
	if err != nil {
		return nil, err
	}

	gatherer, err := api.NewICEGatherer(webrtc.ICEGatherOptions{ICEServers: e.iceServers()})
	if err != nil {
		return nil, fmt.Errorf("ice gatherer: %w", err)
	}
	ice := api.NewICETransport(gatherer)
	dtls, err := api.NewDTLSTransport(ice, nil)
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("dtls transport: %w", err)
	}

	t := newTransport(dir, opts, caps, handler, api, gatherer, ice, dtls)
	log.Info().Str("module", "rtc").Str("transport_id", opts.ID).Str("direction", string(dir)).Msg("transport created")
	return t, nil
}

func (e *Engine) iceServers() []webrtc.ICEServer {
	if len(e.cfg.ICEServers) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: e.cfg.ICEServers}}
}

func (e *Engine) newAPI(caps core.Capabilities) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := registerCodecs(m, caps); err != nil {
		return nil, err
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("interceptors: %w", err)
	}
	se := webrtc.SettingEngine{LoggerFactory: e.logger}
	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	), nil
}

// registerCodecs registers the negotiated codecs with their negotiated payload types.
func registerCodecs(m *webrtc.MediaEngine, caps core.Capabilities) error {
	for _, c := range caps.Codecs {
		typ, err := codecType(c.Kind)
		if err != nil {
			return err
		}
		params := webrtc.RTPCodecParameters{
			RTPCodecCapability: codecCapability(c),
			PayloadType:        webrtc.PayloadType(c.PreferredPayloadType),
		}
		if err := m.RegisterCodec(params, typ); err != nil {
			return fmt.Errorf("register %s: %w", c.MimeType, err)
		}
	}
	return nil
}

func codecCapability(c core.CodecCapability) webrtc.RTPCodecCapability {
	feedback := make([]webrtc.RTCPFeedback, 0, len(c.RTCPFeedback))
	for _, fb := range c.RTCPFeedback {
		feedback = append(feedback, webrtc.RTCPFeedback{Type: fb.Type, Parameter: fb.Parameter})
	}
	return webrtc.RTPCodecCapability{
		MimeType:     c.MimeType,
		ClockRate:    c.ClockRate,
		Channels:     uint16(c.Channels),
		SDPFmtpLine:  fmtpLine(c.Parameters),
		RTCPFeedback: feedback,
	}
}

func codecType(kind domain.TrackKind) (webrtc.RTPCodecType, error) {
	switch kind {
	case domain.TrackAudio:
		return webrtc.RTPCodecTypeAudio, nil
	case domain.TrackVideo:
		return webrtc.RTPCodecTypeVideo, nil
	default:
		return 0, fmt.Errorf("unknown track kind %q", kind)
	}
}

// fmtpLine renders codec parameters as "a=1;b=2" with sorted keys.
func fmtpLine(params map[string]any) string {
	parts := make([]string, 0, len(params))
	for _, k := range slices.Sorted(maps.Keys(params)) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return strings.Join(parts, ";")
}

// applyCodecOptions returns codec parameters extended with encoder options.
func applyCodecOptions(params map[string]any, kind domain.TrackKind, opts core.CodecOptions) map[string]any {
	out := maps.Clone(params)
	if out == nil {
		out = map[string]any{}
	}
	set := func(key string, on bool) {
		if on {
			out[key] = 1
		}
	}
	switch kind {
	case domain.TrackAudio:
		set("stereo", opts.OpusStereo)
		set("sprop-stereo", opts.OpusStereo)
		set("useinbandfec", opts.OpusFEC)
		set("usedtx", opts.OpusDTX)
		if opts.OpusMaxPlaybackRate > 0 {
			out["maxplaybackrate"] = opts.OpusMaxPlaybackRate
		}
	case domain.TrackVideo:
		if opts.VideoGoogleStartBitrate > 0 {
			out["x-google-start-bitrate"] = opts.VideoGoogleStartBitrate
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
