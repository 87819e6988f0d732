package core

import (
	"errors"
	"strings"

	"github.com/dkeye/voiceclient/internal/domain"
)

var (
	ErrNoCommonCodec         = errors.New("no common codec with remote capabilities")
	ErrCapabilitiesNotLoaded = errors.New("capabilities not negotiated")
)

type RTCPFeedback struct {
	Type      string `json:"type"`
	Parameter string `json:"parameter,omitempty"`
}

// CodecCapability is one codec an endpoint can send or receive.
type CodecCapability struct {
	Kind                 domain.TrackKind `json:"kind"`
	MimeType             string           `json:"mimeType"`
	PreferredPayloadType uint8            `json:"preferredPayloadType,omitempty"`
	ClockRate            uint32           `json:"clockRate"`
	Channels             uint8            `json:"channels,omitempty"`
	Parameters           map[string]any   `json:"parameters,omitempty"`
	RTCPFeedback         []RTCPFeedback   `json:"rtcpFeedback,omitempty"`
}

type HeaderExtension struct {
	Kind        domain.TrackKind `json:"kind"`
	URI         string           `json:"uri"`
	PreferredID uint8            `json:"preferredId"`
}

// Capabilities describe what an endpoint can handle at media level.
type Capabilities struct {
	Codecs           []CodecCapability `json:"codecs"`
	HeaderExtensions []HeaderExtension `json:"headerExtensions,omitempty"`
}

func (c Capabilities) Empty() bool { return len(c.Codecs) == 0 }

// CanProduce reports whether at least one codec of the given media type survived negotiation.
func (c Capabilities) CanProduce(kind domain.TrackKind) bool {
	for _, codec := range c.Codecs {
		if codec.Kind == kind {
			return true
		}
	}
	return false
}

// Codec returns the negotiated codec for a mime type.
func (c Capabilities) Codec(mimeType string) (CodecCapability, bool) {
	for _, codec := range c.Codecs {
		if strings.EqualFold(codec.MimeType, mimeType) {
			return codec, true
		}
	}
	return CodecCapability{}, false
}

// Negotiate derives the local capability set from the remote description.
// A codec survives when both sides know it with the same clock rate and channel count;
// the remote payload type wins.
func Negotiate(local, remote Capabilities) (Capabilities, error) {
	var out Capabilities
	for _, rc := range remote.Codecs {
		for _, lc := range local.Codecs {
			if !codecMatch(lc, rc) {
				continue
			}
			c := lc
			c.PreferredPayloadType = rc.PreferredPayloadType
			if len(rc.Parameters) > 0 {
				c.Parameters = rc.Parameters
			}
			c.RTCPFeedback = intersectFeedback(lc.RTCPFeedback, rc.RTCPFeedback)
			out.Codecs = append(out.Codecs, c)
			break
		}
	}
	for _, re := range remote.HeaderExtensions {
		for _, le := range local.HeaderExtensions {
			if le.URI == re.URI && le.Kind == re.Kind {
				out.HeaderExtensions = append(out.HeaderExtensions, re)
				break
			}
		}
	}
	if out.Empty() {
		return Capabilities{}, ErrNoCommonCodec
	}
	return out, nil
}

func codecMatch(a, b CodecCapability) bool {
	if a.Kind != b.Kind || !strings.EqualFold(a.MimeType, b.MimeType) || a.ClockRate != b.ClockRate {
		return false
	}
	if a.Kind == domain.TrackAudio && channelsOf(a) != channelsOf(b) {
		return false
	}
	return true
}

func channelsOf(c CodecCapability) uint8 {
	if c.Channels == 0 {
		return 1
	}
	return c.Channels
}

func intersectFeedback(a, b []RTCPFeedback) []RTCPFeedback {
	var out []RTCPFeedback
	for _, fa := range a {
		for _, fb := range b {
			if fa == fb {
				out = append(out, fa)
				break
			}
		}
	}
	return out
}

type CodecParameters struct {
	MimeType     string         `json:"mimeType"`
	PayloadType  uint8          `json:"payloadType"`
	ClockRate    uint32         `json:"clockRate"`
	Channels     uint8          `json:"channels,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	RTCPFeedback []RTCPFeedback `json:"rtcpFeedback,omitempty"`
}

type Encoding struct {
	SSRC uint32 `json:"ssrc"`
}

type RTCPParameters struct {
	CNAME       string `json:"cname,omitempty"`
	ReducedSize bool   `json:"reducedSize"`
}

// RTPParameters describe one media stream on the wire.
type RTPParameters struct {
	Mid       string            `json:"mid,omitempty"`
	Codecs    []CodecParameters `json:"codecs"`
	Encodings []Encoding        `json:"encodings,omitempty"`
	RTCP      RTCPParameters    `json:"rtcp"`
}

// CodecOptions tune the encoder of a produced stream.
type CodecOptions struct {
	OpusStereo              bool   `json:"opusStereo,omitempty"`
	OpusFEC                 bool   `json:"opusFec,omitempty"`
	OpusDTX                 bool   `json:"opusDtx,omitempty"`
	OpusMaxPlaybackRate     uint32 `json:"opusMaxPlaybackRate,omitempty"`
	VideoGoogleStartBitrate uint32 `json:"videoGoogleStartBitrate,omitempty"`
}
