package core

import (
	"time"

	"github.com/dkeye/voiceclient/internal/domain"
	"github.com/pion/webrtc/v4"
)

// StatsRecord is one W3C-style stats object. Only the fields relevant for its
// Type are populated.
type StatsRecord struct {
	ID        string           `json:"id"`
	Type      webrtc.StatsType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Kind      domain.TrackKind `json:"kind,omitempty"`
	SSRC      uint32           `json:"ssrc,omitempty"`

	BytesSent       uint64 `json:"bytesSent,omitempty"`
	PacketsSent     uint64 `json:"packetsSent,omitempty"`
	BytesReceived   uint64 `json:"bytesReceived,omitempty"`
	PacketsReceived uint64 `json:"packetsReceived,omitempty"`
	PacketsLost     int64  `json:"packetsLost,omitempty"`

	// Jitter and RoundTripTime are in seconds.
	Jitter        float64 `json:"jitter,omitempty"`
	RoundTripTime float64 `json:"roundTripTime,omitempty"`
	FractionLost  float64 `json:"fractionLost,omitempty"`

	CodecMimeType           string  `json:"codec,omitempty"`
	EncoderImplementation   string  `json:"encoderImplementation,omitempty"`
	FrameWidth              uint32  `json:"frameWidth,omitempty"`
	FrameHeight             uint32  `json:"frameHeight,omitempty"`
	FramesPerSecond         float64 `json:"framesPerSecond,omitempty"`
	FramesEncoded           uint32  `json:"framesEncoded,omitempty"`
	QualityLimitationReason string  `json:"qualityLimitationReason,omitempty"`
}

type StatsReport []StatsRecord

// OfType filters the report by record type.
func (r StatsReport) OfType(t webrtc.StatsType) StatsReport {
	var out StatsReport
	for _, rec := range r {
		if rec.Type == t {
			out = append(out, rec)
		}
	}
	return out
}
