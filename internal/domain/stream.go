package domain

import "fmt"

// StreamKind is the logical category of a media stream.
type StreamKind string

const (
	StreamAudio       StreamKind = "audio"
	StreamVideo       StreamKind = "video"
	StreamScreen      StreamKind = "screen"
	StreamScreenAudio StreamKind = "screen-audio"
)

// TrackKind is the underlying media type negotiated with the SFU.
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// StreamKinds lists every kind in a stable order.
var StreamKinds = []StreamKind{StreamAudio, StreamVideo, StreamScreen, StreamScreenAudio}

func ParseStreamKind(s string) (StreamKind, error) {
	switch k := StreamKind(s); k {
	case StreamAudio, StreamVideo, StreamScreen, StreamScreenAudio:
		return k, nil
	default:
		return "", fmt.Errorf("unknown stream kind %q", s)
	}
}

// TrackKind maps a stream kind onto the media type it is carried as.
// Screen share travels as video and screen audio as audio, but both keep their own key.
func (k StreamKind) TrackKind() TrackKind {
	switch k {
	case StreamVideo, StreamScreen:
		return TrackVideo
	default:
		return TrackAudio
	}
}

func (k StreamKind) Valid() bool {
	_, err := ParseStreamKind(string(k))
	return err == nil
}
