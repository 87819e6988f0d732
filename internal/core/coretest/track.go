package coretest

import (
	"sync"

	"github.com/dkeye/voiceclient/internal/core"
	"github.com/pion/webrtc/v4"
)

var _ core.LocalTrack = (*LocalTrack)(nil)

// LocalTrack is a static sample track with settable counters.
type LocalTrack struct {
	*webrtc.TrackLocalStaticSample

	mu       sync.Mutex
	counters core.TrackCounters
	once     sync.Once
	ended    chan struct{}
}

func NewAudioTrack(id string) *LocalTrack {
	return newLocalTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, id)
}

func NewVideoTrack(id string) *LocalTrack {
	return newLocalTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, id)
}

func newLocalTrack(codec webrtc.RTPCodecCapability, id string) *LocalTrack {
	t, err := webrtc.NewTrackLocalStaticSample(codec, id, "coretest")
	if err != nil {
		panic(err)
	}
	return &LocalTrack{TrackLocalStaticSample: t, ended: make(chan struct{})}
}

func (t *LocalTrack) SetCounters(c core.TrackCounters) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counters = c
}

func (t *LocalTrack) Counters() core.TrackCounters {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counters
}

func (t *LocalTrack) Ended() <-chan struct{} { return t.ended }

func (t *LocalTrack) End() { t.once.Do(func() { close(t.ended) }) }
