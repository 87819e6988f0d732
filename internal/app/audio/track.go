package audio

import (
	"sync"
	"sync/atomic"

	"github.com/dkeye/voiceclient/internal/core"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

var _ core.LocalTrack = (*SampleTrack)(nil)

// SampleTrack is a TrackLocalStaticSample that keeps write counters and an
// ended signal for the capture behind it.
type SampleTrack struct {
	*webrtc.TrackLocalStaticSample

	bytes   atomic.Uint64
	packets atomic.Uint64
	frames  atomic.Uint32

	mu      sync.Mutex
	width   uint32
	height  uint32
	encoder string
	limitBy string
	endOnce sync.Once
	endedCh chan struct{}
}

func NewSampleTrack(codec webrtc.RTPCodecCapability, kind string) (*SampleTrack, error) {
	t, err := webrtc.NewTrackLocalStaticSample(codec, kind+"-"+uuid.NewString(), "voiceclient-"+uuid.NewString())
	if err != nil {
		return nil, err
	}
	return &SampleTrack{TrackLocalStaticSample: t, endedCh: make(chan struct{}), limitBy: "none"}, nil
}

// NewMicrophoneTrack is a PCMU track at 8 kHz mono.
func NewMicrophoneTrack() (*SampleTrack, error) {
	return NewSampleTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypePCMU,
		ClockRate: 8000,
		Channels:  1,
	}, "audio")
}

func (t *SampleTrack) WriteSample(s media.Sample) error {
	select {
	case <-t.endedCh:
		return ErrSourceEnded
	default:
	}
	if err := t.TrackLocalStaticSample.WriteSample(s); err != nil {
		return err
	}
	t.bytes.Add(uint64(len(s.Data)))
	t.packets.Add(1)
	if t.Kind() == webrtc.RTPCodecTypeVideo {
		t.frames.Add(1)
	}
	return nil
}

// SetVideoInfo records what the encoder behind a video track produces.
func (t *SampleTrack) SetVideoInfo(width, height uint32, encoder, qualityLimitation string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.width, t.height = width, height
	t.encoder = encoder
	if qualityLimitation != "" {
		t.limitBy = qualityLimitation
	}
}

func (t *SampleTrack) Counters() core.TrackCounters {
	t.mu.Lock()
	defer t.mu.Unlock()
	return core.TrackCounters{
		Bytes:                   t.bytes.Load(),
		Packets:                 t.packets.Load(),
		FramesEncoded:           t.frames.Load(),
		FrameWidth:              t.width,
		FrameHeight:             t.height,
		EncoderImplementation:   t.encoder,
		QualityLimitationReason: t.limitBy,
	}
}

func (t *SampleTrack) Ended() <-chan struct{} { return t.endedCh }

// End marks the capture as stopped. Safe to call more than once.
func (t *SampleTrack) End() {
	t.endOnce.Do(func() { close(t.endedCh) })
}
