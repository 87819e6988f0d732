package audio

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/dkeye/voiceclient/internal/dsp"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

// pipeline pumps one source through the optional DSP host into the track.
type pipeline struct {
	src     Source
	cancel  context.CancelFunc
	done    chan struct{}
	stopped atomic.Bool
	err     error
}

func startPipeline(src Source, host *dsp.Host, track *SampleTrack, f Format, muted *atomic.Bool) *pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	p := &pipeline{src: src, cancel: cancel, done: make(chan struct{})}
	w := &sampleWriter{track: track, duration: f.BlockDuration(), muted: muted}

	go func() {
		defer close(p.done)
		var err error
		if host != nil {
			err = host.Run(ctx, src, w)
		} else {
			err = passthrough(ctx, src, w, f)
		}
		p.err = err
		if err != nil && !p.stopped.Load() {
			log.Warn().Err(err).Str("module", "audio").Str("track_id", track.ID()).Msg("capture ended")
			track.End()
		}
	}()
	return p
}

func passthrough(ctx context.Context, src Source, dst dsp.BlockWriter, f Format) error {
	buf := dsp.NewBlock(f.Channels, f.BlockFrames)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if err := src.ReadBlock(buf); err != nil {
			return err
		}
		if err := dst.WriteBlock(buf); err != nil {
			return err
		}
	}
}

// stop closes the source and waits for the pump to exit.
func (p *pipeline) stop() error {
	if !p.stopped.CompareAndSwap(false, true) {
		<-p.done
		return nil
	}
	p.cancel()
	err := p.src.Close()
	<-p.done
	return err
}

type sampleWriter struct {
	track    *SampleTrack
	duration time.Duration
	muted    *atomic.Bool
	payload  []byte
}

func (w *sampleWriter) WriteBlock(block [][]float32) error {
	if w.muted != nil && w.muted.Load() {
		return nil
	}
	w.payload = encodeULaw(w.payload[:0], block)
	data := make([]byte, len(w.payload))
	copy(data, w.payload)

	err := w.track.WriteSample(media.Sample{Data: data, Duration: w.duration})
	if errors.Is(err, ErrSourceEnded) {
		return err
	}
	if err != nil {
		log.Debug().Err(err).Str("module", "audio").Msg("write sample")
	}
	return nil
}
