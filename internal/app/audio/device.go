package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/voiceclient/internal/dsp"
)

var (
	ErrSourceClosed      = errors.New("audio source closed")
	ErrSourceEnded       = errors.New("audio source ended")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
)

type DeviceErrorReason string

const (
	ReasonPermissionDenied DeviceErrorReason = "permission-denied"
	ReasonNotFound         DeviceErrorReason = "not-found"
	ReasonInUse            DeviceErrorReason = "in-use"
	ReasonOverconstrained  DeviceErrorReason = "overconstrained"
)

// DeviceError is a capture failure the user has to act on. It is never retried.
type DeviceError struct {
	Device string
	Reason DeviceErrorReason
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("device %q: %s: %v", e.Device, e.Reason, e.Err)
	}
	return fmt.Sprintf("device %q: %s", e.Device, e.Reason)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// UserMessage is the text shown to the operator.
func (e *DeviceError) UserMessage() string {
	switch e.Reason {
	case ReasonPermissionDenied:
		return "Microphone access was denied."
	case ReasonNotFound:
		return "No microphone found."
	case ReasonInUse:
		return "Microphone is in use by another application."
	case ReasonOverconstrained:
		return "Microphone does not support the requested format."
	default:
		return "Microphone unavailable."
	}
}

// Format describes the blocks a source delivers.
type Format struct {
	SampleRate  int `mapstructure:"sample_rate"`
	Channels    int `mapstructure:"channels"`
	BlockFrames int `mapstructure:"-"`
}

func (f Format) BlockDuration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.BlockFrames) * time.Second / time.Duration(f.SampleRate)
}

func (f Format) HostConfig() dsp.HostConfig {
	return dsp.HostConfig{SampleRate: f.SampleRate, Channels: f.Channels, BlockFrames: f.BlockFrames}
}

func (f Format) validate() error {
	if f.SampleRate <= 0 || f.Channels <= 0 || f.BlockFrames <= 0 {
		return fmt.Errorf("%w: %+v", ErrUnsupportedFormat, f)
	}
	return nil
}

type DeviceInfo struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Source is an open capture device.
type Source interface {
	dsp.BlockReader
	Close() error
}

// Opener enumerates and opens capture devices.
type Opener interface {
	Devices() []DeviceInfo
	Open(ctx context.Context, deviceID string, f Format) (Source, error)
}

const (
	DeviceDefault = "default"
	DeviceSilence = "silence"
	tonePrefix    = "tone:"
	filePrefix    = "file:"
)

// SyntheticDevices opens generated or file backed capture sources. A device
// can be open only once at a time.
type SyntheticDevices struct {
	// Realtime paces reads at the block rate.
	Realtime bool

	mu   sync.Mutex
	open map[string]struct{}
}

func NewSyntheticDevices(realtime bool) *SyntheticDevices {
	return &SyntheticDevices{Realtime: realtime, open: make(map[string]struct{})}
}

func (d *SyntheticDevices) Devices() []DeviceInfo {
	return []DeviceInfo{
		{ID: DeviceDefault, Label: "Default (silence)"},
		{ID: DeviceSilence, Label: "Silence"},
		{ID: tonePrefix + "440", Label: "Test tone 440 Hz"},
	}
}

func (d *SyntheticDevices) Open(ctx context.Context, deviceID string, f Format) (Source, error) {
	if err := f.validate(); err != nil {
		return nil, &DeviceError{Device: deviceID, Reason: ReasonOverconstrained, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		gen    func(buf [][]float32) error
		closer io.Closer
	)
	switch {
	case deviceID == DeviceDefault || deviceID == DeviceSilence || deviceID == "":
		gen = func(buf [][]float32) error {
			for c := range buf {
				clear(buf[c])
			}
			return nil
		}
	case strings.HasPrefix(deviceID, tonePrefix):
		hz, err := strconv.ParseFloat(strings.TrimPrefix(deviceID, tonePrefix), 64)
		if err != nil || hz <= 0 || hz >= float64(f.SampleRate)/2 {
			return nil, &DeviceError{Device: deviceID, Reason: ReasonOverconstrained, Err: err}
		}
		gen = toneGenerator(hz, float64(f.SampleRate))
	case strings.HasPrefix(deviceID, filePrefix):
		file, err := os.Open(strings.TrimPrefix(deviceID, filePrefix))
		if err != nil {
			return nil, &DeviceError{Device: deviceID, Reason: fileErrorReason(err), Err: err}
		}
		gen = pcmFileReader(file)
		closer = file
	default:
		return nil, &DeviceError{Device: deviceID, Reason: ReasonNotFound}
	}

	if !d.acquire(deviceID) {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, &DeviceError{Device: deviceID, Reason: ReasonInUse}
	}

	src := &syntheticSource{
		id:     deviceID,
		gen:    gen,
		closer: closer,
		closed: make(chan struct{}),
		done:   func() { d.release(deviceID) },
	}
	if d.Realtime {
		src.ticker = time.NewTicker(f.BlockDuration())
	}
	return src, nil
}

func (d *SyntheticDevices) acquire(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open == nil {
		d.open = make(map[string]struct{})
	}
	if _, busy := d.open[id]; busy {
		return false
	}
	d.open[id] = struct{}{}
	return true
}

func (d *SyntheticDevices) release(id string) {
	d.mu.Lock()
	delete(d.open, id)
	d.mu.Unlock()
}

func fileErrorReason(err error) DeviceErrorReason {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return ReasonPermissionDenied
	case errors.Is(err, fs.ErrNotExist):
		return ReasonNotFound
	default:
		return ReasonOverconstrained
	}
}

func toneGenerator(hz, sampleRate float64) func([][]float32) error {
	var phase float64
	step := 2 * math.Pi * hz / sampleRate
	return func(buf [][]float32) error {
		if len(buf) == 0 {
			return nil
		}
		for i := range buf[0] {
			v := float32(0.25 * math.Sin(phase))
			for c := range buf {
				buf[c][i] = v
			}
			phase += step
			if phase > 2*math.Pi {
				phase -= 2 * math.Pi
			}
		}
		return nil
	}
}

// pcmFileReader reads interleaved s16le samples; a short last block is zero padded.
func pcmFileReader(r io.Reader) func([][]float32) error {
	var raw []byte
	return func(buf [][]float32) error {
		if len(buf) == 0 {
			return nil
		}
		frames, channels := len(buf[0]), len(buf)
		need := frames * channels * 2
		if cap(raw) < need {
			raw = make([]byte, need)
		}
		raw = raw[:need]
		n, err := io.ReadFull(r, raw)
		if n == 0 && err != nil {
			return ErrSourceEnded
		}
		clear(raw[n:])
		for i := 0; i < frames; i++ {
			for c := 0; c < channels; c++ {
				off := (i*channels + c) * 2
				buf[c][i] = float32(int16(binary.LittleEndian.Uint16(raw[off:]))) / 32768
			}
		}
		return nil
	}
}

type syntheticSource struct {
	id     string
	gen    func([][]float32) error
	closer io.Closer
	ticker *time.Ticker

	closeOnce sync.Once
	closed    chan struct{}
	done      func()
}

func (s *syntheticSource) ReadBlock(buf [][]float32) error {
	select {
	case <-s.closed:
		return ErrSourceClosed
	default:
	}
	if s.ticker != nil {
		select {
		case <-s.closed:
			return ErrSourceClosed
		case <-s.ticker.C:
		}
	}
	return s.gen(buf)
}

func (s *syntheticSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.ticker != nil {
			s.ticker.Stop()
		}
		if s.closer != nil {
			err = s.closer.Close()
		}
		s.done()
	})
	return err
}
