// Package dsp holds the real-time audio processors applied to the microphone
// signal and the host that runs them off the control goroutines.
package dsp

import "math"

// Epsilon keeps log10 away from zero on digital silence.
const Epsilon = 1e-8

// BlockDecibels returns 20*log10(rms+eps) over all channels flattened.
func BlockDecibels(in [][]float32) float64 {
	var sum float64
	n := 0
	for _, ch := range in {
		for _, s := range ch {
			v := float64(s)
			sum += v * v
		}
		n += len(ch)
	}
	var rms float64
	if n > 0 {
		rms = math.Sqrt(sum / float64(n))
	}
	return 20 * math.Log10(rms+Epsilon)
}

// blockFrames is the frame count of a block, taken from whichever side has channels.
func blockFrames(in, out [][]float32) int {
	if len(in) > 0 {
		return len(in[0])
	}
	if len(out) > 0 {
		return len(out[0])
	}
	return 0
}

// passThrough copies min(in, out) channels and zero-fills the rest of out.
func passThrough(in, out [][]float32) {
	n := min(len(in), len(out))
	for c := 0; c < n; c++ {
		m := copy(out[c], in[c])
		clear(out[c][m:])
	}
	for c := n; c < len(out); c++ {
		clear(out[c])
	}
}

func silence(out [][]float32) {
	for c := range out {
		clear(out[c])
	}
}

func framesFor(ms, sampleRate float64) float64 {
	return ms / 1000 * sampleRate
}
