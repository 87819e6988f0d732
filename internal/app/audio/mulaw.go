package audio

const (
	ulawBias = 0x84
	ulawClip = 32635
)

// linearToULaw encodes one 16-bit sample as G.711 mu-law.
func linearToULaw(sample int16) byte {
	s := int32(sample)
	sign := byte(0)
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > ulawClip {
		s = ulawClip
	}
	s += ulawBias

	exp := byte(7)
	for mask := int32(0x4000); s&mask == 0 && exp > 0; mask >>= 1 {
		exp--
	}
	mantissa := byte(s>>(exp+3)) & 0x0f
	return ^(sign | exp<<4 | mantissa)
}

// ulawToLinear decodes one G.711 mu-law byte.
func ulawToLinear(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exp := (u >> 4) & 0x07
	mantissa := int32(u & 0x0f)
	s := ((mantissa << 3) + ulawBias) << exp
	s -= ulawBias
	if sign != 0 {
		return int16(-s)
	}
	return int16(s)
}

func floatToPCM16(v float32) int16 {
	switch {
	case v >= 1:
		return 32767
	case v <= -1:
		return -32768
	}
	return int16(v * 32767)
}

// encodeULaw downmixes the block to mono and appends its mu-law encoding to dst.
func encodeULaw(dst []byte, block [][]float32) []byte {
	if len(block) == 0 {
		return dst
	}
	frames := len(block[0])
	scale := 1 / float32(len(block))
	for i := 0; i < frames; i++ {
		var mono float32
		for c := range block {
			mono += block[c][i]
		}
		dst = append(dst, linearToULaw(floatToPCM16(mono*scale)))
	}
	return dst
}
