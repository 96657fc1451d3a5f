package audio

import "math"

// Resample converts 16-bit mono PCM from fromRate to toRate using linear
// interpolation. Equal rates return the input unchanged.
//
// The output holds floor(N*toRate/fromRate) samples. Output sample i is
// taken at source position i*fromRate/toRate, interpolated between the
// floor and ceil neighbours (the last sample is repeated past the end),
// rounded and clamped to the int16 range.
func Resample(pcm []byte, fromRate, toRate int) ([]byte, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, &CodecError{Op: "resample", Len: len(pcm), Err: ErrInvalidRate}
	}
	if err := checkPCM16("resample", pcm); err != nil {
		return nil, err
	}
	if fromRate == toRate {
		return pcm, nil
	}

	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(toRate) / int64(fromRate))
	if dstSamples == 0 {
		return []byte{}, nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(fromRate) / float64(toRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		lo := int(srcPos)
		if lo >= srcSamples {
			lo = srcSamples - 1
		}
		frac := srcPos - float64(lo)

		hi := lo + 1
		if hi >= srcSamples {
			hi = lo
		}
		s0 := float64(sampleAt(pcm, lo))
		s1 := float64(sampleAt(pcm, hi))

		v := clamp16(math.Round(s0 + (s1-s0)*frac))
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out, nil
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
// A trailing partial frame is ignored; callers validate alignment first.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		r := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (l + r) / 2
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
}

func clamp16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
