package audio

import "math"

// RMS returns the root-mean-square level of 16-bit PCM. An empty buffer has
// level 0.
func RMS(pcm []byte) (float64, error) {
	if err := checkPCM16("rms", pcm); err != nil {
		return 0, err
	}
	n := len(pcm) / 2
	if n == 0 {
		return 0, nil
	}
	var sum float64
	for i := range n {
		s := float64(sampleAt(pcm, i))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n)), nil
}

// IsSilence reports whether the RMS level of pcm is below threshold.
func IsSilence(pcm []byte, threshold float64) (bool, error) {
	level, err := RMS(pcm)
	if err != nil {
		return false, err
	}
	return level < threshold, nil
}
