package audio

// G.711 μ-law constants. The encoder works on 14-bit magnitudes, which is
// where the bias of 33 and the 0x1FFF ladder ceiling come from; the decoder
// works on 16-bit magnitudes with the equivalent bias of 0x84.
const (
	mulawDecodeBias = 0x84
	mulawEncodeBias = 33
	mulawClip       = 0x1FFF - mulawEncodeBias // largest 14-bit magnitude before biasing
	mulawSignBit    = 0x80
	mulawExpMask    = 0x70
	mulawMantMask   = 0x0F
)

// mulawLadder holds the upper bound of each exponent segment for biased
// 14-bit magnitudes, lowest exponent first.
var mulawLadder = [8]int{0x3F, 0x7F, 0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF, 0x1FFF}

// Codec converts between μ-law and 16-bit linear PCM using precomputed
// tables. A Codec is immutable after [InitTables] returns and is safe for
// concurrent use; share one instance for the whole process.
type Codec struct {
	decode [256]int16
	encode [65536]byte
}

// InitTables builds the μ-law lookup tables. Call it once at startup and
// pass the returned Codec to every component that needs it.
func InitTables() *Codec {
	c := &Codec{}
	for i := range c.decode {
		c.decode[i] = decodeMulaw(byte(i))
	}
	for i := range c.encode {
		c.encode[i] = encodeMulaw(int16(i - 32768))
	}
	return c
}

// decodeMulaw expands one μ-law byte to a linear sample.
func decodeMulaw(b byte) int16 {
	u := ^b
	sign := u & mulawSignBit
	exponent := (u & mulawExpMask) >> 4
	mantissa := int(u & mulawMantMask)

	magnitude := (((mantissa << 3) | mulawDecodeBias) << exponent) - mulawDecodeBias
	if sign != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}

// encodeMulaw compresses one linear sample to μ-law.
func encodeMulaw(sample int16) byte {
	v := int(sample) >> 2
	var sign byte
	if v < 0 {
		sign = mulawSignBit
		v = -v
	}
	if v > mulawClip {
		v = mulawClip
	}
	v += mulawEncodeBias

	exponent := len(mulawLadder) - 1
	for i, limit := range mulawLadder {
		if v <= limit {
			exponent = i
			break
		}
	}
	mantissa := byte(v>>(exponent+1)) & mulawMantMask
	return ^(sign | byte(exponent<<4) | mantissa)
}

// DecodeSample returns the linear value of a single μ-law byte.
func (c *Codec) DecodeSample(b byte) int16 {
	return c.decode[b]
}

// EncodeSample returns the μ-law byte for a single linear sample.
func (c *Codec) EncodeSample(s int16) byte {
	return c.encode[int(s)+32768]
}

// Decode converts μ-law bytes to little-endian PCM16. The output is twice
// the length of the input. Every byte is a valid μ-law code, so Decode
// cannot fail.
func (c *Codec) Decode(mulaw []byte) []byte {
	pcm := make([]byte, len(mulaw)*2)
	for i, b := range mulaw {
		s := c.decode[b]
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(s >> 8)
	}
	return pcm
}

// Encode converts little-endian PCM16 to μ-law. A buffer with an odd byte
// count is rejected with a [*CodecError] wrapping [ErrOddLength].
func (c *Codec) Encode(pcm []byte) ([]byte, error) {
	if err := checkPCM16("encode", pcm); err != nil {
		return nil, err
	}
	out := make([]byte, len(pcm)/2)
	for i := range out {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = c.encode[int(s)+32768]
	}
	return out, nil
}

// ToPCM16 normalises frame to mono PCM16 at its original sample rate,
// decoding μ-law and down-mixing stereo as needed.
func (c *Codec) ToPCM16(frame AudioFrame) ([]byte, error) {
	var pcm []byte
	switch frame.Encoding {
	case EncodingMulaw:
		pcm = c.Decode(frame.Data)
	case EncodingPCM16:
		if err := checkPCM16("decode", frame.Data); err != nil {
			return nil, err
		}
		pcm = frame.Data
	default:
		return nil, &CodecError{Op: "decode", Len: len(frame.Data), Err: errUnsupportedEncoding(frame.Encoding)}
	}
	if frame.Channels == 2 {
		if len(pcm)%4 != 0 {
			return nil, &CodecError{Op: "downmix", Len: len(pcm), Err: ErrOddLength}
		}
		pcm = StereoToMono(pcm)
	}
	return pcm, nil
}
