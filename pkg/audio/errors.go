package audio

import (
	"errors"
	"fmt"
)

var (
	// ErrOddLength is reported when a 16-bit PCM buffer has an odd byte count.
	ErrOddLength = errors.New("odd byte count for 16-bit PCM")

	// ErrInvalidRate is reported when a sample rate is zero or negative.
	ErrInvalidRate = errors.New("sample rate must be positive")
)

// CodecError describes a buffer rejected at the codec boundary. Malformed
// input is never truncated silently; callers get a CodecError instead.
type CodecError struct {
	// Op is the operation that rejected the input ("encode", "resample", ...).
	Op string

	// Len is the byte length of the rejected buffer.
	Len int

	// Err is the underlying cause, usually [ErrOddLength] or [ErrInvalidRate].
	Err error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("audio: %s: %v (len=%d)", e.Op, e.Err, e.Len)
}

func (e *CodecError) Unwrap() error { return e.Err }

// checkPCM16 returns a CodecError when pcm cannot hold whole int16 samples.
func checkPCM16(op string, pcm []byte) error {
	if len(pcm)%2 != 0 {
		return &CodecError{Op: op, Len: len(pcm), Err: ErrOddLength}
	}
	return nil
}

func errUnsupportedEncoding(e Encoding) error {
	return fmt.Errorf("unsupported encoding %q", e)
}
