// Package audio converts between the telephony network's 8-bit mu-law
// sample format and 16-bit little-endian linear PCM. All functions are
// stateless and safe for concurrent use across streams.
package audio

import (
	"encoding/binary"

	"github.com/wardline/voice-orchestrator/internal/logging"
)

const (
	mulawBias = 33
	mulawMax  = 0x1fff
)

// DecodeMuLawSample expands one mu-law byte to a 16-bit linear PCM sample.
func DecodeMuLawSample(b byte) int16 {
	u := ^b
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0f
	magnitude := (int(mantissa) << (exponent + 3)) + (mulawBias << exponent)
	if sign != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}

// EncodeMuLawSample compresses one 16-bit linear PCM sample to mu-law.
func EncodeMuLawSample(s int16) byte {
	v := int(s)
	var sign byte
	if v < 0 {
		sign = 0x80
		v = -v
	}
	if v > mulawMax {
		v = mulawMax
	}
	v += mulawBias
	exponent := 7
	for mask := 0x4000; v&mask == 0 && exponent > 0; exponent, mask = exponent-1, mask>>1 {
	}
	mantissa := byte(v>>(uint(exponent)+3)) & 0x0f
	return ^(sign | byte(exponent)<<4 | mantissa)
}

// DecodeMuLaw expands a buffer of mu-law bytes into PCM16LE bytes. The
// result is exactly twice the input length.
func DecodeMuLaw(src []byte) []byte {
	out := make([]byte, len(src)*2)
	for i, b := range src {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(DecodeMuLawSample(b)))
	}
	return out
}

// EncodeMuLaw compresses a buffer of PCM16LE bytes into mu-law bytes. A
// trailing odd byte is a caller error, not a crash condition: it is
// truncated and the discrepancy logged.
func EncodeMuLaw(pcm []byte) []byte {
	if len(pcm)%2 != 0 {
		logging.Warnw("pcm buffer has odd length; truncating to whole samples", "bytes", len(pcm))
		pcm = pcm[:len(pcm)-1]
	}
	out := make([]byte, len(pcm)/2)
	for i := range out {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = EncodeMuLawSample(s)
	}
	return out
}
