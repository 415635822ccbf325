// Package opus decodes Opus packets sent by browser clients into the 16 kHz
// mono PCM that the STT providers consume.
package opus

import (
	"fmt"

	"layeh.com/gopus"
)

const (
	// SampleRate is the Opus decode rate. Browsers encode at 48 kHz.
	SampleRate = 48000

	// TargetRate is the rate handed to STT providers after decimation.
	TargetRate = 16000

	// maxFrameSize is 120 ms at 48 kHz, the longest frame Opus allows.
	maxFrameSize = 5760

	decimation = SampleRate / TargetRate
)

// Decoder decodes a single mono Opus stream. Each recitation session needs its
// own Decoder because Opus decoding is stateful across packets.
type Decoder struct {
	dec *gopus.Decoder
}

// NewDecoder creates a mono 48 kHz decoder.
func NewDecoder() (*Decoder, error) {
	dec, err := gopus.NewDecoder(SampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &Decoder{dec: dec}, nil
}

// Decode decodes one Opus packet and returns 16 kHz little-endian int16 PCM.
func (d *Decoder) Decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, maxFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("opus: decode: %w", err)
	}
	return Int16sToBytes(Decimate(pcm)), nil
}

// Decimate reduces 48 kHz samples to 16 kHz by averaging each group of three.
// A trailing incomplete group is dropped.
func Decimate(pcm []int16) []int16 {
	out := make([]int16, len(pcm)/decimation)
	for i := range out {
		var sum int32
		for j := range decimation {
			sum += int32(pcm[i*decimation+j])
		}
		out[i] = int16(sum / decimation)
	}
	return out
}

// Int16sToBytes converts int16 PCM samples to little-endian bytes.
func Int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}
