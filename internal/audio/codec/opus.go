// Package codec wraps libopus. It is kept apart from package audio so that
// only binaries that actually encode need cgo.
package codec

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

const (
	SampleRate = 48000
	Channels   = 1
	// FrameSamples is 20ms at 48kHz.
	FrameSamples = 960

	maxPacketBytes = 1275
	bitrate        = 32000
)

// Encoder turns 20ms frames of 48kHz mono PCM into Opus packets.
type Encoder struct {
	enc *opus.Encoder
	buf []byte
}

func NewEncoder() (*Encoder, error) {
	enc, err := opus.NewEncoder(SampleRate, Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	if err := enc.SetBitrate(bitrate); err != nil {
		return nil, fmt.Errorf("set opus bitrate: %w", err)
	}
	return &Encoder{enc: enc, buf: make([]byte, maxPacketBytes)}, nil
}

// Encode encodes one frame. The returned slice is owned by the caller.
func (e *Encoder) Encode(pcm []int16) ([]byte, error) {
	n, err := e.enc.Encode(pcm, e.buf)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, e.buf[:n])
	return out, nil
}
