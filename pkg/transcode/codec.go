package transcode

import (
	"fmt"

	"layeh.com/gopus"
)

// FrameEncoder compresses canonical PCM frames. An encoder carries adaptive
// state across consecutive frames, so one instance serves exactly one stream
// and must never be shared or reused.
type FrameEncoder interface {
	// Encode compresses one frame of exactly FrameSize samples. The returned
	// payload must be between 1 and MaxFrameBytes long. Implementations must
	// not retain pcm; the caller reuses the slice across frames.
	Encode(pcm []int16) ([]byte, error)
}

// FrameDecoder reconstructs canonical PCM from compressed frame payloads.
// Like FrameEncoder, one instance serves exactly one stream.
type FrameDecoder interface {
	// Decode decompresses one frame payload, producing up to FrameSize
	// samples.
	Decode(packet []byte) ([]int16, error)
}

// Codec creates codec engine instances. Every call must return a fresh,
// independent engine so encoder/decoder state never leaks between streams.
type Codec interface {
	NewEncoder() (FrameEncoder, error)
	NewDecoder() (FrameDecoder, error)
}

// Compile-time assertion that the Opus codec implements Codec.
var _ Codec = opusCodec{}

// opusCodec creates gopus engines configured for narrowband speech:
// canonical rate and channel count, VoIP application mode, and the
// configured target bitrate.
type opusCodec struct {
	bitrate int
}

func (c opusCodec) NewEncoder() (FrameEncoder, error) {
	enc, err := gopus.NewEncoder(SampleRate, Channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("transcode: create opus encoder: %w", err)
	}
	enc.SetBitrate(c.bitrate)
	return opusEncoder{enc: enc}, nil
}

func (c opusCodec) NewDecoder() (FrameDecoder, error) {
	dec, err := gopus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("transcode: create opus decoder: %w", err)
	}
	return opusDecoder{dec: dec}, nil
}

type opusEncoder struct {
	enc *gopus.Encoder
}

func (e opusEncoder) Encode(pcm []int16) ([]byte, error) {
	return e.enc.Encode(pcm, FrameSize, MaxFrameBytes)
}

type opusDecoder struct {
	dec *gopus.Decoder
}

func (d opusDecoder) Decode(packet []byte) ([]int16, error) {
	return d.dec.Decode(packet, FrameSize, false)
}
