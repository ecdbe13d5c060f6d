// Package transcode converts PCM audio containers to and from Parley's
// compressed voice-message stream format.
//
// The stream format is a sequence of length-prefixed records, one per 20 ms
// frame: a 4-byte little-endian length L followed by L bytes of
// Opus-compressed audio, with 1 ≤ L ≤ MaxFrameBytes. There is no stream
// header and no trailer; a stream ends when its source is exhausted at a
// record boundary. All audio behind the records is canonical PCM: 16 kHz,
// mono, 16-bit signed little-endian.
//
// Usage:
//
//	t := transcode.New()
//	stream, err := t.Encode(ctx, wavBytes)
//	...
//	wavBytes, err = t.Decode(ctx, stream)
//
// Encode accepts any supported WAV container (integer PCM or IEEE float, any
// rate, any channel count) and normalizes it before compression. Decode
// always yields a canonical 16 kHz mono 16-bit WAV container.
package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/tminde/parley/pkg/wav"
)

// Audio constants shared by every stream this package produces or consumes.
// The wire format is fixed; only the encoder bitrate is tunable.
const (
	// SampleRate is the canonical sample rate in Hz.
	SampleRate = 16000

	// Channels is the canonical channel count.
	Channels = 1

	// FrameDurationMs is the duration of one frame in milliseconds.
	FrameDurationMs = 20

	// FrameSize is the number of samples in one frame.
	FrameSize = SampleRate / 1000 * FrameDurationMs // 320

	// FrameBytes is the size of one canonical frame in bytes.
	FrameBytes = FrameSize * 2

	// MaxFrameBytes bounds the compressed size of a single frame. The bound
	// is derived from a safe network MTU.
	MaxFrameBytes = 1500

	// DefaultBitrate is the default encoder target bitrate in bits per second.
	DefaultBitrate = 24000
)

// Option is a functional option for configuring a Transcoder.
type Option func(*Transcoder)

// WithBitrate sets the encoder target bitrate in bits per second.
// Defaults to DefaultBitrate.
func WithBitrate(bps int) Option {
	return func(t *Transcoder) {
		t.bitrate.Store(int64(bps))
	}
}

// WithCodec replaces the default Opus engine factory. Intended for tests
// that need a scriptable engine; WithBitrate has no effect on a replacement
// codec.
func WithCodec(c Codec) Option {
	return func(t *Transcoder) {
		t.codec = c
	}
}

// Transcoder converts between PCM containers and compressed frame streams.
// It holds only configuration: every Encode and Decode call creates its own
// codec engine and buffers, so one Transcoder may be used from any number of
// goroutines concurrently. The bitrate may be retuned at any time with
// SetBitrate; each call reads it once when it starts.
type Transcoder struct {
	bitrate atomic.Int64
	codec   Codec // nil selects the built-in Opus engine
}

// New creates a Transcoder. Without options it compresses with Opus at
// DefaultBitrate.
func New(opts ...Option) *Transcoder {
	t := &Transcoder{}
	t.bitrate.Store(DefaultBitrate)
	for _, o := range opts {
		o(t)
	}
	return t
}

// SetBitrate retunes the encoder target bitrate for subsequent calls. Calls
// already in flight keep the bitrate they started with. Has no effect on a
// replacement codec installed with WithCodec.
func (t *Transcoder) SetBitrate(bps int) {
	t.bitrate.Store(int64(bps))
}

// engine returns the codec factory for one Encode, Decode, or stream.
func (t *Transcoder) engine() Codec {
	if t.codec != nil {
		return t.codec
	}
	return opusCodec{bitrate: int(t.bitrate.Load())}
}

// Encode converts a PCM container into a compressed frame stream. The input
// is normalized to canonical PCM, segmented into FrameSize-sample frames
// (the final short frame zero-padded to full size), and each frame is
// compressed into one length-prefixed record by a codec engine created for
// this call alone. ctx is polled once per frame, so cancellation latency is
// bounded by one frame's work, and a cancelled call returns the context
// error with no partial output.
func (t *Transcoder) Encode(ctx context.Context, container []byte) ([]byte, error) {
	if len(container) == 0 {
		return nil, fmt.Errorf("transcode: encode: %w: empty input", ErrInvalidArgument)
	}

	pcm, err := Normalize(container)
	if err != nil {
		return nil, err
	}

	enc, err := t.engine().NewEncoder()
	if err != nil {
		return nil, fmt.Errorf("transcode: encode: %w: %v", ErrEncodingFailure, err)
	}

	var (
		out   bytes.Buffer
		w     = NewFrameWriter(&out)
		frame = make([]int16, FrameSize)
	)
	for off := 0; off < len(pcm); off += FrameSize {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("transcode: encode cancelled: %w", err)
		}

		n := copy(frame, pcm[off:])
		clear(frame[n:]) // zero-pad the final short frame

		packet, err := enc.Encode(frame)
		if err != nil {
			return nil, fmt.Errorf("transcode: encode frame at sample %d: %w: %v", off, ErrEncodingFailure, err)
		}
		if len(packet) == 0 || len(packet) > MaxFrameBytes {
			return nil, fmt.Errorf("transcode: encode frame at sample %d: %w: engine produced %d bytes", off, ErrEncodingFailure, len(packet))
		}
		if err := w.WriteFrame(packet); err != nil {
			return nil, err
		}
	}
	return out.Bytes(), nil
}

// Decode converts a compressed frame stream back into a canonical PCM
// container. Records are decompressed in order by a codec engine created for
// this call alone. A frame that decodes to fewer than FrameSize samples is
// silence-padded and one that decodes to more is clipped, so every record
// contributes exactly FrameSize samples and output duration is a whole
// multiple of FrameDurationMs. ctx is polled once per record.
//
// A nil stream is ErrInvalidArgument. An empty stream is a valid stream of
// zero records and yields a container with no samples.
func (t *Transcoder) Decode(ctx context.Context, stream []byte) ([]byte, error) {
	if stream == nil {
		return nil, fmt.Errorf("transcode: decode: %w: nil input", ErrInvalidArgument)
	}

	dec, err := t.engine().NewDecoder()
	if err != nil {
		return nil, fmt.Errorf("transcode: decode: %w: %v", ErrEncodingFailure, err)
	}

	var (
		r     = NewFrameReader(bytes.NewReader(stream))
		pcm   []int16
		frame int
	)
	for ; ; frame++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("transcode: decode cancelled: %w", err)
		}

		packet, err := r.ReadFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		samples, err := dec.Decode(packet)
		if err != nil {
			return nil, fmt.Errorf("transcode: decode frame %d: %w: %v", frame, ErrEncodingFailure, err)
		}

		// Jitter normalization: clip long frames, silence-pad short ones.
		if len(samples) > FrameSize {
			samples = samples[:FrameSize]
		}
		pcm = append(pcm, samples...)
		if short := FrameSize - len(samples); short > 0 {
			pcm = append(pcm, make([]int16, short)...)
		}
	}

	return wav.Encode(int16sToBytes(pcm), SampleRate, Channels), nil
}

// ---- helpers ----------------------------------------------------------------

// int16sToBytes converts a slice of int16 PCM samples to little-endian bytes.
func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// bytesToInt16s converts little-endian bytes to a slice of int16 PCM samples.
func bytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
