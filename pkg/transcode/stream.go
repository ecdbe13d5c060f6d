package transcode

import (
	"bytes"
	"context"
	"fmt"
)

// StreamEncoder compresses canonical PCM that arrives in arbitrarily sized
// chunks into the same record stream [Transcoder.Encode] produces for a
// whole buffer. It buffers samples between pushes until a full frame is
// available, so chunk boundaries never influence the output.
//
// One StreamEncoder owns one codec engine and therefore serves exactly one
// stream. It is not safe for concurrent use.
type StreamEncoder struct {
	enc     FrameEncoder
	pending []byte  // buffered canonical PCM shorter than one frame
	frame   []int16 // scratch frame, reused across pushes
	out     bytes.Buffer
	w       *FrameWriter
	flushed bool
}

// NewStream creates a StreamEncoder using the Transcoder's codec
// configuration. The engine for the stream is created immediately.
func (t *Transcoder) NewStream() (*StreamEncoder, error) {
	enc, err := t.engine().NewEncoder()
	if err != nil {
		return nil, fmt.Errorf("transcode: new stream: %w: %v", ErrEncodingFailure, err)
	}
	s := &StreamEncoder{
		enc:   enc,
		frame: make([]int16, FrameSize),
	}
	s.w = NewFrameWriter(&s.out)
	return s, nil
}

// Write buffers pcm, raw canonical 16-bit little-endian mono samples, and
// returns the encoded records for every complete frame now available. The
// returned bytes are only valid until the next call. ctx is polled once per
// frame.
func (s *StreamEncoder) Write(ctx context.Context, pcm []byte) ([]byte, error) {
	if s.flushed {
		return nil, fmt.Errorf("transcode: write: %w: stream already flushed", ErrInvalidArgument)
	}
	s.out.Reset()
	s.pending = append(s.pending, pcm...)

	for len(s.pending) >= FrameBytes {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("transcode: stream encode cancelled: %w", err)
		}
		if err := s.encodeFrame(s.pending[:FrameBytes]); err != nil {
			return nil, err
		}
		s.pending = s.pending[FrameBytes:]
	}
	return s.out.Bytes(), nil
}

// Flush encodes any buffered partial frame, zero-padded to full size, and
// returns its record. After Flush the stream is closed: further Write or
// Flush calls fail. A stream with no pending samples flushes to nil.
func (s *StreamEncoder) Flush(ctx context.Context) ([]byte, error) {
	if s.flushed {
		return nil, fmt.Errorf("transcode: flush: %w: stream already flushed", ErrInvalidArgument)
	}
	s.flushed = true
	if len(s.pending) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("transcode: stream encode cancelled: %w", err)
	}

	s.out.Reset()
	tail := s.pending
	s.pending = nil
	if err := s.encodeFrame(tail); err != nil {
		return nil, err
	}
	return s.out.Bytes(), nil
}

// encodeFrame compresses one chunk of at most FrameBytes bytes, zero-padding
// it to a full frame, and appends the record to the output buffer.
func (s *StreamEncoder) encodeFrame(chunk []byte) error {
	samples := bytesToInt16s(chunk)
	n := copy(s.frame, samples)
	clear(s.frame[n:])

	packet, err := s.enc.Encode(s.frame)
	if err != nil {
		return fmt.Errorf("transcode: stream encode frame: %w: %v", ErrEncodingFailure, err)
	}
	if len(packet) == 0 || len(packet) > MaxFrameBytes {
		return fmt.Errorf("transcode: stream encode frame: %w: engine produced %d bytes", ErrEncodingFailure, len(packet))
	}
	return s.w.WriteFrame(packet)
}
