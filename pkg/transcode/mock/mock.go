// Package mock provides a scriptable test double for the transcode codec
// interfaces.
//
// Use Codec to observe every frame handed to the engine and to script what
// the engine returns, including the jitter and failure behaviours a real
// engine can exhibit.
//
// Example:
//
//	c := &mock.Codec{
//	    EncodeFunc: func(pcm []int16) ([]byte, error) {
//	        return []byte{0xAB}, nil
//	    },
//	}
//	t := transcode.New(transcode.WithCodec(c))
package mock

import (
	"sync"

	"github.com/tminde/parley/pkg/transcode"
)

// Codec is a mock implementation of transcode.Codec. Every NewEncoder and
// NewDecoder call returns a fresh engine backed by the scripted functions,
// mirroring the per-call instantiation contract of the real codec.
type Codec struct {
	mu sync.Mutex

	// EncodeFunc is invoked for every frame handed to an encoder. If nil, a
	// default stand-in returns a 3-byte payload per frame.
	EncodeFunc func(pcm []int16) ([]byte, error)

	// DecodeFunc is invoked for every payload handed to a decoder. If nil,
	// a default stand-in returns a full silent frame.
	DecodeFunc func(packet []byte) ([]int16, error)

	// NewEncoderErr, if non-nil, is returned by NewEncoder.
	NewEncoderErr error

	// NewDecoderErr, if non-nil, is returned by NewDecoder.
	NewDecoderErr error

	// EncoderCount is the number of encoder instances created.
	EncoderCount int

	// DecoderCount is the number of decoder instances created.
	DecoderCount int

	// EncodedFrames records a copy of every frame passed to EncodeFunc,
	// across all encoder instances, in order.
	EncodedFrames [][]int16

	// DecodedPackets records a copy of every payload passed to DecodeFunc,
	// across all decoder instances, in order.
	DecodedPackets [][]byte
}

// Compile-time assertions for the transcode interfaces.
var (
	_ transcode.Codec        = (*Codec)(nil)
	_ transcode.FrameEncoder = (*encoder)(nil)
	_ transcode.FrameDecoder = (*decoder)(nil)
)

// NewEncoder returns a fresh scripted encoder, or NewEncoderErr.
func (c *Codec) NewEncoder() (transcode.FrameEncoder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.NewEncoderErr != nil {
		return nil, c.NewEncoderErr
	}
	c.EncoderCount++
	return &encoder{c: c}, nil
}

// NewDecoder returns a fresh scripted decoder, or NewDecoderErr.
func (c *Codec) NewDecoder() (transcode.FrameDecoder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.NewDecoderErr != nil {
		return nil, c.NewDecoderErr
	}
	c.DecoderCount++
	return &decoder{c: c}, nil
}

// Reset clears all recorded frames, payloads, and instance counts.
func (c *Codec) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.EncoderCount = 0
	c.DecoderCount = 0
	c.EncodedFrames = nil
	c.DecodedPackets = nil
}

type encoder struct {
	c *Codec
}

func (e *encoder) Encode(pcm []int16) ([]byte, error) {
	e.c.mu.Lock()
	cp := make([]int16, len(pcm))
	copy(cp, pcm)
	e.c.EncodedFrames = append(e.c.EncodedFrames, cp)
	fn := e.c.EncodeFunc
	e.c.mu.Unlock()

	if fn != nil {
		return fn(pcm)
	}
	return []byte{0xA0, 0xA1, 0xA2}, nil
}

type decoder struct {
	c *Codec
}

func (d *decoder) Decode(packet []byte) ([]int16, error) {
	d.c.mu.Lock()
	cp := make([]byte, len(packet))
	copy(cp, packet)
	d.c.DecodedPackets = append(d.c.DecodedPackets, cp)
	fn := d.c.DecodeFunc
	d.c.mu.Unlock()

	if fn != nil {
		return fn(packet)
	}
	return make([]int16, transcode.FrameSize), nil
}
