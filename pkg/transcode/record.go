package transcode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// FrameWriter writes length-prefixed frame records to an io.Writer.
// Each record is a 4-byte little-endian length followed by the frame bytes.
type FrameWriter struct {
	w io.Writer
}

// NewFrameWriter returns a FrameWriter that writes to w.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteFrame writes one record. The frame length must be within
// [1, MaxFrameBytes]; an out-of-range length is never written.
func (f *FrameWriter) WriteFrame(frame []byte) error {
	if len(frame) == 0 || len(frame) > MaxFrameBytes {
		return fmt.Errorf("transcode: refusing to write record of %d bytes, valid range [1, %d]", len(frame), MaxFrameBytes)
	}
	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(frame)))
	if _, err := f.w.Write(prefix[:]); err != nil {
		return fmt.Errorf("transcode: write record length: %w", err)
	}
	if _, err := f.w.Write(frame); err != nil {
		return fmt.Errorf("transcode: write record payload: %w", err)
	}
	return nil
}

// FrameReader reads length-prefixed frame records from an io.Reader.
type FrameReader struct {
	r io.Reader
}

// NewFrameReader returns a FrameReader that reads from r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r}
}

// ReadFrame reads and returns the next frame payload. It returns io.EOF when
// the source is exhausted exactly at a record boundary. A source that ends
// inside a length prefix or a payload, and a length outside
// [1, MaxFrameBytes], yield ErrCorruptStream.
func (f *FrameReader) ReadFrame() ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(f.r, prefix[:]); err != nil {
		// ReadFull distinguishes a clean boundary (EOF, zero bytes read)
		// from a prefix cut short (ErrUnexpectedEOF, 1-3 bytes read).
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("transcode: truncated record length: %w", ErrCorruptStream)
	}

	length := binary.LittleEndian.Uint32(prefix[:])
	if length == 0 || length > MaxFrameBytes {
		return nil, fmt.Errorf("transcode: record length %d outside [1, %d]: %w", length, MaxFrameBytes, ErrCorruptStream)
	}

	frame := make([]byte, length)
	if _, err := io.ReadFull(f.r, frame); err != nil {
		return nil, fmt.Errorf("transcode: truncated record payload: %w", ErrCorruptStream)
	}
	return frame, nil
}
