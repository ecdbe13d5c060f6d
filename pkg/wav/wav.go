// Package wav reads and writes RIFF/WAVE audio containers.
//
// The reader walks the RIFF chunk list, extracts the format description from
// the fmt chunk and the raw sample bytes from the data chunk, and skips any
// other chunks (LIST, fact, bext, ...). Supported sample encodings are
// integer PCM (8/16/24/32-bit) and IEEE float (32/64-bit), declared either
// directly or through a WAVE_FORMAT_EXTENSIBLE descriptor. The writer emits
// the canonical 44-byte header for 16-bit integer PCM.
//
// Usage:
//
//	f, err := wav.Parse(data)
//	if err != nil {
//	    // errors.Is(err, wav.ErrUnsupported) or errors.Is(err, wav.ErrMalformed)
//	}
//	samples := f.Samples() // interleaved float32 in [-1, 1]
//
//	container := wav.Encode(pcmBytes, 16000, 1)
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Sentinel errors returned by [Parse]. Both are reported before any sample
// data is interpreted.
var (
	// ErrMalformed reports a container whose RIFF structure is damaged or
	// truncated.
	ErrMalformed = errors.New("wav: malformed container")

	// ErrUnsupported reports a sample encoding other than integer PCM or
	// IEEE float.
	ErrUnsupported = errors.New("wav: unsupported sample encoding")
)

// Encoding is a WAVE format tag. After parsing, only the two supported tags
// appear in a [Format]; WAVE_FORMAT_EXTENSIBLE is resolved to the tag it
// wraps.
type Encoding uint16

const (
	// EncodingPCM is integer PCM (format tag 1).
	EncodingPCM Encoding = 0x0001

	// EncodingIEEEFloat is IEEE floating point (format tag 3).
	EncodingIEEEFloat Encoding = 0x0003

	encodingALaw       Encoding = 0x0006
	encodingMuLaw      Encoding = 0x0007
	encodingExtensible Encoding = 0xFFFE
)

// name returns a human-readable label for an encoding tag, for error messages.
func (e Encoding) name() string {
	switch e {
	case EncodingPCM:
		return "pcm"
	case EncodingIEEEFloat:
		return "ieee-float"
	case encodingALaw:
		return "a-law"
	case encodingMuLaw:
		return "mu-law"
	}
	return fmt.Sprintf("tag 0x%04X", uint16(e))
}

// Format describes the sample layout of a parsed container.
type Format struct {
	Encoding      Encoding
	Channels      int
	SampleRate    int
	BitsPerSample int
}

// File is a parsed WAVE container: its format description and the raw sample
// bytes of the data chunk. Data aliases the buffer passed to [Parse]; the
// caller must not mutate that buffer while the File is in use.
type File struct {
	Format Format
	Data   []byte
}

// Parse reads a RIFF/WAVE container from data. The fmt chunk must precede the
// data chunk; unknown chunks between them are skipped. The RIFF size field is
// ignored in favour of the actual buffer length because real-world writers
// frequently get it wrong.
func Parse(data []byte) (*File, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: missing RIFF/WAVE header", ErrMalformed)
	}

	var (
		f       File
		fmtSeen bool
	)
	off := 12
	for off < len(data) {
		if off+8 > len(data) {
			return nil, fmt.Errorf("%w: truncated chunk header at offset %d", ErrMalformed, off)
		}
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) || body+size < body {
			return nil, fmt.Errorf("%w: chunk %q declares %d bytes past end of input", ErrMalformed, id, size)
		}

		switch id {
		case "fmt ":
			if err := parseFmt(data[body:body+size], &f.Format); err != nil {
				return nil, err
			}
			fmtSeen = true
		case "data":
			if !fmtSeen {
				return nil, fmt.Errorf("%w: data chunk precedes fmt chunk", ErrMalformed)
			}
			f.Data = data[body : body+size]
			return &f, nil
		}

		off = body + size
		if size%2 == 1 {
			off++ // chunk bodies are word-aligned
		}
	}

	if !fmtSeen {
		return nil, fmt.Errorf("%w: no fmt chunk", ErrMalformed)
	}
	return nil, fmt.Errorf("%w: no data chunk", ErrMalformed)
}

// parseFmt decodes a fmt chunk body into f and validates that the declared
// encoding and bit depth are supported.
func parseFmt(b []byte, f *Format) error {
	if len(b) < 16 {
		return fmt.Errorf("%w: fmt chunk is %d bytes, need at least 16", ErrMalformed, len(b))
	}
	tag := Encoding(binary.LittleEndian.Uint16(b[0:2]))
	f.Channels = int(binary.LittleEndian.Uint16(b[2:4]))
	f.SampleRate = int(binary.LittleEndian.Uint32(b[4:8]))
	// Byte rate and block align (b[8:14]) are derivable from the rest and
	// unreliable in the wild; they are not consulted.
	f.BitsPerSample = int(binary.LittleEndian.Uint16(b[14:16]))

	if tag == encodingExtensible {
		// Extensible layout: 16-byte base, 2-byte cbSize, then a 22-byte
		// extension whose subformat GUID starts with the effective format tag.
		if len(b) < 40 {
			return fmt.Errorf("%w: extensible fmt chunk is %d bytes, need at least 40", ErrMalformed, len(b))
		}
		if cb := int(binary.LittleEndian.Uint16(b[16:18])); cb < 22 {
			return fmt.Errorf("%w: extensible fmt chunk extension is %d bytes, need 22", ErrMalformed, cb)
		}
		tag = Encoding(binary.LittleEndian.Uint16(b[24:26]))
	}

	switch tag {
	case EncodingPCM:
		switch f.BitsPerSample {
		case 8, 16, 24, 32:
		default:
			return fmt.Errorf("%w: %d-bit integer PCM", ErrUnsupported, f.BitsPerSample)
		}
	case EncodingIEEEFloat:
		switch f.BitsPerSample {
		case 32, 64:
		default:
			return fmt.Errorf("%w: %d-bit IEEE float", ErrUnsupported, f.BitsPerSample)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupported, tag.name())
	}
	f.Encoding = tag

	if f.Channels < 1 {
		return fmt.Errorf("%w: channel count %d", ErrMalformed, f.Channels)
	}
	if f.SampleRate < 1 {
		return fmt.Errorf("%w: sample rate %d", ErrMalformed, f.SampleRate)
	}
	return nil
}

// Samples decodes the data chunk into interleaved float32 samples in [-1, 1].
// Trailing bytes that do not form a whole sample are ignored.
func (f *File) Samples() []float32 {
	bytesPer := f.Format.BitsPerSample / 8
	n := len(f.Data) / bytesPer
	out := make([]float32, n)

	switch {
	case f.Format.Encoding == EncodingPCM && f.Format.BitsPerSample == 8:
		// 8-bit PCM is unsigned with a 128 bias.
		for i := range out {
			out[i] = (float32(f.Data[i]) - 128) / 128
		}
	case f.Format.Encoding == EncodingPCM && f.Format.BitsPerSample == 16:
		for i := range out {
			s := int16(binary.LittleEndian.Uint16(f.Data[i*2:]))
			out[i] = float32(s) / 32768
		}
	case f.Format.Encoding == EncodingPCM && f.Format.BitsPerSample == 24:
		for i := range out {
			b := f.Data[i*3:]
			v := int32(b[0]) | int32(b[1])<<8 | int32(int8(b[2]))<<16
			out[i] = float32(v) / 8388608
		}
	case f.Format.Encoding == EncodingPCM && f.Format.BitsPerSample == 32:
		for i := range out {
			v := int32(binary.LittleEndian.Uint32(f.Data[i*4:]))
			out[i] = float32(float64(v) / 2147483648)
		}
	case f.Format.Encoding == EncodingIEEEFloat && f.Format.BitsPerSample == 32:
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(f.Data[i*4:]))
		}
	case f.Format.Encoding == EncodingIEEEFloat && f.Format.BitsPerSample == 64:
		for i := range out {
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(f.Data[i*8:])))
		}
	}
	return out
}

// Encode wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container. The payload is taken whole, so the header's length
// fields always reflect len(pcm) exactly.
func Encode(pcm []byte, sampleRate, channels int) []byte {
	const bps = 16
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                 // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))   // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))   // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign)) // block align
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))        // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}
