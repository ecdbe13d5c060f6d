package transcode

import "errors"

// Failure classes for encode and decode operations. Every error returned by
// [Transcoder.Encode] and [Transcoder.Decode] wraps exactly one of these
// sentinels, or the context error when the operation was cancelled, so
// callers can classify failures with errors.Is.
var (
	// ErrInvalidArgument reports a nil or otherwise unusable input buffer.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnsupportedFormat reports an input container whose sample encoding
	// is neither integer PCM nor IEEE float.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrCorruptStream reports damaged input: a malformed container header,
	// a truncated length prefix, an out-of-range record length, or a
	// truncated frame payload.
	ErrCorruptStream = errors.New("corrupt stream")

	// ErrEncodingFailure reports that the codec engine failed to encode or
	// decode a frame.
	ErrEncodingFailure = errors.New("encoding failure")
)
