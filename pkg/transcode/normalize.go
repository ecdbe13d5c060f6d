package transcode

import (
	"errors"
	"fmt"

	"github.com/tminde/parley/pkg/wav"
)

// Normalize parses a PCM container and converts its samples to the canonical
// format: SampleRate Hz, mono, 16-bit signed integers. A container that is
// already canonical passes through with no conversion applied. Anything else
// is decoded to float, downmixed to one channel, resampled with linear
// interpolation, and quantized back to int16, in that order.
func Normalize(container []byte) ([]int16, error) {
	f, err := wav.Parse(container)
	if err != nil {
		if errors.Is(err, wav.ErrUnsupported) {
			return nil, fmt.Errorf("transcode: %w: %v", ErrUnsupportedFormat, err)
		}
		return nil, fmt.Errorf("transcode: %w: %v", ErrCorruptStream, err)
	}

	// Fast path: canonical input, reinterpret the raw bytes directly.
	if f.Format.Encoding == wav.EncodingPCM &&
		f.Format.SampleRate == SampleRate &&
		f.Format.Channels == Channels &&
		f.Format.BitsPerSample == 16 {
		return bytesToInt16s(f.Data), nil
	}

	samples := f.Samples()
	samples = downmix(samples, f.Format.Channels)
	samples = resample(samples, f.Format.SampleRate, SampleRate)
	return quantize(samples), nil
}

// downmix averages interleaved multi-channel samples into one channel.
// Mono input is returned unchanged.
func downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range out {
		var sum float32
		for c := range channels {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// resample converts mono samples from srcRate to dstRate using linear
// interpolation. Equal rates return the input unchanged.
func resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range out {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}
		out[i] = float32(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}

// quantize converts float samples in [-1, 1] to int16, clamping values
// outside that range.
func quantize(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := float64(s) * 32767
		switch {
		case v > 32767:
			out[i] = 32767
		case v < -32768:
			out[i] = -32768
		default:
			out[i] = int16(v)
		}
	}
	return out
}
