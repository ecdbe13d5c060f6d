package whisper

// samplesToFloat32 converts 16-bit signed PCM samples to float32 normalised
// to the range [-1.0, 1.0], the input format whisper.cpp expects.
func samplesToFloat32(pcm []int16) []float32 {
	samples := make([]float32, len(pcm))
	for i, s := range pcm {
		samples[i] = float32(s) / 32768.0
	}
	return samples
}
