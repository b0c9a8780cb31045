package codec

// Downsample reduces the sample rate by an integer factor, keeping every
// factor-th sample. The synthesizer's 24kHz output and the carrier's 8kHz
// rate have an exact 3:1 relationship, so plain decimation is sufficient.
func Downsample(samples []int16, factor int) []int16 {
	if factor <= 1 || len(samples) == 0 {
		return samples
	}
	out := make([]int16, 0, len(samples)/factor+1)
	for i := 0; i < len(samples); i += factor {
		out = append(out, samples[i])
	}
	return out
}

// BytesToPCM converts little-endian bytes to 16-bit PCM samples.
func BytesToPCM(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// PCMToBytes converts 16-bit PCM samples to little-endian bytes.
func PCMToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return data
}
