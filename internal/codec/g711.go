// Package codec converts between the carrier's narrowband telephony format
// (8kHz mu-law) and linear 16-bit PCM, and downsamples higher-rate synthesis
// output to the telephony rate. All functions are pure.
package codec

// TelephonyRate is the carrier's narrowband sample rate in Hz.
const TelephonyRate = 8000

// SynthesisRate is the sample rate of PCM produced by the speech synthesizer.
const SynthesisRate = 24000

const muLawBias = 0x84
const muLawClip = 32635

// EncodeMuLaw compands a linear 16-bit PCM sample to 8-bit mu-law (G.711).
func EncodeMuLaw(sample int16) byte {
	sign := byte(0)
	if sample < 0 {
		sign = 0x80
		if sample == -32768 {
			sample = -32767
		}
		sample = -sample
	}
	if sample > muLawClip {
		sample = muLawClip
	}
	sample += muLawBias

	exp := byte(7)
	for mask := int16(0x4000); sample&mask == 0 && exp > 0; mask >>= 1 {
		exp--
	}
	mant := byte((sample >> (exp + 3)) & 0x0F)

	return ^(sign | (exp << 4) | mant)
}

// DecodeMuLaw expands an 8-bit mu-law sample to linear 16-bit PCM.
func DecodeMuLaw(mu byte) int16 {
	mu = ^mu
	sign := mu & 0x80
	exp := (mu >> 4) & 0x07
	mant := mu & 0x0F

	value := (int16(mant)<<3 + muLawBias) << exp
	value -= muLawBias

	if sign != 0 {
		return -value
	}
	return value
}

// EncodeMuLawBytes compands a slice of PCM samples.
func EncodeMuLawBytes(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = EncodeMuLaw(s)
	}
	return out
}

// DecodeMuLawBytes expands a mu-law payload to PCM samples.
func DecodeMuLawBytes(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = DecodeMuLaw(b)
	}
	return out
}
