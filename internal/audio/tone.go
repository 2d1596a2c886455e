// Package audio holds the PCM helpers used to synthesise the greeting tone.
package audio

import "math"

const (
	ToneFrequency  = 440.0
	ToneSampleRate = 16000
	ToneAmplitude  = 12000

	// fade applied at both ends of a tone to avoid clicks
	fadeSamples = ToneSampleRate / 100
)

// GenerateSineWave produces a sine wave at the given frequency and duration
// as 16kHz mono int16 PCM samples, with a short linear fade in and out.
func GenerateSineWave(durationSec, frequency float64) []int16 {
	numSamples := int(durationSec * ToneSampleRate)
	if numSamples <= 0 {
		return nil
	}
	samples := make([]int16, numSamples)
	fade := fadeSamples
	if fade > numSamples/2 {
		fade = numSamples / 2
	}
	for i := range samples {
		t := float64(i) / ToneSampleRate
		gain := 1.0
		if fade > 0 {
			switch {
			case i < fade:
				gain = float64(i) / float64(fade)
			case i >= numSamples-fade:
				gain = float64(numSamples-1-i) / float64(fade)
			}
		}
		samples[i] = int16(gain * ToneAmplitude * math.Sin(2*math.Pi*frequency*t))
	}
	return samples
}
