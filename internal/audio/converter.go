package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Sample rates used by the gateway
const (
	// ClientSampleRate is the rate of microphone audio sent by clients and of
	// TTS audio sent back to them.
	ClientSampleRate = 16000
	// CartesiaSampleRate is the rate requested from the TTS provider.
	CartesiaSampleRate = 24000
)

// BytesToSamples decodes little-endian 16-bit PCM. A trailing odd byte is ignored.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// SamplesToBytes encodes samples as little-endian 16-bit PCM
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}

// ResamplePCM16 converts little-endian PCM16 mono audio between sample rates
func ResamplePCM16(pcmData []byte, inputSampleRate, outputSampleRate int) ([]byte, error) {
	if len(pcmData) == 0 {
		return nil, fmt.Errorf("empty PCM data")
	}
	if len(pcmData)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples)")
	}
	if inputSampleRate <= 0 || outputSampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates %d -> %d", inputSampleRate, outputSampleRate)
	}
	if inputSampleRate == outputSampleRate {
		return pcmData, nil
	}

	return SamplesToBytes(resample(BytesToSamples(pcmData), inputSampleRate, outputSampleRate)), nil
}

// resample performs linear interpolation resampling. Adequate for speech
// playback; not meant for music.
func resample(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || len(samples) == 0 {
		return samples
	}

	outputLength := len(samples) * outputRate / inputRate
	output := make([]int16, outputLength)
	step := float64(inputRate) / float64(outputRate)

	for i := 0; i < outputLength; i++ {
		srcPos := float64(i) * step

		idx0 := int(srcPos)
		idx1 := idx0 + 1
		if idx1 >= len(samples) {
			idx1 = len(samples) - 1
		}

		fraction := srcPos - float64(idx0)
		output[i] = int16(float64(samples[idx0])*(1.0-fraction) + float64(samples[idx1])*fraction)
	}

	return output
}

// PCM16Duration returns the playback length of n bytes of mono PCM16 audio
func PCM16Duration(n int, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := n / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}
