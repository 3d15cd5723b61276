package audio

import (
	"encoding/binary"
	"math"
)

// maxInt16 is the saturation bound for float to PCM16 conversion. -32768 is
// never produced so the scale stays symmetric.
const maxInt16 = 32767

// FloatToInt16 converts a sample in [-1, 1] to int16, saturating at ±32767.
func FloatToInt16(s float32) int16 {
	v := float64(s)
	if math.IsNaN(v) {
		return 0
	}
	v = math.Max(-1, math.Min(1, v))
	return int16(math.Round(v * maxInt16))
}

// Float32ToPCM16LE encodes samples as little-endian signed 16-bit PCM.
func Float32ToPCM16LE(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(FloatToInt16(s)))
	}
	return out
}

// Float32ToInts converts samples to the int representation go-audio expects.
func Float32ToInts(samples []float32) []int {
	out := make([]int, len(samples))
	for i, s := range samples {
		out[i] = int(FloatToInt16(s))
	}
	return out
}

// BytesToFloat32 decodes little-endian float32 samples. A trailing partial
// sample is ignored.
func BytesToFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// ApplyGain scales samples in place, clamping to [-1, 1].
func ApplyGain(samples []float32, gain float64) {
	if gain == 1 {
		return
	}
	for i, s := range samples {
		v := float64(s) * gain
		samples[i] = float32(math.Max(-1, math.Min(1, v)))
	}
}

// DownmixToMono averages interleaved channels.
func DownmixToMono(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	out := make([]float32, len(samples)/channels)
	for i := range out {
		var sum float32
		for c := range channels {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}
