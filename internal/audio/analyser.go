package audio

import (
	"math"
	"math/cmplx"
)

// Analyser turns a window of time-domain samples into byte frequency data the
// way a browser AnalyserNode does: Blackman window, FFT magnitude, temporal
// smoothing, decibel mapping onto 0..255.
type Analyser struct {
	fftSize     int
	smoothing   float64
	minDecibels float64
	maxDecibels float64

	window   []float64
	smoothed []float64
	scratch  []complex128
}

// AnalyserConfig configures an Analyser. Zero values take the AnalyserNode
// defaults except FFTSize which defaults to 256.
type AnalyserConfig struct {
	FFTSize     int
	Smoothing   float64
	MinDecibels float64
	MaxDecibels float64
}

const (
	DefaultFFTSize     = 256
	DefaultSmoothing   = 0.8
	DefaultMinDecibels = -100.0
	DefaultMaxDecibels = -30.0
)

// NewAnalyser creates an Analyser. FFTSize must be a power of two.
func NewAnalyser(cfg AnalyserConfig) *Analyser {
	if cfg.FFTSize <= 0 || cfg.FFTSize&(cfg.FFTSize-1) != 0 {
		cfg.FFTSize = DefaultFFTSize
	}
	if cfg.Smoothing < 0 || cfg.Smoothing >= 1 {
		cfg.Smoothing = DefaultSmoothing
	}
	if cfg.MinDecibels == 0 && cfg.MaxDecibels == 0 {
		cfg.MinDecibels, cfg.MaxDecibels = DefaultMinDecibels, DefaultMaxDecibels
	}

	a := &Analyser{
		fftSize:     cfg.FFTSize,
		smoothing:   cfg.Smoothing,
		minDecibels: cfg.MinDecibels,
		maxDecibels: cfg.MaxDecibels,
		window:      blackmanWindow(cfg.FFTSize),
		smoothed:    make([]float64, cfg.FFTSize/2),
		scratch:     make([]complex128, cfg.FFTSize),
	}
	return a
}

// FFTSize returns the analysis window length
func (a *Analyser) FFTSize() int { return a.fftSize }

// FrequencyBinCount is half the FFT size
func (a *Analyser) FrequencyBinCount() int { return a.fftSize / 2 }

// ByteFrequencyData analyses the most recent FFTSize samples of frame
// (zero-padded at the front when shorter) and writes one byte per bin into
// dst, which must hold FrequencyBinCount bytes. Smoothing state carries over
// between calls.
func (a *Analyser) ByteFrequencyData(frame []float32, dst []byte) {
	n := a.fftSize
	if len(frame) > n {
		frame = frame[len(frame)-n:]
	}
	offset := n - len(frame)
	for i := range a.scratch {
		var s float64
		if i >= offset {
			s = float64(frame[i-offset])
		}
		a.scratch[i] = complex(s*a.window[i], 0)
	}

	fftInPlace(a.scratch)

	scale := 1.0 / float64(n)
	rangeScale := 255.0 / (a.maxDecibels - a.minDecibels)
	for k := range a.smoothed {
		mag := cmplx.Abs(a.scratch[k]) * scale
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag

		db := math.Inf(-1)
		if a.smoothed[k] > 0 {
			db = 20 * math.Log10(a.smoothed[k])
		}
		v := math.Floor(rangeScale * (db - a.minDecibels))
		switch {
		case math.IsInf(v, -1) || v < 0:
			v = 0
		case v > 255:
			v = 255
		}
		dst[k] = byte(v)
	}
}

// Volume returns the average of the byte frequency data for frame, 0..255.
func (a *Analyser) Volume(frame []float32) float64 {
	bins := make([]byte, a.FrequencyBinCount())
	a.ByteFrequencyData(frame, bins)
	return averageBytes(bins)
}

// Reset clears the smoothing history
func (a *Analyser) Reset() {
	clear(a.smoothed)
}

func averageBytes(b []byte) float64 {
	if len(b) == 0 {
		return 0
	}
	var sum int
	for _, v := range b {
		sum += int(v)
	}
	return float64(sum) / float64(len(b))
}

// blackmanWindow returns the classic Blackman window (alpha 0.16)
func blackmanWindow(n int) []float64 {
	const (
		a0 = 0.42
		a1 = 0.5
		a2 = 0.08
	)
	w := make([]float64, n)
	for i := range w {
		x := float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(2*math.Pi*x) + a2*math.Cos(4*math.Pi*x)
	}
	return w
}

// fftInPlace is an iterative radix-2 Cooley-Tukey FFT. len(x) must be a power
// of two.
func fftInPlace(x []complex128) {
	n := len(x)
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			x[i], x[j] = x[j], x[i]
		}
	}
	for size := 2; size <= n; size <<= 1 {
		step := -2 * math.Pi / float64(size)
		for start := 0; start < n; start += size {
			for k := 0; k < size/2; k++ {
				tw := cmplx.Rect(1, step*float64(k))
				even := x[start+k]
				odd := tw * x[start+k+size/2]
				x[start+k] = even + odd
				x[start+k+size/2] = even - odd
			}
		}
	}
}
