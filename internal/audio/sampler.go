package audio

import (
	"math"
	"sync"
	"sync/atomic"
)

// Sampler keeps a running loudness estimate of the microphone signal. It is a
// FrameHandler: feed it every captured frame and read Volume at any time from
// any goroutine.
type Sampler struct {
	mu       sync.Mutex
	analyser *Analyser
	window   []float32
	pending  int
	bins     []byte

	volume atomic.Uint64 // math.Float64bits
	ticks  atomic.Uint64
}

// NewSampler creates a Sampler around an Analyser
func NewSampler(a *Analyser) *Sampler {
	if a == nil {
		a = NewAnalyser(AnalyserConfig{})
	}
	return &Sampler{
		analyser: a,
		window:   make([]float32, 0, a.FFTSize()),
		bins:     make([]byte, a.FrequencyBinCount()),
	}
}

// HandleFrame consumes captured samples. A new volume is published every time
// a full analysis window of new samples has arrived.
func (s *Sampler) HandleFrame(samples []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	size := s.analyser.FFTSize()
	for len(samples) > 0 {
		take := min(size-s.pending, len(samples))
		s.window = append(s.window, samples[:take]...)
		if len(s.window) > size {
			s.window = s.window[len(s.window)-size:]
		}
		s.pending += take
		samples = samples[take:]

		if s.pending == size {
			s.analyser.ByteFrequencyData(s.window, s.bins)
			s.volume.Store(math.Float64bits(averageBytes(s.bins)))
			s.ticks.Add(1)
			s.pending = 0
		}
	}
}

// Volume returns the latest loudness estimate in [0, 255]
func (s *Sampler) Volume() float64 {
	return math.Float64frombits(s.volume.Load())
}

// Ticks returns how many analysis windows have been processed
func (s *Sampler) Ticks() uint64 {
	return s.ticks.Load()
}

// Reset drops buffered samples and smoothing history; Volume goes back to 0.
func (s *Sampler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = s.window[:0]
	s.pending = 0
	s.analyser.Reset()
	s.volume.Store(0)
}
