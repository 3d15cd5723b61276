// Package audio owns microphone capture and loudness analysis: the device
// source, the frame fan-out, the AnalyserNode-style volume sampler and PCM/WAV
// encoding.
package audio

import (
	"context"
	"sync"
)

// FrameHandler receives mono float32 samples in [-1, 1]. Handlers run on the
// dispatch goroutine, never on the device thread, and must not retain the
// slice.
type FrameHandler interface {
	HandleFrame(samples []float32)
}

// FrameHandlerFunc adapts a function to FrameHandler
type FrameHandlerFunc func(samples []float32)

func (f FrameHandlerFunc) HandleFrame(samples []float32) { f(samples) }

// Source is a microphone-like producer of frames.
type Source interface {
	// Start opens the device and begins delivering frames to the fan-out.
	Start(ctx context.Context) error
	// Stop releases the device. Stopping a stopped source is a no-op.
	Stop() error
	SampleRate() int
	// Subscribe registers h and returns a function removing it.
	Subscribe(h FrameHandler) (unsubscribe func())
}

// fanout distributes frames to subscribed handlers
type fanout struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]FrameHandler
}

func newFanout() *fanout {
	return &fanout{handlers: make(map[int]FrameHandler)}
}

func (f *fanout) Subscribe(h FrameHandler) func() {
	f.mu.Lock()
	id := f.next
	f.next++
	f.handlers[id] = h
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.handlers, id)
			f.mu.Unlock()
		})
	}
}

func (f *fanout) dispatch(samples []float32) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, h := range f.handlers {
		h.HandleFrame(samples)
	}
}
