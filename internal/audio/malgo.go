package audio

import (
	"context"
	"encoding/hex"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/smallnest/ringbuffer"

	"github.com/leonidasmv10/safe-drive-app-sub000/internal/errors"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/logger"
)

const (
	defaultSampleRate = 16000
	// ring buffer holds about two seconds of float32 mono audio
	ringSeconds    = 2
	bytesPerSample = 4
)

// MalgoConfig configures a MalgoSource
type MalgoConfig struct {
	DeviceName string // name, decoded id or substring; empty for the default device
	SampleRate int
	Gain       float64
}

// MalgoSource captures mono float32 audio through miniaudio. The device
// callback only copies bytes into a ring buffer; a dispatch goroutine drains it
// and fans frames out to subscribers.
type MalgoSource struct {
	config MalgoConfig
	log    logger.Logger

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool

	ring    *ringbuffer.RingBuffer
	notify  chan struct{}
	dropped atomic.Uint64
	fan     *fanout
}

// NewMalgoSource creates a MalgoSource; the device is opened by Start.
func NewMalgoSource(cfg MalgoConfig, log logger.Logger) *MalgoSource {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.Gain <= 0 {
		cfg.Gain = 1
	}
	if log == nil {
		log = logger.Global().Module("audio")
	}
	return &MalgoSource{
		config: cfg,
		log:    log,
		fan:    newFanout(),
		notify: make(chan struct{}, 1),
		ring:   ringbuffer.New(cfg.SampleRate * bytesPerSample * ringSeconds),
	}
}

func (s *MalgoSource) SampleRate() int { return s.config.SampleRate }

func (s *MalgoSource) Subscribe(h FrameHandler) func() { return s.fan.Subscribe(h) }

// Dropped returns how many callback buffers were discarded because the ring
// buffer was full.
func (s *MalgoSource) Dropped() uint64 { return s.dropped.Load() }

// Start opens the capture device. Device errors are returned with category
// audio-device so callers can report them without aborting.
func (s *MalgoSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return nil
	}

	backend := platformBackend()
	malgoCtx, err := malgo.InitContext([]malgo.Backend{backend}, malgo.ContextConfig{}, nil)
	if err != nil {
		return deviceError(err, "init_context").Context("backend", runtime.GOOS).Build()
	}

	infos, err := malgoCtx.Devices(malgo.Capture)
	if err != nil {
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
		return deviceError(err, "enumerate_devices").Build()
	}
	info, err := SelectDevice(infos, s.config.DeviceName)
	if err != nil {
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
		return err
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.Capture.DeviceID = info.ID.Pointer()
	deviceConfig.SampleRate = uint32(s.config.SampleRate) //nolint:gosec // validated positive
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: s.onAudioData,
		Stop: s.onDeviceStop,
	})
	if err != nil {
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
		return deviceError(err, "init_device").Context("device_name", info.Name()).Build()
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
		return deviceError(err, "start_device").Context("device_name", info.Name()).Build()
	}

	s.ctx = malgoCtx
	s.device = device
	s.ring.Reset()

	dispatchCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)
	go s.dispatch(dispatchCtx, s.done)

	s.log.Info("audio capture started",
		logger.String("device", info.Name()),
		logger.Int("sample_rate", s.config.SampleRate))
	return nil
}

// Stop stops the device and the dispatch goroutine and releases the context.
func (s *MalgoSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)

	if s.device != nil {
		_ = s.device.Stop()
		s.device.Uninit()
		s.device = nil
	}
	if s.cancel != nil {
		s.cancel()
		<-s.done
		s.cancel = nil
	}
	if s.ctx != nil {
		_ = s.ctx.Uninit()
		s.ctx.Free()
		s.ctx = nil
	}
	s.log.Info("audio capture stopped", logger.Uint64("dropped_buffers", s.dropped.Load()))
	return nil
}

// onAudioData runs on the device thread and must not block.
func (s *MalgoSource) onAudioData(_, input []byte, _ uint32) {
	if _, err := s.ring.Write(input); err != nil {
		s.dropped.Add(1)
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *MalgoSource) onDeviceStop() {
	if s.running.Load() {
		s.log.Warn("audio device stopped unexpectedly")
	}
}

func (s *MalgoSource) dispatch(ctx context.Context, done chan struct{}) {
	defer close(done)
	buf := make([]byte, s.ring.Capacity())
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.notify:
		}

		avail := s.ring.Length() / bytesPerSample * bytesPerSample
		if avail == 0 {
			continue
		}
		n, err := s.ring.Read(buf[:avail])
		if err != nil || n == 0 {
			continue
		}
		samples := BytesToFloat32(buf[:n])
		ApplyGain(samples, s.config.Gain)
		s.fan.dispatch(samples)
	}
}

// DeviceInfo describes a capture device
type DeviceInfo struct {
	Index     int
	Name      string
	ID        string
	IsDefault bool
}

// ListDevices enumerates capture devices on the platform backend.
func ListDevices() ([]DeviceInfo, error) {
	ctx, err := malgo.InitContext([]malgo.Backend{platformBackend()}, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, deviceError(err, "init_context").Build()
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, deviceError(err, "enumerate_devices").Build()
	}

	devices := make([]DeviceInfo, 0, len(infos))
	for i := range infos {
		if strings.Contains(infos[i].Name(), "Discard all samples") {
			continue
		}
		devices = append(devices, DeviceInfo{
			Index:     i,
			Name:      infos[i].Name(),
			ID:        decodeDeviceID(infos[i].ID.String()),
			IsDefault: infos[i].IsDefault == 1,
		})
	}
	return devices, nil
}

// SelectDevice picks the device matching name: exact name, decoded id, then
// substring. An empty name or "default" selects the system default.
func SelectDevice(devices []malgo.DeviceInfo, name string) (*malgo.DeviceInfo, error) {
	if name == "" || name == "default" || name == "sysdefault" {
		for i := range devices {
			if devices[i].IsDefault == 1 {
				return &devices[i], nil
			}
		}
		if len(devices) > 0 {
			return &devices[0], nil
		}
	}
	for i := range devices {
		if devices[i].Name() == name {
			return &devices[i], nil
		}
	}
	for i := range devices {
		if decodeDeviceID(devices[i].ID.String()) == name {
			return &devices[i], nil
		}
	}
	for i := range devices {
		if name != "" && strings.Contains(devices[i].Name(), name) {
			return &devices[i], nil
		}
	}
	return nil, errors.Newf("no matching capture device").
		Component("audio").
		Category(errors.CategoryAudioDevice).
		Context("device_name", name).
		Context("available_devices", len(devices)).
		Build()
}

func platformBackend() malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return malgo.BackendAlsa
	case "windows":
		return malgo.BackendWasapi
	case "darwin":
		return malgo.BackendCoreaudio
	default:
		return malgo.BackendNull
	}
}

// decodeDeviceID turns ALSA's hex encoded ids into readable names like
// "hw:1,0"; other ids are returned unchanged.
func decodeDeviceID(id string) string {
	raw, err := hex.DecodeString(id)
	if err != nil {
		return id
	}
	return strings.TrimRight(string(raw), "\x00")
}

func deviceError(err error, operation string) *errors.ErrorBuilder {
	return errors.New(err).
		Component("audio").
		Category(errors.CategoryAudioDevice).
		Context("operation", operation)
}
