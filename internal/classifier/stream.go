package classifier

import (
	"context"
	"encoding/json"
	"math"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/leonidasmv10/safe-drive-app-sub000/internal/audio"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/capture"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/errors"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/geo"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/logger"
)

// StreamPath is the audio streaming endpoint
const StreamPath = "/ws/audio/"

const (
	DefaultInitialBackoff = 5 * time.Second
	DefaultMaxBackoff     = 30 * time.Second
	DefaultFrameDuration  = 250 * time.Millisecond
	DefaultQueueSize      = 256
	DefaultResultTimeout  = 15 * time.Second

	writeWait        = 5 * time.Second
	handshakeTimeout = 10 * time.Second

	messageTypeConfig   = "config"
	messageTypeMetadata = "audio_metadata"
	messageTypeResult   = "detection_result"
)

var (
	// ErrStreamStopped is returned when the client is not running or was
	// stopped while a classification was waiting.
	ErrStreamStopped = errors.NewStd("stream client is not running")
	// ErrClassificationPending is returned when Classify is called while
	// another capture is still waiting for its result.
	ErrClassificationPending = errors.NewStd("a classification is already in flight")
)

// TokenFunc returns the bearer token appended to the websocket URL.
type TokenFunc func(ctx context.Context) (string, error)

// StreamConfig configures a StreamClient
type StreamConfig struct {
	URL            string // ws(s)://host, StreamPath is appended when no path is given
	SampleRate     int
	FrameDuration  time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	QueueSize      int // frames kept while disconnected; oldest dropped first
	ResultTimeout  time.Duration
	Token          TokenFunc
}

// FrameMetadata precedes every binary PCM frame.
type FrameMetadata struct {
	Type            string    `json:"type"`
	FrameID         uint64    `json:"frame_id"`
	Volume          float64   `json:"volume"`
	Timestamp       int64     `json:"timestamp"` // unix milliseconds
	SampleRate      int       `json:"sample_rate"`
	FrameDurationMs int64     `json:"frame_duration_ms"`
	Location        *Location `json:"location,omitempty"`
	IsFinal         bool      `json:"is_final"`
}

// Location is the coarse position sent with frames
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type configMessage struct {
	Type            string `json:"type"`
	SampleRate      int    `json:"sample_rate"`
	Channels        int    `json:"channels"`
	Encoding        string `json:"encoding"`
	FrameDurationMs int64  `json:"frame_duration_ms"`
}

type envelope struct {
	Type    string  `json:"type"`
	Message string  `json:"message,omitempty"`
	FrameID *uint64 `json:"frame_id,omitempty"` // echoed by results that name their capture
}

// pending is the Classify call waiting for its result. first and last bound
// the frame IDs of its capture; last is 0 until every frame has been sent.
type pending struct {
	ch          chan *Result
	first, last uint64
}

func (p *pending) covers(id uint64) bool {
	return id >= p.first && (p.last == 0 || id <= p.last)
}

// frame is one metadata+PCM pair; the pair is queued and written as a unit.
type frame struct {
	meta []byte
	pcm  []byte
}

// StreamClient keeps a websocket to the backend open while active, streams
// capture frames over it and waits for detection_result messages. On an
// unexpected close it reconnects with exponential backoff; frames sent while
// disconnected are queued and flushed after the configuration handshake.
type StreamClient struct {
	cfg    StreamConfig
	log    logger.Logger
	dialer *websocket.Dialer

	// afterFunc schedules reconnects; replaced in tests
	afterFunc func(time.Duration, func()) *time.Timer

	mu             sync.Mutex
	runCtx         context.Context
	cancel         context.CancelFunc
	active         bool
	conn           *websocket.Conn
	queue          []frame
	dropped        uint64
	nextBackoff    time.Duration
	reconnectTimer *time.Timer
	reconnects     int
	frameID        uint64
	waiter         *pending
	abandoned      uint64 // last frame ID of captures that gave up waiting
	onResult       func(*Result)

	wg sync.WaitGroup
}

// NewStreamClient creates a stopped StreamClient.
func NewStreamClient(cfg StreamConfig, log logger.Logger) *StreamClient {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = DefaultFrameDuration
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = max(DefaultMaxBackoff, cfg.InitialBackoff)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.ResultTimeout <= 0 {
		cfg.ResultTimeout = DefaultResultTimeout
	}
	if log == nil {
		log = logger.Global().Module("classifier")
	}
	return &StreamClient{
		cfg: cfg,
		log: log.With(logger.String("mode", "stream")),
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  16384,
		},
		afterFunc: time.AfterFunc,
	}
}

// OnResult registers fn for detection results that arrive while no Classify
// call is waiting.
func (c *StreamClient) OnResult(fn func(*Result)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onResult = fn
}

// Start activates the client and connects in the background. Starting an
// active client is a no-op.
func (c *StreamClient) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return nil
	}
	c.active = true
	c.runCtx, c.cancel = context.WithCancel(ctx)
	c.nextBackoff = c.cfg.InitialBackoff

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.connect()
	}()
	return nil
}

// Stop deactivates the client: pending reconnects are cancelled, the socket
// is closed normally and a waiting Classify returns ErrStreamStopped. Queued
// frames are discarded.
func (c *StreamClient) Stop() error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return nil
	}
	c.active = false
	if c.reconnectTimer != nil && c.reconnectTimer.Stop() {
		c.wg.Done()
	}
	c.reconnectTimer = nil
	conn := c.conn
	c.conn = nil
	c.queue = nil
	if c.waiter != nil {
		close(c.waiter.ch)
		c.waiter = nil
	}
	c.cancel()
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = conn.Close()
	}
	c.wg.Wait()
	return nil
}

// Connected reports whether the socket is open and the handshake was sent.
func (c *StreamClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// QueueLen returns the number of frames waiting for a connection.
func (c *StreamClient) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Reconnects returns how many reconnects have been scheduled.
func (c *StreamClient) Reconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnects
}

// Classify streams rec frame by frame, marking the last one final, and waits
// for its detection result. A result that echoes a frame_id from an earlier
// capture which already timed out is discarded rather than returned here.
func (c *StreamClient) Classify(ctx context.Context, rec *capture.Recording, pos geo.Position) (*Result, error) {
	if rec == nil || len(rec.Samples) == 0 {
		return nil, capture.ErrEmptyCapture
	}

	waiter := &pending{ch: make(chan *Result, 1)}
	c.mu.Lock()
	switch {
	case !c.active:
		c.mu.Unlock()
		return nil, ErrStreamStopped
	case c.waiter != nil:
		c.mu.Unlock()
		return nil, ErrClassificationPending
	}
	waiter.first = c.frameID + 1
	c.waiter = waiter
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.waiter == waiter {
			// gave up without a result; a late answer must not reach the next capture
			c.waiter = nil
			c.abandoned = max(c.abandoned, c.frameID)
		}
		c.mu.Unlock()
	}()

	frameLen := max(1, int(float64(rec.SampleRate)*c.cfg.FrameDuration.Seconds()))
	total := len(rec.Samples)
	for off := 0; off < total; off += frameLen {
		end := min(off+frameLen, total)
		ts := rec.StartedAt.Add(time.Duration(float64(off) / float64(rec.SampleRate) * float64(time.Second)))
		if err := c.SendFrame(rec.Samples[off:end], ts, pos, end == total); err != nil {
			return nil, err
		}
	}
	c.mu.Lock()
	waiter.last = c.frameID
	c.mu.Unlock()

	timer := time.NewTimer(c.cfg.ResultTimeout)
	defer timer.Stop()

	select {
	case r, ok := <-waiter.ch:
		if !ok {
			return nil, ErrStreamStopped
		}
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, errors.Newf("no detection result within %s", c.cfg.ResultTimeout).
			Component("classifier").
			Category(errors.CategoryTimeout).
			Context("mode", "stream").
			Build()
	}
}

// SendFrame sends one frame as a metadata message followed by PCM16LE bytes.
// While disconnected the pair is queued.
func (c *StreamClient) SendFrame(samples []float32, ts time.Time, pos geo.Position, final bool) error {
	pcm := audio.Float32ToPCM16LE(samples)
	volume := frameVolume(samples)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return ErrStreamStopped
	}

	c.frameID++
	meta := FrameMetadata{
		Type:            messageTypeMetadata,
		FrameID:         c.frameID,
		Volume:          volume,
		Timestamp:       ts.UnixMilli(),
		SampleRate:      c.cfg.SampleRate,
		FrameDurationMs: int64(len(samples)) * 1000 / int64(c.cfg.SampleRate),
		IsFinal:         final,
	}
	if pos.Valid() {
		meta.Location = &Location{Lat: coarse(pos.Latitude), Lon: coarse(pos.Longitude)}
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	f := frame{meta: data, pcm: pcm}

	if c.conn == nil || len(c.queue) > 0 {
		c.enqueueLocked(f)
		return nil
	}
	if err := writeFrame(c.conn, f); err != nil {
		c.log.Warn("frame write failed, reconnecting", logger.Error(err))
		c.enqueueLocked(f)
		conn := c.conn
		c.conn = nil
		_ = conn.Close()
		c.scheduleReconnectLocked()
	}
	return nil
}

func (c *StreamClient) enqueueLocked(f frame) {
	if len(c.queue) >= c.cfg.QueueSize {
		c.queue = c.queue[1:]
		c.dropped++
		if c.dropped == 1 || c.dropped%100 == 0 {
			c.log.Warn("stream queue full, dropping oldest frames", logger.Uint64("dropped", c.dropped))
		}
	}
	c.queue = append(c.queue, f)
}

func (c *StreamClient) connect() {
	c.mu.Lock()
	ctx := c.runCtx
	c.mu.Unlock()

	conn, err := c.dial(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		c.log.Warn("stream connection failed", logger.Error(err), logger.Duration("retry_in", c.nextBackoff))
		c.scheduleReconnectLocked()
		return
	}
	if err := c.openLocked(conn); err != nil {
		c.log.Warn("stream handshake failed", logger.Error(err))
		_ = conn.Close()
		c.scheduleReconnectLocked()
		return
	}

	c.conn = conn
	c.nextBackoff = c.cfg.InitialBackoff
	c.log.Info("stream connected")

	c.wg.Add(1)
	go c.readLoop(conn)
}

func (c *StreamClient) dial(ctx context.Context) (*websocket.Conn, error) {
	var token string
	if c.cfg.Token != nil {
		t, err := c.cfg.Token(ctx)
		if err != nil {
			return nil, err
		}
		token = t
	}
	endpoint, err := streamEndpoint(c.cfg.URL, token)
	if err != nil {
		return nil, err
	}

	conn, resp, err := c.dialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryWebSocket).
			Context("operation", "dial").
			Build()
	}
	return conn, nil
}

// openLocked sends the configuration handshake and flushes the queue in
// order. Frames that could not be written stay queued.
func (c *StreamClient) openLocked(conn *websocket.Conn) error {
	hello, err := json.Marshal(configMessage{
		Type:            messageTypeConfig,
		SampleRate:      c.cfg.SampleRate,
		Channels:        1,
		Encoding:        "pcm_s16le",
		FrameDurationMs: c.cfg.FrameDuration.Milliseconds(),
	})
	if err != nil {
		return err
	}
	if err := writeMessage(conn, websocket.TextMessage, hello); err != nil {
		return err
	}
	for len(c.queue) > 0 {
		if err := writeFrame(conn, c.queue[0]); err != nil {
			return err
		}
		c.queue = c.queue[1:]
	}
	c.queue = nil
	return nil
}

func (c *StreamClient) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		c.handleMessage(data)
	}
}

func (c *StreamClient) handleMessage(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Debug("ignoring malformed stream message", logger.Error(err))
		return
	}
	switch env.Type {
	case messageTypeResult:
	case "error":
		c.log.Warn("backend reported stream error", logger.String("message", env.Message))
		return
	default:
		c.log.Trace("ignoring stream message", logger.String("type", env.Type))
		return
	}

	result, err := decodeResult(data, time.Now())
	if err != nil {
		c.log.Debug("ignoring malformed detection result", logger.Error(err))
		return
	}

	c.mu.Lock()
	waiter := c.waiter
	handler := c.onResult
	switch {
	case env.FrameID == nil:
		// unnamed results go to whoever is waiting
	case waiter != nil && waiter.covers(*env.FrameID):
	case *env.FrameID <= c.abandoned || (waiter != nil && *env.FrameID < waiter.first):
		c.mu.Unlock()
		c.log.Debug("dropping stale detection result",
			logger.Uint64("frame_id", *env.FrameID),
			logger.String("label", result.Label))
		return
	default:
		waiter = nil
	}
	if waiter != nil {
		c.waiter = nil
	}
	c.mu.Unlock()

	if waiter != nil {
		waiter.ch <- result
		return
	}
	if handler != nil {
		handler(result)
	}
}

// handleDisconnect schedules exactly one reconnect for an unexpected close
// of the current connection while active.
func (c *StreamClient) handleDisconnect(conn *websocket.Conn, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return
	}
	c.conn = nil
	_ = conn.Close()
	if !c.active {
		return
	}
	c.log.Warn("stream closed unexpectedly",
		logger.Int("close_code", closeCode(err)),
		logger.Duration("retry_in", c.nextBackoff))
	c.scheduleReconnectLocked()
}

func (c *StreamClient) scheduleReconnectLocked() {
	if c.reconnectTimer != nil || !c.active {
		return
	}
	delay := c.nextBackoff
	c.nextBackoff = min(delay*2, c.cfg.MaxBackoff)
	c.reconnects++

	c.wg.Add(1)
	c.reconnectTimer = c.afterFunc(delay, func() {
		defer c.wg.Done()
		c.mu.Lock()
		c.reconnectTimer = nil
		active := c.active
		c.mu.Unlock()
		if active {
			c.connect()
		}
	})
}

func writeFrame(conn *websocket.Conn, f frame) error {
	if err := writeMessage(conn, websocket.TextMessage, f.meta); err != nil {
		return err
	}
	return writeMessage(conn, websocket.BinaryMessage, f.pcm)
}

func writeMessage(conn *websocket.Conn, kind int, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(kind, data)
}

// closeCode extracts the websocket close code; transport failures without a
// close frame count as abnormal closure.
func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return websocket.CloseAbnormalClosure
}

func streamEndpoint(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return "", errors.Newf("invalid stream URL %q", base).
			Component("classifier").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if strings.Trim(u.Path, "/") == "" {
		u.Path = StreamPath
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// frameVolume is the frame RMS scaled to 0..255
func frameVolume(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	return math.Round(min(rms, 1)*255*100) / 100
}

// coarse rounds a coordinate to three decimals, about 100 m
func coarse(deg float64) float64 {
	return math.Round(deg*1000) / 1000
}

var _ Classifier = (*StreamClient)(nil)
