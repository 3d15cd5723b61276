package classifier

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leonidasmv10/safe-drive-app-sub000/internal/audio"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/capture"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/errors"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/geo"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/logger"
)

var madrid = geo.Position{Latitude: 40.41683, Longitude: -3.70379}

func newStream(t *testing.T, url string) (*StreamClient, *scheduler) {
	t.Helper()
	sched := &scheduler{}
	c := NewStreamClient(StreamConfig{
		URL:           url,
		SampleRate:    16000,
		FrameDuration: 250 * time.Millisecond,
		ResultTimeout: 2 * time.Second,
		Token:         tokenSource{token: "tok en"}.Token,
	}, logger.NewDiscard())
	c.afterFunc = sched.afterFunc
	t.Cleanup(func() { _ = c.Stop() })
	return c, sched
}

func decodeMeta(t *testing.T, m received) FrameMetadata {
	t.Helper()
	require.Equal(t, websocket.TextMessage, m.kind)
	var meta FrameMetadata
	require.NoError(t, json.Unmarshal(m.data, &meta))
	return meta
}

func TestStreamHandshakeFirstWithToken(t *testing.T) {
	srv := newWSServer(t, true)
	c, _ := newStream(t, srv.wsURL())
	require.NoError(t, c.Start(t.Context()))

	select {
	case tok := <-srv.tokens:
		assert.Equal(t, "tok en", tok)
	case <-time.After(2 * time.Second):
		t.Fatal("no connection")
	}

	hello := srv.next(t)
	require.Equal(t, websocket.TextMessage, hello.kind)
	var cfg configMessage
	require.NoError(t, json.Unmarshal(hello.data, &cfg))
	assert.Equal(t, "config", cfg.Type)
	assert.Equal(t, 16000, cfg.SampleRate)
	assert.Equal(t, int64(250), cfg.FrameDurationMs)

	require.Eventually(t, c.Connected, time.Second, 10*time.Millisecond)
}

func TestStreamQueuesWhileDisconnectedAndFlushesInOrder(t *testing.T) {
	srv := newWSServer(t, false)
	c, sched := newStream(t, srv.wsURL())
	require.NoError(t, c.Start(t.Context()))
	require.Eventually(t, func() bool { return len(sched.Delays()) == 1 }, 2*time.Second, 10*time.Millisecond)

	now := time.Now()
	for i := range 3 {
		require.NoError(t, c.SendFrame([]float32{float32(i) / 10, 1.5}, now, madrid, i == 2))
	}
	assert.Equal(t, 3, c.QueueLen())

	srv.accept.Store(true)
	sched.fire(0)
	require.True(t, c.Connected())
	assert.Zero(t, c.QueueLen())

	hello := srv.next(t)
	assert.Contains(t, string(hello.data), `"type":"config"`)
	for i := range 3 {
		meta := decodeMeta(t, srv.next(t))
		assert.Equal(t, uint64(i+1), meta.FrameID)
		assert.Equal(t, "audio_metadata", meta.Type)
		assert.Equal(t, i == 2, meta.IsFinal)
		require.NotNil(t, meta.Location)
		assert.InDelta(t, 40.417, meta.Location.Lat, 1e-9)
		assert.InDelta(t, -3.704, meta.Location.Lon, 1e-9)
		assert.Equal(t, now.UnixMilli(), meta.Timestamp)

		pcm := srv.next(t)
		require.Equal(t, websocket.BinaryMessage, pcm.kind)
		assert.Equal(t, audio.Float32ToPCM16LE([]float32{float32(i) / 10, 1.5}), pcm.data)
	}
}

func TestStreamAbnormalCloseSchedulesOneReconnect(t *testing.T) {
	srv := newWSServer(t, true)
	c, sched := newStream(t, srv.wsURL())
	require.NoError(t, c.Start(t.Context()))

	var serverConn *websocket.Conn
	select {
	case serverConn = <-srv.conns:
	case <-time.After(2 * time.Second):
		t.Fatal("no connection")
	}
	require.Eventually(t, c.Connected, time.Second, 10*time.Millisecond)

	// drop TCP without a close frame: the client sees 1006
	require.NoError(t, serverConn.NetConn().Close())

	require.Eventually(t, func() bool { return len(sched.Delays()) == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []time.Duration{DefaultInitialBackoff}, sched.Delays())
	assert.Equal(t, 1, c.Reconnects())
	assert.False(t, c.Connected())
}

func TestStreamBackoffDoublesToCap(t *testing.T) {
	srv := newWSServer(t, false)
	c, sched := newStream(t, srv.wsURL())
	require.NoError(t, c.Start(t.Context()))
	require.Eventually(t, func() bool { return len(sched.Delays()) == 1 }, 2*time.Second, 10*time.Millisecond)

	for i := range 4 {
		sched.fire(i)
	}
	assert.Equal(t, []time.Duration{
		5 * time.Second, 10 * time.Second, 20 * time.Second, 30 * time.Second, 30 * time.Second,
	}, sched.Delays())
}

func TestStreamBackoffResetsAfterConnect(t *testing.T) {
	srv := newWSServer(t, false)
	c, sched := newStream(t, srv.wsURL())
	require.NoError(t, c.Start(t.Context()))
	require.Eventually(t, func() bool { return len(sched.Delays()) == 1 }, 2*time.Second, 10*time.Millisecond)
	sched.fire(0) // fails again, 10s scheduled

	srv.accept.Store(true)
	sched.fire(1)
	require.True(t, c.Connected())

	var serverConn *websocket.Conn
	select {
	case serverConn = <-srv.conns:
	case <-time.After(2 * time.Second):
		t.Fatal("no connection")
	}
	require.NoError(t, serverConn.NetConn().Close())
	require.Eventually(t, func() bool { return len(sched.Delays()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, DefaultInitialBackoff, sched.Delays()[2])
}

func TestStreamClassify(t *testing.T) {
	srv := newWSServer(t, true)
	srv.result.Store(`{"type":"detection_result","predicted_label":"police_siren_left","score":0.8,"is_critical":true}`)
	c, _ := newStream(t, srv.wsURL())
	require.NoError(t, c.Start(t.Context()))
	require.Eventually(t, c.Connected, 2*time.Second, 10*time.Millisecond)

	rec := &capture.Recording{Samples: make([]float32, 16000), SampleRate: 16000, StartedAt: time.Now()}
	r, err := c.Classify(t.Context(), rec, madrid)
	require.NoError(t, err)
	assert.Equal(t, "police_siren_left", r.Label)
	assert.True(t, r.IsCritical)

	srv.next(t) // config
	finals := 0
	for range 4 {
		meta := decodeMeta(t, srv.next(t))
		assert.Equal(t, int64(250), meta.FrameDurationMs)
		if meta.IsFinal {
			finals++
		}
		pcm := srv.next(t)
		assert.Len(t, pcm.data, 4000*2)
	}
	assert.Equal(t, 1, finals)
}

func TestStreamClassifyNullResult(t *testing.T) {
	srv := newWSServer(t, true)
	srv.result.Store(`{"type":"detection_result","predicted_label":"null"}`)
	c, _ := newStream(t, srv.wsURL())
	require.NoError(t, c.Start(t.Context()))
	require.Eventually(t, c.Connected, 2*time.Second, 10*time.Millisecond)

	r, err := c.Classify(t.Context(), &capture.Recording{Samples: []float32{0.1}, SampleRate: 16000}, madrid)
	require.NoError(t, err)
	assert.False(t, r.Actionable())
}

func TestStreamLateResultNotReturnedForNextCapture(t *testing.T) {
	srv := newWSServer(t, true)
	c, _ := newStream(t, srv.wsURL())
	c.cfg.ResultTimeout = 200 * time.Millisecond
	unsolicited := make(chan *Result, 2)
	c.OnResult(func(r *Result) { unsolicited <- r })
	require.NoError(t, c.Start(t.Context()))

	var serverConn *websocket.Conn
	select {
	case serverConn = <-srv.conns:
	case <-time.After(2 * time.Second):
		t.Fatal("no connection")
	}
	require.Eventually(t, c.Connected, 2*time.Second, 10*time.Millisecond)

	// first capture is frame 1 and gets no answer in time
	_, err := c.Classify(t.Context(), &capture.Recording{Samples: []float32{0.1}, SampleRate: 16000}, madrid)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryTimeout))

	type outcome struct {
		r   *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := c.Classify(t.Context(), &capture.Recording{Samples: []float32{0.1}, SampleRate: 16000}, madrid)
		done <- outcome{r, err}
	}()

	// config, then metadata and PCM for each capture
	for range 5 {
		srv.next(t)
	}
	require.NoError(t, serverConn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"detection_result","predicted_label":"siren_left","frame_id":1}`)))
	require.NoError(t, serverConn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"detection_result","predicted_label":"horn_rear","frame_id":2}`)))

	select {
	case o := <-done:
		require.NoError(t, o.err)
		assert.Equal(t, "horn_rear", o.r.Label)
	case <-time.After(2 * time.Second):
		t.Fatal("classify did not return")
	}
	assert.Empty(t, unsolicited, "stale result is dropped, not presented")
}

func TestStreamStopUnblocksClassify(t *testing.T) {
	srv := newWSServer(t, true)
	c, _ := newStream(t, srv.wsURL())
	require.NoError(t, c.Start(t.Context()))
	require.Eventually(t, c.Connected, 2*time.Second, 10*time.Millisecond)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Classify(t.Context(), &capture.Recording{Samples: []float32{0.1}, SampleRate: 16000}, madrid)
		errCh <- err
	}()

	// wait for the final frame to reach the server before stopping
	srv.next(t)
	srv.next(t)
	srv.next(t)
	require.NoError(t, c.Stop())

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrStreamStopped)
	case <-time.After(2 * time.Second):
		t.Fatal("classify did not return after stop")
	}
}

func TestStreamRejectsWhenStopped(t *testing.T) {
	c := NewStreamClient(StreamConfig{URL: "ws://127.0.0.1:1"}, logger.NewDiscard())
	_, err := c.Classify(t.Context(), &capture.Recording{Samples: []float32{0.1}, SampleRate: 16000}, madrid)
	require.ErrorIs(t, err, ErrStreamStopped)
	require.ErrorIs(t, c.SendFrame([]float32{0}, time.Now(), madrid, true), ErrStreamStopped)
}

func TestStreamUnsolicitedResultGoesToHandler(t *testing.T) {
	srv := newWSServer(t, true)
	c, _ := newStream(t, srv.wsURL())
	got := make(chan *Result, 1)
	c.OnResult(func(r *Result) { got <- r })
	require.NoError(t, c.Start(t.Context()))

	var serverConn *websocket.Conn
	select {
	case serverConn = <-srv.conns:
	case <-time.After(2 * time.Second):
		t.Fatal("no connection")
	}
	require.NoError(t, serverConn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"detection_result","predicted_label":"horn_rear"}`)))

	select {
	case r := <-got:
		assert.Equal(t, "horn_rear", r.Label)
	case <-time.After(2 * time.Second):
		t.Fatal("result not delivered")
	}
}

func TestStreamEndpoint(t *testing.T) {
	t.Parallel()

	u, err := streamEndpoint("wss://api.example.com", "a b")
	require.NoError(t, err)
	assert.Equal(t, "wss://api.example.com/ws/audio/?token=a+b", u)

	u, err = streamEndpoint("ws://localhost:8000/custom/", "")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8000/custom/", u)

	_, err = streamEndpoint("http://localhost", "")
	require.Error(t, err)
}

func TestFrameVolume(t *testing.T) {
	t.Parallel()
	assert.Zero(t, frameVolume(nil))
	assert.InDelta(t, 255.0, frameVolume([]float32{1, -1, 1}), 1e-9)
	assert.InDelta(t, 127.5, frameVolume([]float32{0.5, -0.5}), 1e-9)
}
