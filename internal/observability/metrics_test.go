package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leonidasmv10/safe-drive-app-sub000/internal/httpclient"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/observability/metrics"
)

func TestNewMetricsConcurrency(t *testing.T) {
	t.Parallel()
	const n = 20

	var wg sync.WaitGroup
	wg.Add(n)
	for range n {
		go func() {
			defer wg.Done()
			m, err := NewMetrics()
			assert.NoError(t, err)
			assert.NotNil(t, m)
		}()
	}
	wg.Wait()
}

func TestHandlerExposesCollectors(t *testing.T) {
	t.Parallel()
	m, err := NewMetrics()
	require.NoError(t, err)

	m.Pipeline.Volume.Set(42)
	m.Pipeline.SetGateState("armed", []string{"idle", "armed", "capturing", "classifying"})
	m.MQTT.UpdateConnectionStatus(true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "safedrive_audio_volume 42")
	assert.Contains(t, body, `safedrive_gate_state{state="armed"} 1`)
	assert.Contains(t, body, `safedrive_gate_state{state="idle"} 0`)
	assert.Contains(t, body, "safedrive_mqtt_connection_status 1")
}

func TestPipelineObserveClassification(t *testing.T) {
	t.Parallel()
	m, err := NewMetrics()
	require.NoError(t, err)

	m.Pipeline.ObserveClassification("audio", metrics.OutcomeDetection, 300*time.Millisecond)
	m.Pipeline.ObserveClassification("audio", metrics.OutcomeDetection, 0)
	m.Pipeline.ObserveClassification("vision", metrics.OutcomeError, 0)

	assert.InDelta(t, 2, testutil.ToFloat64(m.Pipeline.Classifications.WithLabelValues("audio", metrics.OutcomeDetection)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Pipeline.Classifications.WithLabelValues("vision", metrics.OutcomeError)), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.Pipeline.ClassificationDuration))
}

func TestMQTTObservePublish(t *testing.T) {
	t.Parallel()
	m, err := NewMetrics()
	require.NoError(t, err)

	m.MQTT.ObservePublish(10*time.Millisecond, 120, nil)
	m.MQTT.ObservePublish(10*time.Millisecond, 0, errors.New("timeout"))

	assert.InDelta(t, 1, testutil.ToFloat64(m.MQTT.MessagesDelivered), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.MQTT.Errors), 0)
}

func TestBackendInstrumentation(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	client, err := httpclient.New(&httpclient.Config{BaseURL: "https://backend.test"})
	require.NoError(t, err)
	httpmock.ActivateNonDefault(client.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	m.Backend.Instrument(client)

	httpmock.RegisterResponder(http.MethodGet, "https://backend.test/detection/audio_list/",
		httpmock.NewStringResponder(http.StatusOK, `[]`))
	httpmock.RegisterResponder(http.MethodGet, "https://backend.test/broken",
		httpmock.NewErrorResponder(errors.New("connection reset")))

	require.NoError(t, client.GetJSON(context.Background(), "/detection/audio_list/", new([]any)))
	_, err = client.Get(context.Background(), "/broken")
	require.Error(t, err)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	assert.Contains(t, text, `safedrive_backend_requests_total{method="GET",path="/detection/audio_list/",status="200"} 1`)
	assert.Contains(t, text, `safedrive_backend_transport_errors_total{method="GET",path="/broken"} 1`)
	assert.True(t, strings.Contains(text, "safedrive_backend_request_duration_seconds_count"))
}
