package classifier

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leonidasmv10/safe-drive-app-sub000/internal/capture"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/errors"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/geo"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/httpclient"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/logger"
)

const soundURL = "https://backend.test/models_ai/detection-critical-sound/"

func newBatch(t *testing.T) *BatchClient {
	t.Helper()
	client, err := httpclient.New(&httpclient.Config{
		BaseURL: "https://backend.test",
		Tokens:  tokenSource{token: "secret"},
	})
	require.NoError(t, err)
	httpmock.ActivateNonDefault(client.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return NewBatchClient(client, logger.NewDiscard())
}

func testRecording() *capture.Recording {
	samples := make([]float32, 1600)
	for i := range samples {
		samples[i] = 0.25
	}
	return &capture.Recording{
		Samples:    samples,
		SampleRate: 16000,
		StartedAt:  time.Now(),
		Duration:   100 * time.Millisecond,
	}
}

func TestBatchUploadsMultipart(t *testing.T) {
	b := newBatch(t)
	pos := geo.Position{Latitude: 40.4168, Longitude: -3.7038}

	httpmock.RegisterResponder(http.MethodPost, soundURL, func(req *http.Request) (*http.Response, error) {
		if req.Header.Get("Authorization") != "Bearer secret" {
			return httpmock.NewStringResponse(http.StatusUnauthorized, ""), nil
		}
		if !strings.HasPrefix(req.Header.Get("Content-Type"), "multipart/form-data") {
			return httpmock.NewStringResponse(http.StatusBadRequest, "not multipart"), nil
		}
		if err := req.ParseMultipartForm(1 << 20); err != nil {
			return httpmock.NewStringResponse(http.StatusBadRequest, err.Error()), nil
		}
		if req.FormValue("latitude") != "40.4168" || req.FormValue("longitude") != "-3.7038" {
			return httpmock.NewStringResponse(http.StatusBadRequest, "bad position"), nil
		}
		file, header, err := req.FormFile("audio")
		if err != nil {
			return httpmock.NewStringResponse(http.StatusBadRequest, "no audio"), nil
		}
		defer file.Close()
		magic := make([]byte, 4)
		if _, err := file.Read(magic); err != nil || string(magic) != "RIFF" || header.Filename != "recording.wav" {
			return httpmock.NewStringResponse(http.StatusBadRequest, "not wav"), nil
		}
		return httpmock.NewStringResponse(http.StatusOK,
			`{"predicted_label":"ambulance_siren","score":0.88,"is_critical":true}`), nil
	})

	r, err := b.Classify(t.Context(), testRecording(), pos)
	require.NoError(t, err)
	assert.True(t, r.Actionable())
	assert.Equal(t, "ambulance_siren", r.Label)
	assert.True(t, r.IsCritical)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestBatchNullLabel(t *testing.T) {
	b := newBatch(t)
	httpmock.RegisterResponder(http.MethodPost, soundURL,
		httpmock.NewStringResponder(http.StatusOK, `{"predicted_label":"null"}`))

	r, err := b.Classify(t.Context(), testRecording(), geo.Position{Latitude: 1, Longitude: 1})
	require.NoError(t, err)
	assert.False(t, r.Actionable())
}

func TestBatchServerErrorIsNotRetried(t *testing.T) {
	b := newBatch(t)
	httpmock.RegisterResponder(http.MethodPost, soundURL,
		httpmock.NewStringResponder(http.StatusInternalServerError, "boom"))

	_, err := b.Classify(t.Context(), testRecording(), geo.Position{Latitude: 1, Longitude: 1})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryHTTP))
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestBatchTransportError(t *testing.T) {
	b := newBatch(t)
	httpmock.RegisterResponder(http.MethodPost, soundURL,
		httpmock.NewErrorResponder(errors.NewStd("connection reset")))

	_, err := b.Classify(t.Context(), testRecording(), geo.Position{Latitude: 1, Longitude: 1})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))
}

func TestBatchEmptyCaptureMakesNoCall(t *testing.T) {
	b := newBatch(t)
	_, err := b.Classify(t.Context(), &capture.Recording{SampleRate: 16000}, geo.Position{Latitude: 1, Longitude: 1})
	require.ErrorIs(t, err, capture.ErrEmptyCapture)
	assert.Zero(t, httpmock.GetTotalCallCount())
}
