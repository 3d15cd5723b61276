package classifier

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"strconv"
	"time"

	"github.com/leonidasmv10/safe-drive-app-sub000/internal/capture"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/errors"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/geo"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/httpclient"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/logger"
)

// SoundPath is the batch classification endpoint
const SoundPath = "/models_ai/detection-critical-sound/"

// BatchClient uploads each capture as multipart form data.
type BatchClient struct {
	client *httpclient.Client
	path   string
	log    logger.Logger
	now    func() time.Time
}

// NewBatchClient creates a BatchClient using an authenticated client.
func NewBatchClient(client *httpclient.Client, log logger.Logger) *BatchClient {
	if log == nil {
		log = logger.Global().Module("classifier")
	}
	return &BatchClient{client: client, path: SoundPath, log: log, now: time.Now}
}

// Classify uploads rec with the capture position and returns the backend's
// verdict. Errors are not retried; the caller drops the clip.
func (b *BatchClient) Classify(ctx context.Context, rec *capture.Recording, pos geo.Position) (*Result, error) {
	if rec == nil || len(rec.Samples) == 0 {
		return nil, capture.ErrEmptyCapture
	}

	wav, err := rec.WAV()
	if err != nil {
		return nil, classificationError(err, "encode_wav").Build()
	}

	body, contentType, err := multipartBody(wav, pos)
	if err != nil {
		return nil, classificationError(err, "build_multipart").Build()
	}

	start := b.now()
	resp, err := b.client.Post(ctx, b.path, contentType, body)
	if err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryNetwork).
			Context("operation", "upload_capture").
			Context("mode", "batch").
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, classificationError(err, "read_response").Build()
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Newf("classification request failed with status %d", resp.StatusCode).
			Component("classifier").
			Category(errors.CategoryHTTP).
			Context("status_code", resp.StatusCode).
			Context("mode", "batch").
			Build()
	}

	result, err := decodeResult(data, b.now())
	if err != nil {
		return nil, classificationError(err, "decode_response").Build()
	}
	if result.ProcessingTimeMs == 0 {
		result.ProcessingTimeMs = float64(b.now().Sub(start).Milliseconds())
	}

	b.log.Debug("batch classification finished",
		logger.String("label", result.Label),
		logger.Float64("score", result.Score),
		logger.Bool("critical", result.IsCritical),
		logger.Duration("audio", rec.Duration))
	return result, nil
}

// multipartBody builds the audio/latitude/longitude form. The returned buffer
// lets the HTTP client replay the body after a token refresh.
func multipartBody(wav []byte, pos geo.Position) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)

	part, err := mw.CreateFormFile("audio", "recording.wav")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(wav); err != nil {
		return nil, "", err
	}
	if err := mw.WriteField("latitude", strconv.FormatFloat(pos.Latitude, 'f', -1, 64)); err != nil {
		return nil, "", err
	}
	if err := mw.WriteField("longitude", strconv.FormatFloat(pos.Longitude, 'f', -1, 64)); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf, mw.FormDataContentType(), nil
}

func classificationError(err error, operation string) *errors.ErrorBuilder {
	return errors.New(err).
		Component("classifier").
		Category(errors.CategoryClassification).
		Context("operation", operation)
}

var _ Classifier = (*BatchClient)(nil)
