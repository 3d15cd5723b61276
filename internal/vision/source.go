package vision

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/leonidasmv10/safe-drive-app-sub000/internal/errors"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/httpclient"
)

// maxSnapshotBytes bounds one camera frame
const maxSnapshotBytes = 8 << 20

// Frame is one encoded camera image
type Frame struct {
	Data []byte
	MIME string
}

// Source produces camera frames on demand
type Source interface {
	Snapshot(ctx context.Context) (Frame, error)
}

// NewSource picks an HTTP snapshot source for http(s) URLs and a file source
// otherwise.
func NewSource(location string) (Source, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		// No TokenSource: the backend bearer token must never reach the camera.
		client, err := httpclient.New(&httpclient.Config{})
		if err != nil {
			return nil, err
		}
		return &HTTPSource{URL: location, Client: client}, nil
	}
	if location == "" {
		return nil, errors.Newf("vision source is empty").
			Component("vision").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return &FileSource{Path: location}, nil
}

// FileSource re-reads an image file that an external grabber keeps current
type FileSource struct {
	Path string
}

// Snapshot reads the file
func (f *FileSource) Snapshot(_ context.Context) (Frame, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return Frame{}, sourceError(err, f.Path)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxSnapshotBytes))
	if err != nil {
		return Frame{}, sourceError(err, f.Path)
	}
	return newFrame(data, "")
}

// HTTPSource fetches a still image from a camera snapshot endpoint
type HTTPSource struct {
	URL    string
	Client *httpclient.Client
}

// Snapshot downloads one frame
func (h *HTTPSource) Snapshot(ctx context.Context) (Frame, error) {
	resp, err := h.Client.Get(ctx, h.URL)
	if err != nil {
		return Frame{}, sourceError(err, h.URL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Frame{}, sourceError(&httpclient.StatusError{
			Method:     http.MethodGet,
			URL:        h.URL,
			StatusCode: resp.StatusCode,
		}, h.URL)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return Frame{}, sourceError(err, h.URL)
	}
	return newFrame(data, resp.Header.Get("Content-Type"))
}

func newFrame(data []byte, mime string) (Frame, error) {
	if len(data) == 0 {
		return Frame{}, ErrEmptyFrame
	}
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	mime = strings.TrimSpace(mime)
	if !strings.HasPrefix(mime, "image/") {
		mime = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mime, "image/") {
		return Frame{}, errors.Newf("snapshot is not an image: %s", mime).
			Component("vision").
			Category(errors.CategoryValidation).
			Build()
	}
	return Frame{Data: data, MIME: mime}, nil
}

func sourceError(err error, location string) error {
	return errors.New(err).
		Component("vision").
		Category(errors.CategoryVision).
		Context("source", location).
		Build()
}
