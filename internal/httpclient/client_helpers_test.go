package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
)

// newTestClient creates a Client pointed at baseURL and registers cleanup.
func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	client, err := New(&cfg)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

// newMockedClient creates a Client whose transport is replaced by httpmock.
func newMockedClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://backend.test"
	}
	client := newTestClient(t, cfg)
	httpmock.ActivateNonDefault(client.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return client
}

// newTestServer creates a test HTTP server and registers cleanup.
func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

// closeResponseBody closes a response body with error logging.
func closeResponseBody(t *testing.T, resp *http.Response) {
	t.Helper()
	if resp == nil || resp.Body == nil {
		return
	}
	if err := resp.Body.Close(); err != nil {
		t.Logf("failed to close response body: %v", err)
	}
}

// fakeTokens is a TokenSource that hands out a fixed token until refreshed.
type fakeTokens struct {
	mu        sync.Mutex
	token     string
	refreshed string
	refreshes int
	err       error
}

func (f *fakeTokens) Token(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, nil
}

func (f *fakeTokens) Refresh(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.err != nil {
		return "", f.err
	}
	f.token = f.refreshed
	return f.token, nil
}
