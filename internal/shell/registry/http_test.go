package registry

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHTTPRegistry_VersionExists(t *testing.T) {
	var requestedPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestedPath = r.URL.Path
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewHTTPRegistry(srv.URL+"/v2/app/manifests/${VERSION}", time.Second, testLogger())

	exists, err := r.Exists(context.Background(), "v1.2.3")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, "/v2/app/manifests/v1.2.3", requestedPath)
}

func TestHTTPRegistry_VersionNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r := NewHTTPRegistry(srv.URL+"/${VERSION}", time.Second, testLogger())

	exists, err := r.Exists(context.Background(), "v0.0.0")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestHTTPRegistry_UnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	r := NewHTTPRegistry(srv.URL+"/${VERSION}", time.Second, testLogger())

	_, err := r.Exists(context.Background(), "v1")
	assert.Error(t, err)
}

func TestHTTPRegistry_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	r := NewHTTPRegistry(srv.URL+"/${VERSION}", time.Second, testLogger())

	_, err := r.Exists(context.Background(), "v1")
	assert.Error(t, err)
}
