package tuf

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPFetcherFetchMetadataSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/metadata/root.json", r.URL.Path)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL+"/metadata", srv.URL+"/targets", 0, 5*time.Second)
	data, err := f.FetchMetadata(context.Background(), "root.json", 1024)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(data))
}

func TestHTTPFetcherFetchTargetUsesTargetsBaseURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/targets/app/bin", r.URL.Path)
		_, _ = w.Write([]byte("binary-data"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL+"/metadata", srv.URL+"/targets", 0, 5*time.Second)
	data, err := f.FetchTarget(context.Background(), "app/bin", 1024)
	require.NoError(t, err)
	assert.Equal(t, []byte("binary-data"), data)
}

func TestHTTPFetcherNon200StatusIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, srv.URL, 0, 5*time.Second)
	_, err := f.FetchMetadata(context.Background(), "root.json", 1024)
	require.Error(t, err)
	var netErr RepositoryNetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, http.StatusNotFound, netErr.StatusCode)
}

func TestHTTPFetcherEnforcesContentLengthCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, srv.URL, 0, 5*time.Second)
	_, err := f.FetchMetadata(context.Background(), "root.json", 5)
	require.Error(t, err)
	assert.IsType(t, FileSizeError{}, err)
}

func TestHTTPFetcherEnforcesCapWithoutContentLengthHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Flushing before the handler returns forces chunked transfer
		// encoding, so the client sees ContentLength == -1 and the length
		// cap must be enforced by the LimitReader alone, not the
		// ContentLength fast path.
		_, _ = w.Write([]byte("0123456789"))
		w.(http.Flusher).Flush()
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, srv.URL, 0, 5*time.Second)
	_, err := f.FetchMetadata(context.Background(), "root.json", 5)
	require.Error(t, err)
	assert.IsType(t, FileSizeError{}, err)
}

func TestJoinURLRejectsInvalidBase(t *testing.T) {
	_, err := joinURL("://bad-url", "root.json")
	assert.Error(t, err)
	assert.IsType(t, ConfigurationError{}, err)
}

func TestConsistentSnapshotFileName(t *testing.T) {
	assert.Equal(t, "3.root.json", consistentSnapshotFileName("root.json", 3))
	assert.Equal(t, "7.snapshot.json", consistentSnapshotFileName("snapshot.json", 7))
}

func TestHashPrefixedFileName(t *testing.T) {
	assert.Equal(t, "abcd.app.bin", hashPrefixedFileName("app.bin", "abcd"))
}

func TestHashPrefixedFileNamePreservesSubdirectory(t *testing.T) {
	assert.Equal(t, "bin/abcd.app", hashPrefixedFileName("bin/app", "abcd"))
	assert.Equal(t, "a/b/abcd.c.tar", hashPrefixedFileName("a/b/c.tar", "abcd"))
}
