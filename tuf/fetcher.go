package tuf

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
)

// Fetcher retrieves one metadata or target file's bytes by path relative
// to a repository's metadata or targets base URL, enforcing maxLength and
// retrying transient failures with backoff rather than failing on the
// first error.
type Fetcher interface {
	FetchMetadata(ctx context.Context, fileName string, maxLength int64) ([]byte, error)
	FetchTarget(ctx context.Context, targetPath string, maxLength int64) ([]byte, error)
}

// HTTPFetcher fetches over HTTP(S) with retry and backoff, rooted at
// separate metadata and targets base URLs.
type HTTPFetcher struct {
	MetadataBaseURL string
	TargetsBaseURL  string

	client *retryablehttp.Client
}

// NewHTTPFetcher builds an HTTPFetcher whose retryablehttp.Client retries
// transient failures (5xx, connection errors) with exponential backoff,
// capped at maxRetries retries after the first attempt.
func NewHTTPFetcher(metadataBaseURL, targetsBaseURL string, maxRetries int, timeout time.Duration) *HTTPFetcher {
	c := retryablehttp.NewClient()
	c.RetryMax = maxRetries
	c.HTTPClient.Timeout = timeout
	c.Logger = nil
	return &HTTPFetcher{
		MetadataBaseURL: metadataBaseURL,
		TargetsBaseURL:  targetsBaseURL,
		client:          c,
	}
}

// SetTransport replaces the underlying HTTP client's transport, letting a
// caller install its own TLS configuration (client certs, custom root CA
// pool) while keeping this fetcher's retry and backoff policy.
func (f *HTTPFetcher) SetTransport(rt http.RoundTripper) {
	f.client.HTTPClient.Transport = rt
}

func (f *HTTPFetcher) FetchMetadata(ctx context.Context, fileName string, maxLength int64) ([]byte, error) {
	u, err := joinURL(f.MetadataBaseURL, fileName)
	if err != nil {
		return nil, err
	}
	return f.fetch(ctx, u, maxLength)
}

func (f *HTTPFetcher) FetchTarget(ctx context.Context, targetPath string, maxLength int64) ([]byte, error) {
	u, err := joinURL(f.TargetsBaseURL, targetPath)
	if err != nil {
		return nil, err
	}
	return f.fetch(ctx, u, maxLength)
}

func (f *HTTPFetcher) fetch(ctx context.Context, u string, maxLength int64) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, RepositoryNetworkError{URI: u, Msg: err.Error()}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, RepositoryNetworkError{URI: u, Msg: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, RepositoryNetworkError{URI: u, StatusCode: resp.StatusCode, Msg: resp.Status}
	}

	if resp.ContentLength > 0 && resp.ContentLength > maxLength {
		return nil, FileSizeError{URI: u, Max: maxLength, Actual: resp.ContentLength}
	}

	limited := io.LimitReader(resp.Body, maxLength+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, RepositoryNetworkError{URI: u, Msg: err.Error()}
	}
	if int64(len(data)) > maxLength {
		return nil, FileSizeError{URI: u, Max: maxLength, Actual: int64(len(data))}
	}
	return data, nil
}

func joinURL(base, elem string) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", ConfigurationError{Msg: fmt.Sprintf("invalid base URL %q: %s", base, err)}
	}
	parsed.Path = path.Join(parsed.Path, elem)
	return parsed.String(), nil
}

// consistentSnapshotFileName prefixes fileName with version, following the
// consistent-snapshot naming convention (e.g. "3.root.json",
// "7.snapshot.json", "2.targets.json"). Target artifacts under consistent
// snapshots use a hash-prefixed name instead (hashPrefixedFileName), derived
// from the file's own recorded digest rather than its version.
func consistentSnapshotFileName(fileName string, version int) string {
	ext := path.Ext(fileName)
	base := fileName[:len(fileName)-len(ext)]
	return fmt.Sprintf("%d.%s%s", version, base, ext)
}

// hashPrefixedFileName prefixes only the final path segment of fileName with
// hexDigest, leaving any directory components untouched, so a delegated
// target like "bin/app" becomes "bin/<hexdigest>.app" rather than having the
// digest prepended to the whole relative path.
func hashPrefixedFileName(fileName, hexDigest string) string {
	dir, name := path.Split(fileName)
	ext := path.Ext(name)
	base := name[:len(name)-len(ext)]
	return dir + fmt.Sprintf("%s.%s%s", hexDigest, base, ext)
}

var errNoHashAvailable = errors.New("no hash digest available for consistent snapshot target name")
