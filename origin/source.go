package origin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// ErrRangeNotSupported is returned when the origin answers a ranged request
// with 200 OK instead of 206 Partial Content, meaning it does not honor
// Range headers at all.
var ErrRangeNotSupported = errors.New("origin: range requests not supported")

// Fetcher issues ranged GETs against origin URLs.
type Fetcher struct {
	client  *http.Client
	headers http.Header
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient overrides the HTTP client used for requests.
func WithClient(client *http.Client) Option {
	return func(f *Fetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithHeader sets a header sent on every request (e.g. a User-Agent).
func WithHeader(key, value string) Option {
	return func(f *Fetcher) {
		if f.headers == nil {
			f.headers = make(http.Header)
		}
		f.headers.Set(key, value)
	}
}

// New creates a Fetcher. The zero-value *http.Client (http.DefaultClient) is
// used unless overridden with WithClient.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{client: http.DefaultClient}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Probe discovers a resource's total size and content type with a minimal
// Range: bytes=0-0 request, mirroring the teacher's rangeProbe. It does not
// download the resource.
func (f *Fetcher) Probe(ctx context.Context, url string) (totalSize int64, contentType string, err error) {
	req, err := f.newRequest(ctx, url)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("origin: probe %s: %w", url, err)
	}
	defer drain(resp.Body)

	switch resp.StatusCode {
	case http.StatusPartialContent:
		size, err := parseContentRangeSize(resp.Header.Get("Content-Range"))
		if err != nil {
			return 0, "", err
		}
		return size, resp.Header.Get("Content-Type"), nil
	case http.StatusOK:
		return 0, "", ErrRangeNotSupported
	default:
		return 0, "", fmt.Errorf("origin: probe %s: %s", url, resp.Status)
	}
}

// RangeResponse is the result of a successful FetchRange call. Body must be
// closed by the caller.
type RangeResponse struct {
	ContentType string
	TotalSize   int64
	Body        io.ReadCloser
}

// FetchRange issues a GET for the half-open byte range [start, end) and
// returns a live stream of exactly end-start bytes, plus whatever the
// origin reports as the resource's total size via Content-Range.
func (f *Fetcher) FetchRange(ctx context.Context, url string, start, end int64) (*RangeResponse, error) {
	if end <= start {
		return nil, fmt.Errorf("origin: invalid range [%d,%d)", start, end)
	}

	req, err := f.newRequest(ctx, url)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end-1))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("origin: fetch %s: %w", url, err)
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		size, err := parseContentRangeSize(resp.Header.Get("Content-Range"))
		if err != nil {
			drain(resp.Body)
			return nil, err
		}
		return &RangeResponse{
			ContentType: resp.Header.Get("Content-Type"),
			TotalSize:   size,
			Body:        resp.Body,
		}, nil
	case http.StatusOK:
		drain(resp.Body)
		return nil, ErrRangeNotSupported
	case http.StatusRequestedRangeNotSatisfiable:
		drain(resp.Body)
		return nil, io.EOF
	default:
		drain(resp.Body)
		return nil, fmt.Errorf("origin: fetch %s: %s", url, resp.Status)
	}
}

func (f *Fetcher) newRequest(ctx context.Context, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("origin: build request: %w", err)
	}
	for key, values := range f.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "identity")
	}
	return req, nil
}

// drain discards and closes a response body so the underlying connection
// can be reused.
func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body) //nolint:errcheck // best-effort drain for connection reuse
	_ = body.Close()
}

// parseContentRangeSize extracts the total size from a "bytes A-B/SIZE"
// Content-Range header value.
func parseContentRangeSize(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "bytes ") {
		return 0, fmt.Errorf("origin: invalid Content-Range %q", value)
	}
	parts := strings.SplitN(strings.TrimPrefix(value, "bytes "), "/", 2)
	if len(parts) != 2 || parts[1] == "*" {
		return 0, fmt.Errorf("origin: invalid Content-Range %q", value)
	}
	size, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("origin: invalid Content-Range %q", value)
	}
	return size, nil
}
