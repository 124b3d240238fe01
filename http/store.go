// Package http provides a farfs.Store backed by HTTP range requests.
//
// The remote object is probed once when the store is created. Every later
// read is pinned to the validators seen by the probe (ETag and
// Last-Modified), so a remote that changes underneath an open archive fails
// reads with ErrChanged instead of serving mixed content.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	nethttp "net/http"
	"strconv"
	"strings"

	"github.com/meigma/far/farfs"
)

// Sentinel errors.
var (
	// ErrRangeUnsupported is returned when the server ignores Range headers.
	ErrRangeUnsupported = errors.New("http: range requests not supported")

	// ErrChanged is returned when the remote object no longer matches the
	// validators recorded at probe time.
	ErrChanged = errors.New("http: remote content changed")
)

// Store implements random access reads via HTTP range requests.
// It satisfies farfs.Store and is safe for concurrent use.
type Store struct {
	url          string
	client       *nethttp.Client
	headers      nethttp.Header
	size         int64
	etag         string
	lastModified string
	logger       *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(s *Store) {
		s.client = client
	}
}

// WithHeaders sets additional headers on each request.
func WithHeaders(headers nethttp.Header) Option {
	return func(s *Store) {
		if headers == nil {
			return
		}
		s.headers = headers.Clone()
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(s *Store) {
		if s.headers == nil {
			s.headers = make(nethttp.Header)
		}
		s.headers.Set(key, value)
	}
}

// WithLogger sets the logger for request tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates a Store for url and probes the remote for its size.
func NewStore(ctx context.Context, url string, opts ...Option) (*Store, error) {
	s := &Store{
		url:    url,
		client: nethttp.DefaultClient,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = nethttp.DefaultClient
	}

	if err := s.probe(ctx); err != nil {
		return nil, fmt.Errorf("http: probe %s: %w", url, err)
	}
	s.log().Debug("remote archive probed", "url", url, "size", s.size, "etag", s.etag)
	return s, nil
}

// log returns the logger, falling back to a discard logger if nil.
func (s *Store) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

// Size returns the total size of the remote content.
func (s *Store) Size() int64 {
	return s.size
}

// Name returns the URL of the remote content.
func (s *Store) Name() string {
	return s.url
}

// ReadAt reads len(p) bytes at off with a single range request.
// Reads reaching past the end return the available bytes and io.EOF.
func (s *Store) ReadAt(p []byte, off int64) (int, error) {
	return s.ReadAtContext(context.Background(), p, off)
}

// ReadAtContext is ReadAt with a context for the request.
func (s *Store) ReadAtContext(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("http: read at %d: negative offset", off)
	}
	if off >= s.size {
		return 0, io.EOF
	}

	expected := len(p)
	if remaining := s.size - off; int64(expected) > remaining {
		expected = int(remaining)
	}
	end := off + int64(expected) - 1

	resp, err := s.get(ctx, fmt.Sprintf("bytes=%d-%d", off, end))
	if err != nil {
		return 0, err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
	case nethttp.StatusRequestedRangeNotSatisfiable:
		return 0, io.EOF
	case nethttp.StatusPreconditionFailed:
		return 0, ErrChanged
	case nethttp.StatusOK:
		return 0, ErrRangeUnsupported
	default:
		return 0, fmt.Errorf("http: range request failed: %s", resp.Status)
	}

	n, err := io.ReadFull(resp.Body, p[:expected])
	s.log().Debug("range read", "offset", off, "length", expected, "read", n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return n, err
	}
	if expected < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// probe records size and validators. A HEAD request is tried first; the
// range probe is authoritative.
func (s *Store) probe(ctx context.Context) error {
	headSize := int64(-1)
	if resp, err := s.do(ctx, nethttp.MethodHead, ""); err == nil {
		if resp.StatusCode == nethttp.StatusOK {
			headSize = resp.ContentLength
			s.etag = resp.Header.Get("ETag")
			s.lastModified = resp.Header.Get("Last-Modified")
		}
		drain(resp)
	}

	// Validators from HEAD are not sent with the probe itself.
	etag, lastModified := s.etag, s.lastModified
	s.etag, s.lastModified = "", ""

	resp, err := s.get(ctx, "bytes=0-0")
	if err != nil {
		return err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
	case nethttp.StatusOK:
		return ErrRangeUnsupported
	default:
		return fmt.Errorf("range probe failed: %s", resp.Status)
	}

	crange := resp.Header.Get("Content-Range")
	if crange == "" {
		return errors.New("range probe missing Content-Range")
	}
	size, err := parseContentRange(crange)
	if err != nil {
		return err
	}
	if headSize > 0 && headSize != size {
		return fmt.Errorf("content size mismatch: head=%d range=%d", headSize, size)
	}

	if etag == "" {
		etag = resp.Header.Get("ETag")
	}
	if lastModified == "" {
		lastModified = resp.Header.Get("Last-Modified")
	}
	s.size = size
	s.etag = etag
	s.lastModified = lastModified
	return nil
}

func (s *Store) get(ctx context.Context, byteRange string) (*nethttp.Response, error) {
	return s.do(ctx, nethttp.MethodGet, byteRange)
}

func (s *Store) do(ctx context.Context, method, byteRange string) (*nethttp.Response, error) {
	req, err := nethttp.NewRequestWithContext(ctx, method, s.url, nil)
	if err != nil {
		return nil, err
	}
	for key, values := range s.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "identity")
	}
	if method == nethttp.MethodGet {
		req.Header.Set("Range", byteRange)
		if s.etag != "" && req.Header.Get("If-Match") == "" {
			req.Header.Set("If-Match", s.etag)
		}
		if s.lastModified != "" && req.Header.Get("If-Unmodified-Since") == "" {
			req.Header.Set("If-Unmodified-Since", s.lastModified)
		}
	}
	return s.client.Do(req)
}

// drain discards the rest of the body so the connection can be reused.
func drain(resp *nethttp.Response) {
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // best-effort drain
	_ = resp.Body.Close()                 //nolint:errcheck // best-effort close
}

// parseContentRange returns the complete length from a Content-Range
// header of the form "bytes first-last/length".
func parseContentRange(value string) (int64, error) {
	value = strings.TrimSpace(value)
	rest, ok := strings.CutPrefix(value, "bytes ")
	if !ok {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	_, total, ok := strings.Cut(rest, "/")
	if !ok || total == "*" {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	size, err := strconv.ParseInt(total, 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	return size, nil
}

// Interface compliance.
var _ farfs.Store = (*Store)(nil)
