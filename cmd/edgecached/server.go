package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/edgecache/edgecache/internal/cache"
	"github.com/edgecache/edgecache/internal/metrics"
	"github.com/edgecache/edgecache/internal/origin"
	"github.com/edgecache/edgecache/pkg/cachekey"
	cacheerrors "github.com/edgecache/edgecache/pkg/errors"
)

// server maps HTTP requests onto cache operations. GET and HEAD serve
// objects, DELETE invalidates a cached copy. The request path is the object
// path within the configured origin bucket.
type server struct {
	engine    *cache.Cache
	fetcher   origin.Fetcher
	collector *metrics.Collector
	bucket    string
	logger    *slog.Logger
}

func newServer(engine *cache.Cache, fetcher origin.Fetcher, collector *metrics.Collector, bucket string, logger *slog.Logger) *server {
	return &server{
		engine:    engine,
		fetcher:   fetcher,
		collector: collector,
		bucket:    bucket,
		logger:    logger.With("component", "server"),
	}
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	if path == "" {
		http.Error(w, "object path required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		s.handleGet(w, r, path)
	case http.MethodDelete:
		s.handleDelete(w, r, path)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *server) handleGet(w http.ResponseWriter, r *http.Request, path string) {
	rng, ok := parseRangeHeader(r.Header.Get("Range"))
	if !ok {
		http.Error(w, "unsupported Range header", http.StatusRequestedRangeNotSatisfiable)
		return
	}

	key := cachekey.New(s.bucket, path, "")

	fetch := func(ctx context.Context) (io.ReadCloser, string, error) {
		start := time.Now()
		body, _, variant, err := s.fetcher.Fetch(ctx, s.bucket, path, nil)
		s.collector.ObserveFetch(time.Since(start), err)
		return body, variant, err
	}

	body, size, err := s.engine.GetOrFetch(r.Context(), key, rng, fetch)
	if err != nil {
		s.writeError(w, r, path, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("Accept-Ranges", "bytes")
	if rng != (cache.ByteRange{}) {
		w.WriteHeader(http.StatusPartialContent)
	}
	if r.Method == http.MethodHead {
		return
	}

	if _, err := io.Copy(w, body); err != nil {
		// Response already committed; only log.
		s.logger.Warn("streaming response failed", "path", path, "error", err)
	}
}

func (s *server) handleDelete(w http.ResponseWriter, r *http.Request, path string) {
	key := cachekey.New(s.bucket, path, "")
	if err := s.engine.Invalidate(r.Context(), key); err != nil {
		s.writeError(w, r, path, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, path string, err error) {
	switch {
	case cacheerrors.IsNotFound(err):
		http.Error(w, "object not found", http.StatusNotFound)
	case cacheerrors.GetCode(err) == cacheerrors.ErrCodeOperationCanceled:
		// Client went away; nothing useful to write.
	case cacheerrors.IsCapacityExceeded(err):
		s.logger.Error("cache refused object", "path", path, "error", err)
		http.Error(w, "object too large for cache", http.StatusInsufficientStorage)
	default:
		s.logger.Error("request failed", "method", r.Method, "path", path, "error", err)
		http.Error(w, "internal error", http.StatusBadGateway)
	}
}

// parseRangeHeader parses a single-range "bytes=start-end" header into a
// cache ByteRange. The zero ByteRange means the whole object. Multi-range
// and suffix-range requests are not supported.
func parseRangeHeader(header string) (cache.ByteRange, bool) {
	if header == "" {
		return cache.ByteRange{}, true
	}
	spec, found := strings.CutPrefix(header, "bytes=")
	if !found || strings.Contains(spec, ",") {
		return cache.ByteRange{}, false
	}
	startStr, endStr, found := strings.Cut(spec, "-")
	if !found || startStr == "" {
		return cache.ByteRange{}, false
	}
	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return cache.ByteRange{}, false
	}
	if endStr == "" {
		return cache.ByteRange{Offset: start}, true
	}
	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return cache.ByteRange{}, false
	}
	return cache.ByteRange{Offset: start, Length: end - start + 1}, true
}
