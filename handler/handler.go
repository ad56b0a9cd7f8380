package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mediacache/rangeproxy"
	"github.com/mediacache/rangeproxy/chunkstore"
	"github.com/mediacache/rangeproxy/manager"
	"github.com/mediacache/rangeproxy/origin"
)

// defaultBackpressureChunks bounds how many origin read slices (up to 64 KiB
// each) may queue between the origin read and the store write, per spec
// §4.5 step 8.
const defaultBackpressureChunks = 4

// Recorder receives per-request observations for metrics export. It is
// satisfied structurally by server.Metrics without either package
// importing the other.
type Recorder interface {
	ObserveRequest(status int)
	ObserveCacheOutcome(outcome string)
	ObserveBytesServed(n int64)
}

type noopRecorder struct{}

func (noopRecorder) ObserveRequest(int)       {}
func (noopRecorder) ObserveCacheOutcome(string) {}
func (noopRecorder) ObserveBytesServed(int64) {}

// Handler is an http.Handler implementing the proxy's single route.
type Handler struct {
	manager *manager.Manager
	fetcher *origin.Fetcher
	log     *logrus.Logger
	metrics Recorder

	originTimeout time.Duration
	fillTimeout   time.Duration
}

// Option configures a Handler.
type Option func(*Handler)

// WithOriginTimeout bounds how long a probe or fetch may take to receive
// its first response from the origin.
func WithOriginTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.originTimeout = d
		}
	}
}

// WithFillTimeout bounds how long a background cache fill may continue
// after the client has disconnected.
func WithFillTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.fillTimeout = d
		}
	}
}

// WithRecorder attaches a metrics Recorder. Defaults to a no-op.
func WithRecorder(r Recorder) Option {
	return func(h *Handler) {
		if r != nil {
			h.metrics = r
		}
	}
}

// New builds a Handler.
func New(mgr *manager.Manager, fetcher *origin.Fetcher, log *logrus.Logger, opts ...Option) *Handler {
	if log == nil {
		log = logrus.New()
	}
	h := &Handler{
		manager:       mgr,
		fetcher:       fetcher,
		log:           log,
		metrics:       noopRecorder{},
		originTimeout: 30 * time.Second,
		fillTimeout:   60 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP implements the algorithm of spec §4.5.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		h.metrics.ObserveRequest(http.StatusMethodNotAllowed)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	url := r.URL.Query().Get("url")
	if url == "" {
		h.metrics.ObserveRequest(http.StatusBadRequest)
		http.Error(w, "missing url parameter", http.StatusBadRequest)
		return
	}

	store, release, err := h.manager.Acquire(r.Context(), url, h.probe)
	if err != nil {
		// Cache I/O failures (disk full, permission denied) are ours to
		// own and are reported as 500; origin/probe failures are 502
		// (spec.md §7).
		status := http.StatusBadGateway
		msg := "bad gateway"
		if errors.Is(err, manager.ErrCacheIO) {
			status = http.StatusInternalServerError
			msg = "internal error"
		}
		h.log.WithError(err).WithField("url", url).Warn("rangeproxy: acquire failed")
		h.metrics.ObserveRequest(status)
		http.Error(w, msg, status)
		return
	}
	defer release()

	totalSize := store.TotalSize()

	rng, status, err := planRange(r.Header.Get("Range"), totalSize)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", totalSize))
		h.metrics.ObserveRequest(http.StatusRequestedRangeNotSatisfiable)
		http.Error(w, "requested range not satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return
	}

	contentType := store.ContentType()
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", rng.Len()))
	if status == http.StatusPartialContent {
		w.Header().Set("Content-Range", rng.ContentRange(totalSize))
	}
	w.WriteHeader(status)
	h.metrics.ObserveRequest(status)

	if r.Method == http.MethodHead {
		return
	}

	cachedPrefix := store.CachedRangeSize(rng.Start, rng.End)
	outcome := "miss"
	switch {
	case cachedPrefix == rng.Len():
		outcome = "hit"
	case cachedPrefix > 0:
		outcome = "partial"
	}
	h.metrics.ObserveCacheOutcome(outcome)

	if err := h.stream(r.Context(), w, store, rng, cachedPrefix, url); err != nil {
		h.log.WithError(err).WithField("url", url).Warn("rangeproxy: request stream ended with error")
	}
	h.metrics.ObserveBytesServed(rng.Len())

	h.log.WithFields(logrus.Fields{
		"url":    url,
		"range":  fmt.Sprintf("%d-%d", rng.Start, rng.End),
		"status": status,
		"cache":  outcome,
		"bytes":  rng.Len(),
	}).Info("rangeproxy: request completed")
}

// probe adapts origin.Fetcher.Probe to the manager.ProbeFunc signature, and
// bounds it with the handler's configured origin timeout.
func (h *Handler) probe(ctx context.Context, url string) (int64, string, error) {
	ctx, cancel := context.WithTimeout(ctx, h.originTimeout)
	defer cancel()
	return h.fetcher.Probe(ctx, url)
}

// planRange parses an optional Range header against totalSize, returning
// the half-open range to serve and the HTTP status that should accompany
// it. An empty header plans a full-content 200 response.
func planRange(header string, totalSize int64) (rangeproxy.Range, int, error) {
	if header == "" {
		return rangeproxy.Range{Start: 0, End: totalSize}, http.StatusOK, nil
	}
	rng, err := rangeproxy.ParseRange(header, totalSize)
	if err != nil {
		return rangeproxy.Range{}, 0, err
	}
	return rng, http.StatusPartialContent, nil
}

// stream writes the planned range to w, serving the cached prefix directly
// from the store and, if the plan is not fully cached, fetching the
// remainder from the origin while teeing it into the store.
func (h *Handler) stream(ctx context.Context, w io.Writer, store *chunkstore.Store, rng rangeproxy.Range, cachedPrefix int64, url string) error {
	if cachedPrefix > 0 {
		rc, err := store.Read(rng.Start, rng.Start+cachedPrefix)
		if err != nil {
			return fmt.Errorf("handler: read cached prefix: %w", err)
		}
		_, err = io.Copy(w, rc)
		closeErr := rc.Close()
		if err != nil {
			return fmt.Errorf("handler: write cached prefix: %w", err)
		}
		if closeErr != nil {
			return fmt.Errorf("handler: close cached prefix reader: %w", closeErr)
		}
	}

	if cachedPrefix == rng.Len() {
		return nil
	}

	fetchStart := rng.Start + cachedPrefix
	fetchCtx, cancel := context.WithTimeout(context.Background(), h.originTimeout+h.fillTimeout)
	defer cancel()

	resp, err := h.fetcher.FetchRange(fetchCtx, url, fetchStart, rng.End)
	if err != nil {
		return fmt.Errorf("handler: fetch origin range: %w", err)
	}
	defer resp.Body.Close()

	return h.teeToClientAndStore(w, resp.Body, store, fetchStart)
}
