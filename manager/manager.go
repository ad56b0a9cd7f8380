package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/mediacache/rangeproxy"
	"github.com/mediacache/rangeproxy/chunkstore"
)

// ErrCacheIO wraps a failure to create or write to the on-disk cache store
// itself (directory creation, metadata persistence) as opposed to a
// failure talking to the origin. Callers use errors.Is against this to
// tell the two apart (spec.md §7: cache I/O -> 500, origin -> 502).
var ErrCacheIO = errors.New("manager: cache I/O error")

// ProbeFunc discovers a resource's total size and content type from its
// origin. It is supplied by callers (handler) so this package stays free
// of any HTTP dependency of its own.
type ProbeFunc func(ctx context.Context, url string) (totalSize int64, contentType string, err error)

type entry struct {
	store       *chunkstore.Store
	fingerprint string
	url         string

	mu         sync.Mutex
	refs       int
	lastAccess time.Time
}

// EvictionObserver receives a notification each time evictIfNeeded clears
// a store. Satisfied structurally by server.Metrics.
type EvictionObserver interface {
	ObserveEviction(freedBytes int64)
}

type noopEvictionObserver struct{}

func (noopEvictionObserver) ObserveEviction(int64) {}

// Manager is the registry of fingerprint -> chunkstore.Store, plus the LRU
// eviction policy that keeps total on-disk usage under maxTotalBytes.
type Manager struct {
	cacheRoot     string
	maxTotalBytes int64
	chunkSize     int64
	log           *logrus.Logger

	mu       sync.Mutex
	entries  map[string]*entry
	opens    singleflight.Group
	probes   singleflight.Group
	eviction EvictionObserver
}

// Option configures a Manager.
type Option func(*Manager)

// WithChunkSize sets the chunk size new stores are opened with. Stores
// rehydrated from an existing metadata.json keep whatever chunk size they
// were originally written with, regardless of this setting.
func WithChunkSize(size int64) Option {
	return func(m *Manager) {
		if size > 0 {
			m.chunkSize = size
		}
	}
}

// SetEvictionObserver attaches a metrics observer for eviction events.
func (m *Manager) SetEvictionObserver(o EvictionObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o != nil {
		m.eviction = o
	}
}

func (m *Manager) storeOptions() []chunkstore.Option {
	if m.chunkSize > 0 {
		return []chunkstore.Option{chunkstore.WithChunkSize(m.chunkSize)}
	}
	return nil
}

// New constructs a Manager rooted at cacheRoot and rehydrates any
// fingerprint directories already present on disk, seeding their
// last-access time from metadata.json's mtime so a freshly restarted
// process doesn't treat everything as equally stale.
func New(cacheRoot string, maxTotalBytes int64, log *logrus.Logger, opts ...Option) (*Manager, error) {
	if log == nil {
		log = logrus.New()
	}
	if err := os.MkdirAll(cacheRoot, 0o755); err != nil {
		return nil, fmt.Errorf("manager: create cache root: %w", err)
	}

	m := &Manager{
		cacheRoot:     cacheRoot,
		maxTotalBytes: maxTotalBytes,
		log:           log,
		entries:       make(map[string]*entry),
		eviction:      noopEvictionObserver{},
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := m.rehydrate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) rehydrate() error {
	dirs, err := os.ReadDir(m.cacheRoot)
	if err != nil {
		return fmt.Errorf("manager: scan cache root: %w", err)
	}
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		fingerprint := d.Name()
		metaPath := filepath.Join(m.cacheRoot, fingerprint, "metadata.json")
		info, err := os.Stat(metaPath)
		if err != nil {
			// No metadata.json means this isn't a store we recognize;
			// leave it alone rather than guessing.
			continue
		}

		store, err := chunkstore.Open(filepath.Join(m.cacheRoot, fingerprint), "", m.storeOptions()...)
		if err != nil {
			m.log.WithError(err).WithField("fingerprint", fingerprint).Warn("rangeproxy: skip unreadable cache entry on startup")
			continue
		}

		m.entries[fingerprint] = &entry{
			store:       store,
			fingerprint: fingerprint,
			url:         store.OriginURL(),
			lastAccess:  info.ModTime(),
		}
	}
	m.log.WithField("entries", len(m.entries)).Info("rangeproxy: cache rehydrated")
	return nil
}

// Acquire returns the Store for url, opening and registering it if this is
// the first request seen for that URL, and marks it in-use. Callers must
// call the returned release function exactly once when done with the
// store.
//
// The registry mutex only guards the entries map lookup/insert; opening a
// new store (directory creation, metadata load) runs outside it, coalesced
// per fingerprint via singleflight, so an Acquire for one URL never waits
// on filesystem I/O for an unrelated one.
//
// If the store's total size is not yet known, probe is invoked to learn it;
// concurrent Acquire calls for the same URL share a single probe via
// singleflight.
func (m *Manager) Acquire(ctx context.Context, url string, probe ProbeFunc) (*chunkstore.Store, func(), error) {
	fingerprint := rangeproxy.Fingerprint(url)

	e, err := m.lookupOrOpen(fingerprint, url)
	if err != nil {
		return nil, nil, err
	}

	e.mu.Lock()
	e.refs++
	e.lastAccess = time.Now()
	e.mu.Unlock()

	release := func() {
		e.mu.Lock()
		e.refs--
		e.lastAccess = time.Now()
		e.mu.Unlock()
		m.evictIfNeeded()
	}

	if e.store.TotalSize() > 0 {
		return e.store, release, nil
	}

	_, err, _ = m.probes.Do(fingerprint, func() (interface{}, error) {
		if e.store.TotalSize() > 0 {
			return nil, nil
		}
		size, contentType, err := probe(ctx, url)
		if err != nil {
			return nil, err
		}
		if err := e.store.SetMetadata(size, contentType); err != nil {
			return nil, fmt.Errorf("%w: persist metadata for %s: %v", ErrCacheIO, url, err)
		}
		return nil, nil
	})
	if err != nil {
		release()
		return nil, nil, err
	}

	return e.store, release, nil
}

// lookupOrOpen returns the registered entry for fingerprint, opening and
// registering a new one if none exists yet. Concurrent first-callers for
// the same fingerprint share a single chunkstore.Open via singleflight.
func (m *Manager) lookupOrOpen(fingerprint, url string) (*entry, error) {
	m.mu.Lock()
	e, ok := m.entries[fingerprint]
	m.mu.Unlock()
	if ok {
		return e, nil
	}

	v, err, _ := m.opens.Do(fingerprint, func() (interface{}, error) {
		m.mu.Lock()
		if existing, ok := m.entries[fingerprint]; ok {
			m.mu.Unlock()
			return existing, nil
		}
		m.mu.Unlock()

		store, err := chunkstore.Open(filepath.Join(m.cacheRoot, fingerprint), url, m.storeOptions()...)
		if err != nil {
			return nil, fmt.Errorf("%w: open store for %s: %v", ErrCacheIO, url, err)
		}
		newEntry := &entry{store: store, fingerprint: fingerprint, url: url}

		m.mu.Lock()
		if existing, ok := m.entries[fingerprint]; ok {
			m.mu.Unlock()
			return existing, nil
		}
		m.entries[fingerprint] = newEntry
		m.mu.Unlock()
		return newEntry, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*entry), nil
}

// evictIfNeeded removes whole stores, oldest-accessed first, until total
// on-disk usage is under maxTotalBytes. Stores currently in use (refs > 0)
// are never evicted. Called opportunistically after every release, not
// preemptively.
func (m *Manager) evictIfNeeded() {
	if m.maxTotalBytes <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var total int64
	candidates := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		total += e.store.Size()
		e.mu.Lock()
		inUse := e.refs > 0
		e.mu.Unlock()
		if !inUse {
			candidates = append(candidates, e)
		}
	}
	if total <= m.maxTotalBytes {
		return
	}

	sort.Slice(candidates, func(i, j int) bool {
		candidates[i].mu.Lock()
		ti := candidates[i].lastAccess
		candidates[i].mu.Unlock()
		candidates[j].mu.Lock()
		tj := candidates[j].lastAccess
		candidates[j].mu.Unlock()
		return ti.Before(tj)
	})

	for _, e := range candidates {
		if total <= m.maxTotalBytes {
			break
		}
		freed := e.store.Size()
		if err := e.store.Clear(); err != nil {
			m.log.WithError(err).WithField("fingerprint", e.fingerprint).Warn("rangeproxy: evict failed")
			continue
		}
		delete(m.entries, e.fingerprint)
		total -= freed
		m.eviction.ObserveEviction(freed)
		m.log.WithFields(logrus.Fields{
			"fingerprint": e.fingerprint,
			"url":         e.url,
			"freedBytes":  freed,
		}).Info("rangeproxy: evicted cache entry")
	}
}

// Len returns the number of registered fingerprints. Used by tests and
// metrics.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
