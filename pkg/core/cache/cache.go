// Package cache is the read-through content cache shared by the
// search, fetch and directory layers. Entries are addressed by a
// sha256 fingerprint of namespace plus canonical parameters, bounded
// in memory by total bytes with LRU eviction, optionally mirrored to
// disk, and concurrent misses for one fingerprint coalesce into a
// single origin fetch (golang.org/x/sync/singleflight).
package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"dart_deepsearch/pkg/models"
)

// Cache namespaces. Fingerprints never collide across namespaces.
const (
	NamespaceSearch    = "search"
	NamespaceDocument  = "document"
	NamespaceArchive   = "archive"
	NamespaceDirectory = "directory"
)

// Default TTLs. The directory moves slowly; everything else is a
// one-day snapshot of a mostly append-only corpus.
const (
	DefaultTTL   = 24 * time.Hour
	DirectoryTTL = 7 * 24 * time.Hour

	DefaultMaxBytes = 512 << 20
)

// Fingerprint derives the cache key: sha256 over the namespace and the
// canonical (sorted k=v) parameter encoding.
func Fingerprint(namespace string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(namespace)
	for _, k := range keys {
		sb.WriteString("|")
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(params[k])
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

type entry struct {
	key      string
	value    []byte
	storedAt time.Time
	ttl      time.Duration
	elem     *list.Element
}

func (e *entry) fresh(now time.Time) bool {
	return now.Sub(e.storedAt) < e.ttl
}

// Stats is a point-in-time counter snapshot.
type Stats struct {
	Hits    int64
	Misses  int64
	Entries int
	Bytes   int64
}

func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Store is the process-wide cache instance.
type Store struct {
	mu         sync.Mutex
	entries    map[string]*entry
	lru        *list.List // front = most recently used
	totalBytes int64
	maxBytes   int64

	dir      string // disk tier root; "" disables the tier
	group    singleflight.Group
	diskTTLs sync.Map // fingerprint -> time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

// New builds a Store bounded to maxBytes of cached values. dir, when
// non-empty, enables a disk tier under two-character fingerprint
// shards so restarts keep warm data.
func New(maxBytes int64, dir string) *Store {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			fmt.Printf("[CACHE] disk tier disabled: %v\n", err)
			dir = ""
		}
	}
	return &Store{
		entries:  make(map[string]*entry),
		lru:      list.New(),
		maxBytes: maxBytes,
		dir:      dir,
	}
}

// GetOrFetch returns the cached value for (namespace, params) or runs
// fetch exactly once per fingerprint to fill it. The bool reports a
// cache hit. Fetch errors are returned to every coalesced waiter and
// never cached.
func (s *Store) GetOrFetch(ctx context.Context, namespace string, params map[string]string, ttl time.Duration, fetch func(context.Context) ([]byte, error)) ([]byte, bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	fp := Fingerprint(namespace, params)

	if value, ok := s.lookup(fp); ok {
		s.hits.Add(1)
		return value, true, nil
	}
	s.misses.Add(1)

	for attempt := 0; ; attempt++ {
		ch := s.group.DoChan(fp, func() (interface{}, error) {
			// Double check: a racing fetch may have published while
			// this caller queued.
			if value, ok := s.lookup(fp); ok {
				return value, nil
			}
			value, err := fetch(ctx)
			if err != nil {
				return nil, err
			}
			s.put(fp, value, ttl)
			return value, nil
		})

		select {
		case <-ctx.Done():
			return nil, false, models.NewPipelineError(models.KindCancelled, "cache", "wait cancelled", ctx.Err())
		case res := <-ch:
			if res.Err != nil {
				// A waiter that shared a cancelled leader's fetch may
				// retry once with its own live context.
				if attempt == 0 && res.Shared && models.KindOf(res.Err) == models.KindCancelled && ctx.Err() == nil {
					s.group.Forget(fp)
					continue
				}
				return nil, false, res.Err
			}
			return res.Val.([]byte), false, nil
		}
	}
}

// Invalidate drops one fingerprint from both tiers.
func (s *Store) Invalidate(namespace string, params map[string]string) {
	fp := Fingerprint(namespace, params)

	s.mu.Lock()
	if e, ok := s.entries[fp]; ok {
		s.removeLocked(e)
	}
	s.mu.Unlock()

	if s.dir != "" {
		os.Remove(s.diskPath(fp))
	}
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Entries: len(s.entries),
		Bytes:   s.totalBytes,
	}
}

// lookup checks memory first, then the disk tier. Disk hits are
// promoted back into memory.
func (s *Store) lookup(fp string) ([]byte, bool) {
	now := time.Now()

	s.mu.Lock()
	if e, ok := s.entries[fp]; ok {
		if e.fresh(now) {
			s.lru.MoveToFront(e.elem)
			value := e.value
			s.mu.Unlock()
			return value, true
		}
		s.removeLocked(e)
	}
	s.mu.Unlock()

	if s.dir == "" {
		return nil, false
	}
	path := s.diskPath(fp)
	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	// Disk freshness rides on the file modification time.
	ttl := s.diskTTL(fp)
	if now.Sub(info.ModTime()) >= ttl {
		os.Remove(path)
		return nil, false
	}
	value, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	s.putMemory(fp, value, ttl)
	return value, true
}

// put publishes a fetched value to both tiers.
func (s *Store) put(fp string, value []byte, ttl time.Duration) {
	s.putMemory(fp, value, ttl)

	if s.dir == "" {
		return
	}
	path := s.diskPath(fp)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return
	}
	if err := os.WriteFile(path, value, 0644); err != nil {
		fmt.Printf("[CACHE] disk write failed for %s: %v\n", fp[:8], err)
		return
	}
	s.rememberTTL(fp, ttl)
}

func (s *Store) putMemory(fp string, value []byte, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[fp]; ok {
		s.removeLocked(old)
	}

	e := &entry{key: fp, value: value, storedAt: time.Now(), ttl: ttl}
	e.elem = s.lru.PushFront(e)
	s.entries[fp] = e
	s.totalBytes += int64(len(value))

	// Evict from the cold end until the byte bound holds. A single
	// value larger than the bound is kept alone rather than rejected.
	for s.totalBytes > s.maxBytes && s.lru.Len() > 1 {
		back := s.lru.Back()
		if back == nil {
			break
		}
		s.removeLocked(back.Value.(*entry))
	}
}

func (s *Store) removeLocked(e *entry) {
	s.lru.Remove(e.elem)
	delete(s.entries, e.key)
	s.totalBytes -= int64(len(e.value))
}

func (s *Store) diskPath(fp string) string {
	return filepath.Join(s.dir, fp[:2], fp)
}

// Disk TTLs are tracked per fingerprint in a sidecar map rather than
// encoded into files. Lost on restart, in which case DefaultTTL
// applies, which only ever shortens directory reuse.
func (s *Store) rememberTTL(fp string, ttl time.Duration) {
	s.diskTTLs.Store(fp, ttl)
}

func (s *Store) diskTTL(fp string) time.Duration {
	if v, ok := s.diskTTLs.Load(fp); ok {
		return v.(time.Duration)
	}
	return DefaultTTL
}
