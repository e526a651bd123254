package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/avolkov/tutti/internal/domain"
	bolt "go.etcd.io/bbolt"
)

// Bucket names
var (
	bucketLibrary = []byte("library")
	bucketDetails = []byte("details")
	bucketAssets  = []byte("assets")
	bucketState   = []byte("state")
	bucketSources = []byte("sources")
)

var allBuckets = [][]byte{bucketLibrary, bucketDetails, bucketAssets, bucketState, bucketSources}

// Store is the typed cache for synchronized collections, backed by
// BoltDB. The pipeline is the sole writer for library-wide keys; UI and
// other subsystems read only. Staleness is resolved by re-running the
// pipeline, never by TTL.
type Store struct {
	db *bolt.DB
	mu sync.RWMutex // Protects memory cache

	// In-memory cache for hot-path reads (promoted on access)
	cache map[string][]byte
}

// New opens the store under dir. An empty dir yields a memory-only
// store with no persistence.
func New(dir string) (*Store, error) {
	if dir == "" {
		return &Store{cache: make(map[string][]byte)}, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dir, "tutti.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, cache: make(map[string][]byte)}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// === Generic helpers ===

func (s *Store) getRaw(bucket []byte, key string) ([]byte, bool) {
	cacheKey := string(bucket) + ":" + key

	// Check memory cache first
	s.mu.RLock()
	if data, ok := s.cache[cacheKey]; ok {
		s.mu.RUnlock()
		return data, true
	}
	s.mu.RUnlock()

	if s.db == nil {
		return nil, false
	}

	var data []byte
	s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})

	if data == nil {
		return nil, false
	}

	// Promote to memory cache
	s.mu.Lock()
	s.cache[cacheKey] = data
	s.mu.Unlock()

	return data, true
}

func (s *Store) setRaw(bucket []byte, key string, data []byte) error {
	cacheKey := string(bucket) + ":" + key

	s.mu.Lock()
	s.cache[cacheKey] = data
	s.mu.Unlock()

	if s.db == nil {
		return nil // Memory-only mode
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		return b.Put([]byte(key), data)
	})
}

func (s *Store) deleteRaw(bucket []byte, key string) {
	cacheKey := string(bucket) + ":" + key

	s.mu.Lock()
	delete(s.cache, cacheKey)
	s.mu.Unlock()

	if s.db == nil {
		return
	}

	s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b != nil {
			b.Delete([]byte(key))
		}
		return nil
	})
}

func (s *Store) deletePrefixRaw(bucket []byte, prefix string) {
	s.mu.Lock()
	cachePrefix := string(bucket) + ":" + prefix
	for k := range s.cache {
		if strings.HasPrefix(k, cachePrefix) {
			delete(s.cache, k)
		}
	}
	s.mu.Unlock()

	if s.db == nil {
		return
	}

	s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		prefixBytes := []byte(prefix)
		for k, _ := c.Seek(prefixBytes); k != nil && strings.HasPrefix(string(k), prefix); k, _ = c.Next() {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// === Typed cache API ===

// Put writes a payload under a registered key. The value's shape must
// match the shape registered for the key.
func (s *Store) Put(key string, value any) error {
	want, ok := shapeFor(key)
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnregisteredKey, key)
	}
	if got := reflect.TypeOf(value); got != want {
		return fmt.Errorf("%w: key %q wants %s, got %s", domain.ErrShapeMismatch, key, want, got)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.setRaw(bucketFor(key), key, data)
}

// Load reads a payload written with Put. T must match the registered
// shape; mismatches return ErrShapeMismatch instead of a runtime cast
// failure, absence returns ErrCacheMiss.
func Load[T any](s *Store, key string) (T, error) {
	var zero T
	want, ok := shapeFor(key)
	if !ok {
		return zero, fmt.Errorf("%w: %q", domain.ErrUnregisteredKey, key)
	}
	if got := reflect.TypeOf(zero); got != want {
		return zero, fmt.Errorf("%w: key %q wants %s, got %s", domain.ErrShapeMismatch, key, want, got)
	}
	data, found := s.getRaw(bucketFor(key), key)
	if !found {
		return zero, fmt.Errorf("%w: %q", domain.ErrCacheMiss, key)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return zero, fmt.Errorf("%w: key %q: %v", domain.ErrShapeMismatch, key, err)
	}
	return out, nil
}

// Has reports whether a registered key currently holds a payload.
func (s *Store) Has(key string) bool {
	_, found := s.getRaw(bucketFor(key), key)
	return found
}

// Invalidate drops the given keys. Used by local source management so a
// folder add/remove takes effect without waiting for a full sync.
func (s *Store) Invalidate(keys ...string) {
	for _, key := range keys {
		s.deleteRaw(bucketFor(key), key)
	}
}

// InvalidateDetails drops every detail entry under a prefix
// (e.g. all playlist_songs_* after playlists changed).
func (s *Store) InvalidateDetails(prefix string) {
	s.deletePrefixRaw(bucketDetails, prefix)
}

// InvalidateAll wipes library, detail and asset data. Persisted sync
// state and the source registry survive.
func (s *Store) InvalidateAll() {
	wiped := [][]byte{bucketLibrary, bucketDetails, bucketAssets}

	s.mu.Lock()
	for k := range s.cache {
		for _, bucket := range wiped {
			if strings.HasPrefix(k, string(bucket)+":") {
				delete(s.cache, k)
				break
			}
		}
	}
	s.mu.Unlock()

	if s.db == nil {
		return
	}

	s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range wiped {
			b := tx.Bucket(bucket)
			if b == nil {
				continue
			}
			c := b.Cursor()
			for k, _ := c.First(); k != nil; k, _ = c.Next() {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// === Assets (cover art blobs) ===

func (s *Store) PutAsset(id string, data []byte) error {
	return s.setRaw(bucketAssets, id, data)
}

func (s *Store) Asset(id string) ([]byte, bool) {
	return s.getRaw(bucketAssets, id)
}

func (s *Store) HasAsset(id string) bool {
	_, ok := s.getRaw(bucketAssets, id)
	return ok
}

// === Sync state fields ===
// Each SyncState field persists under its own key so partial updates
// avoid a full-object round trip.

func (s *Store) PutStateField(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.setRaw(bucketState, key, data)
}

// StateField reads one persisted state field; the zero value stands in
// when the field was never written.
func StateField[T any](s *Store, key string) T {
	var out T
	data, ok := s.getRaw(bucketState, key)
	if !ok {
		return out
	}
	if err := json.Unmarshal(data, &out); err != nil {
		var zero T
		return zero
	}
	return out
}
