package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ogero/stremio-addonhub/internal/common"
)

// Store persists JSON blobs under string keys.
type Store interface {
	// Load unmarshals the blob stored under key into v. It reports false when the key does not exist.
	Load(key string, v any) (bool, error)
	// Save replaces the blob stored under key with v, atomically.
	Save(key string, v any) error
	// Close flushes pending writes. It's crucial to call it before exiting.
	Close() error
}

// Options configures the badger store.
type Options struct {
	// Path is the badger directory. Ignored when InMemory is set.
	Path     string
	InMemory bool
}

// Badger is a Store backed by badger.
type Badger struct {
	db *badger.DB
}

var _ Store = (*Badger)(nil)

// Open opens (or creates) a badger store.
func Open(opts Options) (*Badger, error) {
	badgerOpts := badger.DefaultOptions(opts.Path).
		WithNumVersionsToKeep(0).
		WithValueLogFileSize(1024 * 1024 * 100).
		WithLogger(&l{})
	if opts.InMemory {
		badgerOpts = badgerOpts.WithDir("").WithValueDir("").WithInMemory(true)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to badger.Open: %w", err)
	}
	return &Badger{db: db}, nil
}

// Load unmarshals the blob stored under key into v. It reports false when the key does not exist.
func (s *Badger) Load(key string, v any) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, v); err != nil {
				return fmt.Errorf("failed to json.Unmarshal: %w", err)
			}
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load %q: %w", key, err)
	}
	return true, nil
}

// Save replaces the blob stored under key with v, atomically.
func (s *Badger) Save(key string, v any) error {
	return s.set(key, v, 0)
}

func (s *Badger) set(key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to json.Marshal: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), b)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("failed to save %q: %w", key, err)
	}
	return nil
}

// Close closes the DB. Calling it multiple times still only closes the DB once.
func (s *Badger) Close() error {
	return s.db.Close()
}

// Memoize returns the value cached under cacheKey, or computes it with fn and caches it for ttl.
// The reported result is "hit" or "miss", for cache metrics.
func Memoize[V any](s *Badger, cacheKey string, ttl time.Duration, fn func() (*V, error)) (*V, string, error) {
	value := new(V)
	found, err := s.Load(cacheKey, value)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get from cache: %w", err)
	}
	if found {
		return value, "hit", nil
	}

	value, err = fn()
	if err != nil {
		return nil, "miss", err
	}

	if err := s.set(cacheKey, value, ttl); err != nil {
		return nil, "miss", fmt.Errorf("failed to store on cache: %w", err)
	}

	return value, "miss", nil
}

type l struct{}

func (l *l) Errorf(s string, i ...interface{}) {
	common.Log.Error(fmt.Sprintf(s, i...), "component", "badger")
}

func (l *l) Warningf(s string, i ...interface{}) {
	common.Log.Warn(fmt.Sprintf(s, i...), "component", "badger")
}

func (l *l) Infof(s string, i ...interface{}) {
	common.Log.Debug(fmt.Sprintf(s, i...), "component", "badger")
}

func (l *l) Debugf(s string, i ...interface{}) {
	common.Log.Debug(fmt.Sprintf(s, i...), "component", "badger")
}
