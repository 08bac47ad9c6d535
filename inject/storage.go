package inject

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/dgraph-io/ristretto/v2"
)

// ErrValueTooLarge is returned when a blob exceeds the storage value limit.
var ErrValueTooLarge = errors.New("value exceeds storage limit")

// maxStoredValue bounds a single cached blob, instrumented files larger than this are not worth caching.
const maxStoredValue = 64 << 20

// Storage persists cache blobs by key.
type Storage interface {
	Save(key string, blob []byte) error
	// Load returns the blob and true, or false if the key is not present.
	Load(key string) ([]byte, bool, error)
	Delete(key string) error
	// Keys returns the keys starting with prefix, sorted.
	Keys(prefix string) ([]string, error)
	Clear() error
	Close() error
}

// NamespacedStorage scopes all keys of s under namespace. Keys are returned without the namespace.
func NamespacedStorage(s Storage, namespace string) Storage {
	if namespace == "" {
		return s
	}
	return &namespacedStorage{store: s, namespace: namespace + ";"}
}

type namespacedStorage struct {
	store     Storage
	namespace string
}

func (n *namespacedStorage) Save(key string, blob []byte) error {
	return n.store.Save(n.namespace+key, blob)
}

func (n *namespacedStorage) Load(key string) ([]byte, bool, error) {
	return n.store.Load(n.namespace + key)
}

func (n *namespacedStorage) Delete(key string) error {
	return n.store.Delete(n.namespace + key)
}

func (n *namespacedStorage) Keys(prefix string) ([]string, error) {
	keys, err := n.store.Keys(n.namespace + prefix)
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, n.namespace)
	}
	return keys, nil
}

// Clear only removes keys within the namespace.
func (n *namespacedStorage) Clear() error {
	keys, err := n.Keys("")
	if err != nil {
		return err
	}
	var errs []error
	for _, key := range keys {
		errs = append(errs, n.Delete(key))
	}
	return errors.Join(errs...)
}

func (n *namespacedStorage) Close() error {
	return n.store.Close()
}

type memStorage struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemStorage returns a Storage held in process memory.
func NewMemStorage() Storage {
	return &memStorage{data: make(map[string][]byte)}
}

func (m *memStorage) Save(key string, blob []byte) error {
	if len(blob) > maxStoredValue {
		return ErrValueTooLarge
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = slices.Clone(blob)
	return nil
}

func (m *memStorage) Load(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	blob, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(blob), true, nil
}

func (m *memStorage) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

func (m *memStorage) Keys(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

func (m *memStorage) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clear(m.data)
	return nil
}

func (m *memStorage) Close() error {
	return nil
}

type badgerStorage struct {
	db *badger.DB
}

// NewBadgerStorage opens (or creates) a persistent Storage at dir. The directory is kept on Close so later runs
// can reuse cached results.
func NewBadgerStorage(dir string, maxMemMB int) (Storage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir failed: %w", err)
	}

	clamp := func(val, lo, high int64) int64 {
		return min(max(val, lo), high)
	}
	memTableSize := clamp(int64(maxMemMB/4), 4, 64) << 20
	// values are zstd compressed before they reach the db, block compression would only cost cpu
	opts := badger.DefaultOptions(dir).
		WithCompression(options.None).
		WithNumMemtables(2).
		WithMemTableSize(memTableSize).
		WithBaseTableSize(memTableSize).
		WithIndexCacheSize(clamp(int64(maxMemMB/4), 8, 64) << 20).
		WithValueLogFileSize(max(128<<20, int64(maxStoredValue)*2)).
		WithLoggingLevel(badger.ERROR).
		WithMetricsEnabled(false)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open cache db failed: %w", err)
	}
	return &badgerStorage{db: db}, nil
}

func (b *badgerStorage) Save(key string, blob []byte) error {
	if len(blob) > maxStoredValue {
		return ErrValueTooLarge
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), blob)
	})
}

func (b *badgerStorage) Load(key string) ([]byte, bool, error) {
	var blob []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		blob, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	return blob, true, nil
}

func (b *badgerStorage) Delete(key string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func (b *badgerStorage) Keys(prefix string) ([]string, error) {
	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		itOpts := badger.DefaultIteratorOptions
		itOpts.PrefetchValues = false
		it := txn.NewIterator(itOpts)
		defer it.Close()
		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			keys = append(keys, string(it.Item().Key()))
		}
		return nil
	})
	return keys, err // iteration order is already sorted
}

func (b *badgerStorage) Clear() error {
	return b.db.DropAll()
}

func (b *badgerStorage) Close() error {
	return b.db.Close()
}

// frontCache keeps recently used blobs in memory in front of a slower Storage.
type frontCache struct {
	store Storage
	cache *ristretto.Cache[string, []byte]
}

// WithFrontCache wraps s with an in-memory cache bounded to maxMemMB.
func WithFrontCache(s Storage, maxMemMB int) (Storage, error) {
	maxCost := int64(max(maxMemMB, 1)) << 20
	cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: max(maxCost/1024, 1000), // ~1KB per compressed result
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create front cache failed: %w", err)
	}
	return &frontCache{store: s, cache: cache}, nil
}

func (f *frontCache) Save(key string, blob []byte) error {
	if err := f.store.Save(key, blob); err != nil {
		return err
	}
	f.cache.Set(key, slices.Clone(blob), int64(len(blob)))
	return nil
}

func (f *frontCache) Load(key string) ([]byte, bool, error) {
	if blob, ok := f.cache.Get(key); ok {
		return slices.Clone(blob), true, nil
	}
	blob, ok, err := f.store.Load(key)
	if err != nil || !ok {
		return nil, ok, err
	}
	f.cache.Set(key, slices.Clone(blob), int64(len(blob)))
	return blob, true, nil
}

func (f *frontCache) Delete(key string) error {
	f.cache.Del(key)
	return f.store.Delete(key)
}

func (f *frontCache) Keys(prefix string) ([]string, error) {
	return f.store.Keys(prefix)
}

func (f *frontCache) Clear() error {
	f.cache.Clear()
	return f.store.Clear()
}

func (f *frontCache) Close() error {
	f.cache.Close()
	return f.store.Close()
}
