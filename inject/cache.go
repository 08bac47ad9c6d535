package inject

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/mtraver/base91"
	"github.com/vmihailenco/msgpack/v5"
)

// ResultCache stores injection results keyed by everything which can change the output.
// Entries are namespaced by the engine Version so an upgrade never serves stale output.
type ResultCache struct {
	base  Storage
	store Storage
}

// NewResultCache creates a cache on top of the given storage.
func NewResultCache(store Storage) *ResultCache {
	return &ResultCache{base: store, store: NamespacedStorage(store, Version)}
}

type cacheKeyInput struct {
	TraceFunction  string                  `msgpack:"tf"`
	SourceMap      bool                    `msgpack:"sm"`
	SourcesContent bool                    `msgpack:"sc"`
	Filename       string                  `msgpack:"fn"`
	ModuleMode     ModuleMode              `msgpack:"mm"`
	Dialect        Dialect                 `msgpack:"dl"`
	Declarations   []TracepointDeclaration `msgpack:"d"`
}

// CacheKey returns the base91 encoded sha256 digest identifying an Inject call on this injector.
func (i *Injector) CacheKey(source string, decls []TracepointDeclaration, opts ParseOptions) string {
	enc := msgpack.GetEncoder()
	defer msgpack.PutEncoder(enc)

	h := sha256.New()
	enc.Reset(h)
	if err := enc.Encode(cacheKeyInput{
		TraceFunction:  i.traceFunction,
		SourceMap:      i.sourceMap,
		SourcesContent: i.sourcesContent,
		Filename:       opts.Filename,
		ModuleMode:     opts.ModuleMode,
		Dialect:        opts.Dialect,
		Declarations:   decls,
	}); err != nil {
		panic(err) // plain structs always encode
	}
	_, _ = h.Write([]byte(source))
	return base91.StdEncoding.EncodeToString(h.Sum(nil))
}

// Get loads a cached result.
func (c *ResultCache) Get(key string) (*Result, bool, error) {
	blob, ok, err := c.store.Load(key)
	if err != nil || !ok {
		return nil, false, err
	}
	raw, err := ZstdDecompress(nil, blob)
	if err != nil {
		return nil, false, fmt.Errorf("corrupt cache entry %s: %w", key, err)
	}
	var result Result
	if err := msgpack.Unmarshal(raw, &result); err != nil {
		return nil, false, fmt.Errorf("corrupt cache entry %s: %w", key, err)
	}
	return &result, true, nil
}

// Put stores a result.
func (c *ResultCache) Put(key string, result *Result) error {
	raw, err := msgpack.Marshal(result)
	if err != nil {
		return err
	}
	return c.store.Save(key, ZstdCompress(nil, raw))
}

// Inject returns the cached result for the call, or runs the injector and caches its result.
// Parse failures are not cached. The returned bool reports a cache hit. When storing fails the result is still
// returned alongside the error.
func (c *ResultCache) Inject(ctx context.Context, injector *Injector, source string,
	decls []TracepointDeclaration, opts ParseOptions) (*Result, bool, error) {
	key := injector.CacheKey(source, decls, opts)
	if result, ok, err := c.Get(key); err != nil {
		_ = c.store.Delete(key) // treat corrupt entries as a miss
	} else if ok {
		return result, true, nil
	}

	result, err := injector.Inject(ctx, source, decls, opts)
	if err != nil {
		return nil, false, err
	}
	if err := c.Put(key, result); err != nil && !errors.Is(err, ErrValueTooLarge) {
		return result, false, fmt.Errorf("cache store failed: %w", err)
	}
	return result, false, nil
}

// Len returns the number of entries written by this engine version.
func (c *ResultCache) Len() (int, error) {
	keys, err := c.store.Keys("")
	return len(keys), err
}

// Clear removes the entries of this engine version, or every entry when all is set.
func (c *ResultCache) Clear(all bool) error {
	if all {
		return c.base.Clear()
	}
	return c.store.Clear()
}

// Prune removes the entries written by other engine versions and returns how many were deleted.
func (c *ResultCache) Prune() (int, error) {
	keys, err := c.base.Keys("")
	if err != nil {
		return 0, err
	}
	current := Version + ";"
	var removed int
	var errs []error
	for _, key := range keys {
		if strings.HasPrefix(key, current) {
			continue
		} else if err := c.base.Delete(key); err != nil {
			errs = append(errs, err)
		} else {
			removed++
		}
	}
	return removed, errors.Join(errs...)
}

// Close releases the underlying storage.
func (c *ResultCache) Close() error {
	return c.store.Close()
}
