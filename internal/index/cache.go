package index

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"healthq/internal/vectorstore"
)

// entry is one cached index. It is closed once it has been replaced and
// the last reader has released it.
type entry struct {
	signature string
	index     vectorstore.Index
	readers   int
	retired   bool
}

// BuildFunc produces the index for a signature that is not cached.
type BuildFunc func(ctx context.Context) (vectorstore.Index, error)

// Cache holds the knowledge-base index for the last document batch. Readers
// always see either the previous complete index or the next complete one.
type Cache struct {
	buildMu sync.Mutex

	mu      sync.Mutex
	current *entry

	log *zap.Logger
}

func NewCache(log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{log: log}
}

// Ensure returns the cached index when signature matches; otherwise it runs
// build and swaps the result in. A failed build leaves the cache unchanged.
func (c *Cache) Ensure(ctx context.Context, signature string, build BuildFunc) (vectorstore.Index, bool, error) {
	if idx := c.lookup(signature); idx != nil {
		return idx, true, nil
	}

	c.buildMu.Lock()
	defer c.buildMu.Unlock()

	if idx := c.lookup(signature); idx != nil {
		return idx, true, nil
	}

	idx, err := build(ctx)
	if err != nil {
		return nil, false, err
	}
	c.swap(&entry{signature: signature, index: idx})
	c.log.Info("knowledge base swapped", zap.String("signature", signature), zap.Int("chunks", idx.Len()))
	return idx, false, nil
}

func (c *Cache) lookup(signature string) vectorstore.Index {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil && c.current.signature == signature {
		return c.current.index
	}
	return nil
}

// Acquire returns the active index and a release func that must be called
// when the caller is done searching. The index stays open until released
// even if it is swapped out meanwhile. A nil index comes with a no-op
// release.
func (c *Cache) Acquire() (vectorstore.Index, func()) {
	c.mu.Lock()
	e := c.current
	if e == nil {
		c.mu.Unlock()
		return nil, func() {}
	}
	e.readers++
	c.mu.Unlock()

	var once sync.Once
	return e.index, func() { once.Do(func() { c.release(e) }) }
}

func (c *Cache) release(e *entry) {
	c.mu.Lock()
	e.readers--
	closeNow := e.retired && e.readers == 0
	c.mu.Unlock()
	if closeNow {
		c.closeEntry(e)
	}
}

// Current returns the active index, or nil when none has been built. The
// result is only safe to search through Acquire.
func (c *Cache) Current() vectorstore.Index {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		return c.current.index
	}
	return nil
}

func (c *Cache) Signature() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		return c.current.signature
	}
	return ""
}

// Invalidate drops the active index so the next Ensure rebuilds.
func (c *Cache) Invalidate() {
	c.buildMu.Lock()
	defer c.buildMu.Unlock()
	c.swap(nil)
}

// swap installs next and retires the previous entry, closing it right away
// when no reader holds it.
func (c *Cache) swap(next *entry) {
	c.mu.Lock()
	prev := c.current
	c.current = next
	closeNow := false
	if prev != nil {
		prev.retired = true
		closeNow = prev.readers == 0
	}
	c.mu.Unlock()
	if closeNow {
		c.closeEntry(prev)
	}
}

func (c *Cache) closeEntry(e *entry) {
	if err := e.index.Close(); err != nil {
		c.log.Warn("close index failed", zap.String("signature", e.signature), zap.Error(err))
	}
}
