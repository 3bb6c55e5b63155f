// Package pool caches named driver resources ("spaces") that ops share,
// such as output writers or client sessions.
package pool

import (
	"io"
	"sort"
	"sync"

	"github.com/mongodb/grip"
	"github.com/pkg/errors"
)

// Factory builds the space called name.
type Factory[S io.Closer] func(name string) (S, error)

// Cache builds each named space once, on first use, and closes them all
// when the activity ends.
type Cache[S io.Closer] struct {
	factory Factory[S]
	spaces  sync.Map // map[string]*entry[S]

	mu     sync.Mutex
	closed bool
}

type entry[S io.Closer] struct {
	once  sync.Once
	space S
	err   error
}

// NewCache returns a cache that builds spaces with factory.
func NewCache[S io.Closer](factory Factory[S]) *Cache[S] {
	return &Cache[S]{factory: factory}
}

// ErrClosed is returned by Get after Close.
var ErrClosed = errors.New("space cache is closed")

// Get returns the space called name, building it if needed. Concurrent
// callers for the same name wait for the single build. A failed build is
// remembered and returned to every caller.
func (c *Cache[S]) Get(name string) (S, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		var zero S
		return zero, ErrClosed
	}

	val, _ := c.spaces.LoadOrStore(name, &entry[S]{})
	e := val.(*entry[S])
	e.once.Do(func() {
		e.space, e.err = c.factory(name)
		if e.err != nil {
			e.err = errors.Wrapf(e.err, "building space %q", name)
		}
	})
	return e.space, e.err
}

// Names lists the spaces built so far, sorted.
func (c *Cache[S]) Names() []string {
	var names []string
	c.spaces.Range(func(key, value any) bool {
		if value.(*entry[S]).err == nil {
			names = append(names, key.(string))
		}
		return true
	})
	sort.Strings(names)
	return names
}

// Close closes every space that was built successfully and reports all
// failures together. Calling Close again is a no-op.
func (c *Cache[S]) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	catcher := grip.NewBasicCatcher()
	c.spaces.Range(func(key, value any) bool {
		e := value.(*entry[S])
		e.once.Do(func() { e.err = ErrClosed })
		if e.err == nil {
			catcher.Wrapf(e.space.Close(), "closing space %q", key)
		}
		c.spaces.Delete(key)
		return true
	})
	return catcher.Resolve()
}
