// Package loader keeps an ordered chain of resolvers that a host consults to
// locate a unit of code by name. Registering a resolver activates it; the
// returned Registration deactivates it again. Prepended registrations are
// asked before the ones already installed.
package loader

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/mirkobrombin/warp-resolver/v1/resolver"
)

// LoadFunc consumes a located file, typically by loading it into the host.
type LoadFunc func(ctx context.Context, name string, loc resolver.Location) error

// Registration identifies a resolver installed in a Chain.
type Registration struct {
	ID    uuid.UUID
	chain *Chain
}

// Unregister removes the registration from its chain. It reports whether the
// registration was still installed.
func (r Registration) Unregister() bool {
	if r.chain == nil {
		return false
	}
	return r.chain.Unregister(r.ID)
}

type handler struct {
	id uuid.UUID
	r  resolver.Resolver
}

// Chain is an ordered list of resolvers.
type Chain struct {
	mu       sync.RWMutex
	handlers []handler
}

// NewChain returns an empty Chain.
func NewChain() *Chain {
	return &Chain{}
}

// Register installs r. When prepend is true r is consulted before every
// resolver already installed, otherwise after them.
func (c *Chain) Register(r resolver.Resolver, prepend bool) Registration {
	h := handler{id: uuid.New(), r: r}
	c.mu.Lock()
	if prepend {
		c.handlers = append([]handler{h}, c.handlers...)
	} else {
		c.handlers = append(c.handlers, h)
	}
	c.mu.Unlock()
	return Registration{ID: h.id, chain: c}
}

// Unregister removes the resolver registered under id.
func (c *Chain) Unregister(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, h := range c.handlers {
		if h.id == id {
			c.handlers = append(c.handlers[:i:i], c.handlers[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of installed resolvers.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handlers)
}

// Locate asks each resolver in order and returns the first found location.
// An error from any resolver stops the walk.
func (c *Chain) Locate(ctx context.Context, name string) (resolver.Location, error) {
	c.mu.RLock()
	handlers := append([]handler(nil), c.handlers...)
	c.mu.RUnlock()

	for _, h := range handlers {
		loc, err := h.r.Resolve(ctx, name)
		if err != nil {
			return resolver.Absent, err
		}
		if loc.Found {
			return loc, nil
		}
	}
	return resolver.Absent, nil
}

// Load locates name and hands the location to fn. It reports whether a
// location was found; fn is not called otherwise.
func (c *Chain) Load(ctx context.Context, name string, fn LoadFunc) (bool, error) {
	loc, err := c.Locate(ctx, name)
	if err != nil || !loc.Found {
		return false, err
	}
	if err := fn(ctx, name, loc); err != nil {
		return false, err
	}
	return true, nil
}
