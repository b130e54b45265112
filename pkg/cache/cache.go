// Package cache is a read-through cache for projected read models. Entries
// are grouped in coarse scopes; invalidating a scope bumps its generation so
// every older entry becomes unreachable at once.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"go.uber.org/multierr"

	"github.com/lacaja/possync/pkg/logger"
	pkgredis "github.com/lacaja/possync/pkg/redis"
)

type Scope string

const (
	ScopeProducts  Scope = "products"
	ScopeCustomers Scope = "customers"
	ScopeDebts     Scope = "debts"
	ScopeStock     Scope = "stock"
	ScopeEscrow    Scope = "escrow"
)

// CoarseScopes lists every scope. Conflict resolution invalidates all of them.
func CoarseScopes() []Scope {
	return []Scope{ScopeProducts, ScopeCustomers, ScopeDebts, ScopeStock, ScopeEscrow}
}

// Backend is the storage surface; *redis.Client satisfies it. Get returns
// pkgredis.ErrNil for a missing key.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	CacheKey(scope string, version int64, key string) string
	ScopeVersionKey(scope string) string
}

// Cache is safe to use as a nil pointer; every call then falls through to the loader.
type Cache struct {
	backend Backend
	ttl     time.Duration
	logg    *logger.Logger
}

func New(backend Backend, ttl time.Duration, logg *logger.Logger) *Cache {
	if backend == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Cache{backend: backend, ttl: ttl, logg: logg}
}

func (c *Cache) version(ctx context.Context, scope Scope) (int64, error) {
	raw, err := c.backend.Get(ctx, c.backend.ScopeVersionKey(string(scope)))
	if err != nil {
		if errors.Is(err, pkgredis.ErrNil) {
			return 0, nil
		}
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

// Get decodes the cached entry into dest. It reports false on a miss.
func (c *Cache) Get(ctx context.Context, scope Scope, key string, dest any) (bool, error) {
	if c == nil {
		return false, nil
	}
	version, err := c.version(ctx, scope)
	if err != nil {
		return false, err
	}
	raw, err := c.backend.Get(ctx, c.backend.CacheKey(string(scope), version, key))
	if err != nil {
		if errors.Is(err, pkgredis.ErrNil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, err
	}
	return true, nil
}

// Set stores value under the scope's current generation.
func (c *Cache) Set(ctx context.Context, scope Scope, key string, value any) error {
	if c == nil {
		return nil
	}
	version, err := c.version(ctx, scope)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.backend.Set(ctx, c.backend.CacheKey(string(scope), version, key), string(raw), c.ttl)
}

// Invalidate bumps the generation of every scope given.
func (c *Cache) Invalidate(ctx context.Context, scopes ...Scope) error {
	if c == nil {
		return nil
	}
	var errs error
	for _, scope := range scopes {
		if _, err := c.backend.Incr(ctx, c.backend.ScopeVersionKey(string(scope))); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// InvalidateAll bumps every coarse scope.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	return c.Invalidate(ctx, CoarseScopes()...)
}

// Load reads through the cache. Backend failures are logged and the loader
// result is returned; loader errors are never cached.
func Load[T any](ctx context.Context, c *Cache, scope Scope, key string, loader func(context.Context) (T, error)) (T, error) {
	if c == nil {
		return loader(ctx)
	}
	var cached T
	hit, err := c.Get(ctx, scope, key, &cached)
	if err != nil {
		c.logg.Warn(c.logg.WithFields(ctx, map[string]any{"scope": scope, "error": err.Error()}), "cache read failed")
	} else if hit {
		return cached, nil
	}

	value, err := loader(ctx)
	if err != nil {
		return value, err
	}
	if err := c.Set(ctx, scope, key, value); err != nil {
		c.logg.Warn(c.logg.WithFields(ctx, map[string]any{"scope": scope, "error": err.Error()}), "cache write failed")
	}
	return value, nil
}
