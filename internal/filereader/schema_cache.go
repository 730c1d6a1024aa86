// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package filereader

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/cardinalhq/datamorph/internal/schema"
)

// SchemaKey identifies a cached schema.
type SchemaKey struct {
	Source string
	Format Format
}

// SchemaCache memoizes file schemas for the lifetime chosen by its owner.
// Nothing in this package holds one globally; callers create a cache per
// command or job and pass it where it is needed.
type SchemaCache struct {
	cache *ttlcache.Cache[SchemaKey, *schema.Schema]
}

// NewSchemaCache creates a cache whose entries expire after ttl. A zero ttl
// keeps entries until the cache is dropped.
func NewSchemaCache(ttl time.Duration) *SchemaCache {
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}
	return &SchemaCache{
		cache: ttlcache.New[SchemaKey, *schema.Schema](
			ttlcache.WithTTL[SchemaKey, *schema.Schema](ttl),
		),
	}
}

// Get returns the cached schema for key, calling load on a miss. Load
// errors are returned and not cached.
func (c *SchemaCache) Get(ctx context.Context, key SchemaKey, load func(context.Context) (*schema.Schema, error)) (*schema.Schema, error) {
	var loadErr error
	loader := ttlcache.LoaderFunc[SchemaKey, *schema.Schema](
		func(cache *ttlcache.Cache[SchemaKey, *schema.Schema], key SchemaKey) *ttlcache.Item[SchemaKey, *schema.Schema] {
			s, err := load(ctx)
			if err != nil {
				loadErr = err
				return nil
			}
			return cache.Set(key, s, ttlcache.DefaultTTL)
		},
	)
	item := c.cache.Get(key, ttlcache.WithLoader[SchemaKey, *schema.Schema](loader))
	if item == nil {
		return nil, loadErr
	}
	return item.Value(), nil
}

// SchemaOf returns the schema of a local file, opening it only on a cache
// miss. The projection in opts is ignored; the full file schema is cached.
func (c *SchemaCache) SchemaOf(ctx context.Context, filename string, opts ReaderOptions) (*schema.Schema, error) {
	opts.Columns = nil
	format := opts.Format
	if format == FormatUnknown {
		var err error
		if format, _, err = FormatFromPath(filename); err != nil {
			return nil, err
		}
	}
	return c.Get(ctx, SchemaKey{Source: filename, Format: format}, func(ctx context.Context) (*schema.Schema, error) {
		opts.Format = format
		r, err := Open(ctx, filename, opts)
		if err != nil {
			return nil, err
		}
		defer func() { _ = r.Close() }()
		return r.Schema(), nil
	})
}

// Invalidate drops the entry for key.
func (c *SchemaCache) Invalidate(key SchemaKey) {
	c.cache.Delete(key)
}

// Len returns the number of cached schemas.
func (c *SchemaCache) Len() int {
	return c.cache.Len()
}
