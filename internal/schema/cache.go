package schema

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pysugar/hubspot-bridge/internal/config"
	"github.com/pysugar/hubspot-bridge/internal/errs"
	"github.com/pysugar/hubspot-bridge/internal/hubspot"
	"github.com/pysugar/hubspot-bridge/internal/logging"
	"github.com/pysugar/hubspot-bridge/internal/metrics"
	"github.com/pysugar/hubspot-bridge/internal/store"
)

// SourceFunc fetches the property groups on a cache miss.
type SourceFunc func(ctx context.Context) ([]hubspot.PropertyGroup, error)

// Cache keeps the built Properties in the transient store.
type Cache struct {
	store      *store.Store
	key        string
	clearedKey string
	ttl        time.Duration
	selection  map[string]config.SelectionProperty
}

// NewCache creates the cache of one installation.
func NewCache(installation string, st *store.Store, ttl time.Duration, selection map[string]config.SelectionProperty) *Cache {
	if ttl <= 0 {
		ttl = config.DefaultSchemaTTL
	}
	return &Cache{
		store:      st,
		key:        installation + "_contact_properties",
		clearedKey: installation + "_last_cache_clearance",
		ttl:        ttl,
		selection:  selection,
	}
}

// Get returns cached properties or fetches them through src. Failed
// fetches return empty properties with the error and are not cached.
// Concurrent misses may each fetch; the last write wins.
func (c *Cache) Get(ctx context.Context, src SourceFunc) (Properties, error) {
	logger := logging.From(ctx)

	if raw, ok, err := c.store.GetTransient(ctx, c.key); err != nil {
		logger.Error().Err(err).Msg("schema cache read failed")
	} else if ok {
		var props Properties
		if err := json.Unmarshal([]byte(raw), &props); err == nil && !props.Empty() {
			metrics.SchemaCache(true)
			return props, nil
		}
	}
	metrics.SchemaCache(false)

	groups, err := src(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("unable to get contact properties")
		return Properties{}, err
	}

	props := Build(groups, c.selection)
	raw, err := json.Marshal(props)
	if err != nil {
		return props, errs.Wrap(errs.Unknown, "schema.Get", err)
	}
	if err := c.store.SetTransient(ctx, c.key, string(raw), c.ttl); err != nil {
		logger.Error().Err(err).Msg("schema cache write failed")
	}
	return props, nil
}

// Clear drops the cached properties and records when that happened.
func (c *Cache) Clear(ctx context.Context) (time.Time, error) {
	if err := c.store.DeleteTransient(ctx, c.key); err != nil {
		return time.Time{}, err
	}
	now := c.store.Now().Truncate(time.Second)
	if err := c.store.PutSetting(ctx, c.clearedKey, strconv.FormatInt(now.Unix(), 10)); err != nil {
		return time.Time{}, err
	}
	logging.From(ctx).Info().Msg("🧹 contact property cache cleared")
	return now, nil
}

// LastCleared returns when Clear last ran. ok is false if it never did.
func (c *Cache) LastCleared(ctx context.Context) (t time.Time, ok bool, err error) {
	raw, found, err := c.store.GetSetting(ctx, c.clearedKey)
	if err != nil || !found {
		return time.Time{}, false, err
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, errs.Wrap(errs.Unknown, "schema.LastCleared", err)
	}
	return time.Unix(secs, 0).UTC(), true, nil
}
