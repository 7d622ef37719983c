// Package entitycache resolves opaque CRM record identifiers into display
// names and display names back into identifiers, backed by a persisted,
// time-limited lookup table so repeated resolutions avoid redundant network
// calls.
//
// The cache is lazily populated: entries are written on first resolution and
// refreshed only after they expire. Failed lookups are cached too, under the
// same expiry window, so a broken or missing entity is not re-queried on
// every request.
package entitycache

import (
	"context"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/actumdigital/crm-mcp/internal/entitycache/persist"
	"github.com/actumdigital/crm-mcp/pkg/types"
)

// DefaultExpiry is how long a cache entry stays valid. Roughly one week.
const DefaultExpiry = 176 * time.Hour

// NA is returned for resolutions of an empty entity ID.
const NA = "N/A"

// Key is the composite table key: one entity of one type.
type Key struct {
	Type types.EntityType
	ID   string
}

// Entry is one resolved value plus the bookkeeping needed for expiry and for
// distinguishing cached successes from cached failures.
type Entry struct {
	Name      string
	Timestamp time.Time
	Outcome   Outcome
}

// valid reports whether the entry is still within the expiry window at now.
func (e Entry) valid(now time.Time, expiry time.Duration) bool {
	return now.Sub(e.Timestamp) < expiry
}

// MatchMode selects the remote search filter shape.
type MatchMode string

const (
	// MatchExact matches the name field verbatim.
	MatchExact MatchMode = "exact"
	// MatchPartial matches any name containing the search string.
	MatchPartial MatchMode = "partial"
)

// SearchHit is one candidate returned by a remote entity search.
type SearchHit struct {
	ID   string
	Name string
}

// Fetcher is the remote point-lookup capability. FetchEntityName must never
// fail: on any error, not-found, or unsupported-type condition it returns a
// tagged fallback result instead.
type Fetcher interface {
	FetchEntityName(ctx context.Context, entityType types.EntityType, entityID string) FetchResult
}

// Searcher is the remote search capability. A nil hit with a nil error means
// no candidate matched. Unlike Fetcher it may fail, in which case the caller
// aborts the whole reverse lookup.
type Searcher interface {
	SearchEntity(ctx context.Context, entityType types.EntityType, name string, mode MatchMode) (*SearchHit, error)
}

// Cache is the entity-resolution cache. One instance owns its table for the
// process lifetime; a single mutex serialises table mutation and persistence
// so concurrent tool calls cannot interleave a lookup with a save.
type Cache struct {
	mu       sync.Mutex
	table    map[Key]Entry
	fetcher  Fetcher
	searcher Searcher
	store    persist.Store
	now      func() time.Time
	expiry   time.Duration
	logger   *log.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock injects the time source, enabling deterministic expiry tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithExpiry overrides the entry expiry window.
func WithExpiry(d time.Duration) Option {
	return func(c *Cache) { c.expiry = d }
}

// WithLogger overrides the logger. The default logs to stderr.
func WithLogger(l *log.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New constructs a Cache and loads the persisted table from store. A load
// failure is not fatal: the cache logs a warning and starts empty.
func New(fetcher Fetcher, searcher Searcher, store persist.Store, opts ...Option) *Cache {
	c := &Cache{
		table:    make(map[Key]Entry),
		fetcher:  fetcher,
		searcher: searcher,
		store:    store,
		now:      time.Now,
		expiry:   DefaultExpiry,
		logger:   log.New(os.Stderr, "entitycache: ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(c)
	}

	doc, err := store.Load()
	if err != nil {
		c.logger.Printf("warning: failed to load cache, starting empty: %v", err)
		return c
	}
	c.table = decodeDocument(doc)
	return c
}

// ResolveName returns the display name for an entity, fetching from the CRM
// only when no valid cached entry exists. An empty entityID resolves to "N/A"
// with no lookup of any kind. The returned string is never empty: failed
// fetches yield a fallback string which is cached like any other value.
func (c *Cache) ResolveName(ctx context.Context, entityType types.EntityType, entityID string) string {
	if entityID == "" {
		return NA
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolveLocked(ctx, entityType, entityID).Name
}

// ResolveCustomerName resolves a customer ID that may refer to either an
// account or a contact. Accounts are tried first; on a cached or fresh
// failure the contact lookup's result is returned unconditionally.
func (c *Cache) ResolveCustomerName(ctx context.Context, customerID string) string {
	if customerID == "" {
		return NA
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.resolveLocked(ctx, types.EntityAccount, customerID)
	if entry.Outcome == OutcomeSuccess {
		return entry.Name
	}
	return c.resolveLocked(ctx, types.EntityContact, customerID).Name
}

// ResolveIDByName finds the entity ID whose display name matches searchName,
// preferring an exact match over a partial one. Only users and divisions
// support reverse lookup; any other type returns no match without touching
// the remote. A remote failure on either attempt aborts the whole operation.
// A hit is written into the cache so the immediately following forward
// resolution is free.
func (c *Cache) ResolveIDByName(ctx context.Context, entityType types.EntityType, searchName string) (string, bool) {
	if searchName == "" {
		return "", false
	}
	if !entityType.ReverseResolvable() {
		c.logger.Printf("warning: reverse lookup not supported for entity type %q", entityType)
		return "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, mode := range []MatchMode{MatchExact, MatchPartial} {
		hit, err := c.searcher.SearchEntity(ctx, entityType, searchName, mode)
		if err != nil {
			c.logger.Printf("error: reverse lookup for %s %q failed: %v", entityType, searchName, err)
			return "", false
		}
		if hit == nil || hit.ID == "" {
			continue
		}

		c.table[Key{Type: entityType, ID: hit.ID}] = Entry{
			Name:      hit.Name,
			Timestamp: c.now(),
			Outcome:   OutcomeSuccess,
		}
		c.persistLocked()

		c.logger.Printf("found %s (%s match): %q -> %s", entityType, mode, searchName, hit.ID)
		return hit.ID, true
	}

	c.logger.Printf("warning: no %s found matching %q", entityType, searchName)
	return "", false
}

// Len returns the number of entries currently in the table, valid or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.table)
}

// resolveLocked performs the cache-then-fetch dance for one key. Expired
// entries are deleted before the fetch so they are never returned. The
// fetched (or fallback) value is written through to the store before
// returning. Callers must hold c.mu.
func (c *Cache) resolveLocked(ctx context.Context, entityType types.EntityType, entityID string) Entry {
	key := Key{Type: entityType, ID: entityID}

	if entry, ok := c.table[key]; ok {
		if entry.valid(c.now(), c.expiry) {
			return entry
		}
		delete(c.table, key)
		c.logger.Printf("cache expired for %s %s...", entityType, ShortID(entityID))
	}

	c.logger.Printf("fetching %s %s... from CRM", entityType, ShortID(entityID))
	res := c.fetcher.FetchEntityName(ctx, entityType, entityID)

	entry := Entry{Name: res.Name, Timestamp: c.now(), Outcome: res.Outcome}
	c.table[key] = entry
	c.persistLocked()
	return entry
}

// persistLocked writes the whole table through to the store. A save failure
// is not fatal: the in-memory table stays authoritative and a warning is
// logged. Callers must hold c.mu.
func (c *Cache) persistLocked() {
	if err := c.store.Save(encodeTable(c.table)); err != nil {
		c.logger.Printf("warning: failed to save cache: %v", err)
	}
}

// encodeTable converts the typed table into the persisted document form,
// keyed "{entity_type}_{entity_id}".
func encodeTable(table map[Key]Entry) persist.Document {
	doc := make(persist.Document, len(table))
	for key, entry := range table {
		doc[string(key.Type)+"_"+key.ID] = persist.Record{
			Name:      entry.Name,
			Timestamp: entry.Timestamp,
			Outcome:   string(entry.Outcome),
		}
	}
	return doc
}

// decodeDocument converts a persisted document back into the typed table.
// Keys that do not split into type and ID are dropped. Records without an
// outcome tag come from documents written before the tag existed; their
// outcome is classified from the sentinel prefix of the stored name.
func decodeDocument(doc persist.Document) map[Key]Entry {
	table := make(map[Key]Entry, len(doc))
	for rawKey, rec := range doc {
		typ, id, ok := strings.Cut(rawKey, "_")
		if !ok || typ == "" || id == "" {
			continue
		}
		outcome := Outcome(rec.Outcome)
		if outcome == "" {
			outcome = classifyLegacyName(rec.Name)
		}
		table[Key{Type: types.EntityType(typ), ID: id}] = Entry{
			Name:      rec.Name,
			Timestamp: rec.Timestamp,
			Outcome:   outcome,
		}
	}
	return table
}

// classifyLegacyName recovers the outcome tag from the sentinel prefixes that
// untagged documents embedded in the display string.
func classifyLegacyName(name string) Outcome {
	switch {
	case strings.HasPrefix(name, "Unknown"):
		return OutcomeUnsupportedType
	case strings.HasPrefix(name, "Not found"):
		return OutcomeNotFound
	case strings.HasPrefix(name, "Error"):
		return OutcomeError
	default:
		return OutcomeSuccess
	}
}
