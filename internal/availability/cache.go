package availability

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Slot is a single bookable start time for a practitioner and appointment
// type. Slots are ephemeral; they live only as long as the cache entry
// that produced them.
type Slot struct {
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	PractitionerID    string    `json:"practitioner_id"`
	PractitionerName  string    `json:"practitioner_name"`
	AppointmentTypeID string    `json:"appointment_type_id"`
}

// SlotCache is a short-lived store of availability results shared across
// calls. Entries expire purely by TTL; there is no cross-call
// invalidation signal.
type SlotCache interface {
	Get(ctx context.Context, key string) ([]Slot, bool)
	Set(ctx context.Context, key string, slots []Slot, ttl time.Duration)
	Evict(ctx context.Context, key string)
}

// CacheKey folds a raw time range into a coarse bucket so semantically
// equivalent queries share an entry: same-day ranges bucket to
// morning/afternoon/evening/full, multi-day ranges to a date span.
func CacheKey(tenant, practitionerID, appointmentTypeID string, from, to time.Time, loc *time.Location) string {
	lf := from.In(loc)
	lt := to.In(loc)

	var label string
	if lf.Year() == lt.Year() && lf.YearDay() == lt.YearDay() {
		day := lf.Format("2006-01-02")
		switch {
		case lf.Hour() >= 17:
			label = day + "/evening"
		case lf.Hour() >= 12:
			label = day + "/afternoon"
		case lt.Hour() <= 12 && lt.Hour() > 0:
			label = day + "/morning"
		default:
			label = day + "/full"
		}
	} else {
		label = lf.Format("2006-01-02") + ".." + lt.Format("2006-01-02")
	}

	return fmt.Sprintf("%s|%s|%s|%s", tenant, practitionerID, appointmentTypeID, label)
}

type cacheEntry struct {
	slots     []Slot
	expiresAt time.Time
}

// MemoryCache is the in-process SlotCache. Expired entries are evicted
// lazily on read; the store self-trims when it grows past maxEntries.
type MemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]cacheEntry
	maxEntries int
	now        func() time.Time
}

// NewMemoryCache creates an in-memory slot cache holding at most
// maxEntries entries.
func NewMemoryCache(maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 512
	}
	return &MemoryCache{
		entries:    make(map[string]cacheEntry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// WithClock overrides the cache's time source for tests.
func (c *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	c.now = now
	return c
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]Slot, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return entry.slots, true
}

func (c *MemoryCache) Set(_ context.Context, key string, slots []Slot, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{slots: slots, expiresAt: c.now().Add(ttl)}
	if len(c.entries) > c.maxEntries {
		c.trimLocked()
	}
}

func (c *MemoryCache) Evict(_ context.Context, key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// trimLocked drops expired entries first, then the soonest-to-expire
// entries until the store is back under its size threshold.
func (c *MemoryCache) trimLocked() {
	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
	for len(c.entries) > c.maxEntries {
		var oldestKey string
		var oldest time.Time
		for key, entry := range c.entries {
			if oldestKey == "" || entry.expiresAt.Before(oldest) {
				oldestKey = key
				oldest = entry.expiresAt
			}
		}
		delete(c.entries, oldestKey)
	}
}
