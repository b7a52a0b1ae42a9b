package availability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hartleylabs/frontdesk/internal/cliniko"
	"github.com/hartleylabs/frontdesk/internal/observability/metrics"
	"github.com/hartleylabs/frontdesk/internal/retry"
	"github.com/hartleylabs/frontdesk/pkg/logging"
)

// ErrNoEligibleConfig is returned when the scheduler has no active
// business, practitioner or bookable appointment type to fall back on.
// This is a hard configuration error, not a transient failure.
var ErrNoEligibleConfig = errors.New("availability: no eligible scheduler configuration found")

// minimumLead keeps slots the caller could not realistically reach.
const minimumLead = 15 * time.Minute

// SchedulerAPI is the subset of the scheduler client the aggregator needs.
type SchedulerAPI interface {
	ListBusinesses(ctx context.Context) ([]cliniko.Business, error)
	ListPractitioners(ctx context.Context) ([]cliniko.Practitioner, error)
	ListAppointmentTypes(ctx context.Context) ([]cliniko.AppointmentType, error)
	AvailableTimes(ctx context.Context, businessID, practitionerID, appointmentTypeID string, from, to time.Time) ([]cliniko.AvailableTime, error)
}

// Config tunes the aggregator.
type Config struct {
	// Tenant identifies the clinic in cache keys.
	Tenant string
	// BusinessID, PractitionerID, AppointmentTypeID may be empty; missing
	// values are auto-detected from the scheduler's listing endpoints.
	BusinessID        string
	PractitionerID    string
	AppointmentTypeID string
	CacheTTL          time.Duration
	// Concurrency bounds the per-practitioner fan-out.
	Concurrency int
	Location    *time.Location
	RetryPolicy retry.Policy
	Logger      *logging.Logger
	Metrics     *metrics.AvailabilityMetrics
}

// Aggregator fetches and merges open slots from the scheduler, behind a
// short-lived shared cache.
type Aggregator struct {
	api         SchedulerAPI
	cache       SlotCache
	tenant      string
	cacheTTL    time.Duration
	concurrency int
	loc         *time.Location
	policy      retry.Policy
	logger      *logging.Logger
	metrics     *metrics.AvailabilityMetrics
	now         func() time.Time

	mu                sync.Mutex
	businessID        string
	practitionerID    string
	practitionerName  string
	appointmentTypeID string
	typeDurations     map[string]time.Duration
}

// NewAggregator builds an availability aggregator over the scheduler API.
func NewAggregator(api SchedulerAPI, cache SlotCache, cfg Config) *Aggregator {
	if cache == nil {
		cache = NewMemoryCache(0)
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 20 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.RetryPolicy.MaxAttempts == 0 {
		cfg.RetryPolicy = retry.DefaultPolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Aggregator{
		api:               api,
		cache:             cache,
		tenant:            cfg.Tenant,
		cacheTTL:          cfg.CacheTTL,
		concurrency:       cfg.Concurrency,
		loc:               cfg.Location,
		policy:            cfg.RetryPolicy,
		logger:            cfg.Logger,
		metrics:           cfg.Metrics,
		now:               time.Now,
		businessID:        cfg.BusinessID,
		practitionerID:    cfg.PractitionerID,
		appointmentTypeID: cfg.AppointmentTypeID,
		typeDurations:     make(map[string]time.Duration),
	}
}

// WithClock overrides the aggregator's time source for tests.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// GetAvailability returns future open slots for one practitioner,
// ordered chronologically, or by proximity to the caller's preferred
// part of day when one is given. Empty practitioner/appointment-type
// IDs fall back to configured or auto-detected defaults.
func (a *Aggregator) GetAvailability(ctx context.Context, from, to time.Time, practitionerID, appointmentTypeID, partOfDay string) ([]Slot, error) {
	if err := a.ensureDefaults(ctx); err != nil {
		return nil, err
	}

	a.mu.Lock()
	if practitionerID == "" {
		practitionerID = a.practitionerID
	}
	if appointmentTypeID == "" {
		appointmentTypeID = a.appointmentTypeID
	}
	practitionerName := a.practitionerName
	a.mu.Unlock()

	slots, err := a.fetch(ctx, practitionerID, practitionerName, appointmentTypeID, from, to)
	if err != nil {
		return nil, err
	}

	slots = a.filterFuture(slots)
	sortSlots(slots, partOfDay, a.loc)
	return slots, nil
}

// GetMultiPractitionerAvailability fans out across practitioners with
// bounded concurrency and merges the results time-sorted. One
// practitioner's failure contributes zero slots and is logged, never
// raised.
func (a *Aggregator) GetMultiPractitionerAvailability(ctx context.Context, practitioners []cliniko.Practitioner, from, to time.Time, maxSlots int) ([]Slot, error) {
	if err := a.ensureDefaults(ctx); err != nil {
		return nil, err
	}

	a.mu.Lock()
	appointmentTypeID := a.appointmentTypeID
	a.mu.Unlock()

	results := make([][]Slot, len(practitioners))
	sem := make(chan struct{}, a.concurrency)
	var wg sync.WaitGroup

	for i, p := range practitioners {
		wg.Add(1)
		go func(i int, p cliniko.Practitioner) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			slots, err := a.fetch(ctx, p.ID, p.Name(), appointmentTypeID, from, to)
			if err != nil {
				a.metrics.ObserveFetchError()
				a.logger.Warn("practitioner availability fetch failed; skipping",
					"practitioner_id", p.ID, "error", err)
				return
			}
			results[i] = slots
		}(i, p)
	}
	wg.Wait()

	var merged []Slot
	for _, slots := range results {
		merged = append(merged, slots...)
	}
	merged = a.filterFuture(merged)
	sortSlots(merged, "", a.loc)

	if maxSlots > 0 && len(merged) > maxSlots {
		merged = merged[:maxSlots]
	}
	return merged, nil
}

// fetch returns slots for one practitioner, consulting the shared cache
// first.
func (a *Aggregator) fetch(ctx context.Context, practitionerID, practitionerName, appointmentTypeID string, from, to time.Time) ([]Slot, error) {
	key := CacheKey(a.tenant, practitionerID, appointmentTypeID, from, to, a.loc)
	if slots, ok := a.cache.Get(ctx, key); ok {
		a.metrics.ObserveCacheHit()
		return slots, nil
	}
	a.metrics.ObserveCacheMiss()

	a.mu.Lock()
	businessID := a.businessID
	duration := a.typeDurations[appointmentTypeID]
	a.mu.Unlock()
	if duration <= 0 {
		duration = 30 * time.Minute
	}

	var times []cliniko.AvailableTime
	err := retry.Do(ctx, a.policy, func(ctx context.Context) error {
		var ferr error
		times, ferr = a.api.AvailableTimes(ctx, businessID, practitionerID, appointmentTypeID, from, to)
		return ferr
	})
	if err != nil {
		return nil, fmt.Errorf("availability: fetch slots for practitioner %s: %w", practitionerID, err)
	}

	slots := make([]Slot, 0, len(times))
	for _, t := range times {
		slots = append(slots, Slot{
			StartTime:         t.AppointmentStart,
			EndTime:           t.AppointmentStart.Add(duration),
			PractitionerID:    practitionerID,
			PractitionerName:  practitionerName,
			AppointmentTypeID: appointmentTypeID,
		})
	}
	a.cache.Set(ctx, key, slots, a.cacheTTL)
	return slots, nil
}

// ensureDefaults fills any missing business/practitioner/appointment-type
// configuration from the scheduler's listing endpoints, picking the first
// eligible entry. Runs the listings at most once per process.
func (a *Aggregator) ensureDefaults(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.businessID == "" {
		businesses, err := a.api.ListBusinesses(ctx)
		if err != nil {
			return fmt.Errorf("availability: list businesses: %w", err)
		}
		if len(businesses) == 0 {
			return fmt.Errorf("%w: no businesses", ErrNoEligibleConfig)
		}
		a.businessID = businesses[0].ID
		a.logger.Info("auto-selected business", "business_id", a.businessID)
	}

	if a.practitionerID == "" {
		practitioners, err := a.api.ListPractitioners(ctx)
		if err != nil {
			return fmt.Errorf("availability: list practitioners: %w", err)
		}
		for _, p := range practitioners {
			if p.Active {
				a.practitionerID = p.ID
				a.practitionerName = p.Name()
				break
			}
		}
		if a.practitionerID == "" {
			return fmt.Errorf("%w: no active practitioners", ErrNoEligibleConfig)
		}
		a.logger.Info("auto-selected practitioner", "practitioner_id", a.practitionerID)
	}

	if a.appointmentTypeID == "" || len(a.typeDurations) == 0 {
		types, err := a.api.ListAppointmentTypes(ctx)
		if err != nil {
			return fmt.Errorf("availability: list appointment types: %w", err)
		}
		for _, t := range types {
			a.typeDurations[t.ID] = time.Duration(t.DurationInMinutes) * time.Minute
		}
		if a.appointmentTypeID == "" {
			for _, t := range types {
				if t.ShowInOnlineBookings {
					a.appointmentTypeID = t.ID
					break
				}
			}
			if a.appointmentTypeID == "" {
				return fmt.Errorf("%w: no bookable appointment types", ErrNoEligibleConfig)
			}
			a.logger.Info("auto-selected appointment type", "appointment_type_id", a.appointmentTypeID)
		}
	}

	return nil
}

// AppointmentDuration returns the configured duration for an appointment
// type, defaulting to 30 minutes when the scheduler did not report one.
func (a *Aggregator) AppointmentDuration(ctx context.Context, appointmentTypeID string) time.Duration {
	if err := a.ensureDefaults(ctx); err != nil {
		return 30 * time.Minute
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if d := a.typeDurations[appointmentTypeID]; d > 0 {
		return d
	}
	return 30 * time.Minute
}

// filterFuture drops slots the caller could not reach. Returns a fresh
// slice so cached entries are never reordered or truncated in place.
func (a *Aggregator) filterFuture(slots []Slot) []Slot {
	cutoff := a.now().Add(minimumLead)
	kept := make([]Slot, 0, len(slots))
	for _, s := range slots {
		if s.StartTime.After(cutoff) {
			kept = append(kept, s)
		}
	}
	return kept
}

// partOfDayTarget maps a stated preference to a representative local
// hour used for proximity sorting.
func partOfDayTarget(partOfDay string) (int, bool) {
	switch partOfDay {
	case "morning":
		return 10, true
	case "afternoon":
		return 14, true
	case "evening":
		return 18, true
	default:
		return 0, false
	}
}

func sortSlots(slots []Slot, partOfDay string, loc *time.Location) {
	target, ok := partOfDayTarget(partOfDay)
	if !ok {
		sort.Slice(slots, func(i, j int) bool {
			return slots[i].StartTime.Before(slots[j].StartTime)
		})
		return
	}
	distance := func(s Slot) int {
		local := s.StartTime.In(loc)
		d := local.Hour() - target
		if d < 0 {
			d = -d
		}
		return d
	}
	sort.SliceStable(slots, func(i, j int) bool {
		di, dj := distance(slots[i]), distance(slots[j])
		if di != dj {
			return di < dj
		}
		return slots[i].StartTime.Before(slots[j].StartTime)
	})
}
