package scheduling

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/DevCuidame/clin-sync-backend-sub001/internal/platform/interval"
)

const (
	defaultMaxVirtualSlots = 50
	preGenerateLockTTL     = 10 * time.Minute
)

// JobLock keeps a batch job from running twice for the same key. Lock
// reports false when another holder has the key.
type JobLock interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// AvailabilityOptions tunes a single availability request. Zero values pick
// the configured defaults.
type AvailabilityOptions struct {
	Duration        int
	AutoGenerate    *bool
	PersistPopular  bool
	MaxVirtualSlots int
}

type AvailabilityResult struct {
	Slots       []*AvailableSlot `json:"slots"`
	IsGenerated bool             `json:"is_generated"`
	Total       int              `json:"total"`
	Persisted   int              `json:"persisted,omitempty"`
}

type DateAvailability struct {
	Date        string           `json:"date"`
	IsAvailable bool             `json:"is_available"`
	Slots       []*AvailableSlot `json:"slots"`
	IsGenerated bool             `json:"is_generated"`
}

type SlotStatistics struct {
	TotalSlots     int `json:"total_slots"`
	ExistingSlots  int `json:"existing_slots"`
	VirtualSlots   int `json:"virtual_slots"`
	AvailableSlots int `json:"available_slots"`
	BookedSlots    int `json:"booked_slots"`
}

// PreGenerateReport counts persisted slots (Generated), dates that already
// had slots (Skipped) and slots or dates that failed (Errors).
type PreGenerateReport struct {
	Generated int `json:"generated"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// OrchestratorDeps are the collaborators of an Orchestrator. Cache and
// JobLock may be nil.
type OrchestratorDeps struct {
	Slots       SlotRepository
	SlotService *SlotService
	Generator   *Generator
	Resolver    *Resolver
	Cache       *AvailabilityCache
	JobLock     JobLock
	Logger      zerolog.Logger
}

// Orchestrator answers availability queries: persisted slots when there are
// any, otherwise slots generated on demand from schedules and exceptions.
type Orchestrator struct {
	cfg       HybridConfig
	slots     SlotRepository
	slotSvc   *SlotService
	generator *Generator
	resolver  *Resolver
	cache     *AvailabilityCache
	jobLock   JobLock
	logger    zerolog.Logger
	now       func() time.Time
}

func NewOrchestrator(cfg HybridConfig, deps OrchestratorDeps) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Slots == nil || deps.SlotService == nil || deps.Generator == nil || deps.Resolver == nil {
		return nil, fmt.Errorf("orchestrator: slots, slot service, generator and resolver are required")
	}
	cache := deps.Cache
	if !cfg.Performance.CacheEnabled {
		cache = nil
	}
	return &Orchestrator{
		cfg:       cfg,
		slots:     deps.Slots,
		slotSvc:   deps.SlotService,
		generator: deps.Generator,
		resolver:  deps.Resolver,
		cache:     cache,
		jobLock:   deps.JobLock,
		logger:    deps.Logger,
		now:       time.Now,
	}, nil
}

func (o *Orchestrator) Config() HybridConfig { return o.cfg }

// dateRange parses [start, end]; an empty end means a single day.
func dateRange(start, end string) (time.Time, time.Time, error) {
	from, err := interval.ParseDate(start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to := from
	if end != "" {
		if to, err = interval.ParseDate(end); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if err := interval.ValidateDateRange(from, to); err != nil {
		return time.Time{}, time.Time{}, err
	}
	if n := interval.DaysBetween(from, to); n > MaxBulkDays {
		return time.Time{}, time.Time{}, invalid("date range spans %d days, at most %d allowed", n, MaxBulkDays)
	}
	return from, to, nil
}

func (o *Orchestrator) duration(d int) (int, error) {
	if d == 0 {
		return o.cfg.DefaultDuration, nil
	}
	ag := o.cfg.AutoGenerate
	if d < ag.MinSlotDuration || d > ag.MaxSlotDuration {
		return 0, invalid("duration %d outside [%d, %d]", d, ag.MinSlotDuration, ag.MaxSlotDuration)
	}
	return d, nil
}

func (o *Orchestrator) maxVirtual(n int) int {
	if n <= 0 {
		n = defaultMaxVirtualSlots
	}
	if n > o.cfg.AutoGenerate.MaxSlotsPerDay {
		n = o.cfg.AutoGenerate.MaxSlotsPerDay
	}
	return n
}

// GetAvailableSlots returns the bookable slots of a professional in
// [startDate, endDate]. Persisted available slots win; the generator only
// runs when there are none.
func (o *Orchestrator) GetAvailableSlots(ctx context.Context, professionalID uuid.UUID, startDate, endDate string, opts AvailabilityOptions) (*AvailabilityResult, error) {
	from, to, err := dateRange(startDate, endDate)
	if err != nil {
		return nil, err
	}
	duration, err := o.duration(opts.Duration)
	if err != nil {
		return nil, err
	}
	pid, err := o.resolver.Resolve(ctx, professionalID)
	if err != nil {
		return nil, err
	}
	return o.availableSlots(ctx, pid, from, to, duration, opts)
}

// availableSlots is GetAvailableSlots for an already resolved professional,
// parsed range and validated duration.
func (o *Orchestrator) availableSlots(ctx context.Context, pid uuid.UUID, from, to time.Time, duration int, opts AvailabilityOptions) (*AvailabilityResult, error) {
	fromStr, toStr := interval.FormatDate(from), interval.FormatDate(to)

	persisted, _, err := o.slots.ListByProfessional(ctx, pid, SlotFilter{DateFrom: &fromStr, DateTo: &toStr, AvailableOnly: true})
	if err != nil {
		return nil, fmt.Errorf("list persisted slots: %w", err)
	}
	if len(persisted) > 0 {
		res := &AvailabilityResult{Slots: make([]*AvailableSlot, 0, len(persisted))}
		for _, t := range persisted {
			res.Slots = append(res.Slots, availableFromSlot(t))
		}
		res.Total = len(res.Slots)
		return res, nil
	}

	autoGenerate := opts.AutoGenerate == nil || *opts.AutoGenerate
	if !o.cfg.AutoGenerate.Enabled || !autoGenerate {
		return &AvailabilityResult{Slots: []*AvailableSlot{}}, nil
	}

	limit := o.maxVirtual(opts.MaxVirtualSlots)
	key := fmt.Sprintf("%s:%s:%d:%d", fromStr, toStr, duration, limit)
	virtual, hit := o.cache.get(ctx, pid, key)
	if !hit {
		var failed int
		virtual, failed = o.generateRange(ctx, pid, interval.Dates(from, to), duration, limit)
		// a partial answer is served but never cached
		if failed == 0 {
			o.cache.set(ctx, pid, key, virtual)
		}
	}

	res := &AvailabilityResult{Slots: virtual, IsGenerated: true, Total: len(virtual)}
	if opts.PersistPopular && o.cfg.Persistence.Enabled && len(virtual) > 0 {
		res.Persisted = o.persistPopular(ctx, pid, virtual)
	}
	return res, nil
}

// generateRange runs the generator for each date, at most
// MaxConcurrentGenerations at a time, and concatenates the results in date
// order up to limit slots. A date whose generation fails contributes nothing;
// the second result counts those dates.
func (o *Orchestrator) generateRange(ctx context.Context, pid uuid.UUID, dates []time.Time, duration, limit int) ([]*AvailableSlot, int) {
	out := []*AvailableSlot{}
	var failures atomic.Int32
	batch := o.cfg.Performance.MaxConcurrentGenerations

	for i := 0; i < len(dates) && len(out) < limit; i += batch {
		chunk := dates[i:min(i+batch, len(dates))]
		perDate := make([][]*AvailableSlot, len(chunk))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(batch)
		for j, d := range chunk {
			j, d := j, d
			g.Go(func() error {
				slots, err := o.generator.Generate(gctx, pid, d, duration)
				if err != nil {
					o.logger.Warn().Err(err).
						Str("professional_id", pid.String()).
						Str("date", interval.FormatDate(d)).
						Msg("slot generation failed, treating date as unavailable")
					failures.Add(1)
					return nil
				}
				perDate[j] = slots
				return nil
			})
		}
		_ = g.Wait()

		for _, slots := range perDate {
			for _, s := range slots {
				if len(out) == limit {
					return out, int(failures.Load())
				}
				out = append(out, s)
			}
		}
	}
	return out, int(failures.Load())
}

// persistPopular stores the first PopularityThreshold virtual slots and
// returns how many were written. Individual failures are logged.
func (o *Orchestrator) persistPopular(ctx context.Context, pid uuid.UUID, virtual []*AvailableSlot) int {
	n := min(o.cfg.Persistence.PopularityThreshold, len(virtual))
	stored := 0
	for _, v := range virtual[:n] {
		if err := o.persist(ctx, v); err != nil {
			o.logger.Warn().Err(err).
				Str("professional_id", pid.String()).
				Str("date", v.SlotDate).
				Str("start_time", v.StartTime).
				Msg("failed to persist generated slot")
			continue
		}
		stored++
	}
	if stored > 0 {
		o.cache.invalidate(ctx, pid)
	}
	return stored
}

func (o *Orchestrator) persist(ctx context.Context, v *AvailableSlot) error {
	t := v.toTimeSlot()
	if err := validateSlot(t); err != nil {
		return err
	}
	return o.slotSvc.insert(ctx, t)
}

func (o *Orchestrator) GetAvailabilityForDate(ctx context.Context, professionalID uuid.UUID, date string, duration int) (*DateAvailability, error) {
	res, err := o.GetAvailableSlots(ctx, professionalID, date, date, AvailabilityOptions{Duration: duration})
	if err != nil {
		return nil, err
	}
	return &DateAvailability{
		Date:        date,
		IsAvailable: len(res.Slots) > 0,
		Slots:       res.Slots,
		IsGenerated: res.IsGenerated,
	}, nil
}

// GetSlotStatistics combines the hybrid view with every persisted slot in
// the range, whatever its status.
func (o *Orchestrator) GetSlotStatistics(ctx context.Context, professionalID uuid.UUID, startDate, endDate string) (*SlotStatistics, error) {
	from, to, err := dateRange(startDate, endDate)
	if err != nil {
		return nil, err
	}
	pid, err := o.resolver.Resolve(ctx, professionalID)
	if err != nil {
		return nil, err
	}
	hybrid, err := o.availableSlots(ctx, pid, from, to, o.cfg.DefaultDuration, AvailabilityOptions{})
	if err != nil {
		return nil, err
	}
	fromStr, toStr := interval.FormatDate(from), interval.FormatDate(to)
	all, _, err := o.slots.ListByProfessional(ctx, pid, SlotFilter{DateFrom: &fromStr, DateTo: &toStr})
	if err != nil {
		return nil, fmt.Errorf("list persisted slots: %w", err)
	}

	stats := &SlotStatistics{ExistingSlots: len(all)}
	if hybrid.IsGenerated {
		stats.VirtualSlots = hybrid.Total
	}
	for _, t := range all {
		if t.Bookable() {
			stats.AvailableSlots++
		}
		if t.Status == SlotBooked {
			stats.BookedSlots++
		}
	}
	stats.AvailableSlots += stats.VirtualSlots
	stats.TotalSlots = stats.ExistingSlots + stats.VirtualSlots
	return stats, nil
}

// PreGenerateSlots persists generated slots for every date in the range that
// has no persisted slot yet. Running it twice over the same range persists
// nothing the second time.
func (o *Orchestrator) PreGenerateSlots(ctx context.Context, professionalID uuid.UUID, startDate, endDate string, duration int) (*PreGenerateReport, error) {
	from, to, err := dateRange(startDate, endDate)
	if err != nil {
		return nil, err
	}
	if duration, err = o.duration(duration); err != nil {
		return nil, err
	}
	pid, err := o.resolver.Resolve(ctx, professionalID)
	if err != nil {
		return nil, err
	}

	if o.jobLock != nil {
		key := "pregenerate:" + pid.String()
		ok, err := o.jobLock.Lock(ctx, key, preGenerateLockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire pre-generation lock: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: pre-generation for professional %s", ErrBusy, pid)
		}
		defer func() {
			if err := o.jobLock.Unlock(context.WithoutCancel(ctx), key); err != nil {
				o.logger.Warn().Err(err).Str("key", key).Msg("failed to release pre-generation lock")
			}
		}()
	}

	report := &PreGenerateReport{}
	for _, day := range interval.Dates(from, to) {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		date := interval.FormatDate(day)
		log := o.logger.With().Str("professional_id", pid.String()).Str("date", date).Logger()

		existing, err := o.slots.ListByProfessionalDate(ctx, pid, date)
		if err != nil {
			log.Error().Err(err).Msg("pre-generation: listing persisted slots failed")
			report.Errors++
			continue
		}
		if len(existing) > 0 {
			report.Skipped++
			continue
		}

		virtual, err := o.generator.Generate(ctx, pid, day, duration)
		if err != nil {
			log.Error().Err(err).Msg("pre-generation: generation failed")
			report.Errors++
			continue
		}
		for _, v := range virtual {
			if err := o.persist(ctx, v); err != nil {
				log.Warn().Err(err).Str("start_time", v.StartTime).Msg("pre-generation: persisting slot failed")
				report.Errors++
				continue
			}
			report.Generated++
		}
	}

	if report.Generated > 0 {
		o.cache.invalidate(ctx, pid)
	}
	o.logger.Info().
		Str("professional_id", pid.String()).
		Int("generated", report.Generated).
		Int("skipped", report.Skipped).
		Int("errors", report.Errors).
		Msg("slot pre-generation finished")
	return report, nil
}

// CleanupStaleSlots deletes untouched available slots dated more than
// Persistence.CleanupAfterDays days ago.
func (o *Orchestrator) CleanupStaleSlots(ctx context.Context) (int64, error) {
	cutoff := o.now().UTC().AddDate(0, 0, -o.cfg.Persistence.CleanupAfterDays)
	n, err := o.slots.DeleteUnusedBefore(ctx, interval.FormatDate(cutoff))
	if err != nil {
		return 0, fmt.Errorf("cleanup stale slots: %w", err)
	}
	o.logger.Info().Int64("deleted", n).Str("before", interval.FormatDate(cutoff)).Msg("stale slot cleanup finished")
	return n, nil
}

// StartCleanup runs CleanupStaleSlots every period until ctx is done. It does
// nothing unless Persistence.AutoCleanup is set.
func (o *Orchestrator) StartCleanup(ctx context.Context, period time.Duration) {
	if !o.cfg.Persistence.AutoCleanup || period <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := o.CleanupStaleSlots(ctx); err != nil {
					o.logger.Error().Err(err).Msg("scheduled slot cleanup failed")
				}
			}
		}
	}()
}
