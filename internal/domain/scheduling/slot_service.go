package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/DevCuidame/clin-sync-backend-sub001/internal/platform/interval"
)

// MaxBulkDays bounds the date range of a single bulk generation request.
const MaxBulkDays = 366

// SlotService manages persisted time slots.
type SlotService struct {
	repo     SlotRepository
	resolver *Resolver
	locker   WriteLocker
	cache    *AvailabilityCache
}

func NewSlotService(repo SlotRepository, resolver *Resolver, locker WriteLocker, cache *AvailabilityCache) *SlotService {
	return &SlotService{repo: repo, resolver: resolver, locker: locker, cache: cache}
}

// validateSlot checks formats and capacity and fills defaults: status
// available, max_bookings 1, duration derived from the time range.
func validateSlot(t *TimeSlot) error {
	if t.ProfessionalID == uuid.Nil {
		return invalid("professional_id is required")
	}
	if _, err := interval.ParseDate(t.SlotDate); err != nil {
		return err
	}
	start, end, err := interval.ParseTimeRange(t.StartTime, t.EndTime)
	if err != nil {
		return err
	}
	t.StartTime, t.EndTime = interval.FormatTime(start), interval.FormatTime(end)

	switch {
	case t.DurationMinutes == 0:
		t.DurationMinutes = end - start
	case t.DurationMinutes != end-start:
		return invalid("duration_minutes %d does not match %s-%s", t.DurationMinutes, t.StartTime, t.EndTime)
	}

	if t.Status == "" {
		t.Status = SlotAvailable
	}
	if !validSlotStatuses[t.Status] {
		return invalid("invalid status: %q", t.Status)
	}
	if t.MaxBookings == 0 {
		t.MaxBookings = 1
	}
	if t.MaxBookings < 0 {
		return invalid("max_bookings must be positive")
	}
	if t.CurrentBookings < 0 {
		return invalid("current_bookings must not be negative")
	}
	if t.CurrentBookings > t.MaxBookings {
		return invalid("current_bookings %d exceeds max_bookings %d", t.CurrentBookings, t.MaxBookings)
	}
	if t.PriceOverride != nil && *t.PriceOverride < 0 {
		return invalid("price_override must not be negative")
	}
	return nil
}

// checkOverlap compares cand against every slot of the professional on the
// same date, whatever its status.
func (s *SlotService) checkOverlap(ctx context.Context, cand *TimeSlot) error {
	cs, ce, err := interval.ParseTimeRange(cand.StartTime, cand.EndTime)
	if err != nil {
		return err
	}
	existing, err := s.repo.ListByProfessionalDate(ctx, cand.ProfessionalID, cand.SlotDate)
	if err != nil {
		return fmt.Errorf("list slots for overlap check: %w", err)
	}
	for _, ex := range existing {
		if ex.ID == cand.ID {
			continue
		}
		es, ee, err := interval.ParseTimeRange(ex.StartTime, ex.EndTime)
		if err != nil {
			continue
		}
		if interval.Overlaps(cs, ce, es, ee) {
			return &OverlapError{
				Entity:     string(ex.Status) + " slot",
				ConflictID: ex.ID.String(),
				Date:       ex.SlotDate,
				StartTime:  ex.StartTime,
				EndTime:    ex.EndTime,
			}
		}
	}
	return nil
}

func (s *SlotService) Create(ctx context.Context, t *TimeSlot) error {
	if err := validateSlot(t); err != nil {
		return err
	}
	pid, err := s.resolver.Resolve(ctx, t.ProfessionalID)
	if err != nil {
		return err
	}
	t.ProfessionalID = pid
	if err := s.insert(ctx, t); err != nil {
		return err
	}
	s.cache.invalidate(ctx, pid)
	return nil
}

// insert runs the overlap check and the write under the professional lock.
// t must already be validated and carry a resolved professional id.
func (s *SlotService) insert(ctx context.Context, t *TimeSlot) error {
	return s.locker.WithLock(ctx, professionalLockKey(t.ProfessionalID), func(ctx context.Context) error {
		if err := s.checkOverlap(ctx, t); err != nil {
			return err
		}
		return s.repo.Create(ctx, t)
	})
}

// bulkPlan is a validated BulkSlotRequest.
type bulkPlan struct {
	from, to   time.Time
	start, end int
	days       map[time.Weekday]bool
	exclude    map[string]bool
}

func planBulk(req *BulkSlotRequest) (*bulkPlan, error) {
	if req.ProfessionalID == uuid.Nil {
		return nil, invalid("professional_id is required")
	}
	from, err := interval.ParseDate(req.StartDate)
	if err != nil {
		return nil, err
	}
	to, err := interval.ParseDate(req.EndDate)
	if err != nil {
		return nil, err
	}
	if err := interval.ValidateDateRange(from, to); err != nil {
		return nil, err
	}
	if n := interval.DaysBetween(from, to); n > MaxBulkDays {
		return nil, invalid("date range spans %d days, at most %d allowed", n, MaxBulkDays)
	}
	start, end, err := interval.ParseTimeRange(req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}
	if req.DurationMinutes <= 0 {
		return nil, invalid("duration_minutes must be positive")
	}
	if req.BreakMinutes < 0 {
		return nil, invalid("break_minutes must not be negative")
	}

	p := &bulkPlan{from: from, to: to, start: start, end: end, exclude: map[string]bool{}}
	if len(req.DaysOfWeek) > 0 {
		p.days = make(map[time.Weekday]bool, len(req.DaysOfWeek))
		for _, d := range req.DaysOfWeek {
			if d < 0 || d > 6 {
				return nil, invalid("days_of_week entries must be 0-6, got %d", d)
			}
			p.days[time.Weekday(d)] = true
		}
	}
	for _, d := range req.ExcludeDates {
		if _, err := interval.ParseDate(d); err != nil {
			return nil, err
		}
		p.exclude[d] = true
	}
	return p, nil
}

// BulkGenerate creates slots of req.DurationMinutes across each matching day
// of the range, separated by req.BreakMinutes. Slots are created one by one;
// a rejected slot is reported and the rest continue.
func (s *SlotService) BulkGenerate(ctx context.Context, req *BulkSlotRequest) (*BulkResult[TimeSlot], error) {
	plan, err := planBulk(req)
	if err != nil {
		return nil, err
	}
	pid, err := s.resolver.Resolve(ctx, req.ProfessionalID)
	if err != nil {
		return nil, err
	}

	res := newBulkResult[TimeSlot]()
	idx := 0
	for _, day := range interval.Dates(plan.from, plan.to) {
		date := interval.FormatDate(day)
		if plan.days != nil && !plan.days[day.Weekday()] {
			continue
		}
		if plan.exclude[date] {
			continue
		}
		for _, w := range interval.Windows(plan.start, plan.end, req.DurationMinutes, req.DurationMinutes+req.BreakMinutes) {
			t := &TimeSlot{
				ProfessionalID:  pid,
				SlotDate:        date,
				StartTime:       interval.FormatTime(w.Start),
				EndTime:         interval.FormatTime(w.End),
				DurationMinutes: req.DurationMinutes,
				Status:          SlotAvailable,
				PriceOverride:   req.PriceOverride,
				MaxBookings:     req.MaxBookings,
				Metadata:        req.Metadata,
			}
			err := validateSlot(t)
			if err == nil {
				err = s.insert(ctx, t)
			}
			if err != nil {
				res.fail(idx, t, err)
			} else {
				res.Succeeded = append(res.Succeeded, t)
			}
			idx++
		}
	}
	if len(res.Succeeded) > 0 {
		s.cache.invalidate(ctx, pid)
	}
	return res, nil
}

func (s *SlotService) GetByID(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *SlotService) GetByIDWithProfessional(ctx context.Context, id uuid.UUID) (*SlotDetail, error) {
	return s.repo.GetDetail(ctx, id)
}

// ListByProfessional returns the professional's slots matching f and the
// total number of matches.
func (s *SlotService) ListByProfessional(ctx context.Context, professionalID uuid.UUID, f SlotFilter) ([]*TimeSlot, int, error) {
	if f.DateFrom != nil {
		if _, err := interval.ParseDate(*f.DateFrom); err != nil {
			return nil, 0, err
		}
	}
	if f.DateTo != nil {
		if _, err := interval.ParseDate(*f.DateTo); err != nil {
			return nil, 0, err
		}
	}
	if f.DateFrom != nil && f.DateTo != nil {
		if err := validateDateRange(*f.DateFrom, *f.DateTo); err != nil {
			return nil, 0, err
		}
	}
	if f.Status != nil && !validSlotStatuses[*f.Status] {
		return nil, 0, invalid("invalid status: %q", *f.Status)
	}
	pid, err := s.resolver.Resolve(ctx, professionalID)
	if err != nil {
		return nil, 0, err
	}
	return s.repo.ListByProfessional(ctx, pid, f)
}

func (s *SlotService) Update(ctx context.Context, id uuid.UUID, u *SlotUpdate) (*TimeSlot, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	pid := current.ProfessionalID

	var updated *TimeSlot
	err = s.locker.WithLock(ctx, professionalLockKey(pid), func(ctx context.Context) error {
		t, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		u.apply(t)
		if err := validateSlot(t); err != nil {
			return err
		}
		if u.affectsOverlap() {
			if err := s.checkOverlap(ctx, t); err != nil {
				return err
			}
		}
		if err := s.repo.Update(ctx, t); err != nil {
			return err
		}
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.cache.invalidate(ctx, pid)
	return updated, nil
}

func (s *SlotService) Delete(ctx context.Context, id uuid.UUID) error {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.cache.invalidate(ctx, t.ProfessionalID)
	return nil
}
