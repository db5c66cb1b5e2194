package scheduling

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/DevCuidame/clin-sync-backend-sub001/internal/platform/interval"
)

// ScheduleService manages recurring weekly schedules.
type ScheduleService struct {
	repo     ScheduleRepository
	resolver *Resolver
	locker   WriteLocker
	cache    *AvailabilityCache
}

func NewScheduleService(repo ScheduleRepository, resolver *Resolver, locker WriteLocker, cache *AvailabilityCache) *ScheduleService {
	return &ScheduleService{repo: repo, resolver: resolver, locker: locker, cache: cache}
}

// validateSchedule checks field formats, the time range, validity dates and
// the break, normalizing times to zero-padded HH:MM.
func validateSchedule(s *Schedule) error {
	if s.ProfessionalID == uuid.Nil {
		return invalid("professional_id is required")
	}
	if !s.DayOfWeek.Valid() {
		return invalid("invalid day_of_week: %q", s.DayOfWeek)
	}

	start, end, err := interval.ParseTimeRange(s.StartTime, s.EndTime)
	if err != nil {
		return err
	}
	s.StartTime, s.EndTime = interval.FormatTime(start), interval.FormatTime(end)

	if s.ValidFrom != nil {
		if _, err := interval.ParseDate(*s.ValidFrom); err != nil {
			return err
		}
	}
	if s.ValidUntil != nil {
		if _, err := interval.ParseDate(*s.ValidUntil); err != nil {
			return err
		}
	}
	if s.ValidFrom != nil && s.ValidUntil != nil && *s.ValidFrom > *s.ValidUntil {
		return fmt.Errorf("%w: valid_from %s is after valid_until %s", ErrInvalidRange, *s.ValidFrom, *s.ValidUntil)
	}

	if !s.HasBreak {
		s.BreakStartTime, s.BreakEndTime = nil, nil
		return nil
	}
	if s.BreakStartTime == nil || s.BreakEndTime == nil {
		return fmt.Errorf("%w: break_start_time and break_end_time are required when has_break is set", ErrInvalidBreak)
	}
	bs, err := interval.ParseTime(*s.BreakStartTime)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBreak, err)
	}
	be, err := interval.ParseTime(*s.BreakEndTime)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBreak, err)
	}
	if bs >= be {
		return fmt.Errorf("%w: break start %s must be before break end %s", ErrInvalidBreak, interval.FormatTime(bs), interval.FormatTime(be))
	}
	if bs < start || be > end {
		return fmt.Errorf("%w: break %s-%s is outside schedule %s-%s", ErrInvalidBreak,
			interval.FormatTime(bs), interval.FormatTime(be), s.StartTime, s.EndTime)
	}
	bsStr, beStr := interval.FormatTime(bs), interval.FormatTime(be)
	s.BreakStartTime, s.BreakEndTime = &bsStr, &beStr
	return nil
}

// checkOverlap rejects cand when another active schedule of the same
// professional and day, with an intersecting validity range, overlaps it.
func (s *ScheduleService) checkOverlap(ctx context.Context, cand *Schedule) error {
	if !cand.Active() {
		return nil
	}
	cs, ce, err := interval.ParseTimeRange(cand.StartTime, cand.EndTime)
	if err != nil {
		return err
	}

	existing, err := s.repo.ListActiveForDay(ctx, cand.ProfessionalID, cand.DayOfWeek)
	if err != nil {
		return fmt.Errorf("list schedules for overlap check: %w", err)
	}
	for _, ex := range existing {
		if ex.ID == cand.ID || !ex.Active() || !cand.validityOverlaps(ex) {
			continue
		}
		es, ee, err := interval.ParseTimeRange(ex.StartTime, ex.EndTime)
		if err != nil {
			continue
		}
		if interval.Overlaps(cs, ce, es, ee) {
			return &OverlapError{
				Entity:     "schedule",
				ConflictID: ex.ID.String(),
				Date:       string(ex.DayOfWeek),
				StartTime:  ex.StartTime,
				EndTime:    ex.EndTime,
			}
		}
	}
	return nil
}

func (s *ScheduleService) Create(ctx context.Context, sched *Schedule) error {
	if sched.IsActive == nil {
		active := true
		sched.IsActive = &active
	}
	if err := validateSchedule(sched); err != nil {
		return err
	}
	pid, err := s.resolver.Resolve(ctx, sched.ProfessionalID)
	if err != nil {
		return err
	}
	sched.ProfessionalID = pid

	err = s.locker.WithLock(ctx, professionalLockKey(pid), func(ctx context.Context) error {
		if err := s.checkOverlap(ctx, sched); err != nil {
			return err
		}
		return s.repo.Create(ctx, sched)
	})
	if err != nil {
		return err
	}
	s.cache.invalidate(ctx, pid)
	return nil
}

// BulkCreate creates each schedule independently and reports per-item failures.
func (s *ScheduleService) BulkCreate(ctx context.Context, items []*Schedule) *BulkResult[Schedule] {
	res := newBulkResult[Schedule]()
	for i, item := range items {
		if err := s.Create(ctx, item); err != nil {
			res.fail(i, item, err)
			continue
		}
		res.Succeeded = append(res.Succeeded, item)
	}
	return res
}

func (s *ScheduleService) GetByID(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *ScheduleService) GetAll(ctx context.Context, limit, offset int) ([]*Schedule, int, error) {
	return s.repo.Search(ctx, ScheduleFilter{}, limit, offset)
}

func (s *ScheduleService) GetByProfessional(ctx context.Context, professionalID uuid.UUID, activeOnly bool) ([]*Schedule, error) {
	pid, err := s.resolver.Resolve(ctx, professionalID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListByProfessional(ctx, pid, activeOnly)
}

func (s *ScheduleService) GetByDay(ctx context.Context, day DayOfWeek) ([]*ScheduleDetail, error) {
	if !day.Valid() {
		return nil, invalid("invalid day_of_week: %q", day)
	}
	return s.repo.ListByDay(ctx, day)
}

func (s *ScheduleService) Search(ctx context.Context, f ScheduleFilter, limit, offset int) ([]*Schedule, int, error) {
	if f.DayOfWeek != nil && !f.DayOfWeek.Valid() {
		return nil, 0, invalid("invalid day_of_week: %q", *f.DayOfWeek)
	}
	if f.ValidDate != nil {
		if _, err := interval.ParseDate(*f.ValidDate); err != nil {
			return nil, 0, err
		}
	}
	if f.ProfessionalID != nil {
		pid, err := s.resolver.Resolve(ctx, *f.ProfessionalID)
		if err != nil {
			return nil, 0, err
		}
		f.ProfessionalID = &pid
	}
	return s.repo.Search(ctx, f, limit, offset)
}

// Update applies a partial update. The overlap rule is re-checked whenever
// the day, times, validity range or activation change.
func (s *ScheduleService) Update(ctx context.Context, id uuid.UUID, u *ScheduleUpdate) (*Schedule, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	pid := current.ProfessionalID

	var updated *Schedule
	err = s.locker.WithLock(ctx, professionalLockKey(pid), func(ctx context.Context) error {
		sched, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		u.apply(sched)
		if err := validateSchedule(sched); err != nil {
			return err
		}
		if u.affectsOverlap() {
			if err := s.checkOverlap(ctx, sched); err != nil {
				return err
			}
		}
		if err := s.repo.Update(ctx, sched); err != nil {
			return err
		}
		updated = sched
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.cache.invalidate(ctx, pid)
	return updated, nil
}

func (s *ScheduleService) Delete(ctx context.Context, id uuid.UUID) error {
	sched, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.cache.invalidate(ctx, sched.ProfessionalID)
	return nil
}

// ToggleActive flips is_active. Re-activating a schedule is subject to the
// overlap rule like a create.
func (s *ScheduleService) ToggleActive(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var toggled *Schedule
	err = s.locker.WithLock(ctx, professionalLockKey(current.ProfessionalID), func(ctx context.Context) error {
		sched, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		active := !sched.Active()
		sched.IsActive = &active
		if active {
			if err := s.checkOverlap(ctx, sched); err != nil {
				return err
			}
		}
		if err := s.repo.Update(ctx, sched); err != nil {
			return err
		}
		toggled = sched
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.cache.invalidate(ctx, current.ProfessionalID)
	return toggled, nil
}
