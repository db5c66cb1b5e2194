package scheduling

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/DevCuidame/clin-sync-backend-sub001/internal/platform/interval"
)

// ExceptionService manages date-specific availability overrides.
type ExceptionService struct {
	repo     ExceptionRepository
	resolver *Resolver
	locker   WriteLocker
	cache    *AvailabilityCache
}

func NewExceptionService(repo ExceptionRepository, resolver *Resolver, locker WriteLocker, cache *AvailabilityCache) *ExceptionService {
	return &ExceptionService{repo: repo, resolver: resolver, locker: locker, cache: cache}
}

func validateException(e *Exception) error {
	if e.ProfessionalID == uuid.Nil {
		return invalid("professional_id is required")
	}
	if !validExceptionTypes[e.Type] {
		return invalid("invalid exception type: %q", e.Type)
	}
	if _, err := interval.ParseDate(e.ExceptionDate); err != nil {
		return err
	}
	if e.FullDay() {
		return nil
	}
	if e.StartTime == nil || e.EndTime == nil {
		return invalid("start_time and end_time must be given together")
	}
	start, end, err := interval.ParseTimeRange(*e.StartTime, *e.EndTime)
	if err != nil {
		return err
	}
	s, en := interval.FormatTime(start), interval.FormatTime(end)
	e.StartTime, e.EndTime = &s, &en
	return nil
}

// exceptionsConflict applies the per-date overlap rule. Breaks only collide
// with breaks and other types only with other types. Two full-day
// exceptions collide; a full-day exception is not compared with a timed one.
func exceptionsConflict(a, b *Exception) bool {
	if (a.Type == ExceptionBreak) != (b.Type == ExceptionBreak) {
		return false
	}
	if a.FullDay() && b.FullDay() {
		return true
	}
	as, ae, aok := a.window()
	bs, be, bok := b.window()
	if !aok || !bok {
		return false
	}
	return interval.Overlaps(as, ae, bs, be)
}

func (s *ExceptionService) checkOverlap(ctx context.Context, cand *Exception) error {
	existing, err := s.repo.ListByProfessionalDate(ctx, cand.ProfessionalID, cand.ExceptionDate)
	if err != nil {
		return fmt.Errorf("list exceptions for overlap check: %w", err)
	}
	for _, ex := range existing {
		if ex.ID == cand.ID {
			continue
		}
		if exceptionsConflict(cand, ex) {
			oe := &OverlapError{
				Entity:     string(ex.Type) + " exception",
				ConflictID: ex.ID.String(),
				Date:       ex.ExceptionDate,
			}
			if ex.StartTime != nil && ex.EndTime != nil {
				oe.StartTime, oe.EndTime = *ex.StartTime, *ex.EndTime
			}
			return oe
		}
	}
	return nil
}

func (s *ExceptionService) Create(ctx context.Context, e *Exception) error {
	if err := validateException(e); err != nil {
		return err
	}
	pid, err := s.resolver.Resolve(ctx, e.ProfessionalID)
	if err != nil {
		return err
	}
	e.ProfessionalID = pid

	err = s.locker.WithLock(ctx, professionalLockKey(pid), func(ctx context.Context) error {
		if err := s.checkOverlap(ctx, e); err != nil {
			return err
		}
		return s.repo.Create(ctx, e)
	})
	if err != nil {
		return err
	}
	s.cache.invalidate(ctx, pid)
	return nil
}

// BulkCreate creates each exception independently; a failed item does not
// abort the batch.
func (s *ExceptionService) BulkCreate(ctx context.Context, items []*Exception) *BulkResult[Exception] {
	res := newBulkResult[Exception]()
	for i, item := range items {
		if err := s.Create(ctx, item); err != nil {
			res.fail(i, item, err)
			continue
		}
		res.Succeeded = append(res.Succeeded, item)
	}
	return res
}

func (s *ExceptionService) GetAll(ctx context.Context, limit, offset int) ([]*Exception, int, error) {
	return s.repo.Search(ctx, ExceptionFilter{}, limit, offset)
}

func (s *ExceptionService) GetByID(ctx context.Context, id uuid.UUID) (*ExceptionDetail, error) {
	return s.repo.GetDetail(ctx, id)
}

func (s *ExceptionService) GetByProfessional(ctx context.Context, professionalID uuid.UUID, limit, offset int) ([]*Exception, int, error) {
	pid, err := s.resolver.Resolve(ctx, professionalID)
	if err != nil {
		return nil, 0, err
	}
	return s.repo.Search(ctx, ExceptionFilter{ProfessionalID: &pid}, limit, offset)
}

func (s *ExceptionService) GetByType(ctx context.Context, t ExceptionType, limit, offset int) ([]*Exception, int, error) {
	if !validExceptionTypes[t] {
		return nil, 0, invalid("invalid exception type: %q", t)
	}
	return s.repo.Search(ctx, ExceptionFilter{Type: &t}, limit, offset)
}

func (s *ExceptionService) GetByDateRange(ctx context.Context, from, to string, limit, offset int) ([]*Exception, int, error) {
	if err := validateDateRange(from, to); err != nil {
		return nil, 0, err
	}
	return s.repo.Search(ctx, ExceptionFilter{DateFrom: &from, DateTo: &to}, limit, offset)
}

// Search filters exceptions. A specific date replaces the range bounds.
func (s *ExceptionService) Search(ctx context.Context, f ExceptionFilter, limit, offset int) ([]*Exception, int, error) {
	if f.Type != nil && !validExceptionTypes[*f.Type] {
		return nil, 0, invalid("invalid exception type: %q", *f.Type)
	}
	if f.SpecificDate != nil {
		if _, err := interval.ParseDate(*f.SpecificDate); err != nil {
			return nil, 0, err
		}
		f.DateFrom, f.DateTo = nil, nil
	}
	for _, d := range []*string{f.DateFrom, f.DateTo} {
		if d == nil {
			continue
		}
		if _, err := interval.ParseDate(*d); err != nil {
			return nil, 0, err
		}
	}
	if f.DateFrom != nil && f.DateTo != nil {
		if err := validateDateRange(*f.DateFrom, *f.DateTo); err != nil {
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

func (s *ExceptionService) Update(ctx context.Context, id uuid.UUID, u *ExceptionUpdate) (*Exception, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	pid := current.ProfessionalID

	var updated *Exception
	err = s.locker.WithLock(ctx, professionalLockKey(pid), func(ctx context.Context) error {
		e, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		u.apply(e)
		if err := validateException(e); err != nil {
			return err
		}
		if u.affectsOverlap() {
			if err := s.checkOverlap(ctx, e); err != nil {
				return err
			}
		}
		if err := s.repo.Update(ctx, e); err != nil {
			return err
		}
		updated = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.cache.invalidate(ctx, pid)
	return updated, nil
}

func (s *ExceptionService) Delete(ctx context.Context, id uuid.UUID) error {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.cache.invalidate(ctx, e.ProfessionalID)
	return nil
}

// DeleteByProfessional removes every exception of the professional and
// returns how many were deleted.
func (s *ExceptionService) DeleteByProfessional(ctx context.Context, professionalID uuid.UUID) (int64, error) {
	pid, err := s.resolver.Resolve(ctx, professionalID)
	if err != nil {
		return 0, err
	}
	n, err := s.repo.DeleteByProfessional(ctx, pid)
	if err != nil {
		return 0, err
	}
	s.cache.invalidate(ctx, pid)
	return n, nil
}

// DeleteByProfessionalDateRange removes the professional's exceptions dated
// within [from, to].
func (s *ExceptionService) DeleteByProfessionalDateRange(ctx context.Context, professionalID uuid.UUID, from, to string) (int64, error) {
	if err := validateDateRange(from, to); err != nil {
		return 0, err
	}
	pid, err := s.resolver.Resolve(ctx, professionalID)
	if err != nil {
		return 0, err
	}
	n, err := s.repo.DeleteByProfessionalRange(ctx, pid, from, to)
	if err != nil {
		return 0, err
	}
	s.cache.invalidate(ctx, pid)
	return n, nil
}

// validateDateRange parses both dates and checks from <= to.
func validateDateRange(from, to string) error {
	f, err := interval.ParseDate(from)
	if err != nil {
		return err
	}
	t, err := interval.ParseDate(to)
	if err != nil {
		return err
	}
	return interval.ValidateDateRange(f, t)
}
