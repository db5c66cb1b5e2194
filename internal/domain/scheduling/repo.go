package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ProfessionalDirectory looks up professionals. Both finders return
// ErrNotFound when nothing matches.
type ProfessionalDirectory interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Professional, error)
	FindByUserID(ctx context.Context, userID uuid.UUID) (*Professional, error)
}

type ScheduleRepository interface {
	Create(ctx context.Context, s *Schedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*Schedule, error)
	Update(ctx context.Context, s *Schedule) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByProfessional(ctx context.Context, professionalID uuid.UUID, activeOnly bool) ([]*Schedule, error)
	ListActiveForDay(ctx context.Context, professionalID uuid.UUID, day DayOfWeek) ([]*Schedule, error)
	ListByDay(ctx context.Context, day DayOfWeek) ([]*ScheduleDetail, error)
	Search(ctx context.Context, f ScheduleFilter, limit, offset int) ([]*Schedule, int, error)
}

type ExceptionRepository interface {
	Create(ctx context.Context, e *Exception) error
	GetByID(ctx context.Context, id uuid.UUID) (*Exception, error)
	GetDetail(ctx context.Context, id uuid.UUID) (*ExceptionDetail, error)
	Update(ctx context.Context, e *Exception) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByProfessionalDate(ctx context.Context, professionalID uuid.UUID, date string) ([]*Exception, error)
	Search(ctx context.Context, f ExceptionFilter, limit, offset int) ([]*Exception, int, error)
	DeleteByProfessional(ctx context.Context, professionalID uuid.UUID) (int64, error)
	DeleteByProfessionalRange(ctx context.Context, professionalID uuid.UUID, from, to string) (int64, error)
}

type SlotRepository interface {
	Create(ctx context.Context, t *TimeSlot) error
	GetByID(ctx context.Context, id uuid.UUID) (*TimeSlot, error)
	GetDetail(ctx context.Context, id uuid.UUID) (*SlotDetail, error)
	Update(ctx context.Context, t *TimeSlot) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByProfessionalDate(ctx context.Context, professionalID uuid.UUID, date string) ([]*TimeSlot, error)
	ListByProfessional(ctx context.Context, professionalID uuid.UUID, f SlotFilter) ([]*TimeSlot, int, error)
	DeleteUnusedBefore(ctx context.Context, before string) (int64, error)
}

// WriteLocker serializes the read-validate-write sequence of mutations that
// share a key. fn receives a context that carries the lock's transaction.
type WriteLocker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Cache stores serialized availability per namespace.
type Cache interface {
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)
	Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error
	InvalidateNamespace(ctx context.Context, namespace string) error
}

func professionalLockKey(professionalID uuid.UUID) string {
	return "professional:" + professionalID.String()
}
