package scheduling

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/DevCuidame/clin-sync-backend-sub001/internal/platform/interval"
)

// DayOfWeek is the weekday a Schedule repeats on.
type DayOfWeek string

const (
	Monday    DayOfWeek = "MONDAY"
	Tuesday   DayOfWeek = "TUESDAY"
	Wednesday DayOfWeek = "WEDNESDAY"
	Thursday  DayOfWeek = "THURSDAY"
	Friday    DayOfWeek = "FRIDAY"
	Saturday  DayOfWeek = "SATURDAY"
	Sunday    DayOfWeek = "SUNDAY"
)

var weekdays = map[time.Weekday]DayOfWeek{
	time.Monday:    Monday,
	time.Tuesday:   Tuesday,
	time.Wednesday: Wednesday,
	time.Thursday:  Thursday,
	time.Friday:    Friday,
	time.Saturday:  Saturday,
	time.Sunday:    Sunday,
}

// DayOfWeekFor returns the DayOfWeek of the calendar date d.
func DayOfWeekFor(d time.Time) DayOfWeek {
	return weekdays[d.Weekday()]
}

// ParseDayOfWeek accepts any casing ("monday", "Monday", "MONDAY").
func ParseDayOfWeek(s string) (DayOfWeek, error) {
	d := DayOfWeek(strings.ToUpper(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", invalid("invalid day_of_week: %q", s)
	}
	return d, nil
}

func (d DayOfWeek) Valid() bool {
	for _, v := range weekdays {
		if v == d {
			return true
		}
	}
	return false
}

// Schedule is a recurring weekly availability window (professional_schedules table).
type Schedule struct {
	ID               uuid.UUID `db:"id" json:"id"`
	ProfessionalID   uuid.UUID `db:"professional_id" json:"professional_id"`
	DayOfWeek        DayOfWeek `db:"day_of_week" json:"day_of_week"`
	StartTime        string    `db:"start_time" json:"start_time"`
	EndTime          string    `db:"end_time" json:"end_time"`
	IsActive         *bool     `db:"is_active" json:"is_active,omitempty"`
	ValidFrom        *string   `db:"valid_from" json:"valid_from,omitempty"`
	ValidUntil       *string   `db:"valid_until" json:"valid_until,omitempty"`
	HasBreak         bool      `db:"has_break" json:"has_break"`
	BreakStartTime   *string   `db:"break_start_time" json:"break_start_time,omitempty"`
	BreakEndTime     *string   `db:"break_end_time" json:"break_end_time,omitempty"`
	BreakDescription *string   `db:"break_description" json:"break_description,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Active reports is_active, treating an unset flag as active.
func (s *Schedule) Active() bool {
	return s.IsActive == nil || *s.IsActive
}

// ValidOn reports whether date falls inside [valid_from, valid_until]. A
// missing bound is unbounded. Dates compare lexically in YYYY-MM-DD form.
func (s *Schedule) ValidOn(date string) bool {
	if s.ValidFrom != nil && date < *s.ValidFrom {
		return false
	}
	if s.ValidUntil != nil && date > *s.ValidUntil {
		return false
	}
	return true
}

// validityOverlaps reports whether two schedules' validity ranges intersect.
func (s *Schedule) validityOverlaps(o *Schedule) bool {
	if s.ValidUntil != nil && o.ValidFrom != nil && *s.ValidUntil < *o.ValidFrom {
		return false
	}
	if o.ValidUntil != nil && s.ValidFrom != nil && *o.ValidUntil < *s.ValidFrom {
		return false
	}
	return true
}

// ScheduleUpdate is a partial update; nil fields are left untouched.
type ScheduleUpdate struct {
	DayOfWeek        *DayOfWeek `json:"day_of_week,omitempty"`
	StartTime        *string    `json:"start_time,omitempty"`
	EndTime          *string    `json:"end_time,omitempty"`
	IsActive         *bool      `json:"is_active,omitempty"`
	ValidFrom        *string    `json:"valid_from,omitempty"`
	ValidUntil       *string    `json:"valid_until,omitempty"`
	HasBreak         *bool      `json:"has_break,omitempty"`
	BreakStartTime   *string    `json:"break_start_time,omitempty"`
	BreakEndTime     *string    `json:"break_end_time,omitempty"`
	BreakDescription *string    `json:"break_description,omitempty"`
}

// affectsOverlap reports whether the update touches a field the overlap rule reads.
func (u *ScheduleUpdate) affectsOverlap() bool {
	return u.DayOfWeek != nil || u.StartTime != nil || u.EndTime != nil ||
		u.ValidFrom != nil || u.ValidUntil != nil || (u.IsActive != nil && *u.IsActive)
}

func (u *ScheduleUpdate) apply(s *Schedule) {
	if u.DayOfWeek != nil {
		s.DayOfWeek = *u.DayOfWeek
	}
	if u.StartTime != nil {
		s.StartTime = *u.StartTime
	}
	if u.EndTime != nil {
		s.EndTime = *u.EndTime
	}
	if u.IsActive != nil {
		active := *u.IsActive
		s.IsActive = &active
	}
	if u.ValidFrom != nil {
		s.ValidFrom = u.ValidFrom
	}
	if u.ValidUntil != nil {
		s.ValidUntil = u.ValidUntil
	}
	if u.HasBreak != nil {
		s.HasBreak = *u.HasBreak
		if !s.HasBreak {
			s.BreakStartTime, s.BreakEndTime = nil, nil
		}
	}
	if u.BreakStartTime != nil {
		s.BreakStartTime = u.BreakStartTime
	}
	if u.BreakEndTime != nil {
		s.BreakEndTime = u.BreakEndTime
	}
	if u.BreakDescription != nil {
		s.BreakDescription = u.BreakDescription
	}
}

// ScheduleFilter narrows Search. ValidDate keeps schedules whose validity
// range contains that date.
type ScheduleFilter struct {
	ProfessionalID *uuid.UUID
	DayOfWeek      *DayOfWeek
	IsActive       *bool
	ValidDate      *string
}

// ExceptionType classifies a date-specific override.
type ExceptionType string

const (
	ExceptionUnavailable ExceptionType = "unavailable"
	ExceptionAvailable   ExceptionType = "available"
	ExceptionBreak       ExceptionType = "break"
	ExceptionVacation    ExceptionType = "vacation"
)

var validExceptionTypes = map[ExceptionType]bool{
	ExceptionUnavailable: true, ExceptionAvailable: true,
	ExceptionBreak: true, ExceptionVacation: true,
}

// Exception overrides a professional's availability on one date
// (availability_exceptions table). Without times it covers the whole day.
type Exception struct {
	ID             uuid.UUID     `db:"id" json:"id"`
	ProfessionalID uuid.UUID     `db:"professional_id" json:"professional_id"`
	ExceptionDate  string        `db:"exception_date" json:"exception_date"`
	StartTime      *string       `db:"start_time" json:"start_time,omitempty"`
	EndTime        *string       `db:"end_time" json:"end_time,omitempty"`
	Type           ExceptionType `db:"exception_type" json:"type"`
	Reason         *string       `db:"reason" json:"reason,omitempty"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}

func (e *Exception) FullDay() bool {
	return e.StartTime == nil && e.EndTime == nil
}

// BlocksDay reports whether the exception removes all availability for its date.
func (e *Exception) BlocksDay(respectVacations bool) bool {
	switch e.Type {
	case ExceptionUnavailable:
		return true
	case ExceptionVacation:
		return respectVacations
	}
	return false
}

// window returns the exception's minute interval. ok is false for full-day
// exceptions and for malformed stored times.
func (e *Exception) window() (start, end int, ok bool) {
	if e.StartTime == nil || e.EndTime == nil {
		return 0, 0, false
	}
	start, end, err := interval.ParseTimeRange(*e.StartTime, *e.EndTime)
	if err != nil {
		return 0, 0, false
	}
	return start, end, true
}

// ExceptionUpdate is a partial update. ClearTimes turns a timed exception
// into a full-day one.
type ExceptionUpdate struct {
	ExceptionDate *string        `json:"exception_date,omitempty"`
	StartTime     *string        `json:"start_time,omitempty"`
	EndTime       *string        `json:"end_time,omitempty"`
	ClearTimes    bool           `json:"clear_times,omitempty"`
	Type          *ExceptionType `json:"type,omitempty"`
	Reason        *string        `json:"reason,omitempty"`
}

func (u *ExceptionUpdate) affectsOverlap() bool {
	return u.ExceptionDate != nil || u.StartTime != nil || u.EndTime != nil || u.ClearTimes || u.Type != nil
}

func (u *ExceptionUpdate) apply(e *Exception) {
	if u.ExceptionDate != nil {
		e.ExceptionDate = *u.ExceptionDate
	}
	if u.ClearTimes {
		e.StartTime, e.EndTime = nil, nil
	}
	if u.StartTime != nil {
		e.StartTime = u.StartTime
	}
	if u.EndTime != nil {
		e.EndTime = u.EndTime
	}
	if u.Type != nil {
		e.Type = *u.Type
	}
	if u.Reason != nil {
		e.Reason = u.Reason
	}
}

// ExceptionFilter narrows Search. SpecificDate, when set, replaces DateFrom/DateTo.
type ExceptionFilter struct {
	ProfessionalID *uuid.UUID
	Type           *ExceptionType
	DateFrom       *string
	DateTo         *string
	SpecificDate   *string
}

// SlotStatus is the booking state of a persisted slot.
type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotBooked    SlotStatus = "booked"
	SlotBlocked   SlotStatus = "blocked"
	SlotCancelled SlotStatus = "cancelled"
)

var validSlotStatuses = map[SlotStatus]bool{
	SlotAvailable: true, SlotBooked: true, SlotBlocked: true, SlotCancelled: true,
}

// TimeSlot is a concrete bookable unit of time (time_slots table).
type TimeSlot struct {
	ID              uuid.UUID              `db:"id" json:"id"`
	ProfessionalID  uuid.UUID              `db:"professional_id" json:"professional_id"`
	SlotDate        string                 `db:"slot_date" json:"slot_date"`
	StartTime       string                 `db:"start_time" json:"start_time"`
	EndTime         string                 `db:"end_time" json:"end_time"`
	DurationMinutes int                    `db:"duration_minutes" json:"duration_minutes"`
	Status          SlotStatus             `db:"status" json:"status"`
	PriceOverride   *float64               `db:"price_override" json:"price_override,omitempty"`
	MaxBookings     int                    `db:"max_bookings" json:"max_bookings"`
	CurrentBookings int                    `db:"current_bookings" json:"current_bookings"`
	Metadata        map[string]interface{} `db:"metadata" json:"metadata,omitempty"`
	CreatedAt       time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time              `db:"updated_at" json:"updated_at"`
}

// Bookable reports status = available with spare capacity.
func (t *TimeSlot) Bookable() bool {
	return t.Status == SlotAvailable && t.CurrentBookings < t.MaxBookings
}

// SlotUpdate is a partial update.
type SlotUpdate struct {
	SlotDate        *string                `json:"slot_date,omitempty"`
	StartTime       *string                `json:"start_time,omitempty"`
	EndTime         *string                `json:"end_time,omitempty"`
	DurationMinutes *int                   `json:"duration_minutes,omitempty"`
	Status          *SlotStatus            `json:"status,omitempty"`
	PriceOverride   *float64               `json:"price_override,omitempty"`
	MaxBookings     *int                   `json:"max_bookings,omitempty"`
	CurrentBookings *int                   `json:"current_bookings,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

func (u *SlotUpdate) affectsOverlap() bool {
	return u.SlotDate != nil || u.StartTime != nil || u.EndTime != nil
}

func (u *SlotUpdate) apply(t *TimeSlot) {
	if u.SlotDate != nil {
		t.SlotDate = *u.SlotDate
	}
	if u.StartTime != nil {
		t.StartTime = *u.StartTime
	}
	if u.EndTime != nil {
		t.EndTime = *u.EndTime
	}
	if u.StartTime != nil || u.EndTime != nil {
		// recomputed by validation unless given explicitly
		t.DurationMinutes = 0
	}
	if u.DurationMinutes != nil {
		t.DurationMinutes = *u.DurationMinutes
	}
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.PriceOverride != nil {
		t.PriceOverride = u.PriceOverride
	}
	if u.MaxBookings != nil {
		t.MaxBookings = *u.MaxBookings
	}
	if u.CurrentBookings != nil {
		t.CurrentBookings = *u.CurrentBookings
	}
	if u.Metadata != nil {
		t.Metadata = u.Metadata
	}
}

// SlotFilter narrows ListByProfessional. Limit 0 returns every match.
type SlotFilter struct {
	DateFrom      *string
	DateTo        *string
	Status        *SlotStatus
	AvailableOnly bool
	Limit         int
	Offset        int
}

// BulkSlotRequest describes slots to generate over a date range. DaysOfWeek
// uses 0=Sunday..6=Saturday.
type BulkSlotRequest struct {
	ProfessionalID  uuid.UUID              `json:"professional_id"`
	StartDate       string                 `json:"start_date"`
	EndDate         string                 `json:"end_date"`
	StartTime       string                 `json:"start_time"`
	EndTime         string                 `json:"end_time"`
	DurationMinutes int                    `json:"duration_minutes"`
	BreakMinutes    int                    `json:"break_minutes,omitempty"`
	DaysOfWeek      []int                  `json:"days_of_week,omitempty"`
	ExcludeDates    []string               `json:"exclude_dates,omitempty"`
	PriceOverride   *float64               `json:"price_override,omitempty"`
	MaxBookings     int                    `json:"max_bookings,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// Professional is a provider whose time is scheduled (professionals table).
type Professional struct {
	ID        uuid.UUID `db:"id" json:"id"`
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	FullName  string    `db:"full_name" json:"full_name"`
	Specialty *string   `db:"specialty" json:"specialty,omitempty"`
	Email     *string   `db:"email" json:"email,omitempty"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ProfessionalSummary is the professional data joined onto detail views.
type ProfessionalSummary struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	FullName  string    `json:"full_name"`
	Specialty *string   `json:"specialty,omitempty"`
}

type ScheduleDetail struct {
	*Schedule
	Professional *ProfessionalSummary `json:"professional,omitempty"`
}

type ExceptionDetail struct {
	*Exception
	Professional *ProfessionalSummary `json:"professional,omitempty"`
}

type SlotDetail struct {
	*TimeSlot
	Professional *ProfessionalSummary `json:"professional,omitempty"`
}

// AvailableSlot is the availability view of a slot. Persisted slots carry
// their uuid; virtual slots carry a temporary id and IsVirtual.
type AvailableSlot struct {
	ID              string     `json:"id"`
	ProfessionalID  uuid.UUID  `json:"professional_id"`
	SlotDate        string     `json:"slot_date"`
	StartTime       string     `json:"start_time"`
	EndTime         string     `json:"end_time"`
	DurationMinutes int        `json:"duration_minutes"`
	Status          SlotStatus `json:"status"`
	PriceOverride   *float64   `json:"price_override,omitempty"`
	MaxBookings     int        `json:"max_bookings"`
	CurrentBookings int        `json:"current_bookings"`
	IsVirtual       bool       `json:"is_virtual"`
}

func availableFromSlot(t *TimeSlot) *AvailableSlot {
	return &AvailableSlot{
		ID:              t.ID.String(),
		ProfessionalID:  t.ProfessionalID,
		SlotDate:        t.SlotDate,
		StartTime:       t.StartTime,
		EndTime:         t.EndTime,
		DurationMinutes: t.DurationMinutes,
		Status:          t.Status,
		PriceOverride:   t.PriceOverride,
		MaxBookings:     t.MaxBookings,
		CurrentBookings: t.CurrentBookings,
	}
}

// toTimeSlot converts a virtual slot into a record ready for persistence.
func (a *AvailableSlot) toTimeSlot() *TimeSlot {
	return &TimeSlot{
		ProfessionalID:  a.ProfessionalID,
		SlotDate:        a.SlotDate,
		StartTime:       a.StartTime,
		EndTime:         a.EndTime,
		DurationMinutes: a.DurationMinutes,
		Status:          SlotAvailable,
		PriceOverride:   a.PriceOverride,
		MaxBookings:     a.MaxBookings,
		Metadata:        map[string]interface{}{"source": "generated"},
	}
}

func virtualSlotID(date time.Time, seq int) string {
	return fmt.Sprintf("tmp-%s-%d", date.Format("20060102"), seq)
}

// BulkFailure records one rejected item of a best-effort batch.
type BulkFailure[T any] struct {
	Index int    `json:"index"`
	Input *T     `json:"input"`
	Error string `json:"error"`
	Err   error  `json:"-"`
}

// BulkResult is the outcome of a best-effort batch: one item's failure does
// not stop the rest.
type BulkResult[T any] struct {
	Succeeded []*T             `json:"succeeded"`
	Failed    []BulkFailure[T] `json:"failed"`
}

func newBulkResult[T any]() *BulkResult[T] {
	return &BulkResult[T]{Succeeded: []*T{}, Failed: []BulkFailure[T]{}}
}

func (r *BulkResult[T]) fail(index int, input *T, err error) {
	r.Failed = append(r.Failed, BulkFailure[T]{Index: index, Input: input, Error: err.Error(), Err: err})
}
