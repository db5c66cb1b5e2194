package scheduling

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DevCuidame/clin-sync-backend-sub001/internal/platform/db"
)

const (
	pgExclusionViolation  = "23P01"
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// pgError translates driver errors into the package's sentinel errors.
// entity names the table's record kind in overlap messages.
func pgError(err error, entity string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, entity)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgExclusionViolation, pgUniqueViolation:
			return &OverlapError{Entity: entity}
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: professional", ErrNotFound)
		case pgCheckViolation:
			return fmt.Errorf("%w: %s violates %s", ErrInvalidInput, entity, pgErr.ConstraintName)
		}
	}
	return err
}

func expectRow(tag pgconn.CommandTag, entity string, id uuid.UUID) error {
	if tag.RowsAffected() == 0 {
		return notFound(entity, id)
	}
	return nil
}

// =========== Professional Directory ===========

type professionalRepoPG struct{ pool *pgxpool.Pool }

func NewProfessionalRepoPG(pool *pgxpool.Pool) ProfessionalDirectory {
	return &professionalRepoPG{pool: pool}
}

func (r *professionalRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const profCols = `id, user_id, full_name, specialty, email, is_active, created_at, updated_at`

func (r *professionalRepoPG) scan(row pgx.Row) (*Professional, error) {
	var p Professional
	err := row.Scan(&p.ID, &p.UserID, &p.FullName, &p.Specialty, &p.Email, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, pgError(err, "professional")
	}
	return &p, nil
}

func (r *professionalRepoPG) FindByID(ctx context.Context, id uuid.UUID) (*Professional, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+profCols+` FROM professionals WHERE id = $1`, id))
}

func (r *professionalRepoPG) FindByUserID(ctx context.Context, userID uuid.UUID) (*Professional, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+profCols+` FROM professionals WHERE user_id = $1`, userID))
}

// =========== Schedule Repository ===========

type scheduleRepoPG struct{ pool *pgxpool.Pool }

func NewScheduleRepoPG(pool *pgxpool.Pool) ScheduleRepository { return &scheduleRepoPG{pool: pool} }

func (r *scheduleRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const schedCols = `s.id, s.professional_id, s.day_of_week,
	to_char(s.start_time, 'HH24:MI'), to_char(s.end_time, 'HH24:MI'), s.is_active,
	to_char(s.valid_from, 'YYYY-MM-DD'), to_char(s.valid_until, 'YYYY-MM-DD'),
	s.has_break, to_char(s.break_start_time, 'HH24:MI'), to_char(s.break_end_time, 'HH24:MI'),
	s.break_description, s.created_at, s.updated_at`

func scheduleDest(s *Schedule) []interface{} {
	return []interface{}{&s.ID, &s.ProfessionalID, &s.DayOfWeek, &s.StartTime, &s.EndTime, &s.IsActive,
		&s.ValidFrom, &s.ValidUntil, &s.HasBreak, &s.BreakStartTime, &s.BreakEndTime,
		&s.BreakDescription, &s.CreatedAt, &s.UpdatedAt}
}

func (r *scheduleRepoPG) scanSchedule(row pgx.Row) (*Schedule, error) {
	var s Schedule
	if err := row.Scan(scheduleDest(&s)...); err != nil {
		return nil, pgError(err, "schedule")
	}
	return &s, nil
}

func (r *scheduleRepoPG) list(ctx context.Context, query string, args ...interface{}) ([]*Schedule, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Schedule
	for rows.Next() {
		s, err := r.scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *scheduleRepoPG) Create(ctx context.Context, s *Schedule) error {
	s.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO professional_schedules (id, professional_id, day_of_week, start_time, end_time,
			is_active, valid_from, valid_until, has_break, break_start_time, break_end_time, break_description)
		VALUES ($1,$2,$3,$4::time,$5::time,$6,$7::date,$8::date,$9,$10::time,$11::time,$12)
		RETURNING created_at, updated_at`,
		s.ID, s.ProfessionalID, s.DayOfWeek, s.StartTime, s.EndTime,
		s.Active(), s.ValidFrom, s.ValidUntil, s.HasBreak, s.BreakStartTime, s.BreakEndTime, s.BreakDescription,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	return pgError(err, "schedule")
}

func (r *scheduleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	return r.scanSchedule(r.conn(ctx).QueryRow(ctx, `SELECT `+schedCols+` FROM professional_schedules s WHERE s.id = $1`, id))
}

func (r *scheduleRepoPG) Update(ctx context.Context, s *Schedule) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE professional_schedules SET day_of_week=$2, start_time=$3::time, end_time=$4::time,
			is_active=$5, valid_from=$6::date, valid_until=$7::date, has_break=$8,
			break_start_time=$9::time, break_end_time=$10::time, break_description=$11, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		s.ID, s.DayOfWeek, s.StartTime, s.EndTime, s.Active(), s.ValidFrom, s.ValidUntil,
		s.HasBreak, s.BreakStartTime, s.BreakEndTime, s.BreakDescription,
	).Scan(&s.UpdatedAt)
	return pgError(err, "schedule")
}

func (r *scheduleRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM professional_schedules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectRow(tag, "schedule", id)
}

func (r *scheduleRepoPG) ListByProfessional(ctx context.Context, professionalID uuid.UUID, activeOnly bool) ([]*Schedule, error) {
	query := `SELECT ` + schedCols + ` FROM professional_schedules s WHERE s.professional_id = $1`
	if activeOnly {
		query += ` AND s.is_active`
	}
	query += ` ORDER BY CASE s.day_of_week
		WHEN 'MONDAY' THEN 1 WHEN 'TUESDAY' THEN 2 WHEN 'WEDNESDAY' THEN 3 WHEN 'THURSDAY' THEN 4
		WHEN 'FRIDAY' THEN 5 WHEN 'SATURDAY' THEN 6 ELSE 7 END, s.start_time`
	return r.list(ctx, query, professionalID)
}

func (r *scheduleRepoPG) ListActiveForDay(ctx context.Context, professionalID uuid.UUID, day DayOfWeek) ([]*Schedule, error) {
	return r.list(ctx, `SELECT `+schedCols+` FROM professional_schedules s
		WHERE s.professional_id = $1 AND s.day_of_week = $2 AND s.is_active
		ORDER BY s.start_time`, professionalID, day)
}

func (r *scheduleRepoPG) ListByDay(ctx context.Context, day DayOfWeek) ([]*ScheduleDetail, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+schedCols+`, p.id, p.user_id, p.full_name, p.specialty
		FROM professional_schedules s JOIN professionals p ON p.id = s.professional_id
		WHERE s.day_of_week = $1
		ORDER BY s.start_time, p.full_name`, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ScheduleDetail
	for rows.Next() {
		var s Schedule
		var p ProfessionalSummary
		dest := append(scheduleDest(&s), &p.ID, &p.UserID, &p.FullName, &p.Specialty)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		items = append(items, &ScheduleDetail{Schedule: &s, Professional: &p})
	}
	return items, rows.Err()
}

func (r *scheduleRepoPG) Search(ctx context.Context, f ScheduleFilter, limit, offset int) ([]*Schedule, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.ProfessionalID != nil {
		where += fmt.Sprintf(` AND s.professional_id = $%d`, idx)
		args = append(args, *f.ProfessionalID)
		idx++
	}
	if f.DayOfWeek != nil {
		where += fmt.Sprintf(` AND s.day_of_week = $%d`, idx)
		args = append(args, *f.DayOfWeek)
		idx++
	}
	if f.IsActive != nil {
		where += fmt.Sprintf(` AND s.is_active = $%d`, idx)
		args = append(args, *f.IsActive)
		idx++
	}
	if f.ValidDate != nil {
		where += fmt.Sprintf(` AND (s.valid_from IS NULL OR s.valid_from <= $%d::date)
			AND (s.valid_until IS NULL OR s.valid_until >= $%d::date)`, idx, idx)
		args = append(args, *f.ValidDate)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM professional_schedules s`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + schedCols + ` FROM professional_schedules s` + where +
		fmt.Sprintf(` ORDER BY s.created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	items, err := r.list(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// =========== Exception Repository ===========

type exceptionRepoPG struct{ pool *pgxpool.Pool }

func NewExceptionRepoPG(pool *pgxpool.Pool) ExceptionRepository { return &exceptionRepoPG{pool: pool} }

func (r *exceptionRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const excCols = `e.id, e.professional_id, to_char(e.exception_date, 'YYYY-MM-DD'),
	to_char(e.start_time, 'HH24:MI'), to_char(e.end_time, 'HH24:MI'),
	e.exception_type, e.reason, e.created_at, e.updated_at`

func exceptionDest(e *Exception) []interface{} {
	return []interface{}{&e.ID, &e.ProfessionalID, &e.ExceptionDate, &e.StartTime, &e.EndTime,
		&e.Type, &e.Reason, &e.CreatedAt, &e.UpdatedAt}
}

func (r *exceptionRepoPG) scanException(row pgx.Row) (*Exception, error) {
	var e Exception
	if err := row.Scan(exceptionDest(&e)...); err != nil {
		return nil, pgError(err, "exception")
	}
	return &e, nil
}

func (r *exceptionRepoPG) list(ctx context.Context, query string, args ...interface{}) ([]*Exception, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Exception
	for rows.Next() {
		e, err := r.scanException(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (r *exceptionRepoPG) Create(ctx context.Context, e *Exception) error {
	e.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO availability_exceptions (id, professional_id, exception_date, start_time, end_time,
			exception_type, reason)
		VALUES ($1,$2,$3::date,$4::time,$5::time,$6,$7)
		RETURNING created_at, updated_at`,
		e.ID, e.ProfessionalID, e.ExceptionDate, e.StartTime, e.EndTime, e.Type, e.Reason,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	return pgError(err, string(e.Type)+" exception")
}

func (r *exceptionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Exception, error) {
	return r.scanException(r.conn(ctx).QueryRow(ctx, `SELECT `+excCols+` FROM availability_exceptions e WHERE e.id = $1`, id))
}

func (r *exceptionRepoPG) GetDetail(ctx context.Context, id uuid.UUID) (*ExceptionDetail, error) {
	var e Exception
	var p ProfessionalSummary
	dest := append(exceptionDest(&e), &p.ID, &p.UserID, &p.FullName, &p.Specialty)
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+excCols+`, p.id, p.user_id, p.full_name, p.specialty
		FROM availability_exceptions e JOIN professionals p ON p.id = e.professional_id
		WHERE e.id = $1`, id).Scan(dest...)
	if err != nil {
		return nil, pgError(err, "exception")
	}
	return &ExceptionDetail{Exception: &e, Professional: &p}, nil
}

func (r *exceptionRepoPG) Update(ctx context.Context, e *Exception) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE availability_exceptions SET exception_date=$2::date, start_time=$3::time, end_time=$4::time,
			exception_type=$5, reason=$6, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		e.ID, e.ExceptionDate, e.StartTime, e.EndTime, e.Type, e.Reason,
	).Scan(&e.UpdatedAt)
	return pgError(err, string(e.Type)+" exception")
}

func (r *exceptionRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM availability_exceptions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectRow(tag, "exception", id)
}

func (r *exceptionRepoPG) ListByProfessionalDate(ctx context.Context, professionalID uuid.UUID, date string) ([]*Exception, error) {
	return r.list(ctx, `SELECT `+excCols+` FROM availability_exceptions e
		WHERE e.professional_id = $1 AND e.exception_date = $2::date
		ORDER BY e.start_time NULLS FIRST`, professionalID, date)
}

func (r *exceptionRepoPG) Search(ctx context.Context, f ExceptionFilter, limit, offset int) ([]*Exception, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.ProfessionalID != nil {
		where += fmt.Sprintf(` AND e.professional_id = $%d`, idx)
		args = append(args, *f.ProfessionalID)
		idx++
	}
	if f.Type != nil {
		where += fmt.Sprintf(` AND e.exception_type = $%d`, idx)
		args = append(args, *f.Type)
		idx++
	}
	if f.SpecificDate != nil {
		where += fmt.Sprintf(` AND e.exception_date = $%d::date`, idx)
		args = append(args, *f.SpecificDate)
		idx++
	} else {
		if f.DateFrom != nil {
			where += fmt.Sprintf(` AND e.exception_date >= $%d::date`, idx)
			args = append(args, *f.DateFrom)
			idx++
		}
		if f.DateTo != nil {
			where += fmt.Sprintf(` AND e.exception_date <= $%d::date`, idx)
			args = append(args, *f.DateTo)
			idx++
		}
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM availability_exceptions e`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + excCols + ` FROM availability_exceptions e` + where +
		fmt.Sprintf(` ORDER BY e.exception_date, e.start_time NULLS FIRST LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	items, err := r.list(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *exceptionRepoPG) DeleteByProfessional(ctx context.Context, professionalID uuid.UUID) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM availability_exceptions WHERE professional_id = $1`, professionalID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *exceptionRepoPG) DeleteByProfessionalRange(ctx context.Context, professionalID uuid.UUID, from, to string) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM availability_exceptions
		WHERE professional_id = $1 AND exception_date BETWEEN $2::date AND $3::date`, professionalID, from, to)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// =========== Slot Repository ===========

type slotRepoPG struct{ pool *pgxpool.Pool }

func NewSlotRepoPG(pool *pgxpool.Pool) SlotRepository { return &slotRepoPG{pool: pool} }

func (r *slotRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const slotCols = `t.id, t.professional_id, to_char(t.slot_date, 'YYYY-MM-DD'),
	to_char(t.start_time, 'HH24:MI'), to_char(t.end_time, 'HH24:MI'), t.duration_minutes,
	t.status, t.price_override, t.max_bookings, t.current_bookings, t.metadata,
	t.created_at, t.updated_at`

func slotDest(t *TimeSlot) []interface{} {
	return []interface{}{&t.ID, &t.ProfessionalID, &t.SlotDate, &t.StartTime, &t.EndTime, &t.DurationMinutes,
		&t.Status, &t.PriceOverride, &t.MaxBookings, &t.CurrentBookings, &t.Metadata,
		&t.CreatedAt, &t.UpdatedAt}
}

func (r *slotRepoPG) scanSlot(row pgx.Row) (*TimeSlot, error) {
	var t TimeSlot
	if err := row.Scan(slotDest(&t)...); err != nil {
		return nil, pgError(err, "slot")
	}
	return &t, nil
}

func (r *slotRepoPG) list(ctx context.Context, query string, args ...interface{}) ([]*TimeSlot, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*TimeSlot
	for rows.Next() {
		t, err := r.scanSlot(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (r *slotRepoPG) Create(ctx context.Context, t *TimeSlot) error {
	t.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO time_slots (id, professional_id, slot_date, start_time, end_time, duration_minutes,
			status, price_override, max_bookings, current_bookings, metadata)
		VALUES ($1,$2,$3::date,$4::time,$5::time,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		t.ID, t.ProfessionalID, t.SlotDate, t.StartTime, t.EndTime, t.DurationMinutes,
		t.Status, t.PriceOverride, t.MaxBookings, t.CurrentBookings, t.Metadata,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	return pgError(err, "slot")
}

func (r *slotRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	return r.scanSlot(r.conn(ctx).QueryRow(ctx, `SELECT `+slotCols+` FROM time_slots t WHERE t.id = $1`, id))
}

func (r *slotRepoPG) GetDetail(ctx context.Context, id uuid.UUID) (*SlotDetail, error) {
	var t TimeSlot
	var p ProfessionalSummary
	dest := append(slotDest(&t), &p.ID, &p.UserID, &p.FullName, &p.Specialty)
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+slotCols+`, p.id, p.user_id, p.full_name, p.specialty
		FROM time_slots t JOIN professionals p ON p.id = t.professional_id
		WHERE t.id = $1`, id).Scan(dest...)
	if err != nil {
		return nil, pgError(err, "slot")
	}
	return &SlotDetail{TimeSlot: &t, Professional: &p}, nil
}

func (r *slotRepoPG) Update(ctx context.Context, t *TimeSlot) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE time_slots SET slot_date=$2::date, start_time=$3::time, end_time=$4::time, duration_minutes=$5,
			status=$6, price_override=$7, max_bookings=$8, current_bookings=$9, metadata=$10, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		t.ID, t.SlotDate, t.StartTime, t.EndTime, t.DurationMinutes,
		t.Status, t.PriceOverride, t.MaxBookings, t.CurrentBookings, t.Metadata,
	).Scan(&t.UpdatedAt)
	return pgError(err, "slot")
}

func (r *slotRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM time_slots WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectRow(tag, "slot", id)
}

func (r *slotRepoPG) ListByProfessionalDate(ctx context.Context, professionalID uuid.UUID, date string) ([]*TimeSlot, error) {
	return r.list(ctx, `SELECT `+slotCols+` FROM time_slots t
		WHERE t.professional_id = $1 AND t.slot_date = $2::date
		ORDER BY t.start_time`, professionalID, date)
}

func (r *slotRepoPG) ListByProfessional(ctx context.Context, professionalID uuid.UUID, f SlotFilter) ([]*TimeSlot, int, error) {
	where := ` WHERE t.professional_id = $1`
	args := []interface{}{professionalID}
	idx := 2

	if f.DateFrom != nil {
		where += fmt.Sprintf(` AND t.slot_date >= $%d::date`, idx)
		args = append(args, *f.DateFrom)
		idx++
	}
	if f.DateTo != nil {
		where += fmt.Sprintf(` AND t.slot_date <= $%d::date`, idx)
		args = append(args, *f.DateTo)
		idx++
	}
	if f.Status != nil {
		where += fmt.Sprintf(` AND t.status = $%d`, idx)
		args = append(args, *f.Status)
		idx++
	}
	if f.AvailableOnly {
		where += ` AND t.status = 'available' AND t.current_bookings < t.max_bookings`
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM time_slots t`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + slotCols + ` FROM time_slots t` + where + ` ORDER BY t.slot_date, t.start_time`
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, idx, idx+1)
		args = append(args, f.Limit, f.Offset)
	}

	items, err := r.list(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// DeleteUnusedBefore removes available, never-booked slots dated before the
// given day.
func (r *slotRepoPG) DeleteUnusedBefore(ctx context.Context, before string) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM time_slots
		WHERE slot_date < $1::date AND status = 'available' AND current_bookings = 0`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
