package scheduling

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/DevCuidame/clin-sync-backend-sub001/internal/platform/interval"
)

// Generator computes virtual slots for one professional and date from the
// weekly schedules, that date's exceptions and the slots already persisted.
// It never writes.
type Generator struct {
	schedules  ScheduleRepository
	exceptions ExceptionRepository
	slots      SlotRepository
	rules      BusinessRules
}

func NewGenerator(schedules ScheduleRepository, exceptions ExceptionRepository, slots SlotRepository, rules BusinessRules) *Generator {
	return &Generator{schedules: schedules, exceptions: exceptions, slots: slots, rules: rules}
}

// Generate returns the virtual slots of length duration on date in
// chronological order. An empty result with a nil error means there is no
// availability; a non-nil error means a read failed.
func (g *Generator) Generate(ctx context.Context, professionalID uuid.UUID, date time.Time, duration int) ([]*AvailableSlot, error) {
	if duration <= 0 {
		return nil, invalid("duration must be positive")
	}
	dateStr := interval.FormatDate(date)

	schedules, err := g.schedules.ListActiveForDay(ctx, professionalID, DayOfWeekFor(date))
	if err != nil {
		return nil, fmt.Errorf("load schedules: %w", err)
	}
	var active []*Schedule
	for _, s := range schedules {
		if s.Active() && s.ValidOn(dateStr) {
			active = append(active, s)
		}
	}
	if len(active) == 0 {
		return nil, nil
	}

	exceptions, err := g.exceptions.ListByProfessionalDate(ctx, professionalID, dateStr)
	if err != nil {
		return nil, fmt.Errorf("load exceptions: %w", err)
	}
	for _, e := range exceptions {
		if e.BlocksDay(g.rules.RespectVacations) {
			return nil, nil
		}
	}

	persisted, err := g.slots.ListByProfessionalDate(ctx, professionalID, dateStr)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	taken := make(map[int]bool, len(persisted))
	var persistedWindows []interval.Window
	for _, t := range persisted {
		s, e, err := interval.ParseTimeRange(t.StartTime, t.EndTime)
		if err != nil {
			continue
		}
		taken[s] = true
		persistedWindows = append(persistedWindows, interval.Window{Start: s, End: e})
	}

	var blocked []interval.Window
	for _, e := range exceptions {
		if s, en, ok := e.window(); ok {
			blocked = append(blocked, interval.Window{Start: s, End: en})
		}
	}

	sort.SliceStable(active, func(i, j int) bool { return active[i].StartTime < active[j].StartTime })

	var out []*AvailableSlot
	emitted := map[int]bool{}
	for _, sched := range active {
		start, end, err := interval.ParseTimeRange(sched.StartTime, sched.EndTime)
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", sched.ID, err)
		}
		schedBlocked := blocked
		if g.rules.RespectBreaks && sched.HasBreak && sched.BreakStartTime != nil && sched.BreakEndTime != nil {
			if bs, be, err := interval.ParseTimeRange(*sched.BreakStartTime, *sched.BreakEndTime); err == nil {
				schedBlocked = append(append([]interval.Window{}, blocked...), interval.Window{Start: bs, End: be})
			}
		}

		for _, w := range interval.Windows(start, end, duration, duration+g.rules.BufferBetweenSlots) {
			if taken[w.Start] || emitted[w.Start] {
				continue
			}
			if overlapsAny(w, schedBlocked) {
				continue
			}
			if !g.rules.AllowOverlapping && overlapsAny(w, persistedWindows) {
				continue
			}
			emitted[w.Start] = true
			out = append(out, &AvailableSlot{
				ID:              virtualSlotID(date, len(out)+1),
				ProfessionalID:  professionalID,
				SlotDate:        dateStr,
				StartTime:       interval.FormatTime(w.Start),
				EndTime:         interval.FormatTime(w.End),
				DurationMinutes: duration,
				Status:          SlotAvailable,
				MaxBookings:     1,
				IsVirtual:       true,
			})
		}
	}
	return out, nil
}

func overlapsAny(w interval.Window, ws []interval.Window) bool {
	for _, o := range ws {
		if interval.Overlaps(w.Start, w.End, o.Start, o.End) {
			return true
		}
	}
	return false
}
