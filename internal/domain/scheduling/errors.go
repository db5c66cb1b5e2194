package scheduling

import (
	"errors"
	"fmt"

	"github.com/DevCuidame/clin-sync-backend-sub001/internal/platform/interval"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTimeFormat = interval.ErrInvalidTimeFormat
	ErrInvalidDateFormat = interval.ErrInvalidDateFormat
	ErrInvalidRange      = interval.ErrInvalidRange
	ErrInvalidBreak      = errors.New("invalid break")
	ErrOverlap           = errors.New("overlapping interval")
	ErrInvalidConfig     = errors.New("invalid availability configuration")
	ErrBusy              = errors.New("operation already in progress")
)

// OverlapError names the record a candidate interval collides with.
type OverlapError struct {
	Entity     string
	ConflictID string
	Date       string
	StartTime  string
	EndTime    string
}

func (e *OverlapError) Error() string {
	window := "the whole day"
	if e.StartTime != "" && e.EndTime != "" {
		window = e.StartTime + "-" + e.EndTime
	}
	msg := fmt.Sprintf("%s overlaps existing %s", ErrOverlap, e.Entity)
	if e.ConflictID != "" {
		msg += " " + e.ConflictID
	}
	if e.Date != "" {
		msg += " on " + e.Date
	}
	return msg + " (" + window + ")"
}

func (e *OverlapError) Is(target error) bool { return target == ErrOverlap }

func notFound(entity string, id fmt.Stringer) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, entity, id)
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
