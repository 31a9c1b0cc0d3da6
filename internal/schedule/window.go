package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/marcus/taskmill/internal/config"
)

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses an "HH:MM" string. A single-digit hour is accepted.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("invalid time %q: expected HH:MM", s)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q: %w", s, err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q: %w", s, err)
	}

	if hour < 0 || hour > 23 {
		return TimeOfDay{}, fmt.Errorf("hour out of range in %q", s)
	}
	if minute < 0 || minute > 59 {
		return TimeOfDay{}, fmt.Errorf("minute out of range in %q", s)
	}

	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

// String renders the time as "HH:MM".
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Minutes returns the time as minutes since midnight.
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

// Window is a daily time window. A window whose end precedes its start
// wraps past midnight.
type Window struct {
	Start    TimeOfDay
	End      TimeOfDay
	Location *time.Location
}

// Contains reports whether the instant falls inside the window.
// The start is inclusive, the end exclusive.
func (w Window) Contains(t time.Time) bool {
	loc := w.Location
	if loc == nil {
		loc = time.Local
	}

	local := t.In(loc)
	minutes := local.Hour()*60 + local.Minute()
	start := w.Start.Minutes()
	end := w.End.Minutes()

	if start <= end {
		return minutes >= start && minutes < end
	}
	// Overnight wrap
	return minutes >= start || minutes < end
}

// NewWindow builds a Window from its configuration form.
func NewWindow(cfg *config.WindowConfig) (*Window, error) {
	if cfg == nil {
		return nil, nil
	}

	start, err := ParseTimeOfDay(cfg.Start)
	if err != nil {
		return nil, fmt.Errorf("window start: %w", err)
	}
	end, err := ParseTimeOfDay(cfg.End)
	if err != nil {
		return nil, fmt.Errorf("window end: %w", err)
	}

	loc := time.Local
	if cfg.Timezone != "" {
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("window timezone: %w", err)
		}
	}

	return &Window{Start: start, End: end, Location: loc}, nil
}
