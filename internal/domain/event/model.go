package event

import (
	"fmt"
	"strings"
	"time"
)

// GuildZone is the fixed offset every spawn timestamp is rendered and
// parsed in. The guild operates on UTC+8, which observes no DST; regions
// that do shift will see hour-off timestamps around transitions.
var GuildZone = time.FixedZone("UTC+8", 8*60*60)

// Slot is one weekly occurrence of a schedule-based event.
type Slot struct {
	Weekday time.Weekday
	Hour    int
	Minute  int
}

// Def describes one recurring event. Exactly one of Interval or Schedule
// is set: interval events recur a fixed duration after each kill report,
// schedule events recur on fixed weekly slots.
type Def struct {
	Name     string
	Points   int
	Aliases  []string
	Interval time.Duration
	Schedule []Slot
}

// IntervalBased reports whether the next occurrence derives from the last
// kill report.
func (d Def) IntervalBased() bool { return d.Interval > 0 }

// NextSlot returns the earliest strictly-future weekly slot after now.
// It panics on interval-based defs; callers resolve the kind first.
func (d Def) NextSlot(now time.Time) time.Time {
	if len(d.Schedule) == 0 {
		panic("event: NextSlot on interval-based def " + d.Name)
	}
	local := now.In(GuildZone)
	var best time.Time
	for _, slot := range d.Schedule {
		candidate := time.Date(local.Year(), local.Month(), local.Day(), slot.Hour, slot.Minute, 0, 0, GuildZone)
		for i := 0; i < 8; i++ {
			if candidate.Weekday() == slot.Weekday && candidate.After(now) {
				break
			}
			candidate = candidate.AddDate(0, 0, 1)
		}
		if best.IsZero() || candidate.Before(best) {
			best = candidate
		}
	}
	return best
}

// Stamp renders t in the guild zone as the canonical date, clock and
// combined "M/D/YY HH:MM" forms used in thread titles and ledger columns.
func Stamp(t time.Time) (date, clock, full string) {
	local := t.In(GuildZone)
	date = fmt.Sprintf("%d/%d/%02d", int(local.Month()), local.Day(), local.Year()%100)
	clock = local.Format("15:04")
	return date, clock, date + " " + clock
}

// ParseStamp parses the combined "M/D/YY HH:MM" form back into a time in
// the guild zone.
func ParseStamp(stamp string) (time.Time, error) {
	parts := strings.Fields(stamp)
	if len(parts) != 2 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimestamp, stamp)
	}
	var month, day, year, hour, minute int
	if _, err := fmt.Sscanf(parts[0], "%d/%d/%d", &month, &day, &year); err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimestamp, stamp)
	}
	if _, err := fmt.Sscanf(parts[1], "%d:%d", &hour, &minute); err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimestamp, stamp)
	}
	if year < 100 {
		year += 2000
	}
	t := time.Date(year, time.Month(month), day, hour, minute, 0, 0, GuildZone)
	if int(t.Month()) != month || t.Day() != day {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimestamp, stamp)
	}
	return t, nil
}
