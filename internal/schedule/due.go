package schedule

import (
	"fmt"
	"time"
)

// DrawInstant returns the wall-clock instant of a "HH:MM" slot on now's
// calendar date in now's location.
func DrawInstant(slot string, now time.Time) (time.Time, error) {
	var hh, mm int
	if _, err := fmt.Sscanf(slot, "%d:%d", &hh, &mm); err != nil {
		return time.Time{}, fmt.Errorf("schedule: bad slot %q: %w", slot, err)
	}
	return time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, now.Location()), nil
}

// IsDue reports whether a slot's grace instant (draw time + grace) has
// passed. Events are implicit: no row exists anywhere until a due slot is
// first touched by a tick.
func IsDue(slot string, now time.Time, grace time.Duration) bool {
	draw, err := DrawInstant(slot, now)
	if err != nil {
		return false
	}
	return !now.Before(draw.Add(grace))
}
