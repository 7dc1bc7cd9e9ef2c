// Package clock implements the UTC-anchored "now" abstraction, the weekend
// gate, and session-window containment described in spec.md §4.1.
package clock

import "time"

// Clock is an abstract current-instant reader so the dispatcher loop and
// its tests never depend on the wall clock directly.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system wall clock, normalized to UTC.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// IsWeekend rejects Saturday and Sunday (UTC).
func IsWeekend(t time.Time) bool {
	wd := t.UTC().Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// Window is a half-open UTC minute range [start, end). Containment is
// minute-granular and ignores seconds.
type Window struct {
	StartH, StartM int
	EndH, EndM     int
}

func minutesOfDay(h, m int) int { return h*60 + m }

// Contains reports whether t's (hour, minute) falls in [start, end).
func (w Window) Contains(t time.Time) bool {
	t = t.UTC()
	cur := minutesOfDay(t.Hour(), t.Minute())
	start := minutesOfDay(w.StartH, w.StartM)
	end := minutesOfDay(w.EndH, w.EndM)
	return start <= cur && cur < end
}

// InAnyWindow reports whether t is contained by at least one window.
func InAnyWindow(t time.Time, windows []Window) bool {
	for _, w := range windows {
		if w.Contains(t) {
			return true
		}
	}
	return false
}

// ParseWindow parses "HH:MM" pairs into a Window. Each side is parsed on
// its own: a value that is not five characters with ':' at index 2 reads
// as 00:00; the digits themselves are not validated.
func ParseWindow(startHHMM, endHHMM string) Window {
	sh, sm := parseHHMM(startHHMM)
	eh, em := parseHHMM(endHHMM)
	return Window{StartH: sh, StartM: sm, EndH: eh, EndM: em}
}

func parseHHMM(s string) (int, int) {
	if len(s) != 5 || s[2] != ':' {
		return 0, 0
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	return h, m
}
