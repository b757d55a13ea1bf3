package loader

import (
	"fmt"
	"time"
	_ "time/tzdata" // session zones resolve on hosts without a zoneinfo database
)

// SessionWindow keeps snapshots whose wall-clock time in Location falls
// within [Start, End], both inclusive. Start and End are clock readings
// expressed as durations, so 09:30 is 9h30m even on DST-transition dates.
type SessionWindow struct {
	Start    time.Duration
	End      time.Duration
	Location *time.Location
}

// DefaultSession is the regular US equities session.
func DefaultSession() SessionWindow {
	w, err := ParseSessionWindow("09:30", "16:00", "America/New_York")
	if err != nil {
		panic(fmt.Sprintf("default session: %v", err))
	}
	return w
}

// ParseSessionWindow parses HH:MM bounds and an IANA zone name.
// Empty start and end disable filtering.
func ParseSessionWindow(start, end, tz string) (SessionWindow, error) {
	loc := time.UTC
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return SessionWindow{}, fmt.Errorf("load session timezone %q: %w", tz, err)
		}
		loc = l
	}
	if start == "" && end == "" {
		return SessionWindow{Start: 0, End: 24*time.Hour - time.Nanosecond, Location: loc}, nil
	}

	s, err := parseClock(start)
	if err != nil {
		return SessionWindow{}, fmt.Errorf("session start: %w", err)
	}
	e, err := parseClock(end)
	if err != nil {
		return SessionWindow{}, fmt.Errorf("session end: %w", err)
	}
	if e < s {
		return SessionWindow{}, fmt.Errorf("session end %s before start %s", end, start)
	}
	return SessionWindow{Start: s, End: e, Location: loc}, nil
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse %q as HH:MM: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Contains reports whether the wall clock at t falls inside the window.
func (w SessionWindow) Contains(t time.Time) bool {
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	clock := wallClock(t.In(loc))
	return clock >= w.Start && clock <= w.End
}

func wallClock(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(t.Nanosecond())
}
