package watcher

import (
	"log"
	"time"
)

// ResolveTimezone maps a configured timezone name to a location. "local",
// "system" and empty resolve to the local timezone; unknown names fall back
// to local with a warning rather than failing the watcher.
func ResolveTimezone(name string) *time.Location {
	switch name {
	case "", "local", "Local", "system":
		return time.Local
	case "UTC", "utc":
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Printf("Watcher: invalid downtime timezone %q, falling back to local", name)
		return time.Local
	}
	return loc
}

// ParseHHMM parses a wall-clock "HH:MM" string.
func ParseHHMM(value string) (hour, minute int, ok bool) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, false
	}
	return t.Hour(), t.Minute(), true
}

// InDowntime reports whether now falls inside the [start, end) wall-clock
// window, and when the window next ends. Windows where start > end cross
// midnight and are compared against tomorrow's end boundary.
func InDowntime(now time.Time, startStr, endStr string) (bool, time.Time) {
	startHour, startMin, ok := ParseHHMM(startStr)
	if !ok {
		return false, time.Time{}
	}
	endHour, endMin, ok := ParseHHMM(endStr)
	if !ok {
		return false, time.Time{}
	}

	start := time.Date(now.Year(), now.Month(), now.Day(), startHour, startMin, 0, 0, now.Location())
	end := time.Date(now.Year(), now.Month(), now.Day(), endHour, endMin, 0, 0, now.Location())

	if !start.After(end) {
		inWindow := !now.Before(start) && now.Before(end)
		if inWindow {
			return true, end
		}
		return false, time.Time{}
	}

	// Window crosses midnight.
	if !now.Before(start) {
		return true, end.AddDate(0, 0, 1)
	}
	if now.Before(end) {
		return true, end
	}
	return false, time.Time{}
}
