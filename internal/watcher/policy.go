package watcher

// Playlist modes. Full mode downloads everything not yet archived;
// subscribe mode only follows items added after enrollment.
const (
	ModeFull      = "full"
	ModeSubscribe = "subscribe"
)

// Playlist is one tracked entity the supervisor polls.
type Playlist struct {
	ID   string
	Name string
	Mode string
}

// Downtime is a daily wall-clock window during which the watcher polls
// nothing and mutates no state.
type Downtime struct {
	Enabled  bool
	Start    string // "HH:MM"
	End      string // "HH:MM"
	Timezone string
}

// Policy controls the adaptive per-playlist polling schedule.
type Policy struct {
	MinIntervalMinutes int
	MaxIntervalMinutes int
	IdleBackoffFactor  int
	ActiveResetMinutes int
	Downtime           Downtime
}

// activeInterval is the interval a playlist resets to after a detected
// change, clamped into [min, max].
func (p Policy) activeInterval() int {
	return clamp(p.ActiveResetMinutes, p.MinIntervalMinutes, p.MaxIntervalMinutes)
}

// backoff grows an interval by the idle factor, capped at the policy max.
func (p Policy) backoff(current int) int {
	factor := p.IdleBackoffFactor
	if factor < 1 {
		factor = 1
	}
	next := current * factor
	if next > p.MaxIntervalMinutes {
		next = p.MaxIntervalMinutes
	}
	return next
}

// clampInterval forces an interval into the policy bounds. Stored state can
// drift out of range when the policy is edited between polls.
func (p Policy) clampInterval(current int) int {
	return clamp(current, p.MinIntervalMinutes, p.MaxIntervalMinutes)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
