// Package streak decides how a user's consecutive-day streak moves when a new activity arrives.
package streak

import "time"

// DefaultDailyBonus is the coin reward for extending a streak by exactly one day.
const DefaultDailyBonus int64 = 20

// Transition names the branch taken by Decide.
type Transition string

const (
	TransitionStarted  Transition = "started"
	TransitionSameDay  Transition = "same_day"
	TransitionExtended Transition = "extended"
	TransitionReset    Transition = "reset"
)

// Decision is the outcome of a single streak evaluation.
type Decision struct {
	Streak     int
	Bonus      int64
	Transition Transition
}

// Changed reports whether the user's stored streak must be rewritten.
func (d Decision) Changed() bool {
	return d.Transition != TransitionSameDay
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocation sets the time zone whose calendar defines a "day".
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithDailyBonus overrides the coins granted when a streak is extended.
func WithDailyBonus(bonus int64) Option {
	return func(e *Engine) {
		if bonus >= 0 {
			e.bonus = bonus
		}
	}
}

// Engine evaluates streak transitions. The zero value is not usable; call New.
type Engine struct {
	loc   *time.Location
	bonus int64
}

// New constructs an Engine that compares UTC calendar dates unless overridden.
func New(opts ...Option) *Engine {
	e := &Engine{loc: time.UTC, bonus: DefaultDailyBonus}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Location returns the engine's day-boundary time zone.
func (e *Engine) Location() *time.Location { return e.loc }

// Decide compares the calendar date of last against that of now.
//
// A nil last means the user has never been active. A last activity that falls on a
// later date than now (a clock reading behind stored history) is treated like a
// same-day repeat: the streak is left alone and no bonus is paid.
func (e *Engine) Decide(last *time.Time, now time.Time, previousStreak int) Decision {
	if last == nil {
		return Decision{Streak: 1, Transition: TransitionStarted}
	}

	switch days := e.DaysBetween(*last, now); {
	case days <= 0:
		return Decision{Streak: previousStreak, Transition: TransitionSameDay}
	case days == 1:
		return Decision{Streak: previousStreak + 1, Bonus: e.bonus, Transition: TransitionExtended}
	default:
		return Decision{Streak: 1, Transition: TransitionReset}
	}
}

// Date truncates t to midnight of its calendar date in the engine location.
func (e *Engine) Date(t time.Time) time.Time {
	local := t.In(e.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, e.loc)
}

// DaysBetween returns the number of calendar days from a to b (negative when b is earlier).
func (e *Engine) DaysBetween(a, b time.Time) int {
	da, db := e.Date(a), e.Date(b)
	// Compare as UTC midnights so DST shifts in the engine zone never yield 23h or 25h days.
	ua := time.Date(da.Year(), da.Month(), da.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(db.Year(), db.Month(), db.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

// SameDay reports whether a and b share a calendar date.
func (e *Engine) SameDay(a, b time.Time) bool {
	return e.DaysBetween(a, b) == 0
}
