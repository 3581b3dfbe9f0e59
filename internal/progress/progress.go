// Package progress derives levels, the weekly streak calendar and history views from stored ledger state.
package progress

import (
	"time"

	"github.com/ivasann/daisy-copilot/internal/domain"
	"github.com/ivasann/daisy-copilot/internal/streak"
)

// LevelSize is the number of coins per level band.
const LevelSize int64 = 100

// CalendarDays is the length of the rolling streak calendar.
const CalendarDays = 7

const dateKey = "2006-01-02"

// Level returns the tier for a balance.
func Level(coins int64) int64 {
	if coins <= 0 {
		return 0
	}
	return coins / LevelSize
}

// Progress returns the coins earned inside the current level band.
func Progress(coins int64) int64 {
	if coins <= 0 {
		return 0
	}
	return coins % LevelSize
}

// NextLevelAt returns the balance at which the next level is reached.
func NextLevelAt(coins int64) int64 {
	return (Level(coins) + 1) * LevelSize
}

// Snapshot is the balance view returned after every operation.
type Snapshot struct {
	UserID            string
	Coins             int64
	Streak            int
	Level             int64
	LevelProgress     int64
	NextLevelAt       int64
	ThemeUnlocked     bool
	Unlocks           map[string]bool
	LastActiveDate    *time.Time
	CoinsToday        int64
	FocusMinutesToday int
}

// BuildSnapshot assembles the balance view. unlocks maps each unlock kind to whether it was
// purchased; today holds the records dated on the current calendar day.
func BuildSnapshot(engine *streak.Engine, user domain.User, unlocks map[string]bool, today []domain.ActivityRecord) Snapshot {
	snap := Snapshot{
		UserID:        user.ID,
		Coins:         user.Coins,
		Streak:        user.Streak,
		Level:         Level(user.Coins),
		LevelProgress: Progress(user.Coins),
		NextLevelAt:   NextLevelAt(user.Coins),
		Unlocks:       make(map[string]bool, len(domain.UnlockKinds)),
	}
	for _, kind := range domain.UnlockKinds {
		snap.Unlocks[kind] = unlocks[kind]
	}
	snap.ThemeUnlocked = snap.Unlocks[domain.KindThemeUnlock]

	if user.LastActivityAt != nil {
		d := engine.Date(*user.LastActivityAt)
		snap.LastActiveDate = &d
	}

	for _, rec := range today {
		if rec.CoinsEarned > 0 {
			snap.CoinsToday += rec.CoinsEarned
		}
		if rec.Category == domain.CategoryFocus {
			snap.FocusMinutesToday += rec.DurationMin
		}
	}
	return snap
}

// Day is one cell of the streak calendar.
type Day struct {
	Date   time.Time
	Active bool
}

// Calendar reports activity for the seven calendar days ending on today's date, oldest first.
func Calendar(engine *streak.Engine, today time.Time, records []domain.ActivityRecord) []Day {
	active := make(map[string]struct{}, len(records))
	for _, rec := range records {
		active[engine.Date(rec.Timestamp).Format(dateKey)] = struct{}{}
	}

	end := engine.Date(today)
	days := make([]Day, 0, CalendarDays)
	for i := CalendarDays - 1; i >= 0; i-- {
		d := end.AddDate(0, 0, -i)
		_, ok := active[d.Format(dateKey)]
		days = append(days, Day{Date: d, Active: ok})
	}
	return days
}

// CalendarStart returns the first instant covered by Calendar for today.
func CalendarStart(engine *streak.Engine, today time.Time) time.Time {
	return engine.Date(today).AddDate(0, 0, -(CalendarDays - 1))
}

// History groups recent records into the two feeds plus the calendar.
type History struct {
	Tasks          []domain.ActivityRecord
	FocusSessions  []domain.ActivityRecord
	StreakCalendar []Day
}

// TodayRecords filters records to those dated on today's calendar day.
func TodayRecords(engine *streak.Engine, today time.Time, records []domain.ActivityRecord) []domain.ActivityRecord {
	out := make([]domain.ActivityRecord, 0, len(records))
	for _, rec := range records {
		if engine.SameDay(rec.Timestamp, today) {
			out = append(out, rec)
		}
	}
	return out
}
