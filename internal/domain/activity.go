// Package domain defines the entities and storage contract for the coin and streak ledger.
package domain

import "time"

// DefaultUserName is assigned to users created lazily on first reference.
const DefaultUserName = "Guest"

// Category separates the two record families surfaced by history.
type Category string

const (
	CategoryTask  Category = "task"
	CategoryFocus Category = "focus"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return c == CategoryTask || c == CategoryFocus
}

// Reserved record kinds.
const (
	KindTaskCompleted  = "task_completed"
	KindStreakBonus    = "streak_bonus"
	KindLuckyBonus     = "lucky_bonus"
	KindFocusSession   = "focus_session"
	KindAIChat         = "ai_chat"
	KindThemeUnlock    = "theme_unlock"
	KindGlowUnlock     = "glow_unlock"
	KindConfettiUnlock = "confetti_unlock"
	KindAvatarUnlock   = "avatar_unlock"
)

// UnlockKinds lists the spend reasons that may be purchased at most once per user.
var UnlockKinds = []string{KindThemeUnlock, KindGlowUnlock, KindConfettiUnlock, KindAvatarUnlock}

// IsUnlock reports whether kind is a one-time purchase.
func IsUnlock(kind string) bool {
	for _, k := range UnlockKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// User holds the per-user balance and streak state.
type User struct {
	ID             string
	Name           string
	Coins          int64
	Streak         int
	LastActivityAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Clone returns a deep copy so callers can stage mutations.
func (u User) Clone() User {
	if u.LastActivityAt != nil {
		ts := *u.LastActivityAt
		u.LastActivityAt = &ts
	}
	return u
}

// ActivityRecord is an immutable ledger entry explaining one coin-affecting event.
type ActivityRecord struct {
	ID          string
	UserID      string
	Category    Category
	Kind        string
	CoinsEarned int64
	DurationMin int
	Timestamp   time.Time
}

// WaitlistEntry is a mailing-list signup.
type WaitlistEntry struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

// Cursor models the ledger pagination token.
type Cursor struct {
	Timestamp time.Time
	ID        string
}
