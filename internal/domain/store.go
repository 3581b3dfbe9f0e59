package domain

import (
	"context"
	"time"
)

// LedgerStore persists users and their append-only activity records.
type LedgerStore interface {
	// WithinUserTx runs fn while holding the per-user lock for userID. The user row is
	// created if missing. Every mutation made through the LedgerTx is applied only if
	// fn returns nil.
	WithinUserTx(ctx context.Context, userID string, fn func(ctx context.Context, tx LedgerTx) error) error

	GetOrCreateUser(ctx context.Context, userID string) (*User, error)
	LastActivityAt(ctx context.Context, userID string) (*time.Time, error)
	// ListRecent returns the newest records of the category, newest first.
	ListRecent(ctx context.Context, userID string, category Category, limit int) ([]ActivityRecord, error)
	// ListSince returns all records at or after since, newest first.
	ListSince(ctx context.Context, userID string, since time.Time) ([]ActivityRecord, error)
	ListLedger(ctx context.Context, userID string, cursor *Cursor, limit int) ([]ActivityRecord, *Cursor, error)
	RecordExists(ctx context.Context, userID, kind string) (bool, error)
	// DeleteUser removes the user and every owned record. Returns ErrUserNotFound if absent.
	DeleteUser(ctx context.Context, userID string) error
	// AddWaitlist inserts email if new; the bool reports whether a row was created.
	AddWaitlist(ctx context.Context, email string) (*WaitlistEntry, bool, error)
}

// LedgerTx is the view of a single user's state inside WithinUserTx.
type LedgerTx interface {
	// User returns the locked user row. Mutations are persisted with SaveUser.
	User() *User
	RecordExists(ctx context.Context, kind string) (bool, error)
	AppendRecord(ctx context.Context, record ActivityRecord) error
	// SaveUser writes coins, streak and last activity. A non-nil change additionally
	// records the streak transition for downstream consumers.
	SaveUser(ctx context.Context, user User, change *StreakChange) error
}

// StreakChange describes a written streak transition.
type StreakChange struct {
	Streak     int
	Transition string
	OccurredAt time.Time
}
