package domain

import "time"

// Event types written to the outbox.
const (
	EventLedgerEntryRecorded = "ledger.entry_recorded"
	EventStreakChanged       = "streak.changed"
)

// LedgerEntryRecorded is emitted for every appended activity record.
type LedgerEntryRecorded struct {
	RecordID    string    `json:"record_id"`
	UserID      string    `json:"user_id"`
	Category    string    `json:"category"`
	Kind        string    `json:"kind"`
	CoinsEarned int64     `json:"coins_earned"`
	DurationMin int       `json:"duration_min"`
	Timestamp   time.Time `json:"timestamp"`
}

// StreakChanged is emitted whenever a user's streak field is rewritten.
type StreakChanged struct {
	UserID     string    `json:"user_id"`
	Streak     int       `json:"streak"`
	Transition string    `json:"transition"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewLedgerEntryRecorded builds the event payload for rec.
func NewLedgerEntryRecorded(rec ActivityRecord) LedgerEntryRecorded {
	return LedgerEntryRecorded{
		RecordID:    rec.ID,
		UserID:      rec.UserID,
		Category:    string(rec.Category),
		Kind:        rec.Kind,
		CoinsEarned: rec.CoinsEarned,
		DurationMin: rec.DurationMin,
		Timestamp:   rec.Timestamp.UTC(),
	}
}
