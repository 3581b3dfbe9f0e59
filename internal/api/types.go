package api

import (
	"time"

	"github.com/ivasann/daisy-copilot/internal/domain"
	"github.com/ivasann/daisy-copilot/internal/progress"
	"github.com/ivasann/daisy-copilot/internal/rewards"
)

const dateLayout = "2006-01-02"

// EarnCoinsRequest is the payload for POST /earn-coins.
type EarnCoinsRequest struct {
	UserID   string `json:"user_id" validate:"required"`
	TaskType string `json:"task_type"`
}

// LogTaskRequest is the payload for POST /log-task.
type LogTaskRequest struct {
	UserID      string `json:"user_id" validate:"required"`
	Type        string `json:"type" validate:"required"`
	CoinsEarned int64  `json:"coins_earned" validate:"min=0,max=1000000"`
}

// SpendCoinsRequest is the payload for POST /spend-coins.
type SpendCoinsRequest struct {
	UserID string `json:"user_id" validate:"required"`
	Amount int64  `json:"amount" validate:"gt=0"`
	Reason string `json:"reason" validate:"required"`
}

// PomodoroCompleteRequest is the payload for POST /pomodoro-complete. A missing
// duration means a standard 25 minute session.
type PomodoroCompleteRequest struct {
	UserID   string `json:"user_id" validate:"required"`
	Duration *int   `json:"duration" validate:"omitempty,gt=0"`
}

// AIChatRequest is the payload for POST /ai-chat.
type AIChatRequest struct {
	UserID  string `json:"user_id" validate:"required"`
	Message string `json:"message" validate:"required"`
}

// WaitlistRequest is the payload for POST /waitlist.
type WaitlistRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// BalanceView is the balance snapshot exposed to clients.
type BalanceView struct {
	UserID            string          `json:"user_id"`
	Coins             int64           `json:"coins"`
	Streak            int             `json:"streak"`
	Level             int64           `json:"level"`
	LevelProgress     int64           `json:"level_progress"`
	NextLevelAt       int64           `json:"next_level_at"`
	ThemeUnlocked     bool            `json:"theme_unlocked"`
	Unlocks           map[string]bool `json:"unlocks"`
	LastActiveDate    *string         `json:"last_active_date"`
	CoinsToday        int64           `json:"coins_today"`
	FocusMinutesToday int             `json:"focus_minutes_today"`
}

// RewardView breaks down the coins credited by one operation.
type RewardView struct {
	Base        int64 `json:"base"`
	StreakBonus int64 `json:"streak_bonus"`
	LuckyBonus  int64 `json:"lucky_bonus"`
	Total       int64 `json:"total"`
}

// OutcomeResponse is returned by every earn and spend endpoint.
type OutcomeResponse struct {
	BalanceView
	Reward     RewardView `json:"reward"`
	Transition string     `json:"streak_transition"`
	Skipped    bool       `json:"skipped,omitempty"`
}

// AIChatResponse carries the assistant reply and the balance after the debit.
type AIChatResponse struct {
	Reply   string      `json:"reply"`
	Balance BalanceView `json:"balance"`
}

// WaitlistResponse reports whether the address was newly added.
type WaitlistResponse struct {
	Status string `json:"status"`
	Email  string `json:"email"`
}

// TaskItem is one entry of the task history feed.
type TaskItem struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Coins     int64     `json:"coins"`
	Timestamp time.Time `json:"timestamp"`
}

// PomodoroItem is one entry of the focus session feed.
type PomodoroItem struct {
	ID          string    `json:"id"`
	Duration    int       `json:"duration"`
	Coins       int64     `json:"coins"`
	CompletedAt time.Time `json:"completed_at"`
}

// CalendarDay is one cell of the streak calendar.
type CalendarDay struct {
	Date   string `json:"date"`
	Active bool   `json:"active"`
}

// HistoryResponse packages both feeds and the calendar.
type HistoryResponse struct {
	Tasks          []TaskItem     `json:"tasks"`
	Pomodoros      []PomodoroItem `json:"pomodoros"`
	StreakCalendar []CalendarDay  `json:"streak_calendar"`
}

// RecordView exposes a ledger record.
type RecordView struct {
	ID          string    `json:"id"`
	Category    string    `json:"category"`
	Kind        string    `json:"kind"`
	CoinsEarned int64     `json:"coins_earned"`
	DurationMin int       `json:"duration_min,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// LedgerResponse packages one ledger page.
type LedgerResponse struct {
	Items      []RecordView `json:"items"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

func toBalanceView(s progress.Snapshot) BalanceView {
	view := BalanceView{
		UserID:            s.UserID,
		Coins:             s.Coins,
		Streak:            s.Streak,
		Level:             s.Level,
		LevelProgress:     s.LevelProgress,
		NextLevelAt:       s.NextLevelAt,
		ThemeUnlocked:     s.ThemeUnlocked,
		Unlocks:           s.Unlocks,
		CoinsToday:        s.CoinsToday,
		FocusMinutesToday: s.FocusMinutesToday,
	}
	if s.LastActiveDate != nil {
		d := s.LastActiveDate.Format(dateLayout)
		view.LastActiveDate = &d
	}
	return view
}

func toOutcomeView(out rewards.Outcome) OutcomeResponse {
	return OutcomeResponse{
		BalanceView: toBalanceView(out.Snapshot),
		Reward: RewardView{
			Base:        out.Reward.Base,
			StreakBonus: out.Reward.StreakBonus,
			LuckyBonus:  out.Reward.LuckyBonus,
			Total:       out.Reward.Total,
		},
		Transition: string(out.Transition),
		Skipped:    out.Skipped,
	}
}

func toHistoryView(h progress.History) HistoryResponse {
	resp := HistoryResponse{
		Tasks:          make([]TaskItem, 0, len(h.Tasks)),
		Pomodoros:      make([]PomodoroItem, 0, len(h.FocusSessions)),
		StreakCalendar: make([]CalendarDay, 0, len(h.StreakCalendar)),
	}
	for _, rec := range h.Tasks {
		resp.Tasks = append(resp.Tasks, TaskItem{ID: rec.ID, Type: rec.Kind, Coins: rec.CoinsEarned, Timestamp: rec.Timestamp})
	}
	for _, rec := range h.FocusSessions {
		resp.Pomodoros = append(resp.Pomodoros, PomodoroItem{ID: rec.ID, Duration: rec.DurationMin, Coins: rec.CoinsEarned, CompletedAt: rec.Timestamp})
	}
	for _, day := range h.StreakCalendar {
		resp.StreakCalendar = append(resp.StreakCalendar, CalendarDay{Date: day.Date.Format(dateLayout), Active: day.Active})
	}
	return resp
}

func toRecordView(rec domain.ActivityRecord) RecordView {
	return RecordView{
		ID:          rec.ID,
		Category:    string(rec.Category),
		Kind:        rec.Kind,
		CoinsEarned: rec.CoinsEarned,
		DurationMin: rec.DurationMin,
		Timestamp:   rec.Timestamp,
	}
}
