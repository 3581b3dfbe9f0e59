package rewards

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/ivasann/daisy-copilot/internal/clock"
	"github.com/ivasann/daisy-copilot/internal/domain"
	"github.com/ivasann/daisy-copilot/internal/persistence/memory"
	"github.com/ivasann/daisy-copilot/internal/progress"
	"github.com/ivasann/daisy-copilot/internal/streak"
)

var day1 = time.Date(2025, time.July, 14, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store   *memory.Store
	clock   *clock.Manual
	service *Service
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	clk := clock.NewManual(day1)
	store := memory.NewStore(memory.WithClock(clk))
	return fixture{store: store, clock: clk, service: NewService(store, streak.New(), clk, opts...)}
}

type stubChatter struct {
	reply string
	err   error
	calls int
}

func (s *stubChatter) Reply(ctx context.Context, message string) (string, error) {
	s.calls++
	return s.reply, s.err
}

func ledgerSum(t require.TestingT, store *memory.Store, userID string) int64 {
	recs, _, err := store.ListLedger(context.Background(), userID, nil, 1000)
	require.NoError(t, err)
	var sum int64
	for _, r := range recs {
		sum += r.CoinsEarned
	}
	return sum
}

func TestScenarioStreakProgression(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.service.CompleteTask(ctx, "u1", "")
	require.NoError(t, err)
	require.Equal(t, int64(5), out.Snapshot.Coins)
	require.Equal(t, 1, out.Snapshot.Streak)
	require.Equal(t, int64(0), out.Snapshot.Level)
	require.Equal(t, int64(5), out.Snapshot.LevelProgress)
	require.Equal(t, streak.TransitionStarted, out.Transition)

	f.clock.Advance(24 * time.Hour)
	out, err = f.service.CompleteTask(ctx, "u1", "")
	require.NoError(t, err)
	require.Equal(t, int64(30), out.Snapshot.Coins)
	require.Equal(t, 2, out.Snapshot.Streak)
	require.Equal(t, Reward{Base: 5, StreakBonus: 20, Total: 25}, out.Reward)

	f.clock.Advance(2 * time.Hour)
	out, err = f.service.CompleteTask(ctx, "u1", "")
	require.NoError(t, err)
	require.Equal(t, int64(35), out.Snapshot.Coins)
	require.Equal(t, 2, out.Snapshot.Streak)
	require.Equal(t, int64(0), out.Reward.StreakBonus)

	tasks, err := f.store.ListRecent(ctx, "u1", domain.CategoryTask, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 4)
	var bonuses int
	for _, rec := range tasks {
		if rec.Kind == domain.KindStreakBonus {
			bonuses++
			require.Equal(t, int64(20), rec.CoinsEarned)
		}
	}
	require.Equal(t, 1, bonuses)
	require.Equal(t, int64(35), ledgerSum(t, f.store, "u1"))
}

func TestGapResetsStreak(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.CompleteTask(ctx, "u1", "")
	require.NoError(t, err)
	f.clock.Advance(24 * time.Hour)
	_, err = f.service.CompleteTask(ctx, "u1", "")
	require.NoError(t, err)

	f.clock.Advance(72 * time.Hour)
	out, err := f.service.CompleteTask(ctx, "u1", "")
	require.NoError(t, err)
	require.Equal(t, 1, out.Snapshot.Streak)
	require.Equal(t, streak.TransitionReset, out.Transition)
	require.Len(t, f.store.StreakChanges("u1"), 3)
}

func TestSpendInsufficientFundsLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Spend(ctx, SpendInput{UserID: "u3", Amount: 50, Reason: domain.KindThemeUnlock})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	snap, err := f.service.Balance(ctx, "u3")
	require.NoError(t, err)
	require.Equal(t, int64(0), snap.Coins)
	require.Equal(t, 0, snap.Streak)
	require.False(t, snap.ThemeUnlocked)

	recs, _, err := f.store.ListLedger(ctx, "u3", nil, 10)
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestFocusSessionRewards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.service.CompleteFocusSession(ctx, "u1", 25)
	require.NoError(t, err)
	require.Equal(t, int64(10), out.Reward.Base)
	require.Equal(t, int64(10), out.Snapshot.Coins)
	require.Equal(t, 25, out.Snapshot.FocusMinutesToday)

	out, err = f.service.CompleteFocusSession(ctx, "u2", 10)
	require.NoError(t, err)
	require.Equal(t, int64(0), out.Reward.Base)
	require.Equal(t, int64(0), out.Snapshot.Coins)

	_, err = f.service.CompleteFocusSession(ctx, "u4", 0)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	require.Contains(t, err.Error(), "Duration must be positive")

	focus, err := f.store.ListRecent(ctx, "u1", domain.CategoryFocus, 10)
	require.NoError(t, err)
	require.Len(t, focus, 1)
	require.Equal(t, 25, focus[0].DurationMin)
}

func TestFocusBonusIsSeparateTaskRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.CompleteTask(ctx, "u1", "")
	require.NoError(t, err)
	f.clock.Advance(24 * time.Hour)

	out, err := f.service.CompleteFocusSession(ctx, "u1", 30)
	require.NoError(t, err)
	require.Equal(t, int64(5+10+20), out.Snapshot.Coins)

	focus, err := f.store.ListRecent(ctx, "u1", domain.CategoryFocus, 10)
	require.NoError(t, err)
	require.Len(t, focus, 1)
	require.Equal(t, int64(10), focus[0].CoinsEarned)

	exists, err := f.store.RecordExists(ctx, "u1", domain.KindStreakBonus)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestThemeUnlockPurchasableOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.LogTask(ctx, "u1", "seed", 60)
	require.NoError(t, err)

	out, err := f.service.Spend(ctx, SpendInput{UserID: "u1", Amount: 50, Reason: domain.KindThemeUnlock})
	require.NoError(t, err)
	require.Equal(t, int64(10), out.Snapshot.Coins)
	require.True(t, out.Snapshot.ThemeUnlocked)
	require.False(t, out.Skipped)

	out, err = f.service.Spend(ctx, SpendInput{UserID: "u1", Amount: 50, Reason: domain.KindThemeUnlock})
	require.NoError(t, err)
	require.True(t, out.Skipped)
	require.Equal(t, int64(10), out.Snapshot.Coins)

	// a skipped unlock never reaches the funds check
	out, err = f.service.Spend(ctx, SpendInput{UserID: "u1", Amount: 500, Reason: domain.KindThemeUnlock})
	require.NoError(t, err)
	require.True(t, out.Skipped)

	snap, err := f.service.Balance(ctx, "u1")
	require.NoError(t, err)
	require.True(t, snap.ThemeUnlocked)
	require.Equal(t, int64(10), snap.Coins)
}

func TestSpendStillEvaluatesStreak(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.LogTask(ctx, "u1", "seed", 40)
	require.NoError(t, err)
	f.clock.Advance(24 * time.Hour)

	out, err := f.service.Spend(ctx, SpendInput{UserID: "u1", Amount: 30, Reason: "snack"})
	require.NoError(t, err)
	require.Equal(t, int64(40-30+20), out.Snapshot.Coins)
	require.Equal(t, 2, out.Snapshot.Streak)

	recs, err := f.store.ListSince(ctx, "u1", f.clock.Now())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, rec := range recs {
		if rec.Kind == "snack" {
			require.Equal(t, int64(0), rec.CoinsEarned)
		}
	}
}

func TestValidationRejectsBeforeStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.FailCommits(errors.New("should not be reached"))

	_, err := f.service.LogTask(ctx, "u5", "test", -1)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	require.Contains(t, err.Error(), "non-negative")

	_, err = f.service.Spend(ctx, SpendInput{UserID: "u5", Amount: 0, Reason: "x"})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = f.service.Spend(ctx, SpendInput{UserID: "u5", Amount: 1, Reason: " "})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = f.service.CompleteTask(ctx, "", "")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestStoreFailureIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.CompleteTask(ctx, "u1", "")
	require.NoError(t, err)
	f.clock.Advance(24 * time.Hour)

	f.store.FailCommits(errors.New("connection reset"))
	_, err = f.service.CompleteTask(ctx, "u1", "")
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
	f.store.FailCommits(nil)

	snap, err := f.service.Balance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(5), snap.Coins)
	require.Equal(t, 1, snap.Streak)
	require.Equal(t, int64(5), ledgerSum(t, f.store, "u1"))

	// the failed attempt did not consume the streak extension
	out, err := f.service.CompleteTask(ctx, "u1", "")
	require.NoError(t, err)
	require.Equal(t, int64(20), out.Reward.StreakBonus)
}

func TestConcurrentAwardsGrantOneBonus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.CompleteTask(ctx, "u1", "")
	require.NoError(t, err)
	f.clock.Advance(24 * time.Hour)

	var wg sync.WaitGroup
	errs := make(chan error, 25)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.CompleteTask(ctx, "u1", "")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	snap, err := f.service.Balance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 2, snap.Streak)
	require.Equal(t, int64(5+25*5+20), snap.Coins)
}

func TestLuckyBonusUsesInjectedRandomness(t *testing.T) {
	f := newFixture(t, WithLuckyBonus(0.1, 5, func() float64 { return 0.05 }))
	ctx := context.Background()

	out, err := f.service.CompleteTask(ctx, "u1", "")
	require.NoError(t, err)
	require.Equal(t, Reward{Base: 5, LuckyBonus: 5, Total: 10}, out.Reward)
	require.Equal(t, int64(10), out.Snapshot.Coins)

	exists, err := f.store.RecordExists(ctx, "u1", domain.KindLuckyBonus)
	require.NoError(t, err)
	require.True(t, exists)

	// spends never roll the lucky bonus
	out, err = f.service.Spend(ctx, SpendInput{UserID: "u1", Amount: 3, Reason: "snack"})
	require.NoError(t, err)
	require.Equal(t, int64(0), out.Reward.LuckyBonus)

	miss := newFixture(t, WithLuckyBonus(0.1, 5, func() float64 { return 0.5 }))
	out, err = miss.service.CompleteTask(ctx, "u1", "")
	require.NoError(t, err)
	require.Equal(t, int64(0), out.Reward.LuckyBonus)
}

func TestChatDebitsOnlyAfterSuccess(t *testing.T) {
	chatter := &stubChatter{err: errors.New("timeout")}
	f := newFixture(t, WithChatter(chatter, time.Second))
	ctx := context.Background()

	_, err := f.service.Chat(ctx, "u1", "hello")
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	require.Equal(t, 0, chatter.calls)

	_, err = f.service.LogTask(ctx, "u1", "seed", 3)
	require.NoError(t, err)

	_, err = f.service.Chat(ctx, "u1", "hello")
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	snap, err := f.service.Balance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(3), snap.Coins)

	chatter.err = nil
	chatter.reply = "breathe"
	out, err := f.service.Chat(ctx, "u1", "hello")
	require.NoError(t, err)
	require.Equal(t, "breathe", out.Reply)
	require.Equal(t, int64(2), out.Outcome.Snapshot.Coins)

	exists, err := f.store.RecordExists(ctx, "u1", domain.KindAIChat)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestChatWithoutCollaborator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.service.LogTask(ctx, "u1", "seed", 3)
	require.NoError(t, err)

	_, err = f.service.Chat(ctx, "u1", "hello")
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestJoinWaitlist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.service.JoinWaitlist(ctx, "not-an-email")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	entry, created, err := f.service.JoinWaitlist(ctx, "Daisy@Example.com")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "daisy@example.com", entry.Email)

	_, created, err = f.service.JoinWaitlist(ctx, "daisy@example.com")
	require.NoError(t, err)
	require.False(t, created)
}

func TestHistoryAndCalendar(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.CompleteTask(ctx, "u1", "")
	require.NoError(t, err)
	f.clock.Advance(24 * time.Hour)
	_, err = f.service.CompleteFocusSession(ctx, "u1", 25)
	require.NoError(t, err)
	f.clock.Advance(48 * time.Hour)
	_, err = f.service.CompleteTask(ctx, "u1", "")
	require.NoError(t, err)

	hist, err := f.service.History(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, hist.Tasks, 2)
	require.Len(t, hist.FocusSessions, 1)
	require.True(t, hist.Tasks[0].Timestamp.After(hist.Tasks[1].Timestamp) || hist.Tasks[0].Timestamp.Equal(hist.Tasks[1].Timestamp))
	require.Len(t, hist.StreakCalendar, progress.CalendarDays)

	var active []bool
	for _, d := range hist.StreakCalendar {
		active = append(active, d.Active)
	}
	require.Equal(t, []bool{false, false, false, true, true, false, true}, active)
}

func TestLedgerPagingAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.service.CompleteTask(ctx, "u1", "")
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
	}

	page, next, err := f.service.Ledger(ctx, "u1", nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.NotNil(t, next)

	page, next, err = f.service.Ledger(ctx, "u1", next, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Nil(t, next)

	require.NoError(t, f.service.DeleteUser(ctx, "u1"))
	require.ErrorIs(t, f.service.DeleteUser(ctx, "u1"), domain.ErrUserNotFound)
}

func TestBalanceNeverNegativeAndLedgerReconciles(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		clk := clock.NewManual(day1)
		store := memory.NewStore(memory.WithClock(clk))
		svc := NewService(store, streak.New(), clk)
		ctx := context.Background()

		var debits int64
		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			clk.Advance(time.Duration(rapid.IntRange(0, 60).Draw(t, "hours")) * time.Hour)
			switch rapid.IntRange(0, 3).Draw(t, "op") {
			case 0:
				_, err := svc.CompleteTask(ctx, "u1", "")
				require.NoError(t, err)
			case 1:
				_, err := svc.CompleteFocusSession(ctx, "u1", rapid.IntRange(1, 50).Draw(t, "minutes"))
				require.NoError(t, err)
			case 2:
				_, err := svc.LogTask(ctx, "u1", "custom", rapid.Int64Range(0, MaxCoinsPerActivity).Draw(t, "coins"))
				require.NoError(t, err)
			default:
				amount := rapid.Int64Range(1, 40).Draw(t, "amount")
				out, err := svc.Spend(ctx, SpendInput{UserID: "u1", Amount: amount, Reason: "spend"})
				if err != nil {
					require.ErrorIs(t, err, domain.ErrInsufficientFunds)
					continue
				}
				debits += amount
				require.GreaterOrEqual(t, out.Snapshot.Coins, int64(0))
			}

			snap, err := svc.Balance(ctx, "u1")
			require.NoError(t, err)
			require.GreaterOrEqual(t, snap.Coins, int64(0))
			require.Equal(t, ledgerSum(t, store, "u1")-debits, snap.Coins)
		}
	})
}

func TestAwardRejectsOversizedCoins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.LogTask(ctx, "u1", "big", math.MaxInt64)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	out, err := f.service.LogTask(ctx, "u1", "big", MaxCoinsPerActivity)
	require.NoError(t, err)
	require.Equal(t, MaxCoinsPerActivity, out.Snapshot.Coins)
}

func TestAwardRejectsBalanceOverflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.WithinUserTx(ctx, "u1", func(ctx context.Context, tx domain.LedgerTx) error {
		user := tx.User().Clone()
		user.Coins = math.MaxInt64 - 3
		return tx.SaveUser(ctx, user, nil)
	}))

	_, err := f.service.LogTask(ctx, "u1", "more", 5)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	user, err := f.store.GetOrCreateUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(math.MaxInt64-3), user.Coins)
	exists, err := f.store.RecordExists(ctx, "u1", "more")
	require.NoError(t, err)
	require.False(t, exists)
}

// versionedCache is an in-process SnapshotCache whose Set can be held open.
type versionedCache struct {
	mu      sync.Mutex
	gen     map[string]int64
	entries map[string]progress.Snapshot
	hits    int

	reached chan struct{}
	release chan struct{}
}

func newVersionedCache() *versionedCache {
	return &versionedCache{gen: map[string]int64{}, entries: map[string]progress.Snapshot{}}
}

func (c *versionedCache) key(userID, day string, version int64) string {
	return fmt.Sprintf("%s:%s:%d", userID, day, version)
}

func (c *versionedCache) Version(_ context.Context, userID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen[userID], nil
}

func (c *versionedCache) Get(_ context.Context, userID, day string, version int64) (*progress.Snapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.entries[c.key(userID, day, version)]
	if !ok {
		return nil, false, nil
	}
	c.hits++
	return &snap, true, nil
}

func (c *versionedCache) Set(_ context.Context, userID, day string, version int64, snap progress.Snapshot) error {
	if c.reached != nil {
		c.reached <- struct{}{}
		<-c.release
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[c.key(userID, day, version)] = snap
	return nil
}

func (c *versionedCache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen[userID]++
	return nil
}

func TestBalanceCacheIgnoresWriteRacingInvalidation(t *testing.T) {
	c := newVersionedCache()
	f := newFixture(t, WithSnapshotCache(c))
	ctx := context.Background()

	c.reached = make(chan struct{})
	c.release = make(chan struct{})
	done := make(chan progress.Snapshot)
	go func() {
		snap, err := f.service.Balance(ctx, "u1")
		require.NoError(t, err)
		done <- snap
	}()

	<-c.reached
	_, err := f.service.CompleteTask(ctx, "u1", "")
	require.NoError(t, err)
	c.reached = nil
	close(c.release)
	require.Zero(t, (<-done).Coins)

	snap, err := f.service.Balance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, TaskCoins, snap.Coins)

	snap, err = f.service.Balance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, TaskCoins, snap.Coins)
	require.Equal(t, 1, c.hits)
}

func TestTodayFiguresIgnoreRecordsDatedAfterToday(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.CompleteTask(ctx, "u1", "")
	require.NoError(t, err)

	f.clock.Set(day1.AddDate(0, 0, -1))
	snap, err := f.service.Balance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, TaskCoins, snap.Coins)
	require.Zero(t, snap.CoinsToday)
}
