// Package rewards applies streak decisions and coin changes to the ledger as single per-user units of work.
package rewards

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ivasann/daisy-copilot/internal/cache"
	"github.com/ivasann/daisy-copilot/internal/clock"
	"github.com/ivasann/daisy-copilot/internal/domain"
	"github.com/ivasann/daisy-copilot/internal/observability"
	"github.com/ivasann/daisy-copilot/internal/progress"
	"github.com/ivasann/daisy-copilot/internal/streak"
)

const (
	// TaskCoins is the base reward for a completed task.
	TaskCoins int64 = 5
	// FocusCoins is the base reward for a focus session of at least FocusMinMinutes.
	FocusCoins int64 = 10
	// FocusMinMinutes is the shortest focus session that earns coins.
	FocusMinMinutes = 25
	// ChatCost is debited after every successful chat reply.
	ChatCost int64 = 1
	// MaxCoinsPerActivity bounds the caller-supplied coins of a single award.
	MaxCoinsPerActivity int64 = 1_000_000

	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
	DefaultLuckyAmount  = 5
	defaultChatTimeout  = 30 * time.Second
)

// Chatter produces a reply for a user message.
type Chatter interface {
	Reply(ctx context.Context, message string) (string, error)
}

// Reward breaks down the coins credited by one operation.
type Reward struct {
	Base        int64
	StreakBonus int64
	LuckyBonus  int64
	Total       int64
}

// Outcome is returned by every write operation.
type Outcome struct {
	User       domain.User
	Snapshot   progress.Snapshot
	Reward     Reward
	Transition streak.Transition
	// Skipped is true when a one-time unlock was already owned and nothing changed.
	Skipped bool
}

// AwardInput describes a coin-earning event.
type AwardInput struct {
	UserID    string
	Kind      string
	BaseCoins int64
}

// SpendInput describes a debit.
type SpendInput struct {
	UserID string
	Amount int64
	Reason string
}

// ChatOutcome pairs the assistant reply with the post-debit balance.
type ChatOutcome struct {
	Reply   string
	Outcome Outcome
}

// Option configures a Service.
type Option func(*Service)

// WithLuckyBonus enables the random bonus on earn paths. chance is a probability in [0,1];
// rng must return values in [0,1). A nil rng uses math/rand.
func WithLuckyBonus(chance float64, amount int64, rng func() float64) Option {
	return func(s *Service) {
		s.luckyChance = chance
		if amount > 0 {
			s.luckyAmount = amount
		}
		if rng != nil {
			s.rng = rng
		}
	}
}

// WithSnapshotCache sets the balance snapshot cache.
func WithSnapshotCache(c cache.SnapshotCache) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithChatter sets the chat collaborator and the bound on each call.
func WithChatter(c Chatter, timeout time.Duration) Option {
	return func(s *Service) {
		s.chatter = c
		if timeout > 0 {
			s.chatTimeout = timeout
		}
	}
}

// Service orchestrates ledger workflows.
type Service struct {
	store  domain.LedgerStore
	engine *streak.Engine
	clock  clock.Clock
	cache  cache.SnapshotCache
	logger zerolog.Logger

	chatter     Chatter
	chatTimeout time.Duration

	luckyChance float64
	luckyAmount int64
	rng         func() float64

	validate *validator.Validate
}

// NewService constructs a Service.
func NewService(store domain.LedgerStore, engine *streak.Engine, clk clock.Clock, opts ...Option) *Service {
	if engine == nil {
		engine = streak.New()
	}
	if clk == nil {
		clk = clock.System{}
	}
	s := &Service{
		store:       store,
		engine:      engine,
		clock:       clk,
		cache:       cache.Noop{},
		logger:      zerolog.Nop(),
		chatTimeout: defaultChatTimeout,
		luckyAmount: DefaultLuckyAmount,
		rng:         rand.Float64,
		validate:    validator.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Engine exposes the streak engine used for day boundaries.
func (s *Service) Engine() *streak.Engine { return s.engine }

// mutation is one pass through the shared award/spend pipeline.
type mutation struct {
	op          string
	userID      string
	category    domain.Category
	kind        string
	coinsEarned int64
	credit      int64
	debit       int64
	durationMin int
	lucky       bool
	unlock      bool
}

// Award credits BaseCoins for an activity of Kind and evaluates the streak.
func (s *Service) Award(ctx context.Context, in AwardInput) (Outcome, error) {
	if err := validateUserID(in.UserID); err != nil {
		return Outcome{}, err
	}
	if strings.TrimSpace(in.Kind) == "" {
		return Outcome{}, fmt.Errorf("%w: activity kind is required", domain.ErrInvalidArgument)
	}
	if in.BaseCoins < 0 {
		return Outcome{}, fmt.Errorf("%w: coins must be non-negative", domain.ErrInvalidArgument)
	}
	if in.BaseCoins > MaxCoinsPerActivity {
		return Outcome{}, fmt.Errorf("%w: coins must be at most %d", domain.ErrInvalidArgument, MaxCoinsPerActivity)
	}
	return s.apply(ctx, mutation{
		op:          "award",
		userID:      in.UserID,
		category:    domain.CategoryTask,
		kind:        in.Kind,
		coinsEarned: in.BaseCoins,
		credit:      in.BaseCoins,
		lucky:       true,
	})
}

// CompleteTask awards the standard task reward. An empty kind defaults to task_completed.
func (s *Service) CompleteTask(ctx context.Context, userID, kind string) (Outcome, error) {
	if strings.TrimSpace(kind) == "" {
		kind = domain.KindTaskCompleted
	}
	return s.Award(ctx, AwardInput{UserID: userID, Kind: kind, BaseCoins: TaskCoins})
}

// LogTask awards caller-supplied coins for a task of kind.
func (s *Service) LogTask(ctx context.Context, userID, kind string, coins int64) (Outcome, error) {
	return s.Award(ctx, AwardInput{UserID: userID, Kind: kind, BaseCoins: coins})
}

// FocusReward returns the base coins for a focus session of durationMin minutes.
func FocusReward(durationMin int) int64 {
	if durationMin >= FocusMinMinutes {
		return FocusCoins
	}
	return 0
}

// CompleteFocusSession records a focus session and awards FocusReward for its duration.
func (s *Service) CompleteFocusSession(ctx context.Context, userID string, durationMin int) (Outcome, error) {
	if err := validateUserID(userID); err != nil {
		return Outcome{}, err
	}
	if durationMin <= 0 {
		return Outcome{}, fmt.Errorf("%w: Duration must be positive", domain.ErrInvalidArgument)
	}
	base := FocusReward(durationMin)
	return s.apply(ctx, mutation{
		op:          "focus",
		userID:      userID,
		category:    domain.CategoryFocus,
		kind:        domain.KindFocusSession,
		coinsEarned: base,
		credit:      base,
		durationMin: durationMin,
		lucky:       true,
	})
}

// Spend debits Amount for Reason. Unlock reasons already owned are skipped without change.
func (s *Service) Spend(ctx context.Context, in SpendInput) (Outcome, error) {
	if err := validateUserID(in.UserID); err != nil {
		return Outcome{}, err
	}
	if in.Amount <= 0 {
		return Outcome{}, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidArgument)
	}
	if strings.TrimSpace(in.Reason) == "" {
		return Outcome{}, fmt.Errorf("%w: reason is required", domain.ErrInvalidArgument)
	}
	return s.apply(ctx, mutation{
		op:       "spend",
		userID:   in.UserID,
		category: domain.CategoryTask,
		kind:     in.Reason,
		debit:    in.Amount,
		unlock:   domain.IsUnlock(in.Reason),
	})
}

// Chat forwards message to the chat collaborator and debits ChatCost only after a successful reply.
func (s *Service) Chat(ctx context.Context, userID, message string) (ChatOutcome, error) {
	if err := validateUserID(userID); err != nil {
		return ChatOutcome{}, err
	}
	if strings.TrimSpace(message) == "" {
		return ChatOutcome{}, fmt.Errorf("%w: message is required", domain.ErrInvalidArgument)
	}

	user, err := s.store.GetOrCreateUser(ctx, userID)
	if err != nil {
		return ChatOutcome{}, err
	}
	if user.Coins < ChatCost {
		observability.RecordInsufficientFunds()
		return ChatOutcome{}, domain.ErrInsufficientFunds
	}
	if s.chatter == nil {
		return ChatOutcome{}, fmt.Errorf("%w: chat is not configured", domain.ErrUpstreamUnavailable)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.chatTimeout)
	reply, err := s.chatter.Reply(callCtx, message)
	cancel()
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("chat upstream failed")
		return ChatOutcome{}, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}

	out, err := s.Spend(ctx, SpendInput{UserID: userID, Amount: ChatCost, Reason: domain.KindAIChat})
	if err != nil {
		return ChatOutcome{}, err
	}
	return ChatOutcome{Reply: reply, Outcome: out}, nil
}

// JoinWaitlist records email once. The bool reports whether the address was new.
func (s *Service) JoinWaitlist(ctx context.Context, email string) (*domain.WaitlistEntry, bool, error) {
	email = strings.TrimSpace(email)
	if err := s.validate.Var(email, "required,email"); err != nil {
		return nil, false, fmt.Errorf("%w: invalid email address", domain.ErrInvalidArgument)
	}
	return s.store.AddWaitlist(ctx, strings.ToLower(email))
}

// Balance returns the user's snapshot, creating the user on first reference.
func (s *Service) Balance(ctx context.Context, userID string) (progress.Snapshot, error) {
	if err := validateUserID(userID); err != nil {
		return progress.Snapshot{}, err
	}
	now := s.clock.Now()
	day := s.dayKey(now)

	// Read the generation before the store so a concurrent write invalidates past it.
	version, verr := s.cache.Version(ctx, userID)
	if verr != nil {
		observability.RecordCacheLookup("error")
		s.logger.Warn().Err(verr).Str("user_id", userID).Msg("snapshot cache version read failed")
	} else {
		snap, ok, err := s.cache.Get(ctx, userID, day, version)
		switch {
		case err != nil:
			observability.RecordCacheLookup("error")
			s.logger.Warn().Err(err).Str("user_id", userID).Msg("snapshot cache read failed")
		case ok:
			observability.RecordCacheLookup("hit")
			return *snap, nil
		default:
			observability.RecordCacheLookup("miss")
		}
	}

	user, err := s.store.GetOrCreateUser(ctx, userID)
	if err != nil {
		return progress.Snapshot{}, err
	}
	fresh, err := s.snapshot(ctx, *user, now)
	if err != nil {
		return progress.Snapshot{}, err
	}
	if verr == nil {
		if err := s.cache.Set(ctx, userID, day, version, fresh); err != nil {
			s.logger.Warn().Err(err).Str("user_id", userID).Msg("snapshot cache write failed")
		}
	}
	return fresh, nil
}

// History returns the most recent task and focus records plus the streak calendar.
func (s *Service) History(ctx context.Context, userID string, limit int) (progress.History, error) {
	if err := validateUserID(userID); err != nil {
		return progress.History{}, err
	}
	limit = clampLimit(limit)

	tasks, err := s.store.ListRecent(ctx, userID, domain.CategoryTask, limit)
	if err != nil {
		return progress.History{}, err
	}
	focus, err := s.store.ListRecent(ctx, userID, domain.CategoryFocus, limit)
	if err != nil {
		return progress.History{}, err
	}
	now := s.clock.Now()
	window, err := s.store.ListSince(ctx, userID, progress.CalendarStart(s.engine, now))
	if err != nil {
		return progress.History{}, err
	}
	return progress.History{
		Tasks:          tasks,
		FocusSessions:  focus,
		StreakCalendar: progress.Calendar(s.engine, now, window),
	}, nil
}

// Ledger pages through every record of the user, newest first.
func (s *Service) Ledger(ctx context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.ActivityRecord, *domain.Cursor, error) {
	if err := validateUserID(userID); err != nil {
		return nil, nil, err
	}
	return s.store.ListLedger(ctx, userID, cursor, clampLimit(limit))
}

// DeleteUser removes the user and all owned records.
func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	if err := validateUserID(userID); err != nil {
		return err
	}
	if err := s.store.DeleteUser(ctx, userID); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

// apply runs the shared pipeline inside one per-user unit of work.
func (s *Service) apply(ctx context.Context, m mutation) (out Outcome, err error) {
	started := time.Now()
	defer func() { observability.ObserveOperation(m.op, started, err) }()

	// Postgres keeps microseconds; truncate so every store orders records identically.
	now := s.clock.Now().UTC().Truncate(time.Microsecond)
	var (
		reward   Reward
		decision streak.Decision
		skipped  bool
		saved    domain.User
	)

	err = s.store.WithinUserTx(ctx, m.userID, func(ctx context.Context, tx domain.LedgerTx) error {
		user := tx.User().Clone()

		if m.unlock {
			owned, err := tx.RecordExists(ctx, m.kind)
			if err != nil {
				return err
			}
			if owned {
				skipped = true
				saved = user
				return nil
			}
		}
		if m.debit > user.Coins {
			return domain.ErrInsufficientFunds
		}

		decision = s.engine.Decide(user.LastActivityAt, now, user.Streak)
		reward = Reward{Base: m.credit, StreakBonus: decision.Bonus}
		if m.lucky && s.luckyChance > 0 && s.rng() < s.luckyChance {
			reward.LuckyBonus = s.luckyAmount
		}
		reward.Total = reward.Base + reward.StreakBonus + reward.LuckyBonus

		coins, ok := addCoins(user.Coins-m.debit, reward.Total)
		if !ok {
			return fmt.Errorf("%w: balance would overflow", domain.ErrInvalidArgument)
		}
		user.Coins = coins
		user.UpdatedAt = now
		if user.LastActivityAt == nil || now.After(*user.LastActivityAt) {
			ts := now
			user.LastActivityAt = &ts
		}

		var change *domain.StreakChange
		if decision.Changed() {
			user.Streak = decision.Streak
			change = &domain.StreakChange{Streak: decision.Streak, Transition: string(decision.Transition), OccurredAt: now}
		}

		records := []domain.ActivityRecord{{
			Category:    m.category,
			Kind:        m.kind,
			CoinsEarned: m.coinsEarned,
			DurationMin: m.durationMin,
		}}
		if reward.StreakBonus > 0 {
			records = append(records, domain.ActivityRecord{Category: domain.CategoryTask, Kind: domain.KindStreakBonus, CoinsEarned: reward.StreakBonus})
		}
		if reward.LuckyBonus > 0 {
			records = append(records, domain.ActivityRecord{Category: domain.CategoryTask, Kind: domain.KindLuckyBonus, CoinsEarned: reward.LuckyBonus})
		}
		for _, rec := range records {
			rec.ID = uuid.NewString()
			rec.UserID = m.userID
			rec.Timestamp = now
			if err := tx.AppendRecord(ctx, rec); err != nil {
				return err
			}
		}

		if err := tx.SaveUser(ctx, user, change); err != nil {
			return err
		}
		saved = user
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) {
			observability.RecordInsufficientFunds()
		}
		s.logger.Debug().Err(err).Str("op", m.op).Str("user_id", m.userID).Msg("ledger operation rejected")
		return Outcome{}, err
	}

	if !skipped {
		observability.RecordStreakTransition(string(decision.Transition))
		observability.RecordCoinsAwarded("base", reward.Base)
		observability.RecordCoinsAwarded(domain.KindStreakBonus, reward.StreakBonus)
		observability.RecordCoinsAwarded(domain.KindLuckyBonus, reward.LuckyBonus)
		observability.RecordCoinsSpent(m.kind, m.debit)
		observability.RecordLedgerWrite(now)
		s.invalidate(ctx, m.userID)
	}

	snap, err := s.snapshot(ctx, saved, now)
	if err != nil {
		return Outcome{}, err
	}

	s.logger.Debug().
		Str("op", m.op).
		Str("user_id", m.userID).
		Str("kind", m.kind).
		Str("transition", string(decision.Transition)).
		Int64("total", reward.Total).
		Int64("debit", m.debit).
		Int64("coins", saved.Coins).
		Bool("skipped", skipped).
		Msg("ledger operation applied")

	return Outcome{User: saved, Snapshot: snap, Reward: reward, Transition: decision.Transition, Skipped: skipped}, nil
}

func (s *Service) snapshot(ctx context.Context, user domain.User, now time.Time) (progress.Snapshot, error) {
	unlocks := make(map[string]bool, len(domain.UnlockKinds))
	for _, kind := range domain.UnlockKinds {
		owned, err := s.store.RecordExists(ctx, user.ID, kind)
		if err != nil {
			return progress.Snapshot{}, err
		}
		unlocks[kind] = owned
	}
	since, err := s.store.ListSince(ctx, user.ID, s.engine.Date(now))
	if err != nil {
		return progress.Snapshot{}, err
	}
	// ListSince is open ended; records dated after today exist once the clock steps back.
	return progress.BuildSnapshot(s.engine, user, unlocks, progress.TodayRecords(s.engine, now, since)), nil
}

func (s *Service) invalidate(ctx context.Context, userID string) {
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("snapshot cache invalidation failed")
	}
}

func (s *Service) dayKey(now time.Time) string {
	return s.engine.Date(now).Format("2006-01-02")
}

// addCoins returns balance+credit and false when the sum does not fit in int64.
// Both operands are non-negative here, so overflow shows up as a wrapped sum.
func addCoins(balance, credit int64) (int64, bool) {
	sum := balance + credit
	if credit > 0 && sum < balance {
		return 0, false
	}
	return sum, true
}

func validateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user_id is required", domain.ErrInvalidArgument)
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}
