// Package memory provides an in-process LedgerStore for tests and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ivasann/daisy-copilot/internal/clock"
	"github.com/ivasann/daisy-copilot/internal/domain"
	"github.com/ivasann/daisy-copilot/internal/persistence"
)

// Store keeps users and records in maps. Writes for one user are serialised by a
// per-user mutex and applied from a staged copy only when the unit of work succeeds.
type Store struct {
	clock clock.Clock

	mu       sync.RWMutex
	users    map[string]domain.User
	records  map[string][]domain.ActivityRecord
	changes  map[string][]domain.StreakChange
	waitlist map[string]domain.WaitlistEntry

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	faultMu   sync.Mutex
	commitErr error
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for created/updated timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// NewStore constructs an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		clock:    clock.System{},
		users:    make(map[string]domain.User),
		records:  make(map[string][]domain.ActivityRecord),
		changes:  make(map[string][]domain.StreakChange),
		waitlist: make(map[string]domain.WaitlistEntry),
		locks:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FailCommits makes every following commit fail with err wrapped as ErrStoreUnavailable.
// Passing nil restores normal behaviour.
func (s *Store) FailCommits(err error) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.commitErr = err
}

func (s *Store) commitFault() error {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	return s.commitErr
}

func (s *Store) userLock(userID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

func (s *Store) newUser(userID string) domain.User {
	now := s.clock.Now().UTC()
	return domain.User{ID: userID, Name: domain.DefaultUserName, CreatedAt: now, UpdatedAt: now}
}

// WithinUserTx implements domain.LedgerStore.
func (s *Store) WithinUserTx(ctx context.Context, userID string, fn func(ctx context.Context, tx domain.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	user, ok := s.users[userID]
	existing := s.records[userID]
	s.mu.RUnlock()
	if !ok {
		user = s.newUser(userID)
	}

	tx := &memTx{existing: existing, user: user.Clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if fault := s.commitFault(); fault != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrStoreUnavailable, fault)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = tx.user
	if len(tx.appended) > 0 {
		s.records[userID] = append(s.records[userID], tx.appended...)
	}
	if len(tx.changes) > 0 {
		s.changes[userID] = append(s.changes[userID], tx.changes...)
	}
	return nil
}

// GetOrCreateUser implements domain.LedgerStore.
func (s *Store) GetOrCreateUser(ctx context.Context, userID string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		user = s.newUser(userID)
		s.users[userID] = user
	}
	out := user.Clone()
	return &out, nil
}

// LastActivityAt implements domain.LedgerStore.
func (s *Store) LastActivityAt(ctx context.Context, userID string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	if !ok || user.LastActivityAt == nil {
		return nil, nil
	}
	ts := *user.LastActivityAt
	return &ts, nil
}

// ListRecent implements domain.LedgerStore.
func (s *Store) ListRecent(ctx context.Context, userID string, category domain.Category, limit int) ([]domain.ActivityRecord, error) {
	out := make([]domain.ActivityRecord, 0)
	for _, rec := range s.sorted(userID) {
		if limit > 0 && len(out) == limit {
			break
		}
		if rec.Category == category {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ListSince implements domain.LedgerStore.
func (s *Store) ListSince(ctx context.Context, userID string, since time.Time) ([]domain.ActivityRecord, error) {
	out := make([]domain.ActivityRecord, 0)
	for _, rec := range s.sorted(userID) {
		if rec.Timestamp.Before(since) {
			break
		}
		out = append(out, rec)
	}
	return out, nil
}

// ListLedger implements domain.LedgerStore.
func (s *Store) ListLedger(ctx context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.ActivityRecord, *domain.Cursor, error) {
	results := make([]domain.ActivityRecord, 0, limit)
	for _, rec := range s.sorted(userID) {
		if len(results) == limit {
			break
		}
		if persistence.Before(rec, cursor) {
			results = append(results, rec)
		}
	}

	var next *domain.Cursor
	if limit > 0 && len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{Timestamp: last.Timestamp, ID: last.ID}
	}
	return results, next, nil
}

// sorted returns a copy of the user's records, newest first with ID descending as tie-break.
func (s *Store) sorted(userID string) []domain.ActivityRecord {
	s.mu.RLock()
	recs := append([]domain.ActivityRecord(nil), s.records[userID]...)
	s.mu.RUnlock()

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Timestamp.Equal(recs[j].Timestamp) {
			return recs[i].ID > recs[j].ID
		}
		return recs[i].Timestamp.After(recs[j].Timestamp)
	})
	return recs
}

// RecordExists implements domain.LedgerStore.
func (s *Store) RecordExists(ctx context.Context, userID, kind string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return hasKind(s.records[userID], kind), nil
}

// DeleteUser implements domain.LedgerStore.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return domain.ErrUserNotFound
	}
	delete(s.users, userID)
	delete(s.records, userID)
	delete(s.changes, userID)
	return nil
}

// AddWaitlist implements domain.LedgerStore.
func (s *Store) AddWaitlist(ctx context.Context, email string) (*domain.WaitlistEntry, bool, error) {
	key := strings.ToLower(strings.TrimSpace(email))

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.waitlist[key]; ok {
		return &entry, false, nil
	}
	entry := domain.WaitlistEntry{ID: uuid.NewString(), Email: key, CreatedAt: s.clock.Now().UTC()}
	s.waitlist[key] = entry
	return &entry, true, nil
}

// StreakChanges returns the streak transitions committed for userID, oldest first.
func (s *Store) StreakChanges(userID string) []domain.StreakChange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.StreakChange(nil), s.changes[userID]...)
}

func hasKind(records []domain.ActivityRecord, kind string) bool {
	for _, rec := range records {
		if rec.Kind == kind {
			return true
		}
	}
	return false
}

type memTx struct {
	existing []domain.ActivityRecord
	appended []domain.ActivityRecord
	changes  []domain.StreakChange
	user     domain.User
}

func (t *memTx) User() *domain.User { return &t.user }

func (t *memTx) RecordExists(ctx context.Context, kind string) (bool, error) {
	return hasKind(t.existing, kind) || hasKind(t.appended, kind), nil
}

func (t *memTx) AppendRecord(ctx context.Context, record domain.ActivityRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	record.UserID = t.user.ID
	t.appended = append(t.appended, record)
	return nil
}

func (t *memTx) SaveUser(ctx context.Context, user domain.User, change *domain.StreakChange) error {
	t.user = user.Clone()
	if change != nil {
		t.changes = append(t.changes, *change)
	}
	return nil
}
