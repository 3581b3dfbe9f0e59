// Package postgres implements the ledger store on PostgreSQL with a transactional outbox.
package postgres

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/ivasann/daisy-copilot/internal/domain"
)

// Repository provides Postgres-backed persistence for users, activity records and outbox events.
type Repository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

// Ping reports whether the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return unavailable(err, "ping")
	}
	return nil
}

const userColumns = `user_id, name, coins, streak, last_activity_at, created_at, updated_at`

const recordColumns = `record_id, user_id, category, kind, coins_earned, duration_min, occurred_at`

// WithinUserTx implements domain.LedgerStore. The user row is upserted and locked with
// SELECT ... FOR UPDATE so concurrent calls for the same user queue behind each other.
func (r *Repository) WithinUserTx(ctx context.Context, userID string, fn func(ctx context.Context, tx domain.LedgerTx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return unavailable(err, "begin user tx")
	}
	defer tx.Rollback(ctx)

	if err := ensureUser(ctx, tx, userID); err != nil {
		return err
	}

	row := tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE user_id=$1 FOR UPDATE`, userID)
	user, err := scanUser(row)
	if err != nil {
		return unavailable(err, "lock user")
	}

	if err := fn(ctx, &ledgerTx{tx: tx, user: user}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return unavailable(err, "commit user tx")
	}
	return nil
}

func ensureUser(ctx context.Context, q querier, userID string) error {
	_, err := q.Exec(ctx,
		`INSERT INTO users (user_id, name) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING`,
		userID, domain.DefaultUserName,
	)
	if err != nil {
		return unavailable(err, "ensure user")
	}
	return nil
}

// GetOrCreateUser implements domain.LedgerStore.
func (r *Repository) GetOrCreateUser(ctx context.Context, userID string) (*domain.User, error) {
	if err := ensureUser(ctx, r.pool, userID); err != nil {
		return nil, err
	}
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE user_id=$1`, userID)
	user, err := scanUser(row)
	if err != nil {
		return nil, unavailable(err, "load user")
	}
	return &user, nil
}

// LastActivityAt implements domain.LedgerStore.
func (r *Repository) LastActivityAt(ctx context.Context, userID string) (*time.Time, error) {
	var last *time.Time
	err := r.pool.QueryRow(ctx, `SELECT last_activity_at FROM users WHERE user_id=$1`, userID).Scan(&last)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(err, "last activity")
	}
	if last != nil {
		utc := last.UTC()
		last = &utc
	}
	return last, nil
}

// ListRecent implements domain.LedgerStore.
func (r *Repository) ListRecent(ctx context.Context, userID string, category domain.Category, limit int) ([]domain.ActivityRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM activity_records
         WHERE user_id=$1 AND category=$2
         ORDER BY occurred_at DESC, record_id DESC LIMIT $3`,
		userID, string(category), limit,
	)
	if err != nil {
		return nil, unavailable(err, "list recent")
	}
	return collectRecords(rows, limit)
}

// ListSince implements domain.LedgerStore.
func (r *Repository) ListSince(ctx context.Context, userID string, since time.Time) ([]domain.ActivityRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM activity_records
         WHERE user_id=$1 AND occurred_at >= $2
         ORDER BY occurred_at DESC, record_id DESC`,
		userID, since.UTC(),
	)
	if err != nil {
		return nil, unavailable(err, "list since")
	}
	return collectRecords(rows, 0)
}

// ListLedger implements domain.LedgerStore with keyset pagination on (occurred_at, record_id).
func (r *Repository) ListLedger(ctx context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.ActivityRecord, *domain.Cursor, error) {
	args := []interface{}{userID, limit}
	query := `SELECT ` + recordColumns + ` FROM activity_records WHERE user_id=$1`

	if cursor != nil {
		query += ` AND (occurred_at, record_id) < ($3, $4)`
		args = append(args, cursor.Timestamp.UTC(), cursor.ID)
	}

	query += ` ORDER BY occurred_at DESC, record_id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, unavailable(err, "list ledger")
	}
	results, err := collectRecords(rows, limit)
	if err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if limit > 0 && len(results) == limit {
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{Timestamp: last.Timestamp, ID: last.ID}
	}
	return results, nextCursor, nil
}

// RecordExists implements domain.LedgerStore.
func (r *Repository) RecordExists(ctx context.Context, userID, kind string) (bool, error) {
	return recordExists(ctx, r.pool, userID, kind)
}

func recordExists(ctx context.Context, q querier, userID, kind string) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM activity_records WHERE user_id=$1 AND kind=$2)`,
		userID, kind,
	).Scan(&exists)
	if err != nil {
		return false, unavailable(err, "record exists")
	}
	return exists, nil
}

// DeleteUser implements domain.LedgerStore. Records cascade through the foreign key.
func (r *Repository) DeleteUser(ctx context.Context, userID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE user_id=$1`, userID)
	if err != nil {
		return unavailable(err, "delete user")
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// AddWaitlist implements domain.LedgerStore.
func (r *Repository) AddWaitlist(ctx context.Context, email string) (*domain.WaitlistEntry, bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var entry domain.WaitlistEntry
	err := r.pool.QueryRow(ctx,
		`INSERT INTO waitlist (waitlist_id, email, created_at) VALUES ($1,$2,$3)
         ON CONFLICT (email) DO NOTHING
         RETURNING waitlist_id, email, created_at`,
		uuid.NewString(), email, r.now(),
	).Scan(&entry.ID, &entry.Email, &entry.CreatedAt)
	if err == nil {
		return &entry, true, nil
	}
	if !stderrors.Is(err, pgx.ErrNoRows) {
		return nil, false, unavailable(err, "insert waitlist")
	}

	err = r.pool.QueryRow(ctx,
		`SELECT waitlist_id, email, created_at FROM waitlist WHERE email=$1`, email,
	).Scan(&entry.ID, &entry.Email, &entry.CreatedAt)
	if err != nil {
		return nil, false, unavailable(err, "load waitlist")
	}
	return &entry, false, nil
}

// ledgerTx is the LedgerTx bound to one pgx transaction holding the user row lock.
type ledgerTx struct {
	tx   pgx.Tx
	user domain.User
}

func (t *ledgerTx) User() *domain.User { return &t.user }

func (t *ledgerTx) RecordExists(ctx context.Context, kind string) (bool, error) {
	return recordExists(ctx, t.tx, t.user.ID, kind)
}

func (t *ledgerTx) AppendRecord(ctx context.Context, rec domain.ActivityRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.UserID = t.user.ID

	_, err := t.tx.Exec(ctx,
		`INSERT INTO activity_records (`+recordColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		rec.ID, rec.UserID, string(rec.Category), rec.Kind, rec.CoinsEarned, rec.DurationMin, rec.Timestamp.UTC(),
	)
	if err != nil {
		return unavailable(err, "insert activity record")
	}

	return insertOutbox(ctx, t.tx, outboxEvent{
		userID:      rec.UserID,
		aggregateID: rec.ID,
		eventType:   domain.EventLedgerEntryRecorded,
		dedupeKey:   fmt.Sprintf("%s:%s", rec.ID, domain.EventLedgerEntryRecorded),
		payload:     domain.NewLedgerEntryRecorded(rec),
	})
}

func (t *ledgerTx) SaveUser(ctx context.Context, user domain.User, change *domain.StreakChange) error {
	var last *time.Time
	if user.LastActivityAt != nil {
		utc := user.LastActivityAt.UTC()
		last = &utc
	}
	_, err := t.tx.Exec(ctx,
		`UPDATE users SET coins=$2, streak=$3, last_activity_at=$4, updated_at=$5 WHERE user_id=$1`,
		t.user.ID, user.Coins, user.Streak, last, user.UpdatedAt.UTC(),
	)
	if err != nil {
		return unavailable(err, "update user")
	}
	t.user = user.Clone()

	if change == nil {
		return nil
	}
	return insertOutbox(ctx, t.tx, outboxEvent{
		userID:      t.user.ID,
		aggregateID: t.user.ID,
		eventType:   domain.EventStreakChanged,
		dedupeKey:   fmt.Sprintf("%s:%s:%d", t.user.ID, domain.EventStreakChanged, change.OccurredAt.UnixNano()),
		payload: domain.StreakChanged{
			UserID:     t.user.ID,
			Streak:     change.Streak,
			Transition: change.Transition,
			OccurredAt: change.OccurredAt.UTC(),
		},
	})
}

type outboxEvent struct {
	userID      string
	aggregateID string
	eventType   string
	dedupeKey   string
	payload     interface{}
}

func insertOutbox(ctx context.Context, tx pgx.Tx, ev outboxEvent) error {
	body, err := json.Marshal(ev.payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[ev.eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", ev.eventType)
	}

	const stmt = `INSERT INTO outbox (user_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = tx.Exec(ctx, stmt,
		ev.userID,
		meta.AggregateType,
		ev.aggregateID,
		ev.eventType,
		meta.Topic,
		meta.SchemaSubject,
		ev.userID,
		body,
		ev.dedupeKey,
	)
	if err != nil {
		return unavailable(err, "insert outbox")
	}
	return nil
}

// EventMetadata describes how to route an outbox event. Events are keyed by user so a
// single partition carries each user's history in order.
type EventMetadata struct {
	AggregateType string
	Topic         string
	SchemaSubject string
}

var eventCatalog = map[string]EventMetadata{
	domain.EventLedgerEntryRecorded: {
		AggregateType: "activity_record",
		Topic:         "ledger_events",
		SchemaSubject: "ledger_events-value",
	},
	domain.EventStreakChanged: {
		AggregateType: "user",
		Topic:         "streak_events",
		SchemaSubject: "streak_events-value",
	},
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Name, &u.Coins, &u.Streak, &u.LastActivityAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return domain.User{}, err
	}
	if u.LastActivityAt != nil {
		utc := u.LastActivityAt.UTC()
		u.LastActivityAt = &utc
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u, nil
}

func collectRecords(rows pgx.Rows, capacity int) ([]domain.ActivityRecord, error) {
	defer rows.Close()

	results := make([]domain.ActivityRecord, 0, capacity)
	for rows.Next() {
		var rec domain.ActivityRecord
		var category string
		if err := rows.Scan(&rec.ID, &rec.UserID, &category, &rec.Kind, &rec.CoinsEarned, &rec.DurationMin, &rec.Timestamp); err != nil {
			return nil, unavailable(err, "scan activity record")
		}
		rec.Category = domain.Category(category)
		rec.Timestamp = rec.Timestamp.UTC()
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err, "iterate activity records")
	}
	return results, nil
}

// storeError marks a database failure as domain.ErrStoreUnavailable while keeping the cause.
type storeError struct {
	err error
}

func (e *storeError) Error() string {
	return domain.ErrStoreUnavailable.Error() + ": " + e.err.Error()
}

func (e *storeError) Unwrap() []error {
	return []error{domain.ErrStoreUnavailable, e.err}
}

// Cause returns the underlying database error for pkg/errors callers.
func (e *storeError) Cause() error { return errors.Cause(e.err) }

func unavailable(err error, op string) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, op)
	}
	return &storeError{err: errors.Wrap(err, op)}
}
