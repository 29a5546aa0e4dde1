package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"foodglow-backend/internal/models"
)

// SQLiteStore backs single-node deployments and the test suite. Timestamps
// are stored as unix milliseconds and booleans as 0/1.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite has one writer; a single connection turns lock contention into
	// queueing instead of SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) GetTrial(ctx context.Context, email string) (*models.TrialRecord, error) {
	var (
		rec                     models.TrialRecord
		lockToken               sql.NullString
		lockedUntil, consumedAt sql.NullInt64
		createdAt, updatedAt    int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT email, name, eligible, locked, lock_token, locked_until, consumed_at,
		       origin_ip, origin_user_agent, created_at, updated_at
		FROM trial_records
		WHERE email = ?
	`, email).Scan(
		&rec.Email, &rec.Name, &rec.Eligible, &rec.Locked, &lockToken, &lockedUntil, &consumedAt,
		&rec.OriginIP, &rec.UserAgent, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trial record: %w", err)
	}

	rec.LockToken = lockToken.String
	rec.LockedUntil = fromNullMillis(lockedUntil)
	rec.ConsumedAt = fromNullMillis(consumedAt)
	rec.CreatedAt = fromMillis(createdAt)
	rec.UpdatedAt = fromMillis(updatedAt)
	return &rec, nil
}

func (s *SQLiteStore) CreateTrial(ctx context.Context, rec *models.TrialRecord) (bool, error) {
	created := millis(rec.CreatedAt)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO trial_records (email, name, eligible, locked, origin_ip, origin_user_agent, created_at, updated_at)
		VALUES (?, ?, 1, 0, ?, ?, ?, ?)
		ON CONFLICT (email) DO NOTHING
	`, rec.Email, rec.Name, rec.OriginIP, rec.UserAgent, created, created)
	if err != nil {
		return false, fmt.Errorf("failed to create trial record: %w", err)
	}
	return affectedOne(res)
}

func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	var (
		acct                 models.Account
		status               string
		lockToken            sql.NullString
		lockedUntil          sql.NullInt64
		createdAt, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, credit_balance, subscription_status, plan_code,
		       locked, lock_token, locked_until, created_at, updated_at
		FROM accounts
		WHERE id = ?
	`, id).Scan(
		&acct.ID, &acct.Email, &acct.DisplayName, &acct.CreditBalance, &status, &acct.PlanCode,
		&acct.Locked, &lockToken, &lockedUntil, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	acct.SubscriptionStatus = models.SubscriptionStatus(status)
	acct.LockToken = lockToken.String
	acct.LockedUntil = fromNullMillis(lockedUntil)
	acct.CreatedAt = fromMillis(createdAt)
	acct.UpdatedAt = fromMillis(updatedAt)
	return &acct, nil
}

func (s *SQLiteStore) UpsertAccount(ctx context.Context, acct *models.Account) error {
	now := millis(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, email, display_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET email = excluded.email,
		    display_name = CASE WHEN excluded.display_name = '' THEN accounts.display_name ELSE excluded.display_name END,
		    updated_at = excluded.updated_at
	`, acct.ID, acct.Email, acct.DisplayName, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AddCredits(ctx context.Context, id string, credits int) (int, error) {
	var balance int
	err := s.db.QueryRowContext(ctx, `
		UPDATE accounts
		SET credit_balance = credit_balance + ?, updated_at = ?
		WHERE id = ? AND credit_balance + ? >= 0
		RETURNING credit_balance
	`, credits, millis(time.Now()), id, credits).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, s.explainAddCredits(ctx, id)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to add credits: %w", err)
	}
	return balance, nil
}

// explainAddCredits tells a missing account from a debit larger than the
// balance after the conditional UPDATE matched nothing.
func (s *SQLiteStore) explainAddCredits(ctx context.Context, id string) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM accounts WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read account: %w", err)
	}
	return ErrInsufficientCredit
}

func (s *SQLiteStore) SetSubscription(ctx context.Context, id string, status models.SubscriptionStatus, planCode string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET subscription_status = ?, plan_code = ?, updated_at = ?
		WHERE id = ?
	`, string(status), planCode, millis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to set subscription: %w", err)
	}
	return requireOne(res)
}

func (s *SQLiteStore) AcquireLease(ctx context.Context, lease models.Lease, now time.Time) (bool, error) {
	var query string
	switch lease.Identity.Kind {
	case models.IdentityTrial:
		query = `
			UPDATE trial_records
			SET locked = 1, lock_token = ?, locked_until = ?, updated_at = ?
			WHERE email = ?
			  AND eligible = 1 AND consumed_at IS NULL
			  AND (locked = 0 OR locked_until < ?)
		`
	case models.IdentityAccount:
		query = `
			UPDATE accounts
			SET locked = 1, lock_token = ?, locked_until = ?, updated_at = ?
			WHERE id = ?
			  AND credit_balance >= 1
			  AND (locked = 0 OR locked_until < ?)
		`
	default:
		return false, ErrUnknownIdentity
	}

	nowMS := millis(now)
	res, err := s.db.ExecContext(ctx, query,
		lease.Token, millis(lease.ExpiresAt), nowMS, lease.Identity.Key, nowMS)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	return affectedOne(res)
}

func (s *SQLiteStore) ReleaseLease(ctx context.Context, id models.Identity, token string) (bool, error) {
	table, key, err := tableFor(id)
	if err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s
		SET locked = 0, lock_token = NULL, locked_until = NULL, updated_at = ?
		WHERE %s = ? AND locked = 1 AND lock_token = ?
	`, table, key), millis(time.Now()), id.Key, token)
	if err != nil {
		return false, fmt.Errorf("failed to release lease: %w", err)
	}
	return affectedOne(res)
}

func (s *SQLiteStore) ConsumeLease(ctx context.Context, id models.Identity, token string, at time.Time) error {
	atMS := millis(at)
	switch id.Kind {
	case models.IdentityTrial:
		res, err := s.db.ExecContext(ctx, `
			UPDATE trial_records
			SET eligible = 0, consumed_at = ?,
			    locked = 0, lock_token = NULL, locked_until = NULL, updated_at = ?
			WHERE email = ? AND locked = 1 AND lock_token = ? AND eligible = 1
		`, atMS, atMS, id.Key, token)
		if err != nil {
			return fmt.Errorf("failed to consume trial: %w", err)
		}
		ok, err := affectedOne(res)
		if err != nil {
			return err
		}
		if !ok {
			return ErrLeaseNotHeld
		}
		return nil

	case models.IdentityAccount:
		res, err := s.db.ExecContext(ctx, `
			UPDATE accounts
			SET credit_balance = credit_balance - 1,
			    locked = 0, lock_token = NULL, locked_until = NULL, updated_at = ?
			WHERE id = ? AND locked = 1 AND lock_token = ? AND credit_balance >= 1
		`, atMS, id.Key, token)
		if err != nil {
			return fmt.Errorf("failed to consume credit: %w", err)
		}
		ok, err := affectedOne(res)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		var (
			balance   int
			lockToken sql.NullString
		)
		err = s.db.QueryRowContext(ctx, `
			SELECT credit_balance, lock_token FROM accounts WHERE id = ?
		`, id.Key).Scan(&balance, &lockToken)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read account balance: %w", err)
		}
		if lockToken.String == token && balance < 1 {
			return ErrInsufficientCredit
		}
		return ErrLeaseNotHeld

	default:
		return ErrUnknownIdentity
	}
}

func (s *SQLiteStore) ReclaimExpiredLeases(ctx context.Context, now time.Time) (int64, error) {
	nowMS := millis(now)
	var total int64
	for _, table := range []string{"trial_records", "accounts"} {
		res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s
			SET locked = 0, lock_token = NULL, locked_until = NULL, updated_at = ?
			WHERE locked = 1 AND locked_until < ?
		`, table), nowMS, nowMS)
		if err != nil {
			return total, fmt.Errorf("failed to reclaim leases on %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("failed to count reclaimed leases: %w", err)
		}
		total += n
	}
	return total, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}
