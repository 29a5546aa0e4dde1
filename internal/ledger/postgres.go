package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"foodglow-backend/internal/models"
)

// PostgresStore is the production ledger, usually the Supabase Postgres
// instance behind the app.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(connectionString string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) GetTrial(ctx context.Context, email string) (*models.TrialRecord, error) {
	var (
		rec         models.TrialRecord
		lockToken   sql.NullString
		lockedUntil sql.NullTime
		consumedAt  sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT email, name, eligible, locked, lock_token, locked_until, consumed_at,
		       origin_ip, origin_user_agent, created_at, updated_at
		FROM trial_records
		WHERE email = $1
	`, email).Scan(
		&rec.Email, &rec.Name, &rec.Eligible, &rec.Locked, &lockToken, &lockedUntil, &consumedAt,
		&rec.OriginIP, &rec.UserAgent, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trial record: %w", err)
	}

	rec.LockToken = lockToken.String
	rec.LockedUntil = nullTimePtr(lockedUntil)
	rec.ConsumedAt = nullTimePtr(consumedAt)
	return &rec, nil
}

func (s *PostgresStore) CreateTrial(ctx context.Context, rec *models.TrialRecord) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO trial_records (email, name, eligible, locked, origin_ip, origin_user_agent, created_at, updated_at)
		VALUES ($1, $2, TRUE, FALSE, $3, $4, $5, $5)
		ON CONFLICT (email) DO NOTHING
	`, rec.Email, rec.Name, rec.OriginIP, rec.UserAgent, rec.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to create trial record: %w", err)
	}
	return affectedOne(res)
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	var (
		acct        models.Account
		status      string
		lockToken   sql.NullString
		lockedUntil sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, credit_balance, subscription_status, plan_code,
		       locked, lock_token, locked_until, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`, id).Scan(
		&acct.ID, &acct.Email, &acct.DisplayName, &acct.CreditBalance, &status, &acct.PlanCode,
		&acct.Locked, &lockToken, &lockedUntil, &acct.CreatedAt, &acct.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	acct.SubscriptionStatus = models.SubscriptionStatus(status)
	acct.LockToken = lockToken.String
	acct.LockedUntil = nullTimePtr(lockedUntil)
	return &acct, nil
}

func (s *PostgresStore) UpsertAccount(ctx context.Context, acct *models.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, email, display_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET email = EXCLUDED.email,
		    display_name = CASE WHEN EXCLUDED.display_name = '' THEN accounts.display_name ELSE EXCLUDED.display_name END,
		    updated_at = NOW()
	`, acct.ID, acct.Email, acct.DisplayName)
	if err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddCredits(ctx context.Context, id string, credits int) (int, error) {
	var balance int
	err := s.db.QueryRowContext(ctx, `
		UPDATE accounts
		SET credit_balance = credit_balance + $2, updated_at = NOW()
		WHERE id = $1 AND credit_balance + $2 >= 0
		RETURNING credit_balance
	`, id, credits).Scan(&balance)
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
func (s *PostgresStore) explainAddCredits(ctx context.Context, id string) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM accounts WHERE id = $1`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read account: %w", err)
	}
	return ErrInsufficientCredit
}

func (s *PostgresStore) SetSubscription(ctx context.Context, id string, status models.SubscriptionStatus, planCode string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET subscription_status = $2, plan_code = $3, updated_at = NOW()
		WHERE id = $1
	`, id, string(status), planCode)
	if err != nil {
		return fmt.Errorf("failed to set subscription: %w", err)
	}
	return requireOne(res)
}

func (s *PostgresStore) AcquireLease(ctx context.Context, lease models.Lease, now time.Time) (bool, error) {
	var query string
	switch lease.Identity.Kind {
	case models.IdentityTrial:
		query = `
			UPDATE trial_records
			SET locked = TRUE, lock_token = $2, locked_until = $3, updated_at = $4
			WHERE email = $1
			  AND eligible AND consumed_at IS NULL
			  AND (NOT locked OR locked_until < $4)
		`
	case models.IdentityAccount:
		query = `
			UPDATE accounts
			SET locked = TRUE, lock_token = $2, locked_until = $3, updated_at = $4
			WHERE id = $1
			  AND credit_balance >= 1
			  AND (NOT locked OR locked_until < $4)
		`
	default:
		return false, ErrUnknownIdentity
	}

	res, err := s.db.ExecContext(ctx, query, lease.Identity.Key, lease.Token, lease.ExpiresAt, now)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	return affectedOne(res)
}

func (s *PostgresStore) ReleaseLease(ctx context.Context, id models.Identity, token string) (bool, error) {
	table, key, err := tableFor(id)
	if err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s
		SET locked = FALSE, lock_token = NULL, locked_until = NULL, updated_at = NOW()
		WHERE %s = $1 AND locked AND lock_token = $2
	`, table, key), id.Key, token)
	if err != nil {
		return false, fmt.Errorf("failed to release lease: %w", err)
	}
	return affectedOne(res)
}

func (s *PostgresStore) ConsumeLease(ctx context.Context, id models.Identity, token string, at time.Time) error {
	switch id.Kind {
	case models.IdentityTrial:
		res, err := s.db.ExecContext(ctx, `
			UPDATE trial_records
			SET eligible = FALSE, consumed_at = $3,
			    locked = FALSE, lock_token = NULL, locked_until = NULL, updated_at = $3
			WHERE email = $1 AND locked AND lock_token = $2 AND eligible
		`, id.Key, token, at)
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
			    locked = FALSE, lock_token = NULL, locked_until = NULL, updated_at = $3
			WHERE id = $1 AND locked AND lock_token = $2 AND credit_balance >= 1
		`, id.Key, token, at)
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
		return s.explainAccountConsume(ctx, id.Key, token)

	default:
		return ErrUnknownIdentity
	}
}

// explainAccountConsume tells a drained balance apart from a lost lease after
// the conditional decrement matched no row.
func (s *PostgresStore) explainAccountConsume(ctx context.Context, id, token string) error {
	var (
		balance   int
		lockToken sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT credit_balance, lock_token FROM accounts WHERE id = $1
	`, id).Scan(&balance, &lockToken)
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
}

func (s *PostgresStore) ReclaimExpiredLeases(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	for _, table := range []string{"trial_records", "accounts"} {
		res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s
			SET locked = FALSE, lock_token = NULL, locked_until = NULL, updated_at = $1
			WHERE locked AND locked_until < $1
		`, table), now)
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

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func tableFor(id models.Identity) (table, key string, err error) {
	switch id.Kind {
	case models.IdentityTrial:
		return "trial_records", "email", nil
	case models.IdentityAccount:
		return "accounts", "id", nil
	}
	return "", "", ErrUnknownIdentity
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

func requireOne(res sql.Result) error {
	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
