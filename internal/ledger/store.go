// Package ledger is the durable credit ledger: trial records keyed by
// normalized email and account balances keyed by account id. It is the only
// shared mutable state of the service, so every state transition that guards
// a unit of credit is a single conditional UPDATE evaluated by the database.
package ledger

import (
	"context"
	"errors"
	"time"

	"foodglow-backend/internal/models"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientCredit = errors.New("insufficient credit")
	ErrLeaseNotHeld       = errors.New("lease not held")
	ErrUnknownIdentity    = errors.New("unknown identity kind")
)

type Store interface {
	// Trial records
	GetTrial(ctx context.Context, email string) (*models.TrialRecord, error)
	// CreateTrial inserts rec unless a record for the email already exists.
	// It reports whether this call created the row.
	CreateTrial(ctx context.Context, rec *models.TrialRecord) (bool, error)

	// Accounts
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	// UpsertAccount creates the account with a zero balance, or refreshes
	// its email and display name. Balance and subscription are untouched.
	UpsertAccount(ctx context.Context, acct *models.Account) error
	// AddCredits applies a grant (or, when negative, a debit) and returns the
	// new balance. A debit larger than the balance fails with
	// ErrInsufficientCredit and changes nothing.
	AddCredits(ctx context.Context, id string, credits int) (int, error)
	SetSubscription(ctx context.Context, id string, status models.SubscriptionStatus, planCode string) error

	// Leases. AcquireLease succeeds for exactly one caller while the unit is
	// spendable and no unexpired lease exists. Release and Consume only act
	// when the token still holds the lease.
	AcquireLease(ctx context.Context, lease models.Lease, now time.Time) (bool, error)
	ReleaseLease(ctx context.Context, id models.Identity, token string) (bool, error)
	ConsumeLease(ctx context.Context, id models.Identity, token string, at time.Time) error
	ReclaimExpiredLeases(ctx context.Context, now time.Time) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}
