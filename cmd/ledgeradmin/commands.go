package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"foodglow-backend/internal/config"
	"foodglow-backend/internal/ledger"
	"foodglow-backend/internal/logging"
	"foodglow-backend/internal/models"
	"foodglow-backend/internal/services"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ledgeradmin",
		Short:         "Operate the FoodGlow credit ledger",
		Long:          "ledgeradmin reads the same environment as the API server (DATABASE_DRIVER, DATABASE_URL, LOCK_TTL, ...).",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newMigrateCmd())
	root.AddCommand(newReclaimCmd())
	root.AddCommand(newTrialCmd())
	root.AddCommand(newAccountCmd())

	return root
}

// withLedger opens the ledger (migrating it) for the duration of fn.
func withLedger(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, store ledger.Store, logger *slog.Logger) error) error {
	cfg, err := config.Read()
	if err != nil {
		return err
	}
	if err := cfg.ValidateLedger(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.NewWithWriter(cmd.ErrOrStderr(), cfg.Environment, cfg.LogLevel)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := ledger.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(ctx, cfg, store, logger)
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, func(_ context.Context, cfg *config.Config, _ ledger.Store, _ *slog.Logger) error {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "ledger schema is up to date (%s)\n", cfg.DatabaseDriver)
				return nil
			})
		},
	}
}

func newReclaimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reclaim",
		Short: "Clear leases whose holder died without releasing them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, func(ctx context.Context, cfg *config.Config, store ledger.Store, logger *slog.Logger) error {
				n, err := services.NewLockManager(store, cfg.LockTTL, logger).ReclaimExpired(ctx)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "reclaimed %d expired lease(s)\n", n)
				return nil
			})
		},
	}
}

func newTrialCmd() *cobra.Command {
	trial := &cobra.Command{
		Use:   "trial",
		Short: "Inspect free trials",
	}
	trial.AddCommand(&cobra.Command{
		Use:   "show <email>",
		Short: "Show the state of a trial",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, func(ctx context.Context, _ *config.Config, store ledger.Store, logger *slog.Logger) error {
				state, rec, err := services.NewTrialService(store, logger).Status(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(out, "Email:        %s\n", models.NormalizeEmail(args[0]))
				_, _ = fmt.Fprintf(out, "State:        %s\n", state)
				if rec == nil {
					return nil
				}
				_, _ = fmt.Fprintf(out, "Name:         %s\n", rec.Name)
				_, _ = fmt.Fprintf(out, "Claimed:      %s\n", rec.CreatedAt.Format(time.RFC3339))
				if rec.ConsumedAt != nil {
					_, _ = fmt.Fprintf(out, "Used:         %s\n", rec.ConsumedAt.Format(time.RFC3339))
				}
				printLease(out, rec.LockedUntil)
				return nil
			})
		},
	})
	return trial
}

func newAccountCmd() *cobra.Command {
	account := &cobra.Command{
		Use:   "account",
		Short: "Manage credit accounts",
	}

	account.AddCommand(&cobra.Command{
		Use:   "create <id> <email> [display name]",
		Short: "Create an account with a zero balance",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var name string
			if len(args) == 3 {
				name = args[2]
			}
			return withLedger(cmd, func(ctx context.Context, _ *config.Config, store ledger.Store, logger *slog.Logger) error {
				acct, err := services.NewAccountService(store, logger).EnsureAccount(ctx, args[0], args[1], name)
				if err != nil {
					return err
				}
				printAccount(cmd.OutOrStdout(), acct)
				return nil
			})
		},
	})

	account.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show an account's balance and subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, func(ctx context.Context, _ *config.Config, store ledger.Store, logger *slog.Logger) error {
				acct, err := services.NewAccountService(store, logger).Get(ctx, args[0])
				if err != nil {
					return err
				}
				printAccount(cmd.OutOrStdout(), acct)
				return nil
			})
		},
	})

	account.AddCommand(&cobra.Command{
		Use:   "grant <id> <credits>",
		Short: "Add credits to an account (debit with: grant -- <id> -<n>)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			credits, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("credits must be an integer: %w", err)
			}
			return withLedger(cmd, func(ctx context.Context, _ *config.Config, store ledger.Store, logger *slog.Logger) error {
				balance, err := services.NewAccountService(store, logger).GrantCredits(ctx, args[0], credits)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "balance: %d\n", balance)
				return nil
			})
		},
	})

	account.AddCommand(&cobra.Command{
		Use:   "subscription <id> <status> [plan]",
		Short: "Record the billing provider's subscription status",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var plan string
			if len(args) == 3 {
				plan = args[2]
			}
			return withLedger(cmd, func(ctx context.Context, _ *config.Config, store ledger.Store, logger *slog.Logger) error {
				err := services.NewAccountService(store, logger).SetSubscription(ctx, args[0], models.SubscriptionStatus(args[1]), plan)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "subscription: %s\n", args[1])
				return nil
			})
		},
	})

	return account
}

func printAccount(out io.Writer, acct *models.Account) {
	_, _ = fmt.Fprintf(out, "ID:           %s\n", acct.ID)
	_, _ = fmt.Fprintf(out, "Email:        %s\n", acct.Email)
	_, _ = fmt.Fprintf(out, "Balance:      %d\n", acct.CreditBalance)
	_, _ = fmt.Fprintf(out, "Subscription: %s\n", acct.SubscriptionStatus)
	if acct.PlanCode != "" {
		_, _ = fmt.Fprintf(out, "Plan:         %s\n", acct.PlanCode)
	}
	printLease(out, acct.LockedUntil)
}

func printLease(out io.Writer, until *time.Time) {
	if until == nil {
		return
	}
	state := "held"
	if !until.After(time.Now()) {
		state = "expired"
	}
	_, _ = fmt.Fprintf(out, "Lease:        %s until %s\n", state, until.Format(time.RFC3339))
}
