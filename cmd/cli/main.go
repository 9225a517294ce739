package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/iho/txstream/internal/adapter/kafka"
	postgresRepo "github.com/iho/txstream/internal/adapter/repository/postgres"
	"github.com/iho/txstream/internal/domain"
	"github.com/iho/txstream/internal/infrastructure/config"
	"github.com/iho/txstream/internal/infrastructure/logger"
	"github.com/iho/txstream/internal/infrastructure/postgres"
	"github.com/iho/txstream/internal/usecase"
)

var (
	migrateUp   = postgres.RunMigrations
	migrateDown = postgres.RunMigrationsDown
)

type accountService interface {
	OpenAccount(ctx context.Context, input usecase.OpenAccountInput) (*domain.Account, error)
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	SetStatus(ctx context.Context, id string, status domain.AccountStatus) (*domain.Account, error)
}

type republisher interface {
	Sweep(ctx context.Context) (int, error)
}

type pruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// services is what the store-backed commands run against.
type services struct {
	accounts    accountService
	republisher republisher
	pruner      pruner
	close       func()
}

type servicesFactory func(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*services, error)

type app struct {
	timeout     time.Duration
	loadConfig  func() (*config.Config, error)
	newServices servicesFactory
}

func main() {
	a := &app{loadConfig: config.Load, newServices: newStoreServices}

	if err := a.rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "txstream-cli",
		Short:         "txstream operations tool",
		Long:          `Maintenance commands for the transaction processor: schema migrations, account provisioning and outcome housekeeping.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().DurationVar(&a.timeout, "timeout", 30*time.Second, "Command timeout")

	rootCmd.AddCommand(a.migrateCmd(), a.accountsCmd(), a.outcomesCmd(), a.idempotencyCmd())
	return rootCmd
}

func (a *app) migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database schema migrations",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, log, err := a.setup(cmd)
				if err != nil {
					return err
				}
				return migrateUp(cfg.DatabaseURL, cfg.MigrationsPath, log)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, log, err := a.setup(cmd)
				if err != nil {
					return err
				}
				return migrateDown(cfg.DatabaseURL, cfg.MigrationsPath, log)
			},
		},
	)

	return cmd
}

func (a *app) accountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Account provisioning",
	}

	var id string
	openCmd := &cobra.Command{
		Use:   "open <currency>",
		Short: "Open an active account with a zero balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServices(cmd, func(ctx context.Context, svc *services) error {
				account, err := svc.accounts.OpenAccount(ctx, usecase.OpenAccountInput{ID: id, Currency: args[0]})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), toAccountView(account))
			})
		},
	}
	openCmd.Flags().StringVar(&id, "id", "", "Account id (generated when empty)")

	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServices(cmd, func(ctx context.Context, svc *services) error {
				account, err := svc.accounts.GetAccount(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), toAccountView(account))
			})
		},
	}

	cmd.AddCommand(
		openCmd,
		showCmd,
		a.statusCmd("freeze", "Freeze an account; events touching it are rejected", domain.AccountStatusFrozen),
		a.statusCmd("unfreeze", "Reactivate a frozen account", domain.AccountStatusActive),
		a.statusCmd("close", "Close an account permanently", domain.AccountStatusClosed),
	)

	return cmd
}

func (a *app) statusCmd(use, short string, status domain.AccountStatus) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServices(cmd, func(ctx context.Context, svc *services) error {
				account, err := svc.accounts.SetStatus(ctx, args[0], status)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), toAccountView(account))
			})
		},
	}
}

func (a *app) outcomesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outcomes",
		Short: "Outcome housekeeping",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "republish",
		Short: "Run one re-publish pass over unpublished outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServices(cmd, func(ctx context.Context, svc *services) error {
				published, err := svc.republisher.Sweep(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "republished %d outcomes\n", published)
				return nil
			})
		},
	})

	return cmd
}

func (a *app) idempotencyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "idempotency",
		Short: "Idempotency record maintenance",
	}

	var olderThan time.Duration
	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete published records committed before the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServices(cmd, func(ctx context.Context, svc *services) error {
				retention := olderThan
				if retention == 0 {
					cfg, err := a.loadConfig()
					if err != nil {
						return err
					}
					retention = cfg.IdempotencyRetention
				}

				deleted, err := svc.pruner.Prune(ctx, retention)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pruned %d records older than %s\n", deleted, retention)
				return nil
			})
		},
	}
	pruneCmd.Flags().DurationVar(&olderThan, "older-than", 0, "Retention window (defaults to IDEMPOTENCY_RETENTION)")

	cmd.AddCommand(pruneCmd)
	return cmd
}

func (a *app) setup(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("load configuration: %w", err)
	}

	log := logger.NewWithWriter(logger.Config{Level: cfg.LogLevel, Format: "console"}, cmd.ErrOrStderr())
	return cfg, log, nil
}

func (a *app) withServices(cmd *cobra.Command, fn func(ctx context.Context, svc *services) error) error {
	cfg, log, err := a.setup(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout)
	defer cancel()

	svc, err := a.newServices(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer svc.close()

	return fn(ctx, svc)
}

func newStoreServices(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*services, error) {
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, 2, 0)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	records := postgresRepo.NewIdempotencyRepository(pool)
	publisher := kafka.NewOutcomePublisher(kafka.PublisherConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaOutcomeTopic,
	}, log)

	return &services{
		accounts:    usecase.NewAccountUseCase(postgresRepo.NewAccountRepository(pool), postgresRepo.NewULIDGenerator()),
		republisher: usecase.NewRepublishUseCase(records, publisher, nil, log, 0, cfg.RepublishBatchSize),
		pruner:      usecase.NewRetentionUseCase(records, nil),
		close: func() {
			_ = publisher.Close()
			pool.Close()
		},
	}, nil
}

type accountView struct {
	ID        string    `json:"id"`
	Currency  string    `json:"currency"`
	Balance   string    `json:"balance"`
	Version   int64     `json:"version"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toAccountView(a *domain.Account) accountView {
	return accountView{
		ID:        a.ID,
		Currency:  a.Currency,
		Balance:   domain.FormatAmount(a.Balance, a.Currency),
		Version:   a.Version,
		Status:    string(a.Status),
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
