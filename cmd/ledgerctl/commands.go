package main

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/transfa/crypto-ledger-service/internal/app"
	"github.com/transfa/crypto-ledger-service/internal/bootstrap"
	"github.com/transfa/crypto-ledger-service/internal/domain"
	"github.com/transfa/crypto-ledger-service/internal/store"
)

func newReconcileCmd(cli *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation tick now",
		Long: `Run one reconciliation tick against every pending transaction and print
what happened to each one. Backoff state is shared with the service when Redis
is configured.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := cli.services(cmd.Context())
			if err != nil {
				return err
			}
			services.Scheduler.SetReporter(newConsoleReporter())

			summary, err := services.Scheduler.RunOnce(cmd.Context())
			if err != nil {
				return fmt.Errorf("reconciliation tick failed: %w", err)
			}
			if summary.Errors > 0 {
				return fmt.Errorf("%d transaction(s) could not be updated", summary.Errors)
			}
			return nil
		},
	}
}

type repairFlags struct {
	OlderThan time.Duration
	FailStuck bool
	DryRun    bool
}

func newRepairCmd(cli *cliContext) *cobra.Command {
	flags := &repairFlags{}

	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Re-resolve long-pending transactions",
		Long: `Re-resolve every pending transaction older than --older-than, ignoring the
scheduler's backoff. Terminal outcomes are persisted. Transactions that still
cannot be resolved are reported as stuck, or marked failed with --fail-stuck.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := cli.services(cmd.Context())
			if err != nil {
				return err
			}

			olderThan := flags.OlderThan
			if !cmd.Flags().Changed("older-than") {
				olderThan = cli.cfg.StuckTransactionAge
			}
			if flags.FailStuck && !flags.DryRun {
				pterm.Warning.Println("Stuck transactions will be marked failed. This cannot be undone.")
			}

			report, err := services.Repairer.Repair(cmd.Context(), app.RepairOptions{
				OlderThan: olderThan,
				FailStuck: flags.FailStuck,
				DryRun:    flags.DryRun,
			})
			if err != nil {
				return err
			}
			renderRepairReport(report, flags.DryRun)
			if report.Errors > 0 {
				return fmt.Errorf("%d transaction(s) could not be repaired", report.Errors)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&flags.OlderThan, "older-than", app.DefaultStuckTransactionAge, "only examine transactions pending longer than this (defaults to STUCK_TRANSACTION_AGE)")
	cmd.Flags().BoolVar(&flags.FailStuck, "fail-stuck", false, "mark transactions that cannot be resolved as failed")
	cmd.Flags().BoolVar(&flags.DryRun, "dry-run", false, "report what would change without writing")

	return cmd
}

func renderRepairReport(report *app.RepairReport, dryRun bool) {
	if len(report.Items) == 0 {
		pterm.Info.Println("No stuck transactions found")
		return
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(repairRows(report)).Render()

	prefix := ""
	if dryRun {
		prefix = "[dry run] "
	}
	pterm.Info.Printf("%sexamined %d, resolved %d, stuck %d, forced failed %d, errors %d\n",
		prefix, report.Examined, report.Resolved, report.Stuck, report.ForcedFailed, report.Errors)
}

func repairRows(report *app.RepairReport) [][]string {
	rows := [][]string{{"Transaction", "Currency", "Reference", "Age", "Action", "Status", "Detail"}}
	for _, item := range report.Items {
		detail := ""
		if item.Err != nil {
			detail = item.Err.Error()
		}
		rows = append(rows, []string{
			item.TransactionID.String(),
			string(item.Currency),
			item.Reference,
			item.Age.Round(time.Minute).String(),
			string(item.Action),
			string(item.Status),
			detail,
		})
	}
	return rows
}

func newPendingCmd(cli *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:     "pending",
		Aliases: []string{"ls"},
		Short:   "List pending transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := cli.pool(cmd.Context())
			if err != nil {
				return err
			}
			pending, err := store.NewPostgresRepository(pool).ListPendingTransactions(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list pending transactions: %w", err)
			}
			if len(pending) == 0 {
				pterm.Success.Println("No pending transactions")
				return nil
			}
			_ = pterm.DefaultTable.WithHasHeader().WithData(pendingRows(pending, time.Now().UTC())).Render()
			pterm.Info.Printf("%d pending transaction(s)\n", len(pending))
			return nil
		},
	}
}

func pendingRows(pending []domain.Transaction, now time.Time) [][]string {
	rows := [][]string{{"Transaction", "Currency", "Kind", "Amount", "Reference", "Reference Kind", "Age"}}
	for _, tx := range pending {
		rows = append(rows, []string{
			tx.ID.String(),
			string(tx.Currency),
			string(tx.Kind),
			tx.Amount.String(),
			tx.Reference.String(),
			string(tx.Reference.Kind),
			tx.Age(now).Round(time.Second).String(),
		})
	}
	return rows
}

func newBalanceCmd(cli *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <currency> <address>",
		Short: "Look up an on-ledger balance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			currency, err := domain.ParseCurrency(args[0])
			if err != nil {
				return err
			}
			if !currency.IsCrypto() {
				return fmt.Errorf("%s balances are not held on the ledger", currency)
			}
			if err := cli.load(); err != nil {
				return err
			}

			balance, err := bootstrap.NewLedgerClient(cli.cfg, cli.logger).Balance(cmd.Context(), string(currency), args[1])
			if err != nil {
				return fmt.Errorf("balance lookup failed: %w", err)
			}
			pterm.Success.Printf("%s %s\n", balance.String(), currency)
			return nil
		},
	}
}

func newMigrateCmd(cli *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.load(); err != nil {
				return err
			}
			if err := store.RunMigrations(cli.cfg.DatabaseURL); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			pterm.Success.Println("Database schema is up to date")
			return nil
		},
	}
}
