package main

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/shopspring/decimal"

	"github.com/transfa/crypto-ledger-service/internal/app"
	"github.com/transfa/crypto-ledger-service/internal/domain"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCmd(&cliContext{})
	for _, name := range []string{"reconcile", "repair", "pending", "balance", "migrate"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("expected %q subcommand, got %v (err %v)", name, cmd, err)
		}
	}

	repair, _, _ := root.Find([]string{"repair"})
	for _, flag := range []string{"older-than", "fail-stuck", "dry-run"} {
		if repair.Flags().Lookup(flag) == nil {
			t.Fatalf("expected repair flag --%s", flag)
		}
	}
}

func TestPendingRows(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tx := domain.Transaction{
		ID:        uuid.New(),
		Kind:      domain.TransferKindCommission,
		Currency:  domain.CurrencyETH,
		Amount:    decimal.RequireFromString("0.000000000000000001"),
		Reference: domain.SimulatedSuccessReference(domain.CurrencyETH, now),
		CreatedAt: now.Add(-90 * time.Minute),
	}

	rows := pendingRows([]domain.Transaction{tx}, now)
	if len(rows) != 2 {
		t.Fatalf("expected header plus one row, got %d", len(rows))
	}
	row := rows[1]
	if row[3] != "0.000000000000000001" {
		t.Fatalf("amount must render exactly, got %q", row[3])
	}
	if row[5] != string(domain.ReferenceSimulatedSuccess) || row[6] != "1h30m0s" {
		t.Fatalf("unexpected row %v", row)
	}
}

func TestRepairRowsIncludeErrors(t *testing.T) {
	report := &app.RepairReport{Items: []app.RepairItem{{
		TransactionID: uuid.New(),
		Currency:      domain.CurrencyBTC,
		Reference:     "ledger-1",
		Age:           7 * time.Hour,
		Action:        app.RepairError,
		Status:        domain.StatusPending,
		Err:           errors.New("db unavailable"),
	}}}

	rows := repairRows(report)
	if got := rows[1][6]; got != "db unavailable" {
		t.Fatalf("expected error detail, got %q", got)
	}
	if got := rows[1][4]; got != string(app.RepairError) {
		t.Fatalf("expected action column, got %q", got)
	}
}

func TestCheckRowRendersTransition(t *testing.T) {
	confirmations := int64(3)
	row := checkRow(app.CheckResult{
		TransactionID:  uuid.New(),
		Currency:       domain.CurrencyBTC,
		Outcome:        app.OutcomeTransitioned,
		Rule:           app.RuleLedgerConfirmations,
		PreviousStatus: domain.StatusPending,
		NewStatus:      domain.StatusCompleted,
		Confirmations:  &confirmations,
	})
	if row[3] != "pending -> completed" || row[5] != "3" {
		t.Fatalf("unexpected row %v", row)
	}
	if !strings.Contains(row[2], string(app.OutcomeTransitioned)) {
		t.Fatalf("expected outcome label, got %q", row[2])
	}

	skipped := checkRow(app.CheckResult{Outcome: app.OutcomeSkipped, PreviousStatus: domain.StatusPending})
	if skipped[4] != "-" || skipped[5] != "-" {
		t.Fatalf("expected placeholders for skipped row, got %v", skipped)
	}
}

func TestConsoleReporterCollectsRowsPerTick(t *testing.T) {
	pterm.DisableOutput()
	t.Cleanup(pterm.EnableOutput)

	r := newConsoleReporter()
	r.TickStarted(time.Now(), 2)
	r.TransactionChecked(app.CheckResult{TransactionID: uuid.New(), Outcome: app.OutcomeUnchanged})
	r.TransactionChecked(app.CheckResult{TransactionID: uuid.New(), Outcome: app.OutcomeProbeFailed, Err: errors.New("timeout")})
	r.TickFinished(app.TickSummary{Pending: 2, Unchanged: 1, ProbeFailures: 1})
	if len(r.rows) != 3 {
		t.Fatalf("expected header plus two rows, got %d", len(r.rows))
	}

	r.TickStarted(time.Now(), 0)
	if len(r.rows) != 1 {
		t.Fatal("expected rows to reset at the start of a tick")
	}
}
