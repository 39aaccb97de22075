package main

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"

	"github.com/transfa/crypto-ledger-service/internal/app"
)

var _ app.TickReporter = (*consoleReporter)(nil)

// consoleReporter renders scheduler ticks for a human at a terminal.
type consoleReporter struct {
	rows [][]string
}

func newConsoleReporter() *consoleReporter {
	return &consoleReporter{}
}

func (r *consoleReporter) TickStarted(at time.Time, pending int) {
	r.rows = [][]string{{"Transaction", "Currency", "Outcome", "Status", "Rule", "Confirmations", "Retries"}}
	pterm.DefaultSection.Println("Reconciliation tick")
	pterm.Info.Printf("Started at %s with %d pending transaction(s)\n", at.Format(time.RFC3339), pending)
}

func (r *consoleReporter) TransactionChecked(result app.CheckResult) {
	r.rows = append(r.rows, checkRow(result))
	if result.Err != nil {
		pterm.Warning.Printf("%s: %v\n", result.TransactionID, result.Err)
	}
}

func (r *consoleReporter) TickFinished(summary app.TickSummary) {
	if len(r.rows) > 1 {
		_ = pterm.DefaultTable.WithHasHeader().WithData(r.rows).Render()
	}

	message := fmt.Sprintf("%d transitioned, %d unchanged, %d skipped, %d probe failure(s), %d error(s) in %s",
		summary.Transitioned, summary.Unchanged, summary.Skipped, summary.ProbeFailures, summary.Errors,
		summary.Duration.Round(time.Millisecond))
	if summary.Errors > 0 || summary.ProbeFailures > 0 {
		pterm.Warning.Println(message)
		return
	}
	pterm.Success.Println(message)
}

func checkRow(result app.CheckResult) []string {
	status := string(result.PreviousStatus)
	if result.NewStatus != "" && result.NewStatus != result.PreviousStatus {
		status = fmt.Sprintf("%s -> %s", result.PreviousStatus, result.NewStatus)
	}

	confirmations := "-"
	if result.Confirmations != nil {
		confirmations = fmt.Sprintf("%d", *result.Confirmations)
	}

	rule := "-"
	if result.Rule != 0 {
		rule = result.Rule.String()
	}

	return []string{
		result.TransactionID.String(),
		string(result.Currency),
		outcomeLabel(result.Outcome),
		status,
		rule,
		confirmations,
		fmt.Sprintf("%d", result.RetryCount),
	}
}

func outcomeLabel(outcome app.Outcome) string {
	switch outcome {
	case app.OutcomeTransitioned:
		return pterm.Green(string(outcome))
	case app.OutcomeProbeFailed, app.OutcomeUpdateFailed:
		return pterm.Red(string(outcome))
	case app.OutcomeSkipped:
		return pterm.Gray(string(outcome))
	default:
		return string(outcome)
	}
}
