package app

import (
	"testing"
	"time"

	"github.com/transfa/crypto-ledger-service/internal/domain"
)

func int64Ptr(v int64) *int64 { return &v }

func TestResolve(t *testing.T) {
	now := baseTime
	tests := []struct {
		name       string
		in         ResolveInput
		wantStatus domain.Status
		wantRule   Rule
		wantProbe  bool
	}{
		{
			name:       "synthetic failure is failed regardless of age and confirmations",
			in:         ResolveInput{Reference: domain.SimulatedFailureReference(domain.CurrencyBTC, now), Currency: domain.CurrencyBTC, CreatedAt: now, Confirmations: int64Ptr(100)},
			wantStatus: domain.StatusFailed,
			wantRule:   RuleSyntheticFailure,
		},
		{
			name:       "eth synthetic success completes immediately",
			in:         ResolveInput{Reference: domain.SimulatedSuccessReference(domain.CurrencyETH, now), Currency: domain.CurrencyETH, CreatedAt: now},
			wantStatus: domain.StatusCompleted,
			wantRule:   RuleSyntheticEthereum,
		},
		{
			name:       "btc synthetic success before settle age",
			in:         ResolveInput{Reference: domain.SimulatedSuccessReference(domain.CurrencyBTC, now), Currency: domain.CurrencyBTC, CreatedAt: now.Add(-3*time.Hour + time.Second)},
			wantStatus: domain.StatusPending,
			wantRule:   RuleSyntheticBitcoin,
		},
		{
			name:       "btc synthetic success at settle age",
			in:         ResolveInput{Reference: domain.SimulatedSuccessReference(domain.CurrencyBTC, now), Currency: domain.CurrencyBTC, CreatedAt: now.Add(-3 * time.Hour)},
			wantStatus: domain.StatusCompleted,
			wantRule:   RuleSyntheticBitcoin,
		},
		{
			name:       "fiat younger than a day stays pending",
			in:         ResolveInput{Reference: domain.NoReference(), Currency: domain.CurrencyFiat, CreatedAt: now.Add(-23 * time.Hour)},
			wantStatus: domain.StatusPending,
			wantRule:   RuleStaleUnreferenced,
		},
		{
			name:       "fiat older than a day completes",
			in:         ResolveInput{Reference: domain.NoReference(), Currency: domain.CurrencyFiat, CreatedAt: now.Add(-25 * time.Hour)},
			wantStatus: domain.StatusCompleted,
			wantRule:   RuleStaleUnreferenced,
		},
		{
			name:       "fiat with a real looking reference is never probed",
			in:         ResolveInput{Reference: domain.RealReference("bank-ref"), Currency: domain.CurrencyFiat, CreatedAt: now},
			wantStatus: domain.StatusPending,
			wantRule:   RuleStaleUnreferenced,
		},
		{
			name:       "crypto without reference completes after a day",
			in:         ResolveInput{Reference: domain.NoReference(), Currency: domain.CurrencyBTC, CreatedAt: now.Add(-24 * time.Hour)},
			wantStatus: domain.StatusCompleted,
			wantRule:   RuleStaleUnreferenced,
		},
		{
			name:       "real reference without confirmations needs a probe",
			in:         ResolveInput{Reference: domain.RealReference("abc"), Currency: domain.CurrencyBTC, CreatedAt: now},
			wantStatus: domain.StatusPending,
			wantRule:   RuleLedgerConfirmations,
			wantProbe:  true,
		},
		{
			name:       "btc below threshold",
			in:         ResolveInput{Reference: domain.RealReference("abc"), Currency: domain.CurrencyBTC, CreatedAt: now, Confirmations: int64Ptr(2)},
			wantStatus: domain.StatusPending,
			wantRule:   RuleLedgerConfirmations,
		},
		{
			name:       "btc at threshold",
			in:         ResolveInput{Reference: domain.RealReference("abc"), Currency: domain.CurrencyBTC, CreatedAt: now, Confirmations: int64Ptr(3)},
			wantStatus: domain.StatusCompleted,
			wantRule:   RuleLedgerConfirmations,
		},
		{
			name:       "eth below threshold",
			in:         ResolveInput{Reference: domain.RealReference("0xabc"), Currency: domain.CurrencyETH, CreatedAt: now, Confirmations: int64Ptr(11)},
			wantStatus: domain.StatusPending,
			wantRule:   RuleLedgerConfirmations,
		},
		{
			name:       "eth at threshold",
			in:         ResolveInput{Reference: domain.RealReference("0xabc"), Currency: domain.CurrencyETH, CreatedAt: now, Confirmations: int64Ptr(12)},
			wantStatus: domain.StatusCompleted,
			wantRule:   RuleLedgerConfirmations,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Resolve(tc.in, now)
			if got.Status != tc.wantStatus {
				t.Fatalf("expected status %s, got %s", tc.wantStatus, got.Status)
			}
			if got.Rule != tc.wantRule {
				t.Fatalf("expected rule %s, got %s", tc.wantRule, got.Rule)
			}
			if got.NeedsProbe != tc.wantProbe {
				t.Fatalf("expected NeedsProbe=%v, got %v", tc.wantProbe, got.NeedsProbe)
			}
		})
	}
}

func TestResolveEthSyntheticReportsSentinelConfirmations(t *testing.T) {
	got := Resolve(ResolveInput{
		Reference: domain.SimulatedSuccessReference(domain.CurrencyETH, baseTime),
		Currency:  domain.CurrencyETH,
		CreatedAt: baseTime,
	}, baseTime)

	if got.Confirmations == nil || *got.Confirmations != 12 {
		t.Fatalf("expected sentinel confirmations 12, got %v", got.Confirmations)
	}
}

func TestResolveEthSyntheticAnyAge(t *testing.T) {
	for _, age := range []time.Duration{0, time.Minute, 5 * time.Hour, 400 * 24 * time.Hour} {
		got := Resolve(ResolveInput{
			Reference: domain.ParseReference("eth_tx_1700000000000"),
			Currency:  domain.CurrencyETH,
			CreatedAt: baseTime.Add(-age),
		}, baseTime)
		if got.Status != domain.StatusCompleted {
			t.Fatalf("age %s: expected completed, got %s", age, got.Status)
		}
	}
}

func TestResolveFailureAnyAge(t *testing.T) {
	for _, age := range []time.Duration{0, 3 * time.Hour, 48 * time.Hour} {
		got := Resolve(ResolveInput{
			Reference:     domain.ParseReference("eth_err_1700000000000"),
			Currency:      domain.CurrencyETH,
			CreatedAt:     baseTime.Add(-age),
			Confirmations: int64Ptr(50),
		}, baseTime)
		if got.Status != domain.StatusFailed {
			t.Fatalf("age %s: expected failed, got %s", age, got.Status)
		}
	}
}
