package router

import (
	"context"
	"testing"

	xerrors "PayRoute/internal/errors"
	"PayRoute/internal/ledger"
)

func TestSendPaymentSplitsFee(t *testing.T) {
	l := ledger.NewMemoryLedger()
	l.Mint("alice", 1_000_000)

	r, err := NewRouter(l, "treasury", 10)
	if err != nil {
		t.Fatalf("NewRouter failed: %v", err)
	}

	ctx := context.Background()
	receipt, err := r.SendPayment(ctx, "alice", "bob", 100_000, "route1")
	if err != nil {
		t.Fatalf("SendPayment failed: %v", err)
	}

	// 0.1% of 100000 is 100.
	if receipt.Fee != 100 || receipt.Amount != 99_900 {
		t.Fatalf("expected 99900/100 split, got %d/%d", receipt.Amount, receipt.Fee)
	}
	if balance, _ := l.BalanceOf(ctx, "bob"); balance != 99_900 {
		t.Fatalf("expected bob balance 99900, got %d", balance)
	}
	if balance, _ := l.BalanceOf(ctx, "treasury"); balance != 100 {
		t.Fatalf("expected treasury balance 100, got %d", balance)
	}
}

func TestSendPaymentSmallAmountNoFee(t *testing.T) {
	l := ledger.NewMemoryLedger()
	l.Mint("alice", 1000)

	r, err := NewRouter(l, "treasury", 10)
	if err != nil {
		t.Fatalf("NewRouter failed: %v", err)
	}

	// 0.1% of 500 truncates to zero: the full amount reaches the recipient.
	receipt, err := r.SendPayment(context.Background(), "alice", "bob", 500, "")
	if err != nil {
		t.Fatalf("SendPayment failed: %v", err)
	}
	if receipt.Fee != 0 || receipt.Amount != 500 {
		t.Fatalf("expected 500/0 split, got %d/%d", receipt.Amount, receipt.Fee)
	}
}

func TestSendPaymentValidation(t *testing.T) {
	l := ledger.NewMemoryLedger()
	r, err := NewRouter(l, "treasury", 0)
	if err != nil {
		t.Fatalf("NewRouter failed: %v", err)
	}
	if r.FeeBps() != DefaultFeeBps {
		t.Fatalf("expected default fee bps %d, got %d", DefaultFeeBps, r.FeeBps())
	}

	ctx := context.Background()
	cases := []struct {
		name      string
		sender    ledger.Account
		recipient ledger.Account
		amount    int64
	}{
		{"empty sender", "", "bob", 100},
		{"empty recipient", "alice", "", 100},
		{"self payment", "alice", "alice", 100},
		{"zero amount", "alice", "bob", 0},
	}
	for _, tc := range cases {
		if _, err := r.SendPayment(ctx, tc.sender, tc.recipient, tc.amount, ""); xerrors.CodeOf(err) != CodeValidation {
			t.Errorf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestSendPaymentInsufficientFunds(t *testing.T) {
	l := ledger.NewMemoryLedger()
	r, err := NewRouter(l, "treasury", 10)
	if err != nil {
		t.Fatalf("NewRouter failed: %v", err)
	}
	if _, err := r.SendPayment(context.Background(), "alice", "bob", 100_000, ""); xerrors.CodeOf(err) != CodePaymentFailed {
		t.Fatalf("expected payment failure, got %v", err)
	}
}
