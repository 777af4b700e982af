package domain

import (
	"errors"
	"testing"
)

func TestEntryKindDirections(t *testing.T) {
	tests := []struct {
		kind      EntryKind
		direction int64
	}{
		{EntryKindDeposit, +1},
		{EntryKindTransferCredit, +1},
		{EntryKindWithdrawal, -1},
		{EntryKindTransferDebit, -1},
	}

	for _, tc := range tests {
		t.Run(string(tc.kind), func(t *testing.T) {
			if !tc.kind.Valid() {
				t.Fatalf("expected %q to be a valid kind", tc.kind)
			}
			if got := tc.kind.Direction(); got != tc.direction {
				t.Fatalf("Direction() = %d, want %d", got, tc.direction)
			}
			if tc.kind.IsCredit() != (tc.direction == +1) {
				t.Fatalf("IsCredit() inconsistent with direction for %q", tc.kind)
			}
			if tc.kind.IsDebit() != (tc.direction == -1) {
				t.Fatalf("IsDebit() inconsistent with direction for %q", tc.kind)
			}
		})
	}
}

func TestEntryKind_UnknownIsInvalid(t *testing.T) {
	kind := EntryKind("chargeback")
	if kind.Valid() {
		t.Fatal("expected unknown kind to be invalid")
	}
	if kind.Direction() != 0 {
		t.Fatalf("expected direction 0 for unknown kind, got %d", kind.Direction())
	}
	if kind.IsCredit() || kind.IsDebit() {
		t.Fatal("unknown kind must be neither credit nor debit")
	}
}

func TestTypedErrorsUnwrapToSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"invalid amount", &InvalidAmountError{Amount: -1, Operation: "deposit"}, ErrInvalidAmount},
		{"insufficient balance", &InsufficientBalanceError{Balance: 10, Requested: 20}, ErrInsufficientBalance},
		{"currency mismatch", &CurrencyMismatchError{SourceCurrency: "USD", TargetCurrency: "EUR"}, ErrCurrencyMismatch},
		{"self transfer", &SelfTransferError{}, ErrSelfTransfer},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if !errors.Is(tc.err, tc.sentinel) {
				t.Fatalf("expected %v to unwrap to %v", tc.err, tc.sentinel)
			}
			if tc.err.Error() == "" {
				t.Fatal("expected a descriptive error message")
			}
		})
	}
}
