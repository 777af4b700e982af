/**
 * @description
 * This file defines the core domain models for the wallet-service. These structs
 * represent the ledger entities used throughout the service's business logic,
 * database interactions, and API layers.
 *
 * @notes
 * - Amounts and balances are stored as `int64` in minor units (e.g., cents),
 *   which avoids floating-point inaccuracies with financial data.
 * - Accounts and entries are plain data records. All mutation logic lives in the
 *   application service and repository; models carry no behavior beyond the
 *   entry-kind direction lookup.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// EntryKind classifies a ledger entry. A transfer always produces one
// transfer_debit and one transfer_credit entry in the same commit.
type EntryKind string

const (
	EntryKindDeposit        EntryKind = "deposit"
	EntryKindWithdrawal     EntryKind = "withdrawal"
	EntryKindTransferDebit  EntryKind = "transfer_debit"
	EntryKindTransferCredit EntryKind = "transfer_credit"
)

// kindDirections maps each entry kind to the sign it applies to the owning
// account's balance. Kinds absent from the table are invalid.
var kindDirections = map[EntryKind]int64{
	EntryKindDeposit:        +1,
	EntryKindWithdrawal:     -1,
	EntryKindTransferDebit:  -1,
	EntryKindTransferCredit: +1,
}

// Valid reports whether k is one of the four ledger entry kinds.
func (k EntryKind) Valid() bool {
	_, ok := kindDirections[k]
	return ok
}

// Direction returns +1 for credit kinds and -1 for debit kinds, or 0 for an
// unknown kind.
func (k EntryKind) Direction() int64 {
	return kindDirections[k]
}

// IsCredit reports whether entries of this kind increase the owning account's balance.
func (k EntryKind) IsCredit() bool { return kindDirections[k] == +1 }

// IsDebit reports whether entries of this kind decrease the owning account's balance.
func (k EntryKind) IsDebit() bool { return kindDirections[k] == -1 }

// Account represents a balance-holding wallet account. The currency is fixed at
// creation and the balance never goes below zero.
type Account struct {
	ID        uuid.UUID `json:"id"`
	Owner     string    `json:"owner"`
	Currency  string    `json:"currency"` // ISO 4217, e.g. "USD"
	Balance   int64     `json:"balance"`  // in minor units
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Entry is one immutable row of the ledger's audit trail. BalanceAfter snapshots
// the owning account's balance immediately after the entry was committed.
type Entry struct {
	ID               uuid.UUID         `json:"id"`
	AccountID        uuid.UUID         `json:"account_id"`
	Kind             EntryKind         `json:"kind"`
	Amount           int64             `json:"amount"` // in minor units, always > 0
	BalanceAfter     int64             `json:"balance_after"`
	RelatedAccountID *uuid.UUID        `json:"related_account_id,omitempty"`
	IdempotencyKey   *string           `json:"idempotency_key,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// EntryListOptions controls pagination and filtering for entry history queries.
type EntryListOptions struct {
	Kind   EntryKind
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

// KindAggregate is one row of the per-kind statistics projection.
type KindAggregate struct {
	Kind        EntryKind `json:"kind"`
	EntryCount  int64     `json:"entry_count"`
	TotalAmount int64     `json:"total_amount"`
}

// CreateAccountRequest is the DTO for account creation API requests.
type CreateAccountRequest struct {
	Owner    string `json:"owner"`
	Currency string `json:"currency"`
}

// MutationRequest is the DTO for deposit and withdrawal API requests.
type MutationRequest struct {
	Amount         int64             `json:"amount"` // in minor units
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// TransferRequest is the DTO for transfer API requests.
type TransferRequest struct {
	SourceAccountID uuid.UUID         `json:"source_account_id"`
	TargetAccountID uuid.UUID         `json:"target_account_id"`
	Amount          int64             `json:"amount"` // in minor units
	IdempotencyKey  string            `json:"idempotency_key,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// MutationResult reports the outcome of a deposit or withdrawal. Duplicate is
// true when the idempotency guard short-circuited and Entry is the prior entry.
type MutationResult struct {
	Account   *Account `json:"account"`
	Entry     *Entry   `json:"entry"`
	Duplicate bool     `json:"duplicate"`
}

// TransferResult reports the outcome of a transfer, carrying both legs of the
// double entry.
type TransferResult struct {
	Source      *Account `json:"source"`
	Target      *Account `json:"target"`
	DebitEntry  *Entry   `json:"debit_entry"`
	CreditEntry *Entry   `json:"credit_entry"`
	Duplicate   bool     `json:"duplicate"`
}
