/**
 * @description
 * This file defines the event payloads published to RabbitMQ after ledger
 * operations complete. Consumers (notification fan-out, reporting) receive these
 * as JSON; publication is fire-and-observe and never affects the outcome of the
 * operation that produced the event.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event routing keys on the wallet events exchange.
const (
	EventAccountCreated    = "wallet.account.created"
	EventFundsDeposited    = "wallet.funds.deposited"
	EventFundsWithdrawn    = "wallet.funds.withdrawn"
	EventTransferCompleted = "wallet.transfer.completed"
	EventOperationFailed   = "wallet.operation.failed"
)

// AccountCreatedEvent is published after a new account is committed.
type AccountCreatedEvent struct {
	Account   *Account  `json:"account"`
	Timestamp time.Time `json:"timestamp"`
}

// FundsMovedEvent is published after a deposit or withdrawal commits, or after
// the idempotency guard replays one (Duplicate=true).
type FundsMovedEvent struct {
	Account   *Account  `json:"account"`
	Entry     *Entry    `json:"entry"`
	Duplicate bool      `json:"duplicate"`
	Timestamp time.Time `json:"timestamp"`
}

// TransferCompletedEvent is published after both legs of a transfer commit.
type TransferCompletedEvent struct {
	Source      *Account  `json:"source"`
	Target      *Account  `json:"target"`
	DebitEntry  *Entry    `json:"debit_entry"`
	CreditEntry *Entry    `json:"credit_entry"`
	Duplicate   bool      `json:"duplicate"`
	Timestamp   time.Time `json:"timestamp"`
}

// OperationFailedEvent is published when a ledger operation is rejected by a
// business rule. Internal failures are not published; they are logged for
// operators only.
type OperationFailedEvent struct {
	AccountID uuid.UUID `json:"account_id"`
	Operation string    `json:"operation"`
	ErrorKind string    `json:"error_kind"`
	Context   string    `json:"context,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
