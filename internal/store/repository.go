/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the wallet-service. By defining an interface,
 * we decouple the application's business logic from the specific database
 * implementation (PostgreSQL), making the code more modular and easier to test.
 *
 * @notes
 * - CreditAccount, DebitAccount and TransferFunds are the only balance-mutating
 *   operations. Each one runs as a single database transaction that acquires
 *   exclusive row locks before touching a balance, so callers never observe a
 *   partially applied mutation.
 */

package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/kudipay/wallet-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Account methods
	CreateAccount(ctx context.Context, account *domain.Account) (*domain.Account, error)
	FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)

	// Idempotency lookup. Returns ErrEntryNotFound when no prior entry matches
	// the (key, account, kind) triple.
	FindEntryByIdempotencyKey(ctx context.Context, key string, accountID uuid.UUID, kind domain.EntryKind) (*domain.Entry, error)

	// Atomic balance mutations. Each locks the account row(s), applies the
	// delta and appends the audit entry (or entries) in one commit. A unique
	// violation on the idempotency index surfaces as ErrDuplicateEntry.
	CreditAccount(ctx context.Context, accountID uuid.UUID, amount int64, idempotencyKey *string, metadata map[string]string) (*domain.Account, *domain.Entry, error)
	DebitAccount(ctx context.Context, accountID uuid.UUID, amount int64, idempotencyKey *string, metadata map[string]string) (*domain.Account, *domain.Entry, error)
	TransferFunds(ctx context.Context, sourceID, targetID uuid.UUID, amount int64, idempotencyKey *string, metadata map[string]string) (*domain.TransferResult, error)

	// Read-only history and statistics. These never take locks.
	ListEntriesByAccount(ctx context.Context, accountID uuid.UUID, opts domain.EntryListOptions) ([]domain.Entry, error)
	SumEntriesByKind(ctx context.Context, accountID uuid.UUID) ([]domain.KindAggregate, error)
}
