/**
 * @description
 * This file provides an in-memory implementation of the `Repository` interface.
 * It mirrors the semantics the PostgreSQL implementation gets from the database:
 * serialized balance mutations, atomic two-leg transfers, a rejected mutation
 * leaves no trace, and duplicate (key, account, kind) inserts fail with
 * ErrDuplicateEntry. It backs tests and local development without a database.
 */

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kudipay/wallet-service/internal/domain"
)

type idempotencyRef struct {
	key       string
	accountID uuid.UUID
	kind      domain.EntryKind
}

// MemoryRepository is an in-memory Repository used by tests and local runs.
type MemoryRepository struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*domain.Account
	entries  []*domain.Entry
	byKey    map[idempotencyRef]*domain.Entry
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts: make(map[uuid.UUID]*domain.Account),
		byKey:    make(map[idempotencyRef]*domain.Entry),
	}
}

func (r *MemoryRepository) CreateAccount(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	stored := *account
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.accounts[stored.ID] = &stored
	copied := stored
	return &copied, nil
}

func (r *MemoryRepository) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accountCopy(accountID)
}

func (r *MemoryRepository) FindEntryByIdempotencyKey(ctx context.Context, key string, accountID uuid.UUID, kind domain.EntryKind) (*domain.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byKey[idempotencyRef{key: key, accountID: accountID, kind: kind}]
	if !ok {
		return nil, ErrEntryNotFound
	}
	copied := *entry
	return &copied, nil
}

func (r *MemoryRepository) CreditAccount(ctx context.Context, accountID uuid.UUID, amount int64, idempotencyKey *string, metadata map[string]string) (*domain.Account, *domain.Entry, error) {
	return r.mutate(accountID, amount, domain.EntryKindDeposit, idempotencyKey, metadata)
}

func (r *MemoryRepository) DebitAccount(ctx context.Context, accountID uuid.UUID, amount int64, idempotencyKey *string, metadata map[string]string) (*domain.Account, *domain.Entry, error) {
	return r.mutate(accountID, amount, domain.EntryKindWithdrawal, idempotencyKey, metadata)
}

func (r *MemoryRepository) mutate(accountID uuid.UUID, amount int64, kind domain.EntryKind, idempotencyKey *string, metadata map[string]string) (*domain.Account, *domain.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[accountID]
	if !ok {
		return nil, nil, ErrAccountNotFound
	}
	if err := r.checkDuplicate(idempotencyKey, accountID, kind); err != nil {
		return nil, nil, err
	}
	if kind.IsDebit() && account.Balance < amount {
		return nil, nil, &domain.InsufficientBalanceError{
			AccountID: accountID,
			Balance:   account.Balance,
			Requested: amount,
		}
	}

	account.Balance += kind.Direction() * amount
	account.UpdatedAt = time.Now().UTC()
	entry := r.appendEntry(&domain.Entry{
		ID:             uuid.New(),
		AccountID:      accountID,
		Kind:           kind,
		Amount:         amount,
		BalanceAfter:   account.Balance,
		IdempotencyKey: idempotencyKey,
		Metadata:       metadata,
	})

	accountCopy := *account
	entryCopy := *entry
	return &accountCopy, &entryCopy, nil
}

func (r *MemoryRepository) TransferFunds(ctx context.Context, sourceID, targetID uuid.UUID, amount int64, idempotencyKey *string, metadata map[string]string) (*domain.TransferResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	source, ok := r.accounts[sourceID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	target, ok := r.accounts[targetID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	if err := r.checkDuplicate(idempotencyKey, sourceID, domain.EntryKindTransferDebit); err != nil {
		return nil, err
	}
	if source.Balance < amount {
		return nil, &domain.InsufficientBalanceError{
			AccountID: sourceID,
			Balance:   source.Balance,
			Requested: amount,
		}
	}

	now := time.Now().UTC()
	source.Balance -= amount
	source.UpdatedAt = now
	target.Balance += amount
	target.UpdatedAt = now

	debitEntry := r.appendEntry(&domain.Entry{
		ID:               uuid.New(),
		AccountID:        sourceID,
		Kind:             domain.EntryKindTransferDebit,
		Amount:           amount,
		BalanceAfter:     source.Balance,
		RelatedAccountID: &targetID,
		IdempotencyKey:   idempotencyKey,
		Metadata:         withCounterparty(metadata, targetID),
	})
	creditEntry := r.appendEntry(&domain.Entry{
		ID:               uuid.New(),
		AccountID:        targetID,
		Kind:             domain.EntryKindTransferCredit,
		Amount:           amount,
		BalanceAfter:     target.Balance,
		RelatedAccountID: &sourceID,
		IdempotencyKey:   idempotencyKey,
		Metadata:         withCounterparty(metadata, sourceID),
	})

	sourceCopy := *source
	targetCopy := *target
	debitCopy := *debitEntry
	creditCopy := *creditEntry
	return &domain.TransferResult{
		Source:      &sourceCopy,
		Target:      &targetCopy,
		DebitEntry:  &debitCopy,
		CreditEntry: &creditCopy,
	}, nil
}

func (r *MemoryRepository) ListEntriesByAccount(ctx context.Context, accountID uuid.UUID, opts domain.EntryListOptions) ([]domain.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := []domain.Entry{}
	for _, entry := range r.entries {
		if entry.AccountID != accountID {
			continue
		}
		if opts.Kind != "" && entry.Kind != opts.Kind {
			continue
		}
		if opts.From != nil && entry.CreatedAt.Before(*opts.From) {
			continue
		}
		if opts.To != nil && entry.CreatedAt.After(*opts.To) {
			continue
		}
		matched = append(matched, *entry)
	}

	// Newest first, matching the SQL ordering.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if opts.Offset >= len(matched) {
		return []domain.Entry{}, nil
	}
	matched = matched[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(matched) {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

func (r *MemoryRepository) SumEntriesByKind(ctx context.Context, accountID uuid.UUID) ([]domain.KindAggregate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	totals := map[domain.EntryKind]*domain.KindAggregate{}
	for _, entry := range r.entries {
		if entry.AccountID != accountID {
			continue
		}
		agg, ok := totals[entry.Kind]
		if !ok {
			agg = &domain.KindAggregate{Kind: entry.Kind}
			totals[entry.Kind] = agg
		}
		agg.EntryCount++
		agg.TotalAmount += entry.Amount
	}

	aggregates := make([]domain.KindAggregate, 0, len(totals))
	for _, agg := range totals {
		aggregates = append(aggregates, *agg)
	}
	sort.Slice(aggregates, func(i, j int) bool { return aggregates[i].Kind < aggregates[j].Kind })
	return aggregates, nil
}

func (r *MemoryRepository) accountCopy(accountID uuid.UUID) (*domain.Account, error) {
	account, ok := r.accounts[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

func (r *MemoryRepository) checkDuplicate(idempotencyKey *string, accountID uuid.UUID, kind domain.EntryKind) error {
	if idempotencyKey == nil {
		return nil
	}
	if _, exists := r.byKey[idempotencyRef{key: *idempotencyKey, accountID: accountID, kind: kind}]; exists {
		return ErrDuplicateEntry
	}
	return nil
}

func (r *MemoryRepository) appendEntry(entry *domain.Entry) *domain.Entry {
	entry.CreatedAt = time.Now().UTC()
	r.entries = append(r.entries, entry)
	if entry.IdempotencyKey != nil {
		r.byKey[idempotencyRef{key: *entry.IdempotencyKey, accountID: entry.AccountID, kind: entry.Kind}] = entry
	}
	return entry
}
