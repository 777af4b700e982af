/**
 * @description
 * This file contains the core business logic for the wallet-service. The `Service`
 * struct orchestrates all ledger operations, coordinating between the database
 * repository and the message broker.
 *
 * Key features:
 * - Implements the main use cases: account creation, deposits, withdrawals and
 *   inter-account transfers.
 * - Runs the idempotency guard before any lock is taken: a supplied, non-empty
 *   key that matches a prior (key, account, kind) entry short-circuits the
 *   operation and replays the stored entry. An absent or empty key never
 *   deduplicates; every such call proceeds as a fresh operation.
 * - Resolves duplicate-insert races through the database's unique index: when a
 *   concurrent call wins the insert, the loser re-fetches and reports the
 *   winner's entry as a duplicate.
 * - Publishes events to RabbitMQ after commit. Publication never blocks or
 *   changes the outcome of an operation.
 *
 * @dependencies
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For event publication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/kudipay/wallet-service/internal/domain"
	"github.com/kudipay/wallet-service/internal/store"
	"github.com/kudipay/wallet-service/pkg/rabbitmq"
)

// MaxIdempotencyKeyLength bounds the opaque idempotency key accepted from callers.
const MaxIdempotencyKeyLength = 64

var (
	ErrOwnerRequired          = errors.New("account owner is required")
	ErrInvalidCurrency        = errors.New("currency must be a three-letter ISO 4217 code")
	ErrIdempotencyKeyTooLong  = fmt.Errorf("idempotency key must be at most %d characters", MaxIdempotencyKeyLength)
	ErrInvalidEntryKindFilter = errors.New("unknown entry kind filter")
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// Service provides the core business logic for the wallet ledger.
type Service struct {
	repo          store.Repository
	eventProducer rabbitmq.Publisher
	eventExchange string
}

// NewService creates a new wallet service instance.
func NewService(repo store.Repository, producer rabbitmq.Publisher, eventExchange string) *Service {
	return &Service{
		repo:          repo,
		eventProducer: producer,
		eventExchange: eventExchange,
	}
}

// CreateAccount creates a new zero-balance account with a fixed currency.
func (s *Service) CreateAccount(ctx context.Context, owner, currency string) (*domain.Account, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, ErrOwnerRequired
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if !isCurrencyCode(currency) {
		return nil, ErrInvalidCurrency
	}

	account, err := s.repo.CreateAccount(ctx, &domain.Account{
		ID:       uuid.New(),
		Owner:    owner,
		Currency: currency,
		Balance:  0,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	log.Printf("level=info component=app operation=create_account account_id=%s currency=%s", account.ID, account.Currency)
	s.publish(ctx, domain.EventAccountCreated, domain.AccountCreatedEvent{
		Account:   account,
		Timestamp: time.Now().UTC(),
	})
	return account, nil
}

// GetAccount retrieves one account by id.
func (s *Service) GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	return s.repo.FindAccountByID(ctx, accountID)
}

// Deposit credits amount to the account, deduplicating on the idempotency key.
func (s *Service) Deposit(ctx context.Context, accountID uuid.UUID, amount int64, idempotencyKey string, metadata map[string]string) (*domain.MutationResult, error) {
	return s.mutate(ctx, accountID, amount, domain.EntryKindDeposit, idempotencyKey, metadata)
}

// Withdraw debits amount from the account, deduplicating on the idempotency key.
// The withdrawal is rejected when the balance locked inside the transaction
// cannot cover the amount.
func (s *Service) Withdraw(ctx context.Context, accountID uuid.UUID, amount int64, idempotencyKey string, metadata map[string]string) (*domain.MutationResult, error) {
	return s.mutate(ctx, accountID, amount, domain.EntryKindWithdrawal, idempotencyKey, metadata)
}

func (s *Service) mutate(ctx context.Context, accountID uuid.UUID, amount int64, kind domain.EntryKind, idempotencyKey string, metadata map[string]string) (*domain.MutationResult, error) {
	operation := operationName(kind)

	key, err := normalizeIdempotencyKey(idempotencyKey)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		err := &domain.InvalidAmountError{Amount: amount, Operation: operation}
		s.publishFailure(ctx, accountID, operation, err)
		return nil, err
	}

	// Idempotency guard: look for a prior entry before any lock is taken.
	if key != nil {
		if result, err := s.replayMutation(ctx, *key, accountID, kind); err == nil {
			s.publishMutation(ctx, kind, result)
			return result, nil
		} else if !errors.Is(err, store.ErrEntryNotFound) {
			return nil, err
		}
	}

	var account *domain.Account
	var entry *domain.Entry
	switch kind {
	case domain.EntryKindDeposit:
		account, entry, err = s.repo.CreditAccount(ctx, accountID, amount, key, metadata)
	default:
		account, entry, err = s.repo.DebitAccount(ctx, accountID, amount, key, metadata)
	}
	if err != nil {
		// A concurrent call with the same key won the insert race. The unique
		// index guarantees its entry is the only one; replay it.
		if errors.Is(err, store.ErrDuplicateEntry) && key != nil {
			result, replayErr := s.replayMutation(ctx, *key, accountID, kind)
			if replayErr != nil {
				return nil, fmt.Errorf("failed to replay duplicate %s: %w", operation, replayErr)
			}
			s.publishMutation(ctx, kind, result)
			return result, nil
		}
		if isBusinessError(err) {
			s.publishFailure(ctx, accountID, operation, err)
		} else {
			log.Printf("level=error component=app operation=%s account_id=%s err=%v", operation, accountID, err)
		}
		return nil, err
	}

	log.Printf("level=info component=app operation=%s account_id=%s entry_id=%s amount=%d balance_after=%d", operation, accountID, entry.ID, amount, entry.BalanceAfter)
	result := &domain.MutationResult{Account: account, Entry: entry, Duplicate: false}
	s.publishMutation(ctx, kind, result)
	return result, nil
}

func (s *Service) replayMutation(ctx context.Context, key string, accountID uuid.UUID, kind domain.EntryKind) (*domain.MutationResult, error) {
	entry, err := s.repo.FindEntryByIdempotencyKey(ctx, key, accountID, kind)
	if err != nil {
		return nil, err
	}
	account, err := s.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	log.Printf("level=info component=app operation=%s account_id=%s entry_id=%s outcome=duplicate idempotency_key=%s", operationName(kind), accountID, entry.ID, key)
	return &domain.MutationResult{Account: account, Entry: entry, Duplicate: true}, nil
}

// Transfer moves amount between two same-currency accounts as one atomic unit,
// producing the paired transfer_debit / transfer_credit entries.
func (s *Service) Transfer(ctx context.Context, sourceID, targetID uuid.UUID, amount int64, idempotencyKey string, metadata map[string]string) (*domain.TransferResult, error) {
	key, err := normalizeIdempotencyKey(idempotencyKey)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		err := &domain.InvalidAmountError{Amount: amount, Operation: "transfer"}
		s.publishFailure(ctx, sourceID, "transfer", err)
		return nil, err
	}
	if sourceID == targetID {
		err := &domain.SelfTransferError{AccountID: sourceID}
		s.publishFailure(ctx, sourceID, "transfer", err)
		return nil, err
	}

	source, err := s.repo.FindAccountByID(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	target, err := s.repo.FindAccountByID(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if source.Currency != target.Currency {
		err := &domain.CurrencyMismatchError{SourceCurrency: source.Currency, TargetCurrency: target.Currency}
		s.publishFailure(ctx, sourceID, "transfer", err)
		return nil, err
	}

	// Idempotency guard: the debit leg is the transfer's dedup anchor.
	if key != nil {
		if result, err := s.replayTransfer(ctx, *key, sourceID, targetID); err == nil {
			s.publishTransfer(ctx, result)
			return result, nil
		} else if !errors.Is(err, store.ErrEntryNotFound) {
			return nil, err
		}
	}

	result, err := s.repo.TransferFunds(ctx, sourceID, targetID, amount, key, metadata)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEntry) && key != nil {
			result, replayErr := s.replayTransfer(ctx, *key, sourceID, targetID)
			if replayErr != nil {
				return nil, fmt.Errorf("failed to replay duplicate transfer: %w", replayErr)
			}
			s.publishTransfer(ctx, result)
			return result, nil
		}
		if isBusinessError(err) {
			s.publishFailure(ctx, sourceID, "transfer", err)
		} else {
			log.Printf("level=error component=app operation=transfer source_id=%s target_id=%s err=%v", sourceID, targetID, err)
		}
		return nil, err
	}

	log.Printf("level=info component=app operation=transfer source_id=%s target_id=%s amount=%d debit_entry=%s credit_entry=%s",
		sourceID, targetID, amount, result.DebitEntry.ID, result.CreditEntry.ID)
	s.publishTransfer(ctx, result)
	return result, nil
}

func (s *Service) replayTransfer(ctx context.Context, key string, sourceID, targetID uuid.UUID) (*domain.TransferResult, error) {
	debitEntry, err := s.repo.FindEntryByIdempotencyKey(ctx, key, sourceID, domain.EntryKindTransferDebit)
	if err != nil {
		return nil, err
	}
	// Both legs commit atomically, so a found debit leg implies its credit leg
	// exists. A missing one indicates corruption and is reported, not papered over.
	creditEntry, err := s.repo.FindEntryByIdempotencyKey(ctx, key, targetID, domain.EntryKindTransferCredit)
	if err != nil {
		if errors.Is(err, store.ErrEntryNotFound) {
			return nil, fmt.Errorf("transfer credit leg missing for idempotency key %q (debit entry %s)", key, debitEntry.ID)
		}
		return nil, err
	}
	source, err := s.repo.FindAccountByID(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	target, err := s.repo.FindAccountByID(ctx, targetID)
	if err != nil {
		return nil, err
	}
	log.Printf("level=info component=app operation=transfer source_id=%s target_id=%s outcome=duplicate idempotency_key=%s", sourceID, targetID, key)
	return &domain.TransferResult{
		Source:      source,
		Target:      target,
		DebitEntry:  debitEntry,
		CreditEntry: creditEntry,
		Duplicate:   true,
	}, nil
}

// ListEntries returns a page of the account's ledger history.
func (s *Service) ListEntries(ctx context.Context, accountID uuid.UUID, opts domain.EntryListOptions) ([]domain.Entry, error) {
	if opts.Kind != "" && !opts.Kind.Valid() {
		return nil, ErrInvalidEntryKindFilter
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultHistoryLimit
	}
	if opts.Limit > maxHistoryLimit {
		opts.Limit = maxHistoryLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if _, err := s.repo.FindAccountByID(ctx, accountID); err != nil {
		return nil, err
	}
	return s.repo.ListEntriesByAccount(ctx, accountID, opts)
}

// AccountStatistics returns per-kind entry counts and amount sums for one account.
func (s *Service) AccountStatistics(ctx context.Context, accountID uuid.UUID) ([]domain.KindAggregate, error) {
	if _, err := s.repo.FindAccountByID(ctx, accountID); err != nil {
		return nil, err
	}
	return s.repo.SumEntriesByKind(ctx, accountID)
}

func (s *Service) publishMutation(ctx context.Context, kind domain.EntryKind, result *domain.MutationResult) {
	routingKey := domain.EventFundsDeposited
	if kind == domain.EntryKindWithdrawal {
		routingKey = domain.EventFundsWithdrawn
	}
	s.publish(ctx, routingKey, domain.FundsMovedEvent{
		Account:   result.Account,
		Entry:     result.Entry,
		Duplicate: result.Duplicate,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Service) publishTransfer(ctx context.Context, result *domain.TransferResult) {
	s.publish(ctx, domain.EventTransferCompleted, domain.TransferCompletedEvent{
		Source:      result.Source,
		Target:      result.Target,
		DebitEntry:  result.DebitEntry,
		CreditEntry: result.CreditEntry,
		Duplicate:   result.Duplicate,
		Timestamp:   time.Now().UTC(),
	})
}

func (s *Service) publishFailure(ctx context.Context, accountID uuid.UUID, operation string, opErr error) {
	s.publish(ctx, domain.EventOperationFailed, domain.OperationFailedEvent{
		AccountID: accountID,
		Operation: operation,
		ErrorKind: errorKind(opErr),
		Context:   opErr.Error(),
		Timestamp: time.Now().UTC(),
	})
}

// publish sends one event to the sink. Errors are logged and swallowed: the
// sink must not affect the outcome of the operation that produced the event.
func (s *Service) publish(ctx context.Context, routingKey string, payload interface{}) {
	if s.eventProducer == nil {
		return
	}
	if err := s.eventProducer.Publish(ctx, s.eventExchange, routingKey, payload); err != nil {
		log.Printf("level=warn component=app msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, domain.ErrCurrencyMismatch):
		return "currency_mismatch"
	case errors.Is(err, domain.ErrSelfTransfer):
		return "self_transfer"
	case errors.Is(err, store.ErrAccountNotFound), errors.Is(err, store.ErrEntryNotFound):
		return "not_found"
	default:
		return "internal"
	}
}

func isBusinessError(err error) bool {
	return errorKind(err) != "internal"
}

func operationName(kind domain.EntryKind) string {
	if kind == domain.EntryKindWithdrawal {
		return "withdraw"
	}
	return "deposit"
}

// normalizeIdempotencyKey trims the caller-supplied key and returns nil when no
// usable key remains. Only a supplied, non-empty key enables deduplication; an
// empty or whitespace-only key is deliberately treated the same as no key at all.
func normalizeIdempotencyKey(key string) (*string, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return nil, nil
	}
	if len(trimmed) > MaxIdempotencyKeyLength {
		return nil, ErrIdempotencyKeyTooLong
	}
	return &trimmed, nil
}

func isCurrencyCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if !unicode.IsUpper(r) || r > unicode.MaxASCII {
			return false
		}
	}
	return true
}
