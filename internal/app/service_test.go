package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/kudipay/wallet-service/internal/domain"
	"github.com/kudipay/wallet-service/internal/store"
)

type ledgerRepoStub struct {
	store.Repository

	accounts map[uuid.UUID]*domain.Account
	keyed    map[string]*domain.Entry

	creditErr           error
	debitErr            error
	transferErr         error
	creditCalled        bool
	debitCalled         bool
	transferCall        int
	lastKey             *string
	findMissesRemaining int
}

func (s *ledgerRepoStub) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	account, ok := s.accounts[accountID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	return account, nil
}

func (s *ledgerRepoStub) FindEntryByIdempotencyKey(ctx context.Context, key string, accountID uuid.UUID, kind domain.EntryKind) (*domain.Entry, error) {
	if s.findMissesRemaining > 0 {
		s.findMissesRemaining--
		return nil, store.ErrEntryNotFound
	}
	entry, ok := s.keyed[key+"|"+accountID.String()+"|"+string(kind)]
	if !ok {
		return nil, store.ErrEntryNotFound
	}
	return entry, nil
}

func (s *ledgerRepoStub) CreditAccount(ctx context.Context, accountID uuid.UUID, amount int64, idempotencyKey *string, metadata map[string]string) (*domain.Account, *domain.Entry, error) {
	s.creditCalled = true
	s.lastKey = idempotencyKey
	if s.creditErr != nil {
		return nil, nil, s.creditErr
	}
	account := s.accounts[accountID]
	account.Balance += amount
	entry := &domain.Entry{ID: uuid.New(), AccountID: accountID, Kind: domain.EntryKindDeposit, Amount: amount, BalanceAfter: account.Balance, IdempotencyKey: idempotencyKey}
	return account, entry, nil
}

func (s *ledgerRepoStub) DebitAccount(ctx context.Context, accountID uuid.UUID, amount int64, idempotencyKey *string, metadata map[string]string) (*domain.Account, *domain.Entry, error) {
	s.debitCalled = true
	s.lastKey = idempotencyKey
	if s.debitErr != nil {
		return nil, nil, s.debitErr
	}
	account := s.accounts[accountID]
	account.Balance -= amount
	entry := &domain.Entry{ID: uuid.New(), AccountID: accountID, Kind: domain.EntryKindWithdrawal, Amount: amount, BalanceAfter: account.Balance, IdempotencyKey: idempotencyKey}
	return account, entry, nil
}

func (s *ledgerRepoStub) TransferFunds(ctx context.Context, sourceID, targetID uuid.UUID, amount int64, idempotencyKey *string, metadata map[string]string) (*domain.TransferResult, error) {
	s.transferCall++
	s.lastKey = idempotencyKey
	if s.transferErr != nil {
		return nil, s.transferErr
	}
	source := s.accounts[sourceID]
	target := s.accounts[targetID]
	source.Balance -= amount
	target.Balance += amount
	return &domain.TransferResult{
		Source: source,
		Target: target,
		DebitEntry: &domain.Entry{
			ID: uuid.New(), AccountID: sourceID, Kind: domain.EntryKindTransferDebit,
			Amount: amount, BalanceAfter: source.Balance, RelatedAccountID: &targetID, IdempotencyKey: idempotencyKey,
		},
		CreditEntry: &domain.Entry{
			ID: uuid.New(), AccountID: targetID, Kind: domain.EntryKindTransferCredit,
			Amount: amount, BalanceAfter: target.Balance, RelatedAccountID: &sourceID, IdempotencyKey: idempotencyKey,
		},
	}, nil
}

type recordingPublisher struct {
	mu          sync.Mutex
	routingKeys []string
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.routingKeys = append(p.routingKeys, routingKey)
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) published(routingKey string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for _, k := range p.routingKeys {
		if k == routingKey {
			count++
		}
	}
	return count
}

func newStubService(accounts ...*domain.Account) (*Service, *ledgerRepoStub, *recordingPublisher) {
	repo := &ledgerRepoStub{
		accounts: map[uuid.UUID]*domain.Account{},
		keyed:    map[string]*domain.Entry{},
	}
	for _, account := range accounts {
		repo.accounts[account.ID] = account
	}
	publisher := &recordingPublisher{}
	return NewService(repo, publisher, "wallet.events"), repo, publisher
}

func usdAccount(balance int64) *domain.Account {
	return &domain.Account{ID: uuid.New(), Owner: "tester", Currency: "USD", Balance: balance}
}

func TestDeposit_RejectsNonPositiveAmount(t *testing.T) {
	account := usdAccount(0)
	service, repo, publisher := newStubService(account)

	for _, amount := range []int64{0, -50} {
		_, err := service.Deposit(context.Background(), account.ID, amount, "", nil)
		if !errors.Is(err, domain.ErrInvalidAmount) {
			t.Fatalf("expected ErrInvalidAmount for amount %d, got %v", amount, err)
		}
	}
	if repo.creditCalled {
		t.Fatal("expected no repository mutation for invalid amounts")
	}
	if got := publisher.published(domain.EventOperationFailed); got != 2 {
		t.Fatalf("expected 2 OperationFailed events, got %d", got)
	}
}

func TestWithdraw_PropagatesInsufficientBalance(t *testing.T) {
	account := usdAccount(100)
	service, repo, publisher := newStubService(account)
	repo.debitErr = &domain.InsufficientBalanceError{AccountID: account.ID, Balance: 100, Requested: 500}

	_, err := service.Withdraw(context.Background(), account.ID, 500, "", nil)
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	var insufficientErr *domain.InsufficientBalanceError
	if !errors.As(err, &insufficientErr) {
		t.Fatalf("expected InsufficientBalanceError, got %T", err)
	}
	if insufficientErr.Balance != 100 || insufficientErr.Requested != 500 {
		t.Fatalf("expected error to carry balance=100 requested=500, got %+v", insufficientErr)
	}
	if got := publisher.published(domain.EventOperationFailed); got != 1 {
		t.Fatalf("expected 1 OperationFailed event, got %d", got)
	}
}

func TestDeposit_ReplaysPriorEntryForKnownKey(t *testing.T) {
	account := usdAccount(700)
	service, repo, publisher := newStubService(account)

	key := "dep-abc"
	prior := &domain.Entry{ID: uuid.New(), AccountID: account.ID, Kind: domain.EntryKindDeposit, Amount: 700, BalanceAfter: 700, IdempotencyKey: &key}
	repo.keyed[key+"|"+account.ID.String()+"|"+string(domain.EntryKindDeposit)] = prior

	result, err := service.Deposit(context.Background(), account.ID, 700, key, nil)
	if err != nil {
		t.Fatalf("Deposit returned error: %v", err)
	}
	if !result.Duplicate {
		t.Fatal("expected duplicate result for known idempotency key")
	}
	if result.Entry.ID != prior.ID {
		t.Fatalf("expected prior entry %s to be replayed, got %s", prior.ID, result.Entry.ID)
	}
	if repo.creditCalled {
		t.Fatal("expected no new balance mutation on idempotent replay")
	}
	if got := publisher.published(domain.EventFundsDeposited); got != 1 {
		t.Fatalf("expected 1 FundsDeposited event, got %d", got)
	}
}

func TestDeposit_EmptyKeyBypassesGuard(t *testing.T) {
	account := usdAccount(0)
	service, repo, _ := newStubService(account)

	// A whitespace-only key must behave exactly like no key: fresh mutation,
	// nil key stored.
	result, err := service.Deposit(context.Background(), account.ID, 100, "   ", nil)
	if err != nil {
		t.Fatalf("Deposit returned error: %v", err)
	}
	if result.Duplicate {
		t.Fatal("expected fresh operation for empty key")
	}
	if !repo.creditCalled {
		t.Fatal("expected repository mutation")
	}
	if repo.lastKey != nil {
		t.Fatalf("expected nil idempotency key, got %q", *repo.lastKey)
	}
}

func TestDeposit_ResolvesInsertRaceAsDuplicate(t *testing.T) {
	account := usdAccount(500)
	service, repo, _ := newStubService(account)

	key := "race-key"
	winner := &domain.Entry{ID: uuid.New(), AccountID: account.ID, Kind: domain.EntryKindDeposit, Amount: 500, BalanceAfter: 500, IdempotencyKey: &key}
	repo.keyed[key+"|"+account.ID.String()+"|"+string(domain.EntryKindDeposit)] = winner
	// The pre-check misses, the insert loses the unique-index race, then the
	// replay lookup finds the winner's committed entry.
	repo.findMissesRemaining = 1
	repo.creditErr = store.ErrDuplicateEntry

	result, err := service.Deposit(context.Background(), account.ID, 500, key, nil)
	if err != nil {
		t.Fatalf("Deposit returned error: %v", err)
	}
	if !result.Duplicate {
		t.Fatal("expected duplicate result after losing insert race")
	}
	if result.Entry.ID != winner.ID {
		t.Fatalf("expected winner entry %s, got %s", winner.ID, result.Entry.ID)
	}
}

func TestDeposit_RejectsOverlongIdempotencyKey(t *testing.T) {
	account := usdAccount(0)
	service, repo, _ := newStubService(account)

	longKey := make([]byte, MaxIdempotencyKeyLength+1)
	for i := range longKey {
		longKey[i] = 'k'
	}
	_, err := service.Deposit(context.Background(), account.ID, 100, string(longKey), nil)
	if !errors.Is(err, ErrIdempotencyKeyTooLong) {
		t.Fatalf("expected ErrIdempotencyKeyTooLong, got %v", err)
	}
	if repo.creditCalled {
		t.Fatal("expected no repository mutation for overlong key")
	}
}

func TestTransfer_RejectsSelfTransfer(t *testing.T) {
	account := usdAccount(1000)
	service, repo, publisher := newStubService(account)

	_, err := service.Transfer(context.Background(), account.ID, account.ID, 100, "", nil)
	if !errors.Is(err, domain.ErrSelfTransfer) {
		t.Fatalf("expected ErrSelfTransfer, got %v", err)
	}
	if repo.transferCall != 0 {
		t.Fatal("expected no transfer attempt for self transfer")
	}
	if got := publisher.published(domain.EventOperationFailed); got != 1 {
		t.Fatalf("expected 1 OperationFailed event, got %d", got)
	}
}

func TestTransfer_RejectsCurrencyMismatchBeforeLocking(t *testing.T) {
	source := usdAccount(1000)
	target := &domain.Account{ID: uuid.New(), Owner: "other", Currency: "EUR", Balance: 0}
	service, repo, _ := newStubService(source, target)

	_, err := service.Transfer(context.Background(), source.ID, target.ID, 100, "", nil)
	if !errors.Is(err, domain.ErrCurrencyMismatch) {
		t.Fatalf("expected ErrCurrencyMismatch, got %v", err)
	}
	if repo.transferCall != 0 {
		t.Fatal("expected currency mismatch to fail before the locking transaction")
	}
}

func TestTransfer_RejectsUnknownAccounts(t *testing.T) {
	source := usdAccount(1000)
	service, _, _ := newStubService(source)

	_, err := service.Transfer(context.Background(), source.ID, uuid.New(), 100, "", nil)
	if !errors.Is(err, store.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestTransfer_ProducesPairedLegs(t *testing.T) {
	source := usdAccount(1000)
	target := usdAccount(0)
	service, _, publisher := newStubService(source, target)

	result, err := service.Transfer(context.Background(), source.ID, target.ID, 400, "tr-1", nil)
	if err != nil {
		t.Fatalf("Transfer returned error: %v", err)
	}
	if result.Duplicate {
		t.Fatal("expected fresh transfer")
	}
	if result.DebitEntry.Kind != domain.EntryKindTransferDebit || result.CreditEntry.Kind != domain.EntryKindTransferCredit {
		t.Fatalf("unexpected leg kinds: %s / %s", result.DebitEntry.Kind, result.CreditEntry.Kind)
	}
	if *result.DebitEntry.RelatedAccountID != target.ID || *result.CreditEntry.RelatedAccountID != source.ID {
		t.Fatal("expected each leg to reference the counterpart account")
	}
	if *result.DebitEntry.IdempotencyKey != "tr-1" || *result.CreditEntry.IdempotencyKey != "tr-1" {
		t.Fatal("expected both legs to share the idempotency key")
	}
	if result.Source.Balance != 600 || result.Target.Balance != 400 {
		t.Fatalf("unexpected balances after transfer: source=%d target=%d", result.Source.Balance, result.Target.Balance)
	}
	if got := publisher.published(domain.EventTransferCompleted); got != 1 {
		t.Fatalf("expected 1 TransferCompleted event, got %d", got)
	}
}

func TestTransfer_ReplaysBothLegsForKnownKey(t *testing.T) {
	source := usdAccount(600)
	target := usdAccount(400)
	service, repo, _ := newStubService(source, target)

	key := "tr-dup"
	debit := &domain.Entry{ID: uuid.New(), AccountID: source.ID, Kind: domain.EntryKindTransferDebit, Amount: 400, BalanceAfter: 600, RelatedAccountID: &target.ID, IdempotencyKey: &key}
	credit := &domain.Entry{ID: uuid.New(), AccountID: target.ID, Kind: domain.EntryKindTransferCredit, Amount: 400, BalanceAfter: 400, RelatedAccountID: &source.ID, IdempotencyKey: &key}
	repo.keyed[key+"|"+source.ID.String()+"|"+string(domain.EntryKindTransferDebit)] = debit
	repo.keyed[key+"|"+target.ID.String()+"|"+string(domain.EntryKindTransferCredit)] = credit

	result, err := service.Transfer(context.Background(), source.ID, target.ID, 400, key, nil)
	if err != nil {
		t.Fatalf("Transfer returned error: %v", err)
	}
	if !result.Duplicate {
		t.Fatal("expected duplicate transfer result")
	}
	if result.DebitEntry.ID != debit.ID || result.CreditEntry.ID != credit.ID {
		t.Fatal("expected stored legs to be replayed")
	}
	if repo.transferCall != 0 {
		t.Fatal("expected no new transfer for idempotent replay")
	}
}

func TestTransfer_ReportsMissingCreditLeg(t *testing.T) {
	source := usdAccount(600)
	target := usdAccount(400)
	service, repo, _ := newStubService(source, target)

	key := "tr-broken"
	debit := &domain.Entry{ID: uuid.New(), AccountID: source.ID, Kind: domain.EntryKindTransferDebit, Amount: 400, BalanceAfter: 600, RelatedAccountID: &target.ID, IdempotencyKey: &key}
	repo.keyed[key+"|"+source.ID.String()+"|"+string(domain.EntryKindTransferDebit)] = debit

	_, err := service.Transfer(context.Background(), source.ID, target.ID, 400, key, nil)
	if err == nil {
		t.Fatal("expected error for missing credit leg")
	}
	if errors.Is(err, store.ErrEntryNotFound) {
		t.Fatalf("missing credit leg must not surface as plain not-found: %v", err)
	}
}

func TestCreateAccount_NormalizesCurrency(t *testing.T) {
	repo := store.NewMemoryRepository()
	service := NewService(repo, nil, "wallet.events")

	account, err := service.CreateAccount(context.Background(), "  alice  ", "usd")
	if err != nil {
		t.Fatalf("CreateAccount returned error: %v", err)
	}
	if account.Currency != "USD" {
		t.Fatalf("expected normalized currency USD, got %q", account.Currency)
	}
	if account.Owner != "alice" {
		t.Fatalf("expected trimmed owner, got %q", account.Owner)
	}
	if account.Balance != 0 {
		t.Fatalf("expected zero starting balance, got %d", account.Balance)
	}
}

func TestCreateAccount_RejectsBadInput(t *testing.T) {
	repo := store.NewMemoryRepository()
	service := NewService(repo, nil, "wallet.events")

	if _, err := service.CreateAccount(context.Background(), "", "USD"); !errors.Is(err, ErrOwnerRequired) {
		t.Fatalf("expected ErrOwnerRequired, got %v", err)
	}
	for _, currency := range []string{"", "US", "DOLLARS", "U1D"} {
		if _, err := service.CreateAccount(context.Background(), "bob", currency); !errors.Is(err, ErrInvalidCurrency) {
			t.Fatalf("expected ErrInvalidCurrency for %q, got %v", currency, err)
		}
	}
}

func TestListEntries_ValidatesKindFilter(t *testing.T) {
	repo := store.NewMemoryRepository()
	service := NewService(repo, nil, "wallet.events")

	account, err := service.CreateAccount(context.Background(), "carol", "USD")
	if err != nil {
		t.Fatalf("CreateAccount returned error: %v", err)
	}

	if _, err := service.ListEntries(context.Background(), account.ID, domain.EntryListOptions{Kind: "bogus"}); !errors.Is(err, ErrInvalidEntryKindFilter) {
		t.Fatalf("expected ErrInvalidEntryKindFilter, got %v", err)
	}
	entries, err := service.ListEntries(context.Background(), account.ID, domain.EntryListOptions{})
	if err != nil {
		t.Fatalf("ListEntries returned error: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty history, got %d entries", len(entries))
	}
}
