/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the SQL needed to maintain accounts and their append-only ledger
 * entries, including the pessimistic locking protocol that keeps balances correct
 * under concurrency.
 *
 * Locking protocol:
 * - Single-account mutations lock the account row with `SELECT ... FOR UPDATE`,
 *   re-read the balance under the lock, apply the delta and append the audit entry
 *   inside the same transaction.
 * - Transfers lock both account rows in ascending id order regardless of transfer
 *   direction, so two transfers sharing an account always order their locks the
 *   same way and no waiter cycle can form.
 * - The partial unique index on (idempotency_key, account_id, kind) is the
 *   race-free idempotency authority: a concurrent duplicate insert fails with
 *   SQLSTATE 23505 and is surfaced as ErrDuplicateEntry for the caller to re-fetch.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kudipay/wallet-service/internal/domain"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrEntryNotFound   = errors.New("ledger entry not found")
	ErrDuplicateEntry  = errors.New("duplicate idempotency key for account and kind")
)

const entryColumns = "id, account_id, kind, amount, balance_after, related_account_id, idempotency_key, metadata, created_at"

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateAccount inserts a new account row and returns it with its database timestamps.
func (r *PostgresRepository) CreateAccount(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	query := `
		INSERT INTO accounts (id, owner, currency, balance)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query, account.ID, account.Owner, account.Currency, account.Balance).
		Scan(&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return account, nil
}

// FindAccountByID retrieves an account by its id.
func (r *PostgresRepository) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	var account domain.Account
	query := `SELECT id, owner, currency, balance, created_at, updated_at FROM accounts WHERE id = $1`
	err := r.db.QueryRow(ctx, query, accountID).Scan(
		&account.ID, &account.Owner, &account.Currency, &account.Balance, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// FindEntryByIdempotencyKey looks up a prior entry for the (key, account, kind)
// triple. This runs outside any locking transaction so the idempotency hot path
// does not contend with in-flight mutations.
func (r *PostgresRepository) FindEntryByIdempotencyKey(ctx context.Context, key string, accountID uuid.UUID, kind domain.EntryKind) (*domain.Entry, error) {
	query := fmt.Sprintf(`SELECT %s FROM entries WHERE idempotency_key = $1 AND account_id = $2 AND kind = $3`, entryColumns)
	entry, err := scanEntry(r.db.QueryRow(ctx, query, key, accountID, kind))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	return entry, nil
}

// CreditAccount applies a positive delta to one account under an exclusive row
// lock and appends the deposit entry in the same transaction.
func (r *PostgresRepository) CreditAccount(ctx context.Context, accountID uuid.UUID, amount int64, idempotencyKey *string, metadata map[string]string) (*domain.Account, *domain.Entry, error) {
	return r.mutateBalance(ctx, accountID, amount, domain.EntryKindDeposit, idempotencyKey, metadata)
}

// DebitAccount applies a negative delta to one account under an exclusive row
// lock, rejecting the mutation if the locked balance cannot cover the amount.
func (r *PostgresRepository) DebitAccount(ctx context.Context, accountID uuid.UUID, amount int64, idempotencyKey *string, metadata map[string]string) (*domain.Account, *domain.Entry, error) {
	return r.mutateBalance(ctx, accountID, amount, domain.EntryKindWithdrawal, idempotencyKey, metadata)
}

func (r *PostgresRepository) mutateBalance(ctx context.Context, accountID uuid.UUID, amount int64, kind domain.EntryKind, idempotencyKey *string, metadata map[string]string) (*domain.Account, *domain.Entry, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the account row and re-read its balance. Any balance observed before
	// this point is not trusted.
	var account domain.Account
	err = tx.QueryRow(ctx, `SELECT id, owner, currency, balance, created_at FROM accounts WHERE id = $1 FOR UPDATE`, accountID).
		Scan(&account.ID, &account.Owner, &account.Currency, &account.Balance, &account.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil, ErrAccountNotFound
		}
		return nil, nil, err
	}

	if kind.IsDebit() && account.Balance < amount {
		return nil, nil, &domain.InsufficientBalanceError{
			AccountID: accountID,
			Balance:   account.Balance,
			Requested: amount,
		}
	}

	newBalance := account.Balance + kind.Direction()*amount
	err = tx.QueryRow(ctx, `UPDATE accounts SET balance = $1, updated_at = NOW() WHERE id = $2 RETURNING updated_at`, newBalance, accountID).
		Scan(&account.UpdatedAt)
	if err != nil {
		return nil, nil, err
	}
	account.Balance = newBalance

	entry := &domain.Entry{
		ID:             uuid.New(),
		AccountID:      accountID,
		Kind:           kind,
		Amount:         amount,
		BalanceAfter:   newBalance,
		IdempotencyKey: idempotencyKey,
		Metadata:       metadata,
	}
	if err := insertEntry(ctx, tx, entry); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit balance mutation: %w", err)
	}
	return &account, entry, nil
}

// TransferFunds moves amount from source to target as one atomic unit: both
// account rows are locked in ascending id order, the source balance is
// re-checked under the lock, both balances are updated and both legs of the
// double entry are appended before the single commit.
func (r *PostgresRepository) TransferFunds(ctx context.Context, sourceID, targetID uuid.UUID, amount int64, idempotencyKey *string, metadata map[string]string) (*domain.TransferResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// ORDER BY id makes Postgres acquire the two row locks in ascending id
	// order, the same total order every concurrent transfer uses.
	rows, err := tx.Query(ctx, `
		SELECT id, owner, currency, balance, created_at, updated_at
		FROM accounts
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, []uuid.UUID{sourceID, targetID})
	if err != nil {
		return nil, err
	}

	accounts := make(map[uuid.UUID]*domain.Account, 2)
	for rows.Next() {
		var account domain.Account
		if err := rows.Scan(&account.ID, &account.Owner, &account.Currency, &account.Balance, &account.CreatedAt, &account.UpdatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		accounts[account.ID] = &account
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	source, ok := accounts[sourceID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	target, ok := accounts[targetID]
	if !ok {
		return nil, ErrAccountNotFound
	}

	if source.Balance < amount {
		return nil, &domain.InsufficientBalanceError{
			AccountID: sourceID,
			Balance:   source.Balance,
			Requested: amount,
		}
	}

	source.Balance -= amount
	target.Balance += amount
	err = tx.QueryRow(ctx, `UPDATE accounts SET balance = $1, updated_at = NOW() WHERE id = $2 RETURNING updated_at`, source.Balance, sourceID).
		Scan(&source.UpdatedAt)
	if err != nil {
		return nil, err
	}
	err = tx.QueryRow(ctx, `UPDATE accounts SET balance = $1, updated_at = NOW() WHERE id = $2 RETURNING updated_at`, target.Balance, targetID).
		Scan(&target.UpdatedAt)
	if err != nil {
		return nil, err
	}

	debitEntry := &domain.Entry{
		ID:               uuid.New(),
		AccountID:        sourceID,
		Kind:             domain.EntryKindTransferDebit,
		Amount:           amount,
		BalanceAfter:     source.Balance,
		RelatedAccountID: &targetID,
		IdempotencyKey:   idempotencyKey,
		Metadata:         withCounterparty(metadata, targetID),
	}
	creditEntry := &domain.Entry{
		ID:               uuid.New(),
		AccountID:        targetID,
		Kind:             domain.EntryKindTransferCredit,
		Amount:           amount,
		BalanceAfter:     target.Balance,
		RelatedAccountID: &sourceID,
		IdempotencyKey:   idempotencyKey,
		Metadata:         withCounterparty(metadata, sourceID),
	}
	if err := insertEntry(ctx, tx, debitEntry); err != nil {
		return nil, err
	}
	if err := insertEntry(ctx, tx, creditEntry); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transfer: %w", err)
	}
	return &domain.TransferResult{
		Source:      source,
		Target:      target,
		DebitEntry:  debitEntry,
		CreditEntry: creditEntry,
	}, nil
}

// ListEntriesByAccount returns a page of the account's ledger history, newest
// first, with optional kind and creation-date filters. Entries are immutable,
// so this read never blocks or is blocked by the mutating operations.
func (r *PostgresRepository) ListEntriesByAccount(ctx context.Context, accountID uuid.UUID, opts domain.EntryListOptions) ([]domain.Entry, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, `SELECT %s FROM entries WHERE account_id = $1`, entryColumns)
	args := []interface{}{accountID}

	if opts.Kind != "" {
		args = append(args, opts.Kind)
		fmt.Fprintf(&sb, " AND kind = $%d", len(args))
	}
	if opts.From != nil {
		args = append(args, *opts.From)
		fmt.Fprintf(&sb, " AND created_at >= $%d", len(args))
	}
	if opts.To != nil {
		args = append(args, *opts.To)
		fmt.Fprintf(&sb, " AND created_at <= $%d", len(args))
	}

	sb.WriteString(" ORDER BY created_at DESC, id DESC")
	args = append(args, opts.Limit)
	fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	args = append(args, opts.Offset)
	fmt.Fprintf(&sb, " OFFSET $%d", len(args))

	rows, err := r.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []domain.Entry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// SumEntriesByKind aggregates entry counts and amounts per kind for one account.
func (r *PostgresRepository) SumEntriesByKind(ctx context.Context, accountID uuid.UUID) ([]domain.KindAggregate, error) {
	query := `
		SELECT kind, COUNT(*), COALESCE(SUM(amount), 0)
		FROM entries
		WHERE account_id = $1
		GROUP BY kind
		ORDER BY kind
	`
	rows, err := r.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	aggregates := []domain.KindAggregate{}
	for rows.Next() {
		var agg domain.KindAggregate
		if err := rows.Scan(&agg.Kind, &agg.EntryCount, &agg.TotalAmount); err != nil {
			return nil, err
		}
		aggregates = append(aggregates, agg)
	}
	return aggregates, rows.Err()
}

// insertEntry appends one immutable ledger entry inside the caller's transaction.
// A 23505 on the idempotency index means another operation with the same
// (key, account, kind) won the race; the caller rolls back and re-fetches.
func insertEntry(ctx context.Context, tx pgx.Tx, entry *domain.Entry) error {
	metadataJSON, err := marshalMetadata(entry.Metadata)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO entries (id, account_id, kind, amount, balance_after, related_account_id, idempotency_key, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`
	err = tx.QueryRow(ctx, query,
		entry.ID,
		entry.AccountID,
		entry.Kind,
		entry.Amount,
		entry.BalanceAfter,
		entry.RelatedAccountID,
		entry.IdempotencyKey,
		metadataJSON,
	).Scan(&entry.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEntry
		}
		return err
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func marshalMetadata(metadata map[string]string) ([]byte, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	return json.Marshal(metadata)
}

// withCounterparty copies the caller metadata and records the other side of a
// transfer so each leg's audit row names its counterpart account.
func withCounterparty(metadata map[string]string, counterparty uuid.UUID) map[string]string {
	merged := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		merged[k] = v
	}
	merged["counterparty_account_id"] = counterparty.String()
	return merged
}

func scanEntry(row pgx.Row) (*domain.Entry, error) {
	var entry domain.Entry
	var metadataJSON []byte
	err := row.Scan(
		&entry.ID,
		&entry.AccountID,
		&entry.Kind,
		&entry.Amount,
		&entry.BalanceAfter,
		&entry.RelatedAccountID,
		&entry.IdempotencyKey,
		&metadataJSON,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode entry metadata: %w", err)
		}
	}
	return &entry, nil
}
