/**
 * @description
 * This file defines the business error taxonomy for the wallet-service. Each
 * named failure carries the context the API layer needs to render a response,
 * and unwraps to a sentinel so callers can branch with errors.Is without
 * depending on the concrete type.
 */

package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrInvalidAmount       = errors.New("amount must be a positive integer")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrCurrencyMismatch    = errors.New("accounts use different currencies")
	ErrSelfTransfer        = errors.New("source and target account are identical")
)

// InvalidAmountError reports a non-positive amount, naming the operation attempted.
type InvalidAmountError struct {
	Amount    int64
	Operation string
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("%s: invalid amount %d, must be > 0", e.Operation, e.Amount)
}

func (e *InvalidAmountError) Unwrap() error { return ErrInvalidAmount }

// InsufficientBalanceError reports a mutation that would drive the balance negative.
type InsufficientBalanceError struct {
	AccountID uuid.UUID
	Balance   int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("account %s: insufficient balance %d for requested amount %d", e.AccountID, e.Balance, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// CurrencyMismatchError reports a transfer between accounts of different currencies.
type CurrencyMismatchError struct {
	SourceCurrency string
	TargetCurrency string
}

func (e *CurrencyMismatchError) Error() string {
	return fmt.Sprintf("cannot transfer between %s and %s accounts", e.SourceCurrency, e.TargetCurrency)
}

func (e *CurrencyMismatchError) Unwrap() error { return ErrCurrencyMismatch }

// SelfTransferError reports a transfer where source and target are the same account.
type SelfTransferError struct {
	AccountID uuid.UUID
}

func (e *SelfTransferError) Error() string {
	return fmt.Sprintf("account %s cannot transfer to itself", e.AccountID)
}

func (e *SelfTransferError) Unwrap() error { return ErrSelfTransfer }
