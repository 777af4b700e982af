/**
 * @description
 * This file contains the HTTP handlers for the wallet-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as
 * the bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kudipay/wallet-service/internal/app"
	"github.com/kudipay/wallet-service/internal/domain"
	"github.com/kudipay/wallet-service/internal/store"
)

// WalletHandlers holds the application service that handlers will use.
type WalletHandlers struct {
	service                *app.Service
	rateLimiter            *app.RedisRateLimiter
	mutationLimitPerMinute int
}

// NewWalletHandlers creates a new instance of WalletHandlers. The rate limiter
// may be nil, which disables request limiting.
func NewWalletHandlers(service *app.Service, rateLimiter *app.RedisRateLimiter, mutationLimitPerMinute int) *WalletHandlers {
	return &WalletHandlers{
		service:                service,
		rateLimiter:            rateLimiter,
		mutationLimitPerMinute: mutationLimitPerMinute,
	}
}

// mapLedgerError translates service errors into HTTP statuses. Business errors
// carry their own message; everything else is rendered as an opaque failure.
func mapLedgerError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrSelfTransfer),
		errors.Is(err, app.ErrOwnerRequired),
		errors.Is(err, app.ErrInvalidCurrency),
		errors.Is(err, app.ErrIdempotencyKeyTooLong),
		errors.Is(err, app.ErrInvalidEntryKindFilter):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrCurrencyMismatch):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, store.ErrAccountNotFound):
		return http.StatusNotFound, "Account not found."
	case errors.Is(err, store.ErrEntryNotFound):
		return http.StatusNotFound, "Ledger entry not found."
	}
	return http.StatusInternalServerError, "Could not process wallet request."
}

// CreateAccountHandler handles requests to create a new wallet account.
func (h *WalletHandlers) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	var payload domain.CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request payload.")
		return
	}

	account, err := h.service.CreateAccount(r.Context(), payload.Owner, payload.Currency)
	if err != nil {
		status, msg := mapLedgerError(err)
		if status == http.StatusInternalServerError {
			log.Printf("level=error component=api endpoint=create_account outcome=failed err=%v", err)
		}
		h.writeError(w, status, msg)
		return
	}

	h.writeJSON(w, http.StatusCreated, account)
}

// GetAccountHandler returns one account by id.
func (h *WalletHandlers) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.parseAccountID(w, r)
	if !ok {
		return
	}

	account, err := h.service.GetAccount(r.Context(), accountID)
	if err != nil {
		status, msg := mapLedgerError(err)
		if status == http.StatusInternalServerError {
			log.Printf("level=error component=api endpoint=get_account outcome=failed account_id=%s err=%v", accountID, err)
		}
		h.writeError(w, status, msg)
		return
	}

	h.writeJSON(w, http.StatusOK, account)
}

// DepositHandler handles requests to credit an account.
func (h *WalletHandlers) DepositHandler(w http.ResponseWriter, r *http.Request) {
	h.handleMutation(w, r, "deposit", h.service.Deposit)
}

// WithdrawHandler handles requests to debit an account.
func (h *WalletHandlers) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	h.handleMutation(w, r, "withdraw", h.service.Withdraw)
}

type mutationFunc func(ctx context.Context, accountID uuid.UUID, amount int64, idempotencyKey string, metadata map[string]string) (*domain.MutationResult, error)

func (h *WalletHandlers) handleMutation(w http.ResponseWriter, r *http.Request, operation string, mutate mutationFunc) {
	accountID, ok := h.parseAccountID(w, r)
	if !ok {
		return
	}
	if !h.allowMutation(w, r, operation, accountID) {
		return
	}

	var payload domain.MutationRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request payload.")
		return
	}

	key, ok := h.resolveIdempotencyKey(w, r, payload.IdempotencyKey)
	if !ok {
		return
	}

	result, err := mutate(r.Context(), accountID, payload.Amount, key, payload.Metadata)
	if err != nil {
		status, msg := mapLedgerError(err)
		if status == http.StatusInternalServerError {
			log.Printf("level=error component=api endpoint=%s outcome=failed account_id=%s err=%v", operation, accountID, err)
		}
		h.writeError(w, status, msg)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	h.writeJSON(w, status, result)
}

// TransferHandler handles requests to move funds between two accounts.
func (h *WalletHandlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	var payload domain.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request payload.")
		return
	}
	if payload.SourceAccountID == uuid.Nil || payload.TargetAccountID == uuid.Nil {
		h.writeError(w, http.StatusBadRequest, "Source and target account IDs are required.")
		return
	}
	if !h.allowMutation(w, r, "transfer", payload.SourceAccountID) {
		return
	}

	key, ok := h.resolveIdempotencyKey(w, r, payload.IdempotencyKey)
	if !ok {
		return
	}

	result, err := h.service.Transfer(r.Context(), payload.SourceAccountID, payload.TargetAccountID, payload.Amount, key, payload.Metadata)
	if err != nil {
		status, msg := mapLedgerError(err)
		if status == http.StatusInternalServerError {
			log.Printf("level=error component=api endpoint=transfer outcome=failed source_id=%s target_id=%s err=%v", payload.SourceAccountID, payload.TargetAccountID, err)
		}
		h.writeError(w, status, msg)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	h.writeJSON(w, status, result)
}

// resolveIdempotencyKey prefers the Idempotency-Key header over the body field
// and rejects keys beyond the supported length. The key itself is opaque and
// passed through unchanged.
func (h *WalletHandlers) resolveIdempotencyKey(w http.ResponseWriter, r *http.Request, bodyKey string) (string, bool) {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key == "" {
		key = strings.TrimSpace(bodyKey)
	}
	if len(key) > app.MaxIdempotencyKeyLength {
		h.writeError(w, http.StatusBadRequest, app.ErrIdempotencyKeyTooLong.Error())
		return "", false
	}
	return key, true
}

// allowMutation consumes one rate-limit token for the account. Limiter failures
// are logged and the request is allowed through.
func (h *WalletHandlers) allowMutation(w http.ResponseWriter, r *http.Request, scope string, accountID uuid.UUID) bool {
	if h.rateLimiter == nil || h.mutationLimitPerMinute <= 0 {
		return true
	}
	count, retryAfter, err := h.rateLimiter.ConsumeRateLimit(r.Context(), scope, accountID.String(), h.mutationLimitPerMinute, time.Minute)
	if err != nil {
		log.Printf("level=warn component=api msg=\"rate limiter unavailable; allowing request\" scope=%s err=%v", scope, err)
		return true
	}
	if count > h.mutationLimitPerMinute {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		h.writeError(w, http.StatusTooManyRequests, "Too many requests for this account. Please retry later.")
		return false
	}
	return true
}

func (h *WalletHandlers) parseAccountID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	accountID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid account ID")
		return uuid.Nil, false
	}
	return accountID, true
}

func (h *WalletHandlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("level=error component=api msg=\"failed to encode response\" err=%v", err)
	}
}

func (h *WalletHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
