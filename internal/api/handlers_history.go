package api

import (
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kudipay/wallet-service/internal/domain"
)

// ListEntriesHandler returns a page of the account's ledger history with
// optional kind and creation-date filters.
func (h *WalletHandlers) ListEntriesHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.parseAccountID(w, r)
	if !ok {
		return
	}

	limit, err := parseOptionalPositiveInt(r.URL.Query().Get("limit"), 0)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	offset, err := parseOptionalPositiveInt(r.URL.Query().Get("offset"), 0)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid offset")
		return
	}

	opts := domain.EntryListOptions{
		Kind:   domain.EntryKind(strings.TrimSpace(r.URL.Query().Get("kind"))),
		Limit:  limit,
		Offset: offset,
	}
	if opts.From, err = parseOptionalTime(r.URL.Query().Get("from")); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid from timestamp, expected RFC 3339")
		return
	}
	if opts.To, err = parseOptionalTime(r.URL.Query().Get("to")); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid to timestamp, expected RFC 3339")
		return
	}

	entries, err := h.service.ListEntries(r.Context(), accountID, opts)
	if err != nil {
		status, msg := mapLedgerError(err)
		if status == http.StatusInternalServerError {
			log.Printf("level=error component=api endpoint=list_entries outcome=failed account_id=%s err=%v", accountID, err)
		}
		h.writeError(w, status, msg)
		return
	}

	h.writeJSON(w, http.StatusOK, entries)
}

// AccountStatisticsHandler returns per-kind entry counts and amount sums.
func (h *WalletHandlers) AccountStatisticsHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.parseAccountID(w, r)
	if !ok {
		return
	}

	stats, err := h.service.AccountStatistics(r.Context(), accountID)
	if err != nil {
		status, msg := mapLedgerError(err)
		if status == http.StatusInternalServerError {
			log.Printf("level=error component=api endpoint=account_statistics outcome=failed account_id=%s err=%v", accountID, err)
		}
		h.writeError(w, status, msg)
		return
	}

	h.writeJSON(w, http.StatusOK, stats)
}

func parseOptionalPositiveInt(raw string, fallback int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(trimmed)
	if err != nil || value < 0 {
		if err == nil {
			err = strconv.ErrRange
		}
		return 0, err
	}
	return value, nil
}

func parseOptionalTime(raw string) (*time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
