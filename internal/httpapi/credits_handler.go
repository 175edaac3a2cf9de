package httpapi

import (
	"net/http"
	"strconv"

	"credit_pool/internal/middleware"
	"credit_pool/internal/models"
	"credit_pool/internal/utils"
)

const maxPageSize = 200

// handleBalance handles GET /v1/credits/balance
func (d *Dependencies) handleBalance(w http.ResponseWriter, r *http.Request) {
	principal, _ := middleware.GetPrincipal(r.Context())

	balance, err := d.Ledger.GetOrCreateBalance(r.Context(), principal.AccountID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, balance)
}

// handleTransactions handles GET /v1/credits/transactions
func (d *Dependencies) handleTransactions(w http.ResponseWriter, r *http.Request) {
	principal, _ := middleware.GetPrincipal(r.Context())

	filter, ok := parseTransactionFilter(w, r)
	if !ok {
		return
	}
	page, err := d.Ledger.History(r.Context(), principal.AccountID, filter)
	if err != nil {
		respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, page)
}

func parseTransactionFilter(w http.ResponseWriter, r *http.Request) (models.TransactionFilter, bool) {
	q := r.URL.Query()
	filter := models.TransactionFilter{Page: 1, PageSize: 50}

	if s := q.Get("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			utils.RespondWithError(w, http.StatusBadRequest, "page must be a positive integer")
			return filter, false
		}
		filter.Page = n
	}
	if s := q.Get("page_size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxPageSize {
			utils.RespondWithError(w, http.StatusBadRequest, "page_size must be between 1 and 200")
			return filter, false
		}
		filter.PageSize = n
	}
	if s := q.Get("kind"); s != "" {
		kind := models.TransactionKind(s)
		if !kind.IsValid() {
			utils.RespondWithError(w, http.StatusBadRequest, "unknown transaction kind")
			return filter, false
		}
		filter.Kind = &kind
	}
	return filter, true
}
