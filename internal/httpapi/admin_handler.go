package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"credit_pool/internal/ledger"
	"credit_pool/internal/models"
	"credit_pool/internal/pool"
	"credit_pool/internal/storage"
	"credit_pool/internal/utils"
)

// CreditGrantRequest is the body of the adjust and bonus endpoints
type CreditGrantRequest struct {
	AccountID   string         `json:"account_id"`
	Amount      models.Credits `json:"amount"`
	Description string         `json:"description"`
}

// RefundDepositRequest is the body of POST /v1/admin/deposits/{id}/refund
type RefundDepositRequest struct {
	Reason string `json:"reason"`
}

// RegisterResourceRequest is the body of POST /v1/admin/pool/resources
type RegisterResourceRequest struct {
	Provider             string         `json:"provider"`
	ModelFamily          string         `json:"model_family"`
	Credential           string         `json:"credential"`
	Endpoint             string         `json:"endpoint,omitempty"`
	Quota                models.Credits `json:"quota"`
	CostPerUnit          models.Credits `json:"cost_per_unit"`
	Priority             int            `json:"priority"`
	MaxRequestsPerMinute *int           `json:"max_requests_per_minute,omitempty"`
	ExpiresAt            *time.Time     `json:"expires_at,omitempty"`
	Tags                 []string       `json:"tags,omitempty"`
}

// VerifyResponse reports the outcome of a ledger verification
type VerifyResponse struct {
	AccountID  string `json:"account_id"`
	Consistent bool   `json:"consistent"`
	Detail     string `json:"detail,omitempty"`
}

// handleAdjust handles POST /v1/admin/credits/adjust. Amount may be negative.
func (d *Dependencies) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req CreditGrantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "description is required")
		return
	}

	txn, err := d.Ledger.Adjust(r.Context(), req.AccountID, req.Amount, req.Description)
	if err != nil {
		respondError(w, r, err)
		return
	}
	logger.Info("Balance adjusted", "account_id", req.AccountID, "amount", req.Amount.String())
	utils.RespondWithJSON(w, http.StatusCreated, txn)
}

// handleBonus handles POST /v1/admin/credits/bonus
func (d *Dependencies) handleBonus(w http.ResponseWriter, r *http.Request) {
	var req CreditGrantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Description == "" {
		req.Description = "Bonus credits"
	}

	txn, err := d.Ledger.Bonus(r.Context(), req.AccountID, req.Amount, req.Description)
	if err != nil {
		respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, txn)
}

// handleRefundDeposit handles POST /v1/admin/deposits/{id}/refund
func (d *Dependencies) handleRefundDeposit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req RefundDepositRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	dep, txn, err := d.Deposits.Refund(r.Context(), id, req.Reason)
	if err != nil {
		respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"deposit":     dep,
		"transaction": txn,
	})
}

// handleVerify handles POST /v1/admin/ledger/{account}/verify. A violation
// freezes the account and answers 409 with the mismatch.
func (d *Dependencies) handleVerify(w http.ResponseWriter, r *http.Request) {
	account := r.PathValue("account")

	err := d.Ledger.Verify(r.Context(), account)
	var violation *ledger.InvariantViolationError
	switch {
	case err == nil:
		utils.RespondWithJSON(w, http.StatusOK, VerifyResponse{AccountID: account, Consistent: true})
	case errors.As(err, &violation):
		utils.RespondWithJSON(w, http.StatusConflict, VerifyResponse{
			AccountID:  account,
			Consistent: false,
			Detail:     violation.Error(),
		})
	default:
		respondError(w, r, err)
	}
}

// handleUnfreeze handles POST /v1/admin/ledger/{account}/unfreeze
func (d *Dependencies) handleUnfreeze(w http.ResponseWriter, r *http.Request) {
	account := r.PathValue("account")
	if err := d.Ledger.Unfreeze(r.Context(), account); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRegisterResource handles POST /v1/admin/pool/resources
func (d *Dependencies) handleRegisterResource(w http.ResponseWriter, r *http.Request) {
	var req RegisterResourceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	kind, err := models.ParseProviderKind(req.Provider)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := d.Pool.Register(r.Context(), pool.RegisterRequest{
		Provider:             kind,
		ModelFamily:          req.ModelFamily,
		Credential:           req.Credential,
		Endpoint:             req.Endpoint,
		Quota:                req.Quota,
		CostPerUnit:          req.CostPerUnit,
		Priority:             req.Priority,
		MaxRequestsPerMinute: req.MaxRequestsPerMinute,
		ExpiresAt:            req.ExpiresAt,
		Tags:                 req.Tags,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, res)
}

// handleSuspend handles POST /v1/admin/pool/resources/{id}/suspend
func (d *Dependencies) handleSuspend(w http.ResponseWriter, r *http.Request) {
	d.resourceAction(w, r, d.Pool.Suspend)
}

// handleReactivate handles POST /v1/admin/pool/resources/{id}/reactivate
func (d *Dependencies) handleReactivate(w http.ResponseWriter, r *http.Request) {
	d.resourceAction(w, r, d.Pool.Reactivate)
}

// handleRevalidate handles POST /v1/admin/pool/resources/{id}/revalidate
func (d *Dependencies) handleRevalidate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	res, check, err := d.Pool.Revalidate(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"resource": res,
		"outcome":  check.Outcome,
		"detail":   check.Detail,
	})
}

func (d *Dependencies) resourceAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, id uuid.UUID) (*models.PooledResource, error)) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	res, err := action(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, res)
}

// handleExpire handles POST /v1/admin/pool/expire
func (d *Dependencies) handleExpire(w http.ResponseWriter, r *http.Request) {
	n, err := d.Pool.ExpireDue(r.Context(), time.Now().UTC())
	if err != nil {
		respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]int{"expired": n})
}

// handleDeadLetters handles GET /v1/admin/earnout/dead-letters
func (d *Dependencies) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	if d.EarnOut == nil {
		utils.RespondWithError(w, http.StatusNotFound, "earn-out worker not configured")
		return
	}
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			utils.RespondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	items, err := d.EarnOut.DeadLetters(r.Context(), limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}

// handleRetryDeadLetter handles POST /v1/admin/earnout/dead-letters/{id}/retry
func (d *Dependencies) handleRetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	if d.EarnOut == nil {
		utils.RespondWithError(w, http.StatusNotFound, "earn-out worker not configured")
		return
	}
	if err := d.EarnOut.RetryDeadLetter(r.Context(), r.PathValue("id")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// handleStorageStats handles GET /v1/admin/storage/stats
func (d *Dependencies) handleStorageStats(w http.ResponseWriter, r *http.Request) {
	m, ok := d.Store.(storage.Maintained)
	if !ok {
		utils.RespondWithError(w, http.StatusNotFound, "store does not report statistics")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, m.Stats())
}
