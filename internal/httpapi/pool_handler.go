package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"credit_pool/internal/auth"
	"credit_pool/internal/deposit"
	"credit_pool/internal/middleware"
	"credit_pool/internal/models"
	"credit_pool/internal/pool"
	"credit_pool/internal/storage"
	"credit_pool/internal/utils"
)

// SubmitDepositRequest is the body of POST /v1/pool/deposits
type SubmitDepositRequest struct {
	Provider             string         `json:"provider"`
	ModelFamily          string         `json:"model_family"`
	Credential           string         `json:"credential"`
	Endpoint             string         `json:"endpoint,omitempty"`
	ModelHint            string         `json:"model_hint,omitempty"`
	ClaimedQuota         models.Credits `json:"claimed_quota"`
	CostPerUnit          models.Credits `json:"cost_per_unit"`
	MaxRequestsPerMinute *int           `json:"max_requests_per_minute,omitempty"`
	ExpiresAt            *time.Time     `json:"expires_at,omitempty"`
	Tags                 []string       `json:"tags,omitempty"`
	Note                 string         `json:"note,omitempty"`
}

// SelectRequest is the body of POST /v1/pool/select
type SelectRequest struct {
	Provider      string         `json:"provider"`
	ModelFamily   string         `json:"model_family"`
	RequiredQuota models.Credits `json:"required_quota"`
	Fallback      bool           `json:"fallback"`
}

// usageTicketTTL bounds how long after selection a call may be reported.
const usageTicketTTL = 15 * time.Minute

// SelectResponse is the selection plus the ticket needed to report its usage.
type SelectResponse struct {
	*pool.Selection
	Ticket          string    `json:"ticket"`
	TicketExpiresAt time.Time `json:"ticket_expires_at"`
}

// UsageRequest is the body of POST /v1/pool/usage. On success the charge is
// priced from the model's pricing row and the same amount of quota is drawn
// from the resource. Ticket comes from POST /v1/pool/select; admins may omit
// it.
type UsageRequest struct {
	ResourceID uuid.UUID `json:"resource_id"`
	Ticket     string    `json:"ticket"`
	Model      string    `json:"model"`
	TokensIn   int       `json:"tokens_in"`
	TokensOut  int       `json:"tokens_out"`
	HasImage   bool      `json:"has_image"`
	Success    bool      `json:"success"`
	LatencyMS  int64     `json:"latency_ms"`
	Reason     string    `json:"reason,omitempty"`
}

// handlePoolStats handles GET /v1/pool/stats
func (d *Dependencies) handlePoolStats(w http.ResponseWriter, r *http.Request) {
	stats, err := d.Pool.Stats(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, stats)
}

// handleContributions handles GET /v1/pool/contributions
func (d *Dependencies) handleContributions(w http.ResponseWriter, r *http.Request) {
	principal, _ := middleware.GetPrincipal(r.Context())

	summary, err := d.Pool.Contributions(r.Context(), principal.AccountID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, summary)
}

// handleListDeposits handles GET /v1/pool/deposits. Admins may pass
// ?account=; everyone else sees their own deposits.
func (d *Dependencies) handleListDeposits(w http.ResponseWriter, r *http.Request) {
	principal, _ := middleware.GetPrincipal(r.Context())
	q := r.URL.Query()

	account := principal.AccountID
	if principal.IsAdmin && q.Get("account") != "" {
		account = q.Get("account")
	}
	filter := storage.DepositFilter{AccountID: &account, Limit: 100}

	if s := q.Get("status"); s != "" {
		status := models.DepositStatus(s)
		switch status {
		case models.DepositPending, models.DepositApproved, models.DepositRejected, models.DepositRefunded:
			filter.Status = &status
		default:
			utils.RespondWithError(w, http.StatusBadRequest, "unknown deposit status")
			return
		}
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxPageSize {
			utils.RespondWithError(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		filter.Limit = n
	}

	deposits, err := d.Pool.Deposits(r.Context(), filter)
	if err != nil {
		respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"deposits": deposits,
		"count":    len(deposits),
	})
}

// handleRoutingStats handles GET /v1/pool/routing-stats. ?since takes an
// RFC 3339 time and defaults to the last 24 hours.
func (d *Dependencies) handleRoutingStats(w http.ResponseWriter, r *http.Request) {
	since := time.Now().UTC().Add(-24 * time.Hour)
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		since = t
	}

	stats, err := d.Router.Stats(r.Context(), since)
	if err != nil {
		respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, stats)
}

// handleSubmitDeposit handles POST /v1/pool/deposits
func (d *Dependencies) handleSubmitDeposit(w http.ResponseWriter, r *http.Request) {
	principal, _ := middleware.GetPrincipal(r.Context())

	var req SubmitDepositRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	kind, err := models.ParseProviderKind(req.Provider)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := d.Deposits.Submit(r.Context(), deposit.SubmitRequest{
		AccountID:            principal.AccountID,
		Provider:             kind,
		ModelFamily:          req.ModelFamily,
		Credential:           req.Credential,
		Endpoint:             req.Endpoint,
		ModelHint:            req.ModelHint,
		ClaimedQuota:         req.ClaimedQuota,
		CostPerUnit:          req.CostPerUnit,
		MaxRequestsPerMinute: req.MaxRequestsPerMinute,
		ExpiresAt:            req.ExpiresAt,
		Tags:                 req.Tags,
		Note:                 req.Note,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, result)
}

// handleSelect handles POST /v1/pool/select
func (d *Dependencies) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req SelectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	kind, err := models.ParseProviderKind(req.Provider)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	sel := pool.SelectRequest{
		Provider:      kind,
		ModelFamily:   strings.TrimSpace(req.ModelFamily),
		RequiredQuota: req.RequiredQuota,
	}
	var selection *pool.Selection
	if req.Fallback {
		selection, err = d.Router.SelectWithFallback(r.Context(), sel)
	} else {
		selection, err = d.Router.Select(r.Context(), sel)
	}
	if err != nil {
		respondError(w, r, err)
		return
	}

	principal, _ := middleware.GetPrincipal(r.Context())
	ticket, exp, err := auth.SignUsageTicket(principal.AccountID, selection.Resource.ID, d.JWTSecret, usageTicketTTL)
	if err != nil {
		respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, SelectResponse{Selection: selection, Ticket: ticket, TicketExpiresAt: exp})
}

// handleRecordUsage handles POST /v1/pool/usage. The caller is the consumer
// being charged and must hold a ticket for the resource.
func (d *Dependencies) handleRecordUsage(w http.ResponseWriter, r *http.Request) {
	principal, _ := middleware.GetPrincipal(r.Context())

	var req UsageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ResourceID == uuid.Nil {
		utils.RespondWithError(w, http.StatusBadRequest, "resource_id is required")
		return
	}
	if req.TokensIn < 0 || req.TokensOut < 0 {
		utils.RespondWithError(w, http.StatusBadRequest, "token counts cannot be negative")
		return
	}
	if !principal.IsAdmin {
		if req.Ticket == "" {
			utils.RespondWithError(w, http.StatusForbidden, "ticket from pool selection is required")
			return
		}
		if err := auth.VerifyUsageTicket(req.Ticket, principal.AccountID, req.ResourceID, d.JWTSecret); err != nil {
			utils.RespondWithError(w, http.StatusForbidden, "invalid usage ticket")
			return
		}
	}

	var charge models.Credits
	if req.Success {
		if req.Model == "" {
			utils.RespondWithError(w, http.StatusBadRequest, "model is required for successful calls")
			return
		}
		pricing, err := d.Store.GetPricing(r.Context(), req.Model)
		if err != nil {
			respondError(w, r, err)
			return
		}
		charge = d.Ledger.CalculateCost(pricing, req.TokensIn, req.TokensOut, req.HasImage)
	}

	settlement, err := d.Router.RecordUsage(r.Context(), pool.UsageReport{
		ResourceID:    req.ResourceID,
		ConsumerID:    principal.AccountID,
		Model:         req.Model,
		TokensIn:      req.TokensIn,
		TokensOut:     req.TokensOut,
		QuotaConsumed: charge,
		Charge:        charge,
		Success:       req.Success,
		Latency:       time.Duration(req.LatencyMS) * time.Millisecond,
		Reason:        req.Reason,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, settlement)
}
